package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/oaimirror/internal/crypto"
	"github.com/and161185/oaimirror/internal/errs"
	"github.com/and161185/oaimirror/internal/extractor"
	"github.com/and161185/oaimirror/internal/fingerprint"
	"github.com/and161185/oaimirror/internal/model"
	"github.com/and161185/oaimirror/internal/oaidc"
)

const prefaceDC = `<oai_dc:dc xmlns:oai_dc="http://www.openarchives.org/OAI/2.0/oai_dc/" xmlns:dc="http://purl.org/dc/elements/1.1/">
  <dc:title>Preface</dc:title>
  <dc:creator>Smith, John</dc:creator>
  <dc:date>1990-01-01</dc:date>
  <dc:type>Article</dc:type>
  <dc:language>en</dc:language>
</oai_dc:dc>`

const undatedDC = `<oai_dc:dc xmlns:oai_dc="http://www.openarchives.org/OAI/2.0/oai_dc/" xmlns:dc="http://purl.org/dc/elements/1.1/">
  <dc:title>Preface</dc:title>
  <dc:creator>Smith, John</dc:creator>
</oai_dc:dc>`

type stubExtractor struct {
	format, tag string
	names       []string
	err         error
}

func (s stubExtractor) Format() string                   { return s.format }
func (s stubExtractor) SubsetTag() string                { return s.tag }
func (s stubExtractor) Extract([]byte) ([]string, error) { return s.names, s.err }

type ingestFixture struct {
	records  *fakeRecordRepo
	sets     *fakeSetRepo
	ingester *RecordIngester
}

func newIngestFixture(t *testing.T, ex ...extractor.VirtualSetExtractor) *ingestFixture {
	t.Helper()
	f := &ingestFixture{records: newFakeRecords(), sets: newFakeSets()}
	f.ingester = NewRecordIngester(
		f.records,
		NewSetCatalog(f.sets),
		extractor.NewRegistry(ex...),
		fingerprint.New(nil),
		zaptest.NewLogger(t),
		oaidc.Reader{},
	)
	return f
}

var (
	arxiv = &model.Source{ID: "arxiv", URL: "http://export.arxiv.org/oai2", Format: "oai_dc"}
	hal   = &model.Source{ID: "hal", URL: "https://api.archives-ouvertes.fr/oai/hal", Format: "oai_dc"}
	dc    = &model.MetadataFormat{Name: "oai_dc"}
)

func rawRecord(id string, ts time.Time, doc string, sets ...string) model.RawRecord {
	return model.RawRecord{
		Header:   model.RecordHeader{Identifier: id, Datestamp: ts, SetSpecs: sets},
		Metadata: []byte(doc),
	}
}

func (f *ingestFixture) setNames(t *testing.T, ids []uuid.UUID) map[string]string {
	t.Helper()
	out := map[string]string{}
	for _, id := range ids {
		s, ok := f.sets.byID(id)
		require.True(t, ok)
		out[s.Name] = s.Scope
	}
	return out
}

func TestIngest_SameKeyTwiceKeepsOneRecordWithLatestPayload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newIngestFixture(t)
	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := f.ingester.Ingest(ctx, arxiv, rawRecord("oai:1", t1, prefaceDC), dc)
	require.NoError(t, err)
	_, err = f.ingester.Ingest(ctx, arxiv, rawRecord("oai:1", t1.Add(time.Hour), undatedDC), dc)
	require.NoError(t, err)

	require.Equal(t, 1, f.records.len())
	got, err := f.records.Get(ctx, "oai:1", "oai_dc")
	require.NoError(t, err)
	require.Equal(t, undatedDC, string(got.Metadata))
	require.Equal(t, t1.Add(time.Hour), got.Timestamp)
	require.Empty(t, got.Fingerprint)
}

func TestIngest_RealSetsScopedToSource(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newIngestFixture(t)
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	rec, err := f.ingester.Ingest(ctx, arxiv, rawRecord("oai:1", ts, prefaceDC, "physics", "physics", "math"), dc)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"physics": "arxiv", "math": "arxiv"}, f.setNames(t, rec.SetIDs))

	rec2, err := f.ingester.Ingest(ctx, hal, rawRecord("oai:2", ts, prefaceDC, "physics"), dc)
	require.NoError(t, err)
	require.NotEqual(t, rec.SetIDs[0], rec2.SetIDs[0])
}

func TestIngest_TwoExtractorsUnionGlobalSets(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newIngestFixture(t,
		stubExtractor{format: "oai_dc", tag: "subject", names: []string{"physics", " "}},
		stubExtractor{format: "oai_dc", tag: "kind", names: []string{"preprint"}},
		stubExtractor{format: "marc21", tag: "ignored", names: []string{"x"}},
	)
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	a, err := f.ingester.Ingest(ctx, arxiv, rawRecord("oai:1", ts, prefaceDC), dc)
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"subject:physics": model.GlobalScope,
		"kind:preprint":   model.GlobalScope,
	}, f.setNames(t, a.SetIDs))

	b, err := f.ingester.Ingest(ctx, hal, rawRecord("oai:2", ts, prefaceDC), dc)
	require.NoError(t, err)
	require.ElementsMatch(t, a.SetIDs, b.SetIDs, "virtual sets are shared across sources")
}

func TestIngest_BuiltinExtractors(t *testing.T) {
	t.Parallel()
	reg, err := extractor.FromTags([]string{extractor.TagType, extractor.TagYear})
	require.NoError(t, err)
	f := &ingestFixture{records: newFakeRecords(), sets: newFakeSets()}
	f.ingester = NewRecordIngester(f.records, NewSetCatalog(f.sets), reg, nil, nil)

	rec, err := f.ingester.Ingest(context.Background(), arxiv,
		rawRecord("oai:1", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), prefaceDC), dc)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"type:article": "", "year:1990": ""}, f.setNames(t, rec.SetIDs))
	require.Empty(t, rec.Fingerprint)
}

func TestIngest_Fingerprint(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newIngestFixture(t)
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	a, err := f.ingester.Ingest(ctx, arxiv, rawRecord("oai:1", ts, prefaceDC), dc)
	require.NoError(t, err)
	require.Equal(t, crypto.MD5Hex("preface-1990/smith"), a.Fingerprint)

	b, err := f.ingester.Ingest(ctx, hal, rawRecord("hal:9", ts, prefaceDC), dc)
	require.NoError(t, err)
	dups, err := f.records.ListByFingerprint(ctx, a.Fingerprint)
	require.NoError(t, err)
	require.Len(t, dups, 2)
	require.Equal(t, a.Fingerprint, b.Fingerprint)

	c, err := f.ingester.Ingest(ctx, arxiv, rawRecord("oai:3", ts, undatedDC), dc)
	require.NoError(t, err)
	require.Empty(t, c.Fingerprint, "missing year skips fingerprinting")
}

func TestIngest_DeletedRecord(t *testing.T) {
	t.Parallel()
	f := newIngestFixture(t, stubExtractor{format: "oai_dc", tag: "kind", names: []string{"preprint"}})
	raw := model.RawRecord{Header: model.RecordHeader{
		Identifier: "oai:1",
		Datestamp:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		SetSpecs:   []string{"physics"},
		Deleted:    true,
	}}

	rec, err := f.ingester.Ingest(context.Background(), arxiv, raw, dc)
	require.NoError(t, err)
	require.True(t, rec.Deleted)
	require.Empty(t, rec.Fingerprint)
	require.Equal(t, map[string]string{"physics": "arxiv"}, f.setNames(t, rec.SetIDs))
}

func TestIngest_Malformed(t *testing.T) {
	t.Parallel()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		raw  model.RawRecord
		ex   []extractor.VirtualSetExtractor
	}{
		{name: "missing identifier", raw: rawRecord("  ", ts, prefaceDC)},
		{name: "missing datestamp", raw: rawRecord("oai:1", time.Time{}, prefaceDC)},
		{name: "missing metadata", raw: rawRecord("oai:1", ts, "")},
		{
			name: "extractor fails",
			raw:  rawRecord("oai:1", ts, prefaceDC, "physics"),
			ex:   []extractor.VirtualSetExtractor{stubExtractor{format: "oai_dc", tag: "kind", err: errors.New("boom")}},
		},
		{
			name: "unparseable document",
			raw:  rawRecord("oai:1", ts, "<dc><title>", "physics"),
			ex:   []extractor.VirtualSetExtractor{mustBuiltin(t, extractor.TagType)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newIngestFixture(t, tt.ex...)
			_, err := f.ingester.Ingest(context.Background(), arxiv, tt.raw, dc)
			require.ErrorIs(t, err, errs.ErrMalformedRecord)
			require.Zero(t, f.records.len())
			require.Zero(t, f.sets.calls, "no partial set creation")
		})
	}
}

func mustBuiltin(t *testing.T, tag string) extractor.VirtualSetExtractor {
	t.Helper()
	ex, err := extractor.Builtin(tag)
	require.NoError(t, err)
	return ex
}
