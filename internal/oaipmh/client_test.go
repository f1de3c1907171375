package oaipmh

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/and161185/oaimirror/internal/errs"
)

const recordsPage = `<?xml version="1.0" encoding="UTF-8"?>
<OAI-PMH xmlns="http://www.openarchives.org/OAI/2.0/">
  <responseDate>2024-01-01T00:00:00Z</responseDate>
  <ListRecords>
    <record>
      <header>
        <identifier>oai:example.org:1</identifier>
        <datestamp>2024-01-02</datestamp>
        <setSpec>physics</setSpec>
        <setSpec>math</setSpec>
      </header>
      <metadata><oai_dc:dc xmlns:oai_dc="http://www.openarchives.org/OAI/2.0/oai_dc/"><dc:title xmlns:dc="http://purl.org/dc/elements/1.1/">Preface</dc:title></oai_dc:dc></metadata>
    </record>
    <record>
      <header status="deleted">
        <identifier>oai:example.org:2</identifier>
        <datestamp>2024-01-03T10:00:00Z</datestamp>
      </header>
    </record>
    <resumptionToken cursor="0" completeListSize="3"> tok-1 </resumptionToken>
  </ListRecords>
</OAI-PMH>`

const lastPage = `<OAI-PMH><ListRecords>
  <record><header><identifier>oai:example.org:3</identifier><datestamp>2024-01-04</datestamp></header><metadata><x/></metadata></record>
  <resumptionToken/>
</ListRecords></OAI-PMH>`

func oaiError(code string) string {
	return `<OAI-PMH><error code="` + code + `">details</error></OAI-PMH>`
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, WithRate(0), WithGranularity(granularityDay))
}

func TestListRecords_PageAndToken(t *testing.T) {
	t.Parallel()

	var (
		mu  sync.Mutex
		got []string
	)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		got = append(got, r.URL.RawQuery)
		mu.Unlock()
		if r.URL.Query().Get("resumptionToken") == "tok-1" {
			_, _ = w.Write([]byte(lastPage))
			return
		}
		_, _ = w.Write([]byte(recordsPage))
	})

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	page, err := c.ListRecords(context.Background(), "oai_dc", from, from.Add(24*time.Hour), "")
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	require.Equal(t, "tok-1", page.Token)

	first := page.Records[0]
	require.Equal(t, "oai:example.org:1", first.Header.Identifier)
	require.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), first.Header.Datestamp)
	require.Equal(t, []string{"physics", "math"}, first.Header.SetSpecs)
	require.Contains(t, string(first.Metadata), "Preface")
	require.False(t, first.Header.Deleted)

	second := page.Records[1]
	require.True(t, second.Header.Deleted)
	require.Nil(t, second.Metadata)
	require.Equal(t, time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC), second.Header.Datestamp)

	page, err = c.ListRecords(context.Background(), "oai_dc", time.Time{}, time.Time{}, "tok-1")
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	require.Empty(t, page.Token)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	require.Contains(t, got[0], "from=2024-01-01")
	require.Contains(t, got[0], "until=2024-01-02")
	require.Contains(t, got[0], "metadataPrefix=oai_dc")
	require.NotContains(t, got[1], "metadataPrefix")
}

func TestListRecords_ProtocolErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code string
		want error
	}{
		{code: "noRecordsMatch", want: errs.ErrNoRecordsMatch},
		{code: "badResumptionToken", want: errs.ErrBadResumptionToken},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(oaiError(tt.code)))
			})
			_, err := c.ListRecords(context.Background(), "oai_dc", time.Now(), time.Now(), "")
			require.ErrorIs(t, err, tt.want)

			oe, ok := asOAIError(err)
			require.True(t, ok)
			require.Equal(t, tt.code, oe.Code)
		})
	}
}

func TestListRecords_UnavailableIsTransient(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := c.ListRecords(context.Background(), "oai_dc", time.Now(), time.Now(), "")
	require.ErrorIs(t, err, errs.ErrTransient)

	var he *HTTPError
	require.ErrorAs(t, err, &he)
	require.Equal(t, 7*time.Second, he.RetryAfter)

	var d interface{ Delay() time.Duration }
	require.ErrorAs(t, err, &d)
	require.Equal(t, 7*time.Second, d.Delay())
}

func TestListRecords_GarbageIsTransient(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><body>oops"))
	})
	_, err := c.ListRecords(context.Background(), "oai_dc", time.Now(), time.Now(), "")
	require.ErrorIs(t, err, errs.ErrTransient)
}

func TestListSets_NoSetHierarchy(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(oaiError("noSetHierarchy")))
	})
	page, err := c.ListSets(context.Background(), "")
	require.NoError(t, err)
	require.Empty(t, page.Sets)
	require.Empty(t, page.Token)
}

func TestListSets(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<OAI-PMH><ListSets>
			<set><setSpec>physics</setSpec><setName>Physics</setName></set>
			<set><setSpec>math</setSpec><setName> Mathematics </setName></set>
			<resumptionToken>s-2</resumptionToken>
		</ListSets></OAI-PMH>`))
	})
	page, err := c.ListSets(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, page.Sets, 2)
	require.Equal(t, "Mathematics", page.Sets[1].Name)
	require.Equal(t, "s-2", page.Token)
}

func TestListMetadataFormats(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<OAI-PMH><ListMetadataFormats>
			<metadataFormat>
				<metadataPrefix>oai_dc</metadataPrefix>
				<schema>http://www.openarchives.org/OAI/2.0/oai_dc.xsd</schema>
				<metadataNamespace>http://www.openarchives.org/OAI/2.0/oai_dc/</metadataNamespace>
			</metadataFormat>
		</ListMetadataFormats></OAI-PMH>`))
	})
	page, err := c.ListMetadataFormats(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, page.Formats, 1)
	require.Equal(t, "oai_dc", page.Formats[0].Name)
	require.Equal(t, "http://www.openarchives.org/OAI/2.0/oai_dc/", page.Formats[0].Namespace)
}

func TestDateLayout_UsesIdentifyOnce(t *testing.T) {
	t.Parallel()

	var (
		mu         sync.Mutex
		identifies int
		froms      []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if r.URL.Query().Get("verb") == "Identify" {
			identifies++
			_, _ = w.Write([]byte(`<OAI-PMH><Identify><granularity>YYYY-MM-DDThh:mm:ssZ</granularity></Identify></OAI-PMH>`))
			return
		}
		froms = append(froms, r.URL.Query().Get("from"))
		_, _ = w.Write([]byte(oaiError("noRecordsMatch")))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, WithRate(0))
	from := time.Date(2024, 1, 1, 6, 30, 0, 0, time.UTC)
	for range 2 {
		_, err := c.ListRecords(context.Background(), "oai_dc", from, from.Add(time.Hour), "")
		require.ErrorIs(t, err, errs.ErrNoRecordsMatch)
	}
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, identifies)
	require.Equal(t, []string{"2024-01-01T06:30:00Z", "2024-01-01T06:30:00Z"}, froms)
}

func TestListRecords_ContextCanceled(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(lastPage))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.ListRecords(ctx, "oai_dc", time.Now(), time.Now(), "")
	require.ErrorIs(t, err, context.Canceled)
}
