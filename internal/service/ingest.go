package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/oaimirror/internal/errs"
	"github.com/and161185/oaimirror/internal/extractor"
	"github.com/and161185/oaimirror/internal/fingerprint"
	"github.com/and161185/oaimirror/internal/model"
	"github.com/and161185/oaimirror/internal/repository"
)

// RecordIngester upserts harvested records together with their real and
// virtual set memberships and fingerprint.
type RecordIngester struct {
	records    repository.RecordRepository
	catalog    *SetCatalog
	extractors *extractor.Registry
	engine     *fingerprint.Engine
	readers    map[string]PaperReader
	log        *zap.Logger
}

// NewRecordIngester constructs an ingester. A nil engine disables fingerprinting.
func NewRecordIngester(
	records repository.RecordRepository,
	catalog *SetCatalog,
	extractors *extractor.Registry,
	engine *fingerprint.Engine,
	log *zap.Logger,
	readers ...PaperReader,
) *RecordIngester {
	if log == nil {
		log = zap.NewNop()
	}
	byFormat := make(map[string]PaperReader, len(readers))
	for _, r := range readers {
		byFormat[r.Format()] = r
	}
	return &RecordIngester{
		records:    records,
		catalog:    catalog,
		extractors: extractors,
		engine:     engine,
		readers:    byFormat,
		log:        log,
	}
}

// Ingest stores raw as a record of src in format. Everything derived from the
// document is computed before the first write, so a malformed record leaves
// no partial state behind.
func (i *RecordIngester) Ingest(ctx context.Context, src *model.Source, raw model.RawRecord, format *model.MetadataFormat) (*model.Record, error) {
	h := raw.Header
	id := strings.TrimSpace(h.Identifier)
	switch {
	case id == "":
		return nil, fmt.Errorf("%w: missing identifier", errs.ErrMalformedRecord)
	case h.Datestamp.IsZero():
		return nil, fmt.Errorf("%w: %s: missing datestamp", errs.ErrMalformedRecord, id)
	case !h.Deleted && len(raw.Metadata) == 0:
		return nil, fmt.Errorf("%w: %s: missing metadata", errs.ErrMalformedRecord, id)
	}

	rec := &model.Record{
		Identifier: id,
		Format:     format.Name,
		SourceID:   src.ID,
		Metadata:   raw.Metadata,
		Timestamp:  h.Datestamp.UTC(),
		Deleted:    h.Deleted,
	}

	var virtual []string
	if !h.Deleted {
		var err error
		if virtual, err = i.virtualSets(format.Name, raw.Metadata); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", errs.ErrMalformedRecord, id, err)
		}
		rec.Fingerprint = i.fingerprint(id, format.Name, raw.Metadata)
	}

	setIDs := make([]uuid.UUID, 0, len(h.SetSpecs)+len(virtual))
	seen := make(map[uuid.UUID]struct{}, cap(setIDs))
	attach := func(scope, name string) error {
		s, _, err := i.catalog.GetOrCreate(ctx, scope, name)
		if err != nil {
			return err
		}
		if _, dup := seen[s.ID]; !dup {
			seen[s.ID] = struct{}{}
			setIDs = append(setIDs, s.ID)
		}
		return nil
	}
	for _, spec := range h.SetSpecs {
		if err := attach(src.ID, spec); err != nil {
			return nil, err
		}
	}
	for _, name := range virtual {
		if err := attach(model.GlobalScope, name); err != nil {
			return nil, err
		}
	}

	created, err := i.records.Upsert(ctx, rec, setIDs)
	if err != nil {
		return nil, fmt.Errorf("upsert %s: %w", id, err)
	}
	i.log.Debug("record ingested",
		zap.String("identifier", id),
		zap.Bool("created", created),
		zap.Bool("deleted", rec.Deleted),
		zap.Int("sets", len(setIDs)))
	return rec, nil
}

// virtualSets runs every extractor registered for format and returns the
// union of their namespaced set names.
func (i *RecordIngester) virtualSets(format string, doc []byte) ([]string, error) {
	var out []string
	for _, ex := range i.extractors.ForFormat(format) {
		names, err := ex.Extract(doc)
		if err != nil {
			return nil, fmt.Errorf("extractor %s: %w", ex.SubsetTag(), err)
		}
		for _, n := range names {
			if n = strings.TrimSpace(n); n != "" {
				out = append(out, extractor.SetName(ex, n))
			}
		}
	}
	return out, nil
}

// fingerprint returns "" when the format has no reader or the paper facts are incomplete.
func (i *RecordIngester) fingerprint(id, format string, doc []byte) string {
	r, ok := i.readers[format]
	if !ok || i.engine == nil {
		return ""
	}
	p, err := r.ReadPaper(doc)
	if err == nil {
		var fp string
		if fp, err = i.engine.FingerprintPaper(p); err == nil {
			return fp
		}
	}
	if !errors.Is(err, errs.ErrFingerprintUnavailable) {
		i.log.Debug("fingerprint skipped", zap.String("identifier", id), zap.Error(err))
	}
	return ""
}
