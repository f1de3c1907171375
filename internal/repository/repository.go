// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/oaimirror/internal/model"
)

// SourceRepository stores mirrored sources and their watermarks.
type SourceRepository interface {
	// Ensure inserts a configured source or refreshes its descriptive fields.
	// The watermark is only set on first insert.
	Ensure(ctx context.Context, s *model.Source) error
	// Get loads a source by id.
	Get(ctx context.Context, id string) (*model.Source, error)
	// List returns all sources ordered by id.
	List(ctx context.Context) ([]model.Source, error)
	// AdvanceWatermark moves last_update forward; it never moves it backwards.
	AdvanceWatermark(ctx context.Context, id string, to time.Time) error
}

// FormatRepository stores metadata formats by name.
type FormatRepository interface {
	// GetOrCreate returns the format with name, creating an empty one if absent.
	GetOrCreate(ctx context.Context, name string) (*model.MetadataFormat, bool, error)
	// Update overwrites schema and namespace.
	Update(ctx context.Context, f *model.MetadataFormat) error
}

// SetRepository stores sets keyed by (scope, name).
type SetRepository interface {
	// GetOrCreate atomically returns the set, creating it if absent.
	GetOrCreate(ctx context.Context, scope, name string) (*model.Set, bool, error)
	// SetFullName overwrites the display name.
	SetFullName(ctx context.Context, id uuid.UUID, fullName string) error
	// ListByScope returns the sets of a scope ordered by name.
	ListByScope(ctx context.Context, scope string) ([]model.Set, error)
}

// RecordRepository stores records keyed by (identifier, format).
type RecordRepository interface {
	// Upsert creates or overwrites the record and adds the given set memberships
	// in one transaction. It reports whether the record was created.
	Upsert(ctx context.Context, r *model.Record, setIDs []uuid.UUID) (bool, error)
	// Get loads a record with its memberships by natural key.
	Get(ctx context.Context, identifier, format string) (*model.Record, error)
	// ListByFingerprint returns all records sharing a fingerprint.
	ListByFingerprint(ctx context.Context, fingerprint string) ([]model.Record, error)
	// CountBySource returns the number of records harvested from a source.
	CountBySource(ctx context.Context, sourceID string) (int64, error)
}

// TokenRepository stores resumption tokens.
type TokenRepository interface {
	// Put stores a token; re-putting the same token refreshes nothing.
	Put(ctx context.Context, t *model.ResumptionToken) error
	// Latest returns the newest token for (source, request key) created at or after notBefore.
	Latest(ctx context.Context, sourceID, requestKey string, notBefore time.Time) (*model.ResumptionToken, error)
	// Delete removes a token; deleting a missing token is not an error.
	Delete(ctx context.Context, token string) error
	// DeleteRequest removes every token for (source, request key).
	DeleteRequest(ctx context.Context, sourceID, requestKey string) error
	// DeleteOlderThan removes tokens created strictly before threshold and returns the count.
	DeleteOlderThan(ctx context.Context, threshold time.Time) (int64, error)
}

// ErrorRepository is the operator-visible sink for contained harvest failures.
type ErrorRepository interface {
	// Add appends an error row.
	Add(ctx context.Context, e *model.HarvestError) error
	// ListBySource returns the latest errors of a source, newest first.
	ListBySource(ctx context.Context, sourceID string, limit int) ([]model.HarvestError, error)
}
