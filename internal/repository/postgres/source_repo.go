package postgres

import (
	"context"
	"time"

	"github.com/and161185/oaimirror/internal/errs"
	"github.com/and161185/oaimirror/internal/model"
)

// SourceRepo implements SourceRepository using PostgreSQL.
type SourceRepo struct{ db *DB }

// NewSourceRepo constructs a source repository.
func NewSourceRepo(db *DB) *SourceRepo { return &SourceRepo{db: db} }

// Ensure inserts the source or refreshes name, url and format of an existing one.
func (r *SourceRepo) Ensure(ctx context.Context, s *model.Source) error {
	const q = `
INSERT INTO sources (id, name, url, format, last_update)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, url=EXCLUDED.url, format=EXCLUDED.format`
	_, err := r.db.Pool.Exec(ctx, q, s.ID, s.Name, s.URL, s.Format, s.LastUpdate.UTC())
	return mapErr(err)
}

// Get selects a source by id.
func (r *SourceRepo) Get(ctx context.Context, id string) (*model.Source, error) {
	const q = `SELECT id, name, url, format, last_update FROM sources WHERE id=$1`
	var s model.Source
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&s.ID, &s.Name, &s.URL, &s.Format, &s.LastUpdate); err != nil {
		return nil, mapErr(err)
	}
	s.LastUpdate = s.LastUpdate.UTC()
	return &s, nil
}

// List returns every source ordered by id.
func (r *SourceRepo) List(ctx context.Context) ([]model.Source, error) {
	const q = `SELECT id, name, url, format, last_update FROM sources ORDER BY id`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Source
	for rows.Next() {
		var s model.Source
		if err := rows.Scan(&s.ID, &s.Name, &s.URL, &s.Format, &s.LastUpdate); err != nil {
			return nil, err
		}
		s.LastUpdate = s.LastUpdate.UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

// AdvanceWatermark sets last_update to `to` unless that would move it backwards.
func (r *SourceRepo) AdvanceWatermark(ctx context.Context, id string, to time.Time) error {
	const q = `UPDATE sources SET last_update=$2 WHERE id=$1 AND last_update <= $2`
	tag, err := r.db.Pool.Exec(ctx, q, id, to.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrWatermarkConflict
	}
	return nil
}
