package postgres

import (
	"context"

	"github.com/and161185/oaimirror/internal/model"
)

// ErrorRepo implements ErrorRepository using PostgreSQL.
type ErrorRepo struct{ db *DB }

// NewErrorRepo constructs a harvest error repository.
func NewErrorRepo(db *DB) *ErrorRepo { return &ErrorRepo{db: db} }

// Add appends an error row and fills its id and creation time.
func (r *ErrorRepo) Add(ctx context.Context, e *model.HarvestError) error {
	const q = `
INSERT INTO harvest_errors (source_id, identifier, text)
VALUES ($1, $2, $3)
RETURNING id, created_at`
	if err := r.db.Pool.QueryRow(ctx, q, e.SourceID, e.Identifier, e.Text).Scan(&e.ID, &e.CreatedAt); err != nil {
		return mapErr(err)
	}
	return nil
}

// ListBySource returns up to limit errors of a source, newest first.
func (r *ErrorRepo) ListBySource(ctx context.Context, sourceID string, limit int) ([]model.HarvestError, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT id, source_id, identifier, text, created_at
FROM harvest_errors WHERE source_id=$1
ORDER BY created_at DESC, id DESC
LIMIT $2`
	rows, err := r.db.Pool.Query(ctx, q, sourceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.HarvestError
	for rows.Next() {
		var e model.HarvestError
		if err := rows.Scan(&e.ID, &e.SourceID, &e.Identifier, &e.Text, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
