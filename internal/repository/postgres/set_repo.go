package postgres

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/oaimirror/internal/errs"
	"github.com/and161185/oaimirror/internal/model"
)

// SetRepo implements SetRepository using PostgreSQL.
type SetRepo struct{ db *DB }

// NewSetRepo constructs a set repository.
func NewSetRepo(db *DB) *SetRepo { return &SetRepo{db: db} }

// GetOrCreate inserts (scope, name) unless present and returns the stored row.
// The insert relies on the (scope, name) unique constraint, so concurrent
// callers converge on a single row.
func (r *SetRepo) GetOrCreate(ctx context.Context, scope, name string) (*model.Set, bool, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, false, err
	}
	const ins = `
INSERT INTO sets (id, scope, name) VALUES ($1, $2, $3)
ON CONFLICT (scope, name) DO NOTHING
RETURNING id, scope, name, full_name`
	var s model.Set
	err = r.db.Pool.QueryRow(ctx, ins, id, scope, name).Scan(&s.ID, &s.Scope, &s.Name, &s.FullName)
	switch mapErr(err) {
	case nil:
		return &s, true, nil
	case errs.ErrNotFound:
		// lost the race or already present
	default:
		return nil, false, mapErr(err)
	}

	const sel = `SELECT id, scope, name, full_name FROM sets WHERE scope=$1 AND name=$2`
	if err := r.db.Pool.QueryRow(ctx, sel, scope, name).Scan(&s.ID, &s.Scope, &s.Name, &s.FullName); err != nil {
		return nil, false, mapErr(err)
	}
	return &s, false, nil
}

// SetFullName overwrites the display name of a set.
func (r *SetRepo) SetFullName(ctx context.Context, id uuid.UUID, fullName string) error {
	const q = `UPDATE sets SET full_name=$2 WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id, fullName)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// ListByScope returns the sets of a scope ordered by name.
func (r *SetRepo) ListByScope(ctx context.Context, scope string) ([]model.Set, error) {
	const q = `SELECT id, scope, name, full_name FROM sets WHERE scope=$1 ORDER BY name`
	rows, err := r.db.Pool.Query(ctx, q, scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Set
	for rows.Next() {
		var s model.Set
		if err := rows.Scan(&s.ID, &s.Scope, &s.Name, &s.FullName); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
