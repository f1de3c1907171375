package postgres

import (
	"context"

	"github.com/and161185/oaimirror/internal/errs"
	"github.com/and161185/oaimirror/internal/model"
)

// FormatRepo implements FormatRepository using PostgreSQL.
type FormatRepo struct{ db *DB }

// NewFormatRepo constructs a format repository.
func NewFormatRepo(db *DB) *FormatRepo { return &FormatRepo{db: db} }

// GetOrCreate returns the named format, inserting it when absent.
func (r *FormatRepo) GetOrCreate(ctx context.Context, name string) (*model.MetadataFormat, bool, error) {
	const ins = `INSERT INTO formats (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`
	tag, err := r.db.Pool.Exec(ctx, ins, name)
	if err != nil {
		return nil, false, mapErr(err)
	}
	const sel = `SELECT name, schema, namespace FROM formats WHERE name=$1`
	var f model.MetadataFormat
	if err := r.db.Pool.QueryRow(ctx, sel, name).Scan(&f.Name, &f.Schema, &f.Namespace); err != nil {
		return nil, false, mapErr(err)
	}
	return &f, tag.RowsAffected() == 1, nil
}

// Update overwrites schema and namespace of an existing format.
func (r *FormatRepo) Update(ctx context.Context, f *model.MetadataFormat) error {
	const q = `UPDATE formats SET schema=$2, namespace=$3 WHERE name=$1`
	tag, err := r.db.Pool.Exec(ctx, q, f.Name, f.Schema, f.Namespace)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
