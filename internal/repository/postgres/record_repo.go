package postgres

import (
	"context"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/oaimirror/internal/model"
)

// RecordRepo implements RecordRepository using PostgreSQL.
type RecordRepo struct{ db *DB }

// NewRecordRepo constructs a record repository.
func NewRecordRepo(db *DB) *RecordRepo { return &RecordRepo{db: db} }

// Upsert inserts the record or overwrites metadata, timestamp, deleted flag and
// fingerprint of the existing (identifier, format) row, then adds memberships.
// The source of an existing record is kept.
func (r *RecordRepo) Upsert(ctx context.Context, rec *model.Record, setIDs []uuid.UUID) (created bool, err error) {
	if rec.ID == uuid.Nil {
		if rec.ID, err = uuid.NewV4(); err != nil {
			return false, err
		}
	}
	const ups = `
INSERT INTO records (id, identifier, format, source_id, metadata, timestamp, deleted, fingerprint)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (identifier, format) DO UPDATE
SET metadata=EXCLUDED.metadata, timestamp=EXCLUDED.timestamp, deleted=EXCLUDED.deleted, fingerprint=EXCLUDED.fingerprint
RETURNING id, source_id, (xmax = 0)`
	const link = `INSERT INTO record_sets (record_id, set_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`

	err = r.db.inTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, ups,
			rec.ID, rec.Identifier, rec.Format, rec.SourceID, rec.Metadata,
			rec.Timestamp.UTC(), rec.Deleted, nullString(rec.Fingerprint))
		if err := row.Scan(&rec.ID, &rec.SourceID, &created); err != nil {
			return err
		}
		for _, id := range setIDs {
			if _, err := tx.Exec(ctx, link, rec.ID, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, mapErr(err)
	}
	rec.SetIDs = setIDs
	return created, nil
}

// Get loads a record and its set memberships by natural key.
func (r *RecordRepo) Get(ctx context.Context, identifier, format string) (*model.Record, error) {
	const q = `
SELECT id, identifier, format, source_id, metadata, timestamp, deleted, fingerprint
FROM records WHERE identifier=$1 AND format=$2`
	var (
		rec model.Record
		fp  *string
	)
	err := r.db.Pool.QueryRow(ctx, q, identifier, format).Scan(
		&rec.ID, &rec.Identifier, &rec.Format, &rec.SourceID, &rec.Metadata, &rec.Timestamp, &rec.Deleted, &fp)
	if err != nil {
		return nil, mapErr(err)
	}
	rec.Timestamp = rec.Timestamp.UTC()
	if fp != nil {
		rec.Fingerprint = *fp
	}

	const sets = `SELECT set_id FROM record_sets WHERE record_id=$1 ORDER BY set_id`
	rows, err := r.db.Pool.Query(ctx, sets, rec.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		rec.SetIDs = append(rec.SetIDs, id)
	}
	return &rec, rows.Err()
}

// ListByFingerprint returns the records of a duplicate group without their metadata.
func (r *RecordRepo) ListByFingerprint(ctx context.Context, fingerprint string) ([]model.Record, error) {
	const q = `
SELECT id, identifier, format, source_id, timestamp, deleted
FROM records WHERE fingerprint=$1 ORDER BY source_id, identifier`
	rows, err := r.db.Pool.Query(ctx, q, fingerprint)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		rec := model.Record{Fingerprint: fingerprint}
		if err := rows.Scan(&rec.ID, &rec.Identifier, &rec.Format, &rec.SourceID, &rec.Timestamp, &rec.Deleted); err != nil {
			return nil, err
		}
		rec.Timestamp = rec.Timestamp.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountBySource returns the number of records of a source.
func (r *RecordRepo) CountBySource(ctx context.Context, sourceID string) (int64, error) {
	const q = `SELECT COUNT(*) FROM records WHERE source_id=$1`
	var n int64
	if err := r.db.Pool.QueryRow(ctx, q, sourceID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
