package postgres

import (
	"context"
	"time"

	"github.com/and161185/oaimirror/internal/model"
)

// TokenRepo implements TokenRepository using PostgreSQL.
type TokenRepo struct{ db *DB }

// NewTokenRepo constructs a resumption token repository.
func NewTokenRepo(db *DB) *TokenRepo { return &TokenRepo{db: db} }

// Put stores a token. An already stored token keeps its original creation time.
func (r *TokenRepo) Put(ctx context.Context, t *model.ResumptionToken) error {
	const q = `
INSERT INTO resumption_tokens (token, source_id, request_key, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (token) DO NOTHING`
	_, err := r.db.Pool.Exec(ctx, q, t.Token, t.SourceID, t.RequestKey, t.CreatedAt.UTC())
	return mapErr(err)
}

// Latest returns the newest live token for (source, request key).
func (r *TokenRepo) Latest(ctx context.Context, sourceID, requestKey string, notBefore time.Time) (*model.ResumptionToken, error) {
	const q = `
SELECT token, source_id, request_key, created_at
FROM resumption_tokens
WHERE source_id=$1 AND request_key=$2 AND created_at >= $3
ORDER BY created_at DESC
LIMIT 1`
	var t model.ResumptionToken
	err := r.db.Pool.QueryRow(ctx, q, sourceID, requestKey, notBefore.UTC()).
		Scan(&t.Token, &t.SourceID, &t.RequestKey, &t.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}

// Delete removes a single token.
func (r *TokenRepo) Delete(ctx context.Context, token string) error {
	const q = `DELETE FROM resumption_tokens WHERE token=$1`
	_, err := r.db.Pool.Exec(ctx, q, token)
	return err
}

// DeleteRequest removes every token issued for (source, request key).
func (r *TokenRepo) DeleteRequest(ctx context.Context, sourceID, requestKey string) error {
	const q = `DELETE FROM resumption_tokens WHERE source_id=$1 AND request_key=$2`
	_, err := r.db.Pool.Exec(ctx, q, sourceID, requestKey)
	return err
}

// DeleteOlderThan removes tokens created before threshold.
func (r *TokenRepo) DeleteOlderThan(ctx context.Context, threshold time.Time) (int64, error) {
	const q = `DELETE FROM resumption_tokens WHERE created_at < $1`
	tag, err := r.db.Pool.Exec(ctx, q, threshold.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
