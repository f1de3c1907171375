package service

import (
	"context"
	"errors"
	"time"

	"github.com/and161185/oaimirror/internal/errs"
	"github.com/and161185/oaimirror/internal/model"
	"github.com/and161185/oaimirror/internal/repository"
)

// TokenCache persists resumption tokens so an interrupted listing resumes
// after a restart. Tokens older than the validity window are never handed out.
type TokenCache struct {
	repo     repository.TokenRepository
	validity time.Duration
	now      func() time.Time
}

// NewTokenCache constructs a cache with the given validity window.
func NewTokenCache(repo repository.TokenRepository, validity time.Duration) *TokenCache {
	if validity <= 0 {
		validity = DefaultTokenValidity
	}
	return &TokenCache{repo: repo, validity: validity, now: time.Now}
}

// Put stores a token issued for (source, request key).
func (c *TokenCache) Put(ctx context.Context, sourceID, requestKey, token string, createdAt time.Time) error {
	return c.repo.Put(ctx, &model.ResumptionToken{
		Token:      token,
		SourceID:   sourceID,
		RequestKey: requestKey,
		CreatedAt:  createdAt.UTC(),
	})
}

// Resume returns the newest live token for (source, request key), or "".
func (c *TokenCache) Resume(ctx context.Context, sourceID, requestKey string) (string, error) {
	t, err := c.repo.Latest(ctx, sourceID, requestKey, c.threshold())
	if errors.Is(err, errs.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return t.Token, nil
}

// Consume deletes a token that has been redeemed.
func (c *TokenCache) Consume(ctx context.Context, token string) error {
	return c.repo.Delete(ctx, token)
}

// Discard drops every token of (source, request key), e.g. once the listing is exhausted.
func (c *TokenCache) Discard(ctx context.Context, sourceID, requestKey string) error {
	return c.repo.DeleteRequest(ctx, sourceID, requestKey)
}

// ExpireOlderThan deletes tokens created before threshold.
func (c *TokenCache) ExpireOlderThan(ctx context.Context, threshold time.Time) (int64, error) {
	return c.repo.DeleteOlderThan(ctx, threshold.UTC())
}

// Cleanup deletes every token outside the validity window. Running it
// repeatedly is safe.
func (c *TokenCache) Cleanup(ctx context.Context) (int64, error) {
	return c.ExpireOlderThan(ctx, c.threshold())
}

func (c *TokenCache) threshold() time.Time {
	return c.now().UTC().Add(-c.validity)
}
