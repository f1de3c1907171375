package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/and161185/oaimirror/internal/errs"
	"github.com/and161185/oaimirror/internal/model"
	"github.com/and161185/oaimirror/internal/repository"
)

const (
	createRetries = 3
	createBackoff = 10 * time.Millisecond
)

// SetCatalog resolves sets by (scope, name), creating them on first reference.
type SetCatalog struct {
	sets repository.SetRepository
}

// NewSetCatalog constructs a catalog over the set store.
func NewSetCatalog(sets repository.SetRepository) *SetCatalog {
	return &SetCatalog{sets: sets}
}

// GetOrCreate returns the set, creating it if absent. A uniqueness conflict
// with a concurrent creator is retried rather than reported.
func (c *SetCatalog) GetOrCreate(ctx context.Context, scope, name string) (*model.Set, bool, error) {
	if name == "" {
		return nil, false, errors.New("validation: empty set name")
	}
	type result struct {
		set     *model.Set
		created bool
	}
	b := retry.WithMaxRetries(createRetries, retry.NewConstant(createBackoff))
	res, err := retry.DoValue(ctx, b, func(ctx context.Context) (result, error) {
		s, created, err := c.sets.GetOrCreate(ctx, scope, name)
		if errors.Is(err, errs.ErrAlreadyExists) {
			return result{}, retry.RetryableError(err)
		}
		return result{set: s, created: created}, err
	})
	if err != nil {
		return nil, false, fmt.Errorf("set %q/%q: %w", scope, name, err)
	}
	return res.set, res.created, nil
}

// Describe overwrites the display name of a set.
func (c *SetCatalog) Describe(ctx context.Context, set *model.Set, displayName string) error {
	if err := c.sets.SetFullName(ctx, set.ID, displayName); err != nil {
		return fmt.Errorf("describe set %q: %w", set.Name, err)
	}
	set.FullName = displayName
	return nil
}

// List returns the sets of a scope.
func (c *SetCatalog) List(ctx context.Context, scope string) ([]model.Set, error) {
	return c.sets.ListByScope(ctx, scope)
}
