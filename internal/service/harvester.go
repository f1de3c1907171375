package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/and161185/oaimirror/internal/errs"
	"github.com/and161185/oaimirror/internal/limiter"
	"github.com/and161185/oaimirror/internal/model"
	"github.com/and161185/oaimirror/internal/repository"
)

// Harvester runs synchronization passes against remote sources.
type Harvester struct {
	sources  repository.SourceRepository
	formats  repository.FormatRepository
	failures repository.ErrorRepository
	catalog  *SetCatalog
	tokens   *TokenCache
	ingester *RecordIngester
	dial     Dialer
	lim      limiter.Limiter
	cfg      Config
	log      *zap.Logger
	now      func() time.Time
}

// HarvesterDeps groups the collaborators of a Harvester.
type HarvesterDeps struct {
	Sources  repository.SourceRepository
	Formats  repository.FormatRepository
	Errors   repository.ErrorRepository
	Catalog  *SetCatalog
	Tokens   *TokenCache
	Ingester *RecordIngester
	Dial     Dialer
	Limiter  limiter.Limiter // optional
}

// NewHarvester constructs a Harvester.
func NewHarvester(d HarvesterDeps, cfg Config, log *zap.Logger) *Harvester {
	if log == nil {
		log = zap.NewNop()
	}
	lim := d.Limiter
	if lim == nil {
		lim = limiter.Nop{}
	}
	return &Harvester{
		sources:  d.Sources,
		formats:  d.Formats,
		failures: d.Errors,
		catalog:  d.Catalog,
		tokens:   d.Tokens,
		ingester: d.Ingester,
		dial:     d.Dial,
		lim:      lim,
		cfg:      cfg.withDefaults(),
		log:      log,
		now:      time.Now,
	}
}

// Synchronize harvests src window by window from its watermark up to now.
// The watermark is persisted after every completed window; a failed or
// cancelled window leaves it untouched.
func (h *Harvester) Synchronize(ctx context.Context, sourceID string) (*model.SyncResult, error) {
	src, err := h.admit(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	runID, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	log := h.log.With(zap.String("source", src.ID), zap.Stringer("run", runID))
	res := &model.SyncResult{RunID: runID, SourceID: src.ID, LastUpdate: src.LastUpdate.UTC()}

	err = h.synchronize(ctx, log, src, res)
	h.settle(ctx, log, src.ID, err)
	if err != nil {
		return res, err
	}
	log.Info("synchronized",
		zap.Int("windows", res.Windows),
		zap.Int("records", res.Records),
		zap.Int("failed", res.Failed),
		zap.Time("last_update", res.LastUpdate))
	return res, nil
}

func (h *Harvester) synchronize(ctx context.Context, log *zap.Logger, src *model.Source, res *model.SyncResult) error {
	format, err := h.format(ctx, src)
	if err != nil {
		return err
	}
	remote := h.dial(src)
	now := h.now().UTC()
	cp := &checkpoint{}

	for start := src.LastUpdate.UTC(); !start.After(now); start = start.Add(h.cfg.Chunk) {
		until := start.Add(h.cfg.Chunk)
		if until.After(now) {
			until = now
		}
		if err := cp.begin(start, until); err != nil {
			return err
		}
		wlog := log.With(zap.Time("from", start), zap.Time("until", until))
		wlog.Debug("window started")

		stats, err := h.harvestWindow(ctx, wlog, src, remote, format, start, until)
		if err != nil {
			return fmt.Errorf("window %s..%s: %w", start.Format(time.RFC3339), until.Format(time.RFC3339), err)
		}
		res.Records += stats.ok
		res.Failed += stats.failed

		if err := cp.accounted(); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h.sources.AdvanceWatermark(ctx, src.ID, until); err != nil {
			return fmt.Errorf("advance watermark: %w", err)
		}
		cp.done()
		res.Windows++
		res.LastUpdate = until
		wlog.Debug("window completed", zap.Int("records", stats.ok), zap.Int("failed", stats.failed))
	}
	return nil
}

type windowStats struct {
	mu     sync.Mutex
	ok     int
	failed int
}

func (s *windowStats) add(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ok {
		s.ok++
	} else {
		s.failed++
	}
}

// harvestWindow lists and ingests every record of [from, until). It returns
// an error only when some record could not be accounted for.
func (h *Harvester) harvestWindow(
	ctx context.Context,
	log *zap.Logger,
	src *model.Source,
	remote Remote,
	format *model.MetadataFormat,
	from, until time.Time,
) (*windowStats, error) {
	stats := &windowStats{}
	key := recordsKey(format.Name, from, until)
	fetch := func(ctx context.Context, token string) (*model.RecordPage, string, error) {
		p, err := remote.ListRecords(ctx, format.Name, from, until, token)
		if err != nil {
			return nil, "", err
		}
		return p, p.Token, nil
	}
	err := paginate(ctx, h, log, src.ID, key, fetch, func(p *model.RecordPage) error {
		return h.ingestPage(ctx, log, src, format, p.Records, stats)
	})
	return stats, err
}

// ingestPage fans records out to the worker pool. Per-record failures are
// written to the error sink and counted; only context cancellation or a
// failure to record a failure aborts the page.
func (h *Harvester) ingestPage(
	ctx context.Context,
	log *zap.Logger,
	src *model.Source,
	format *model.MetadataFormat,
	records []model.RawRecord,
	stats *windowStats,
) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.cfg.Workers)
	for _, raw := range records {
		g.Go(func() error {
			_, err := h.ingester.Ingest(gctx, src, raw, format)
			if err == nil {
				stats.add(true)
				return nil
			}
			if gctx.Err() != nil {
				return gctx.Err()
			}
			stats.add(false)
			log.Warn("record failed", zap.String("identifier", raw.Header.Identifier), zap.Error(err))
			return h.report(gctx, src.ID, raw.Header.Identifier, err)
		})
	}
	return g.Wait()
}

// report writes a contained failure to the operator-visible sink.
func (h *Harvester) report(ctx context.Context, sourceID, identifier string, cause error) error {
	e := &model.HarvestError{
		SourceID:   sourceID,
		Identifier: identifier,
		Text:       cause.Error(),
		CreatedAt:  h.now().UTC(),
	}
	if err := h.failures.Add(ctx, e); err != nil {
		return multierr.Append(cause, fmt.Errorf("record harvest error: %w", err))
	}
	return nil
}

// SynchronizeSets lists the remote set hierarchy and get-or-creates every
// set in the source scope, overwriting display names.
func (h *Harvester) SynchronizeSets(ctx context.Context, sourceID string) (*model.ListResult, error) {
	src, err := h.sources.Get(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("load source %q: %w", sourceID, err)
	}
	log := h.log.With(zap.String("source", src.ID))
	remote := h.dial(src)
	res := &model.ListResult{SourceID: src.ID}

	fetch := func(ctx context.Context, token string) (*model.SetPage, string, error) {
		p, err := remote.ListSets(ctx, token)
		if err != nil {
			return nil, "", err
		}
		return p, p.Token, nil
	}
	err = paginate(ctx, h, log, src.ID, "ListSets", fetch, func(p *model.SetPage) error {
		for _, info := range p.Sets {
			if info.Spec == "" {
				continue
			}
			set, created, err := h.catalog.GetOrCreate(ctx, src.ID, info.Spec)
			if err != nil {
				return err
			}
			if err := h.catalog.Describe(ctx, set, info.Name); err != nil {
				return err
			}
			tally(res, created)
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	log.Info("sets synchronized", zap.Int("created", res.Created), zap.Int("updated", res.Updated))
	return res, nil
}

// SynchronizeFormats lists the formats advertised by the source and
// get-or-creates them, overwriting schema and namespace.
func (h *Harvester) SynchronizeFormats(ctx context.Context, sourceID string) (*model.ListResult, error) {
	src, err := h.sources.Get(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("load source %q: %w", sourceID, err)
	}
	log := h.log.With(zap.String("source", src.ID))
	remote := h.dial(src)
	res := &model.ListResult{SourceID: src.ID}

	fetch := func(ctx context.Context, token string) (*model.FormatPage, string, error) {
		p, err := remote.ListMetadataFormats(ctx, token)
		if err != nil {
			return nil, "", err
		}
		return p, p.Token, nil
	}
	err = paginate(ctx, h, log, src.ID, "ListMetadataFormats", fetch, func(p *model.FormatPage) error {
		for _, f := range p.Formats {
			if f.Name == "" {
				continue
			}
			_, created, err := h.formats.GetOrCreate(ctx, f.Name)
			if err != nil {
				return fmt.Errorf("format %q: %w", f.Name, err)
			}
			if err := h.formats.Update(ctx, &f); err != nil {
				return fmt.Errorf("format %q: %w", f.Name, err)
			}
			tally(res, created)
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	log.Info("formats synchronized", zap.Int("created", res.Created), zap.Int("updated", res.Updated))
	return res, nil
}

// CleanupExpiredTokens purges resumption tokens outside the validity window.
func (h *Harvester) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	n, err := h.tokens.Cleanup(ctx)
	if err != nil {
		return 0, fmt.Errorf("cleanup tokens: %w", err)
	}
	h.log.Info("expired tokens removed", zap.Int64("count", n))
	return n, nil
}

// SynchronizeAll runs one pass per known source concurrently. Errors of
// individual sources are combined; the other sources still complete.
func (h *Harvester) SynchronizeAll(ctx context.Context) ([]model.SyncResult, error) {
	sources, err := h.sources.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	var (
		mu      sync.Mutex
		results []model.SyncResult
		all     error
	)
	var g errgroup.Group
	for _, s := range sources {
		g.Go(func() error {
			res, err := h.Synchronize(ctx, s.ID)
			mu.Lock()
			defer mu.Unlock()
			if res != nil {
				results = append(results, *res)
			}
			if err != nil {
				all = multierr.Append(all, fmt.Errorf("%s: %w", s.ID, err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, all
}

// admit loads the source and checks the failure backoff.
func (h *Harvester) admit(ctx context.Context, sourceID string) (*model.Source, error) {
	allowed, retryIn, err := h.lim.Allow(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("backoff check: %w", err)
	}
	if !allowed {
		return nil, fmt.Errorf("source %q blocked for %s: %w", sourceID, retryIn.Round(time.Second), errs.ErrRateLimited)
	}
	src, err := h.sources.Get(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("load source %q: %w", sourceID, err)
	}
	return src, nil
}

// settle feeds the outcome of a pass into the failure backoff (best-effort).
// Cancellation is not the source's fault and is not counted.
func (h *Harvester) settle(ctx context.Context, log *zap.Logger, sourceID string, err error) {
	switch {
	case err == nil:
		if lerr := h.lim.Success(ctx, sourceID); lerr != nil {
			log.Warn("backoff reset failed", zap.Error(lerr))
		}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		log.Warn("synchronization cancelled", zap.Error(err))
	default:
		log.Error("synchronization failed", zap.Error(err))
		blocked, d, lerr := h.lim.Failure(context.WithoutCancel(ctx), sourceID)
		if lerr != nil {
			log.Warn("backoff update failed", zap.Error(lerr))
		} else if blocked {
			log.Warn("source blocked", zap.Duration("for", d))
		}
	}
}

func (h *Harvester) format(ctx context.Context, src *model.Source) (*model.MetadataFormat, error) {
	name := src.Format
	if name == "" {
		name = h.cfg.DefaultFormat
	}
	f, _, err := h.formats.GetOrCreate(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("format %q: %w", name, err)
	}
	return f, nil
}

// delayer is a failure carrying the wait the remote asked for.
type delayer interface {
	Delay() time.Duration
}

// fetchWithRetry retries transient page failures with exponential backoff.
// A failure that names its own delay is retried no sooner than that, capped
// at MaxRetryWait.
func fetchWithRetry[P any](ctx context.Context, h *Harvester, log *zap.Logger, fetch func(context.Context, string) (P, string, error), token string) (P, string, error) {
	type page struct {
		p    P
		next string
	}
	var hint time.Duration
	base := retry.WithMaxRetries(h.cfg.PageRetries, retry.NewExponential(h.cfg.RetryBase))
	b := retry.BackoffFunc(func() (time.Duration, bool) {
		d, stop := base.Next()
		if stop {
			return 0, true
		}
		d = max(d, min(hint, h.cfg.MaxRetryWait))
		hint = 0
		return d, false
	})
	res, err := retry.DoValue(ctx, b, func(ctx context.Context) (page, error) {
		p, next, err := fetch(ctx, token)
		if errors.Is(err, errs.ErrTransient) {
			var d delayer
			if errors.As(err, &d) {
				hint = d.Delay()
			}
			log.Warn("page failed, retrying", zap.Error(err), zap.Duration("retry_after", hint))
			return page{}, retry.RetryableError(err)
		}
		return page{p: p, next: next}, err
	})
	return res.p, res.next, err
}

// paginate walks a listing from its cached resumption token (or from the
// beginning), handing every page to handle. A new token is stored before the
// one it replaces is consumed, so a restart resumes no later than the last
// handled page.
func paginate[P any](
	ctx context.Context,
	h *Harvester,
	log *zap.Logger,
	sourceID, key string,
	fetch func(context.Context, string) (P, string, error),
	handle func(P) error,
) error {
	token, err := h.tokens.Resume(ctx, sourceID, key)
	if err != nil {
		return fmt.Errorf("resume token: %w", err)
	}
	if token != "" {
		log.Info("resuming listing", zap.String("request", key))
	}
	restarted := false
	for {
		p, next, err := fetchWithRetry(ctx, h, log, fetch, token)
		switch {
		case errors.Is(err, errs.ErrNoRecordsMatch):
			return h.tokens.Discard(ctx, sourceID, key)
		case errors.Is(err, errs.ErrBadResumptionToken) && token != "" && !restarted:
			log.Warn("resumption token rejected, restarting listing", zap.String("request", key))
			if err := h.tokens.Discard(ctx, sourceID, key); err != nil {
				return err
			}
			token, restarted = "", true
			continue
		case err != nil:
			return err
		}

		if err := handle(p); err != nil {
			return err
		}
		if next == "" {
			return h.tokens.Discard(ctx, sourceID, key)
		}
		if err := h.tokens.Put(ctx, sourceID, key, next, h.now()); err != nil {
			return fmt.Errorf("store token: %w", err)
		}
		if token != "" {
			if err := h.tokens.Consume(ctx, token); err != nil {
				return fmt.Errorf("consume token: %w", err)
			}
		}
		token = next
	}
}

// recordsKey identifies a ListRecords request for token caching.
func recordsKey(format string, from, until time.Time) string {
	return "ListRecords|" + format + "|" + from.UTC().Format(time.RFC3339) + "|" + until.UTC().Format(time.RFC3339)
}

func tally(res *model.ListResult, created bool) {
	if created {
		res.Created++
	} else {
		res.Updated++
	}
}
