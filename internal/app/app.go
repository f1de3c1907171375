// Package app assembles the harvester from configuration and a database.
package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/and161185/oaimirror/internal/config"
	"github.com/and161185/oaimirror/internal/crypto"
	"github.com/and161185/oaimirror/internal/extractor"
	"github.com/and161185/oaimirror/internal/fingerprint"
	"github.com/and161185/oaimirror/internal/limiter"
	"github.com/and161185/oaimirror/internal/model"
	"github.com/and161185/oaimirror/internal/oaidc"
	"github.com/and161185/oaimirror/internal/oaipmh"
	"github.com/and161185/oaimirror/internal/repository/postgres"
	"github.com/and161185/oaimirror/internal/service"
)

// App holds the assembled components.
type App struct {
	DB        *postgres.DB
	Sources   *postgres.SourceRepo
	Records   *postgres.RecordRepo
	Errors    *postgres.ErrorRepo
	Limiter   limiter.Limiter
	Harvester *service.Harvester
}

// New wires repositories, the ingestion pipeline and the harvester over db.
func New(cfg *config.Config, db *postgres.DB, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	digest, err := crypto.DigestByName(cfg.FingerprintDigest)
	if err != nil {
		return nil, err
	}
	extractors, err := extractor.FromTags(cfg.Extractors)
	if err != nil {
		return nil, err
	}

	a := &App{
		DB:      db,
		Sources: postgres.NewSourceRepo(db),
		Records: postgres.NewRecordRepo(db),
		Errors:  postgres.NewErrorRepo(db),
		Limiter: limiter.NewPG(db.Pool, cfg.Backoff.Window, cfg.Backoff.MaxFailures, cfg.Backoff.BlockFor),
	}
	catalog := service.NewSetCatalog(postgres.NewSetRepo(db))
	ingester := service.NewRecordIngester(
		a.Records,
		catalog,
		extractors,
		fingerprint.New(digest),
		log.Named("ingest"),
		oaidc.Reader{},
	)
	a.Harvester = service.NewHarvester(service.HarvesterDeps{
		Sources:  a.Sources,
		Formats:  postgres.NewFormatRepo(db),
		Errors:   a.Errors,
		Catalog:  catalog,
		Tokens:   service.NewTokenCache(postgres.NewTokenRepo(db), cfg.TokenValidity),
		Ingester: ingester,
		Dial:     NewDialer(cfg, log.Named("oaipmh")),
		Limiter:  a.Limiter,
	}, cfg.Service(), log.Named("harvest"))
	return a, nil
}

// EnsureSources registers every configured source.
func (a *App) EnsureSources(ctx context.Context, cfg *config.Config) error {
	for _, s := range cfg.ModelSources() {
		if err := a.Sources.Ensure(ctx, &s); err != nil {
			return fmt.Errorf("ensure source %s: %w", s.ID, err)
		}
	}
	return nil
}

// NewDialer returns a Dialer that keeps one throttled client per source.
func NewDialer(cfg *config.Config, log *zap.Logger) service.Dialer {
	if log == nil {
		log = zap.NewNop()
	}
	var (
		mu      sync.Mutex
		clients = make(map[string]*oaipmh.Client)
		hc      = &http.Client{Timeout: cfg.RequestTimeout}
	)
	return func(src *model.Source) service.Remote {
		mu.Lock()
		defer mu.Unlock()
		key := src.ID + "|" + src.URL
		if c, ok := clients[key]; ok {
			return c
		}
		c := oaipmh.NewClient(src.URL,
			oaipmh.WithHTTPClient(hc),
			oaipmh.WithRate(cfg.RequestRate),
			oaipmh.WithLogger(log.With(zap.String("source", src.ID))),
		)
		clients[key] = c
		return c
	}
}
