// Package service contains the harvesting core: set catalog, resumption token
// cache, record ingestion and the windowed synchronization driver.
package service

import (
	"context"
	"time"

	"github.com/and161185/oaimirror/internal/fingerprint"
	"github.com/and161185/oaimirror/internal/model"
)

// Remote is the listing side of a harvested repository. Every call returns
// one page; a non-empty page token means more pages exist.
type Remote interface {
	ListRecords(ctx context.Context, format string, from, until time.Time, token string) (*model.RecordPage, error)
	ListSets(ctx context.Context, token string) (*model.SetPage, error)
	ListMetadataFormats(ctx context.Context, token string) (*model.FormatPage, error)
}

// Dialer returns the remote for a source.
type Dialer func(src *model.Source) Remote

// PaperReader extracts fingerprint facts from documents of one metadata format.
type PaperReader interface {
	Format() string
	ReadPaper(doc []byte) (fingerprint.Paper, error)
}

// Config is the immutable core configuration.
type Config struct {
	Chunk         time.Duration // width of one synchronization window
	TokenValidity time.Duration // resumption tokens older than this are expired
	DefaultFormat string        // used when a source does not name one
	Workers       int           // parallel record ingestion within a window
	PageRetries   uint64        // retries of a transient page failure
	RetryBase     time.Duration // first retry delay, doubled per attempt
	MaxRetryWait  time.Duration // upper bound on a server-requested retry delay
}

// Defaults for Config fields left zero.
const (
	DefaultChunk         = 7 * 24 * time.Hour
	DefaultTokenValidity = 24 * time.Hour
	DefaultFormat        = "oai_dc"
	DefaultWorkers       = 4
	DefaultRetryBase     = time.Second
	DefaultMaxRetryWait  = 5 * time.Minute
)

func (c Config) withDefaults() Config {
	if c.Chunk <= 0 {
		c.Chunk = DefaultChunk
	}
	if c.TokenValidity <= 0 {
		c.TokenValidity = DefaultTokenValidity
	}
	if c.DefaultFormat == "" {
		c.DefaultFormat = DefaultFormat
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.RetryBase <= 0 {
		c.RetryBase = DefaultRetryBase
	}
	if c.MaxRetryWait <= 0 {
		c.MaxRetryWait = DefaultMaxRetryWait
	}
	return c
}
