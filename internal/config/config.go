// Package config loads the harvester configuration file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/and161185/oaimirror/internal/crypto"
	"github.com/and161185/oaimirror/internal/extractor"
	"github.com/and161185/oaimirror/internal/model"
	"github.com/and161185/oaimirror/internal/service"
)

// Config is the immutable harvester configuration.
type Config struct {
	Chunk             time.Duration `yaml:"chunk"`
	TokenValidity     time.Duration `yaml:"token_validity"`
	DefaultFormat     string        `yaml:"default_format"`
	Extractors        []string      `yaml:"extractors"`
	FingerprintDigest string        `yaml:"fingerprint_digest"`
	Workers           int           `yaml:"workers"`
	PageRetries       int           `yaml:"page_retries"`
	RetryBase         time.Duration `yaml:"retry_base"`
	MaxRetryWait      time.Duration `yaml:"max_retry_wait"`
	RequestRate       float64       `yaml:"request_rate"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	Sources           []Source      `yaml:"sources"`
	Backoff           Backoff       `yaml:"backoff"`
}

// Source is a configured remote repository.
type Source struct {
	ID     string    `yaml:"id"`
	Name   string    `yaml:"name"`
	URL    string    `yaml:"url"`
	Format string    `yaml:"format"`
	Since  time.Time `yaml:"since"`
}

// Backoff configures the per-source failure limiter.
type Backoff struct {
	Window      time.Duration `yaml:"window"`
	MaxFailures int           `yaml:"max_failures"`
	BlockFor    time.Duration `yaml:"block_for"`
}

// Default returns the configuration used for keys the file leaves out.
func Default() Config {
	return Config{
		Chunk:             service.DefaultChunk,
		TokenValidity:     service.DefaultTokenValidity,
		DefaultFormat:     service.DefaultFormat,
		FingerprintDigest: crypto.DigestMD5,
		Workers:           service.DefaultWorkers,
		PageRetries:       3,
		RetryBase:         service.DefaultRetryBase,
		MaxRetryWait:      service.DefaultMaxRetryWait,
		RequestRate:       1,
		RequestTimeout:    time.Minute,
		Backoff: Backoff{
			Window:      time.Hour,
			MaxFailures: 5,
			BlockFor:    30 * time.Minute,
		},
	}
}

// Load reads and validates the YAML file at path. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		return &cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a YAML document over the defaults and validates the result.
func Parse(raw []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var err error
	if c.Chunk <= 0 {
		err = multierr.Append(err, errors.New("chunk must be positive"))
	}
	if c.TokenValidity <= 0 {
		err = multierr.Append(err, errors.New("token_validity must be positive"))
	}
	if c.Workers <= 0 {
		err = multierr.Append(err, errors.New("workers must be positive"))
	}
	if c.PageRetries < 0 {
		err = multierr.Append(err, errors.New("page_retries must not be negative"))
	}
	if c.MaxRetryWait < 0 {
		err = multierr.Append(err, errors.New("max_retry_wait must not be negative"))
	}
	if c.RequestRate < 0 {
		err = multierr.Append(err, errors.New("request_rate must not be negative"))
	}
	if _, derr := crypto.DigestByName(c.FingerprintDigest); derr != nil {
		err = multierr.Append(err, derr)
	}
	if _, xerr := extractor.FromTags(c.Extractors); xerr != nil {
		err = multierr.Append(err, xerr)
	}
	seen := make(map[string]struct{}, len(c.Sources))
	for i, s := range c.Sources {
		if s.ID == "" {
			err = multierr.Append(err, fmt.Errorf("sources[%d]: empty id", i))
			continue
		}
		if _, dup := seen[s.ID]; dup {
			err = multierr.Append(err, fmt.Errorf("sources[%d]: duplicate id %q", i, s.ID))
		}
		seen[s.ID] = struct{}{}
		if u, perr := url.Parse(s.URL); perr != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			err = multierr.Append(err, fmt.Errorf("sources[%d]: invalid url %q", i, s.URL))
		}
		if s.Since.IsZero() {
			err = multierr.Append(err, fmt.Errorf("sources[%d]: missing since", i))
		}
	}
	if err != nil {
		return fmt.Errorf("validation: %w", err)
	}
	return nil
}

// Service returns the core configuration.
func (c *Config) Service() service.Config {
	return service.Config{
		Chunk:         c.Chunk,
		TokenValidity: c.TokenValidity,
		DefaultFormat: c.DefaultFormat,
		Workers:       c.Workers,
		PageRetries:   uint64(c.PageRetries),
		RetryBase:     c.RetryBase,
		MaxRetryWait:  c.MaxRetryWait,
	}
}

// ModelSources converts the configured sources. Since becomes the initial watermark.
func (c *Config) ModelSources() []model.Source {
	out := make([]model.Source, 0, len(c.Sources))
	for _, s := range c.Sources {
		name := s.Name
		if name == "" {
			name = s.ID
		}
		out = append(out, model.Source{
			ID:         s.ID,
			Name:       name,
			URL:        s.URL,
			Format:     s.Format,
			LastUpdate: s.Since.UTC(),
		})
	}
	return out
}

// SourceIDs lists the configured source ids in file order.
func (c *Config) SourceIDs() []string {
	ids := make([]string, 0, len(c.Sources))
	for _, s := range c.Sources {
		ids = append(ids, s.ID)
	}
	return ids
}
