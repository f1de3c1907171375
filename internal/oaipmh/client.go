// Package oaipmh implements the harvesting side of the OAI-PMH 2.0 protocol:
// ListRecords, ListSets, ListMetadataFormats and Identify. Resumption tokens are
// returned to the caller rather than followed, so the caller decides how to
// persist and resume them.
package oaipmh

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/and161185/oaimirror/internal/errs"
	"github.com/and161185/oaimirror/internal/model"
)

const (
	// DefaultTimeout bounds a single HTTP request; large pages can be slow.
	DefaultTimeout = 120 * time.Second
	// DefaultRate is the default number of requests per second sent to one endpoint.
	DefaultRate = 1.0

	granularityDay    = "YYYY-MM-DD"
	granularitySecond = "YYYY-MM-DDThh:mm:ssZ"

	layoutDay    = "2006-01-02"
	layoutSecond = "2006-01-02T15:04:05Z"

	userAgent = "oaimirror/1.0"
)

// Client talks to one OAI-PMH endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *zap.Logger

	mu          sync.Mutex
	granularity string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.httpClient = hc } }

// WithRate sets the request rate (requests per second). Non-positive disables throttling.
func WithRate(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.log = l } }

// WithGranularity skips the Identify round-trip and uses the given datestamp granularity.
func WithGranularity(g string) Option { return func(c *Client) { c.granularity = g } }

// NewClient creates a client for baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "?"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRate), 1),
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListRecords fetches one page of records. With a non-empty token the
// format and window arguments are ignored, as the protocol requires.
func (c *Client) ListRecords(ctx context.Context, format string, from, until time.Time, token string) (*model.RecordPage, error) {
	q := url.Values{"verb": {"ListRecords"}}
	if token != "" {
		q.Set("resumptionToken", token)
	} else {
		layout, err := c.dateLayout(ctx)
		if err != nil {
			return nil, err
		}
		q.Set("metadataPrefix", format)
		q.Set("from", from.UTC().Format(layout))
		q.Set("until", until.UTC().Format(layout))
	}

	var resp envelope
	if err := c.do(ctx, q, &resp); err != nil {
		return nil, err
	}
	page := &model.RecordPage{}
	if resp.ListRecords == nil {
		return page, nil
	}
	for _, r := range resp.ListRecords.Records {
		page.Records = append(page.Records, r.toModel())
	}
	page.Token = resp.ListRecords.ResumptionToken.value()
	return page, nil
}

// ListSets fetches one page of the set hierarchy. Repositories without sets yield an empty page.
func (c *Client) ListSets(ctx context.Context, token string) (*model.SetPage, error) {
	q := url.Values{"verb": {"ListSets"}}
	if token != "" {
		q.Set("resumptionToken", token)
	}
	var resp envelope
	if err := c.do(ctx, q, &resp); err != nil {
		if oe, ok := asOAIError(err); ok && oe.Code == "noSetHierarchy" {
			return &model.SetPage{}, nil
		}
		return nil, err
	}
	page := &model.SetPage{}
	if resp.ListSets == nil {
		return page, nil
	}
	for _, s := range resp.ListSets.Sets {
		page.Sets = append(page.Sets, model.SetInfo{Spec: strings.TrimSpace(s.Spec), Name: strings.TrimSpace(s.Name)})
	}
	page.Token = resp.ListSets.ResumptionToken.value()
	return page, nil
}

// ListMetadataFormats fetches the formats advertised by the repository.
func (c *Client) ListMetadataFormats(ctx context.Context, token string) (*model.FormatPage, error) {
	q := url.Values{"verb": {"ListMetadataFormats"}}
	if token != "" {
		q.Set("resumptionToken", token)
	}
	var resp envelope
	if err := c.do(ctx, q, &resp); err != nil {
		return nil, err
	}
	page := &model.FormatPage{}
	if resp.ListMetadataFormats == nil {
		return page, nil
	}
	for _, f := range resp.ListMetadataFormats.Formats {
		page.Formats = append(page.Formats, model.MetadataFormat{
			Name:      strings.TrimSpace(f.Prefix),
			Schema:    strings.TrimSpace(f.Schema),
			Namespace: strings.TrimSpace(f.Namespace),
		})
	}
	page.Token = resp.ListMetadataFormats.ResumptionToken.value()
	return page, nil
}

// Identify returns the datestamp granularity advertised by the repository.
func (c *Client) Identify(ctx context.Context) (string, error) {
	var resp envelope
	if err := c.do(ctx, url.Values{"verb": {"Identify"}}, &resp); err != nil {
		return "", err
	}
	if resp.Identify == nil {
		return "", fmt.Errorf("identify: empty response: %w", errs.ErrTransient)
	}
	return strings.TrimSpace(resp.Identify.Granularity), nil
}

// dateLayout resolves the datestamp layout, asking the repository once.
func (c *Client) dateLayout(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.granularity == "" {
		g, err := c.Identify(ctx)
		if err != nil {
			return "", fmt.Errorf("identify: %w", err)
		}
		c.granularity = g
	}
	if c.granularity == granularitySecond {
		return layoutSecond, nil
	}
	return layoutDay, nil
}

func (c *Client) do(ctx context.Context, q url.Values, out *envelope) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	u := c.baseURL + "?" + q.Encode()
	c.log.Debug("oai-pmh request", zap.String("url", u))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("http: %v: %w", err, errs.ErrTransient)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusTooManyRequests:
		return &HTTPError{StatusCode: resp.StatusCode, RetryAfter: retryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode >= 500:
		return &HTTPError{StatusCode: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := xml.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parse response: %v: %w", err, errs.ErrTransient)
	}
	if len(out.Errors) > 0 {
		return out.Errors[0]
	}
	return nil
}

func retryAfter(h string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// parseDatestamp accepts both protocol granularities.
func parseDatestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(layoutSecond, s); err == nil {
		return t, nil
	}
	return time.Parse(layoutDay, s)
}
