// Package fingerprint computes paper identity keys used to group duplicate records.
//
// A plain fingerprint is built from the normalized title, optionally the
// publication year, and the significant words of every author's family name:
//
//	"Preface", [("John","Smith")], 1990  ->  "preface-1990/smith"
//
// The plain form is then hashed with the configured digest.
package fingerprint

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/and161185/oaimirror/internal/crypto"
	"github.com/and161185/oaimirror/internal/errs"
)

const (
	// Titles whose normalized form is longer than this identify the paper on their own.
	distinctiveTitleLen = 50
	// Titles shorter than this get the publication year appended.
	shortTitleLen = 16
)

var (
	strippedChars = regexp.MustCompile(`[^- a-z0-9]`)
	dashRuns      = regexp.MustCompile(`[ -]+`)
)

// Author is a (given, family) name pair.
type Author struct {
	Given  string
	Family string
}

// Paper carries the facts a fingerprint is derived from.
type Paper struct {
	Title   string
	Authors []Author
	Year    int
}

// Engine computes fingerprints. The zero value is not usable; see New.
type Engine struct {
	digest    crypto.Digest
	normalize func(string) string
}

// Option configures an Engine.
type Option func(*Engine)

// WithNormalizer replaces the markup stripper applied to titles.
func WithNormalizer(fn func(string) string) Option {
	return func(e *Engine) { e.normalize = fn }
}

// New constructs an Engine hashing with the given digest (MD5 if nil).
func New(digest crypto.Digest, opts ...Option) *Engine {
	if digest == nil {
		digest = crypto.MD5Hex
	}
	e := &Engine{digest: digest, normalize: StripMarkup}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Plain returns the unhashed fingerprint.
func (e *Engine) Plain(title string, authors []Author, year int) string {
	base := e.normalize(title)
	base = strings.ToLower(RemoveDiacritics(base))
	base = strippedChars.ReplaceAllString(base, "")
	base = strings.TrimSpace(base)
	base = dashRuns.ReplaceAllString(base, "-")

	if len(base) > distinctiveTitleLen {
		return base
	}

	var b strings.Builder
	b.WriteString(base)
	if utf8.RuneCountInString(title) < shortTitleLen {
		b.WriteString("-")
		b.WriteString(strconv.Itoa(year))
	}

	keys := make([]string, 0, len(authors))
	for _, a := range authors {
		if a.Given == "" && a.Family == "" {
			continue
		}
		keys = append(keys, lastNameKey(a.Family))
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("/")
		b.WriteString(k)
	}
	return b.String()
}

// Fingerprint returns the hashed fingerprint, or ErrFingerprintUnavailable
// when the title, the author list or the year is missing.
func (e *Engine) Fingerprint(title string, authors []Author, year int) (string, error) {
	if strings.TrimSpace(title) == "" {
		return "", fmt.Errorf("empty title: %w", errs.ErrFingerprintUnavailable)
	}
	if len(authors) == 0 {
		return "", fmt.Errorf("no authors: %w", errs.ErrFingerprintUnavailable)
	}
	if year <= 0 {
		return "", fmt.Errorf("no publication year: %w", errs.ErrFingerprintUnavailable)
	}
	return e.digest(e.Plain(title, authors, year)), nil
}

// FingerprintPaper is Fingerprint over a Paper.
func (e *Engine) FingerprintPaper(p Paper) (string, error) {
	return e.Fingerprint(p.Title, p.Authors, p.Year)
}
