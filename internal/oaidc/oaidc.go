// Package oaidc parses simple Dublin Core ("oai_dc") metadata documents.
package oaidc

import (
	"encoding/xml"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/and161185/oaimirror/internal/errs"
	"github.com/and161185/oaimirror/internal/fingerprint"
)

// FormatName is the metadata prefix of simple Dublin Core.
const FormatName = "oai_dc"

var leadingYear = regexp.MustCompile(`^\s*(\d{4})`)

// Record is the subset of Dublin Core elements the mirror uses.
type Record struct {
	XMLName      xml.Name `xml:"dc"`
	Titles       []string `xml:"title"`
	Creators     []string `xml:"creator"`
	Contributors []string `xml:"contributor"`
	Subjects     []string `xml:"subject"`
	Publishers   []string `xml:"publisher"`
	Dates        []string `xml:"date"`
	Types        []string `xml:"type"`
	Languages    []string `xml:"language"`
	Identifiers  []string `xml:"identifier"`
}

// Parse decodes an oai_dc document.
func Parse(doc []byte) (*Record, error) {
	var r Record
	if err := xml.Unmarshal(doc, &r); err != nil {
		return nil, fmt.Errorf("oai_dc: %v: %w", err, errs.ErrMalformedRecord)
	}
	return &r, nil
}

// Title returns the first non-blank title.
func (r *Record) Title() string {
	for _, t := range r.Titles {
		if t = strings.TrimSpace(t); t != "" {
			return t
		}
	}
	return ""
}

// Year returns the first four-digit year found among the dates, or 0.
func (r *Record) Year() int {
	for _, d := range r.Dates {
		if m := leadingYear.FindStringSubmatch(d); m != nil {
			if y, err := strconv.Atoi(m[1]); err == nil && y > 0 {
				return y
			}
		}
	}
	return 0
}

// Authors parses every creator into a name pair.
func (r *Record) Authors() []fingerprint.Author {
	out := make([]fingerprint.Author, 0, len(r.Creators))
	for _, c := range r.Creators {
		if a, ok := ParseName(c); ok {
			out = append(out, a)
		}
	}
	return out
}

// Paper returns the fingerprint facts of the record.
func (r *Record) Paper() fingerprint.Paper {
	return fingerprint.Paper{Title: r.Title(), Authors: r.Authors(), Year: r.Year()}
}

// ParseName splits "Family, Given" or "Given Family" into a name pair.
func ParseName(s string) (fingerprint.Author, bool) {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return fingerprint.Author{}, false
	}
	if family, given, ok := strings.Cut(s, ","); ok {
		return fingerprint.Author{Given: strings.TrimSpace(given), Family: strings.TrimSpace(family)}, true
	}
	i := strings.LastIndex(s, " ")
	if i < 0 {
		return fingerprint.Author{Family: s}, true
	}
	return fingerprint.Author{Given: s[:i], Family: s[i+1:]}, true
}

// Reader extracts fingerprint facts from oai_dc documents.
type Reader struct{}

// Format reports the metadata prefix handled by the reader.
func (Reader) Format() string { return FormatName }

// ReadPaper parses doc and returns its fingerprint facts.
func (Reader) ReadPaper(doc []byte) (fingerprint.Paper, error) {
	r, err := Parse(doc)
	if err != nil {
		return fingerprint.Paper{}, err
	}
	return r.Paper(), nil
}
