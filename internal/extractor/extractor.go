// Package extractor defines virtual set extractors: format-specific plugins
// that derive set names from a record's metadata document.
package extractor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/and161185/oaimirror/internal/oaidc"
)

// VirtualSetExtractor computes derived set names from a raw metadata document.
type VirtualSetExtractor interface {
	// Format returns the metadata prefix the extractor understands.
	Format() string
	// SubsetTag returns the namespace prepended to every derived set name.
	SubsetTag() string
	// Extract returns the set name suffixes for doc.
	Extract(doc []byte) ([]string, error)
}

// Registry is an ordered list of active extractors.
type Registry struct {
	list []VirtualSetExtractor
}

// NewRegistry builds a registry preserving the given order.
func NewRegistry(ex ...VirtualSetExtractor) *Registry {
	return &Registry{list: append([]VirtualSetExtractor(nil), ex...)}
}

// Register appends an extractor.
func (r *Registry) Register(ex VirtualSetExtractor) { r.list = append(r.list, ex) }

// ForFormat returns the extractors declaring format, in registration order.
func (r *Registry) ForFormat(format string) []VirtualSetExtractor {
	if r == nil {
		return nil
	}
	var out []VirtualSetExtractor
	for _, ex := range r.list {
		if ex.Format() == format {
			out = append(out, ex)
		}
	}
	return out
}

// Len reports the number of registered extractors.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.list)
}

// SetName namespaces a derived name as "<tag>:<name>".
func SetName(ex VirtualSetExtractor, name string) string {
	return ex.SubsetTag() + ":" + name
}

// Builtin tags.
const (
	TagType     = "type"
	TagYear     = "year"
	TagLanguage = "lang"
)

// Builtin returns the built-in extractor registered under tag.
func Builtin(tag string) (VirtualSetExtractor, error) {
	switch tag {
	case TagType:
		return dcExtractor{tag: TagType, values: func(r *oaidc.Record) []string { return r.Types }}, nil
	case TagYear:
		return dcExtractor{tag: TagYear, values: func(r *oaidc.Record) []string {
			if y := r.Year(); y > 0 {
				return []string{strconv.Itoa(y)}
			}
			return nil
		}}, nil
	case TagLanguage:
		return dcExtractor{tag: TagLanguage, values: func(r *oaidc.Record) []string { return r.Languages }}, nil
	default:
		return nil, fmt.Errorf("unknown extractor %q", tag)
	}
}

// FromTags builds a registry of built-in extractors in the given order.
func FromTags(tags []string) (*Registry, error) {
	reg := NewRegistry()
	for _, tag := range tags {
		ex, err := Builtin(tag)
		if err != nil {
			return nil, err
		}
		reg.Register(ex)
	}
	return reg, nil
}

// dcExtractor derives set names from one Dublin Core element.
type dcExtractor struct {
	tag    string
	values func(*oaidc.Record) []string
}

func (e dcExtractor) Format() string    { return oaidc.FormatName }
func (e dcExtractor) SubsetTag() string { return e.tag }

func (e dcExtractor) Extract(doc []byte) ([]string, error) {
	r, err := oaidc.Parse(doc)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var out []string
	for _, v := range e.values(r) {
		v = slug(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out, nil
}

// slug lowercases v and joins its words with '-'.
func slug(v string) string {
	return strings.Join(strings.Fields(strings.ToLower(v)), "-")
}
