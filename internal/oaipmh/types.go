package oaipmh

import (
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/and161185/oaimirror/internal/errs"
	"github.com/and161185/oaimirror/internal/model"
)

// envelope is the top-level OAI-PMH response.
type envelope struct {
	XMLName             xml.Name             `xml:"OAI-PMH"`
	ResponseDate        string               `xml:"responseDate"`
	Errors              []*OAIError          `xml:"error"`
	Identify            *identifyRes         `xml:"Identify"`
	ListRecords         *listRecordsRes      `xml:"ListRecords"`
	ListSets            *listSetsRes         `xml:"ListSets"`
	ListMetadataFormats *listMetadataFormats `xml:"ListMetadataFormats"`
}

type identifyRes struct {
	RepositoryName string `xml:"repositoryName"`
	Granularity    string `xml:"granularity"`
}

type resumptionToken struct {
	Token          string `xml:",chardata"`
	CompleteSize   string `xml:"completeListSize,attr"`
	Cursor         string `xml:"cursor,attr"`
	ExpirationDate string `xml:"expirationDate,attr"`
}

// value returns the trimmed token; an empty token element ends the list.
func (t *resumptionToken) value() string {
	if t == nil {
		return ""
	}
	return strings.TrimSpace(t.Token)
}

type listRecordsRes struct {
	Records         []record         `xml:"record"`
	ResumptionToken *resumptionToken `xml:"resumptionToken"`
}

type record struct {
	Header   header   `xml:"header"`
	Metadata metadata `xml:"metadata"`
}

type header struct {
	Identifier string   `xml:"identifier"`
	Datestamp  string   `xml:"datestamp"`
	SetSpec    []string `xml:"setSpec"`
	Status     string   `xml:"status,attr"`
}

type metadata struct {
	Inner []byte `xml:",innerxml"`
}

func (r record) toModel() model.RawRecord {
	out := model.RawRecord{Header: model.RecordHeader{
		Identifier: strings.TrimSpace(r.Header.Identifier),
		Deleted:    r.Header.Status == "deleted",
	}}
	if ts, err := parseDatestamp(r.Header.Datestamp); err == nil {
		out.Header.Datestamp = ts
	}
	for _, s := range r.Header.SetSpec {
		if s = strings.TrimSpace(s); s != "" {
			out.Header.SetSpecs = append(out.Header.SetSpecs, s)
		}
	}
	if inner := strings.TrimSpace(string(r.Metadata.Inner)); inner != "" && !out.Header.Deleted {
		out.Metadata = []byte(inner)
	}
	return out
}

type listSetsRes struct {
	Sets            []setEntry       `xml:"set"`
	ResumptionToken *resumptionToken `xml:"resumptionToken"`
}

type setEntry struct {
	Spec string `xml:"setSpec"`
	Name string `xml:"setName"`
}

type listMetadataFormats struct {
	Formats         []formatEntry    `xml:"metadataFormat"`
	ResumptionToken *resumptionToken `xml:"resumptionToken"`
}

type formatEntry struct {
	Prefix    string `xml:"metadataPrefix"`
	Schema    string `xml:"schema"`
	Namespace string `xml:"metadataNamespace"`
}

// OAIError is a protocol-level error reported inside a 200 response.
type OAIError struct {
	Code    string `xml:"code,attr"`
	Message string `xml:",chardata"`
}

func (e *OAIError) Error() string {
	return fmt.Sprintf("oai-pmh error [%s]: %s", e.Code, strings.TrimSpace(e.Message))
}

// Unwrap maps protocol error codes onto sentinels.
func (e *OAIError) Unwrap() error {
	switch e.Code {
	case "noRecordsMatch":
		return errs.ErrNoRecordsMatch
	case "badResumptionToken":
		return errs.ErrBadResumptionToken
	default:
		return nil
	}
}

func asOAIError(err error) (*OAIError, bool) {
	var oe *OAIError
	ok := errors.As(err, &oe)
	return oe, ok
}

// HTTPError is a retryable HTTP failure (5xx, 429).
type HTTPError struct {
	StatusCode int
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("http %d (%s), retry after %s", e.StatusCode, http.StatusText(e.StatusCode), e.RetryAfter)
	}
	return fmt.Sprintf("http %d (%s)", e.StatusCode, http.StatusText(e.StatusCode))
}

// Unwrap marks HTTP failures as transient.
func (e *HTTPError) Unwrap() error { return errs.ErrTransient }

// Delay is the wait the server asked for before the next request.
func (e *HTTPError) Delay() time.Duration { return e.RetryAfter }
