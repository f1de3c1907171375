// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// GlobalScope is the set scope used by virtual sets, which are not tied to a source.
const GlobalScope = ""

// Source is a remote repository mirrored by the harvester.
type Source struct {
	ID         string    // configured key, e.g. "arxiv"
	Name       string    // display name
	URL        string    // OAI-PMH base endpoint
	Format     string    // metadata prefix harvested from this source
	LastUpdate time.Time // watermark: inclusive lower bound of the next window
}

// MetadataFormat describes a metadata prefix advertised by a source.
type MetadataFormat struct {
	Name      string
	Schema    string
	Namespace string
}

// Set is a named record grouping. Real sets are scoped to a source id,
// virtual sets live in GlobalScope and are named "<tag>:<name>".
type Set struct {
	ID       uuid.UUID
	Scope    string
	Name     string
	FullName string // optional display name
}

// Record is a mirrored metadata record. (Identifier, Format) is its natural key.
type Record struct {
	ID          uuid.UUID
	Identifier  string
	Format      string
	SourceID    string
	Metadata    []byte    // raw metadata document, opaque
	Timestamp   time.Time // remote datestamp
	Deleted     bool      // remote reported status="deleted"
	Fingerprint string    // empty when no fingerprint is available
	SetIDs      []uuid.UUID
}

// ResumptionToken is a continuation cursor issued by a remote listing.
type ResumptionToken struct {
	Token      string
	SourceID   string
	RequestKey string // verb + request arguments the token continues
	CreatedAt  time.Time
}

// HarvestError is an operator-visible record of a contained failure.
type HarvestError struct {
	ID         int64
	SourceID   string
	Identifier string // empty for page-level failures
	Text       string
	CreatedAt  time.Time
}

// RecordHeader is the protocol header of a harvested record.
type RecordHeader struct {
	Identifier string
	Datestamp  time.Time
	SetSpecs   []string
	Deleted    bool
}

// RawRecord is a record as returned by the remote listing, before ingestion.
type RawRecord struct {
	Header   RecordHeader
	Metadata []byte // serialized metadata element; nil for deleted records
}

// SetInfo is one entry of a remote set listing.
type SetInfo struct {
	Spec string
	Name string
}

// RecordPage is one page of a ListRecords response. Token is empty on the last page.
type RecordPage struct {
	Records []RawRecord
	Token   string
}

// SetPage is one page of a ListSets response.
type SetPage struct {
	Sets  []SetInfo
	Token string
}

// FormatPage is one page of a ListMetadataFormats response.
type FormatPage struct {
	Formats []MetadataFormat
	Token   string
}

// SyncResult summarizes one synchronization pass.
type SyncResult struct {
	RunID      uuid.UUID
	SourceID   string
	Windows    int       // windows completed and checkpointed
	Records    int       // records ingested successfully
	Failed     int       // records that failed and were logged
	LastUpdate time.Time // watermark after the pass
}

// ListResult summarizes a set or format listing pass.
type ListResult struct {
	SourceID string
	Created  int
	Updated  int
}
