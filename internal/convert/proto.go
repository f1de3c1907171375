// Package convert maps domain results to and from the protobuf Struct
// messages carried by the trigger API.
package convert

import (
	"fmt"
	"time"

	u "github.com/gofrs/uuid/v5"
	"google.golang.org/protobuf/types/known/structpb"

	model "github.com/and161185/oaimirror/internal/model"
)

// Field names of the trigger API messages.
const (
	FieldSourceID   = "source_id"
	FieldRunID      = "run_id"
	FieldWindows    = "windows"
	FieldRecords    = "records"
	FieldFailed     = "failed"
	FieldLastUpdate = "last_update"
	FieldCreated    = "created"
	FieldUpdated    = "updated"
	FieldDeleted    = "deleted"
)

// --- helpers ---

func ts(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func str(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func num(s *structpb.Struct, key string) int64 {
	return int64(s.GetFields()[key].GetNumberValue())
}

// --- requests (client -> server) ---

// ToProtoSourceRequest builds the request naming a source.
func ToProtoSourceRequest(sourceID string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldSourceID: structpb.NewStringValue(sourceID),
	}}
}

// FromProtoSourceRequest extracts the source id of a request.
func FromProtoSourceRequest(in *structpb.Struct) (string, error) {
	v, ok := in.GetFields()[FieldSourceID]
	if !ok {
		return "", fmt.Errorf("missing %s", FieldSourceID)
	}
	id := v.GetStringValue()
	if id == "" {
		return "", fmt.Errorf("%s must be a non-empty string", FieldSourceID)
	}
	return id, nil
}

// --- results (server -> client) ---

// ToProtoSyncResult converts a synchronization summary.
func ToProtoSyncResult(r model.SyncResult) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldRunID:      structpb.NewStringValue(r.RunID.String()),
		FieldSourceID:   structpb.NewStringValue(r.SourceID),
		FieldWindows:    structpb.NewNumberValue(float64(r.Windows)),
		FieldRecords:    structpb.NewNumberValue(float64(r.Records)),
		FieldFailed:     structpb.NewNumberValue(float64(r.Failed)),
		FieldLastUpdate: structpb.NewStringValue(ts(r.LastUpdate)),
	}}
}

// FromProtoSyncResult parses a synchronization summary.
func FromProtoSyncResult(in *structpb.Struct) (model.SyncResult, error) {
	if in == nil {
		return model.SyncResult{}, fmt.Errorf("nil SyncResult")
	}
	var id u.UUID
	if err := id.UnmarshalText([]byte(str(in, FieldRunID))); err != nil {
		return model.SyncResult{}, fmt.Errorf("invalid run id: %w", err)
	}
	last, err := parseTS(str(in, FieldLastUpdate))
	if err != nil {
		return model.SyncResult{}, fmt.Errorf("invalid last_update: %w", err)
	}
	return model.SyncResult{
		RunID:      id,
		SourceID:   str(in, FieldSourceID),
		Windows:    int(num(in, FieldWindows)),
		Records:    int(num(in, FieldRecords)),
		Failed:     int(num(in, FieldFailed)),
		LastUpdate: last,
	}, nil
}

// ToProtoListResult converts a set or format listing summary.
func ToProtoListResult(r model.ListResult) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldSourceID: structpb.NewStringValue(r.SourceID),
		FieldCreated:  structpb.NewNumberValue(float64(r.Created)),
		FieldUpdated:  structpb.NewNumberValue(float64(r.Updated)),
	}}
}

// FromProtoListResult parses a listing summary.
func FromProtoListResult(in *structpb.Struct) (model.ListResult, error) {
	if in == nil {
		return model.ListResult{}, fmt.Errorf("nil ListResult")
	}
	return model.ListResult{
		SourceID: str(in, FieldSourceID),
		Created:  int(num(in, FieldCreated)),
		Updated:  int(num(in, FieldUpdated)),
	}, nil
}

// ToProtoCleanupResult reports the number of purged tokens.
func ToProtoCleanupResult(deleted int64) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldDeleted: structpb.NewNumberValue(float64(deleted)),
	}}
}

// FromProtoCleanupResult parses the number of purged tokens.
func FromProtoCleanupResult(in *structpb.Struct) int64 {
	return num(in, FieldDeleted)
}
