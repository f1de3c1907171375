package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/oaimirror/internal/errs"
	"github.com/and161185/oaimirror/internal/model"
	"github.com/and161185/oaimirror/internal/repository"
)

/************ sources ************/

type fakeSourceRepo struct {
	mu         sync.Mutex
	byID       map[string]*model.Source
	advances   []time.Time
	advanceErr []error // consumed one per AdvanceWatermark call
	getErr     error
}

var _ repository.SourceRepository = (*fakeSourceRepo)(nil)

func newFakeSources(srcs ...model.Source) *fakeSourceRepo {
	f := &fakeSourceRepo{byID: map[string]*model.Source{}}
	for _, s := range srcs {
		f.byID[s.ID] = &s
	}
	return f
}

func (f *fakeSourceRepo) Ensure(_ context.Context, s *model.Source) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.byID[s.ID] = &cp
	return nil
}

func (f *fakeSourceRepo) Get(_ context.Context, id string) (*model.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	s, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSourceRepo) List(_ context.Context) ([]model.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Source, 0, len(f.byID))
	for _, s := range f.byID {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeSourceRepo) AdvanceWatermark(_ context.Context, id string, to time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.advanceErr) > 0 {
		err := f.advanceErr[0]
		f.advanceErr = f.advanceErr[1:]
		if err != nil {
			return err
		}
	}
	s, ok := f.byID[id]
	if !ok || to.Before(s.LastUpdate) {
		return errs.ErrWatermarkConflict
	}
	s.LastUpdate = to
	f.advances = append(f.advances, to)
	return nil
}

func (f *fakeSourceRepo) watermark(id string) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[id].LastUpdate
}

/************ formats ************/

type fakeFormatRepo struct {
	mu     sync.Mutex
	byName map[string]model.MetadataFormat
}

var _ repository.FormatRepository = (*fakeFormatRepo)(nil)

func newFakeFormats() *fakeFormatRepo {
	return &fakeFormatRepo{byName: map[string]model.MetadataFormat{}}
}

func (f *fakeFormatRepo) GetOrCreate(_ context.Context, name string) (*model.MetadataFormat, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.byName[name]; ok {
		return &m, false, nil
	}
	f.byName[name] = model.MetadataFormat{Name: name}
	return &model.MetadataFormat{Name: name}, true, nil
}

func (f *fakeFormatRepo) Update(_ context.Context, m *model.MetadataFormat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byName[m.Name]; !ok {
		return errs.ErrNotFound
	}
	f.byName[m.Name] = *m
	return nil
}

/************ sets ************/

type fakeSetRepo struct {
	mu        sync.Mutex
	byKey     map[string]*model.Set
	conflicts int // GetOrCreate fails with ErrAlreadyExists this many times first
	calls     int
}

var _ repository.SetRepository = (*fakeSetRepo)(nil)

func newFakeSets() *fakeSetRepo { return &fakeSetRepo{byKey: map[string]*model.Set{}} }

func (f *fakeSetRepo) GetOrCreate(_ context.Context, scope, name string) (*model.Set, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.conflicts > 0 {
		f.conflicts--
		return nil, false, errs.ErrAlreadyExists
	}
	key := scope + "|" + name
	if s, ok := f.byKey[key]; ok {
		cp := *s
		return &cp, false, nil
	}
	s := &model.Set{ID: uuid.Must(uuid.NewV4()), Scope: scope, Name: name}
	f.byKey[key] = s
	cp := *s
	return &cp, true, nil
}

func (f *fakeSetRepo) SetFullName(_ context.Context, id uuid.UUID, fullName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.byKey {
		if s.ID == id {
			s.FullName = fullName
			return nil
		}
	}
	return errs.ErrNotFound
}

func (f *fakeSetRepo) ListByScope(_ context.Context, scope string) ([]model.Set, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Set
	for _, s := range f.byKey {
		if s.Scope == scope {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeSetRepo) byID(id uuid.UUID) (model.Set, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.byKey {
		if s.ID == id {
			return *s, true
		}
	}
	return model.Set{}, false
}

/************ records ************/

type fakeRecordRepo struct {
	mu      sync.Mutex
	byKey   map[string]*model.Record
	upserts int
}

var _ repository.RecordRepository = (*fakeRecordRepo)(nil)

func newFakeRecords() *fakeRecordRepo { return &fakeRecordRepo{byKey: map[string]*model.Record{}} }

func (f *fakeRecordRepo) Upsert(_ context.Context, r *model.Record, setIDs []uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	key := r.Identifier + "|" + r.Format
	cur, ok := f.byKey[key]
	if !ok {
		cp := *r
		cp.ID = uuid.Must(uuid.NewV4())
		cp.SetIDs = nil
		cur = &cp
		f.byKey[key] = cur
	} else {
		cur.Metadata, cur.Timestamp, cur.Deleted, cur.Fingerprint = r.Metadata, r.Timestamp, r.Deleted, r.Fingerprint
	}
	for _, id := range setIDs {
		if !containsID(cur.SetIDs, id) {
			cur.SetIDs = append(cur.SetIDs, id)
		}
	}
	r.ID, r.SourceID, r.SetIDs = cur.ID, cur.SourceID, setIDs
	return !ok, nil
}

func (f *fakeRecordRepo) Get(_ context.Context, identifier, format string) (*model.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.byKey[identifier+"|"+format]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRecordRepo) ListByFingerprint(_ context.Context, fp string) ([]model.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Record
	for _, r := range f.byKey {
		if r.Fingerprint == fp {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeRecordRepo) CountBySource(_ context.Context, sourceID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, r := range f.byKey {
		if r.SourceID == sourceID {
			n++
		}
	}
	return n, nil
}

func (f *fakeRecordRepo) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byKey)
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

/************ tokens ************/

type fakeTokenRepo struct {
	mu      sync.Mutex
	byToken map[string]model.ResumptionToken
	puts    []string
}

var _ repository.TokenRepository = (*fakeTokenRepo)(nil)

func newFakeTokens() *fakeTokenRepo {
	return &fakeTokenRepo{byToken: map[string]model.ResumptionToken{}}
}

func (f *fakeTokenRepo) Put(_ context.Context, t *model.ResumptionToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, t.Token)
	if _, ok := f.byToken[t.Token]; !ok {
		f.byToken[t.Token] = *t
	}
	return nil
}

func (f *fakeTokenRepo) Latest(_ context.Context, sourceID, requestKey string, notBefore time.Time) (*model.ResumptionToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *model.ResumptionToken
	for _, t := range f.byToken {
		if t.SourceID != sourceID || t.RequestKey != requestKey || t.CreatedAt.Before(notBefore) {
			continue
		}
		if best == nil || t.CreatedAt.After(best.CreatedAt) {
			cp := t
			best = &cp
		}
	}
	if best == nil {
		return nil, errs.ErrNotFound
	}
	return best, nil
}

func (f *fakeTokenRepo) Delete(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byToken, token)
	return nil
}

func (f *fakeTokenRepo) DeleteRequest(_ context.Context, sourceID, requestKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, t := range f.byToken {
		if t.SourceID == sourceID && t.RequestKey == requestKey {
			delete(f.byToken, k)
		}
	}
	return nil
}

func (f *fakeTokenRepo) DeleteOlderThan(_ context.Context, threshold time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, t := range f.byToken {
		if t.CreatedAt.Before(threshold) {
			delete(f.byToken, k)
			n++
		}
	}
	return n, nil
}

func (f *fakeTokenRepo) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byToken)
}

/************ harvest errors ************/

type fakeErrorRepo struct {
	mu   sync.Mutex
	rows []model.HarvestError
	err  error
}

var _ repository.ErrorRepository = (*fakeErrorRepo)(nil)

func (f *fakeErrorRepo) Add(_ context.Context, e *model.HarvestError) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, *e)
	return nil
}

func (f *fakeErrorRepo) ListBySource(_ context.Context, sourceID string, limit int) ([]model.HarvestError, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.HarvestError
	for _, e := range f.rows {
		if e.SourceID == sourceID && (limit <= 0 || len(out) < limit) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeErrorRepo) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

/************ remote ************/

type listCall struct {
	from, until time.Time
	token       string
}

type fakeRemote struct {
	mu      sync.Mutex
	calls   []listCall
	records func(from, until time.Time, token string) (*model.RecordPage, error)
	sets    func(token string) (*model.SetPage, error)
	formats func(token string) (*model.FormatPage, error)
}

var _ Remote = (*fakeRemote)(nil)

func (f *fakeRemote) ListRecords(ctx context.Context, _ string, from, until time.Time, token string) (*model.RecordPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls = append(f.calls, listCall{from: from, until: until, token: token})
	f.mu.Unlock()
	if f.records == nil {
		return nil, errs.ErrNoRecordsMatch
	}
	return f.records(from, until, token)
}

func (f *fakeRemote) ListSets(_ context.Context, token string) (*model.SetPage, error) {
	if f.sets == nil {
		return &model.SetPage{}, nil
	}
	return f.sets(token)
}

func (f *fakeRemote) ListMetadataFormats(_ context.Context, token string) (*model.FormatPage, error) {
	if f.formats == nil {
		return &model.FormatPage{}, nil
	}
	return f.formats(token)
}

func (f *fakeRemote) listCalls() []listCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]listCall(nil), f.calls...)
}

/************ limiter ************/

type fakeLimiter struct {
	mu        sync.Mutex
	blocked   bool
	successes int
	failures  int
}

func (f *fakeLimiter) Allow(context.Context, string) (bool, time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.blocked {
		return false, time.Minute, nil
	}
	return true, 0, nil
}

func (f *fakeLimiter) Success(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.successes++
	return nil
}

func (f *fakeLimiter) Failure(context.Context, string) (bool, time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures++
	return false, 0, nil
}
