// Package httpserver serves the read-only status surface of the harvester.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/and161185/oaimirror/internal/errs"
	"github.com/and161185/oaimirror/internal/limiter"
	"github.com/and161185/oaimirror/internal/model"
	"github.com/and161185/oaimirror/internal/repository"
)

const (
	defaultErrorLimit = 20
	maxErrorLimit     = 200
)

// Deps are the read models behind the status endpoints.
type Deps struct {
	Sources repository.SourceRepository
	Records repository.RecordRepository
	Errors  repository.ErrorRepository
	Limiter limiter.Limiter
	Ping    func(ctx context.Context) error
}

// Handler serves status endpoints.
type Handler struct {
	d   Deps
	log *zap.Logger
}

// New builds the chi router with every status route mounted.
func New(d Deps, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if d.Limiter == nil {
		d.Limiter = limiter.Nop{}
	}
	h := &Handler{d: d, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)
	r.Route("/sources", func(r chi.Router) {
		r.Get("/", h.listSources)
		r.Get("/{id}", h.sourceStatus)
	})
	r.Get("/fingerprints/{fp}/records", h.duplicates)
	return r
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.log.Info("http",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("dur", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

type sourceView struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	Format     string    `json:"format,omitempty"`
	LastUpdate time.Time `json:"last_update"`
}

type errorView struct {
	Identifier string    `json:"identifier,omitempty"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"created_at"`
}

type statusView struct {
	sourceView
	Records      int64       `json:"records"`
	Blocked      bool        `json:"blocked"`
	RetryAfter   string      `json:"retry_after,omitempty"`
	RecentErrors []errorView `json:"recent_errors"`
}

type recordView struct {
	Identifier string    `json:"identifier"`
	Format     string    `json:"format"`
	SourceID   string    `json:"source_id"`
	Timestamp  time.Time `json:"timestamp"`
	Deleted    bool      `json:"deleted,omitempty"`
}

func toSourceView(s model.Source) sourceView {
	return sourceView{ID: s.ID, Name: s.Name, URL: s.URL, Format: s.Format, LastUpdate: s.LastUpdate.UTC()}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.d.Ping != nil {
		if err := h.d.Ping(r.Context()); err != nil {
			h.log.Warn("health check failed", zap.Error(err))
			h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) listSources(w http.ResponseWriter, r *http.Request) {
	list, err := h.d.Sources.List(r.Context())
	if err != nil {
		h.fail(w, "list sources", err)
		return
	}
	out := make([]sourceView, 0, len(list))
	for _, s := range list {
		out = append(out, toSourceView(s))
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) sourceStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	limit := defaultErrorLimit
	if v := r.URL.Query().Get("errors"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "errors must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxErrorLimit)
	}

	src, err := h.d.Sources.Get(ctx, id)
	if err != nil {
		h.fail(w, "get source", err)
		return
	}
	count, err := h.d.Records.CountBySource(ctx, id)
	if err != nil {
		h.fail(w, "count records", err)
		return
	}
	recent, err := h.d.Errors.ListBySource(ctx, id, limit)
	if err != nil {
		h.fail(w, "list errors", err)
		return
	}
	allowed, retry, err := h.d.Limiter.Allow(ctx, id)
	if err != nil {
		h.fail(w, "limiter", err)
		return
	}

	out := statusView{
		sourceView:   toSourceView(*src),
		Records:      count,
		Blocked:      !allowed,
		RecentErrors: make([]errorView, 0, len(recent)),
	}
	if !allowed {
		out.RetryAfter = retry.Round(time.Second).String()
	}
	for _, e := range recent {
		out.RecentErrors = append(out.RecentErrors, errorView{Identifier: e.Identifier, Text: e.Text, CreatedAt: e.CreatedAt.UTC()})
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) duplicates(w http.ResponseWriter, r *http.Request) {
	fp := chi.URLParam(r, "fp")
	recs, err := h.d.Records.ListByFingerprint(r.Context(), fp)
	if err != nil {
		h.fail(w, "list by fingerprint", err)
		return
	}
	if len(recs) == 0 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	out := make([]recordView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recordView{
			Identifier: rec.Identifier,
			Format:     rec.Format,
			SourceID:   rec.SourceID,
			Timestamp:  rec.Timestamp.UTC(),
			Deleted:    rec.Deleted,
		})
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, errs.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	h.log.Error(op, zap.Error(err))
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warn("write response", zap.Error(err))
	}
}
