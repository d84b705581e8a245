// Package server exposes the HTTP surface of the scheduler process: webhook
// ingest for WEBHOOK_RECEIVED areas, health, metrics and read-only views of
// the execution ledger.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rendis/area/internal/queue"
	"github.com/rendis/area/internal/store"
	"github.com/rendis/area/internal/streaming"
	"github.com/rendis/area/internal/triggers"
	"github.com/rendis/area/pkg/schema"
)

// MaxBodyBytes bounds the size of an accepted webhook body.
const MaxBodyBytes = 1 << 20

// AreaReader is the read side of the store the server needs.
type AreaReader interface {
	GetArea(ctx context.Context, id string) (*schema.Area, error)
	ListExecutions(ctx context.Context, filter store.ExecutionFilter) ([]*store.ExecutionRecord, error)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Deps holds the collaborators of the HTTP surface.
type Deps struct {
	Areas    AreaReader
	Queue    queue.Queue
	Gatherer prometheus.Gatherer
	Checks   map[string]HealthCheck
	Events   streaming.Hub
	Logger   *slog.Logger
	Now      func() time.Time
}

// Server routes HTTP requests.
type Server struct {
	deps   Deps
	router chi.Router
}

// New builds the router. Areas is required; a nil Queue disables webhook
// ingest (503), a nil Gatherer disables /metrics and a nil Events hub
// disables /api/events.
func New(deps Deps) (*Server, error) {
	if deps.Areas == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "server: area reader is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}

	s := &Server{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}
	r.Post("/hooks/{areaID}", s.handleHook)
	if deps.Events != nil {
		r.Get("/api/events", s.handleEvents)
	}
	r.Route("/api/areas/{areaID}", func(r chi.Router) {
		r.Get("/", s.handleArea)
		r.Get("/executions", s.handleExecutions)
	})

	s.router = r
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully within the given grace period.
func (s *Server) ListenAndServe(ctx context.Context, addr string, grace time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.deps.Logger.Info("http server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(s.deps.Checks))
	status := http.StatusOK
	for name, check := range s.deps.Checks {
		if err := check(r.Context()); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	body := map[string]any{"status": "ok"}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	if len(checks) > 0 {
		body["checks"] = checks
	}
	writeJSON(w, status, body)
}

func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	if s.deps.Queue == nil {
		writeError(w, http.StatusServiceUnavailable, "webhook ingest disabled")
		return
	}

	areaID := chi.URLParam(r, "areaID")
	area, err := s.deps.Areas.GetArea(r.Context(), areaID)
	if err != nil {
		s.writeAreaError(w, err)
		return
	}
	if area.Action.Name != triggers.WebhookReceived {
		writeError(w, http.StatusConflict, "area is not triggered by "+triggers.WebhookReceived)
		return
	}
	if !area.IsActive {
		writeError(w, http.StatusConflict, "area is inactive")
		return
	}

	payload, err := decodePayload(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ev := queue.Event{
		ID:         uuid.NewString(),
		AreaID:     areaID,
		Payload:    payload,
		Headers:    flattenHeaders(r.Header),
		ReceivedAt: s.deps.Now(),
	}
	if err := s.deps.Queue.Push(r.Context(), areaID, ev); err != nil {
		s.deps.Logger.Error("webhook push failed",
			slog.String("area_id", areaID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusServiceUnavailable, "event queue unavailable")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"event_id": ev.ID})
}

func (s *Server) handleArea(w http.ResponseWriter, r *http.Request) {
	area, err := s.deps.Areas.GetArea(r.Context(), chi.URLParam(r, "areaID"))
	if err != nil {
		s.writeAreaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, areaView{
		ID:                  area.ID,
		Name:                area.Name,
		IsActive:            area.IsActive,
		Action:              area.Action.Name,
		LastExecutedAt:      area.LastExecutedAt,
		ErrorLog:            area.ErrorLog,
		ConsecutiveFailures: area.ConsecutiveFailures,
		Paused:              area.Paused(),
	})
}

func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	filter := store.ExecutionFilter{
		AreaID: chi.URLParam(r, "areaID"),
		Status: schema.ExecutionStatus(r.URL.Query().Get("status")),
		Limit:  50,
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}

	records, err := s.deps.Areas.ListExecutions(r.Context(), filter)
	if err != nil {
		s.writeAreaError(w, err)
		return
	}
	if records == nil {
		records = []*store.ExecutionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// handleEvents streams execution events as server-sent events until the
// client disconnects. Query: area_id, and status (repeatable).
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	filter := streaming.Filter{AreaID: r.URL.Query().Get("area_id")}
	for _, st := range r.URL.Query()["status"] {
		filter.Statuses = append(filter.Statuses, schema.ExecutionStatus(st))
	}

	ch, cancel, err := s.deps.Events.Subscribe(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Status, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// areaView is the ledger-facing projection of an Area. Action parameters
// and state are never exposed.
type areaView struct {
	ID                  string     `json:"id"`
	Name                string     `json:"name"`
	IsActive            bool       `json:"is_active"`
	Action              string     `json:"action"`
	LastExecutedAt      *time.Time `json:"last_executed_at"`
	ErrorLog            *string    `json:"error_log"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	Paused              bool       `json:"paused"`
}

func (s *Server) writeAreaError(w http.ResponseWriter, err error) {
	var areaErr *schema.AreaError
	if errors.As(err, &areaErr) && areaErr.Code == schema.ErrCodeNotFound {
		writeError(w, http.StatusNotFound, areaErr.Message)
		return
	}
	s.deps.Logger.Error("store read failed", slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "internal error")
}

// decodePayload reads a JSON object body. An empty body yields an empty
// payload; any other JSON value is rejected.
func decodePayload(body io.Reader) (map[string]any, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, errors.New("request body too large or unreadable")
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return map[string]any{}, nil
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, errors.New("body must be a JSON object")
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return payload, nil
}

// flattenHeaders keeps the first value of every header, keyed by its
// lower-cased name.
func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[strings.ToLower(k)] = v[0]
		}
	}
	return out
}
