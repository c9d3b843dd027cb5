package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/p-n-ai/pai-progress/internal/app"
	"github.com/p-n-ai/pai-progress/internal/gamification"
	"github.com/p-n-ai/pai-progress/internal/notify"
	"github.com/p-n-ai/pai-progress/internal/progress"
	"github.com/p-n-ai/pai-progress/internal/reconcile"
	"github.com/p-n-ai/pai-progress/internal/report"
)

const (
	maxEventBytes       = 64 << 10
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	readyTimeout        = 2 * time.Second
	xlsxContentType     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// server holds the dependencies of the HTTP handlers.
type server struct {
	tracker *progress.Tracker
	engine  *reconcile.Engine
	hub     *notify.Hub
	ready   func(context.Context) error
}

func newServer(a *app.App) *server {
	return &server{
		tracker: a.Tracker,
		engine:  a.Engine,
		hub:     a.Hub,
		ready:   a.Ready,
	}
}

// newMux creates the HTTP router.
func newMux(s *server) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/progress/{userID}", s.handleGetProgress)
	mux.HandleFunc("POST /v1/progress/{userID}/events", s.handlePostEvent)
	mux.HandleFunc("GET /v1/progress/{userID}/history", s.handleHistory)
	mux.HandleFunc("GET /v1/progress/{userID}/stream", s.handleStream)
	mux.HandleFunc("POST /v1/progress/{userID}/sync", s.handleSync)

	mux.HandleFunc("POST /v1/admin/sync", s.handleSyncAll)
	mux.HandleFunc("GET /v1/admin/progress.xlsx", s.handleExport)
	return mux
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if s.ready != nil {
		if err := s.ready(ctx); err != nil {
			slog.Warn("readiness check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

type levelProgress struct {
	Level    int `json:"level"`
	FloorXP  int `json:"floor_xp"`
	NextXP   int `json:"next_xp"`
	XPToNext int `json:"xp_to_next"`
}

type progressResponse struct {
	Progress      *progress.Progress `json:"progress"`
	LevelProgress levelProgress      `json:"level_progress"`
	Applied       *bool              `json:"applied,omitempty"`
}

func newProgressResponse(p *progress.Progress) progressResponse {
	level, floor, next := gamification.LevelProgress(p.TotalXP)
	return progressResponse{
		Progress: p,
		LevelProgress: levelProgress{
			Level:    level,
			FloorXP:  floor,
			NextXP:   next,
			XPToNext: max(next-p.TotalXP, 0),
		},
	}
}

func (s *server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	p, err := s.tracker.Progress(r.Context(), r.PathValue("userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newProgressResponse(p))
}

func (s *server) handlePostEvent(w http.ResponseWriter, r *http.Request) {
	var ev progress.Event
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ev); err != nil {
		writeError(w, r, fmt.Errorf("%w: decode body: %v", progress.ErrInvalidEvent, err))
		return
	}

	p, applied, err := s.tracker.ApplyEvent(r.Context(), r.PathValue("userID"), ev)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := newProgressResponse(p)
	resp.Applied = &applied
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("limit must be between 1 and %d", maxHistoryLimit),
			})
			return
		}
		limit = n
	}

	entries, err := s.tracker.History(r.Context(), r.PathValue("userID"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *server) handleStream(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	if _, err := s.tracker.Progress(r.Context(), userID); err != nil {
		writeError(w, r, err)
		return
	}

	// Streams outlive the server's write timeout.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		slog.Debug("clearing write deadline", "error", err)
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "user_id", userID, "error", err)
		return
	}
	defer conn.CloseNow()

	sub := s.hub.Subscribe(userID)
	defer sub.Close()

	ctx := conn.CloseRead(r.Context())
	slog.Debug("progress stream opened", "user_id", userID)

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-sub.C:
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, conn, n); err != nil {
				slog.Debug("progress stream closed", "user_id", userID, "error", err)
				return
			}
		}
	}
}

func (s *server) handleSync(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	counts, err := s.engine.Reconcile(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "counts": counts})
}

func (s *server) handleSyncAll(w http.ResponseWriter, r *http.Request) {
	summary, err := s.engine.ReconcileAll(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if summary.Failures == nil {
		summary.Failures = []reconcile.Failure{}
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *server) handleExport(w http.ResponseWriter, r *http.Request) {
	rows, err := s.tracker.Store().List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="progress.xlsx"`)
	if err := report.WriteProgressWorkbook(w, rows); err != nil {
		slog.Error("export failed", "error", err)
	}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, progress.ErrInvalidEvent):
		return http.StatusBadRequest
	case errors.Is(err, progress.ErrInvalidUser), errors.Is(err, progress.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, progress.ErrConcurrentUpdate):
		return http.StatusConflict
	case errors.Is(err, progress.ErrRequirementNotMet):
		return http.StatusUnprocessableEntity
	case errors.Is(err, progress.ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encoding response", "error", err)
	}
}
