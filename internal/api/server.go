package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/contestboard/internal/contest"
	"github.com/JakeFAU/contestboard/internal/imaging"
	"github.com/JakeFAU/contestboard/internal/metrics"
	"github.com/JakeFAU/contestboard/internal/scheduler"
)

// SnapshotReader exposes the currently published pair.
type SnapshotReader interface {
	Read() (*contest.Snapshot, contest.Meta)
	Ready() bool
}

// Refresher starts builds on demand and reports scheduler state.
type Refresher interface {
	Trigger() error
	State() scheduler.State
}

// Config holds the server's routing knobs.
type Config struct {
	// ImageKeyPrefix is prepended to /images/{name} when reading the blob store.
	ImageKeyPrefix string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the snapshot store and scheduler.
type Server struct {
	router    chi.Router
	cfg       Config
	snapshots SnapshotReader
	refresher Refresher
	images    contest.BlobStore
	clock     contest.Clock
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes. refresher and
// images may be nil, which disables their routes.
func NewServer(
	cfg Config,
	snapshots SnapshotReader,
	refresher Refresher,
	images contest.BlobStore,
	clock contest.Clock,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	s := &Server{
		cfg:       cfg,
		snapshots: snapshots,
		refresher: refresher,
		images:    images,
		clock:     clock,
		logger:    logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/contests", s.getContests)
		r.Get("/meta", s.getMeta)
		r.Post("/refresh", s.postRefresh)
	})
	r.Get("/images/{name}", s.getImage)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if !s.snapshots.Ready() {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "waiting for first snapshot"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getContests(w http.ResponseWriter, _ *http.Request) {
	snap, _ := s.snapshots.Read()
	s.writeJSON(w, http.StatusOK, snap.Contests())
}

// metaResponse is the wire form of contest.Meta.
type metaResponse struct {
	LastUpdate        *time.Time `json:"last_update"`
	NextUpdateMinutes int        `json:"next_update_minutes"`
	ContestCount      int        `json:"contest_count"`
	BuildID           string     `json:"build_id,omitempty"`
	LastAttempt       *time.Time `json:"last_attempt,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
	State             string     `json:"state,omitempty"`
}

func (s *Server) getMeta(w http.ResponseWriter, _ *http.Request) {
	_, meta := s.snapshots.Read()
	resp := metaResponse{
		LastUpdate:        timePtr(meta.LastUpdate),
		NextUpdateMinutes: meta.NextUpdateETAMinutes(s.clock.Now()),
		ContestCount:      meta.ContestCount,
		BuildID:           meta.BuildID,
		LastAttempt:       timePtr(meta.LastAttempt),
		LastError:         meta.LastError,
	}
	if s.refresher != nil {
		resp.State = string(s.refresher.State())
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) postRefresh(w http.ResponseWriter, _ *http.Request) {
	if s.refresher == nil {
		s.writeError(w, http.StatusNotImplemented, "refresh not available")
		return
	}
	switch err := s.refresher.Trigger(); {
	case err == nil:
		s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "build started"})
	case errors.Is(err, contest.ErrBuildInProgress):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	}
}

func (s *Server) getImage(w http.ResponseWriter, r *http.Request) {
	if s.images == nil {
		s.writeError(w, http.StatusNotFound, "images not configured")
		return
	}
	name := chi.URLParam(r, "name")
	if name == "" || name == "." || name == ".." || name != imaging.SanitizeName(name) {
		s.writeError(w, http.StatusBadRequest, "invalid image name")
		return
	}
	rc, err := s.images.GetObject(r.Context(), imaging.ObjectKey(s.cfg.ImageKeyPrefix, name))
	if errors.Is(err, contest.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "image not found")
		return
	}
	if err != nil {
		s.logger.Error("image read failed", zap.String("name", name), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "image read failed")
		return
	}
	defer func() {
		if cerr := rc.Close(); cerr != nil {
			s.logger.Debug("image close failed", zap.Error(cerr))
		}
	}()
	w.Header().Set("Content-Type", imaging.ContentType)
	w.Header().Set("Cache-Control", "public, max-age=300")
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn("image write failed", zap.String("name", name), zap.Error(err))
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

type requestIDKey struct{}

// RequestID returns the request ID assigned by the middleware, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.String("request_id", RequestID(r.Context())),
					zap.Any("panic", rec),
				)
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
