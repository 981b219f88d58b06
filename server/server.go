// Package server exposes the translation engine over HTTP for the
// journaling app: inline translation of a markdown payload, and file-backed
// translation of documents stored in a data directory.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/minios-linux/jtrans/engine"
	"github.com/minios-linux/jtrans/langmeta"
	"github.com/minios-linux/jtrans/translate"
	"github.com/minios-linux/jtrans/txcache"
)

const defaultMaxBodyBytes = 4 << 20

// Config configures a Server.
type Config struct {
	// DataDir holds the documents served by the file-backed route.
	DataDir string
	// Translator is shared by all requests.
	Translator translate.Translator
	// Engine carries the sentinel and line-break settings. OnLog is
	// replaced per request with the request logger.
	Engine engine.Options
	// Logger receives access and engine logs.
	Logger zerolog.Logger
	// MaxBodyBytes limits request bodies. Default: 4 MiB.
	MaxBodyBytes int64
}

// Server is the HTTP front of the translation engine.
type Server struct {
	cfg      Config
	log      zerolog.Logger
	router   chi.Router
	inflight *inflight
	registry *prometheus.Registry
	metrics  *Metrics
}

// New builds a server and its routes.
func New(cfg Config) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	reg := prometheus.NewRegistry()
	s := &Server{
		cfg:      cfg,
		log:      cfg.Logger,
		inflight: newInflight(),
		registry: reg,
		metrics:  NewMetrics(reg),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "inFlight": s.inflight.len()})
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/translate", s.handleTranslate)
		r.Post("/documents/{id}/translate", s.handleTranslateDocument)
	})

	s.router = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("event", "server_start").Str("addr", addr).Str("data_dir", s.cfg.DataDir).Msg("jtrans server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.log.Info().Str("event", "server_shutdown").Msg("jtrans server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

// requestLogger tags every request with a UUID, attaches a request logger
// to the context and records access logs and request metrics.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", reqID)

		l := s.log.With().Str("request_id", reqID).Logger()
		r = r.WithContext(l.WithContext(r.Context()))

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		d := time.Since(start)
		if strings.HasPrefix(route, "/api/") {
			s.metrics.RecordRequest(route, status, d)
		}

		ev := l.Info()
		if status >= 500 {
			ev = l.Error()
		}
		ev.Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration_ms", d).
			Msg("request completed")
	})
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

type translateRequest struct {
	DocumentID string          `json:"documentId"`
	Markdown   string          `json:"markdown"`
	From       string          `json:"from"`
	To         string          `json:"to"`
	Cache      json.RawMessage `json:"cache,omitempty"`
}

type translateResponse struct {
	Markdown string         `json:"markdown"`
	Cache    *txcache.Cache `json:"cache"`
	Stats    *engine.Stats  `json:"stats,omitempty"`
	Output   string         `json:"output,omitempty"`
	Error    string         `json:"error,omitempty"`
}

type documentRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

var documentID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req translateRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := validatePair(req.From, req.To); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var cache *txcache.Cache
	if len(req.Cache) > 0 && string(req.Cache) != "null" {
		c, err := txcache.Decode(req.Cache)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		cache = c
	}

	res, code, err := s.run(r.Context(), req.DocumentID, req.Markdown, req.From, req.To, cache)
	if err != nil {
		writeJSON(w, code, translateResponse{Markdown: res.Markdown, Cache: res.Cache, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, translateResponse{Markdown: res.Markdown, Cache: res.Cache, Stats: &res.Stats})
}

// handleTranslateDocument translates <DataDir>/<id>.md into <id>.<to>.md,
// keeping the cache of that pair in <id>.<to>.md.translation.json.
func (s *Server) handleTranslateDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !documentID.MatchString(id) || strings.Contains(id, "..") {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid document id %q", id))
		return
	}
	var req documentRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := validatePair(req.From, req.To); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	docPath := filepath.Join(s.cfg.DataDir, id+".md")
	data, err := os.ReadFile(docPath)
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, fmt.Errorf("document %q not found", id))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	outPath := filepath.Join(s.cfg.DataDir, id+"."+langmeta.Canonicalize(req.To)+".md")
	cachePath := txcache.CachePath(outPath)
	cache, err := txcache.LoadFile(cachePath)
	if err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Str("cache", cachePath).Msg("ignoring unreadable cache")
		cache = nil
	}

	res, code, err := s.run(r.Context(), id, string(data), req.From, req.To, cache)
	if err != nil {
		writeJSON(w, code, translateResponse{Markdown: res.Markdown, Error: err.Error()})
		return
	}

	if err := os.WriteFile(outPath, []byte(res.Markdown), 0644); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("writing translation: %w", err))
		return
	}
	if err := res.Cache.SaveFile(cachePath); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, translateResponse{
		Markdown: res.Markdown,
		Cache:    res.Cache,
		Stats:    &res.Stats,
		Output:   filepath.Base(outPath),
	})
}

// run executes one engine cycle for a document and maps its error to an
// HTTP status. Requests without a document id never supersede each other.
func (s *Server) run(ctx context.Context, docID, markdown, from, to string, cache *txcache.Cache) (*engine.Result, int, error) {
	l := zerolog.Ctx(ctx)
	if docID != "" {
		var done func()
		var superseded bool
		ctx, done, superseded = s.inflight.begin(ctx, docID)
		defer done()
		if superseded {
			s.metrics.SupersededTotal.Inc()
			l.Debug().Str("document", docID).Msg("cancelled older request for document")
		}
	}
	s.metrics.RequestsInFlight.Inc()
	defer s.metrics.RequestsInFlight.Dec()

	opts := s.cfg.Engine
	opts.OnLog = func(format string, args ...any) {
		l.Info().Str("document", docID).Msgf(format, args...)
	}
	res, err := engine.New(s.cfg.Translator, opts).Translate(ctx, markdown, from, to, cache)
	s.metrics.RecordStats(res.Stats)
	if err == nil {
		return res, http.StatusOK, nil
	}

	code := statusFor(ctx, err)
	l.Warn().Err(err).Str("document", docID).Int("status", code).Msg("translation failed")
	return res, code, err
}

func statusFor(ctx context.Context, err error) int {
	switch {
	case errors.Is(context.Cause(ctx), errSuperseded):
		return http.StatusConflict
	case translate.IsConfigError(err):
		return http.StatusServiceUnavailable
	case translate.IsProviderError(err):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func validatePair(from, to string) error {
	if to == "" || !langmeta.Valid(to) {
		return fmt.Errorf("invalid target language %q", to)
	}
	if from != "auto" && (from == "" || !langmeta.Valid(from)) {
		return fmt.Errorf("invalid source language %q", from)
	}
	return nil
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
