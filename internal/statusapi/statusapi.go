// Package statusapi serves the kiosk state to the local renderer.
//
// Every handler reads through the current session; nothing is cached
// here, so a session restart is visible on the next request.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/shelfcast/internal/bootstrap"
	"github.com/roach88/shelfcast/internal/engine"
	"github.com/roach88/shelfcast/internal/imagecache"
	"github.com/roach88/shelfcast/internal/ir"
	"github.com/roach88/shelfcast/internal/session"
	"github.com/roach88/shelfcast/internal/store"
)

// Sessions yields the current session. *session.Manager satisfies it.
type Sessions interface {
	Current() *session.Session
}

// Blobs reads cached images. *store.Store satisfies it.
type Blobs interface {
	GetImage(ctx context.Context, key string) (store.Image, error)
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// BootstrapStatus is the bootstrap part of StatusResponse.
type BootstrapStatus struct {
	State    bootstrap.State  `json:"state"`
	Source   bootstrap.Source `json:"source,omitempty"`
	Hydrated int              `json:"hydrated"`
	Fetched  int              `json:"fetched"`
	Added    int              `json:"added"`
	Removed  int              `json:"removed"`
	Error    string           `json:"error,omitempty"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Session    string                    `json:"session"`
	Field      string                    `json:"field"`
	Bootstrap  BootstrapStatus           `json:"bootstrap"`
	Connection engine.ConnState          `json:"connection"`
	Size       int                       `json:"size"`
	Digest     string                    `json:"digest"`
	Revision   int64                     `json:"revision"`
	LastUpdate *engine.UpdateReport      `json:"lastUpdate,omitempty"`
	Preload    *imagecache.PreloadReport `json:"preload,omitempty"`
	Queue      int                       `json:"queue"`
	Dropped    int64                     `json:"dropped"`
	Seq        int64                     `json:"seq"`
}

// CatalogResponse is the body of GET /catalog.
type CatalogResponse struct {
	Field    string       `json:"field"`
	Digest   string       `json:"digest"`
	Products []ir.Product `json:"products"`
}

// Server is the renderer-facing HTTP API.
type Server struct {
	sessions Sessions
	blobs    Blobs
	router   chi.Router
}

// New builds the router. blobs may be nil, in which case /images answers 404.
func New(sessions Sessions, blobs Blobs) *Server {
	s := &Server{sessions: sessions, blobs: blobs}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthz)
	r.Get("/status", s.status)
	r.Get("/catalog", s.catalog)
	r.Get("/catalog/{barcode}", s.product)
	r.Get("/active", s.active)
	r.Get("/active/events", s.activeEvents)
	r.Get("/images/{key}", s.image)

	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("status api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("status api: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status api shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": ir.AgentVersion})
}

// current returns the running session or answers 503.
func (s *Server) current(w http.ResponseWriter) *session.Session {
	sess := s.sessions.Current()
	if sess == nil {
		writeError(w, http.StatusServiceUnavailable, "no_session", "no field identity yet")
	}
	return sess
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	sess := s.current(w)
	if sess == nil {
		return
	}

	state, _ := sess.Bootstrap.State()
	resp := StatusResponse{
		Session:    sess.Token,
		Field:      sess.Field,
		Bootstrap:  BootstrapStatus{State: state},
		Connection: sess.Engine.ConnState(),
		Size:       sess.Catalog.Len(),
		Digest:     sess.Catalog.Digest(),
		Revision:   sess.Catalog.Revision(),
		Queue:      sess.Engine.QueueLen(),
		Dropped:    sess.Engine.Dropped(),
		Seq:        sess.Engine.Seq(),
	}
	if out, ok := sess.Outcome(); ok {
		resp.Bootstrap.Source = out.Source
		resp.Bootstrap.Hydrated = out.Hydrated
		resp.Bootstrap.Fetched = out.Fetched
		resp.Bootstrap.Added = len(out.Added)
		resp.Bootstrap.Removed = len(out.Removed)
		if out.FetchErr != nil {
			resp.Bootstrap.Error = out.FetchErr.Error()
		}
	}
	if report, ok := sess.Engine.LastUpdate(); ok {
		resp.LastUpdate = &report
	}
	if report, ok := sess.Preload(); ok {
		resp.Preload = &report
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) catalog(w http.ResponseWriter, r *http.Request) {
	sess := s.current(w)
	if sess == nil {
		return
	}
	writeJSON(w, http.StatusOK, CatalogResponse{
		Field:    sess.Field,
		Digest:   sess.Catalog.Digest(),
		Products: sess.Catalog.Get(),
	})
}

func (s *Server) product(w http.ResponseWriter, r *http.Request) {
	sess := s.current(w)
	if sess == nil {
		return
	}
	barcode := chi.URLParam(r, "barcode")
	p, ok := sess.Catalog.Lookup(barcode)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("no product with barcode %q", barcode))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) active(w http.ResponseWriter, r *http.Request) {
	sess := s.current(w)
	if sess == nil {
		return
	}
	a, ok := sess.Engine.Active()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// activeEvents streams active-product changes as server-sent events. A
// cleared product is sent as "null". The stream ends with the session.
func (s *Server) activeEvents(w http.ResponseWriter, r *http.Request) {
	sess := s.current(w)
	if sess == nil {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "")
		return
	}

	ch, cancel := sess.Engine.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	// Start with the current state so the renderer needs no extra request.
	var initial *engine.Active
	if a, ok := sess.Engine.Active(); ok {
		initial = &a
	}
	if err := writeEvent(w, initial); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case a, open := <-ch:
			if !open {
				return
			}
			if err := writeEvent(w, a); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, a *engine.Active) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: active\ndata: %s\n\n", data)
	return err
}

func (s *Server) image(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if s.blobs == nil {
		writeError(w, http.StatusNotFound, "not_found", "image cache disabled")
		return
	}
	img, err := s.blobs.GetImage(r.Context(), key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("no cached image %q", key))
		return
	case err != nil:
		slog.Error("image read failed", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}

	contentType := img.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(img.Data)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	w.Write(img.Data)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("response write failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// requestLogger logs each request at debug level with its request id.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
