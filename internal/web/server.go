package web

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vbonduro/storagesync/internal/bus"
	"github.com/vbonduro/storagesync/internal/search"
	"github.com/vbonduro/storagesync/internal/service"
)

// eventSource is the subset of bus.Bus that the /events stream requires.
type eventSource interface {
	Subscribe(topic bus.Topic, handler bus.Handler) bus.Handle
	Unsubscribe(h bus.Handle)
}

type Options struct {
	// SearchDebounce is the quiet period before a streamed search runs.
	SearchDebounce time.Duration
}

type Server struct {
	service    *service.InventoryService
	events     eventSource
	dispatcher search.Dispatcher
	opts       Options
	upgrader   websocket.Upgrader
	mux        *http.ServeMux
	logger     *slog.Logger

	mu       sync.Mutex
	srv      *http.Server
	closing  chan struct{}
	closed   bool
	sessions sync.WaitGroup
}

func NewServer(svc *service.InventoryService, events eventSource, dispatcher search.Dispatcher, opts Options, logger *slog.Logger) *Server {
	s := &Server{
		service:    svc,
		events:     events,
		dispatcher: dispatcher,
		opts:       opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		mux:     http.NewServeMux(),
		closing: make(chan struct{}),
		logger:  logger,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /boxes", s.handleListBoxes)
	s.mux.HandleFunc("POST /boxes", s.handleCreateBox)
	s.mux.HandleFunc("GET /boxes/{id}", s.handleGetBox)
	s.mux.HandleFunc("DELETE /boxes/{id}", s.handleDeleteBox)
	s.mux.HandleFunc("POST /boxes/{id}/share", s.handleShareBox)
	s.mux.HandleFunc("GET /barcodes/{code}", s.handleFindByBarcode)
	s.mux.HandleFunc("GET /boxes/{id}/items", s.handleListItems)
	s.mux.HandleFunc("POST /boxes/{id}/items", s.handleAddItem)
	s.mux.HandleFunc("PUT /items/{id}", s.handleUpdateItem)
	s.mux.HandleFunc("DELETE /items/{id}", s.handleDeleteItem)
	s.mux.HandleFunc("POST /boxes/{id}/photos", s.handleUploadPhoto)
	s.mux.HandleFunc("GET /photos/{id}", s.handleGetPhoto)
	s.mux.HandleFunc("DELETE /photos/{id}", s.handleDeletePhoto)
	s.mux.HandleFunc("GET /search", s.handleSearch)
	s.mux.HandleFunc("POST /push", s.handlePush)
	s.mux.HandleFunc("GET /events", s.handleEvents)
}

// securityHeaders adds defensive HTTP response headers to every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy", "default-src 'none'; img-src 'self'; connect-src 'self'")
		next.ServeHTTP(w, r)
	})
}

// statusRecorder wraps http.ResponseWriter to capture the written status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack hands the connection to the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func requestLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestLogger(s.logger, securityHeaders(s.mux)).ServeHTTP(w, r)
}

// ListenAndServe blocks until the server fails or Shutdown is called. It
// returns nil after a clean shutdown.
func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("starting server", "addr", addr)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.srv = srv
	s.mu.Unlock()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, closes every event stream and waits for
// in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.closing)
	}
	srv := s.srv
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}
