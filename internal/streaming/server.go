package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"github.com/lilninoo/learnpress-offline-app-sub000/internal/crypto"
	"github.com/lilninoo/learnpress-offline-app-sub000/internal/middleware"
)

const janitorInterval = 5 * time.Minute

// ErrNotStarted is returned when a stream URL is requested before Start
var ErrNotStarted = errors.New("streaming: server not started")

// Options configures a streaming server
type Options struct {
	// TTL is the stream URL lifetime; zero means DefaultStreamTTL
	TTL time.Duration
	// RateLimit is requests per minute per IP; zero means 600
	RateLimit int
}

// Server serves decrypted media to local players over HTTP range requests.
// It binds to the loopback interface only, on an OS-assigned port, so
// nothing off the machine can reach it; stream ids are unguessable uuids
// handed out by CreateStreamURL.
type Server struct {
	registry *Registry
	key      []byte
	log      *zap.Logger

	rateLimit int

	mu      sync.Mutex
	ln      net.Listener
	srv     *http.Server
	baseURL string
	stop    chan struct{}
}

// NewServer creates a streaming server for envelopes sealed with key
func NewServer(key []byte, opts Options, log *zap.Logger) *Server {
	rateLimit := opts.RateLimit
	if rateLimit <= 0 {
		rateLimit = 600
	}
	return &Server{
		registry:  NewRegistry(opts.TTL),
		key:       key,
		log:       log,
		rateLimit: rateLimit,
	}
}

// Start binds the loopback listener and begins serving. The bound port is
// available through BaseURL afterwards.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return nil
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("failed to bind loopback listener: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.LoggerMiddleware(s.log))
	r.Use(middleware.RecoveryMiddleware(s.log))
	r.Use(httprate.LimitByIP(s.rateLimit, time.Minute))
	r.Get("/stream/{id}", s.handleStream)

	srv := &http.Server{
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	s.ln = ln
	s.srv = srv
	s.baseURL = fmt.Sprintf("http://%s", ln.Addr().String())
	s.stop = make(chan struct{})

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("streaming server failed", zap.Error(err))
		}
	}()
	go s.janitor(s.stop)

	s.log.Info("streaming server started", zap.String("addr", ln.Addr().String()))
	return nil
}

// BaseURL returns the server's loopback base URL; empty before Start
func (s *Server) BaseURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseURL
}

// CreateStreamURL registers an envelope file and returns the URL a local
// player can open. size is the envelope size on disk, mime the plaintext
// content type.
func (s *Server) CreateStreamURL(path string, size int64, mime string) (string, error) {
	s.mu.Lock()
	base := s.baseURL
	s.mu.Unlock()
	if base == "" {
		return "", ErrNotStarted
	}

	id := s.registry.Create(path, size, mime)
	return fmt.Sprintf("%s/stream/%s", base, id), nil
}

// Revoke invalidates every stream URL backed by the given file
func (s *Server) Revoke(path string) int {
	return s.registry.RevokePath(path)
}

// Shutdown stops the listener and drops all registered streams
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	stop := s.stop
	s.ln = nil
	s.srv = nil
	s.baseURL = ""
	s.stop = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	close(stop)
	return srv.Shutdown(ctx)
}

func (s *Server) janitor(stop chan struct{}) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			if purged := s.registry.Purge(now); purged > 0 {
				s.log.Debug("expired streams purged", zap.Int("count", purged))
			}
		}
	}
}

// handleStream handles GET /stream/{id}
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	st, ok := s.registry.lookup(id, time.Now())
	if !ok {
		s.respondError(w, http.StatusNotFound, "stream not found")
		return
	}

	f, err := os.Open(st.path)
	if err != nil {
		s.log.Error("failed to open envelope", zap.String("id", id), zap.Error(err))
		s.respondError(w, http.StatusNotFound, "media file missing")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.log.Error("failed to stat envelope", zap.String("id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to read media")
		return
	}

	rr, err := crypto.NewRangeReader(f, info.Size(), s.key)
	if err != nil {
		s.log.Error("failed to parse envelope", zap.String("id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to read media")
		return
	}

	// the tag covers the whole ciphertext, so it is verified in one pass on
	// the first request and the result is pinned to the stream; fail closed
	first := false
	st.auth.Do(func() {
		first = true
		st.authErr = rr.Authenticate()
	})
	if st.authErr != nil {
		s.log.Error("envelope failed authentication",
			zap.String("id", id),
			zap.Error(st.authErr))
		s.respondError(w, http.StatusForbidden, "media failed integrity check")
		return
	}
	if !first {
		rr.SkipAuthentication()
	}

	w.Header().Set("Content-Type", st.mime)
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, "", time.Time{}, io.NewSectionReader(rr, 0, rr.Size()))
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		s.log.Error("failed to encode JSON response", zap.Error(err))
	}
}
