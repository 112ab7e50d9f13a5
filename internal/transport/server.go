// ABOUTME: HTTP server hosting both wire bindings plus health, info, and docs.
// ABOUTME: Owns listener lifecycle and graceful shutdown.

package transport

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/2389/transit-gateway/internal/auth"
	"github.com/2389/transit-gateway/internal/router"
	"github.com/2389/transit-gateway/internal/rpc"
	"github.com/2389/transit-gateway/internal/store"
)

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// Config holds configuration for the transport server.
type Config struct {
	Router *router.Router
	Logger *slog.Logger
	Usage  store.Store

	// Verifier guards the protocol endpoints when RequireAuth is set.
	Verifier    auth.TokenVerifier
	RequireAuth bool

	// BaseURL prefixes the write-endpoint URL in the legacy rendezvous
	// event. Empty means relative paths.
	BaseURL string

	HandshakeTimeout  time.Duration
	HeartbeatInterval time.Duration

	ServerName    string
	ServerVersion string
}

// Server hosts the streamable and legacy bindings on one mux.
type Server struct {
	router      *router.Router
	logger      *slog.Logger
	usage       store.Store
	verifier    auth.TokenVerifier
	requireAuth bool
	baseURL     string

	handshakeTimeout  time.Duration
	heartbeatInterval time.Duration

	serverName    string
	serverVersion string
	startedAt     time.Time

	// legacy response streams keyed by session ID
	mu      sync.Mutex
	streams map[string]chan *rpc.Response

	httpServer *http.Server
}

// NewServer creates a transport server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Router == nil {
		return nil, errors.New("router is required")
	}
	if cfg.RequireAuth && cfg.Verifier == nil {
		return nil, errors.New("token verifier required when auth is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	usage := cfg.Usage
	if usage == nil {
		usage = store.NopStore{}
	}
	handshakeTimeout := cfg.HandshakeTimeout
	if handshakeTimeout == 0 {
		handshakeTimeout = 10 * time.Second
	}
	heartbeat := cfg.HeartbeatInterval
	if heartbeat == 0 {
		heartbeat = 30 * time.Second
	}
	serverName := cfg.ServerName
	if serverName == "" {
		serverName = "transit-gateway"
	}
	serverVersion := cfg.ServerVersion
	if serverVersion == "" {
		serverVersion = "dev"
	}

	return &Server{
		router:            cfg.Router,
		logger:            logger.With("component", "transport"),
		usage:             usage,
		verifier:          cfg.Verifier,
		requireAuth:       cfg.RequireAuth,
		baseURL:           strings.TrimRight(cfg.BaseURL, "/"),
		handshakeTimeout:  handshakeTimeout,
		heartbeatInterval: heartbeat,
		serverName:        serverName,
		serverVersion:     serverVersion,
		startedAt:         time.Now(),
		streams:           make(map[string]chan *rpc.Response),
	}, nil
}

// RegisterRoutes registers all endpoints on the given ServeMux. The
// protocol endpoints go through the auth guard; health, info, and
// docs stay open.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/mcp", s.requireToken(s.handleStreamable))
	mux.HandleFunc("/sse", s.requireToken(s.handleSSE))
	mux.HandleFunc("/messages", s.requireToken(s.handleMessages))
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/info", s.handleInfo)
	mux.HandleFunc("/docs", s.handleDocs)
}

// Handler builds the full mux. Exposed for tests and embedding.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// Start serves on ln until ctx is cancelled, then shuts down
// gracefully. Long-lived SSE streams are cut after a short drain.
func (s *Server) Start(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(ln)
	}()

	s.logger.Info("transport server listening", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			// open SSE streams outlive the drain window
			s.httpServer.Close()
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// requireToken guards a handler with bearer token verification when
// auth is enabled.
func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	if !s.requireAuth {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")
		principal, err := s.verifier.Verify(token)
		if err != nil {
			s.logger.Debug("rejected token", "error", err)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		s.logger.Debug("authenticated request", "principal", principal, "path", r.URL.Path)
		next(w, r)
	}
}

// registerStream makes a legacy session's response channel reachable
// from the write endpoint.
func (s *Server) registerStream(sessionID string, ch chan *rpc.Response) {
	s.mu.Lock()
	s.streams[sessionID] = ch
	s.mu.Unlock()
}

func (s *Server) unregisterStream(sessionID string) {
	s.mu.Lock()
	delete(s.streams, sessionID)
	s.mu.Unlock()
}

func (s *Server) stream(sessionID string) (chan *rpc.Response, bool) {
	s.mu.Lock()
	ch, ok := s.streams[sessionID]
	s.mu.Unlock()
	return ch, ok
}
