package http

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/persistence"
	"github.com/sawpanic/tradegate/internal/pipeline"
)

// ServerConfig holds server configuration
type ServerConfig struct {
	Host           string        `yaml:"host"`                 // Default: 127.0.0.1
	Port           int           `yaml:"port" env:"HTTP_PORT"` // Default: 8080
	ReadTimeout    time.Duration `yaml:"read_timeout"`         // Default: 10s
	WriteTimeout   time.Duration `yaml:"write_timeout"`        // Default: 60s
	IdleTimeout    time.Duration `yaml:"idle_timeout"`         // Default: 60s
	RequestTimeout time.Duration `yaml:"request_timeout"`      // Default: 45s
	Version        string        `yaml:"-"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:           "127.0.0.1", // Local-only by default
		Port:           8080,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   60 * time.Second,
		IdleTimeout:    60 * time.Second,
		RequestTimeout: 45 * time.Second,
		Version:        "dev",
	}
}

// Deps are the collaborators the server exposes
type Deps struct {
	Pipeline  *pipeline.Pipeline
	Decisions persistence.DecisionRepo
	Health    persistence.RepositoryHealth
	Metrics   *MetricsRegistry
	Hub       *Hub
}

// Server is the JSON API, metrics and decision stream front end
type Server struct {
	router   *mux.Router
	server   *http.Server
	handlers *Handlers
	hub      *Hub
	config   ServerConfig
}

// NewServer wires routes over deps. Metrics and Hub are created when nil.
func NewServer(config ServerConfig, deps Deps) (*Server, error) {
	if deps.Pipeline == nil {
		return nil, errors.New("server requires a pipeline")
	}
	if deps.Decisions == nil {
		return nil, errors.New("server requires a decision repository")
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetricsRegistry()
	}
	if deps.Hub == nil {
		deps.Hub = NewHub(deps.Metrics)
	}

	s := &Server{
		router: mux.NewRouter(),
		handlers: &Handlers{
			pipeline:  deps.Pipeline,
			decisions: deps.Decisions,
			health:    deps.Health,
			hub:       deps.Hub,
			metrics:   deps.Metrics,
			version:   config.Version,
			started:   time.Now(),
		},
		hub:    deps.Hub,
		config: config,
	}
	s.setupRoutes(deps.Metrics)

	s.server = &http.Server{
		Addr:         s.Address(),
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s, nil
}

// Handler exposes the router for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(metrics *MetricsRegistry) {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)
	s.router.Use(s.corsMiddleware)

	s.router.Handle("/metrics", metrics.MetricsHandler()).Methods(http.MethodGet)
	s.router.HandleFunc("/ws/decisions", s.hub.ServeWS).Methods(http.MethodGet)

	api := s.router.PathPrefix("/").Subrouter()
	api.Use(s.timeoutMiddleware)
	api.Use(s.jsonContentTypeMiddleware)

	api.HandleFunc("/health", s.handlers.Health).Methods(http.MethodGet)
	api.HandleFunc("/regime", s.handlers.Regime).Methods(http.MethodGet)
	api.HandleFunc("/sectors", s.handlers.Sectors).Methods(http.MethodGet)
	api.HandleFunc("/evaluate", s.handlers.Evaluate).Methods(http.MethodPost)
	api.HandleFunc("/cycle", s.handlers.Cycle).Methods(http.MethodPost)
	api.HandleFunc("/decisions", s.handlers.Decisions).Methods(http.MethodGet)
	api.HandleFunc("/decisions/{id}", s.handlers.Decision).Methods(http.MethodGet)
	api.HandleFunc("/ledger", s.handlers.Ledger).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(s.handlers.NotFound)
}

type ctxKey int

const requestIDKey ctxKey = iota

// RequestID returns the request ID stored by the middleware
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// requestIDMiddleware adds unique request ID to each request
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()[:8]
		}
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLoggingMiddleware logs all requests with structured format
func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		event := log.Info()
		if wrapper.statusCode >= http.StatusInternalServerError {
			event = log.Warn()
		}
		event.
			Str("request_id", RequestID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("HTTP request")
	})
}

// timeoutMiddleware bounds every API request; the pipeline honours the deadline
func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// corsMiddleware adds CORS headers for local development
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && localOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// localOrigin accepts requests without an Origin or from localhost
func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// jsonContentTypeMiddleware sets JSON content type for API responses
func (s *Server) jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Start listens and serves until Shutdown. It returns nil on a clean shutdown.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.Address())
	if err != nil {
		return fmt.Errorf("port %d is busy or unavailable: %w", s.config.Port, err)
	}

	log.Info().Str("addr", s.Address()).Msg("Starting HTTP server")
	if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains requests and disconnects stream clients
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")
	s.hub.Close()
	return s.server.Shutdown(ctx)
}

// Address returns the listen address
func (s *Server) Address() string {
	return net.JoinHostPort(s.config.Host, fmt.Sprint(s.config.Port))
}

// responseWrapper captures HTTP status codes for logging
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade pass through the logging wrapper
func (rw *responseWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Flush passes through to streaming writers
func (rw *responseWrapper) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
