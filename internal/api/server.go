// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wallet-inspector/internal/logging"
	"github.com/wallet-inspector/internal/service"
	"github.com/wallet-inspector/internal/storage"
	"github.com/wallet-inspector/internal/types"
)

// InspectorInterface defines the inspection operation the API serves
type InspectorInterface interface {
	Inspect(ctx context.Context, req service.InspectRequest) (*types.WalletSummary, error)
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	inspector  InspectorInterface
	cache      *storage.SummaryCache // nil disables response caching
	gatherer   prometheus.Gatherer
	logger     *logging.Logger
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	ClientRPS       int // Requests per second per client

	// Used to build cache keys when a request leaves the parameter out
	DefaultLookbackBlocks uint64
	DefaultMaxEvents      int
}

// NewServer creates a new API server instance.
func NewServer(
	config *ServerConfig,
	inspector InspectorInterface,
	cache *storage.SummaryCache,
	gatherer prometheus.Gatherer,
	logger *logging.Logger,
) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	s := &Server{
		router:    mux.NewRouter(),
		inspector: inspector,
		cache:     cache,
		gatherer:  gatherer,
		logger:    logger.Component("api"),
		config:    config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.ClientRPS)

	// Set up middleware (order matters!)
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter)) // Rate limiting after CORS
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{DisableCompression: true})).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/wallets/{address}/summary", s.handleGetSummary).Methods("GET")
	api.HandleFunc("/wallets/{address}/summary", s.handleInvalidateSummary).Methods("DELETE")
	api.HandleFunc("/wallets/{address}/narrative", s.handleGetNarrative).Methods("GET")
}

// Handler exposes the routed handler, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "wallet-inspector",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
