// Package api exposes the rule engine over HTTP. A single action-dispatch
// endpoint carries all traffic management operations; side effects flow
// through the event hub rather than inline in handlers.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Ea2601/pi5supernode/internal/audit"
	"github.com/Ea2601/pi5supernode/internal/clock"
	"github.com/Ea2601/pi5supernode/internal/config"
	"github.com/Ea2601/pi5supernode/internal/events"
	"github.com/Ea2601/pi5supernode/internal/logging"
	"github.com/Ea2601/pi5supernode/internal/metrics"
	"github.com/Ea2601/pi5supernode/internal/ratelimit"
	"github.com/Ea2601/pi5supernode/internal/store"
	"github.com/Ea2601/pi5supernode/internal/traffic"
)

// ServerConfig holds HTTP server hardening settings.
type ServerConfig struct {
	ReadHeaderTimeout time.Duration // Slowloris prevention
	ReadTimeout       time.Duration // Body read limit
	WriteTimeout      time.Duration // Response timeout
	IdleTimeout       time.Duration // Keep-alive timeout
	MaxHeaderBytes    int           // Header size limit
	MaxBodyBytes      int64         // Request body size limit
}

// DefaultServerConfig returns secure default server configuration.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16, // 64KB header limit
		MaxBodyBytes:      1 << 20, // 1MB body limit
	}
}

// Server handles API requests.
type Server struct {
	cfg     *config.Config
	srvCfg  *ServerConfig
	store   *store.Store
	audit   *audit.Store
	hub     *events.Hub
	sim     *traffic.Simulator
	logger  *logging.Logger
	limiter *ratelimit.Limiter

	wsManager *WSManager
	startTime time.Time

	httpSrv *http.Server
	mux     *http.ServeMux
}

// ServerOptions holds dependencies for the API server.
type ServerOptions struct {
	Config     *config.Config
	Store      *store.Store
	AuditStore *audit.Store
	Hub        *events.Hub
	Simulator  *traffic.Simulator
	Logger     *logging.Logger
	ServerCfg  *ServerConfig
}

// NewServer creates a new API server with the provided options.
func NewServer(opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default().WithComponent("api")
	}

	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}

	srvCfg := opts.ServerCfg
	if srvCfg == nil {
		srvCfg = DefaultServerConfig()
		if cfg.Server != nil && cfg.Server.MaxBodyBytes > 0 {
			srvCfg.MaxBodyBytes = cfg.Server.MaxBodyBytes
		}
	}

	sim := opts.Simulator
	if sim == nil {
		sim = traffic.NewSimulator()
	}

	hub := opts.Hub
	if hub == nil {
		hub = events.NewHub()
	}

	limiter := ratelimit.NewLimiter()
	limiter.StartCleanup(10*time.Minute, 1*time.Hour)

	s := &Server{
		cfg:       cfg,
		srvCfg:    srvCfg,
		store:     opts.Store,
		audit:     opts.AuditStore,
		hub:       hub,
		sim:       sim,
		logger:    logger,
		limiter:   limiter,
		wsManager: NewWSManager(),
		startTime: clock.Now(),
	}

	s.initRoutes()
	return s
}

// WSPublisher returns the publish function for wiring the event bridge.
func (s *Server) WSPublisher() func(topic string, data any) {
	return s.wsManager.Publish
}

func (s *Server) initRoutes() {
	s.mux = http.NewServeMux()

	s.mux.Handle("/api/traffic", s.withMiddleware(http.HandlerFunc(s.handleTraffic)))
	s.mux.HandleFunc("/api/events", s.handleEventsWS)
	s.mux.HandleFunc("/healthz", s.handleHealthz)

	if s.cfg.Server == nil || s.cfg.Server.EnableMetrics {
		s.mux.Handle("/metrics", s.metricsHandler())
	}
}

// metricsHandler refreshes the hub gauges before each scrape. The hub keeps
// its own counters; nothing else exports them.
func (s *Server) metricsHandler() http.Handler {
	inner := promhttp.Handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		published, dropped := s.hub.Stats()
		reg := metrics.Get()
		reg.EventsPublished.Set(float64(published))
		reg.EventsDropped.Set(float64(dropped))
		inner.ServeHTTP(w, r)
	})
}

// withMiddleware wraps a handler in the standard chain: CORS, rate limiting,
// body size limit, request logging.
func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		if s.cfg.Server != nil && s.cfg.Server.RateLimitRPS > 0 {
			ip := getClientIP(r)
			if !s.limiter.Allow(ip, s.cfg.Server.RateLimitRPS, time.Second) {
				writeAPIError(w, http.StatusTooManyRequests, codeRateLimited, "Too many requests")
				return
			}
		}

		r.Body = http.MaxBytesReader(w, r.Body, s.srvCfg.MaxBodyBytes)

		start := clock.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", getClientIP(r),
			"duration", clock.Since(start))
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": clock.Since(s.startTime).Round(time.Second).String(),
	})
}

// Start begins serving on the configured listen address. Blocks until the
// server exits.
func (s *Server) Start() error {
	listen := ":8090"
	if s.cfg.Server != nil && s.cfg.Server.Listen != "" {
		listen = s.cfg.Server.Listen
	}

	s.httpSrv = &http.Server{
		Addr:              listen,
		Handler:           s.mux,
		ReadHeaderTimeout: s.srvCfg.ReadHeaderTimeout,
		ReadTimeout:       s.srvCfg.ReadTimeout,
		WriteTimeout:      s.srvCfg.WriteTimeout,
		IdleTimeout:       s.srvCfg.IdleTimeout,
		MaxHeaderBytes:    s.srvCfg.MaxHeaderBytes,
	}

	s.logger.Info("api server listening", "addr", listen)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.Stop()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Handler returns the server's root handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}
