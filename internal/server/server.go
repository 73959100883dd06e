package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/framegate/framegate/internal/api"
	"github.com/framegate/framegate/internal/config"
	"github.com/framegate/framegate/internal/download"
	"github.com/framegate/framegate/internal/events"
	"github.com/framegate/framegate/internal/logging"
	"github.com/framegate/framegate/internal/middleware"
	"github.com/framegate/framegate/internal/monitoring"
	"github.com/framegate/framegate/internal/probe"
	"github.com/framegate/framegate/internal/proxy"
	"github.com/framegate/framegate/internal/registry"
)

// Server wires the pipeline together and owns the HTTP listener.
type Server struct {
	cfg    *config.Config
	log    *logging.Logger
	http   *http.Server
	remote *events.Remote
}

// New builds the full service from configuration.
func New(cfg *config.Config, log *logging.Logger) (*Server, error) {
	targets, err := registry.LoadFile(cfg.Targets.File)
	if err != nil {
		return nil, err
	}
	log.Info("targets loaded",
		zap.String("file", cfg.Targets.File),
		zap.Int("count", targets.Len()),
	)

	downloads, err := download.NewService(download.ServiceConfig{
		Secret:  downloadSecret(cfg, log),
		BaseDir: cfg.Download.BaseDir,
		Allow:   cfg.Download.Allow,
		Limit:   cfg.Download.Limit,
		Window:  cfg.Download.Window,
	})
	if err != nil {
		return nil, err
	}

	metrics := monitoring.New(nil)

	memory := events.NewMemory(cfg.Events.MemoryBuffer)
	sinks := events.Multi{
		events.NewZapSink(log.Named("events")),
		memory,
		monitoring.NewEventSink(metrics),
	}
	var remote *events.Remote
	if cfg.Events.AnalyticsURL != "" {
		remote = events.NewRemote(events.DefaultRemoteConfig(cfg.Events.AnalyticsURL), log.Named("analytics"))
		sinks = append(sinks, remote)
	}

	handlers := api.NewHandlers(api.HandlersConfig{
		Registry: targets,
		Prober: probe.New(probe.Config{
			Timeout:   cfg.Probe.Timeout,
			UserAgent: cfg.Probe.UserAgent,
		}),
		Rewriter: proxy.New(proxy.Config{
			FetchTimeout: cfg.Proxy.FetchTimeout,
			MaxBodyBytes: cfg.Proxy.MaxBodyBytes,
			UserAgent:    cfg.Proxy.UserAgent,
		}),
		Downloads:   downloads,
		Sink:        sinks,
		Memory:      memory,
		Metrics:     metrics,
		Log:         log,
		LoadTimeout: cfg.Session.LoadTimeout,
	})

	router := buildRouter(cfg, handlers, metrics)

	return &Server{
		cfg: cfg,
		log: log,
		http: &http.Server{
			Addr:    cfg.Server.Host + ":" + cfg.Server.Port,
			Handler: router,
		},
		remote: remote,
	}, nil
}

func buildRouter(cfg *config.Config, handlers *api.Handlers, metrics *monitoring.Metrics) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/demo/:slug", handlers.Demo)
	router.GET("/demo/:slug/site", handlers.Site)

	router.GET("/api/demo/session", handlers.Session)
	router.GET("/api/demo/probe", handlers.Probe)
	router.GET("/api/demo/events", handlers.Events)
	router.GET("/api/targets", handlers.ListTargets)

	router.GET("/download/:slug/:filename", handlers.Download)

	return router
}

// downloadSecret reads the signing secret, generating an ephemeral one
// for local runs so unsigned deployments still start. Links then stop
// surviving restarts, which is acceptable for development only.
func downloadSecret(cfg *config.Config, log *logging.Logger) []byte {
	if cfg.Download.Secret != "" {
		return []byte(cfg.Download.Secret)
	}
	log.Warn("DOWNLOAD_SECRET not set, using ephemeral signing key")
	host, _ := os.Hostname()
	return []byte("ephemeral:" + host + ":" + time.Now().String())
}

// Run starts the listener and blocks until it stops.
func (s *Server) Run() error {
	s.log.Info("server listening", zap.String("addr", s.http.Addr))
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops background delivery.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	if s.remote != nil {
		s.remote.Close()
	}
	return err
}
