// Package server wires the engine together and serves the control API.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/forgeboard/internal/api/http"
	"github.com/GriffinCanCode/forgeboard/internal/api/middleware"
	"github.com/GriffinCanCode/forgeboard/internal/app"
	"github.com/GriffinCanCode/forgeboard/internal/infrastructure/config"
	"github.com/GriffinCanCode/forgeboard/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/forgeboard/internal/logging"
	"github.com/GriffinCanCode/forgeboard/internal/proxy"
	"github.com/GriffinCanCode/forgeboard/internal/registry"
	"github.com/GriffinCanCode/forgeboard/internal/route"
	"github.com/GriffinCanCode/forgeboard/internal/supervisor"
	"github.com/GriffinCanCode/forgeboard/internal/unit"
)

// Server wraps the HTTP server and the engine behind it.
type Server struct {
	cfg    *config.Config
	log    *logging.Logger
	router *gin.Engine
	http   *http.Server
	engine *app.Orchestrator
}

// New builds the full engine from configuration and mounts the control
// API on a Gin router.
func New(cfg *config.Config, log *logging.Logger) *Server {
	layout := cfg.PathLayout()
	metrics := monitoring.New(prometheus.DefaultRegisterer)
	runner := supervisor.NewExecRunner()

	store := registry.New(layout.RegistryFile, log)
	units := unit.New(layout.SystemdDir, log)
	routes := route.New(layout.FragmentsDir, cfg.Proxy.SharedHost, cfg.Proxy.ListenPort, log)

	controller := supervisor.New(runner, supervisor.Options{
		Systemctl:       cfg.Tools.Systemctl,
		Journalctl:      cfg.Tools.Journalctl,
		Timeout:         cfg.Tools.Timeout,
		LogTimeout:      cfg.Tools.LogTimeout,
		DefaultLogLines: cfg.Logs.DefaultLines,
		MaxLogLines:     cfg.Logs.MaxLines,
	}, log).WithMetrics(metrics)

	reloader := proxy.New(runner, layout, proxy.Options{
		Nginx:      cfg.Tools.Nginx,
		Timeout:    cfg.Tools.Timeout,
		SharedHost: cfg.Proxy.SharedHost,
		ListenPort: cfg.Proxy.ListenPort,
	}, log).WithMetrics(metrics)

	engine := app.New(store, units, routes, controller, reloader,
		app.PortRange{Start: cfg.Ports.RangeStart, End: cfg.Ports.RangeEnd}, log).
		WithMetrics(metrics)

	doctor := app.NewDoctor(layout, runner, cfg.Tools.Systemctl, cfg.Tools.Nginx)
	handlers := apihttp.NewHandlers(engine, doctor, log)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
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

	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.GET("/apps", handlers.ListApps)
		api.POST("/apps", handlers.CreateApp)
		api.GET("/apps/:slug", handlers.GetApp)
		api.PUT("/apps/:slug", handlers.UpdateApp)
		api.DELETE("/apps/:slug", handlers.DeleteApp)
		api.POST("/apps/:slug/start", handlers.StartApp)
		api.POST("/apps/:slug/stop", handlers.StopApp)
		api.POST("/apps/:slug/restart", handlers.RestartApp)
		api.GET("/apps/:slug/status", handlers.GetStatus)
		api.GET("/apps/:slug/logs", handlers.GetLogs)
		api.POST("/proxy/reload", handlers.ReloadProxy)
		api.POST("/reconcile", handlers.Reconcile)
		api.GET("/doctor", handlers.Doctor)
	}

	return &Server{cfg: cfg, log: log, router: router, engine: engine}
}

// Engine exposes the orchestrator, for embedding callers.
func (s *Server) Engine() *app.Orchestrator { return s.engine }

// Run serves the control API until the listener fails.
func (s *Server) Run() error {
	addr := s.cfg.Server.Host + ":" + s.cfg.Server.Port
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("control API listening", zap.String("addr", addr))
	return s.http.ListenAndServe()
}

// Close drains in-flight requests and shuts the listener down.
func (s *Server) Close() error {
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}
