package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	alertdomain "github.com/smallbiznis/storyvoice/internal/alert/domain"
	"github.com/smallbiznis/storyvoice/internal/cache"
	"github.com/smallbiznis/storyvoice/internal/config"
	"github.com/smallbiznis/storyvoice/internal/narration"
	"github.com/smallbiznis/storyvoice/internal/observability"
	obsmiddleware "github.com/smallbiznis/storyvoice/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/storyvoice/internal/observability/metrics"
	obstracing "github.com/smallbiznis/storyvoice/internal/observability/tracing"
	quotadomain "github.com/smallbiznis/storyvoice/internal/quota/domain"
	usagedomain "github.com/smallbiznis/storyvoice/internal/usage/domain"
	"github.com/smallbiznis/storyvoice/internal/usage/liveevents"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(cache.NewUsageStatsCache),
	fx.Provide(NewServer),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// RunHTTP serves the engine for the lifetime of the fx app.
func RunHTTP(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			log.Info("http server started", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	usagesvc   usagedomain.Service
	quotasvc   quotadomain.Service
	gateway    *narration.Gateway
	monitorJob alertdomain.Job
	liveEvents *liveevents.Hub
	statsCache cache.UsageStatsCache
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Usagesvc   usagedomain.Service
	Quotasvc   quotadomain.Service
	Gateway    *narration.Gateway
	MonitorJob alertdomain.Job
	LiveEvents *liveevents.Hub       `optional:"true"`
	StatsCache cache.UsageStatsCache `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		usagesvc:   p.Usagesvc,
		quotasvc:   p.Quotasvc,
		gateway:    p.Gateway,
		monitorJob: p.MonitorJob,
		liveEvents: p.LiveEvents,
		statsCache: p.StatsCache,
	}

	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1/narration", UserRequired())

	api.GET("/quota", s.GetQuota)
	api.POST("/speech", s.Synthesize)
	api.POST("/conversation", s.Converse)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin/usage", UserRequired(), AdminRequired())

	admin.GET("/stats", s.GetUsageStats)
	admin.GET("/top-users", s.ListTopUsers)
	admin.GET("/models", s.ListCostByModel)
	admin.GET("/users/:id/records", s.ListUserRecords)
	admin.GET("/live", s.StreamUsageLiveEvents)
	admin.POST("/monitor", s.RunMonitor)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
