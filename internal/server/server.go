package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tubescribe/tubescribe/internal/config"
	jobdomain "github.com/tubescribe/tubescribe/internal/job/domain"
	ledgerdomain "github.com/tubescribe/tubescribe/internal/ledger/domain"
	quotadomain "github.com/tubescribe/tubescribe/internal/quota/domain"
	"github.com/tubescribe/tubescribe/internal/ratelimit"
	subscriptiondomain "github.com/tubescribe/tubescribe/internal/subscription/domain"
	topupdomain "github.com/tubescribe/tubescribe/internal/topup/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(registry *prometheus.Registry) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	return r
}

func registerGin(registry *prometheus.Registry) *gin.Engine {
	return NewEngine(registry)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
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
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	genID           *snowflake.Node
	quotaSvc        quotadomain.Service
	jobSvc          jobdomain.Service
	ledgerSvc       ledgerdomain.Service
	topupSvc        topupdomain.Service
	subscriptionSvc subscriptiondomain.Service
	jobStartLimiter *ratelimit.JobStartLimiter
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	GenID           *snowflake.Node
	QuotaSvc        quotadomain.Service
	JobSvc          jobdomain.Service
	LedgerSvc       ledgerdomain.Service
	TopupSvc        topupdomain.Service
	SubscriptionSvc subscriptiondomain.Service
	JobStartLimiter *ratelimit.JobStartLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http.server"),
		genID:           p.GenID,
		quotaSvc:        p.QuotaSvc,
		jobSvc:          p.JobSvc,
		ledgerSvc:       p.LedgerSvc,
		topupSvc:        p.TopupSvc,
		subscriptionSvc: p.SubscriptionSvc,
		jobStartLimiter: p.JobStartLimiter,
	}

	svc.registerAPIRoutes()
	svc.registerWebhookRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", UserRequired())

	api.GET("/usage", s.GetUsageStats)
	api.GET("/usage/history", s.GetUsageHistory)
	api.POST("/quota/decision", s.DecideAdmission)

	api.POST("/jobs", s.CreateJob)
	api.GET("/jobs", s.ListJobs)
	api.GET("/jobs/:job_id", s.GetJob)
	api.PATCH("/jobs/:job_id", s.AdvanceJob)
	api.POST("/jobs/:job_id/complete", s.CompleteJob)
	api.POST("/jobs/:job_id/fail", s.FailJob)
	api.POST("/jobs/:job_id/cancel", s.CancelJob)

	api.GET("/topup/balance", s.GetTopupBalance)

	api.GET("/transcripts/:youtube_id", s.GetSharedTranscript)
}

func (s *Server) registerWebhookRoutes() {
	webhooks := s.engine.Group("/webhooks")

	webhooks.POST("/topup", s.ApplyTopupCredit)
}
