package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/bursar/internal/audit"
	auditdomain "github.com/smallbiznis/bursar/internal/audit/domain"
	"github.com/smallbiznis/bursar/internal/collection"
	collectiondomain "github.com/smallbiznis/bursar/internal/collection/domain"
	"github.com/smallbiznis/bursar/internal/config"
	"github.com/smallbiznis/bursar/internal/feeassignment"
	feeassignmentdomain "github.com/smallbiznis/bursar/internal/feeassignment/domain"
	"github.com/smallbiznis/bursar/internal/feecatalog"
	feecatalogdomain "github.com/smallbiznis/bursar/internal/feecatalog/domain"
	"github.com/smallbiznis/bursar/internal/feesummary"
	feesummarydomain "github.com/smallbiznis/bursar/internal/feesummary/domain"
	"github.com/smallbiznis/bursar/internal/ledger"
	"github.com/smallbiznis/bursar/internal/lock"
	"github.com/smallbiznis/bursar/internal/observability"
	obslogger "github.com/smallbiznis/bursar/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/bursar/internal/observability/metrics"
	obstracing "github.com/smallbiznis/bursar/internal/observability/tracing"
	"github.com/smallbiznis/bursar/internal/ratelimit"
	"github.com/smallbiznis/bursar/internal/reporting"
	reportingdomain "github.com/smallbiznis/bursar/internal/reporting/domain"
	"github.com/smallbiznis/bursar/internal/roster"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	roster.Module,
	ledger.Module,
	lock.Module,
	ratelimit.Module,
	audit.Module,
	feecatalog.Module,
	feeassignment.Module,
	collection.Module,
	feesummary.Module,
	reporting.Module,
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
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

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

// RunHTTP serves the engine for the lifetime of the fx app.
func RunHTTP(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, s *Server) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
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
	engine        *gin.Engine
	cfg           config.Config
	db            *gorm.DB
	auditSvc      auditdomain.Service
	catalogSvc    feecatalogdomain.Service
	assignmentSvc feeassignmentdomain.Service
	collectionSvc collectiondomain.Service
	summarySvc    feesummarydomain.Service
	reportingSvc  reportingdomain.Service
	writeLimiter  writeLimiter
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	DB            *gorm.DB
	AuditSvc      auditdomain.Service
	CatalogSvc    feecatalogdomain.Service
	AssignmentSvc feeassignmentdomain.Service
	CollectionSvc collectiondomain.Service
	SummarySvc    feesummarydomain.Service
	ReportingSvc  reportingdomain.Service
	WriteLimiter  *ratelimit.WriteLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		db:            p.DB,
		auditSvc:      p.AuditSvc,
		catalogSvc:    p.CatalogSvc,
		assignmentSvc: p.AssignmentSvc,
		collectionSvc: p.CollectionSvc,
		summarySvc:    p.SummarySvc,
		reportingSvc:  p.ReportingSvc,
	}
	if p.WriteLimiter.Enabled() {
		svc.writeLimiter = p.WriteLimiter
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Fee catalog --------
	api.GET("/fee-catalog", s.ListFeeCatalog)
	api.GET("/fee-catalog/:id", s.GetFeeCatalogEntry)
	api.POST("/fee-catalog", s.ActorRequired(), s.CreateFeeCatalogEntry)
	api.PATCH("/fee-catalog/:id", s.ActorRequired(), s.UpdateFeeCatalogEntry)

	// -------- Assignment --------
	api.POST("/fee-assignment", s.ActorRequired(), s.WriteRateLimit(), s.AssignFees)
	api.POST("/fee-assignment/bulk", s.ActorRequired(), s.WriteRateLimit(), s.BulkAssignFees)
	api.POST("/fee-assignment/grades/:id", s.ActorRequired(), s.WriteRateLimit(), s.AssignGradeFees)

	// -------- Collection --------
	api.POST("/fee-collection", s.ActorRequired(), s.WriteRateLimit(), s.CollectFee)
	api.POST("/fee-cancellation", s.ActorRequired(), s.WriteRateLimit(), s.CancelFee)

	// -------- Summary --------
	api.GET("/fee-summary", s.GetFeeSummary)
	api.GET("/fee-summary/all", s.ListFeeSummaries)

	// -------- Students --------
	api.GET("/students/:id/transactions", s.ListStudentTransactions)
	api.GET("/students/:id/statement", s.GetStudentStatement)
	api.GET("/obligations/:id/reconcile", s.ReconcileObligation)

	// -------- Reports --------
	reports := api.Group("/reports")
	reports.GET("/collections", s.ListCollections)
	reports.GET("/cancellations", s.ListCancellations)
	reports.GET("/daily-collection", s.GetDailyCollection)

	api.GET("/audit-logs", s.ListAuditLogs)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
