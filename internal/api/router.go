package api

import (
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/apk-analysis/apk-risk-go/internal/api/handlers"
	"github.com/apk-analysis/apk-risk-go/internal/config"
	"github.com/apk-analysis/apk-risk-go/internal/middleware"
	"github.com/apk-analysis/apk-risk-go/internal/repository"
	"github.com/apk-analysis/apk-risk-go/internal/service"
)

// Dependencies 路由依赖
type Dependencies struct {
	Config    *config.Config
	Logger    *logrus.Logger
	Service   service.AnalysisService
	Reports   handlers.ReportReader
	Banks     repository.BankRepository
	Publisher handlers.JobPublisher        // 可为 nil，异步接口返回 503
	Metrics   *middleware.PrometheusMetrics // 可为 nil
	Feed      *handlers.VerdictFeed
}

// SetupRouter 注册中间件与路由
func SetupRouter(deps Dependencies) *gin.Engine {
	cfg := deps.Config
	logger := deps.Logger

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// 全局中间件
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())

	var recorder handlers.ErrorRecorder
	if deps.Metrics != nil {
		r.Use(deps.Metrics.HTTPMiddleware())
		r.GET("/metrics/prometheus", deps.Metrics.Handler())
		recorder = deps.Metrics
	}

	analysisHandler := handlers.NewAnalysisHandler(
		deps.Service,
		deps.Publisher,
		filepath.Join(cfg.Analysis.UploadDir, "incoming"),
		cfg.Analysis.MaxUploadBytes(),
		recorder,
		logger,
	)
	reportHandler := handlers.NewReportHandler(deps.Reports, logger)
	bankHandler := handlers.NewBankHandler(deps.Banks, logger)
	healthHandler := handlers.NewHealthHandler(deps.Service)

	// 分析接口限流
	analyzeChain := []gin.HandlerFunc{}
	if cfg.Server.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(cfg.Server.RateLimit.RequestsPerSecond, cfg.Server.RateLimit.Burst, deps.Metrics)
		analyzeChain = append(analyzeChain, limiter.Middleware())
	}

	auth := middleware.AuthMiddleware(cfg.Server.APIToken)

	v1 := r.Group("/api")
	{
		v1.GET("/health", healthHandler.Health)

		// 分析
		v1.POST("/analyze", append(analyzeChain, analysisHandler.Analyze)...)
		v1.POST("/analyze/async", append(analyzeChain, analysisHandler.AnalyzeAsync)...)

		// 报告
		v1.GET("/reports", reportHandler.ListReports)
		v1.GET("/reports/sha/:sha256", reportHandler.GetReportByDigest)
		v1.GET("/reports/:id", reportHandler.GetReport)

		// 银行参考数据
		v1.GET("/banks", bankHandler.ListBanks)
		v1.POST("/banks", auth, bankHandler.CreateBank)
		v1.DELETE("/banks/:id", auth, bankHandler.DeleteBank)
	}

	if deps.Feed != nil {
		r.GET("/ws/verdicts", deps.Feed.HandleWebSocket)
	}

	return r
}

// LoggerMiddleware 日志中间件
func LoggerMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"status":    c.Writer.Status(),
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"client_ip": c.ClientIP(),
			"latency":   time.Since(startTime).Milliseconds(),
		})
		if c.Writer.Status() >= 500 {
			entry.Warn("HTTP Request")
			return
		}
		entry.Info("HTTP Request")
	}
}

// CORSMiddleware CORS 中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
