package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/apk-analysis/apk-risk-go/internal/api"
	"github.com/apk-analysis/apk-risk-go/internal/api/handlers"
	"github.com/apk-analysis/apk-risk-go/internal/app"
	"github.com/apk-analysis/apk-risk-go/internal/config"
	"github.com/apk-analysis/apk-risk-go/internal/middleware"
	"github.com/apk-analysis/apk-risk-go/internal/queue"
	"github.com/apk-analysis/apk-risk-go/internal/repository"
	"github.com/apk-analysis/apk-risk-go/internal/service"
	"github.com/apk-analysis/apk-risk-go/internal/watcher"
	"github.com/apk-analysis/apk-risk-go/internal/worker"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// 1. 打印版本信息
	fmt.Printf("APK Risk Analysis Service\n")
	fmt.Printf("Version: %s\n", Version)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n\n", GitCommit)
	handlers.Version = Version

	// 2. 加载配置（.env 不存在时忽略）
	_ = godotenv.Load()

	configPath := "./configs/config.yaml"
	if len(os.Args) > 2 && os.Args[1] == "--config" {
		configPath = os.Args[2]
	}
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		configPath = ""
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 3. 初始化日志
	logger := config.InitLogger(&cfg.Log)
	logger.WithFields(logrus.Fields{
		"version": Version,
		"config":  configPath,
	}).Info("Starting APK risk analysis service")

	// 4. 初始化数据库
	db, err := repository.InitDB(&cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to init database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatalf("Failed to get database handle: %v", err)
	}
	defer sqlDB.Close()

	reportRepo := repository.NewReportRepository(db)
	bankRepo := repository.NewBankRepository(db)

	seeded, err := bankRepo.SeedDefaults(context.Background())
	if err != nil {
		logger.WithError(err).Warn("Failed to seed bank references")
	} else if seeded > 0 {
		logger.WithField("count", seeded).Info("Seeded default bank references")
	}

	// 5. 初始化 Prometheus 指标
	metrics := middleware.NewPrometheusMetrics(logger, "apk_risk")

	// 6. 组装分析流水线（内存 → pebble → 数据库）
	pipeline, err := app.Build(cfg, logger, app.Hooks{
		ClassifierCall: metrics.RecordClassifierCall,
		Retry:          metrics.RecordRetryAttempt,
	}, reportRepo)
	if err != nil {
		logger.Fatalf("Failed to build analysis pipeline: %v", err)
	}
	defer pipeline.Close()

	svc := pipeline.NewService(cfg, bankRepo, cfg.Analysis.UploadDir, logger)

	// 7. 实时判定推送与指标订阅
	feed := handlers.NewVerdictFeed(logger, metrics.SetFeedClients)
	svc.Subscribe(feed.Publish)
	svc.Subscribe(func(event service.AnalysisEvent) {
		source := ""
		if event.Result.Features != nil {
			source = event.Result.Features.Source
		}
		metrics.RecordAnalysis(string(event.Result.Verdict), event.Layer, source, event.Result.Score, event.Duration)
	})

	// 8. 初始化 Worker Pool（后台分析：队列与目录监听共用）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workerPool := worker.NewPool(cfg.Worker.Concurrency, cfg.Worker.QueueSize, worker.NewAnalysisHandler(svc, true, logger), logger)
	workerPool.Start(ctx)
	defer workerPool.Stop()

	// 9. 启动指标采样
	sampler := middleware.NewStatsSampler(metrics, workerPool.Stats, sqlDB, logger, 15*time.Second)
	sampler.Start()
	defer sampler.Stop()

	// 10. 初始化 RabbitMQ（可选）
	deps := api.Dependencies{
		Config:  cfg,
		Logger:  logger,
		Service: svc,
		Reports: reportRepo,
		Banks:   bankRepo,
		Metrics: metrics,
		Feed:    feed,
	}

	if cfg.RabbitMQ.Enabled {
		mq, err := queue.NewRabbitMQ(&cfg.RabbitMQ, cfg.Worker.Concurrency, logger)
		if err != nil {
			logger.Fatalf("Failed to init RabbitMQ: %v", err)
		}
		defer mq.Close()

		deps.Publisher = queue.NewProducer(mq, logger)

		consumer := queue.NewConsumer(mq, workerPool, cfg.Worker.Concurrency, logger)
		if err := consumer.Start(ctx); err != nil {
			logger.Fatalf("Failed to start consumer: %v", err)
		}
		defer consumer.Stop()
	} else {
		logger.Info("RabbitMQ disabled, async analysis endpoint unavailable")
	}

	// 11. 启动投递目录监听（可选）
	if cfg.Watcher.Enabled {
		fileWatcher, err := watcher.NewFileWatcher(cfg.Watcher.Dir, watcher.Options{
			Pattern:      cfg.Watcher.Pattern,
			ScanExisting: true,
		}, workerPool, logger)
		if err != nil {
			logger.Fatalf("Failed to create file watcher: %v", err)
		}
		defer fileWatcher.Stop()

		if err := fileWatcher.Start(ctx); err != nil {
			logger.Fatalf("Failed to start file watcher: %v", err)
		}
	}

	if err := os.MkdirAll(filepath.Join(cfg.Analysis.UploadDir, "incoming"), 0755); err != nil {
		logger.WithError(err).Warn("Failed to create staging directory")
	}

	// 12. 设置 HTTP Server
	router := api.SetupRouter(deps)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  5 * time.Minute, // 支持大文件上传
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Infof("HTTP server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("HTTP server error: %v", err)
		}
	}()

	// 13. 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down gracefully...")

	// 14. 优雅关闭 (30秒超时)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	cancel()

	logger.Info("Server exited")
}
