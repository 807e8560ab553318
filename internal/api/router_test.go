package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/apk-analysis/apk-risk-go/internal/config"
	"github.com/apk-analysis/apk-risk-go/internal/domain"
	"github.com/apk-analysis/apk-risk-go/internal/middleware"
	"github.com/apk-analysis/apk-risk-go/internal/repository"
	"github.com/apk-analysis/apk-risk-go/internal/service"
)

// stubService 固定能力的分析服务
type stubService struct{}

func (stubService) Analyze(ctx context.Context, filename string, data []byte) (*domain.AnalysisResult, error) {
	return &domain.AnalysisResult{Filename: filename, Verdict: domain.VerdictSafe}, nil
}

func (stubService) AnalyzeFile(ctx context.Context, path string) (*domain.AnalysisResult, error) {
	return nil, nil
}

func (stubService) Capabilities() service.Capabilities {
	return service.Capabilities{Extractors: []string{"raw"}, Similarity: "ratio", Classifier: "none"}
}

func (stubService) Subscribe(listener service.Listener) {}

func setupRouter(t *testing.T, mutate func(cfg *config.Config)) (http.Handler, *middleware.PrometheusMetrics) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Server.Mode = "test"
	cfg.Analysis.UploadDir = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, repository.AutoMigrate(db, logger))

	metrics := middleware.NewPrometheusMetrics(logger, "router_test")
	r := SetupRouter(Dependencies{
		Config:  cfg,
		Logger:  logger,
		Service: stubService{},
		Reports: repository.NewReportRepository(db),
		Banks:   repository.NewBankRepository(db),
		Metrics: metrics,
	})
	return r, metrics
}

func TestSetupRouter_Routes(t *testing.T) {
	r, _ := setupRouter(t, nil)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/health", http.StatusOK},
		{http.MethodGet, "/api/reports", http.StatusOK},
		{http.MethodGet, "/api/reports/1", http.StatusNotFound},
		{http.MethodGet, "/api/reports/sha/deadbeef", http.StatusNotFound},
		{http.MethodGet, "/api/banks", http.StatusOK},
		{http.MethodGet, "/metrics/prometheus", http.StatusOK},
		{http.MethodOptions, "/api/analyze", http.StatusNoContent},
		{http.MethodGet, "/ws/verdicts", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestSetupRouter_AsyncDisabled(t *testing.T) {
	r, _ := setupRouter(t, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/analyze/async", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSetupRouter_BankMutationsRequireToken(t *testing.T) {
	r, _ := setupRouter(t, func(cfg *config.Config) {
		cfg.Server.APIToken = "ops-token"
	})

	body := `{"name":"Kotak 811","package":"com.msf.kbank.mobile"}`

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/banks", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/banks", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer ops-token")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code)

	// 读取不需要 token
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/banks", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSetupRouter_RateLimit(t *testing.T) {
	r, _ := setupRouter(t, func(cfg *config.Config) {
		cfg.Server.RateLimit.Enabled = true
		cfg.Server.RateLimit.RequestsPerSecond = 0.001
		cfg.Server.RateLimit.Burst = 1
	})

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/analyze", nil))
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusBadRequest, http.StatusTooManyRequests}, codes)
}
