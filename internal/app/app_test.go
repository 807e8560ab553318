package app

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apk-analysis/apk-risk-go/internal/cache"
	"github.com/apk-analysis/apk-risk-go/internal/config"
	"github.com/apk-analysis/apk-risk-go/internal/domain"
	"github.com/apk-analysis/apk-risk-go/internal/service"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testConfig(t *testing.T) *config.Config {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Classifier.Mode = "none"
	cfg.Analysis.UploadDir = ""
	return cfg
}

func sampleAPK(t *testing.T) []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("classes.dex")
	require.NoError(t, err)
	_, err = w.Write([]byte("x https://hdfc-netbanking.top/login y"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// TestBuild_MemoryOnly 测试默认配置只启用内存缓存
func TestBuild_MemoryOnly(t *testing.T) {
	cfg := testConfig(t)

	p, err := Build(cfg, newTestLogger(), Hooks{})
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, []string{cache.LayerMemory}, p.Results.Layers())
	assert.False(t, p.Engine.HasClassifier())
	assert.Equal(t, cfg.Analysis.Similarity, p.Engine.Matcher().Name())
}

// TestBuild_PebbleLayer 测试启用 pebble 后位于内存层与外部层之间
func TestBuild_PebbleLayer(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.PebbleEnabled = true
	cfg.Cache.PebbleDir = filepath.Join(t.TempDir(), "cache")

	logger := newTestLogger()
	p, err := Build(cfg, logger, Hooks{})
	require.NoError(t, err)

	assert.Equal(t, []string{cache.LayerMemory, "pebble"}, p.Results.Layers())

	svc := p.NewService(cfg, nil, "", logger)
	result, err := svc.Analyze(context.Background(), "sample.apk", sampleAPK(t))
	require.NoError(t, err)
	assert.Equal(t, service.Digest(sampleAPK(t)), result.Digest)

	require.NoError(t, p.Close())

	// 重新打开后结果仍在持久层
	store, err := cache.OpenPebbleStore(cfg.Cache.PebbleDir)
	require.NoError(t, err)
	defer store.Close()

	cached, err := store.Get(context.Background(), result.Digest)
	require.NoError(t, err)
	assert.Equal(t, result.Score, cached.Score)
}

// TestBuild_UnknownClassifierMode 测试未知模型模式返回错误
func TestBuild_UnknownClassifierMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Classifier.Mode = "quantum"

	_, err := Build(cfg, newTestLogger(), Hooks{})
	assert.Error(t, err)
}

// TestNewClassifier_MissingLocalModel 测试本地模型缺失时降级为无模型
func TestNewClassifier_MissingLocalModel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Classifier.Mode = "local"
	cfg.Classifier.ModelPath = filepath.Join(t.TempDir(), "missing.json")

	clf, err := NewClassifier(&cfg.Classifier, newTestLogger(), Hooks{})
	require.NoError(t, err)
	assert.Nil(t, clf)
}

// TestPipeline_NewService 测试服务能力反映流水线配置
func TestPipeline_NewService(t *testing.T) {
	cfg := testConfig(t)
	logger := newTestLogger()

	p, err := Build(cfg, logger, Hooks{})
	require.NoError(t, err)
	defer p.Close()

	svc := p.NewService(cfg, service.StaticBanks(domain.DefaultBanks()), "", logger)
	caps := svc.Capabilities()
	assert.Equal(t, p.Chain.Names(), caps.Extractors)
	assert.Equal(t, "none", caps.Classifier)
	assert.Equal(t, []string{cache.LayerMemory}, caps.CacheLayers)
}
