package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/apk-analysis/apk-risk-go/internal/cache"
	"github.com/apk-analysis/apk-risk-go/internal/domain"
	"github.com/apk-analysis/apk-risk-go/internal/risk"
	"github.com/apk-analysis/apk-risk-go/internal/staticanalysis"
	"github.com/sirupsen/logrus"
)

// BankSource 官方银行列表来源
type BankSource interface {
	ListOfficial(ctx context.Context) ([]domain.BankReference, error)
}

// StaticBanks 固定的银行列表（离线 CLI 使用）
type StaticBanks []domain.BankReference

func (b StaticBanks) ListOfficial(ctx context.Context) ([]domain.BankReference, error) {
	out := make([]domain.BankReference, 0, len(b))
	for _, bank := range b {
		if bank.Official {
			out = append(out, bank)
		}
	}
	return out, nil
}

// AnalysisEvent 一次分析完成
type AnalysisEvent struct {
	Result   *domain.AnalysisResult
	Layer    string // 命中的缓存层，compute 表示新计算
	Duration time.Duration
}

// Listener 分析完成回调，必须快速返回
type Listener func(event AnalysisEvent)

// Capabilities 当前生效的分析能力
type Capabilities struct {
	Extractors  []string `json:"extractors"`
	Similarity  string   `json:"similarity"`
	Classifier  string   `json:"classifier"`
	CacheLayers []string `json:"cache_layers"`
}

// Options 服务参数
type Options struct {
	MaxUploadBytes int64
	UploadDir      string // 为空时不保存样本
	ClassifierMode string
}

// AnalysisService APK 风险分析服务
type AnalysisService interface {
	// Analyze 分析上传的字节流
	Analyze(ctx context.Context, filename string, data []byte) (*domain.AnalysisResult, error)

	// AnalyzeFile 分析本地文件
	AnalyzeFile(ctx context.Context, path string) (*domain.AnalysisResult, error)

	// Capabilities 返回提取链、相似度策略、模型模式
	Capabilities() Capabilities

	// Subscribe 注册分析完成回调
	Subscribe(listener Listener)
}

type analysisService struct {
	chain   *staticanalysis.Chain
	engine  *risk.Engine
	results *cache.ResultCache
	banks   BankSource
	opts    Options
	logger  *logrus.Logger

	mu        sync.RWMutex
	listeners []Listener
}

// NewAnalysisService 创建分析服务
func NewAnalysisService(
	chain *staticanalysis.Chain,
	engine *risk.Engine,
	results *cache.ResultCache,
	banks BankSource,
	opts Options,
	logger *logrus.Logger,
) AnalysisService {
	if banks == nil {
		banks = StaticBanks(domain.DefaultBanks())
	}
	return &analysisService{
		chain:   chain,
		engine:  engine,
		results: results,
		banks:   banks,
		opts:    opts,
		logger:  logger,
	}
}

// Digest 计算 SHA-256 十六进制摘要
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (s *analysisService) Analyze(ctx context.Context, filename string, data []byte) (*domain.AnalysisResult, error) {
	start := time.Now()

	if s.opts.MaxUploadBytes > 0 && int64(len(data)) > s.opts.MaxUploadBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", staticanalysis.ErrTooLarge, len(data), s.opts.MaxUploadBytes)
	}

	digest := Digest(data)
	log := s.logger.WithFields(logrus.Fields{
		"sha256":   digest,
		"filename": filename,
		"size":     len(data),
	})

	result, layer, err := s.results.LookupOrCompute(ctx, digest, func(ctx context.Context) (*domain.AnalysisResult, error) {
		return s.compute(ctx, filename, digest, data)
	})
	if err != nil {
		log.WithError(err).Warn("APK analysis failed")
		return nil, err
	}

	event := AnalysisEvent{Result: result, Layer: layer, Duration: time.Since(start)}
	log.WithFields(logrus.Fields{
		"layer":    layer,
		"score":    result.Score,
		"verdict":  result.Verdict,
		"duration": event.Duration.String(),
	}).Info("APK analysis completed")

	s.notify(event)
	return result, nil
}

// compute 校验、提取、评分并保存样本
func (s *analysisService) compute(ctx context.Context, filename, digest string, data []byte) (*domain.AnalysisResult, error) {
	features, err := s.chain.ValidateAndExtract(ctx, data, s.opts.MaxUploadBytes)
	if err != nil {
		return nil, err
	}

	banks, err := s.banks.ListOfficial(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to load bank references, using built-in list")
		banks = domain.DefaultBanks()
	}

	result := s.engine.Analyze(ctx, features, int64(len(data)), filename, digest, banks)

	if err := s.saveSample(digest, data); err != nil {
		s.logger.WithFields(logrus.Fields{
			"sha256": digest,
			"error":  err.Error(),
		}).Warn("Failed to save sample")
	}

	return result, nil
}

// saveSample 保存到 {upload_dir}/{sha256}.apk，已存在时跳过
func (s *analysisService) saveSample(digest string, data []byte) error {
	if s.opts.UploadDir == "" {
		return nil
	}
	if err := os.MkdirAll(s.opts.UploadDir, 0755); err != nil {
		return err
	}

	path := filepath.Join(s.opts.UploadDir, digest+".apk")
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *analysisService) AnalyzeFile(ctx context.Context, path string) (*domain.AnalysisResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if s.opts.MaxUploadBytes > 0 && info.Size() > s.opts.MaxUploadBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", staticanalysis.ErrTooLarge, info.Size(), s.opts.MaxUploadBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	return s.Analyze(ctx, filepath.Base(path), data)
}

func (s *analysisService) Capabilities() Capabilities {
	mode := s.opts.ClassifierMode
	if mode == "" || !s.engine.HasClassifier() {
		mode = "none"
	}
	return Capabilities{
		Extractors:  s.chain.Names(),
		Similarity:  s.engine.Matcher().Name(),
		Classifier:  mode,
		CacheLayers: s.results.Layers(),
	}
}

func (s *analysisService) Subscribe(listener Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, listener)
}

func (s *analysisService) notify(event AnalysisEvent) {
	s.mu.RLock()
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.RUnlock()

	for _, l := range listeners {
		l(event)
	}
}

// IsUserError 是否为调用方可见的输入错误
func IsUserError(err error) bool {
	return errors.Is(err, staticanalysis.ErrInvalidArchive) || errors.Is(err, staticanalysis.ErrTooLarge)
}
