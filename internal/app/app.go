// Package app 组装分析流水线，供 HTTP 服务与命令行共用
package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/apk-analysis/apk-risk-go/internal/cache"
	"github.com/apk-analysis/apk-risk-go/internal/classifier"
	"github.com/apk-analysis/apk-risk-go/internal/config"
	"github.com/apk-analysis/apk-risk-go/internal/risk"
	"github.com/apk-analysis/apk-risk-go/internal/service"
	"github.com/apk-analysis/apk-risk-go/internal/staticanalysis"
)

// Hooks 可选的观测回调
type Hooks struct {
	ClassifierCall func(err error)
	Retry          func(operation string, attempt int, err error)
}

// Pipeline 组装好的分析组件
type Pipeline struct {
	Chain   *staticanalysis.Chain
	Engine  *risk.Engine
	Results *cache.ResultCache

	closers []func() error
}

// Close 释放持久化缓存等资源
func (p *Pipeline) Close() error {
	var firstErr error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NewChain 按配置创建提取链
func NewChain(cfg *config.AnalysisConfig, logger *logrus.Logger) *staticanalysis.Chain {
	return staticanalysis.NewChainFromConfig(staticanalysis.ChainConfig{
		Extractors: cfg.Extractors,
		AaptPath:   cfg.AaptPath,
		Limits: staticanalysis.Limits{
			MaxEntryBytes: cfg.MaxEntryBytes,
			MaxTotalBytes: cfg.MaxTotalBytes,
		},
	}, logger)
}

// NewClassifier 按配置创建模型，mode 为 none 或模型不可用时返回 nil
func NewClassifier(cfg *config.ClassifierConfig, logger *logrus.Logger, hooks Hooks) (classifier.Classifier, error) {
	clf, err := classifier.New(cfg, logger)
	if errors.Is(err, classifier.ErrUnavailable) {
		logger.WithError(err).Warn("Risk classifier unavailable, heuristic score only")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if clf == nil {
		return nil, nil
	}

	if remote, ok := clf.(*classifier.Remote); ok && hooks.Retry != nil {
		remote.SetRetryHook(hooks.Retry)
	}
	return classifier.Instrument(clf, hooks.ClassifierCall), nil
}

// Build 组装提取链、评分引擎与结果缓存
// stores 为内存层之后的持久化层（例如数据库），按顺序查询
func Build(cfg *config.Config, logger *logrus.Logger, hooks Hooks, stores ...cache.Store) (*Pipeline, error) {
	clf, err := NewClassifier(&cfg.Classifier, logger, hooks)
	if err != nil {
		return nil, fmt.Errorf("init classifier: %w", err)
	}

	p := &Pipeline{
		Chain:  NewChain(&cfg.Analysis, logger),
		Engine: risk.NewEngine(risk.NewMatcher(cfg.Analysis.Similarity), clf, logger),
	}

	layers := make([]cache.Store, 0, len(stores)+1)
	if cfg.Cache.PebbleEnabled {
		pebbleStore, err := cache.OpenPebbleStore(cfg.Cache.PebbleDir)
		if err != nil {
			return nil, fmt.Errorf("open pebble cache: %w", err)
		}
		p.closers = append(p.closers, pebbleStore.Close)
		layers = append(layers, pebbleStore)
	}
	layers = append(layers, stores...)

	ttl := time.Duration(cfg.Cache.MemoryTTLMinutes) * time.Minute
	if ttl <= 0 {
		ttl = time.Hour
	}
	p.Results = cache.NewResultCache(cache.NewMemoryCache(ttl, 2*ttl), logger, layers...)

	logger.WithFields(logrus.Fields{
		"extractors":   p.Chain.Names(),
		"similarity":   p.Engine.Matcher().Name(),
		"classifier":   cfg.Classifier.Mode,
		"cache_layers": p.Results.Layers(),
	}).Info("Analysis pipeline assembled")

	return p, nil
}

// NewService 基于流水线创建分析服务
func (p *Pipeline) NewService(cfg *config.Config, banks service.BankSource, uploadDir string, logger *logrus.Logger) service.AnalysisService {
	return service.NewAnalysisService(p.Chain, p.Engine, p.Results, banks, service.Options{
		MaxUploadBytes: cfg.Analysis.MaxUploadBytes(),
		UploadDir:      uploadDir,
		ClassifierMode: cfg.Classifier.Mode,
	}, logger)
}
