package staticanalysis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/apk-analysis/apk-risk-go/internal/domain"
	"github.com/apk-analysis/apk-risk-go/internal/packer"
	"github.com/sirupsen/logrus"
)

// Extractor 特征提取能力
type Extractor interface {
	Name() string
	Extract(ctx context.Context, archive *Archive) (*domain.FeatureSet, error)
}

// ChainConfig 提取链配置（进程启动时解析一次）
type ChainConfig struct {
	Extractors []string // 结构化层顺序: androidbinary / aapt2 / manifest
	AaptPath   string
	Limits     Limits
}

// Chain 按顺序尝试各结构化提取层，全部失败时退化为原始扫描
type Chain struct {
	tiers   []Extractor
	raw     *RawScanner
	packers *packer.Detector
	limits  Limits
	logger  *logrus.Logger
}

// NewChain 使用给定的结构化层创建提取链
func NewChain(logger *logrus.Logger, limits Limits, tiers ...Extractor) *Chain {
	return &Chain{
		tiers:   tiers,
		raw:     NewRawScanner(logger),
		packers: packer.NewDetector(logger),
		limits:  limits.normalize(),
		logger:  logger,
	}
}

// NewChainFromConfig 根据配置解析可用的提取层
func NewChainFromConfig(cfg ChainConfig, logger *logrus.Logger) *Chain {
	names := cfg.Extractors
	if len(names) == 0 {
		names = []string{domain.SourceAndroidBinary, domain.SourceManifest}
	}

	var tiers []Extractor
	for _, name := range names {
		switch name {
		case domain.SourceAndroidBinary:
			tiers = append(tiers, NewAndroidBinaryExtractor(logger))
		case domain.SourceAapt2:
			aapt := NewAaptExtractor(cfg.AaptPath, logger)
			if !aapt.Available() {
				logger.WithField("aapt_path", cfg.AaptPath).Warn("aapt2 not available, extractor disabled")
				continue
			}
			tiers = append(tiers, aapt)
		case domain.SourceManifest:
			tiers = append(tiers, NewManifestExtractor(logger))
		case domain.SourceRaw:
			// 原始扫描始终作为最后一层
		default:
			logger.WithField("extractor", name).Warn("Unknown extractor, ignored")
		}
	}

	chain := NewChain(logger, cfg.Limits, tiers...)
	logger.WithField("extractors", chain.Names()).Info("Extractor chain resolved")
	return chain
}

// Names 返回提取链中各层名称（含原始扫描）
func (c *Chain) Names() []string {
	names := make([]string, 0, len(c.tiers)+1)
	for _, t := range c.tiers {
		names = append(names, t.Name())
	}
	return append(names, c.raw.Name())
}

// Limits 返回解压预算
func (c *Chain) Limits() Limits {
	return c.limits
}

// ValidateAndExtract 校验容器并提取特征
// 仅返回 ErrInvalidArchive 或 ErrTooLarge 两类错误
func (c *Chain) ValidateAndExtract(ctx context.Context, data []byte, maxSize int64) (*domain.FeatureSet, error) {
	archive, err := OpenArchive(data, maxSize, c.limits)
	if err != nil {
		return nil, err
	}
	return c.Extract(ctx, archive), nil
}

// Extract 依次尝试各层，任何一层失败都转入下一层；始终返回特征集
func (c *Chain) Extract(ctx context.Context, archive *Archive) *domain.FeatureSet {
	for _, tier := range c.tiers {
		startTime := time.Now()

		fs, err := c.try(ctx, tier, archive)
		if err != nil {
			c.logger.WithError(err).WithField("extractor", tier.Name()).Warn("Extractor failed, falling back to next tier")
			continue
		}

		scan := c.raw.Scan(archive)
		fs.Files = scan.Files
		fs.URLs = scan.URLs
		fs.Source = tier.Name()
		c.finalize(fs, archive)

		c.logger.WithFields(logrus.Fields{
			"extractor":   tier.Name(),
			"permissions": len(fs.Permissions),
			"urls":        len(fs.URLs),
			"duration_ms": time.Since(startTime).Milliseconds(),
		}).Debug("Features extracted")

		return fs
	}

	fs, _ := c.raw.Extract(ctx, archive)
	c.finalize(fs, archive)

	c.logger.WithFields(logrus.Fields{
		"extractor": fs.Source,
		"files":     len(fs.Files),
		"urls":      len(fs.URLs),
	}).Info("Structured extraction unavailable, raw scan used")

	return fs
}

// try 执行单层提取，将错误和 panic 统一转换为 CapabilityError
func (c *Chain) try(ctx context.Context, tier Extractor, archive *Archive) (fs *domain.FeatureSet, err error) {
	defer func() {
		if r := recover(); r != nil {
			fs = nil
			err = &CapabilityError{Extractor: tier.Name(), Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	fs, err = tier.Extract(ctx, archive)
	if err != nil {
		return nil, &CapabilityError{Extractor: tier.Name(), Err: err}
	}
	if fs == nil {
		return nil, &CapabilityError{Extractor: tier.Name(), Err: fmt.Errorf("empty result")}
	}
	return fs, nil
}

// finalize 规范化特征集：权限去重排序，计算域名，识别加固
func (c *Chain) finalize(fs *domain.FeatureSet, archive *Archive) {
	fs.Permissions = uniqueSorted(fs.Permissions)
	fs.Domains = RegistrableDomains(fs.URLs)
	if finding := c.packers.Detect(archive.Names()); finding != nil {
		fs.Packer = finding.Name
	}
}

func uniqueSorted(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	sort.Strings(out)
	return out
}

// appendUnique 追加不重复的非空值（保持顺序）
func appendUnique(list []string, value string) []string {
	if value == "" {
		return list
	}
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}

// optional 空串视为缺失
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
