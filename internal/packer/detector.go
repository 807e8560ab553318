package packer

import (
	"path"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// 命中置信度阈值
const detectThreshold = 0.4

// Detector 加固检测器
type Detector struct {
	rules  []Rule
	logger *logrus.Logger
}

// NewDetector 使用内置规则创建检测器
func NewDetector(logger *logrus.Logger) *Detector {
	return NewDetectorWithRules(BuiltinRules(), logger)
}

// NewDetectorWithRules 使用指定规则创建检测器
func NewDetectorWithRules(rules []Rule, logger *logrus.Logger) *Detector {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	// 按优先级降序排序
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})

	return &Detector{
		rules:  sorted,
		logger: logger,
	}
}

// Detect 根据压缩包条目名称检测加固，未命中时返回 nil
func (d *Detector) Detect(names []string) *Finding {
	stats := collectStats(names)

	for _, rule := range d.rules {
		confidence, indicators := matchRule(rule, stats)
		if confidence < detectThreshold {
			continue
		}

		finding := &Finding{
			Name:       rule.Name,
			Confidence: min(confidence, 1.0),
			Indicators: indicators,
		}
		d.logger.WithFields(logrus.Fields{
			"packer":     finding.Name,
			"confidence": finding.Confidence,
			"indicators": finding.Indicators,
		}).Debug("Packer detected")
		return finding
	}

	return nil
}

// collectStats 收集 Native 库与条目路径
func collectStats(names []string) *archiveStats {
	stats := &archiveStats{
		NativeLibs: []string{},
		Paths:      make([]string, 0, len(names)),
	}

	for _, name := range names {
		stats.Paths = append(stats.Paths, strings.ToLower(name))

		// 加固库常放在 lib/ 或 assets/ 下
		if strings.HasSuffix(name, ".so") || strings.HasSuffix(name, ".ajm") {
			stats.NativeLibs = append(stats.NativeLibs, path.Base(name))
		}
	}

	return stats
}

// matchRule 匹配单个规则，同一特征只计一次
func matchRule(rule Rule, stats *archiveStats) (float64, []string) {
	confidence := 0.0
	indicators := []string{}

	for _, ruleLib := range rule.NativeLibs {
		for _, apkLib := range stats.NativeLibs {
			if matchLibName(ruleLib, apkLib) {
				confidence += 0.4
				indicators = append(indicators, "native_lib:"+apkLib)
				break
			}
		}
	}

	for _, marker := range rule.Markers {
		slashed := strings.ReplaceAll(marker, ".", "/")
		for _, p := range stats.Paths {
			if strings.Contains(p, marker) || strings.Contains(p, slashed) {
				confidence += 0.2
				indicators = append(indicators, "path:"+p)
				break
			}
		}
	}

	return confidence, indicators
}

// matchLibName 匹配库名，忽略大小写与版本后缀（如 libshellx-2.10.3.4.so）
func matchLibName(pattern, name string) bool {
	pattern = strings.ToLower(pattern)
	name = strings.ToLower(name)
	if pattern == name {
		return true
	}

	patternBase := strings.TrimSuffix(pattern, ".so")
	nameBase := strings.TrimSuffix(name, ".so")

	patternCore := strings.Split(strings.TrimPrefix(patternBase, "lib"), "-")[0]
	nameCore := strings.Split(strings.TrimPrefix(nameBase, "lib"), "-")[0]

	return patternCore != "" && patternCore == nameCore
}
