package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/apk-analysis/apk-risk-go/internal/classifier"
	"github.com/apk-analysis/apk-risk-go/internal/domain"
	"github.com/sirupsen/logrus"
)

// Engine 风险评分引擎
type Engine struct {
	rules      []Rule
	matcher    Matcher
	classifier classifier.Classifier // 可为 nil
	logger     *logrus.Logger
}

// NewEngine 创建评分引擎，clf 为 nil 时只使用启发式分数
func NewEngine(matcher Matcher, clf classifier.Classifier, logger *logrus.Logger) *Engine {
	if matcher == nil {
		matcher = RatioMatcher{}
	}
	return &Engine{
		rules:      BuiltinRules(),
		matcher:    matcher,
		classifier: clf,
		logger:     logger,
	}
}

// Matcher 当前使用的相似度策略
func (e *Engine) Matcher() Matcher {
	return e.matcher
}

// HasClassifier 是否配置了模型
func (e *Engine) HasClassifier() bool {
	return e.classifier != nil
}

// Score 计算启发式分数和评分依据
// 第一条依据固定为 name_similarity
func (e *Engine) Score(fs *domain.FeatureSet, bankNames, bankPackages []string) (float64, []domain.Reason) {
	if fs == nil {
		fs = domain.NewFeatureSet(domain.SourceRaw)
	}

	in := &Input{
		Features:     fs,
		Dangerous:    dangerousPermissions(fs.Permissions),
		BankPackages: bankPackages,
		Similarity:   Similarity(e.matcher, fs.AppNameValue(), bankNames),
	}

	score := 0.0
	reasons := []domain.Reason{{
		Code:   domain.ReasonNameSimilarity,
		Detail: fmt.Sprintf("App name similarity to official bank apps: %.1f/100", in.Similarity),
	}}

	for _, rule := range e.rules {
		points := rule.Points(in)
		if points <= 0 {
			continue
		}
		if rule.Cap > 0 && points > rule.Cap {
			points = rule.Cap
		}
		score += points
		reasons = append(reasons, domain.Reason{Code: rule.Code, Detail: rule.Detail(in, points)})
	}

	return clamp(score), reasons
}

// Analyze 对特征集打分并给出判定，不做任何 I/O（模型调用除外）
func (e *Engine) Analyze(ctx context.Context, fs *domain.FeatureSet, sizeBytes int64, filename, digest string, banks []domain.BankReference) *domain.AnalysisResult {
	if fs == nil {
		fs = domain.NewFeatureSet(domain.SourceRaw)
	}

	names, packages := domain.BankNamesAndPackages(banks)
	score, reasons := e.Score(fs, names, packages)

	if e.classifier != nil {
		p, err := e.classifier.Predict(ctx, FeatureVector(fs))
		if err == nil {
			err = classifier.CheckProbability(p)
		}
		if err != nil {
			e.logger.WithFields(logrus.Fields{
				"sha256": digest,
				"error":  err.Error(),
			}).Warn("Classifier failed, using heuristic score")
		} else {
			reasons = append(reasons, domain.Reason{
				Code:   domain.ReasonMLProbability,
				Detail: fmt.Sprintf("ML model risk probability: %.1f/100", p*100),
			})
			score = Blend(p, score)
		}
	}

	verdict := domain.VerdictFor(score)

	e.logger.WithFields(logrus.Fields{
		"sha256":  digest,
		"package": fs.PackageValue(),
		"source":  fs.Source,
		"score":   score,
		"verdict": verdict,
	}).Info("APK risk scored")

	return &domain.AnalysisResult{
		Digest:    digest,
		Filename:  filename,
		SizeBytes: sizeBytes,
		Score:     score,
		Verdict:   verdict,
		Reasons:   reasons,
		Features:  fs,
		CreatedAt: time.Now().UTC(),
	}
}
