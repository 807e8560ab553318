package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/apk-analysis/apk-risk-go/internal/config"
	"github.com/sirupsen/logrus"
)

// 模式
const (
	ModeNone   = "none"
	ModeRemote = "remote"
	ModeLocal  = "local"
)

var (
	// ErrUnavailable 模型未配置或无法加载
	ErrUnavailable = errors.New("classifier unavailable")
	// ErrInvalidProbability 模型返回的概率不在 [0,1]
	ErrInvalidProbability = errors.New("classifier returned probability outside [0,1]")
)

// Classifier 风险概率模型
// features 为 [危险权限数, URL 数, 无障碍 0/1, 悬浮窗 0/1]
type Classifier interface {
	Predict(ctx context.Context, features []float64) (float64, error)
}

// New 按配置创建模型，mode 为 none 时返回 nil
func New(cfg *config.ClassifierConfig, logger *logrus.Logger) (Classifier, error) {
	switch cfg.Mode {
	case "", ModeNone:
		logger.Info("Risk classifier disabled, heuristic score only")
		return nil, nil
	case ModeRemote:
		if cfg.ServerURL == "" {
			return nil, fmt.Errorf("%w: classifier.server_url is empty", ErrUnavailable)
		}
		logger.WithField("server_url", cfg.ServerURL).Info("Using remote risk classifier")
		return NewRemote(cfg, logger), nil
	case ModeLocal:
		model, err := LoadLogistic(cfg.ModelPath)
		if err != nil {
			return nil, err
		}
		logger.WithFields(logrus.Fields{
			"model_path": cfg.ModelPath,
			"weights":    len(model.Weights),
		}).Info("Using local logistic risk classifier")
		return model, nil
	default:
		return nil, fmt.Errorf("unknown classifier mode: %s", cfg.Mode)
	}
}

// CheckProbability 校验概率在 [0,1] 内且不是 NaN
func CheckProbability(p float64) error {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidProbability, p)
	}
	return nil
}

// observed 每次预测后回调，用于指标统计
type observed struct {
	inner   Classifier
	observe func(err error)
}

// Instrument 包装模型，在每次预测后调用 observe；c 为 nil 时返回 nil
func Instrument(c Classifier, observe func(err error)) Classifier {
	if c == nil || observe == nil {
		return c
	}
	return &observed{inner: c, observe: observe}
}

func (o *observed) Predict(ctx context.Context, features []float64) (float64, error) {
	p, err := o.inner.Predict(ctx, features)
	o.observe(err)
	return p, err
}
