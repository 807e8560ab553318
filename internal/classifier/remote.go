package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/apk-analysis/apk-risk-go/internal/config"
	"github.com/apk-analysis/apk-risk-go/internal/retry"
	"github.com/sirupsen/logrus"
)

// predictRequest 预测请求
type predictRequest struct {
	Features []float64 `json:"features"`
}

// predictResponse 预测响应
type predictResponse struct {
	Probability *float64 `json:"probability"`
	Error       string   `json:"error,omitempty"`
}

// Remote 远程模型服务客户端
type Remote struct {
	serverURL  string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	onRetry    func(operation string, attempt int, err error)
	logger     *logrus.Logger
}

// NewRemote 创建远程模型客户端
func NewRemote(cfg *config.ClassifierConfig, logger *logrus.Logger) *Remote {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	return &Remote{
		serverURL:  strings.TrimRight(cfg.ServerURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		retryDelay: time.Duration(cfg.RetryDelay) * time.Millisecond,
		logger:     logger,
	}
}

// SetRetryHook 设置重试回调（用于指标统计）
func (r *Remote) SetRetryHook(fn func(operation string, attempt int, err error)) {
	r.onRetry = fn
}

// Predict 调用 POST {server_url}/predict
// 5xx 和网络错误会重试，4xx 和非法概率不重试
func (r *Remote) Predict(ctx context.Context, features []float64) (float64, error) {
	retryCfg := &retry.Config{
		Operation:       "classifier_predict",
		MaxAttempts:     r.maxRetries,
		InitialInterval: r.retryDelay,
		MaxInterval:     10 * r.retryDelay,
		Strategy:        retry.StrategyExponential,
		Logger:          r.logger,
		OnRetry:         r.onRetry,
	}

	return retry.DoWithResult(ctx, retryCfg, func(ctx context.Context) (float64, error) {
		return r.predictOnce(ctx, features)
	})
}

func (r *Remote) predictOnce(ctx context.Context, features []float64) (float64, error) {
	body, err := json.Marshal(predictRequest{Features: features})
	if err != nil {
		return 0, retry.NewNonRetryableError(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.serverURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return 0, retry.NewNonRetryableError(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return 0, retry.NewRetryableError(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, retry.NewRetryableError(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode >= 500 {
		return 0, retry.NewRetryableError(fmt.Errorf("server error: status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return 0, retry.NewNonRetryableError(fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody)))
	}

	var result predictResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return 0, retry.NewNonRetryableError(fmt.Errorf("decode response: %w", err))
	}
	if result.Probability == nil {
		return 0, retry.NewNonRetryableError(fmt.Errorf("response missing probability: %s", result.Error))
	}
	if err := CheckProbability(*result.Probability); err != nil {
		return 0, retry.NewNonRetryableError(err)
	}

	return *result.Probability, nil
}
