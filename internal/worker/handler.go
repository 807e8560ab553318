package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/apk-analysis/apk-risk-go/internal/domain"
)

// Analyzer 任务处理所需的分析能力
type Analyzer interface {
	Analyze(ctx context.Context, filename string, data []byte) (*domain.AnalysisResult, error)
}

// NewAnalysisHandler 创建分析任务处理函数
// removeSample 为 true 时，分析完成后删除暂存样本（异步上传使用）
func NewAnalysisHandler(analyzer Analyzer, removeSample bool, logger *logrus.Logger) JobHandler {
	return func(ctx context.Context, task *Task) error {
		data, err := os.ReadFile(task.SamplePath)
		if err != nil {
			return fmt.Errorf("read sample %s: %w", task.SamplePath, err)
		}

		filename := task.Filename
		if filename == "" {
			filename = filepath.Base(task.SamplePath)
		}

		result, err := analyzer.Analyze(ctx, filename, data)
		if err != nil {
			return fmt.Errorf("analyze %s: %w", filename, err)
		}

		logger.WithFields(logrus.Fields{
			"task_id": task.ID,
			"sha256":  result.Digest,
			"score":   result.Score,
			"verdict": result.Verdict,
		}).Info("Background analysis finished")

		if removeSample {
			if err := os.Remove(task.SamplePath); err != nil && !os.IsNotExist(err) {
				logger.WithError(err).WithField("sample", task.SamplePath).Warn("Failed to remove staged sample")
			}
		}
		return nil
	}
}
