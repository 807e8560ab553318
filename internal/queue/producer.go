package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// AnalysisMessage 异步分析任务消息
type AnalysisMessage struct {
	JobID      string `json:"job_id"`
	Filename   string `json:"filename"`
	SamplePath string `json:"sample_path"`
}

// Validate 校验必填字段
func (m *AnalysisMessage) Validate() error {
	if m.JobID == "" {
		return errors.New("job_id is required")
	}
	if m.SamplePath == "" {
		return errors.New("sample_path is required")
	}
	return nil
}

// DecodeMessage 解析并校验消息体
func DecodeMessage(body []byte) (*AnalysisMessage, error) {
	var msg AnalysisMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Publisher 发布消息的能力
type Publisher interface {
	Publish(ctx context.Context, messageID string, body []byte) error
}

// Producer 消息生产者
type Producer struct {
	pub    Publisher
	logger *logrus.Logger
}

// NewProducer 创建生产者
func NewProducer(pub Publisher, logger *logrus.Logger) *Producer {
	return &Producer{
		pub:    pub,
		logger: logger,
	}
}

// PublishJob 发布分析任务
func (p *Producer) PublishJob(ctx context.Context, msg *AnalysisMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := p.pub.Publish(ctx, msg.JobID, body); err != nil {
		p.logger.WithError(err).WithField("job_id", msg.JobID).Error("Failed to publish analysis job")
		return fmt.Errorf("failed to publish: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"job_id":   msg.JobID,
		"filename": msg.Filename,
	}).Info("Analysis job published to queue")

	return nil
}
