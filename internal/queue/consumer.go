package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/apk-analysis/apk-risk-go/internal/worker"
)

// DeliverySource 消息来源，*RabbitMQ 实现该接口
type DeliverySource interface {
	Consume() (<-chan amqp.Delivery, error)
	Reconnected() <-chan struct{}
	Reconnect(ctx context.Context) error
}

// JobRunner 执行任务并等待结果，*worker.Pool 实现该接口
type JobRunner interface {
	SubmitAndWait(ctx context.Context, task *worker.Task) error
}

// Consumer 消息消费者，把任务交给 Worker 池
type Consumer struct {
	source      DeliverySource
	runner      JobRunner
	concurrency int
	logger      *logrus.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewConsumer 创建消费者
func NewConsumer(source DeliverySource, runner JobRunner, concurrency int, logger *logrus.Logger) *Consumer {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Consumer{
		source:      source,
		runner:      runner,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Start 启动消费者，断线后自动重连并恢复消费
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		c.logger.Warn("Consumer already running, skipping start")
		return nil
	}
	c.running = true
	c.mu.Unlock()

	if err := c.consume(ctx); err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return err
	}

	go c.handleReconnect(ctx)
	return nil
}

// consume 获取消息通道并启动处理协程
func (c *Consumer) consume(ctx context.Context) error {
	msgs, err := c.source.Consume()
	if err != nil {
		return err
	}

	workerCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	for i := 0; i < c.concurrency; i++ {
		c.wg.Add(1)
		go c.loop(workerCtx, i, msgs)
	}

	c.logger.WithField("concurrency", c.concurrency).Info("Consumer started")
	return nil
}

func (c *Consumer) loop(ctx context.Context, id int, msgs <-chan amqp.Delivery) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-msgs:
			if !ok {
				c.logger.WithField("consumer_id", id).Debug("Delivery channel closed")
				return
			}
			c.handleDelivery(ctx, d)
		}
	}
}

// handleDelivery 处理单条消息：成功 Ack，失败 Nack
// 格式错误与分析失败不重新入队；关停时中断的任务重新入队
func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	start := time.Now()

	msg, err := DecodeMessage(d.Body)
	if err != nil {
		c.logger.WithError(err).Error("Dropping malformed analysis message")
		_ = d.Nack(false, false)
		return
	}

	fields := logrus.Fields{
		"job_id":   msg.JobID,
		"filename": msg.Filename,
	}

	err = c.runner.SubmitAndWait(ctx, &worker.Task{
		ID:         msg.JobID,
		SamplePath: msg.SamplePath,
		Filename:   msg.Filename,
		Source:     "queue",
	})

	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			c.logger.WithError(ackErr).WithFields(fields).Error("Failed to acknowledge message")
		}
		fields["duration"] = time.Since(start).String()
		c.logger.WithFields(fields).Info("Queued analysis completed")

	case errors.Is(err, context.Canceled), errors.Is(err, worker.ErrPoolStopped):
		c.logger.WithFields(fields).Warn("Analysis interrupted, requeueing")
		_ = d.Nack(false, true)

	default:
		c.logger.WithError(err).WithFields(fields).Error("Queued analysis failed")
		_ = d.Nack(false, false)
	}
}

// handleReconnect 收到断线信号后停止处理协程、重连、恢复消费
func (c *Consumer) handleReconnect(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.source.Reconnected():
			c.logger.Warn("Connection lost, attempting to reconnect")
			c.stopWorkers()

			if err := c.source.Reconnect(ctx); err != nil {
				c.logger.WithError(err).Error("Failed to reconnect, consumer idle until next signal")
				continue
			}
			if err := c.consume(ctx); err != nil {
				c.logger.WithError(err).Error("Failed to restart consumer")
			}
		}
	}
}

func (c *Consumer) stopWorkers() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// Stop 停止消费者并等待处理协程退出
func (c *Consumer) Stop() {
	c.logger.Info("Stopping consumer")
	c.stopWorkers()

	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	c.logger.Info("Consumer stopped")
}

// IsRunning 检查消费者是否正在运行
func (c *Consumer) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
