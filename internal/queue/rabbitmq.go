package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/apk-analysis/apk-risk-go/internal/config"
	"github.com/apk-analysis/apk-risk-go/internal/retry"
)

// ErrNotConnected 当前没有可用的 channel
var ErrNotConnected = errors.New("rabbitmq channel not available")

// RabbitMQ RabbitMQ 客户端（单队列，持久化）
type RabbitMQ struct {
	uri       string
	queueName string
	prefetch  int
	heartbeat time.Duration
	logger    *logrus.Logger

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool

	reconnect chan struct{}
	retryCfg  *retry.Config
}

// DialURI 根据配置生成 AMQP 连接串
func DialURI(cfg *config.RabbitMQConfig) string {
	vhost := cfg.VHost
	if vhost == "" {
		vhost = "/"
	}
	return amqp.URI{
		Scheme:   "amqp",
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.User,
		Password: cfg.Password,
		Vhost:    vhost,
	}.String()
}

// NewRabbitMQ 连接 RabbitMQ 并声明任务队列
// prefetch 应与 worker 数量匹配
func NewRabbitMQ(cfg *config.RabbitMQConfig, prefetch int, logger *logrus.Logger) (*RabbitMQ, error) {
	if prefetch <= 0 {
		prefetch = 1
	}

	mq := &RabbitMQ{
		uri:       DialURI(cfg),
		queueName: cfg.Queue,
		prefetch:  prefetch,
		heartbeat: 10 * time.Second,
		logger:    logger,
		reconnect: make(chan struct{}, 1),
		retryCfg: &retry.Config{
			Operation:       "rabbitmq_reconnect",
			MaxAttempts:     10,
			InitialInterval: time.Second,
			MaxInterval:     30 * time.Second,
			Strategy:        retry.StrategyExponential,
			Logger:          logger,
		},
	}

	if err := mq.connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	return mq, nil
}

// connect 建立连接、设置 QoS、声明队列
func (mq *RabbitMQ) connect() error {
	conn, err := amqp.DialConfig(mq.uri, amqp.Config{
		Heartbeat: mq.heartbeat,
		Locale:    "en_US",
	})
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.Qos(mq.prefetch, 0, false); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	if _, err := ch.QueueDeclare(mq.queueName, true, false, false, false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	mq.mu.Lock()
	mq.conn = conn
	mq.channel = ch
	mq.mu.Unlock()

	go mq.watch(conn.NotifyClose(make(chan *amqp.Error, 1)), ch.NotifyClose(make(chan *amqp.Error, 1)))

	mq.logger.WithFields(logrus.Fields{
		"queue":    mq.queueName,
		"prefetch": mq.prefetch,
	}).Info("Connected to RabbitMQ")

	return nil
}

// watch 等待 connection 或 channel 关闭，非主动关闭时发出重连信号
func (mq *RabbitMQ) watch(connClosed, chanClosed <-chan *amqp.Error) {
	var err *amqp.Error
	select {
	case err = <-connClosed:
	case err = <-chanClosed:
	}

	mq.mu.RLock()
	closed := mq.closed
	mq.mu.RUnlock()
	if closed {
		return
	}

	if err != nil {
		mq.logger.WithError(err).Error("RabbitMQ connection closed unexpectedly")
	} else {
		mq.logger.Warn("RabbitMQ connection closed")
	}

	select {
	case mq.reconnect <- struct{}{}:
	default:
	}
}

// Reconnected 重连信号
func (mq *RabbitMQ) Reconnected() <-chan struct{} {
	return mq.reconnect
}

// Reconnect 关闭旧连接并按指数退避重连
func (mq *RabbitMQ) Reconnect(ctx context.Context) error {
	mq.closeConnections()

	return retry.Do(ctx, mq.retryCfg, func(ctx context.Context) error {
		mq.mu.RLock()
		closed := mq.closed
		mq.mu.RUnlock()
		if closed {
			return retry.NewNonRetryableError(errors.New("client closed"))
		}
		return mq.connect()
	})
}

func (mq *RabbitMQ) closeConnections() {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	if mq.channel != nil {
		mq.channel.Close()
		mq.channel = nil
	}
	if mq.conn != nil {
		mq.conn.Close()
		mq.conn = nil
	}
}

// Publish 发布持久化 JSON 消息
func (mq *RabbitMQ) Publish(ctx context.Context, messageID string, body []byte) error {
	mq.mu.RLock()
	ch := mq.channel
	mq.mu.RUnlock()
	if ch == nil {
		return ErrNotConnected
	}

	return ch.PublishWithContext(ctx, "", mq.queueName, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    messageID,
		Body:         body,
		Timestamp:    time.Now(),
	})
}

// Consume 开始消费（手动确认）
func (mq *RabbitMQ) Consume() (<-chan amqp.Delivery, error) {
	mq.mu.RLock()
	ch := mq.channel
	mq.mu.RUnlock()
	if ch == nil {
		return nil, ErrNotConnected
	}

	msgs, err := ch.Consume(mq.queueName, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume: %w", err)
	}
	return msgs, nil
}

// QueueDepth 返回队列中待处理消息数
func (mq *RabbitMQ) QueueDepth() (int, error) {
	mq.mu.RLock()
	ch := mq.channel
	mq.mu.RUnlock()
	if ch == nil {
		return 0, ErrNotConnected
	}

	q, err := ch.QueueInspect(mq.queueName)
	if err != nil {
		return 0, err
	}
	return q.Messages, nil
}

// IsConnected 检查连接状态
func (mq *RabbitMQ) IsConnected() bool {
	mq.mu.RLock()
	defer mq.mu.RUnlock()
	return mq.conn != nil && !mq.conn.IsClosed()
}

// Close 关闭连接
func (mq *RabbitMQ) Close() error {
	mq.mu.Lock()
	mq.closed = true
	mq.mu.Unlock()

	mq.closeConnections()
	mq.logger.Info("RabbitMQ connection closed")
	return nil
}
