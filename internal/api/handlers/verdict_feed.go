package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/apk-analysis/apk-risk-go/internal/domain"
	"github.com/apk-analysis/apk-risk-go/internal/service"
)

const (
	feedWriteWait  = 10 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = (feedPongWait * 9) / 10
	feedBufferSize = 32
)

// VerdictMessage 推送给订阅者的判定摘要
type VerdictMessage struct {
	SHA256     string         `json:"sha256"`
	Filename   string         `json:"filename"`
	Package    string         `json:"package,omitempty"`
	Score      float64        `json:"score"`
	Verdict    domain.Verdict `json:"verdict"`
	Reasons    []string       `json:"reasons"`
	Layer      string         `json:"layer"`
	DurationMS int64          `json:"duration_ms"`
	Timestamp  int64          `json:"timestamp"`
}

// VerdictFeed 分析结果实时推送（websocket）
type VerdictFeed struct {
	logger   *logrus.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*feedClient]struct{}

	onCount func(n int)
}

type feedClient struct {
	conn *websocket.Conn
	send chan VerdictMessage
}

// NewVerdictFeed 创建推送中心，onCount 在连接数变化时回调（可为 nil）
func NewVerdictFeed(logger *logrus.Logger, onCount func(n int)) *VerdictFeed {
	return &VerdictFeed{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*feedClient]struct{}),
		onCount: onCount,
	}
}

// NewVerdictMessage 由分析事件生成推送消息
func NewVerdictMessage(event service.AnalysisEvent) VerdictMessage {
	r := event.Result
	codes := make([]string, 0, len(r.Reasons))
	for _, reason := range r.Reasons {
		codes = append(codes, reason.Code)
	}
	return VerdictMessage{
		SHA256:     r.Digest,
		Filename:   r.Filename,
		Package:    r.Features.PackageValue(),
		Score:      r.Score,
		Verdict:    r.Verdict,
		Reasons:    codes,
		Layer:      event.Layer,
		DurationMS: event.Duration.Milliseconds(),
		Timestamp:  time.Now().Unix(),
	}
}

// Publish 实现 service.Listener；慢客户端丢弃消息，不阻塞分析
func (f *VerdictFeed) Publish(event service.AnalysisEvent) {
	if event.Result == nil {
		return
	}
	msg := NewVerdictMessage(event)

	f.mu.RLock()
	defer f.mu.RUnlock()
	for client := range f.clients {
		select {
		case client.send <- msg:
		default:
			f.logger.WithField("sha256", msg.SHA256).Warn("Verdict feed client too slow, dropping message")
		}
	}
}

// Clients 当前连接数
func (f *VerdictFeed) Clients() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

// HandleWebSocket 处理订阅连接
// GET /ws/verdicts
func (f *VerdictFeed) HandleWebSocket(c *gin.Context) {
	conn, err := f.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		f.logger.WithError(err).Error("Failed to upgrade to WebSocket")
		return
	}

	client := &feedClient{conn: conn, send: make(chan VerdictMessage, feedBufferSize)}
	f.register(client)

	f.logger.WithField("remote", c.ClientIP()).Info("Verdict feed client connected")

	done := make(chan struct{})
	go f.writePump(client, done)
	f.readPump(client)

	close(done)
	f.unregister(client)
	conn.Close()

	f.logger.WithField("remote", c.ClientIP()).Info("Verdict feed client disconnected")
}

// readPump 读取直到连接断开，只处理控制帧
func (f *VerdictFeed) readPump(client *feedClient) {
	client.conn.SetReadLimit(512)
	client.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				f.logger.WithError(err).Warn("WebSocket error")
			}
			return
		}
	}
}

func (f *VerdictFeed) writePump(client *feedClient, done <-chan struct{}) {
	ticker := time.NewTicker(feedPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case msg := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := client.conn.WriteJSON(msg); err != nil {
				f.logger.WithError(err).Warn("Failed to write to WebSocket client")
				client.conn.Close()
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				client.conn.Close()
				return
			}
		}
	}
}

func (f *VerdictFeed) register(client *feedClient) {
	f.mu.Lock()
	f.clients[client] = struct{}{}
	n := len(f.clients)
	f.mu.Unlock()
	if f.onCount != nil {
		f.onCount(n)
	}
}

func (f *VerdictFeed) unregister(client *feedClient) {
	f.mu.Lock()
	delete(f.clients, client)
	n := len(f.clients)
	f.mu.Unlock()
	if f.onCount != nil {
		f.onCount(n)
	}
}
