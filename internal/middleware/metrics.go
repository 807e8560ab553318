package middleware

import (
	"database/sql"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// PoolStatsFunc 返回 Worker Pool 的 (size, active, queued)
type PoolStatsFunc func() (size, active, queued int)

// StatsSampler 周期性采集 Worker Pool、数据库连接和内存统计
type StatsSampler struct {
	metrics   *PrometheusMetrics
	pool      PoolStatsFunc
	db        *sql.DB
	logger    *logrus.Logger
	interval  time.Duration
	highMemMB uint64

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewStatsSampler 创建采集器，pool 和 db 可为 nil
func NewStatsSampler(metrics *PrometheusMetrics, pool PoolStatsFunc, db *sql.DB, logger *logrus.Logger, interval time.Duration) *StatsSampler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &StatsSampler{
		metrics:   metrics,
		pool:      pool,
		db:        db,
		logger:    logger,
		interval:  interval,
		highMemMB: 1536,
		stopChan:  make(chan struct{}),
	}
}

// Start 启动采集
func (s *StatsSampler) Start() {
	go s.loop()
}

// Stop 停止采集
func (s *StatsSampler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

func (s *StatsSampler) loop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.Sample()
		}
	}
}

// Sample 采集一次
func (s *StatsSampler) Sample() {
	if s.pool != nil {
		size, active, queued := s.pool()
		s.metrics.UpdateWorkerPoolStats(size, active, queued)
	}

	if s.db != nil {
		stats := s.db.Stats()
		s.metrics.UpdateDBStats(stats.OpenConnections, stats.InUse)
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	allocMB := ms.Alloc / 1024 / 1024

	// 解压大包时内存可能暴涨
	if allocMB > s.highMemMB {
		s.logger.WithFields(logrus.Fields{
			"alloc_mb":   allocMB,
			"sys_mb":     ms.Sys / 1024 / 1024,
			"goroutines": runtime.NumGoroutine(),
		}).Warn("High memory usage detected")
	}
}
