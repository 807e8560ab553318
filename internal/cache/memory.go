package cache

import (
	"time"

	"github.com/apk-analysis/apk-risk-go/internal/domain"
	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache 进程内结果缓存
type MemoryCache struct {
	cache *gocache.Cache
}

// NewMemoryCache 创建内存缓存
func NewMemoryCache(defaultTTL time.Duration, cleanupInterval time.Duration) *MemoryCache {
	return &MemoryCache{
		cache: gocache.New(defaultTTL, cleanupInterval),
	}
}

// Get 按摘要读取
func (c *MemoryCache) Get(digest string) (*domain.AnalysisResult, bool) {
	if val, found := c.cache.Get(digest); found {
		return val.(*domain.AnalysisResult), true
	}
	return nil, false
}

// Set 写入，已存在时保留旧值
func (c *MemoryCache) Set(result *domain.AnalysisResult) {
	// Add 在键已存在时返回错误，忽略即可
	_ = c.cache.Add(result.Digest, result, gocache.DefaultExpiration)
}

// Len 当前条目数
func (c *MemoryCache) Len() int {
	return c.cache.ItemCount()
}

// Clear 清空
func (c *MemoryCache) Clear() {
	c.cache.Flush()
}
