package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/apk-analysis/apk-risk-go/internal/domain"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// ErrNotFound 摘要不在存储中
var ErrNotFound = errors.New("result not found")

// 命中层名称
const (
	LayerMemory  = "memory"
	LayerCompute = "compute"
)

// Store 按摘要寻址的持久化结果层，写入必须幂等（先写者胜）
type Store interface {
	Name() string
	Get(ctx context.Context, digest string) (*domain.AnalysisResult, error)
	Put(ctx context.Context, result *domain.AnalysisResult) error
}

// ComputeFunc 缓存未命中时执行的分析
type ComputeFunc func(ctx context.Context) (*domain.AnalysisResult, error)

// ResultCache 内存层 → 持久层 → 计算
// 同一摘要的并发请求只计算一次
type ResultCache struct {
	memory *MemoryCache
	stores []Store
	group  singleflight.Group
	logger *logrus.Logger
}

// NewResultCache 创建分层缓存，stores 按从快到慢排列
func NewResultCache(memory *MemoryCache, logger *logrus.Logger, stores ...Store) *ResultCache {
	return &ResultCache{
		memory: memory,
		stores: stores,
		logger: logger,
	}
}

// Layers 各层名称（从快到慢）
func (c *ResultCache) Layers() []string {
	layers := []string{}
	if c.memory != nil {
		layers = append(layers, LayerMemory)
	}
	for _, s := range c.stores {
		layers = append(layers, s.Name())
	}
	return layers
}

type lookup struct {
	result *domain.AnalysisResult
	layer  string
}

// LookupOrCompute 返回缓存结果及命中层；未命中时调用 compute 并写入所有层
// compute 出错时不缓存任何内容
func (c *ResultCache) LookupOrCompute(ctx context.Context, digest string, compute ComputeFunc) (*domain.AnalysisResult, string, error) {
	if c.memory != nil {
		if result, ok := c.memory.Get(digest); ok {
			return result, LayerMemory, nil
		}
	}

	v, err, _ := c.group.Do(digest, func() (interface{}, error) {
		for i, store := range c.stores {
			result, err := store.Get(ctx, digest)
			if err == nil {
				c.promote(ctx, result, i)
				return &lookup{result: result, layer: store.Name()}, nil
			}
			if !errors.Is(err, ErrNotFound) {
				c.logger.WithFields(logrus.Fields{
					"store":  store.Name(),
					"sha256": digest,
					"error":  err.Error(),
				}).Warn("Cache store lookup failed")
			}
		}

		result, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if result == nil {
			return nil, fmt.Errorf("compute returned no result for %s", digest)
		}

		c.promote(ctx, result, len(c.stores))
		return &lookup{result: result, layer: LayerCompute}, nil
	})
	if err != nil {
		return nil, "", err
	}

	l := v.(*lookup)
	return l.result, l.layer, nil
}

// promote 把结果写入比 hitIndex 更快的所有层
// 从慢到快写入，数据库层分配的 ID 会带入 pebble 与内存层
func (c *ResultCache) promote(ctx context.Context, result *domain.AnalysisResult, hitIndex int) {
	for i := min(hitIndex, len(c.stores)) - 1; i >= 0; i-- {
		if err := c.stores[i].Put(ctx, result); err != nil {
			c.logger.WithFields(logrus.Fields{
				"store":  c.stores[i].Name(),
				"sha256": result.Digest,
				"error":  err.Error(),
			}).Warn("Cache store write failed")
		}
	}
	if c.memory != nil {
		c.memory.Set(result)
	}
}
