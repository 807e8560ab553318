package cache

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apk-analysis/apk-risk-go/internal/domain"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// mapStore 测试用内存持久层
type mapStore struct {
	name string
	mu   sync.Mutex
	data map[string]*domain.AnalysisResult
	puts int
}

func newMapStore(name string) *mapStore {
	return &mapStore{name: name, data: map[string]*domain.AnalysisResult{}}
}

func (s *mapStore) Name() string { return s.name }

func (s *mapStore) Get(ctx context.Context, digest string) (*domain.AnalysisResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.data[digest]; ok {
		return r, nil
	}
	return nil, ErrNotFound
}

func (s *mapStore) Put(ctx context.Context, result *domain.AnalysisResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if _, ok := s.data[result.Digest]; !ok {
		s.data[result.Digest] = result
	}
	return nil
}

func sampleResult(digest string, score float64) *domain.AnalysisResult {
	return &domain.AnalysisResult{
		Digest:   digest,
		Filename: "sample.apk",
		Score:    score,
		Verdict:  domain.VerdictFor(score),
		Reasons:  []domain.Reason{{Code: domain.ReasonNameSimilarity, Detail: "App name similarity to official bank apps: 0.0/100"}},
		Features: domain.NewFeatureSet(domain.SourceRaw),
	}
}

// TestLookupOrCompute_ComputeThenMemory 测试首次计算、再次命中内存
func TestLookupOrCompute_ComputeThenMemory(t *testing.T) {
	store := newMapStore("db")
	c := NewResultCache(NewMemoryCache(time.Minute, time.Minute), newTestLogger(), store)

	calls := 0
	compute := func(ctx context.Context) (*domain.AnalysisResult, error) {
		calls++
		return sampleResult("d1", 42), nil
	}

	first, layer, err := c.LookupOrCompute(context.Background(), "d1", compute)
	require.NoError(t, err)
	assert.Equal(t, LayerCompute, layer)

	second, layer, err := c.LookupOrCompute(context.Background(), "d1", compute)
	require.NoError(t, err)
	assert.Equal(t, LayerMemory, layer)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)
	assert.Contains(t, store.data, "d1")
}

// snapshotStore 写入时保存副本的持久层（模拟序列化）
type snapshotStore struct {
	*mapStore
	assignID uint
}

func (s *snapshotStore) Put(ctx context.Context, result *domain.AnalysisResult) error {
	if s.assignID != 0 {
		result.ID = s.assignID
	}
	snapshot := *result
	return s.mapStore.Put(ctx, &snapshot)
}

// TestLookupOrCompute_DatabaseIDReachesFasterLayers 测试数据库分配的 ID 写入更快的层
func TestLookupOrCompute_DatabaseIDReachesFasterLayers(t *testing.T) {
	pebbleLayer := &snapshotStore{mapStore: newMapStore("pebble")}
	database := &snapshotStore{mapStore: newMapStore("database"), assignID: 7}
	c := NewResultCache(NewMemoryCache(time.Minute, time.Minute), newTestLogger(), pebbleLayer, database)

	first, layer, err := c.LookupOrCompute(context.Background(), "d9", func(ctx context.Context) (*domain.AnalysisResult, error) {
		return sampleResult("d9", 55), nil
	})
	require.NoError(t, err)
	assert.Equal(t, LayerCompute, layer)
	assert.Equal(t, uint(7), first.ID)

	cached, err := pebbleLayer.Get(context.Background(), "d9")
	require.NoError(t, err)
	assert.Equal(t, uint(7), cached.ID)

	// 内存层失效后从 pebble 命中，仍带有 ID
	fresh := NewResultCache(NewMemoryCache(time.Minute, time.Minute), newTestLogger(), pebbleLayer, database)
	again, layer, err := fresh.LookupOrCompute(context.Background(), "d9", func(ctx context.Context) (*domain.AnalysisResult, error) {
		t.Fatal("compute must not run on a store hit")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "pebble", layer)
	assert.Equal(t, uint(7), again.ID)
}

// TestLookupOrCompute_StoreHitPromoted 测试持久层命中后提升到更快的层
func TestLookupOrCompute_StoreHitPromoted(t *testing.T) {
	fast := newMapStore("pebble")
	slow := newMapStore("db")
	slow.data["d2"] = sampleResult("d2", 80)

	memory := NewMemoryCache(time.Minute, time.Minute)
	c := NewResultCache(memory, newTestLogger(), fast, slow)

	result, layer, err := c.LookupOrCompute(context.Background(), "d2", func(ctx context.Context) (*domain.AnalysisResult, error) {
		t.Fatal("compute must not run on a store hit")
		return nil, nil
	})
	require.NoError(t, err)

	assert.Equal(t, "db", layer)
	assert.Equal(t, 80.0, result.Score)
	assert.Contains(t, fast.data, "d2")
	assert.Equal(t, 0, slow.puts)

	_, ok := memory.Get("d2")
	assert.True(t, ok)
}

// TestLookupOrCompute_ErrorNotCached 测试计算失败不写缓存
func TestLookupOrCompute_ErrorNotCached(t *testing.T) {
	store := newMapStore("db")
	c := NewResultCache(NewMemoryCache(time.Minute, time.Minute), newTestLogger(), store)

	boom := errors.New("invalid archive")
	_, _, err := c.LookupOrCompute(context.Background(), "bad", func(ctx context.Context) (*domain.AnalysisResult, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, store.data)

	_, _, err = c.LookupOrCompute(context.Background(), "nil", func(ctx context.Context) (*domain.AnalysisResult, error) {
		return nil, nil
	})
	assert.Error(t, err)
}

// TestLookupOrCompute_SingleFlight 测试并发请求同一摘要只计算一次
func TestLookupOrCompute_SingleFlight(t *testing.T) {
	c := NewResultCache(NewMemoryCache(time.Minute, time.Minute), newTestLogger())

	var calls int32
	release := make(chan struct{})
	compute := func(ctx context.Context) (*domain.AnalysisResult, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return sampleResult("same", 55), nil
	}

	const n = 8
	var wg sync.WaitGroup
	results := make([]*domain.AnalysisResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, _, err := c.LookupOrCompute(context.Background(), "same", compute)
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, r := range results {
		assert.Equal(t, 55.0, r.Score)
	}
}

// TestMemoryCache_FirstWriterWins 测试内存层幂等写入
func TestMemoryCache_FirstWriterWins(t *testing.T) {
	m := NewMemoryCache(time.Minute, time.Minute)
	m.Set(sampleResult("k", 10))
	m.Set(sampleResult("k", 90))

	r, ok := m.Get("k")
	require.True(t, ok)
	assert.Equal(t, 10.0, r.Score)
	assert.Equal(t, 1, m.Len())

	m.Clear()
	assert.Equal(t, 0, m.Len())
}

// TestPebbleStore 测试磁盘层读写与幂等
func TestPebbleStore(t *testing.T) {
	store, err := OpenPebbleStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put(ctx, sampleResult("p1", 71)))
	require.NoError(t, store.Put(ctx, sampleResult("p1", 5)))

	got, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 71.0, got.Score)
	assert.Equal(t, domain.VerdictMalicious, got.Verdict)
	assert.Equal(t, domain.SourceRaw, got.Features.Source)
	assert.Len(t, got.Reasons, 1)
}

// TestResultCache_Layers 测试层名称
func TestResultCache_Layers(t *testing.T) {
	c := NewResultCache(NewMemoryCache(time.Minute, time.Minute), newTestLogger(), newMapStore("pebble"), newMapStore("db"))
	assert.Equal(t, []string{"memory", "pebble", "db"}, c.Layers())
}
