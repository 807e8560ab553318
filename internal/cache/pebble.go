package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/apk-analysis/apk-risk-go/internal/domain"
	"github.com/cockroachdb/pebble"
)

// prefixResult result:{sha256} -> JSON
var prefixResult = []byte("result:")

// PebbleStore 本地磁盘结果层
type PebbleStore struct {
	db *pebble.DB
	mu sync.Mutex
}

// OpenPebbleStore 打开或创建 Pebble 数据库
func OpenPebbleStore(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open result db %q: %w", dir, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Name() string { return "pebble" }

func resultKey(digest string) []byte {
	return append(append([]byte{}, prefixResult...), digest...)
}

// Get 按摘要读取
func (s *PebbleStore) Get(ctx context.Context, digest string) (*domain.AnalysisResult, error) {
	data, closer, err := s.db.Get(resultKey(digest))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()

	var result domain.AnalysisResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode cached result %s: %w", digest, err)
	}
	return &result, nil
}

// Put 写入结果，已存在时不覆盖
func (s *PebbleStore) Put(ctx context.Context, result *domain.AnalysisResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := resultKey(result.Digest)
	if _, closer, err := s.db.Get(key); err == nil {
		closer.Close()
		return nil
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return err
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result %s: %w", result.Digest, err)
	}
	return s.db.Set(key, data, pebble.Sync)
}

func (s *PebbleStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
