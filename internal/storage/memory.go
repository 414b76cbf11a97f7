package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore はプロセス内メモリに保持するKVStore実装。
// テストとSTORAGE_BACKEND=memory で使用する。
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryStore はMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

// Get は値を取得する。
func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

// Set は値を保存する。
func (s *MemoryStore) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

// Delete は値を削除する。
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// DeleteIfValue は値が一致する場合のみ削除する。
func (s *MemoryStore) DeleteIfValue(ctx context.Context, key, value string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.data[key]; !ok || v != value {
		return false, nil
	}
	delete(s.data, key)
	return true, nil
}

// Keys はプレフィックスに一致するキーを昇順で返す。
func (s *MemoryStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// compile-time interface check
var (
	_ KVStore   = (*MemoryStore)(nil)
	_ KeyLister          = (*MemoryStore)(nil)
	_ ConditionalDeleter = (*MemoryStore)(nil)
)
