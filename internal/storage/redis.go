package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// deleteIfValueScript はGETとDELをサーバー側で不可分に実行する。
var deleteIfValueScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore はRedisを使用したKVStore実装。
// 値はTTLなしで保存する。期限管理は呼び出し側（再設定レコードのExpiresAt）が行う。
type RedisStore struct {
	client *redis.Client
}

// RedisConfig はRedis接続設定。
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient はRedisクライアントを生成する。接続確認にはPingを使用すること。
func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewRedisStore はRedisStoreを生成する。
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Ping はRedisへの接続を確認する。
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

// Get は値を取得する。
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get redis key: %w", err)
	}
	return v, true, nil
}

// Set は値を保存する。
func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set redis key: %w", err)
	}
	return nil
}

// Delete は値を削除する。
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete redis key: %w", err)
	}
	return nil
}

// DeleteIfValue は値が一致する場合のみ削除する。
func (s *RedisStore) DeleteIfValue(ctx context.Context, key, value string) (bool, error) {
	n, err := deleteIfValueScript.Run(ctx, s.client, []string{key}, value).Int()
	if err != nil {
		return false, fmt.Errorf("failed to delete redis key: %w", err)
	}
	return n > 0, nil
}

// Keys はSCANでプレフィックスに一致するキーを列挙する。
func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, escapeGlob(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan redis keys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close はクライアントを閉じる。
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// escapeGlob はSCANのMATCHパターンで特別な意味を持つ文字をエスケープする。
func escapeGlob(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}

// compile-time interface check
var (
	_ KVStore   = (*RedisStore)(nil)
	_ KeyLister          = (*RedisStore)(nil)
	_ ConditionalDeleter = (*RedisStore)(nil)
)
