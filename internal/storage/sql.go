package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// sqlDialect はバックエンドごとのクエリ差分を保持する。
// テーブル kv_entries はマイグレーションで作成される。
type sqlDialect struct {
	name     string
	get      string
	upsert   string
	delete   string
	deleteIf string // 値が一致する場合のみ削除
	keys     string
	// keysArgs はkeysクエリに渡す引数を組み立てる（プレースホルダ形式の差分吸収）。
	keysArgs func(prefix string) []any
}

var postgresDialect = sqlDialect{
	name: "postgres",
	get:  `SELECT kv_value FROM kv_entries WHERE kv_key = $1`,
	upsert: `INSERT INTO kv_entries (kv_key, kv_value, updated_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (kv_key) DO UPDATE SET kv_value = EXCLUDED.kv_value, updated_at = EXCLUDED.updated_at`,
	delete:   `DELETE FROM kv_entries WHERE kv_key = $1`,
	deleteIf: `DELETE FROM kv_entries WHERE kv_key = $1 AND kv_value = $2`,
	keys: `SELECT kv_key FROM kv_entries
		 WHERE substr(kv_key, 1, length($1)) = $1
		 ORDER BY kv_key`,
	keysArgs: func(prefix string) []any { return []any{prefix} },
}

var sqliteDialect = sqlDialect{
	name: "sqlite",
	get:  `SELECT kv_value FROM kv_entries WHERE kv_key = ?`,
	upsert: `INSERT INTO kv_entries (kv_key, kv_value, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (kv_key) DO UPDATE SET kv_value = excluded.kv_value, updated_at = excluded.updated_at`,
	delete:   `DELETE FROM kv_entries WHERE kv_key = ?`,
	deleteIf: `DELETE FROM kv_entries WHERE kv_key = ? AND kv_value = ?`,
	keys: `SELECT kv_key FROM kv_entries
		 WHERE substr(kv_key, 1, length(?)) = ?
		 ORDER BY kv_key`,
	keysArgs: func(prefix string) []any { return []any{prefix, prefix} },
}

// SQLStore はdatabase/sql上のKVStore実装。PostgreSQLとSQLiteで共有する。
type SQLStore struct {
	db      *sql.DB
	dialect sqlDialect
}

// NewPostgresStore はPostgreSQLを使用したSQLStoreを生成する。
func NewPostgresStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, dialect: postgresDialect}
}

// NewSQLiteStore はSQLiteファイルを使用したSQLStoreを生成する。
// 端末ローカルの永続化を想定する。
func NewSQLiteStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, dialect: sqliteDialect}
}

// Dialect はバックエンド名（postgres / sqlite）を返す。
func (s *SQLStore) Dialect() string {
	return s.dialect.name
}

// Ping はデータベースへの疎通を確認する。
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Get は値を取得する。見つからない場合はokがfalseになる。
func (s *SQLStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, s.dialect.get, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get kv entry: %w", err)
	}
	return value, true, nil
}

// Set は値をUPSERTする。
func (s *SQLStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, s.dialect.upsert, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set kv entry: %w", err)
	}
	return nil
}

// Delete は値を削除する。存在しない場合もエラーにしない。
func (s *SQLStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, s.dialect.delete, key)
	if err != nil {
		return fmt.Errorf("failed to delete kv entry: %w", err)
	}
	return nil
}

// DeleteIfValue は値が一致する場合のみ削除する。判定と削除は1文で行う。
func (s *SQLStore) DeleteIfValue(ctx context.Context, key, value string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.deleteIf, key, value)
	if err != nil {
		return false, fmt.Errorf("failed to delete kv entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// Keys はプレフィックスに一致するキーを昇順で返す。
func (s *SQLStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.keys, s.dialect.keysArgs(prefix)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list kv keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan kv key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate kv keys: %w", err)
	}
	return keys, nil
}

// compile-time interface check
var (
	_ KVStore            = (*SQLStore)(nil)
	_ KeyLister          = (*SQLStore)(nil)
	_ ConditionalDeleter = (*SQLStore)(nil)
)
