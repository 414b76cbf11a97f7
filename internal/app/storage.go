package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/meetup/internal/config"
	"github.com/hitoshi/meetup/internal/database"
	"github.com/hitoshi/meetup/internal/handler"
	"github.com/hitoshi/meetup/internal/storage"
	"github.com/hitoshi/meetup/internal/worker/cleanup"
)

// pingTimeout は起動時の接続確認のタイムアウト。
const pingTimeout = 5 * time.Second

// backend は設定で選ばれた永続化アダプタと、その付随リソースをまとめる。
type backend struct {
	store  cleanup.Store
	health handler.HealthChecker // memoryの場合はnil
	close  func() error
}

// openBackend はSTORAGE_BACKENDに応じて永続化アダプタを開く。
// sqliteは起動時にマイグレーションを適用し、postgresはmigrateサブコマンドに任せる。
func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	switch cfg.StorageBackend {
	case config.BackendMemory:
		slog.Warn("using in-memory storage, state is lost on restart")
		return &backend{
			store: storage.NewMemoryStore(),
			close: func() error { return nil },
		}, nil

	case config.BackendSQLite:
		if err := database.RunSQLiteMigrations(cfg.SQLitePath); err != nil {
			return nil, fmt.Errorf("failed to migrate sqlite: %w", err)
		}
		db, err := database.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		st := storage.NewSQLiteStore(db)
		if err := ping(ctx, st); err != nil {
			db.Close()
			return nil, err
		}
		slog.Info("sqlite storage ready", slog.String("path", cfg.SQLitePath))
		return &backend{store: st, health: st, close: db.Close}, nil

	case config.BackendPostgres:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		st := storage.NewPostgresStore(db)
		if err := ping(ctx, st); err != nil {
			db.Close()
			return nil, err
		}
		slog.Info("database connection established",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)
		return &backend{store: st, health: st, close: db.Close}, nil

	case config.BackendRedis:
		st := storage.NewRedisStore(storage.NewRedisClient(storage.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}))
		if err := ping(ctx, st); err != nil {
			st.Close()
			return nil, err
		}
		slog.Info("redis connection established", slog.String("addr", cfg.RedisAddr))
		return &backend{store: st, health: st, close: st.Close}, nil

	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.StorageBackend)
	}
}

func ping(ctx context.Context, hc handler.HealthChecker) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := hc.Ping(ctx); err != nil {
		return fmt.Errorf("failed to connect to storage: %w", err)
	}
	return nil
}
