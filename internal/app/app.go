package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/meetup/internal/account"
	"github.com/hitoshi/meetup/internal/config"
	"github.com/hitoshi/meetup/internal/database"
	"github.com/hitoshi/meetup/internal/handler"
	"github.com/hitoshi/meetup/internal/logger"
	"github.com/hitoshi/meetup/internal/meetup"
	"github.com/hitoshi/meetup/internal/metrics"
	"github.com/hitoshi/meetup/internal/middleware"
	"github.com/hitoshi/meetup/internal/model"
	"github.com/hitoshi/meetup/internal/review"
	"github.com/hitoshi/meetup/internal/security"
	"github.com/hitoshi/meetup/internal/session"
	"github.com/hitoshi/meetup/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルで再セットアップ
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("storage_backend", cfg.StorageBackend),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// App は組み立て済みの依存関係を保持する。
type App struct {
	Handler  http.Handler
	Session  *session.Store
	Accounts *account.LocalAPI
	Meetups  *meetup.Store
	Reviews  *review.Store
	Cleanup  *cleanup.CleanupJob

	rateLimiter *middleware.RateLimiter
	backend     *backend
}

// Build はストレージを開き、ストアとHTTPルーターをワイヤリングする。
// セッションの復元もここで一度だけ行う。
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	// 1. ストレージ
	be, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// 2. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)
	sanitizer := security.NewTextSanitizer()

	// 3. アカウントとセッション
	accounts := account.NewLocalAPI(be.store, account.LocalAPIConfig{
		ResetCodeTTL: cfg.ResetCodeTTL,
		MockAccounts: mockAccounts(cfg),
	})
	opts := session.Options{Metrics: collector}
	if cfg.AutoMockLogin {
		opts.Fallback = session.StaticCredential{LoginID: cfg.MockLoginID, Password: cfg.MockPassword}
	}
	sess := session.NewStore(accounts, be.store, opts)
	snap := sess.Hydrate(ctx)
	slog.Info("session hydrated", slog.Bool("logged_in", snap.IsLoggedIn))

	// 4. ミートアップとレビュー
	meetups := meetup.NewStore(sanitizer, collector)
	if cfg.SeedMeetups {
		meetups.Seed(meetup.MockMeetups(time.Now()))
	}
	reviews := review.NewStore(sessionAuthor(sess), sanitizer, collector)

	// 5. ルーター
	rl := middleware.NewRateLimiter(middleware.PerMinuteConfig(cfg.RateLimitGeneral, cfg.RateLimitReset))
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rl,
		HealthChecker:     be.health,
		Metrics:           collector,
		MetricsGatherer:   reg,
		Session:           sess,
		PasswordReset:     accounts,
		Meetups:           meetups,
		Reviews:           reviews,
		NearbyRadiusKm:    cfg.NearbyRadiusKm,
	})

	return &App{
		Handler:     router,
		Session:     sess,
		Accounts:    accounts,
		Meetups:     meetups,
		Reviews:     reviews,
		Cleanup:     cleanup.NewCleanupJob(be.store, slog.Default(), collector),
		rateLimiter: rl,
		backend:     be,
	}, nil
}

// Close はレートリミッターを止め、ストレージを閉じる。
func (a *App) Close() error {
	a.rateLimiter.Stop()
	return a.backend.close()
}

// mockAccounts は既定のモックアカウントに自動ログイン用の資格情報を加える。
func mockAccounts(cfg *config.Config) []account.MockAccount {
	accounts := append([]account.MockAccount(nil), account.DefaultMockAccounts...)
	if !cfg.AutoMockLogin {
		return accounts
	}
	loginID := model.NormalizeEmail(cfg.MockLoginID)
	for _, m := range accounts {
		if model.NormalizeEmail(m.Email) == loginID {
			return accounts
		}
	}
	return append(accounts, account.MockAccount{
		Email:    loginID,
		Password: cfg.MockPassword,
		Nickname: "demo",
		Gender:   model.GenderNone,
	})
}

// sessionAuthor はログイン中ユーザーをレビューの投稿者として解決する。
func sessionAuthor(sess *session.Store) review.AuthorProvider {
	return review.AuthorFunc(func() (review.Author, bool) {
		u := sess.CurrentUser()
		if u == nil {
			return review.Author{}, false
		}
		return review.Author{ID: u.ID, Name: u.Nickname}, true
	})
}

// runServe はAPIサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("failed to close storage", slog.String("error", err.Error()))
		}
	}()

	// 期限切れ再設定コードの掃除をバックグラウンドで実行
	go a.Cleanup.Start(ctx, cfg.ResetCleanupInterval)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      a.Handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	case <-ctx.Done():
	}
	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate は選択されたバックエンドのマイグレーションを適用する。
// memoryとredisはスキーマを持たないため何もしない。
func runMigrate(cfg *config.Config) error {
	switch cfg.StorageBackend {
	case config.BackendPostgres:
		slog.Info("running database migrations",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	case config.BackendSQLite:
		slog.Info("running sqlite migrations", slog.String("path", cfg.SQLitePath))
		if err := database.RunSQLiteMigrations(cfg.SQLitePath); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	default:
		slog.Info("storage backend has no schema, skipping migrations",
			slog.String("storage_backend", cfg.StorageBackend),
		)
		return nil
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck は /health にHTTPリクエストを送り、結果を返す。
// distroless環境でのDockerヘルスチェック用サブコマンド。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
