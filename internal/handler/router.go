package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/meetup/internal/metrics"
	"github.com/hitoshi/meetup/internal/middleware"
)

// HealthChecker はストレージバックエンドの疎通確認を行うインターフェース。
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 監視。HealthCheckerがnilの場合は常に正常を返す。
	HealthChecker   HealthChecker
	Metrics         metrics.MetricsCollector
	MetricsGatherer prometheus.Gatherer

	// ドメイン
	Session        SessionServiceInterface
	PasswordReset  PasswordResetServiceInterface
	Meetups        MeetupServiceInterface
	Reviews        ReviewServiceInterface
	NearbyRadiusKm float64
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアの実行順序:
//
//	CORS → SecurityHeaders → Session → Logging → Recovery → RateLimit(General)
//
// /health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewSessionMiddleware(deps.Session))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewRecoveryMiddleware(logger))

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsGatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	sessionHandler := NewSessionHandler(deps.Session)
	resetHandler := NewPasswordResetHandler(deps.PasswordReset, deps.Metrics)
	meetupHandler := NewMeetupHandler(deps.Meetups, deps.Session, deps.NearbyRadiusKm)
	reviewHandler := NewReviewHandler(deps.Reviews, deps.Meetups)

	r.Route("/api", func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/session", func(r chi.Router) {
			r.Get("/", sessionHandler.GetSession)
			r.Post("/login", sessionHandler.Login)
			r.Post("/signup", sessionHandler.Signup)
			r.Post("/logout", sessionHandler.Logout)
			r.With(middleware.RequireLogin).Patch("/profile", sessionHandler.UpdateProfile)
		})

		// パスワード再設定は未ログインで呼ばれるためIP単位の専用制限を追加
		r.Route("/password-reset", func(r chi.Router) {
			r.Use(deps.RateLimiter.PasswordResetMiddleware())
			r.Post("/", resetHandler.Request)
			r.Post("/verify", resetHandler.Verify)
			r.Post("/confirm", resetHandler.Confirm)
		})

		r.Put("/location", meetupHandler.SetLocation)

		r.Route("/meetups", func(r chi.Router) {
			r.Get("/", meetupHandler.ListMeetups)
			r.Get("/nearby", meetupHandler.Nearby)
			r.With(middleware.RequireLogin).Post("/", meetupHandler.CreateMeetup)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", meetupHandler.GetMeetup)
				r.With(middleware.RequireLogin).Post("/join", meetupHandler.JoinMeetup)
				r.Get("/reviews", reviewHandler.ListReviews)
				r.With(middleware.RequireLogin).Put("/reviews/me", reviewHandler.UpsertMyReview)
			})
		})
	})

	return r
}

type healthResponse struct {
	Status string `json:"status"`
}

// healthHandler はストレージの疎通を確認するヘルスチェックハンドラーを返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			if err := checker.Ping(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}
