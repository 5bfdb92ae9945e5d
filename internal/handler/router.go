package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/promogate/internal/middleware"
)

// HealthChecker はヘルスチェックに必要なインターフェース。
// *sql.DBがそのまま満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	StatusRecorder    middleware.StatusRecorder

	// 運用エンドポイント
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// リデンプションフロー
	Engine       EngineInterface
	Resolver     IdentityResolver
	PageCache    PageStore
	Sanitizer    Sanitizer
	CacheMetrics CacheMetrics
	Redemption   RedemptionConfig
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成した
// chi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → Metrics
//
// アプリ識別子は [A-Za-z0-9.-]+ に制約される。/health、/metrics、
// /favicon.ico の静的パスはワイルドカードより優先してマッチする。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	if deps.CORSAllowedOrigin != "" {
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	}
	if deps.Logger != nil {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	}
	if deps.StatusRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.StatusRecorder))
	}

	h := NewRedemptionHandler(
		deps.Engine, deps.Resolver, deps.PageCache,
		deps.Sanitizer, deps.CacheMetrics, deps.Redemption,
	)

	// --- 運用エンドポイント ---

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if deps.HealthChecker != nil {
			if err := deps.HealthChecker.PingContext(r.Context()); err != nil {
				http.Error(w, "unhealthy", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Get("/favicon.ico", h.Favicon)

	// --- プロモフロー ---

	r.Get("/", h.Placeholder)

	r.Route("/{app:[A-Za-z0-9.-]+}", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
		}

		r.Get("/", h.ViewApp)
		r.Get("/redeem", h.ViewRedemption)

		// POST /{app}/redeem - 割り当て（リデンプション専用レート制限を追加）
		if deps.RateLimiter != nil {
			r.With(deps.RateLimiter.RedeemMiddleware()).Post("/redeem", h.PerformRedemption)
		} else {
			r.Post("/redeem", h.PerformRedemption)
		}

		// ハンドラーのないパス/メソッドはアプリページへ戻す
		r.NotFound(h.RedirectToApp)
		r.MethodNotAllowed(h.RedirectToApp)
	})

	// どのアプリパターンにもマッチしないパス
	r.NotFound(h.Placeholder)

	return r
}
