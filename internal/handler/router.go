package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/cyberduck/internal/middleware"
	"github.com/hitoshi/cyberduck/internal/session"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionStore      session.Store
	CookieCodec       middleware.CookieCodec
	IdentityGate      middleware.IdentityGate
	RateLimiter       *middleware.RateLimiter
	CORSAllowedOrigin string
	AdminToken        string
	TrustProxy        bool // trueの場合X-Forwarded-For等からクライアントIPを復元する
	Logger            *slog.Logger
	HTTPMetrics       middleware.HTTPRecorder

	// 認証
	AuthService  AuthServiceInterface
	CallbackPath string // WECHAT_REDIRECT_URLのパス

	// アヒル・ユーザー・管理
	UserService  UserServiceInterface
	DuckService  DuckServiceInterface
	AdminService AdminServiceInterface

	// 運用
	DB             Pinger
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Metrics → Logging → Recovery → SecurityHeaders → CORS → Session
//	  ├ ログイン系: LoginRateLimit
//	  ├ 認証必須API: RequireIdentity → RateLimit(General)
//	  └ 管理API: AdminToken
//
// /health と /metrics はセッションを読まない。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	if deps.TrustProxy {
		r.Use(chimw.RealIP)
	}
	if deps.HTTPMetrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.HTTPMetrics))
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	// OPTIONSプリフライトはルーティング前に応答する
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	// --- 運用エンドポイント ---
	if deps.DB != nil {
		r.Get("/health", NewHealthHandler(deps.DB))
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	authHandler := NewAuthHandler(deps.AuthService)
	userHandler := NewUserHandler(deps.UserService)
	duckHandler := NewDuckHandler(deps.DuckService)
	adminHandler := NewAdminHandler(deps.AdminService)

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionStore, deps.CookieCodec))

		// --- ログインフロー（ブラウザ遷移） ---
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.LoginMiddleware())
			r.Get("/login", authHandler.Login)
			r.Get(deps.CallbackPath, authHandler.Callback)
			r.Post("/logout", authHandler.Logout)
		})

		// --- 認証不要のAPI ---
		r.With(deps.RateLimiter.GeneralMiddleware()).Get("/api/preview-ducks", duckHandler.PreviewDucks)

		// --- 認証が必要なAPI ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewRequireIdentityMiddleware(deps.IdentityGate))
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Get("/api/user-info", userHandler.GetUserInfo)
			r.Delete("/api/user-info", userHandler.ClearHistory)
			r.Get("/api/find-duck/{id}", duckHandler.FindDuck)
		})
	})

	// --- 管理API ---
	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.NewAdminTokenMiddleware(deps.AdminToken))

		r.Get("/rankings", adminHandler.ListRankings)
		r.Delete("/rankings", adminHandler.DeleteRankings)
		r.Delete("/duck-history/dangerous", adminHandler.DeleteDuckHistory)
	})

	return r
}
