// Package app は設定の読み込みと依存関係のワイヤリングを行い、サブコマンドを実行する。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/cyberduck/internal/auth"
	"github.com/hitoshi/cyberduck/internal/config"
	"github.com/hitoshi/cyberduck/internal/database"
	"github.com/hitoshi/cyberduck/internal/duck"
	"github.com/hitoshi/cyberduck/internal/handler"
	"github.com/hitoshi/cyberduck/internal/logger"
	"github.com/hitoshi/cyberduck/internal/metrics"
	"github.com/hitoshi/cyberduck/internal/middleware"
	"github.com/hitoshi/cyberduck/internal/repository"
	"github.com/hitoshi/cyberduck/internal/security"
	"github.com/hitoshi/cyberduck/internal/session"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// dotEnvFile は起動時に読み込む環境変数ファイル。
const dotEnvFile = ".env"

// pingTimeout は起動時のDB・Redis疎通確認のタイムアウト。
const pingTimeout = 5 * time.Second

// Init はアプリケーションの初期化を行う。
// .envがあれば読み込み（既存の環境変数は上書きしない）、Configを読み込んで
// JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. .envの読み込み
	if err := loadDotEnv(dotEnvFile); err != nil {
		return nil, err
	}

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 4. 設定されたログレベルで再初期化
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		slog.Warn("invalid LOG_LEVEL, falling back to info", slog.String("error", err.Error()))
	}
	logger.SetupDefault(w, level)

	return cfg, nil
}

// loadDotEnv はpathの環境変数ファイルを読み込む。ファイルがない場合は何もしない。
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil {
		slog.Info("environment file loaded", slog.String("path", path))
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", path, err)
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		if err := loadDotEnv(dotEnvFile); err != nil {
			return err
		}
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
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandSeed:
		return runSeed(cfg, seedPath(args))
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. DB接続
	db, err := openDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. セッションストア
	store, closeStore, err := newSessionStore(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closeStore()

	if cfg.RedisURL == "" {
		cleanupJob := session.NewCleanupJob(db, slog.Default())
		go cleanupJob.Start(ctx, cfg.SessionCleanupInterval)
	}

	// 3. メトリクスレジストリ
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// 4. ルーターの構築
	router, rateLimiter, err := buildRouter(cfg, db, store, registry)
	if err != nil {
		return err
	}
	defer rateLimiter.Stop()

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.Bool("redis_sessions", cfg.RedisURL != ""),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// buildRouter はリポジトリ、サービス、ミドルウェアを組み立ててHTTPハンドラーを返す。
// 返されたRateLimiterはサーバー停止時にStopする必要がある。
func buildRouter(
	cfg *config.Config,
	db *sql.DB,
	store session.Store,
	registry *prometheus.Registry,
) (http.Handler, *middleware.RateLimiter, error) {
	codec, err := session.NewCookieCodec(cfg.SessionSecret, session.CookieConfig{
		Name:   cfg.SessionCookieName,
		Domain: cfg.CookieDomain,
		Secure: cfg.CookieSecure,
		MaxAge: cfg.SessionMaxAge,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create cookie codec: %w", err)
	}

	collector := metrics.NewCollector(registry)

	// リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	duckRepo := repository.NewPostgresDuckRepo(db)
	viewRepo := repository.NewPostgresDuckViewRepo(db)
	rankingRepo := repository.NewPostgresRankingRepo(db)

	// ドメインサービスの初期化
	oauthProvider := auth.NewWechatOAuthProvider(auth.WechatOAuthConfig{
		AppID:       cfg.WechatAppID,
		AppSecret:   cfg.WechatAppSecret,
		RedirectURL: cfg.WechatRedirectURL,
		HTTPClient:  &http.Client{Timeout: cfg.WechatHTTPTimeout},
	})
	authService := auth.NewService(oauthProvider, userRepo, collector, auth.ServiceConfig{
		AllowedRedirectHosts: cfg.LoginRedirectHosts,
	})
	duckService := duck.NewService(userRepo, duckRepo, viewRepo, rankingRepo, collector, duck.ServiceConfig{
		MilestoneThreshold: cfg.MilestoneThreshold,
	})

	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitLogin),
	)

	deps := &handler.RouterDeps{
		SessionStore:      store,
		CookieCodec:       codec,
		IdentityGate:      authService,
		RateLimiter:       rateLimiter,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		AdminToken:        cfg.AdminToken,
		TrustProxy:        cfg.TrustProxy,
		Logger:            slog.Default(),
		HTTPMetrics:       collector,

		AuthService:  authService,
		CallbackPath: cfg.CallbackPath,

		UserService:  duckService,
		DuckService:  duckService,
		AdminService: duckService,

		DB:             db,
		MetricsHandler: metrics.Handler(registry),
	}

	return handler.NewRouter(deps), rateLimiter, nil
}

// newSessionStore はREDIS_URLが設定されていればRedis、なければPostgreSQLのセッションストアを返す。
// 返されたclose関数はサーバー停止時に呼び出す。
func newSessionStore(ctx context.Context, cfg *config.Config, db *sql.DB) (session.Store, func() error, error) {
	if cfg.RedisURL == "" {
		slog.Info("using PostgreSQL session store")
		return session.NewPostgresStore(db, cfg.SessionMaxAgeDuration()), func() error { return nil }, nil
	}

	rdb, err := session.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("using Redis session store")
	return session.NewRedisStore(rdb, cfg.SessionMaxAgeDuration()), rdb.Close, nil
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runSeed はpathのJSONファイルから位置情報とアヒルを投入する。
// 既存のIDは上書きされるため、同じファイルを繰り返し投入できる。
func runSeed(cfg *config.Config, path string) error {
	if path == "" {
		return errors.New("seed requires a JSON file path: seed <file>")
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()

	ctx := context.Background()
	db, err := openDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	importer := duck.NewImporter(
		repository.NewPostgresLocationRepo(db),
		repository.NewPostgresDuckRepo(db),
		security.NewContentSanitizer(),
	)

	result, err := importer.Import(ctx, f)
	if err != nil {
		return fmt.Errorf("seed failed: %w", err)
	}

	slog.Info("seed completed",
		slog.String("path", path),
		slog.Int("locations", result.Locations),
		slog.Int("ducks", result.Ducks),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
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
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
