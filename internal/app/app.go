// Package app はサブコマンドごとの起動処理と依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/plantdex/internal/auth"
	"github.com/hitoshi/plantdex/internal/config"
	"github.com/hitoshi/plantdex/internal/database"
	"github.com/hitoshi/plantdex/internal/handler"
	"github.com/hitoshi/plantdex/internal/logger"
	"github.com/hitoshi/plantdex/internal/metrics"
	"github.com/hitoshi/plantdex/internal/middleware"
	"github.com/hitoshi/plantdex/internal/plant"
	"github.com/hitoshi/plantdex/internal/plantid"
	"github.com/hitoshi/plantdex/internal/repository"
	"github.com/hitoshi/plantdex/internal/security"
	"github.com/hitoshi/plantdex/internal/worker/cleanup"
)

// HTTPサーバーのタイムアウト。書き込みは識別APIの待ち時間を含むため長めにとる。
const (
	serverReadTimeout     = 30 * time.Second
	serverWriteTimeout    = 60 * time.Second
	serverIdleTimeout     = 60 * time.Second
	serverShutdownTimeout = 30 * time.Second
)

// ErrPostgresRequired はPostgreSQLバックエンドでのみ実行できるコマンドで返されるエラー。
var ErrPostgresRequired = errors.New("this command requires STORE_BACKEND=postgres")

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップしてから環境変数（および.env）を読み込み、
// LOG_LEVELに従ってログレベルを設定し直す。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。ctxがキャンセルされるとサーバーやワーカーを停止する。
func Run(ctx context.Context, w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	switch cmd {
	case CommandHelp:
		PrintUsage(w)
		return nil
	case CommandHealthcheck:
		// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
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
		slog.String("store_backend", cfg.StoreBackend),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// stores はバックエンドごとのリポジトリ一式。
// dbはPostgreSQLバックエンドの場合のみ非nil。
type stores struct {
	db       *sql.DB
	users    repository.UserRepository
	sessions repository.SessionRepository
	plants   repository.PlantRepository
}

// Close はDB接続を閉じる。メモリバックエンドでは何もしない。
func (s *stores) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// openStores は設定に従ってリポジトリを構築する。
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.StoreBackend == config.StoreBackendMemory {
		slog.Warn("using in-memory store; all data is lost on restart")
		return &stores{
			users:    repository.NewMemoryUserRepo(),
			sessions: repository.NewMemorySessionRepo(),
			plants:   repository.NewMemoryPlantRepo(),
		}, nil
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	return &stores{
		db:       db,
		users:    repository.NewPostgresUserRepo(db),
		sessions: repository.NewPostgresSessionRepo(db),
		plants:   repository.NewPostgresPlantRepo(db),
	}, nil
}

// newMetricsRegistry はアプリケーションメトリクスとランタイムメトリクスを登録したレジストリを返す。
func newMetricsRegistry() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// buildRouter は全依存関係をワイヤリングしたHTTPハンドラーを返す。
// 返されるstop関数はレートリミッターのバックグラウンド処理を停止する。
func buildRouter(cfg *config.Config, st *stores, reg *prometheus.Registry, collector *metrics.Collector) (http.Handler, func(), error) {
	log := slog.Default()

	// 1. 識別クライアント（外向き通信はsafeurlで制限する）
	if err := security.ValidateEndpoint(cfg.PlantIDEndpoint); err != nil {
		return nil, nil, fmt.Errorf("invalid PLANT_ID_ENDPOINT: %w", err)
	}
	if cfg.PlantIDAPIKey == "" {
		log.Warn("PLANT_ID_API_KEY is not set; image identification will fail and only manual entries can be stored")
	}
	identifier := plantid.NewClient(
		security.NewOutboundClient(cfg.PlantIDTimeout),
		plantid.Config{
			Endpoint:        cfg.PlantIDEndpoint,
			APIKey:          cfg.PlantIDAPIKey,
			Timeout:         cfg.PlantIDTimeout,
			MaxResponseSize: cfg.PlantIDMaxResponseSize,
		},
		collector, log,
	)

	// 2. ドメインサービス
	authService := auth.NewService(st.users, st.sessions, auth.ServiceConfig{
		SessionMaxAge: cfg.SessionMaxAge,
	}, log)
	plantService := plant.NewService(st.plants, identifier, collector, log)

	// 3. ルーター
	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitSubmit),
		log,
	)

	deps := &handler.RouterDeps{
		Logger:            log,
		SessionFinder:     st.sessions,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter:    rateLimiter,
		Metrics:        collector,
		MetricsHandler: metrics.Handler(reg),

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		PlantService:  plantService,
		MaxUploadSize: cfg.MaxUploadSize,
	}
	// 型付きnilを避けるため、DBがある場合のみ設定する
	if st.db != nil {
		deps.HealthChecker = st.db
	}

	return handler.NewRouter(deps), rateLimiter.Stop, nil
}

// runServe はAPIサーバーモードで起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
// メモリバックエンドではセッションを共有できないため、クリーンアップジョブを同一プロセスで動かす。
func runServe(ctx context.Context, cfg *config.Config) error {
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	reg, collector := newMetricsRegistry()

	router, stopRouter, err := buildRouter(cfg, st, reg, collector)
	if err != nil {
		return err
	}
	defer stopRouter()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if st.db == nil {
		job := cleanup.NewCleanupJob(st.sessions, collector, slog.Default())
		go job.Start(ctx, cfg.SessionCleanupInterval)
	}

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションの削除をSESSION_CLEANUP_INTERVALごとに実行し、ctxのキャンセルで停止する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	if cfg.StoreBackend != config.StoreBackendPostgres {
		return ErrPostgresRequired
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	job := cleanup.NewCleanupJob(st.sessions, nil, slog.Default())

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.SessionCleanupInterval),
	)

	job.Start(ctx, cfg.SessionCleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.StoreBackend != config.StoreBackendPostgres {
		return ErrPostgresRequired
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
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

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
// 解析できないURLは全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
