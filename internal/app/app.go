// Package app はアプリケーションの起動・初期化・依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/Darknighthub/Ghost-backend/internal/card"
	"github.com/Darknighthub/Ghost-backend/internal/config"
	"github.com/Darknighthub/Ghost-backend/internal/crypto"
	"github.com/Darknighthub/Ghost-backend/internal/database"
	"github.com/Darknighthub/Ghost-backend/internal/handler"
	"github.com/Darknighthub/Ghost-backend/internal/identity"
	"github.com/Darknighthub/Ghost-backend/internal/issuing"
	"github.com/Darknighthub/Ghost-backend/internal/logger"
	"github.com/Darknighthub/Ghost-backend/internal/metrics"
	"github.com/Darknighthub/Ghost-backend/internal/middleware"
	"github.com/Darknighthub/Ghost-backend/internal/notification"
	"github.com/Darknighthub/Ghost-backend/internal/repository"
	"github.com/Darknighthub/Ghost-backend/internal/request"
	"github.com/Darknighthub/Ghost-backend/internal/security"
	"github.com/Darknighthub/Ghost-backend/internal/webhook"
	"github.com/Darknighthub/Ghost-backend/internal/worker/sweeper"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
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
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
// シャットダウン時は実行中の非同期発行処理の完了を待機する。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	requestRepo := repository.NewPostgresCardRequestRepo(db)
	cardRepo := repository.NewPostgresVirtualCardRepo(db)
	deviceRepo := repository.NewPostgresDeviceRepo(db)

	// 3. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. セキュリティ・暗号化サービスの初期化
	endpointGuard := security.NewEndpointGuard()
	sanitizer := security.NewInputSanitizer()
	cipher := crypto.New(cfg.EncryptionKey)

	// 5. 外部クライアントの初期化
	issuingClient := issuing.NewClient(
		&http.Client{Timeout: cfg.IssuingTimeout},
		slog.Default(),
		issuing.Config{
			APIKey:      cfg.IssuingAPIKey,
			BaseURL:     cfg.IssuingBaseURL,
			FallbackBIN: cfg.FallbackBIN,
		},
	)
	identityClient := identity.NewClient(
		&http.Client{Timeout: cfg.IdPTimeout},
		slog.Default(),
		identity.Config{
			BaseURL: cfg.IdPBaseURL,
			APIKey:  cfg.IdPAPIKey,
		},
	)

	// 6. 通知サービスの初期化
	// プッシュエンドポイントはユーザー入力のURLなので、SSRF対策済みの
	// HTTPクライアントで配信する
	notifier := notification.NewNotifier(
		deviceRepo,
		endpointGuard.NewSafeClient(cfg.PushTimeout),
		slog.Default(),
		collector,
	)

	// 7. ドメインサービスの初期化
	requestService := request.NewService(
		requestRepo, cardRepo, issuingClient, cipher, sanitizer,
		notifier, collector, slog.Default(), cfg.ProcessTimeout,
	)
	cardService := card.NewService(cardRepo, issuingClient, cipher, sanitizer, slog.Default())
	reconciler := webhook.NewReconciler(cardRepo, issuingClient, collector, slog.Default())

	// 8. レート制限の構成（configはreq/min単位、rate.Limitはreq/sec単位）
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.CardCreateRate = rate.Limit(float64(cfg.RateLimitCardCreate) / 60.0)
	rateLimiterCfg.CardCreateBurst = cfg.RateLimitCardCreate
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	// 9. ルーターの構築
	deps := &handler.RouterDeps{
		TokenVerifier:     identityClient,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(registry),

		IdentityService: identityClient,
		RequestService:  requestService,
		CardService:     cardService,

		EndpointValidator: endpointGuard,
		DeviceCreator:     deviceRepo,

		Reconciler: reconciler,
	}

	router := handler.NewRouter(deps)

	// 10. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// 進行中の非同期カード発行処理を待機してから終了する
	requestService.Wait()

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限超過リクエストのスイーパーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. リポジトリの初期化
	requestRepo := repository.NewPostgresCardRequestRepo(db)
	deviceRepo := repository.NewPostgresDeviceRepo(db)

	// 3. メトリクスと通知の初期化
	collector := metrics.NewCollector(prometheus.NewRegistry())
	endpointGuard := security.NewEndpointGuard()
	notifier := notification.NewNotifier(
		deviceRepo,
		endpointGuard.NewSafeClient(cfg.PushTimeout),
		slog.Default(),
		collector,
	)

	// 4. スイーパーの初期化
	sw := sweeper.NewSweeper(requestRepo, notifier, collector, slog.Default(), cfg.PendingMaxAge)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("sweep_interval", cfg.SweepInterval),
		slog.Duration("pending_max_age", cfg.PendingMaxAge),
	)

	// スイーパーをメインgoroutineで実行（ブロッキング）
	sw.Start(ctx, cfg.SweepInterval)

	slog.Info("worker stopped gracefully")
	return nil
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
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
