package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Darknighthub/Ghost-backend/internal/middleware"
)

// HealthChecker はヘルスチェックのためのDB疎通確認インターフェース。
// *sql.DBがそのまま実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	TokenVerifier     middleware.TokenVerifier
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// リクエストログ用ロガー。nilの場合はslog.Defaultを使う。
	Logger *slog.Logger

	// 運用エンドポイント
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// 認証プロキシ
	IdentityService IdentityServiceInterface

	// カード発行リクエスト
	RequestService RequestServiceInterface

	// バーチャルカード
	CardService CardServiceInterface

	// デバイス登録
	EndpointValidator EndpointValidator
	DeviceCreator     DeviceCreator

	// Webhook照合
	Reconciler EventReconcilerInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORSMiddleware → Recovery → Logging → SecurityHeaders → (認証グループ: Auth → RateLimit(General))
//
// 登録・ログインとWebhookは認証グループの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// CORSはpreflightにも応答するため最上位。その直下でパニック回復を行い、
	// その内側の全ルートをリクエストログで覆う。
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	authHandler := NewAuthHandler(deps.IdentityService)
	requestHandler := NewRequestHandler(deps.RequestService)
	cardHandler := NewCardHandler(deps.CardService)
	deviceHandler := NewDeviceHandler(deps.EndpointValidator, deps.DeviceCreator)
	webhookHandler := NewWebhookHandler(deps.Reconciler)

	// --- 認証不要のルート ---

	// 運用エンドポイント
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if deps.HealthChecker != nil {
			if err := deps.HealthChecker.PingContext(req.Context()); err != nil {
				writeJSONResponse(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
				return
			}
		}
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// IDプロバイダへの委譲
	r.Post("/register", authHandler.Register)
	r.Post("/login", authHandler.Login)

	// プロバイダWebhook（署名検証はプロバイダ側のIP制限に委ねる）
	r.Post("/webhooks/issuing", webhookHandler.HandleEvent)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.TokenVerifier))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 発行リクエスト管理
		r.Route("/api/requests", func(r chi.Router) {
			// POST /api/requests - リクエスト作成（カード作成専用レート制限を追加）
			r.With(deps.RateLimiter.CardCreationMiddleware()).Post("/", requestHandler.Initiate)

			r.Get("/pending", requestHandler.ListPending)

			r.Route("/{id}", func(r chi.Router) {
				r.Post("/action", requestHandler.Action)
				r.Get("/status", requestHandler.CheckStatus)
			})
		})

		// カード管理
		r.Route("/api/cards", func(r chi.Router) {
			r.Get("/", cardHandler.ListCards)
			// POST /api/cards - 同期発行（カード作成専用レート制限を追加）
			r.With(deps.RateLimiter.CardCreationMiddleware()).Post("/", cardHandler.CreateCard)
		})

		// デバイス登録
		r.Post("/api/devices", deviceHandler.Register)
	})

	return r
}
