package handler

import (
	"context"
	"io"
	"net/http"
)

// maxWebhookBodySize はWebhookペイロードの読み取り上限。
const maxWebhookBodySize = 64 * 1024

// EventReconcilerInterface はWebhookハンドラーが必要とする照合処理。
type EventReconcilerInterface interface {
	// HandleEvent はプロバイダのイベントペイロードを処理する。内部の失敗は伝播しない。
	HandleEvent(ctx context.Context, raw []byte)
}

// WebhookHandler はカード発行プロバイダからのWebhookを受け付けるHTTPハンドラー。
type WebhookHandler struct {
	reconciler EventReconcilerInterface
}

// NewWebhookHandler はWebhookHandlerを生成する。
func NewWebhookHandler(reconciler EventReconcilerInterface) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler}
}

// HandleEvent はプロバイダイベントを受信する。
// イベント送信元のリトライストームを防ぐため、内部処理の結果に関わらず常に200で応答する。
// POST /webhooks/issuing
func (h *WebhookHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize))
	if err == nil {
		h.reconciler.HandleEvent(r.Context(), raw)
	}

	writeJSONResponse(w, http.StatusOK, map[string]bool{
		"received": true,
	})
}
