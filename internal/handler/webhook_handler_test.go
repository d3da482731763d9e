package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// mockReconciler はEventReconcilerInterfaceのモック実装。
type mockReconciler struct {
	received [][]byte
}

func (m *mockReconciler) HandleEvent(_ context.Context, raw []byte) {
	m.received = append(m.received, raw)
}

func TestWebhookHandler_HandleEvent(t *testing.T) {
	reconciler := &mockReconciler{}
	h := NewWebhookHandler(reconciler)

	payload := `{"type":"issuing_authorization.created","data":{"object":{"card":{"id":"ic_1","metadata":{"type":"SINGLE"}}}}}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/issuing", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	h.HandleEvent(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("ステータスコード: got %d, want %d", rec.Code, http.StatusOK)
	}
	if len(reconciler.received) != 1 {
		t.Fatalf("照合処理の呼び出し回数: got %d, want 1", len(reconciler.received))
	}
	if string(reconciler.received[0]) != payload {
		t.Error("ペイロードがそのまま照合処理へ渡されていない")
	}

	var body map[string]bool
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("レスポンスの解析に失敗: %v", err)
	}
	if !body["received"] {
		t.Errorf("received: got %v, want true", body["received"])
	}
}

func TestWebhookHandler_HandleEvent_MalformedPayload(t *testing.T) {
	// 不正なペイロードでも常に200で受領を応答する
	reconciler := &mockReconciler{}
	h := NewWebhookHandler(reconciler)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/issuing", strings.NewReader(`not-json`))
	rec := httptest.NewRecorder()
	h.HandleEvent(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("ステータスコード: got %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]bool
	json.NewDecoder(rec.Body).Decode(&body)
	if !body["received"] {
		t.Errorf("received: got %v, want true", body["received"])
	}
}
