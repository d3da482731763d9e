package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/Darknighthub/Ghost-backend/internal/model"
)

// testRateLimiterConfig はテスト用の小さなバーストを持つ設定を返す。
func testRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(1.0 / 60.0),
		GeneralBurst:    3,
		CardCreateRate:  rate.Limit(1.0 / 60.0),
		CardCreateBurst: 1,
		CleanupInterval: time.Hour,
	}
}

// authedRequest は認証済みユーザー付きのテストリクエストを生成する。
func authedRequest(method, path, userID string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	ctx := ContextWithUser(req.Context(), &model.User{ID: userID, Email: userID + "@example.com"})
	return req.WithContext(ctx)
}

// TestGeneralMiddleware_AllowsWithinBurst はバースト内のリクエストが通過することを検証する。
func TestGeneralMiddleware_AllowsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, authedRequest(http.MethodGet, "/api/cards", "user-1"))
		if w.Result().StatusCode != http.StatusOK {
			t.Fatalf("リクエスト%d: status = %d, want 200", i+1, w.Result().StatusCode)
		}
	}
}

// TestGeneralMiddleware_RejectsOverBurst はバースト超過で429が返ることを検証する。
func TestGeneralMiddleware_RejectsOverBurst(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, authedRequest(http.MethodGet, "/api/cards", "user-1"))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest(http.MethodGet, "/api/cards", "user-1"))

	resp := w.Result()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("Retry-Afterヘッダーが設定されているべき")
	}
}

// TestGeneralMiddleware_PerUserIsolation はユーザーごとに独立した制限であることを検証する。
func TestGeneralMiddleware_PerUserIsolation(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// user-1のバーストを使い切る
	for i := 0; i < 4; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, authedRequest(http.MethodGet, "/api/cards", "user-1"))
	}

	// user-2は影響を受けない
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest(http.MethodGet, "/api/cards", "user-2"))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("user-2のstatus = %d, want 200", w.Result().StatusCode)
	}

	if rl.GeneralLimiterCount() != 2 {
		t.Errorf("リミッター数 = %d, want 2", rl.GeneralLimiterCount())
	}
}

// TestCardCreationMiddleware_IndependentFromGeneral は発行系制限がAPI全般制限と
// 独立に動作することを検証する。
func TestCardCreationMiddleware_IndependentFromGeneral(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	general := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	cardCreate := rl.CardCreationMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// 発行系のバースト（1）を使い切る
	w := httptest.NewRecorder()
	cardCreate.ServeHTTP(w, authedRequest(http.MethodPost, "/api/cards", "user-1"))
	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("1回目の発行: status = %d", w.Result().StatusCode)
	}

	w = httptest.NewRecorder()
	cardCreate.ServeHTTP(w, authedRequest(http.MethodPost, "/api/cards", "user-1"))
	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("2回目の発行: status = %d, want 429", w.Result().StatusCode)
	}

	// API全般は引き続き通過する
	w = httptest.NewRecorder()
	general.ServeHTTP(w, authedRequest(http.MethodGet, "/api/cards", "user-1"))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("API全般のstatus = %d, want 200", w.Result().StatusCode)
	}
}

// TestRateLimitMiddleware_RequiresAuthenticatedUser は未認証コンテキストで401が返ることを検証する。
func TestRateLimitMiddleware_RequiresAuthenticatedUser(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/cards", nil))

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Result().StatusCode)
	}
}

// TestRateLimiter_CleanupRemovesStaleEntries は期限切れエントリが削除されることを検証する。
func TestRateLimiter_CleanupRemovesStaleEntries(t *testing.T) {
	config := testRateLimiterConfig()
	config.CleanupInterval = 10 * time.Millisecond
	rl := NewRateLimiter(config)
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest(http.MethodGet, "/api/cards", "user-1"))

	if rl.GeneralLimiterCount() != 1 {
		t.Fatalf("リミッター数 = %d, want 1", rl.GeneralLimiterCount())
	}

	// TTL（CleanupInterval×2）の経過をポーリングで待つ
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rl.GeneralLimiterCount() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("期限切れエントリが削除されていない")
}
