package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Darknighthub/Ghost-backend/internal/identity"
	"github.com/Darknighthub/Ghost-backend/internal/model"
)

// mockIdentityService はIdentityServiceInterfaceのモック実装。
type mockIdentityService struct {
	signUpFunc func(ctx context.Context, creds identity.Credentials) (*model.User, error)
	signInFunc func(ctx context.Context, creds identity.Credentials) (*identity.Session, error)

	signUpCalls int
	signInCalls int
}

func (m *mockIdentityService) SignUp(ctx context.Context, creds identity.Credentials) (*model.User, error) {
	m.signUpCalls++
	return m.signUpFunc(ctx, creds)
}

func (m *mockIdentityService) SignIn(ctx context.Context, creds identity.Credentials) (*identity.Session, error) {
	m.signInCalls++
	return m.signInFunc(ctx, creds)
}

var _ IdentityServiceInterface = (*mockIdentityService)(nil)

func TestAuthHandler_Register(t *testing.T) {
	service := &mockIdentityService{
		signUpFunc: func(_ context.Context, creds identity.Credentials) (*model.User, error) {
			if creds.Email != "ghost@example.com" {
				t.Errorf("email: got %q", creds.Email)
			}
			return &model.User{ID: "user-1", Email: creds.Email}, nil
		},
	}
	h := NewAuthHandler(service)

	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(`{"email":"ghost@example.com","password":"secret123"}`))
	rec := httptest.NewRecorder()
	h.Register(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("ステータスコード: got %d, want %d", rec.Code, http.StatusCreated)
	}

	var body struct {
		User userResponse `json:"user"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("レスポンスの解析に失敗: %v", err)
	}
	if body.User.ID != "user-1" {
		t.Errorf("user.id: got %q, want user-1", body.User.ID)
	}
}

func TestAuthHandler_Register_MissingFields(t *testing.T) {
	service := &mockIdentityService{}
	h := NewAuthHandler(service)

	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(`{"email":"ghost@example.com"}`))
	rec := httptest.NewRecorder()
	h.Register(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("ステータスコード: got %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if service.signUpCalls != 0 {
		t.Error("不完全な認証情報でIDプロバイダが呼ばれるべきではない")
	}
}

func TestAuthHandler_Login(t *testing.T) {
	service := &mockIdentityService{
		signInFunc: func(_ context.Context, _ identity.Credentials) (*identity.Session, error) {
			return &identity.Session{
				AccessToken: "token-abc",
				User:        &model.User{ID: "user-1", Email: "ghost@example.com"},
			}, nil
		},
	}
	h := NewAuthHandler(service)

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"email":"ghost@example.com","password":"secret123"}`))
	rec := httptest.NewRecorder()
	h.Login(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("ステータスコード: got %d, want %d", rec.Code, http.StatusOK)
	}

	var body struct {
		AccessToken string       `json:"access_token"`
		User        userResponse `json:"user"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("レスポンスの解析に失敗: %v", err)
	}
	if body.AccessToken != "token-abc" {
		t.Errorf("access_token: got %q", body.AccessToken)
	}
	if body.User.Email != "ghost@example.com" {
		t.Errorf("user.email: got %q", body.User.Email)
	}
}

func TestAuthHandler_Login_InvalidCredentials(t *testing.T) {
	// プロバイダが認証失敗を返した場合は401
	service := &mockIdentityService{
		signInFunc: func(_ context.Context, _ identity.Credentials) (*identity.Session, error) {
			return nil, nil
		},
	}
	h := NewAuthHandler(service)

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"email":"ghost@example.com","password":"wrong"}`))
	rec := httptest.NewRecorder()
	h.Login(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("ステータスコード: got %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAuthHandler_Login_ProviderDown(t *testing.T) {
	service := &mockIdentityService{
		signInFunc: func(_ context.Context, _ identity.Credentials) (*identity.Session, error) {
			return nil, model.NewIdentityError("ログイン がステータス 503 で失敗しました")
		},
	}
	h := NewAuthHandler(service)

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"email":"ghost@example.com","password":"secret123"}`))
	rec := httptest.NewRecorder()
	h.Login(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("ステータスコード: got %d, want %d", rec.Code, http.StatusBadGateway)
	}

	var body apiErrorResponse
	json.NewDecoder(rec.Body).Decode(&body)
	if body.Code != model.ErrCodeIdentityError {
		t.Errorf("エラーコード: got %q, want %q", body.Code, model.ErrCodeIdentityError)
	}
}
