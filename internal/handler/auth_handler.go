package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/Darknighthub/Ghost-backend/internal/identity"
	"github.com/Darknighthub/Ghost-backend/internal/model"
)

// IdentityServiceInterface は認証ハンドラーが必要とするIDプロバイダ操作。
type IdentityServiceInterface interface {
	// SignUp はIDプロバイダへユーザー登録を委譲する。
	SignUp(ctx context.Context, creds identity.Credentials) (*model.User, error)
	// SignIn はパスワードログインを委譲する。認証情報が無効な場合はnilセッションを返す。
	SignIn(ctx context.Context, creds identity.Credentials) (*identity.Session, error)
}

// AuthHandler は登録・ログインをIDプロバイダへ委譲するHTTPハンドラー。
// セッション発行はプロバイダ側の責務であり、このサービスはトークンを保持しない。
type AuthHandler struct {
	service IdentityServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service IdentityServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

// credentialsRequest は登録・ログインリクエストのボディ。
type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// userResponse はユーザー情報のAPIレスポンス。
type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Register は新規ユーザーを登録する。
// POST /register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	creds, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	user, err := h.service.SignUp(r.Context(), creds)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, map[string]userResponse{
		"user": {ID: user.ID, Email: user.Email},
	})
}

// Login はパスワードログインを行い、アクセストークンを返す。
// POST /login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	creds, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	session, err := h.service.SignIn(r.Context(), creds)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if session == nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"access_token": session.AccessToken,
		"user":         userResponse{ID: session.User.ID, Email: session.User.Email},
	})
}

// decodeCredentials はリクエストボディから認証情報を取り出して検証する。
func decodeCredentials(w http.ResponseWriter, r *http.Request) (identity.Credentials, bool) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return identity.Credentials{}, false
	}
	if req.Email == "" || req.Password == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("emailとpasswordは必須です"))
		return identity.Credentials{}, false
	}
	return identity.Credentials{Email: req.Email, Password: req.Password}, true
}
