// Package identity は外部IDプロバイダとの連携を提供する。
// トークン検証（verify token → user）と、登録・ログインの薄いプロキシを含む。
// プロバイダはGoTrue互換のREST APIを公開していることを前提とする。
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/Darknighthub/Ghost-backend/internal/model"
)

// Config はIDプロバイダクライアントの設定。
type Config struct {
	BaseURL string // 例: https://xyz.supabase.co
	APIKey  string // プロジェクトの公開APIキー
}

// Client はIDプロバイダのHTTPクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	config     Config
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, config Config) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		config:     config,
	}
}

// Credentials は登録・ログインに使用する認証情報。
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Session はログイン成功時にプロバイダが発行するセッション。
type Session struct {
	AccessToken string
	User        *model.User
}

// VerifyToken はBearerトークンを検証し、対応するユーザーを返す。
// トークンが無効な場合はnilユーザーとnilエラーを返す（認証失敗は呼び出し側で401に変換する）。
func (c *Client) VerifyToken(ctx context.Context, token string) (*model.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	c.setHeaders(req, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("IDプロバイダへのトークン検証リクエストに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, model.NewIdentityError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError("トークン検証", resp)
	}

	var body struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, model.NewIdentityError("レスポンスの解析に失敗しました")
	}
	if body.ID == "" {
		return nil, nil
	}

	return &model.User{ID: body.ID, Email: body.Email}, nil
}

// SignUp はIDプロバイダへユーザー登録を委譲する。
func (c *Client) SignUp(ctx context.Context, creds Credentials) (*model.User, error) {
	resp, err := c.postJSON(ctx, "/auth/v1/signup", creds)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError("ユーザー登録", resp)
	}

	var body struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, model.NewIdentityError("レスポンスの解析に失敗しました")
	}

	return &model.User{ID: body.ID, Email: body.Email}, nil
}

// SignIn はパスワードログインを委譲し、アクセストークンとユーザーを返す。
func (c *Client) SignIn(ctx context.Context, creds Credentials) (*Session, error) {
	resp, err := c.postJSON(ctx, "/auth/v1/token?grant_type=password", creds)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError("ログイン", resp)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		User        struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		} `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, model.NewIdentityError("レスポンスの解析に失敗しました")
	}

	return &Session{
		AccessToken: body.AccessToken,
		User:        &model.User{ID: body.User.ID, Email: body.User.Email},
	}, nil
}

// postJSON はJSONボディ付きのPOSTリクエストを実行する。
func (c *Client) postJSON(ctx context.Context, path string, payload any) (*http.Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("リクエストボディの直列化に失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	c.setHeaders(req, "")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("IDプロバイダへのリクエストに失敗しました",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, model.NewIdentityError(err.Error())
	}

	return resp, nil
}

// setHeaders はIDプロバイダが要求する共通ヘッダーを設定する。
func (c *Client) setHeaders(req *http.Request, bearerToken string) {
	req.Header.Set("apikey", c.config.APIKey)
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}
}

// statusError はエラーステータスのレスポンスをAPIErrorへ変換する。
func (c *Client) statusError(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	c.logger.Error("IDプロバイダがエラーステータスを返しました",
		slog.String("operation", operation),
		slog.Int("http_status", resp.StatusCode),
		slog.String("body", string(body)),
	)
	return model.NewIdentityError(fmt.Sprintf("%s がステータス %d で失敗しました", operation, resp.StatusCode))
}
