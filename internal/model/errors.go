// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, provider, crypto, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeMissingDetails    = "MISSING_DETAILS"
	ErrCodeRequestNotFound   = "REQUEST_NOT_FOUND"
	ErrCodeRequestFinalized  = "REQUEST_FINALIZED"
	ErrCodeCardNotFound      = "CARD_NOT_FOUND"
	ErrCodeProviderError     = "PROVIDER_ERROR"
	ErrCodeEncryptionError   = "ENCRYPTION_ERROR"
	ErrCodeIdentityError     = "IDP_ERROR"
	ErrCodeInvalidEndpoint   = "INVALID_PUSH_ENDPOINT"
)

// NewUnauthorizedError は認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInvalidRequestError はリクエスト形式エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストの形式が不正です: %s", reason),
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewMissingDetailsError はリクエスト詳細が欠落している場合のエラーを生成する。
// このエラーを持つリクエストはプロバイダへ接続せずREJECTEDへ遷移する。
func NewMissingDetailsError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingDetails,
		Message:  "リクエストに詳細情報が含まれていません。",
		Category: "validation",
		Action:   "limit、merchant、cardTypeを含めて再度リクエストしてください。",
	}
}

// NewRequestNotFoundError はリクエスト未検出エラーを生成する。
func NewRequestNotFoundError(requestID string) *APIError {
	return &APIError{
		Code:     ErrCodeRequestNotFound,
		Message:  fmt.Sprintf("指定されたリクエストが見つかりません: %s", requestID),
		Category: "validation",
		Action:   "リクエストIDを確認してください。",
	}
}

// NewRequestFinalizedError は終端状態のリクエストを再度処理しようとした場合のエラーを生成する。
func NewRequestFinalizedError(requestID string, status RequestStatus) *APIError {
	return &APIError{
		Code:     ErrCodeRequestFinalized,
		Message:  fmt.Sprintf("リクエストは既に確定しています: %s (%s)", requestID, status),
		Category: "validation",
		Action:   "新しいリクエストを作成してください。",
	}
}

// NewProviderError は発行プロバイダ由来のエラーを生成する。
func NewProviderError(detail string) *APIError {
	return &APIError{
		Code:     ErrCodeProviderError,
		Message:  fmt.Sprintf("カード発行プロバイダでエラーが発生しました: %s", detail),
		Category: "provider",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewEncryptionError は暗号化失敗エラーを生成する。
// フェイルセキュア: このエラーが返る限り平文のカード情報は永続化されない。
func NewEncryptionError() *APIError {
	return &APIError{
		Code:     ErrCodeEncryptionError,
		Message:  "カード情報の暗号化に失敗しました。",
		Category: "crypto",
		Action:   "サーバーの暗号化キー設定を確認してください。",
	}
}

// NewIdentityError はIDプロバイダ由来のエラーを生成する。
func NewIdentityError(detail string) *APIError {
	return &APIError{
		Code:     ErrCodeIdentityError,
		Message:  fmt.Sprintf("認証サービスでエラーが発生しました: %s", detail),
		Category: "auth",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInvalidEndpointError はプッシュエンドポイントURLが不正な場合のエラーを生成する。
func NewInvalidEndpointError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEndpoint,
		Message:  fmt.Sprintf("プッシュエンドポイントURLが不正です: %s", reason),
		Category: "validation",
		Action:   "公開されているhttps URLを指定してください。プライベートIPへの登録は許可されていません。",
	}
}
