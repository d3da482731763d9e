package model

import "time"

// RequestStatus はカード発行リクエストの状態を表す。
// 遷移はPENDING→APPROVEDまたはPENDING→REJECTEDのみ。終端状態は不変。
type RequestStatus string

const (
	// RequestStatusPending は承認待ちの初期状態。
	RequestStatusPending RequestStatus = "PENDING"
	// RequestStatusApproved は承認済み（カード発行完了）の終端状態。
	RequestStatusApproved RequestStatus = "APPROVED"
	// RequestStatusRejected は却下済みの終端状態。
	RequestStatusRejected RequestStatus = "REJECTED"
	// RequestStatusUnknown はリクエストIDが解決できない場合にCheckStatusが返す値。
	// 永続化されることはない。
	RequestStatusUnknown RequestStatus = "UNKNOWN"
)

// RequestType はリクエストの種別を表す。現状はカード作成のみ。
type RequestType string

const (
	// RequestTypeCreateCard はカード作成リクエスト。
	RequestTypeCreateCard RequestType = "CREATE_CARD"
)

// RequestDetails はカード作成リクエストのパラメータを表す。
// ポインタがnilのリクエストは不正であり、プロバイダへ接続せずREJECTEDへ遷移する。
type RequestDetails struct {
	Limit    int      `json:"limit"`
	Merchant string   `json:"merchant"`
	CardType CardType `json:"cardType"`
	// Error は非同期処理が失敗した際の診断用メッセージ。
	// 成功時は空のまま。
	Error string `json:"error,omitempty"`
}

// CardIssuanceRequest は遅延承認型のカード発行リクエストを表す。
type CardIssuanceRequest struct {
	ID        string
	UserID    string
	Type      RequestType
	Details   *RequestDetails
	Status    RequestStatus
	CreatedAt time.Time
}
