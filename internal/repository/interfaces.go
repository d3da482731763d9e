// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/Darknighthub/Ghost-backend/internal/model"
)

// CardRequestRepository はカード発行リクエストの永続化インターフェース。
type CardRequestRepository interface {
	// Create はリクエストを作成する。
	Create(ctx context.Context, req *model.CardIssuanceRequest) error

	// FindByID は指定IDのリクエストを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.CardIssuanceRequest, error)

	// ListPendingByUserID はユーザーのPENDINGリクエストを作成日時降順で返す。
	ListPendingByUserID(ctx context.Context, userID string) ([]*model.CardIssuanceRequest, error)

	// Finalize はリクエストを終端状態へ遷移させる。
	// 現在の状態がPENDINGの行のみを更新し、更新できた場合はtrueを返す。
	// 終端状態の不変性はこのガード付きUPDATEで保証する。
	// detailsがnilでない場合はdetailsも同時に上書きする（エラーメッセージの記録用）。
	Finalize(ctx context.Context, id string, status model.RequestStatus, details *model.RequestDetails) (bool, error)

	// ListStalePending は指定時刻より前に作成されたPENDINGリクエストを返す。
	// スイーパーが期限超過リクエストを却下するために使用する。
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*model.CardIssuanceRequest, error)
}

// VirtualCardRepository はバーチャルカードの永続化インターフェース。
type VirtualCardRepository interface {
	// Create はカードを作成する。
	Create(ctx context.Context, card *model.VirtualCard) error

	// ListByUserID はユーザーのカード一覧を作成日時降順で返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.VirtualCard, error)

	// FindByProviderCardID はプロバイダ側カードIDでカードを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderCardID(ctx context.Context, providerCardID string) (*model.VirtualCard, error)

	// UpdateStatusByProviderCardID はプロバイダ側カードIDで状態を更新する。
	UpdateStatusByProviderCardID(ctx context.Context, providerCardID string, status model.CardStatus) error
}

// DeviceRepository はプッシュ通知エンドポイントの永続化インターフェース。
type DeviceRepository interface {
	// Create はデバイスを登録する。同一ユーザー・同一エンドポイントの重複登録は冪等に無視する。
	Create(ctx context.Context, device *model.Device) error

	// ListByUserID はユーザーの登録デバイス一覧を返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Device, error)
}
