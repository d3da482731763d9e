package model

import "time"

// CardStatus はバーチャルカードの状態を表す。
type CardStatus string

const (
	// CardStatusActive は利用可能なカード。
	CardStatusActive CardStatus = "ACTIVE"
	// CardStatusInactive は無効化されたカード。
	// SINGLEタイプのカードは初回オーソリ後にWebhook経由でこの状態へ遷移する。
	CardStatusInactive CardStatus = "INACTIVE"
)

// CardType はカードの利用形態を表す。
type CardType string

const (
	// CardTypeSingle は1回限りの利用を想定した使い捨てカード。
	CardTypeSingle CardType = "SINGLE"
	// CardTypeSub はサブスクリプション等の継続利用向けカード。
	CardTypeSub CardType = "SUB"
)

// VirtualCard は発行済みのバーチャルカードを表す。
// CardNumberとCVVは暗号化トークンとしてのみ保持する。
// 平文はカード作成処理中のメモリ上と、作成直後のレスポンス内にのみ存在する。
type VirtualCard struct {
	ID            string
	UserID        string
	CardNumber    string // 暗号化トークン（hex(iv):hex(ct)）
	CVV           string // 暗号化トークン（hex(iv):hex(ct)）
	ExpiryDate    string // MM/YYYY
	SpendingLimit int    // 通貨単位（最小通貨単位ではない）
	MerchantLock  string
	CardType      CardType
	Status        CardStatus
	ProviderCardID string // 発行プロバイダ側のカードID
	CreatedAt     time.Time
}
