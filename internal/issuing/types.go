package issuing

import "fmt"

// ProviderError は発行プロバイダ境界から一様に返される型付きエラー。
// Retryableは呼び出し側のリトライ判断に使用する（429/5xx/ネットワーク障害でtrue）。
type ProviderError struct {
	Message    string
	StatusCode int // ネットワーク障害など、HTTPレスポンスがない場合は0
	Retryable  bool
}

// Error はerrorインターフェースを実装する。
func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("issuing provider error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("issuing provider error: %s", e.Message)
}

// Cardholder はプロバイダ側のカード保有者を表す。
type Cardholder struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Status string `json:"status"`
}

// ProviderCard はプロバイダが発行したカードを表す。
// NumberとCVCは expand 指定時のみ設定される。サンドボックスでは省略されることがある。
type ProviderCard struct {
	ID       string `json:"id"`
	Number   string `json:"number"`
	CVC      string `json:"cvc"`
	ExpMonth int    `json:"exp_month"`
	ExpYear  int    `json:"exp_year"`
	Status   string `json:"status"`
}

// SensitiveDetails はカード番号・CVC・有効期限の取得結果。
// Syntheticは、プロバイダが値を返さずフォールバック生成された場合にtrueとなる。
// trueの場合、下流は番号の真正性を仮定してはならない。
type SensitiveDetails struct {
	Number    string
	CVC       string
	ExpMonth  int
	ExpYear   int
	Synthetic bool
}

// BillingProfile はカード保有者作成時に使用する固定の請求先プロフィール。
// エンドユーザーは請求先情報を提供しないため、ゲートウェイが定数として合成する。
type BillingProfile struct {
	Name       string
	Line1      string
	City       string
	State      string
	PostalCode string
	Country    string
}
