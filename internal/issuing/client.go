// Package issuing は外部カード発行プロバイダのゲートウェイを提供する。
// カード保有者の検索・作成、スペンディングコントロール付きカード作成、
// カード番号・CVCの取得、カードの無効化を担う。
// プロバイダAPIはフォームエンコードされたリクエストとJSONレスポンスで構成される。
package issuing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Darknighthub/Ghost-backend/internal/cardgen"
	"github.com/Darknighthub/Ghost-backend/internal/model"
)

// blockedCategories は全カードに適用する固定のマーチャントカテゴリ拒否リスト。
// リクエスト内容に関わらず適用されるポリシーであり、ユーザーは変更できない。
var blockedCategories = []string{
	"betting_casino_gambling",
	"dating_escort_services",
	"massage_parlors",
	"wires_money_orders",
}

// defaultBillingProfile はカード保有者に設定する標準の請求先プロフィール。
// 既存のカード保有者レコードの修復（フィックスアップ）にも同じ値を使用する。
var defaultBillingProfile = BillingProfile{
	Name:       "Ghost User",
	Line1:      "Istiklal Cad",
	City:       "Istanbul",
	State:      "TR",
	PostalCode: "34000",
	Country:    "TR",
}

// Config は発行プロバイダクライアントの設定。構築後は変更しない。
type Config struct {
	APIKey      string
	BaseURL     string // 例: https://api.stripe.com
	FallbackBIN string // サンドボックスフォールバック用PANのBINプレフィックス
	Billing     BillingProfile
}

// Client は発行プロバイダのHTTPクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	config     Config
}

// NewClient はClientの新しいインスタンスを生成する。
// Billingが空の場合は標準プロフィールを使用する。
func NewClient(httpClient *http.Client, logger *slog.Logger, config Config) *Client {
	if config.Billing == (BillingProfile{}) {
		config.Billing = defaultBillingProfile
	}
	if config.FallbackBIN == "" {
		config.FallbackBIN = "5555"
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		config:     config,
	}
}

// FindOrCreateCardholder はメールアドレスでアクティブなカード保有者を検索し、
// 最初の一致のIDを返す。存在しない場合は標準プロフィールで新規作成する。
// 既存レコードが見つかった場合は標準プロフィールを冪等に再送信して修復する
// （過去の不完全なレコードを治すフィックスアップ。失敗しても発行は続行する）。
// 同一メールの同時初回発行は競合しうるが、最初の一致が正とみなされるため
// 最悪でも重複カード保有者が残るだけで、カード自体は破損しない。
func (c *Client) FindOrCreateCardholder(ctx context.Context, email string) (string, error) {
	params := url.Values{}
	params.Set("email", email)
	params.Set("status", "active")
	params.Set("limit", "1")

	var listResp struct {
		Data []Cardholder `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/issuing/cardholders?"+params.Encode(), nil, &listResp); err != nil {
		return "", err
	}

	if len(listResp.Data) > 0 {
		id := listResp.Data[0].ID
		c.logger.Info("既存のカード保有者を使用します",
			slog.String("cardholder_id", id),
		)
		c.fixUpCardholder(ctx, id)
		return id, nil
	}

	form := url.Values{}
	form.Set("name", c.config.Billing.Name)
	form.Set("email", email)
	form.Set("status", "active")
	form.Set("type", "individual")
	c.setBillingParams(form)

	var holder Cardholder
	if err := c.do(ctx, http.MethodPost, "/v1/issuing/cardholders", form, &holder); err != nil {
		return "", err
	}

	c.logger.Info("カード保有者を新規作成しました",
		slog.String("cardholder_id", holder.ID),
	)
	return holder.ID, nil
}

// setBillingParams は標準請求先プロフィールをフォームパラメータへ設定する。
func (c *Client) setBillingParams(form url.Values) {
	form.Set("billing[address][line1]", c.config.Billing.Line1)
	form.Set("billing[address][city]", c.config.Billing.City)
	form.Set("billing[address][state]", c.config.Billing.State)
	form.Set("billing[address][postal_code]", c.config.Billing.PostalCode)
	form.Set("billing[address][country]", c.config.Billing.Country)
}

// fixUpCardholder は既存カード保有者へ標準プロフィールを再送信する。
// 冪等な修復処理であり、失敗はログに記録するのみで発行処理を妨げない。
func (c *Client) fixUpCardholder(ctx context.Context, cardholderID string) {
	form := url.Values{}
	form.Set("name", c.config.Billing.Name)
	c.setBillingParams(form)

	var holder Cardholder
	if err := c.do(ctx, http.MethodPost, "/v1/issuing/cardholders/"+cardholderID, form, &holder); err != nil {
		c.logger.Warn("カード保有者の修復に失敗しました",
			slog.String("cardholder_id", cardholderID),
			slog.String("error", err.Error()),
		)
	}
}

// CreateCard はスペンディングコントロール付きのバーチャルカードを作成する。
// 利用上限はper_authorization単位で、spendingLimit（通貨単位）×100の最小通貨単位。
// merchantLockとcardTypeはメタデータとして記録する。
// 固定のカテゴリ拒否リストを全カードに適用する。
func (c *Client) CreateCard(ctx context.Context, cardholderID string, spendingLimit int, merchantLock string, cardType model.CardType) (*ProviderCard, error) {
	form := url.Values{}
	form.Set("cardholder", cardholderID)
	form.Set("currency", "usd")
	form.Set("type", "virtual")
	form.Set("status", "active")
	form.Set("spending_controls[spending_limits][0][amount]", strconv.Itoa(spendingLimit*100))
	form.Set("spending_controls[spending_limits][0][interval]", "per_authorization")
	for i, category := range blockedCategories {
		form.Set(fmt.Sprintf("spending_controls[blocked_categories][%d]", i), category)
	}
	form.Set("metadata[merchant_lock]", merchantLock)
	form.Set("metadata[type]", string(cardType))

	var card ProviderCard
	if err := c.do(ctx, http.MethodPost, "/v1/issuing/cards", form, &card); err != nil {
		return nil, err
	}

	c.logger.Info("プロバイダカードを作成しました",
		slog.String("provider_card_id", card.ID),
		slog.Int("spending_limit", spendingLimit),
	)
	return &card, nil
}

// RetrieveSensitiveDetails はカード番号とCVCを展開付きで取得する。
// サンドボックス環境ではプロバイダが番号やCVCを返さないことがあるため、
// その場合は決定的な形状のフォールバック値（Luhn有効な合成PANと3桁CVC）を
// 生成して返す。これは文書化された挙動であり、下流はプロバイダ値の
// 真正性を仮定してはならない。
func (c *Client) RetrieveSensitiveDetails(ctx context.Context, providerCardID string) (*SensitiveDetails, error) {
	path := "/v1/issuing/cards/" + providerCardID + "?expand[]=number&expand[]=cvc"

	var card ProviderCard
	if err := c.do(ctx, http.MethodGet, path, nil, &card); err != nil {
		return nil, err
	}

	details := &SensitiveDetails{
		Number:   card.Number,
		CVC:      card.CVC,
		ExpMonth: card.ExpMonth,
		ExpYear:  card.ExpYear,
	}

	if details.Number == "" {
		pan, err := cardgen.GeneratePAN(c.config.FallbackBIN)
		if err != nil {
			return nil, &ProviderError{Message: fmt.Sprintf("フォールバックPANの生成に失敗しました: %v", err)}
		}
		details.Number = pan
		details.Synthetic = true
	}
	if details.CVC == "" {
		cvc, err := cardgen.GenerateCVC()
		if err != nil {
			return nil, &ProviderError{Message: fmt.Sprintf("フォールバックCVCの生成に失敗しました: %v", err)}
		}
		details.CVC = cvc
		details.Synthetic = true
	}

	if details.Synthetic {
		c.logger.Warn("プロバイダがカード番号またはCVCを返さなかったためフォールバック値を使用します",
			slog.String("provider_card_id", providerCardID),
		)
	}

	return details, nil
}

// RetireCard はプロバイダカードを無効化する。
// Webhookリコンサイラ専用。呼び出し側は失敗をログに記録して握りつぶすこと。
func (c *Client) RetireCard(ctx context.Context, providerCardID string) error {
	form := url.Values{}
	form.Set("status", "inactive")

	var card ProviderCard
	if err := c.do(ctx, http.MethodPost, "/v1/issuing/cards/"+providerCardID, form, &card); err != nil {
		return err
	}

	c.logger.Info("プロバイダカードを無効化しました",
		slog.String("provider_card_id", providerCardID),
	)
	return nil
}

// do はプロバイダAPIへのHTTPリクエストを実行し、レスポンスJSONをoutへデコードする。
// エラーは全て*ProviderErrorとして返す（429/5xx/ネットワーク障害はRetryable）。
func (c *Client) do(ctx context.Context, method, path string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return &ProviderError{Message: fmt.Sprintf("HTTPリクエストの作成に失敗しました: %v", err)}
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("発行プロバイダへのリクエストに失敗しました",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return &ProviderError{Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.statusError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &ProviderError{Message: fmt.Sprintf("レスポンスJSONの解析に失敗しました: %v", err)}
		}
	}

	return nil
}

// statusError はエラーステータスのレスポンスを*ProviderErrorへ変換する。
// プロバイダのエラーボディは {"error": {"message": "..."}} 形式を想定する。
func (c *Client) statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	message := fmt.Sprintf("HTTP %d", resp.StatusCode)
	var errBody struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &errBody); err == nil && errBody.Error.Message != "" {
		message = errBody.Error.Message
	}

	retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500

	c.logger.Error("発行プロバイダがエラーステータスを返しました",
		slog.Int("http_status", resp.StatusCode),
		slog.String("message", message),
		slog.Bool("retryable", retryable),
	)

	return &ProviderError{
		Message:    message,
		StatusCode: resp.StatusCode,
		Retryable:  retryable,
	}
}
