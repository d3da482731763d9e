// Package card はバーチャルカードの照会と同期発行のドメインロジックを提供する。
package card

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Darknighthub/Ghost-backend/internal/issuing"
	"github.com/Darknighthub/Ghost-backend/internal/model"
	"github.com/Darknighthub/Ghost-backend/internal/repository"
)

// corruptedSentinel は復号に失敗したフィールドの代替表示。
// クライアント側の表示契約の一部であり変更できない。
const corruptedSentinel = "**** HATA ****"

// ProviderGateway は発行プロバイダへの操作のうち、同期発行が必要とする部分。
// issuing.Clientが実装する。
type ProviderGateway interface {
	FindOrCreateCardholder(ctx context.Context, email string) (string, error)
	CreateCard(ctx context.Context, cardholderID string, spendingLimit int, merchantLock string, cardType model.CardType) (*issuing.ProviderCard, error)
	RetrieveSensitiveDetails(ctx context.Context, providerCardID string) (*issuing.SensitiveDetails, error)
}

// CardCipher はカード情報の保存時暗号化・復号を行う。crypto.Cipherが実装する。
type CardCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(token string) (string, error)
}

// MerchantSanitizer は加盟店名入力のサニタイズを行う。
type MerchantSanitizer interface {
	SanitizeMerchant(raw string) string
}

// CardView はAPI応答用の復号済みカード表現。
// CardNumberとCVVは平文、復号失敗時はセンチネル文字列となる。
type CardView struct {
	ID            string          `json:"id"`
	CardNumber    string          `json:"card_number"`
	CVV           string          `json:"cvv"`
	ExpiryDate    string          `json:"expiry_date"`
	SpendingLimit int             `json:"spending_limit"`
	MerchantLock  string          `json:"merchant_lock"`
	CardType      model.CardType  `json:"card_type"`
	Status        model.CardStatus `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}

// DisposableIdentity は自動入力用の使い捨て識別情報。
// 実在の個人情報の代わりにフォームへ入力するための架空の値。
type DisposableIdentity struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// IssuedCard は同期発行の結果。平文のカード情報は発行応答で1回だけ返され、
// 以後の照会では復号済みのCardViewとして取得する。
type IssuedCard struct {
	Card     CardView           `json:"card"`
	Identity DisposableIdentity `json:"identity"`
}

// SyncCreateInput は同期発行のパラメータ。
type SyncCreateInput struct {
	Limit    int
	Merchant string
	CardType string
}

// Service はバーチャルカードのサービス層。
type Service struct {
	cardRepo  repository.VirtualCardRepository
	gateway   ProviderGateway
	cipher    CardCipher
	sanitizer MerchantSanitizer
	logger    *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	cardRepo repository.VirtualCardRepository,
	gateway ProviderGateway,
	cipher CardCipher,
	sanitizer MerchantSanitizer,
	logger *slog.Logger,
) *Service {
	return &Service{
		cardRepo:  cardRepo,
		gateway:   gateway,
		cipher:    cipher,
		sanitizer: sanitizer,
		logger:    logger,
	}
}

// ListCards はユーザーのカード一覧を復号して返す。
// 個々のレコードの復号失敗はセンチネルに置き換え、一覧全体は失敗させない。
func (s *Service) ListCards(ctx context.Context, userID string) ([]CardView, error) {
	cards, err := s.cardRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("カード一覧の取得に失敗しました: %w", err)
	}

	views := make([]CardView, len(cards))
	for i, c := range cards {
		views[i] = CardView{
			ID:            c.ID,
			CardNumber:    s.decryptField(c.ID, "card_number", c.CardNumber),
			CVV:           s.decryptField(c.ID, "cvv", c.CVV),
			ExpiryDate:    c.ExpiryDate,
			SpendingLimit: c.SpendingLimit,
			MerchantLock:  c.MerchantLock,
			CardType:      c.CardType,
			Status:        c.Status,
			CreatedAt:     c.CreatedAt,
		}
	}
	return views, nil
}

// decryptField は1フィールドを復号する。失敗時はセンチネルを返し処理を継続する。
func (s *Service) decryptField(cardID, field, token string) string {
	plaintext, err := s.cipher.Decrypt(token)
	if err != nil {
		s.logger.Warn("カード情報の復号に失敗しました",
			slog.String("card_id", cardID),
			slog.String("field", field),
			slog.String("error", err.Error()),
		)
		return corruptedSentinel
	}
	return plaintext
}

// CreateCardSync は承認フローを経由せず、発行パイプラインを同期で実行する。
// 旧クライアント互換のエンドポイント用。平文のカード情報と使い捨て識別情報を
// 応答で1回だけ返し、保存されるのは暗号化済みトークンのみ。
func (s *Service) CreateCardSync(ctx context.Context, user *model.User, input SyncCreateInput) (*IssuedCard, error) {
	spendingLimit := input.Limit
	if spendingLimit <= 0 {
		spendingLimit = 100
	}
	merchant := s.sanitizer.SanitizeMerchant(input.Merchant)
	if merchant == "" {
		merchant = "General"
	}
	cardType := model.CardType(input.CardType)
	if cardType != model.CardTypeSingle && cardType != model.CardTypeSub {
		cardType = model.CardTypeSub
	}

	cardholderID, err := s.gateway.FindOrCreateCardholder(ctx, user.Email)
	if err != nil {
		return nil, model.NewProviderError(err.Error())
	}
	providerCard, err := s.gateway.CreateCard(ctx, cardholderID, spendingLimit, merchant, cardType)
	if err != nil {
		return nil, model.NewProviderError(err.Error())
	}
	sensitive, err := s.gateway.RetrieveSensitiveDetails(ctx, providerCard.ID)
	if err != nil {
		return nil, model.NewProviderError(err.Error())
	}

	encryptedNumber, err := s.cipher.Encrypt(sensitive.Number)
	if err != nil {
		return nil, model.NewEncryptionError()
	}
	encryptedCVV, err := s.cipher.Encrypt(sensitive.CVC)
	if err != nil {
		return nil, model.NewEncryptionError()
	}

	stored := &model.VirtualCard{
		ID:             uuid.NewString(),
		UserID:         user.ID,
		CardNumber:     encryptedNumber,
		CVV:            encryptedCVV,
		ExpiryDate:     fmt.Sprintf("%02d/%d", sensitive.ExpMonth, sensitive.ExpYear),
		SpendingLimit:  spendingLimit,
		MerchantLock:   merchant,
		CardType:       cardType,
		Status:         model.CardStatusActive,
		ProviderCardID: providerCard.ID,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.cardRepo.Create(ctx, stored); err != nil {
		return nil, fmt.Errorf("カードの保存に失敗しました: %w", err)
	}

	s.logger.Info("カードを同期発行しました",
		slog.String("card_id", stored.ID),
		slog.String("user_id", user.ID),
		slog.Bool("synthetic_pan", sensitive.Synthetic),
	)

	return &IssuedCard{
		Card: CardView{
			ID:            stored.ID,
			CardNumber:    sensitive.Number,
			CVV:           sensitive.CVC,
			ExpiryDate:    stored.ExpiryDate,
			SpendingLimit: stored.SpendingLimit,
			MerchantLock:  stored.MerchantLock,
			CardType:      stored.CardType,
			Status:        stored.Status,
			CreatedAt:     stored.CreatedAt,
		},
		Identity: newDisposableIdentity(),
	}, nil
}

// 使い捨て識別情報の生成用語彙。実在しない名前とドメインのみを使う。
var (
	identityFirstNames = []string{"Alex", "Casey", "Jordan", "Morgan", "Riley", "Quinn", "Avery", "Dakota"}
	identityLastNames  = []string{"Gray", "Stone", "Vale", "Mercer", "Hale", "Winter", "Ash", "Reed"}
)

// newDisposableIdentity は自動入力用の架空の識別情報を生成する。
// 電話番号は架空番号として予約された555-01xx帯を使用する。
func newDisposableIdentity() DisposableIdentity {
	first := identityFirstNames[rand.IntN(len(identityFirstNames))]
	last := identityLastNames[rand.IntN(len(identityLastNames))]
	suffix := rand.IntN(10000)

	return DisposableIdentity{
		Name:  first + " " + last,
		Email: fmt.Sprintf("%s.%s.%04d@ghostmail.example", strings.ToLower(first), strings.ToLower(last), suffix),
		Phone: fmt.Sprintf("+1 555-01%02d", rand.IntN(100)),
	}
}
