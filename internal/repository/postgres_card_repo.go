package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Darknighthub/Ghost-backend/internal/model"
)

// PostgresVirtualCardRepo はPostgreSQLを使用したバーチャルカードリポジトリ。
type PostgresVirtualCardRepo struct {
	db *sql.DB
}

// NewPostgresVirtualCardRepo はPostgresVirtualCardRepoを生成する。
func NewPostgresVirtualCardRepo(db *sql.DB) *PostgresVirtualCardRepo {
	return &PostgresVirtualCardRepo{db: db}
}

// Create はカードを作成する。card_number / cvv は暗号化トークンであること。
func (r *PostgresVirtualCardRepo) Create(ctx context.Context, card *model.VirtualCard) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO virtual_cards
		 (id, user_id, card_number, cvv, expiry_date, spending_limit, merchant_lock, card_type, status, provider_card_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		card.ID, card.UserID, card.CardNumber, card.CVV, card.ExpiryDate,
		card.SpendingLimit, card.MerchantLock, string(card.CardType), string(card.Status),
		card.ProviderCardID, card.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert virtual card: %w", err)
	}

	return nil
}

// ListByUserID はユーザーのカード一覧を作成日時降順で返す。
func (r *PostgresVirtualCardRepo) ListByUserID(ctx context.Context, userID string) ([]*model.VirtualCard, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, card_number, cvv, expiry_date, spending_limit, merchant_lock, card_type, status, provider_card_id, created_at
		 FROM virtual_cards
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list virtual cards: %w", err)
	}
	defer rows.Close()

	var cards []*model.VirtualCard
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan virtual card: %w", err)
		}
		cards = append(cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate virtual cards: %w", err)
	}

	return cards, nil
}

// FindByProviderCardID はプロバイダ側カードIDでカードを検索する。見つからない場合はnilを返す。
func (r *PostgresVirtualCardRepo) FindByProviderCardID(ctx context.Context, providerCardID string) (*model.VirtualCard, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, card_number, cvv, expiry_date, spending_limit, merchant_lock, card_type, status, provider_card_id, created_at
		 FROM virtual_cards WHERE provider_card_id = $1`,
		providerCardID,
	)

	card, err := scanCard(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find virtual card by provider card ID: %w", err)
	}

	return card, nil
}

// UpdateStatusByProviderCardID はプロバイダ側カードIDで状態を更新する。
func (r *PostgresVirtualCardRepo) UpdateStatusByProviderCardID(ctx context.Context, providerCardID string, status model.CardStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE virtual_cards SET status = $2 WHERE provider_card_id = $1`,
		providerCardID, string(status),
	)
	if err != nil {
		return fmt.Errorf("failed to update virtual card status: %w", err)
	}

	return nil
}

// scanCard は1行をVirtualCardへスキャンする。
func scanCard(row rowScanner) (*model.VirtualCard, error) {
	card := &model.VirtualCard{}
	var cardType, status string

	if err := row.Scan(
		&card.ID, &card.UserID, &card.CardNumber, &card.CVV, &card.ExpiryDate,
		&card.SpendingLimit, &card.MerchantLock, &cardType, &status,
		&card.ProviderCardID, &card.CreatedAt,
	); err != nil {
		return nil, err
	}

	card.CardType = model.CardType(cardType)
	card.Status = model.CardStatus(status)

	return card, nil
}

// compile-time interface check
var _ VirtualCardRepository = (*PostgresVirtualCardRepo)(nil)
