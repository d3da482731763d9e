package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Darknighthub/Ghost-backend/internal/card"
	"github.com/Darknighthub/Ghost-backend/internal/model"
)

// mockCardService はCardServiceInterfaceのモック実装。
type mockCardService struct {
	listCardsFunc  func(ctx context.Context, userID string) ([]card.CardView, error)
	createSyncFunc func(ctx context.Context, user *model.User, input card.SyncCreateInput) (*card.IssuedCard, error)

	createCalls int
}

func (m *mockCardService) ListCards(ctx context.Context, userID string) ([]card.CardView, error) {
	return m.listCardsFunc(ctx, userID)
}

func (m *mockCardService) CreateCardSync(ctx context.Context, user *model.User, input card.SyncCreateInput) (*card.IssuedCard, error) {
	m.createCalls++
	return m.createSyncFunc(ctx, user, input)
}

var _ CardServiceInterface = (*mockCardService)(nil)

func TestCardHandler_ListCards(t *testing.T) {
	service := &mockCardService{
		listCardsFunc: func(_ context.Context, userID string) ([]card.CardView, error) {
			return []card.CardView{
				{
					ID:            "card-1",
					CardNumber:    "5555001122334444",
					CVV:           "123",
					ExpiryDate:    "08/2029",
					SpendingLimit: 50,
					MerchantLock:  "Netflix",
					CardType:      model.CardTypeSingle,
					Status:        model.CardStatusActive,
				},
			}, nil
		},
	}
	h := NewCardHandler(service)

	rec := httptest.NewRecorder()
	h.ListCards(rec, authedRequest(t, http.MethodGet, "/api/cards", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("ステータスコード: got %d, want %d", rec.Code, http.StatusOK)
	}

	var body struct {
		Cards []card.CardView `json:"cards"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("レスポンスの解析に失敗: %v", err)
	}
	if len(body.Cards) != 1 {
		t.Fatalf("cards件数: got %d, want 1", len(body.Cards))
	}
	if body.Cards[0].CardNumber != "5555001122334444" {
		t.Errorf("card_number: got %q", body.Cards[0].CardNumber)
	}
}

func TestCardHandler_ListCards_Empty(t *testing.T) {
	// カードが1枚もない場合もnullではなく空配列を返す
	service := &mockCardService{
		listCardsFunc: func(_ context.Context, _ string) ([]card.CardView, error) {
			return nil, nil
		},
	}
	h := NewCardHandler(service)

	rec := httptest.NewRecorder()
	h.ListCards(rec, authedRequest(t, http.MethodGet, "/api/cards", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("ステータスコード: got %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]json.RawMessage
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("レスポンスの解析に失敗: %v", err)
	}
	if string(body["cards"]) != "[]" {
		t.Errorf("cards: got %s, want []", body["cards"])
	}
}

func TestCardHandler_CreateCard(t *testing.T) {
	var got card.SyncCreateInput
	service := &mockCardService{
		createSyncFunc: func(_ context.Context, user *model.User, input card.SyncCreateInput) (*card.IssuedCard, error) {
			got = input
			return &card.IssuedCard{
				Card: card.CardView{
					ID:         "card-1",
					CardNumber: "5555990011223344",
					CVV:        "321",
				},
				Identity: card.DisposableIdentity{
					Name:  "Alex Walker",
					Email: "alex.walker.0042@ghostmail.example",
					Phone: "+1 555-0142",
				},
			}, nil
		},
	}
	h := NewCardHandler(service)

	body := `{"limit":75,"merchant":"Steam","cardType":"SINGLE"}`
	rec := httptest.NewRecorder()
	h.CreateCard(rec, authedRequest(t, http.MethodPost, "/api/cards", body))

	if rec.Code != http.StatusCreated {
		t.Fatalf("ステータスコード: got %d, want %d", rec.Code, http.StatusCreated)
	}
	if got.Limit != 75 || got.Merchant != "Steam" || got.CardType != "SINGLE" {
		t.Errorf("入力: got %+v", got)
	}

	var resp card.IssuedCard
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("レスポンスの解析に失敗: %v", err)
	}
	if resp.Card.CardNumber != "5555990011223344" {
		t.Errorf("平文のカード番号が応答に含まれていない: %+v", resp.Card)
	}
	if resp.Identity.Email == "" {
		t.Error("使い捨てIDが応答に含まれていない")
	}
}

func TestCardHandler_CreateCard_ProviderError(t *testing.T) {
	service := &mockCardService{
		createSyncFunc: func(_ context.Context, _ *model.User, _ card.SyncCreateInput) (*card.IssuedCard, error) {
			return nil, model.NewProviderError("カード作成がステータス 500 で失敗しました")
		},
	}
	h := NewCardHandler(service)

	rec := httptest.NewRecorder()
	h.CreateCard(rec, authedRequest(t, http.MethodPost, "/api/cards", `{"limit":10}`))

	if rec.Code != http.StatusBadGateway {
		t.Errorf("ステータスコード: got %d, want %d", rec.Code, http.StatusBadGateway)
	}

	var body apiErrorResponse
	json.NewDecoder(rec.Body).Decode(&body)
	if body.Code != model.ErrCodeProviderError {
		t.Errorf("エラーコード: got %q, want %q", body.Code, model.ErrCodeProviderError)
	}
}

func TestCardHandler_CreateCard_InvalidJSON(t *testing.T) {
	service := &mockCardService{}
	h := NewCardHandler(service)

	rec := httptest.NewRecorder()
	h.CreateCard(rec, authedRequest(t, http.MethodPost, "/api/cards", `{broken`))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("ステータスコード: got %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if service.createCalls != 0 {
		t.Error("不正なJSONに対してサービスが呼ばれるべきではない")
	}
}
