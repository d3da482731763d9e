package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/Darknighthub/Ghost-backend/internal/card"
	"github.com/Darknighthub/Ghost-backend/internal/model"
)

// CardServiceInterface はカードハンドラーが必要とするサービスインターフェース。
type CardServiceInterface interface {
	// ListCards はユーザーのカード一覧を復号済みで返す。
	ListCards(ctx context.Context, userID string) ([]card.CardView, error)
	// CreateCardSync は承認を経ずにカードを同期発行する。
	CreateCardSync(ctx context.Context, user *model.User, input card.SyncCreateInput) (*card.IssuedCard, error)
}

// CardHandler はバーチャルカードのHTTPハンドラー。
type CardHandler struct {
	service CardServiceInterface
}

// NewCardHandler はCardHandlerを生成する。
func NewCardHandler(service CardServiceInterface) *CardHandler {
	return &CardHandler{service: service}
}

// createCardRequest は同期カード発行リクエストのボディ。
type createCardRequest struct {
	Limit    int    `json:"limit"`
	Merchant string `json:"merchant"`
	CardType string `json:"cardType"`
}

// ListCards はユーザーのカード一覧を返す。
// GET /api/cards
func (h *CardHandler) ListCards(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}

	cards, err := h.service.ListCards(r.Context(), user.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if cards == nil {
		cards = []card.CardView{}
	}
	writeJSONResponse(w, http.StatusOK, map[string][]card.CardView{
		"cards": cards,
	})
}

// CreateCard は承認フローを経ない同期カード発行。
// 平文のカード番号とCVVはこの応答で1回だけ返される。
// POST /api/cards
func (h *CardHandler) CreateCard(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}

	var req createCardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}

	issued, err := h.service.CreateCardSync(r.Context(), user, card.SyncCreateInput{
		Limit:    req.Limit,
		Merchant: req.Merchant,
		CardType: req.CardType,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, issued)
}
