package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Darknighthub/Ghost-backend/internal/model"
	"github.com/Darknighthub/Ghost-backend/internal/request"
)

// RequestServiceInterface はリクエストハンドラーが必要とするサービスインターフェース。
type RequestServiceInterface interface {
	// Initiate は新しいカード発行リクエストをPENDING状態で作成する。
	Initiate(ctx context.Context, user *model.User, input request.InitiateInput) (*model.CardIssuanceRequest, error)
	// ListPending は承認待ちのリクエスト一覧を新しい順で返す。
	ListPending(ctx context.Context, userID string) ([]*model.CardIssuanceRequest, error)
	// CheckStatus はリクエストの現在の状態を返す。未知のIDにはUNKNOWNを返す。
	CheckStatus(ctx context.Context, requestID string) (model.RequestStatus, error)
	// Approve はリクエストを承認し、カード作成を非同期で開始する。
	Approve(ctx context.Context, user *model.User, requestID string) error
	// Reject はリクエストを却下する。
	Reject(ctx context.Context, user *model.User, requestID string) error
}

// RequestHandler はカード発行リクエストのHTTPハンドラー。
type RequestHandler struct {
	service RequestServiceInterface
}

// NewRequestHandler はRequestHandlerを生成する。
func NewRequestHandler(service RequestServiceInterface) *RequestHandler {
	return &RequestHandler{service: service}
}

// initiateRequest はリクエスト作成のボディ。
// detailsはネスト形式・フラット形式の両方を受け付ける。
// json.RawMessageを使うのは、明示的な `"details": null` とフィールド欠落を
// 区別するため（nullは承認時に自動却下される）。
type initiateRequest struct {
	Type     string          `json:"type"`
	Details  json.RawMessage `json:"details"`
	Limit    *int            `json:"limit"`
	Merchant string          `json:"merchant"`
	CardType string          `json:"cardType"`
}

// requestActionRequest は承認・却下アクションのボディ。
type requestActionRequest struct {
	Action string `json:"action"`
}

// pendingRequestResponse は承認待ちリクエストのAPIレスポンス。
type pendingRequestResponse struct {
	RequestID string                `json:"request_id"`
	Type      model.RequestType     `json:"type"`
	Status    model.RequestStatus   `json:"status"`
	Details   *model.RequestDetails `json:"details"`
	CreatedAt time.Time             `json:"created_at"`
}

// Initiate は新しいカード発行リクエストを作成する。
// POST /api/requests
func (h *RequestHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}

	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}

	input := request.InitiateInput{
		Type:     req.Type,
		Limit:    req.Limit,
		Merchant: req.Merchant,
		CardType: req.CardType,
	}

	// detailsフィールドの3状態: 欠落 / 明示的null / オブジェクト
	if len(req.Details) > 0 {
		if bytes.Equal(bytes.TrimSpace(req.Details), []byte("null")) {
			input.DetailsNull = true
		} else {
			var details model.RequestDetails
			if err := json.Unmarshal(req.Details, &details); err != nil {
				writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("detailsの解析に失敗しました"))
				return
			}
			input.Details = &details
		}
	}

	created, err := h.service.Initiate(r.Context(), user, input)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, map[string]string{
		"status":     "PENDING_APPROVAL",
		"request_id": created.ID,
	})
}

// ListPending は承認待ちリクエストの一覧を返す。
// GET /api/requests/pending
func (h *RequestHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}

	requests, err := h.service.ListPending(r.Context(), user.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	responses := make([]pendingRequestResponse, 0, len(requests))
	for _, req := range requests {
		responses = append(responses, pendingRequestResponse{
			RequestID: req.ID,
			Type:      req.Type,
			Status:    req.Status,
			Details:   req.Details,
			CreatedAt: req.CreatedAt,
		})
	}

	writeJSONResponse(w, http.StatusOK, map[string][]pendingRequestResponse{
		"requests": responses,
	})
}

// Action はリクエストを承認または却下する。
// 承認の応答は即時のackであり、カード作成の完了はCheckStatusのポーリングで観測する。
// POST /api/requests/{id}/action
func (h *RequestHandler) Action(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}
	requestID := chi.URLParam(r, "id")

	var req requestActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}

	switch req.Action {
	case "APPROVE":
		if err := h.service.Approve(r.Context(), user, requestID); err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSONResponse(w, http.StatusAccepted, map[string]string{
			"request_id": requestID,
			"message":    "処理を開始しました。",
		})
	case "REJECT":
		if err := h.service.Reject(r.Context(), user, requestID); err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, map[string]string{
			"request_id": requestID,
			"status":     string(model.RequestStatusRejected),
		})
	default:
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("actionはAPPROVEまたはREJECTを指定してください"))
	}
}

// CheckStatus はリクエストの現在の状態を返す。
// GET /api/requests/{id}/status
func (h *RequestHandler) CheckStatus(w http.ResponseWriter, r *http.Request) {
	if user := requireUser(w, r); user == nil {
		return
	}
	requestID := chi.URLParam(r, "id")

	status, err := h.service.CheckStatus(r.Context(), requestID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]string{
		"status": string(status),
	})
}
