package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Darknighthub/Ghost-backend/internal/model"
)

// EndpointValidator はプッシュエンドポイントURLの検証インターフェース。
type EndpointValidator interface {
	// ValidateEndpoint はURLが外部の安全な宛先であることを検証する。
	ValidateEndpoint(rawURL string) error
}

// DeviceCreator はデバイス登録のためのインターフェース。
// repository.DeviceRepositoryのうちハンドラーが必要とする操作のみを定義する。
type DeviceCreator interface {
	Create(ctx context.Context, device *model.Device) error
}

// DeviceHandler はプッシュ通知用デバイス登録のHTTPハンドラー。
type DeviceHandler struct {
	validator EndpointValidator
	devices   DeviceCreator
}

// NewDeviceHandler はDeviceHandlerを生成する。
func NewDeviceHandler(validator EndpointValidator, devices DeviceCreator) *DeviceHandler {
	return &DeviceHandler{
		validator: validator,
		devices:   devices,
	}
}

// registerDeviceRequest はデバイス登録リクエストのボディ。
type registerDeviceRequest struct {
	PushEndpoint string `json:"push_endpoint"`
}

// Register はユーザーのプッシュエンドポイントを登録する。
// 内部ネットワークへ向くURLはSSRF対策として拒否する。
// POST /api/devices
func (h *DeviceHandler) Register(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}

	var req registerDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}
	if req.PushEndpoint == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidEndpointError("push_endpointが空です"))
		return
	}

	if err := h.validator.ValidateEndpoint(req.PushEndpoint); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidEndpointError(err.Error()))
		return
	}

	device := &model.Device{
		ID:           uuid.NewString(),
		UserID:       user.ID,
		PushEndpoint: req.PushEndpoint,
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.devices.Create(r.Context(), device); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, map[string]string{
		"device_id": device.ID,
	})
}
