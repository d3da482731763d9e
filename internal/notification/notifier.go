// Package notification はカード発行結果のプッシュ通知配信を提供する。
//
// 発行リクエストの承認・却下が確定した際、ユーザーが登録した全デバイスの
// プッシュエンドポイントへイベントをPOSTする。配信はベストエフォートであり、
// 個々のエンドポイント障害は発行結果へ影響しない。
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Darknighthub/Ghost-backend/internal/model"
	"github.com/Darknighthub/Ghost-backend/internal/repository"
)

// Event はデバイスへ配信されるイベントペイロード。
type Event struct {
	// Type はイベント種別（例: "request.approved", "request.rejected"）。
	Type string `json:"type"`
	// RequestID は対象発行リクエストのID。
	RequestID string `json:"requestId"`
	// Status は確定後のリクエスト状態。
	Status model.RequestStatus `json:"status"`
}

// NotifierService はプッシュ通知配信機能のインターフェースを定義する。
type NotifierService interface {
	// NotifyUser はユーザーの全登録デバイスへイベントを配信する。
	// 配信失敗はログとメトリクスに記録するのみで、エラーは返さない。
	NotifyUser(ctx context.Context, userID string, event Event)
}

// failureRecorder は配信失敗数の記録先。metricsパッケージが実装する。
type failureRecorder interface {
	IncNotificationFailures()
}

// notifier はNotifierServiceの実装。
// httpClientにはsecurity.EndpointGuardServiceが生成したSSRF防止付き
// クライアントを渡すこと。登録時の検証をすり抜けたエンドポイントも
// Dialerレベルでブロックされる。
type notifier struct {
	deviceRepo repository.DeviceRepository
	httpClient *http.Client
	logger     *slog.Logger
	recorder   failureRecorder
}

// NewNotifier はNotifierServiceの新しいインスタンスを生成する。
func NewNotifier(deviceRepo repository.DeviceRepository, httpClient *http.Client, logger *slog.Logger, recorder failureRecorder) *notifier {
	return &notifier{
		deviceRepo: deviceRepo,
		httpClient: httpClient,
		logger:     logger,
		recorder:   recorder,
	}
}

// NotifyUser はユーザーの全登録デバイスへイベントを配信する。
func (n *notifier) NotifyUser(ctx context.Context, userID string, event Event) {
	devices, err := n.deviceRepo.ListByUserID(ctx, userID)
	if err != nil {
		n.logger.Error("通知先デバイスの取得に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return
	}
	if len(devices) == 0 {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("通知ペイロードのシリアライズに失敗しました",
			slog.String("error", err.Error()),
		)
		return
	}

	for _, device := range devices {
		n.deliver(ctx, device, payload)
	}
}

// deliver は単一デバイスへの配信を行う。失敗は記録のみ。
func (n *notifier) deliver(ctx context.Context, device *model.Device, payload []byte) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, device.PushEndpoint, bytes.NewReader(payload))
	if err != nil {
		n.recordFailure(device, err.Error())
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.recordFailure(device, err.Error())
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		n.recordFailure(device, resp.Status)
		return
	}
}

func (n *notifier) recordFailure(device *model.Device, reason string) {
	n.logger.Warn("プッシュ通知の配信に失敗しました",
		slog.String("device_id", device.ID),
		slog.String("reason", reason),
	)
	if n.recorder != nil {
		n.recorder.IncNotificationFailures()
	}
}
