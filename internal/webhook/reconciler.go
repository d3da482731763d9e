// Package webhook は発行プロバイダの利用イベントをローカル状態へ反映する。
//
// プロバイダには「1回だけ使える」カードの概念がないため、SINGLEタイプの
// カードはオーソリゼーション発生イベントを受けて事後的に無効化する。
// 最初の決済自体は成功し、2回目以降の利用がブロックされる。
package webhook

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Darknighthub/Ghost-backend/internal/model"
	"github.com/Darknighthub/Ghost-backend/internal/repository"
)

// eventTypeAuthorizationCreated は処理対象の唯一のイベント種別。
const eventTypeAuthorizationCreated = "issuing_authorization.created"

// Event はプロバイダから受信するイベントペイロード。
// data.objectはオーソリゼーションであり、使用されたカードを内包する。
type Event struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			Card struct {
				ID       string            `json:"id"`
				Metadata map[string]string `json:"metadata"`
			} `json:"card"`
		} `json:"object"`
	} `json:"data"`
}

// CardRetirer はプロバイダ側のカード無効化操作。issuing.Clientが実装する。
type CardRetirer interface {
	RetireCard(ctx context.Context, providerCardID string) error
}

// EventRecorder はWebhook処理のメトリクス記録先。metrics.Collectorが実装する。
type EventRecorder interface {
	RecordWebhookEvent(eventType string)
	RecordCardRetired()
}

// Reconciler はプロバイダイベントとローカルのカード状態を整合させる。
//
// 処理結果にかかわらずイベントは常に受理扱いとする。エラーを返すと
// イベント送信元がリトライを繰り返すため、内部障害はログに記録するのみ。
type Reconciler struct {
	cardRepo repository.VirtualCardRepository
	retirer  CardRetirer
	recorder EventRecorder
	logger   *slog.Logger
}

// NewReconciler はReconcilerの新しいインスタンスを生成する。
func NewReconciler(cardRepo repository.VirtualCardRepository, retirer CardRetirer, recorder EventRecorder, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		cardRepo: cardRepo,
		retirer:  retirer,
		recorder: recorder,
		logger:   logger,
	}
}

// HandleEvent は受信イベントを処理する。
// 戻り値はなく、あらゆる内部障害は記録のうえ握りつぶされる。
func (r *Reconciler) HandleEvent(ctx context.Context, raw []byte) {
	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		r.logger.Warn("イベントペイロードの解析に失敗しました",
			slog.String("error", err.Error()),
		)
		return
	}

	if r.recorder != nil {
		r.recorder.RecordWebhookEvent(event.Type)
	}

	// オーソリゼーション発生以外のイベントは受理して無視する
	if event.Type != eventTypeAuthorizationCreated {
		return
	}

	providerCardID := event.Data.Object.Card.ID
	if providerCardID == "" {
		r.logger.Warn("イベントにカードIDがありません",
			slog.String("event_type", event.Type),
		)
		return
	}

	cardType := model.CardType(event.Data.Object.Card.Metadata["type"])
	if cardType == "" {
		// 旧カードはメタデータを持たないことがあるため、ローカルの記録で補完する
		local, err := r.cardRepo.FindByProviderCardID(ctx, providerCardID)
		if err != nil || local == nil {
			r.logger.Warn("カードタイプを解決できませんでした",
				slog.String("provider_card_id", providerCardID),
			)
			return
		}
		cardType = local.CardType
	}

	if cardType != model.CardTypeSingle {
		return
	}

	r.retireSingleUseCard(ctx, providerCardID)
}

// retireSingleUseCard は使い捨てカードをプロバイダとローカルの両方で無効化する。
func (r *Reconciler) retireSingleUseCard(ctx context.Context, providerCardID string) {
	if err := r.retirer.RetireCard(ctx, providerCardID); err != nil {
		r.logger.Error("プロバイダ側のカード無効化に失敗しました",
			slog.String("provider_card_id", providerCardID),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := r.cardRepo.UpdateStatusByProviderCardID(ctx, providerCardID, model.CardStatusInactive); err != nil {
		r.logger.Error("ローカルのカード状態更新に失敗しました",
			slog.String("provider_card_id", providerCardID),
			slog.String("error", err.Error()),
		)
		return
	}

	if r.recorder != nil {
		r.recorder.RecordCardRetired()
	}
	r.logger.Info("使い捨てカードを無効化しました",
		slog.String("provider_card_id", providerCardID),
	)
}
