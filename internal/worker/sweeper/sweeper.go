// Package sweeper は期限超過した承認待ちリクエストのバックグラウンド掃除を提供する。
// 一定間隔でPENDINGのまま放置されたリクエストを検出し、REJECTEDへ遷移させる。
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Darknighthub/Ghost-backend/internal/model"
	"github.com/Darknighthub/Ghost-backend/internal/notification"
	"github.com/Darknighthub/Ghost-backend/internal/repository"
)

// staleBatchLimit は1サイクルで処理する最大件数。
const staleBatchLimit = 100

// rejectionMessage は期限超過で却下されたリクエストに記録する診断メッセージ。
const rejectionMessage = "承認期限を超過したため自動的に却下されました"

// SweepRecorder は却下件数の記録先。metricsパッケージが実装する。
type SweepRecorder interface {
	RecordStaleRequestRejected()
}

// Sweeper は期限超過リクエストの検出と却下を行う。
// 終端状態への遷移はリポジトリのガード付きFinalizeに委ねるため、
// APIサーバー側の承認処理と競合しても二重遷移は起きない。
type Sweeper struct {
	requestRepo repository.CardRequestRepository
	notifier    notification.NotifierService
	recorder    SweepRecorder
	logger      *slog.Logger
	maxAge      time.Duration
}

// NewSweeper はSweeperの新しいインスタンスを生成する。
// maxAgeが0以下の場合はデフォルト値24時間を使用する。
func NewSweeper(
	requestRepo repository.CardRequestRepository,
	notifier notification.NotifierService,
	recorder SweepRecorder,
	logger *slog.Logger,
	maxAge time.Duration,
) *Sweeper {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &Sweeper{
		requestRepo: requestRepo,
		notifier:    notifier,
		recorder:    recorder,
		logger:      logger,
		maxAge:      maxAge,
	}
}

// Start は指定間隔のティッカーでスイーパーを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("スイーパーを開始しました",
		slog.Duration("interval", interval),
		slog.Duration("max_age", s.maxAge),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("掃除サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("スイーパーを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("掃除サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は1回の掃除サイクルを実行する。
// 期限超過リクエストをREJECTEDへ遷移させ、ユーザーへ通知する。
// 個々のリクエストの失敗はログに記録してサイクルを継続する。
func (s *Sweeper) RunOnce(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.maxAge)

	stale, err := s.requestRepo.ListStalePending(ctx, cutoff, staleBatchLimit)
	if err != nil {
		return fmt.Errorf("期限超過リクエストの取得に失敗しました: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	rejected := 0
	for _, req := range stale {
		details := req.Details
		if details == nil {
			details = &model.RequestDetails{}
		} else {
			copied := *details
			details = &copied
		}
		details.Error = rejectionMessage

		transitioned, err := s.requestRepo.Finalize(ctx, req.ID, model.RequestStatusRejected, details)
		if err != nil {
			s.logger.Error("期限超過リクエストの却下に失敗しました",
				slog.String("request_id", req.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !transitioned {
			// 掃除と並行して承認・却下が確定したケース
			continue
		}

		rejected++
		s.recorder.RecordStaleRequestRejected()
		s.notifier.NotifyUser(ctx, req.UserID, notification.Event{
			Type:      "request.expired",
			RequestID: req.ID,
			Status:    model.RequestStatusRejected,
		})
	}

	s.logger.Info("掃除サイクルが完了しました",
		slog.Int("stale", len(stale)),
		slog.Int("rejected", rejected),
	)
	return nil
}
