// Package request はカード発行リクエストのライフサイクル管理を提供する。
//
// リクエストはPENDINGで作成され、承認または却下で終端状態
// （APPROVED / REJECTED）へ遷移する。終端状態は不変であり、
// ストア層のガード付きUPDATE（Finalize）で保証される。
// 承認時のプロバイダ連携は呼び出し元への応答後に非同期で実行される。
package request

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Darknighthub/Ghost-backend/internal/issuing"
	"github.com/Darknighthub/Ghost-backend/internal/model"
	"github.com/Darknighthub/Ghost-backend/internal/notification"
	"github.com/Darknighthub/Ghost-backend/internal/repository"
)

// デフォルトのリクエスト詳細。呼び出し側が省略した場合に補完される。
const (
	defaultSpendingLimit = 100
	defaultMerchant      = "General"
)

// ProviderGateway は発行プロバイダへの操作のうち、ライフサイクル処理が
// 必要とする部分のみを定義する。issuing.Clientが実装する。
type ProviderGateway interface {
	FindOrCreateCardholder(ctx context.Context, email string) (string, error)
	CreateCard(ctx context.Context, cardholderID string, spendingLimit int, merchantLock string, cardType model.CardType) (*issuing.ProviderCard, error)
	RetrieveSensitiveDetails(ctx context.Context, providerCardID string) (*issuing.SensitiveDetails, error)
}

// CardEncryptor はカード番号とCVVの保存時暗号化を行う。crypto.Cipherが実装する。
type CardEncryptor interface {
	Encrypt(plaintext string) (string, error)
}

// MerchantSanitizer は加盟店名入力のサニタイズを行う。
// security.InputSanitizerServiceが実装する。
type MerchantSanitizer interface {
	SanitizeMerchant(raw string) string
}

// Notifier は発行結果のプッシュ通知配信を行う。notification.NotifierServiceが実装する。
type Notifier interface {
	NotifyUser(ctx context.Context, userID string, event notification.Event)
}

// IssuanceRecorder は発行処理のメトリクス記録先。metrics.Collectorが実装する。
type IssuanceRecorder interface {
	RecordIssuanceSuccess()
	RecordIssuanceFailure(reason string)
	RecordProviderLatency(operation string, duration time.Duration)
}

// InitiateInput はリクエスト作成時の正規化前パラメータ。
// 呼び出し側はネストされたDetailsとトップレベルのフィールドの
// どちらの形でも指定でき、エンジン側で正規化する。
type InitiateInput struct {
	Type string

	// Details はネスト形式の詳細。nilは「未指定」を表す。
	Details *model.RequestDetails
	// DetailsNull は呼び出し側が明示的にdetails: nullを送った場合にtrue。
	// この場合は詳細なしのままリクエストが作成され、承認時に
	// プロバイダへ接続せずREJECTEDへ遷移する。
	DetailsNull bool

	// トップレベル形式のフィールド。Detailsが未指定の場合に使用される。
	Limit    *int
	Merchant string
	CardType string
}

// Service はカード発行リクエストのライフサイクルを管理するサービス層。
type Service struct {
	requestRepo repository.CardRequestRepository
	cardRepo    repository.VirtualCardRepository
	gateway     ProviderGateway
	encryptor   CardEncryptor
	sanitizer   MerchantSanitizer
	notifier    Notifier
	recorder    IssuanceRecorder
	logger      *slog.Logger

	// processTimeout は非同期の発行処理1件あたりの上限時間。
	processTimeout time.Duration

	// wg は実行中の非同期処理を追跡する。シャットダウン時にWaitで待機する。
	wg sync.WaitGroup

	// inFlight は発行処理中のリクエストID集合。同一リクエストへの並行承認が
	// 二重のプロバイダ連携を起こさないようにするためのクレームに使う。
	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	requestRepo repository.CardRequestRepository,
	cardRepo repository.VirtualCardRepository,
	gateway ProviderGateway,
	encryptor CardEncryptor,
	sanitizer MerchantSanitizer,
	notifier Notifier,
	recorder IssuanceRecorder,
	logger *slog.Logger,
	processTimeout time.Duration,
) *Service {
	return &Service{
		requestRepo:    requestRepo,
		cardRepo:       cardRepo,
		gateway:        gateway,
		encryptor:      encryptor,
		sanitizer:      sanitizer,
		notifier:       notifier,
		recorder:       recorder,
		logger:         logger,
		processTimeout: processTimeout,
		inFlight:       make(map[string]struct{}),
	}
}

// Initiate は新しい発行リクエストをPENDING状態で作成し、作成されたリクエストを返す。
// 詳細は正規化され、省略されたフィールドにはデフォルト値が補完される。
// 登録デバイスへの通知はベストエフォートで行い、失敗しても呼び出し元へは返さない。
func (s *Service) Initiate(ctx context.Context, user *model.User, input InitiateInput) (*model.CardIssuanceRequest, error) {
	reqType := model.RequestType(input.Type)
	if reqType == "" {
		reqType = model.RequestTypeCreateCard
	}

	req := &model.CardIssuanceRequest{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Type:      reqType,
		Details:   s.normalizeDetails(input),
		Status:    model.RequestStatusPending,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.requestRepo.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("発行リクエストの作成に失敗しました: %w", err)
	}

	s.logger.Info("発行リクエストを作成しました",
		slog.String("request_id", req.ID),
		slog.String("user_id", user.ID),
		slog.String("type", string(req.Type)),
	)

	s.notifier.NotifyUser(ctx, user.ID, notification.Event{
		Type:      "request.created",
		RequestID: req.ID,
		Status:    model.RequestStatusPending,
	})

	return req, nil
}

// normalizeDetails は入力をRequestDetailsへ正規化する。
// 明示的なnullはnilのまま保持し、それ以外はデフォルト値を補完する。
func (s *Service) normalizeDetails(input InitiateInput) *model.RequestDetails {
	if input.DetailsNull {
		return nil
	}

	details := model.RequestDetails{}
	if input.Details != nil {
		details = *input.Details
	} else {
		if input.Limit != nil {
			details.Limit = *input.Limit
		}
		details.Merchant = input.Merchant
		details.CardType = model.CardType(input.CardType)
	}

	if details.Limit <= 0 {
		details.Limit = defaultSpendingLimit
	}
	details.Merchant = s.sanitizer.SanitizeMerchant(details.Merchant)
	if details.Merchant == "" {
		details.Merchant = defaultMerchant
	}
	if details.CardType != model.CardTypeSingle && details.CardType != model.CardTypeSub {
		details.CardType = model.CardTypeSub
	}
	details.Error = ""

	return &details
}

// ListPending はユーザーのPENDINGリクエストを作成日時降順で返す。
func (s *Service) ListPending(ctx context.Context, userID string) ([]*model.CardIssuanceRequest, error) {
	requests, err := s.requestRepo.ListPendingByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("リクエスト一覧の取得に失敗しました: %w", err)
	}
	return requests, nil
}

// CheckStatus はリクエストの現在の状態を返す。
// リクエストIDが解決できない場合はUNKNOWNを返す（エラーにはしない）。
func (s *Service) CheckStatus(ctx context.Context, requestID string) (model.RequestStatus, error) {
	req, err := s.requestRepo.FindByID(ctx, requestID)
	if err != nil {
		return "", fmt.Errorf("リクエストの取得に失敗しました: %w", err)
	}
	if req == nil {
		return model.RequestStatusUnknown, nil
	}
	return req.Status, nil
}

// Reject はリクエストをREJECTEDへ遷移させる。
// すでにREJECTEDのリクエストへの再却下は無害なため冪等に成功する。
// APPROVEDのリクエストは発行済みカードが存在するため却下できず、
// REQUEST_FINALIZEDエラーを返す。存在しないリクエストIDにはエラーを返す。
func (s *Service) Reject(ctx context.Context, user *model.User, requestID string) error {
	if _, err := s.findOwnedRequest(ctx, user, requestID); err != nil {
		return err
	}

	transitioned, err := s.requestRepo.Finalize(ctx, requestID, model.RequestStatusRejected, nil)
	if err != nil {
		return fmt.Errorf("リクエストの却下に失敗しました: %w", err)
	}
	if !transitioned {
		// すでに終端状態。遷移後の状態で応答を分ける必要があるため再取得する
		// （初回取得時PENDINGでも並行する承認が先に確定している場合がある）。
		current, err := s.requestRepo.FindByID(ctx, requestID)
		if err != nil {
			return fmt.Errorf("リクエストの取得に失敗しました: %w", err)
		}
		if current != nil && current.Status == model.RequestStatusApproved {
			return model.NewRequestFinalizedError(requestID, current.Status)
		}
		s.logger.Info("却下済みリクエストへの再却下を無視しました",
			slog.String("request_id", requestID),
		)
		return nil
	}

	s.logger.Info("発行リクエストを却下しました",
		slog.String("request_id", requestID),
	)
	s.notifier.NotifyUser(ctx, user.ID, notification.Event{
		Type:      "request.rejected",
		RequestID: requestID,
		Status:    model.RequestStatusRejected,
	})
	return nil
}

// Approve はリクエストの承認を受け付ける。
// type == CREATE_CARD の場合、プロバイダ連携は非同期で実行され、
// 本メソッドは処理開始の受付後ただちに返る。呼び出し元はCheckStatusで
// 結果をポーリングする。それ以外のtypeはプロバイダ連携なしで
// 処理済みとして受け付けるのみで、状態遷移は行わない。
func (s *Service) Approve(ctx context.Context, user *model.User, requestID string) error {
	req, err := s.findOwnedRequest(ctx, user, requestID)
	if err != nil {
		return err
	}
	if req.Status != model.RequestStatusPending {
		return model.NewRequestFinalizedError(requestID, req.Status)
	}

	if req.Type != model.RequestTypeCreateCard {
		s.logger.Info("カード作成以外のリクエストを汎用承認しました",
			slog.String("request_id", requestID),
			slog.String("type", string(req.Type)),
		)
		return nil
	}

	// 同一リクエストへの並行承認はどちらもステータス検査を通過しうるため、
	// 発行処理の起動前にリクエストIDをクレームする。クレーム済みなら
	// すでに処理が走っているので、重複分は受付のみで返す。
	if !s.claimProcessing(req.ID) {
		s.logger.Info("発行処理中のリクエストへの重複承認を無視しました",
			slog.String("request_id", req.ID),
		)
		return nil
	}

	// 応答パスとプロバイダ連携パスを分離する。
	// 呼び出し元のリクエストコンテキストはすぐ破棄されるため、
	// 非同期処理は独立したコンテキストと上限時間で実行する。
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.releaseProcessing(req.ID)
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("発行処理がパニックしました",
					slog.String("request_id", req.ID),
					slog.Any("panic", r),
				)
			}
		}()

		detachedCtx, cancel := context.WithTimeout(context.Background(), s.processTimeout)
		defer cancel()

		s.processCardCreation(detachedCtx, user, req)
	}()

	return nil
}

// Wait は実行中の全非同期処理の完了を待つ。グレースフルシャットダウン用。
func (s *Service) Wait() {
	s.wg.Wait()
}

// claimProcessing はリクエストIDを処理中としてクレームする。
// すでにクレーム済みの場合はfalseを返す。
func (s *Service) claimProcessing(requestID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inFlight[requestID]; ok {
		return false
	}
	s.inFlight[requestID] = struct{}{}
	return true
}

// releaseProcessing はクレームを解放する。
func (s *Service) releaseProcessing(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, requestID)
}

// findOwnedRequest はリクエストを取得し、所有者を検証する。
// 他ユーザーのリクエストは存在しないものとして扱う。
func (s *Service) findOwnedRequest(ctx context.Context, user *model.User, requestID string) (*model.CardIssuanceRequest, error) {
	req, err := s.requestRepo.FindByID(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("リクエストの取得に失敗しました: %w", err)
	}
	if req == nil || req.UserID != user.ID {
		return nil, model.NewRequestNotFoundError(requestID)
	}
	return req, nil
}

// processCardCreation は承認されたカード作成リクエストの非同期処理本体。
//
// 処理順序は固定: カード保有者の解決 → カード作成 → 機微情報の取得 →
// 暗号化 → カード行の挿入 → リクエストのAPPROVED遷移。
// いずれかの段階で失敗した場合はREJECTEDへ遷移し、診断用のエラーメッセージを
// 詳細に記録する。部分的なカード行が残ることはない。
// カード行の挿入がAPPROVED遷移より先であるため、並行するステータスポーリングが
// カードなしのAPPROVEDを観測することはない。
func (s *Service) processCardCreation(ctx context.Context, user *model.User, req *model.CardIssuanceRequest) {
	if req.Details == nil {
		s.rejectWithError(ctx, user, req, "missing_details", "リクエスト詳細がないため処理できません")
		return
	}

	spendingLimit := req.Details.Limit
	if spendingLimit <= 0 {
		spendingLimit = defaultSpendingLimit
	}
	merchant := req.Details.Merchant
	if merchant == "" {
		merchant = defaultMerchant
	}
	cardType := req.Details.CardType
	if cardType != model.CardTypeSingle && cardType != model.CardTypeSub {
		cardType = model.CardTypeSub
	}

	start := time.Now()
	cardholderID, err := s.gateway.FindOrCreateCardholder(ctx, user.Email)
	s.recorder.RecordProviderLatency("find_or_create_cardholder", time.Since(start))
	if err != nil {
		s.rejectWithError(ctx, user, req, "provider_error", fmt.Sprintf("カード保有者の解決に失敗しました: %v", err))
		return
	}

	start = time.Now()
	providerCard, err := s.gateway.CreateCard(ctx, cardholderID, spendingLimit, merchant, cardType)
	s.recorder.RecordProviderLatency("create_card", time.Since(start))
	if err != nil {
		s.rejectWithError(ctx, user, req, "provider_error", fmt.Sprintf("カードの作成に失敗しました: %v", err))
		return
	}

	start = time.Now()
	sensitive, err := s.gateway.RetrieveSensitiveDetails(ctx, providerCard.ID)
	s.recorder.RecordProviderLatency("retrieve_sensitive_details", time.Since(start))
	if err != nil {
		s.rejectWithError(ctx, user, req, "provider_error", fmt.Sprintf("カード情報の取得に失敗しました: %v", err))
		return
	}

	encryptedNumber, err := s.encryptor.Encrypt(sensitive.Number)
	if err != nil {
		s.rejectWithError(ctx, user, req, "encryption_error", fmt.Sprintf("カード番号の暗号化に失敗しました: %v", err))
		return
	}
	encryptedCVV, err := s.encryptor.Encrypt(sensitive.CVC)
	if err != nil {
		s.rejectWithError(ctx, user, req, "encryption_error", fmt.Sprintf("CVVの暗号化に失敗しました: %v", err))
		return
	}

	card := &model.VirtualCard{
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
	if err := s.cardRepo.Create(ctx, card); err != nil {
		s.rejectWithError(ctx, user, req, "store_error", fmt.Sprintf("カードの保存に失敗しました: %v", err))
		return
	}

	transitioned, err := s.requestRepo.Finalize(ctx, req.ID, model.RequestStatusApproved, nil)
	if err != nil {
		s.logger.Error("承認遷移に失敗しました",
			slog.String("request_id", req.ID),
			slog.String("error", err.Error()),
		)
		s.recorder.RecordIssuanceFailure("store_error")
		return
	}
	if !transitioned {
		// 処理中にスイーパー等が先に終端化した。カード行は残るが
		// リクエスト状態が正となるため、ここでは記録のみ行う。
		s.logger.Warn("承認遷移が競合により適用されませんでした",
			slog.String("request_id", req.ID),
			slog.String("card_id", card.ID),
		)
		return
	}

	s.recorder.RecordIssuanceSuccess()
	s.logger.Info("カードを発行しました",
		slog.String("request_id", req.ID),
		slog.String("card_id", card.ID),
		slog.String("card_type", string(cardType)),
		slog.Bool("synthetic_pan", sensitive.Synthetic),
	)
	s.notifier.NotifyUser(ctx, user.ID, notification.Event{
		Type:      "request.approved",
		RequestID: req.ID,
		Status:    model.RequestStatusApproved,
	})
}

// rejectWithError はリクエストをREJECTEDへ遷移させ、診断用メッセージを記録する。
func (s *Service) rejectWithError(ctx context.Context, user *model.User, req *model.CardIssuanceRequest, reason, message string) {
	s.logger.Error("発行処理に失敗しました",
		slog.String("request_id", req.ID),
		slog.String("reason", reason),
		slog.String("message", message),
	)
	s.recorder.RecordIssuanceFailure(reason)

	details := model.RequestDetails{}
	if req.Details != nil {
		details = *req.Details
	}
	details.Error = message

	if _, err := s.requestRepo.Finalize(ctx, req.ID, model.RequestStatusRejected, &details); err != nil {
		s.logger.Error("却下遷移に失敗しました",
			slog.String("request_id", req.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	s.notifier.NotifyUser(ctx, user.ID, notification.Event{
		Type:      "request.rejected",
		RequestID: req.ID,
		Status:    model.RequestStatusRejected,
	})
}
