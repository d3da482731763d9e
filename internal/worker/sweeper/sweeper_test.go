package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Darknighthub/Ghost-backend/internal/model"
	"github.com/Darknighthub/Ghost-backend/internal/notification"
)

// mockRequestRepo はCardRequestRepositoryのモック実装。
type mockRequestRepo struct {
	mu        sync.Mutex
	stale     []*model.CardIssuanceRequest
	listErr   error
	finalized map[string]*model.RequestDetails
	// finalizeResult は各リクエストIDのFinalize戻り値。未指定はtrue。
	finalizeResult map[string]bool
	finalizeErr    map[string]error
}

func newMockRequestRepo() *mockRequestRepo {
	return &mockRequestRepo{
		finalized:      make(map[string]*model.RequestDetails),
		finalizeResult: make(map[string]bool),
		finalizeErr:    make(map[string]error),
	}
}

func (m *mockRequestRepo) Create(_ context.Context, _ *model.CardIssuanceRequest) error {
	return nil
}

func (m *mockRequestRepo) FindByID(_ context.Context, _ string) (*model.CardIssuanceRequest, error) {
	return nil, nil
}

func (m *mockRequestRepo) ListPendingByUserID(_ context.Context, _ string) ([]*model.CardIssuanceRequest, error) {
	return nil, nil
}

func (m *mockRequestRepo) Finalize(_ context.Context, id string, status model.RequestStatus, details *model.RequestDetails) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.finalizeErr[id]; err != nil {
		return false, err
	}
	if result, ok := m.finalizeResult[id]; ok && !result {
		return false, nil
	}
	if status != model.RequestStatusRejected {
		return false, nil
	}
	m.finalized[id] = details
	return true, nil
}

func (m *mockRequestRepo) ListStalePending(_ context.Context, _ time.Time, _ int) ([]*model.CardIssuanceRequest, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.stale, nil
}

// mockNotifier はNotifierServiceのモック実装。
type mockNotifier struct {
	mu     sync.Mutex
	events []notification.Event
}

func (m *mockNotifier) NotifyUser(_ context.Context, _ string, event notification.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

// mockSweepRecorder はSweepRecorderのモック実装。
type mockSweepRecorder struct {
	count int
}

func (m *mockSweepRecorder) RecordStaleRequestRejected() {
	m.count++
}

func staleRequest(id string) *model.CardIssuanceRequest {
	return &model.CardIssuanceRequest{
		ID:        id,
		UserID:    "user-1",
		Type:      model.RequestTypeCreateCard,
		Status:    model.RequestStatusPending,
		Details:   &model.RequestDetails{Limit: 50, Merchant: "Netflix", CardType: model.CardTypeSingle},
		CreatedAt: time.Now().UTC().Add(-48 * time.Hour),
	}
}

func TestSweeper_RunOnce_RejectsStaleRequests(t *testing.T) {
	repo := newMockRequestRepo()
	repo.stale = []*model.CardIssuanceRequest{staleRequest("req-1"), staleRequest("req-2")}
	notifier := &mockNotifier{}
	recorder := &mockSweepRecorder{}
	s := NewSweeper(repo, notifier, recorder, slog.Default(), 24*time.Hour)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if len(repo.finalized) != 2 {
		t.Fatalf("却下件数: got %d, want 2", len(repo.finalized))
	}
	details := repo.finalized["req-1"]
	if details == nil || details.Error != rejectionMessage {
		t.Errorf("診断メッセージが記録されていない: %+v", details)
	}
	// 元のdetailsの内容は保持される
	if details.Merchant != "Netflix" || details.Limit != 50 {
		t.Errorf("details本体が失われている: %+v", details)
	}
	if recorder.count != 2 {
		t.Errorf("メトリクス記録回数: got %d, want 2", recorder.count)
	}
	if len(notifier.events) != 2 {
		t.Fatalf("通知件数: got %d, want 2", len(notifier.events))
	}
	if notifier.events[0].Type != "request.expired" || notifier.events[0].Status != model.RequestStatusRejected {
		t.Errorf("通知イベント: %+v", notifier.events[0])
	}
}

func TestSweeper_RunOnce_NoStaleRequests(t *testing.T) {
	repo := newMockRequestRepo()
	notifier := &mockNotifier{}
	recorder := &mockSweepRecorder{}
	s := NewSweeper(repo, notifier, recorder, slog.Default(), 24*time.Hour)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if recorder.count != 0 || len(notifier.events) != 0 {
		t.Error("対象がない場合は何も記録されるべきではない")
	}
}

func TestSweeper_RunOnce_SkipsConcurrentlyFinalized(t *testing.T) {
	// 掃除と並行してAPI側で確定したリクエストは二重処理しない
	repo := newMockRequestRepo()
	repo.stale = []*model.CardIssuanceRequest{staleRequest("req-1"), staleRequest("req-2")}
	repo.finalizeResult["req-1"] = false
	notifier := &mockNotifier{}
	recorder := &mockSweepRecorder{}
	s := NewSweeper(repo, notifier, recorder, slog.Default(), 24*time.Hour)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if recorder.count != 1 {
		t.Errorf("メトリクス記録回数: got %d, want 1", recorder.count)
	}
	if len(notifier.events) != 1 {
		t.Errorf("通知件数: got %d, want 1", len(notifier.events))
	}
}

func TestSweeper_RunOnce_ContinuesAfterFinalizeError(t *testing.T) {
	repo := newMockRequestRepo()
	repo.stale = []*model.CardIssuanceRequest{staleRequest("req-1"), staleRequest("req-2")}
	repo.finalizeErr["req-1"] = errors.New("db down")
	notifier := &mockNotifier{}
	recorder := &mockSweepRecorder{}
	s := NewSweeper(repo, notifier, recorder, slog.Default(), 24*time.Hour)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("個別の失敗はサイクル全体を失敗させるべきではない: %v", err)
	}
	if recorder.count != 1 {
		t.Errorf("メトリクス記録回数: got %d, want 1", recorder.count)
	}
}

func TestSweeper_RunOnce_ListError(t *testing.T) {
	repo := newMockRequestRepo()
	repo.listErr = errors.New("db down")
	s := NewSweeper(repo, &mockNotifier{}, &mockSweepRecorder{}, slog.Default(), 24*time.Hour)

	if err := s.RunOnce(context.Background()); err == nil {
		t.Error("取得失敗はエラーとして返すべき")
	}
}

func TestSweeper_RunOnce_NilDetails(t *testing.T) {
	// detailsがnilのままのリクエストでも診断メッセージ付きで却下できる
	repo := newMockRequestRepo()
	req := staleRequest("req-1")
	req.Details = nil
	repo.stale = []*model.CardIssuanceRequest{req}
	s := NewSweeper(repo, &mockNotifier{}, &mockSweepRecorder{}, slog.Default(), 24*time.Hour)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	details := repo.finalized["req-1"]
	if details == nil || details.Error != rejectionMessage {
		t.Errorf("診断メッセージが記録されていない: %+v", details)
	}
}
