package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Darknighthub/Ghost-backend/internal/model"
)

// PostgresCardRequestRepo はPostgreSQLを使用したカード発行リクエストリポジトリ。
type PostgresCardRequestRepo struct {
	db *sql.DB
}

// NewPostgresCardRequestRepo はPostgresCardRequestRepoを生成する。
func NewPostgresCardRequestRepo(db *sql.DB) *PostgresCardRequestRepo {
	return &PostgresCardRequestRepo{db: db}
}

// Create はリクエストを作成する。
// detailsはJSONBとして保存する。nilの場合はNULLを保存する（不正リクエストの再現用）。
func (r *PostgresCardRequestRepo) Create(ctx context.Context, req *model.CardIssuanceRequest) error {
	detailsJSON, err := marshalDetails(req.Details)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO card_requests (id, user_id, type, details, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		req.ID, req.UserID, string(req.Type), detailsJSON, string(req.Status), req.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert card request: %w", err)
	}

	return nil
}

// FindByID は指定IDのリクエストを取得する。見つからない場合はnilを返す。
func (r *PostgresCardRequestRepo) FindByID(ctx context.Context, id string) (*model.CardIssuanceRequest, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, type, details, status, created_at
		 FROM card_requests WHERE id = $1`,
		id,
	)

	req, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find card request by ID: %w", err)
	}

	return req, nil
}

// ListPendingByUserID はユーザーのPENDINGリクエストを作成日時降順で返す。
func (r *PostgresCardRequestRepo) ListPendingByUserID(ctx context.Context, userID string) ([]*model.CardIssuanceRequest, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, type, details, status, created_at
		 FROM card_requests
		 WHERE user_id = $1 AND status = $2
		 ORDER BY created_at DESC`,
		userID, string(model.RequestStatusPending),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending requests: %w", err)
	}
	defer rows.Close()

	return collectRequests(rows)
}

// Finalize はリクエストを終端状態へ遷移させる。
// WHERE句でstatus = 'PENDING'をガードすることで終端状態の不変性を保証する。
// 既に終端状態の場合は更新されず、falseを返す。
func (r *PostgresCardRequestRepo) Finalize(ctx context.Context, id string, status model.RequestStatus, details *model.RequestDetails) (bool, error) {
	var result sql.Result
	var err error

	if details != nil {
		detailsJSON, merr := marshalDetails(details)
		if merr != nil {
			return false, merr
		}
		result, err = r.db.ExecContext(ctx,
			`UPDATE card_requests SET status = $2, details = $3
			 WHERE id = $1 AND status = $4`,
			id, string(status), detailsJSON, string(model.RequestStatusPending),
		)
	} else {
		result, err = r.db.ExecContext(ctx,
			`UPDATE card_requests SET status = $2
			 WHERE id = $1 AND status = $3`,
			id, string(status), string(model.RequestStatusPending),
		)
	}
	if err != nil {
		return false, fmt.Errorf("failed to finalize card request: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// ListStalePending は指定時刻より前に作成されたPENDINGリクエストを返す。
func (r *PostgresCardRequestRepo) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*model.CardIssuanceRequest, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, type, details, status, created_at
		 FROM card_requests
		 WHERE status = $1 AND created_at < $2
		 ORDER BY created_at ASC
		 LIMIT $3`,
		string(model.RequestStatusPending), olderThan, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale pending requests: %w", err)
	}
	defer rows.Close()

	return collectRequests(rows)
}

// rowScanner は*sql.Rowと*sql.Rowsの共通スキャンインターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRequest は1行をCardIssuanceRequestへスキャンする。
func scanRequest(row rowScanner) (*model.CardIssuanceRequest, error) {
	req := &model.CardIssuanceRequest{}
	var reqType, status string
	var detailsJSON []byte

	if err := row.Scan(&req.ID, &req.UserID, &reqType, &detailsJSON, &status, &req.CreatedAt); err != nil {
		return nil, err
	}

	req.Type = model.RequestType(reqType)
	req.Status = model.RequestStatus(status)

	if len(detailsJSON) > 0 {
		details := &model.RequestDetails{}
		if err := json.Unmarshal(detailsJSON, details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal request details: %w", err)
		}
		req.Details = details
	}

	return req, nil
}

// collectRequests は結果セット全体をスキャンする。
func collectRequests(rows *sql.Rows) ([]*model.CardIssuanceRequest, error) {
	var requests []*model.CardIssuanceRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card request: %w", err)
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate card requests: %w", err)
	}
	return requests, nil
}

// marshalDetails はdetailsをJSONBカラム用に変換する。nilはNULLとして保存する。
func marshalDetails(details *model.RequestDetails) ([]byte, error) {
	if details == nil {
		return nil, nil
	}
	data, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request details: %w", err)
	}
	return data, nil
}

// compile-time interface check
var _ CardRequestRepository = (*PostgresCardRequestRepo)(nil)
