package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/medsync/internal/model"
)

// PostgresSyncStateRepo はPostgreSQLを使用した同期台帳リポジトリ。
// すべての書き込みはソース名をキーとした冪等なUPSERTで行われる。
type PostgresSyncStateRepo struct {
	db *sql.DB
}

// NewPostgresSyncStateRepo はPostgresSyncStateRepoを生成する。
func NewPostgresSyncStateRepo(db *sql.DB) *PostgresSyncStateRepo {
	return &PostgresSyncStateRepo{db: db}
}

// Find は指定ソースの台帳エントリを取得する。見つからない場合はnilを返す。
func (r *PostgresSyncStateRepo) Find(ctx context.Context, source string) (*model.SyncState, error) {
	state := &model.SyncState{}
	var lastSuccess, lastAttempt, lastFull sql.NullTime
	var lastError sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT source, last_success_at, last_attempt_at, last_error,
		        consecutive_failures, content_fingerprint, last_full_sync_at, updated_at
		 FROM sync_states WHERE source = $1`,
		source,
	).Scan(
		&state.Source, &lastSuccess, &lastAttempt, &lastError,
		&state.ConsecutiveFailures, &state.ContentFingerprint, &lastFull, &state.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("同期台帳の取得に失敗しました: %w", err)
	}

	if lastSuccess.Valid {
		state.LastSuccessAt = &lastSuccess.Time
	}
	if lastAttempt.Valid {
		state.LastAttemptAt = &lastAttempt.Time
	}
	if lastFull.Valid {
		state.LastFullSyncAt = &lastFull.Time
	}
	if lastError.Valid {
		state.LastError = lastError.String
	}

	return state, nil
}

// RecordAttempt は実行開始を記録する。last_attempt_atのみ進める。
// スキップされた実行でも呼ばれるため、鮮度の監視はこのタイムスタンプに依存できる。
func (r *PostgresSyncStateRepo) RecordAttempt(ctx context.Context, source string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sync_states (source, last_attempt_at, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (source) DO UPDATE SET
		     last_attempt_at = EXCLUDED.last_attempt_at,
		     updated_at      = now()`,
		source, at,
	)
	if err != nil {
		return fmt.Errorf("同期台帳への試行記録に失敗しました: %w", err)
	}
	return nil
}

// RecordSuccess は実行成功を記録する。
func (r *PostgresSyncStateRepo) RecordSuccess(ctx context.Context, source string, at time.Time, fingerprint string, fullSync bool) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sync_states (
		     source, last_success_at, last_attempt_at, last_error,
		     consecutive_failures, content_fingerprint, last_full_sync_at, updated_at
		 ) VALUES ($1, $2, $2, '', 0, $3, CASE WHEN $4 THEN $2 ELSE NULL END, now())
		 ON CONFLICT (source) DO UPDATE SET
		     last_success_at      = EXCLUDED.last_success_at,
		     last_attempt_at      = EXCLUDED.last_attempt_at,
		     last_error           = '',
		     consecutive_failures = 0,
		     content_fingerprint  = CASE WHEN $3 <> '' THEN $3 ELSE sync_states.content_fingerprint END,
		     last_full_sync_at    = CASE WHEN $4 THEN EXCLUDED.last_success_at ELSE sync_states.last_full_sync_at END,
		     updated_at           = now()`,
		source, at, fingerprint, fullSync,
	)
	if err != nil {
		return fmt.Errorf("同期台帳への成功記録に失敗しました: %w", err)
	}
	return nil
}

// RecordFailure は実行失敗を記録する。last_success_atは変更しない。
func (r *PostgresSyncStateRepo) RecordFailure(ctx context.Context, source string, at time.Time, errMsg string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sync_states (
		     source, last_attempt_at, last_error, consecutive_failures, updated_at
		 ) VALUES ($1, $2, $3, 1, now())
		 ON CONFLICT (source) DO UPDATE SET
		     last_attempt_at      = EXCLUDED.last_attempt_at,
		     last_error           = EXCLUDED.last_error,
		     consecutive_failures = sync_states.consecutive_failures + 1,
		     updated_at           = now()`,
		source, at, errMsg,
	)
	if err != nil {
		return fmt.Errorf("同期台帳への失敗記録に失敗しました: %w", err)
	}
	return nil
}
