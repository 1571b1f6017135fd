package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/medsync/internal/model"
)

// PostgresReportRepo はPostgreSQLを使用したレポートリポジトリ。
type PostgresReportRepo struct {
	db *sql.DB
}

// NewPostgresReportRepo はPostgresReportRepoを生成する。
func NewPostgresReportRepo(db *sql.DB) *PostgresReportRepo {
	return &PostgresReportRepo{db: db}
}

// FindByReportID は指定外部レポートIDのレポートを取得する。見つからない場合はnilを返す。
func (r *PostgresReportRepo) FindByReportID(ctx context.Context, reportID int64) (*model.Report, error) {
	report := &model.Report{}
	var code, comments sql.NullString
	var antStart, actStart, estEnd, actEnd, antDisc, actDisc sql.NullTime

	err := r.db.QueryRowContext(ctx,
		`SELECT report_id, code, report_type, status,
		        anticipated_start_date, actual_start_date, estimated_end_date, actual_end_date,
		        anticipated_discontinuation_date, actual_discontinuation_date,
		        is_critical, late_submission, decision_reversed, comments,
		        provider_created_at, provider_updated_at, raw_payload, created_at, updated_at
		 FROM reports WHERE report_id = $1`,
		reportID,
	).Scan(
		&report.ReportID, &code, &report.Type, &report.Status,
		&antStart, &actStart, &estEnd, &actEnd,
		&antDisc, &actDisc,
		&report.IsCritical, &report.LateSubmission, &report.DecisionReversed, &comments,
		&report.ProviderCreatedAt, &report.ProviderUpdatedAt, &report.RawPayload,
		&report.CreatedAt, &report.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("レポートの取得に失敗しました: %w", err)
	}

	report.Code = nullStringPtr(code)
	report.Comments = nullStringPtr(comments)
	report.AnticipatedStartDate = nullTimePtr(antStart)
	report.ActualStartDate = nullTimePtr(actStart)
	report.EstimatedEndDate = nullTimePtr(estEnd)
	report.ActualEndDate = nullTimePtr(actEnd)
	report.AnticipatedDiscontinuationDate = nullTimePtr(antDisc)
	report.ActualDiscontinuationDate = nullTimePtr(actDisc)

	return report, nil
}

// UpsertBatch は1バッチ分のレポートを外部レポートIDをキーに冪等にUPSERTする。
// status・日付・フラグ・権威タイムスタンプ・生ペイロードは常に最新フェッチの値で
// 上書きされる（レポートはプロバイダが唯一の真実源であるため）。
// codeとcommentsのみNULL保護のマージを行う。
func (r *PostgresReportRepo) UpsertBatch(ctx context.Context, reports []*model.Report) error {
	if len(reports) == 0 {
		return nil
	}

	const cols = 18
	placeholders := make([]string, 0, len(reports))
	args := make([]interface{}, 0, len(reports)*cols)
	now := time.Now()

	for i, rep := range reports {
		base := i * cols
		ph := make([]string, cols)
		for j := range ph {
			ph[j] = fmt.Sprintf("$%d", base+j+1)
		}
		placeholders = append(placeholders, "("+strings.Join(ph, ", ")+")")
		args = append(args,
			rep.ReportID,
			ptrNullString(rep.Code),
			string(rep.Type),
			string(rep.Status),
			ptrNullTime(rep.AnticipatedStartDate),
			ptrNullTime(rep.ActualStartDate),
			ptrNullTime(rep.EstimatedEndDate),
			ptrNullTime(rep.ActualEndDate),
			ptrNullTime(rep.AnticipatedDiscontinuationDate),
			ptrNullTime(rep.ActualDiscontinuationDate),
			rep.IsCritical,
			rep.LateSubmission,
			rep.DecisionReversed,
			ptrNullString(rep.Comments),
			rep.ProviderCreatedAt,
			rep.ProviderUpdatedAt,
			rep.RawPayload,
			now,
		)
	}

	query := `INSERT INTO reports (
	    report_id, code, report_type, status,
	    anticipated_start_date, actual_start_date, estimated_end_date, actual_end_date,
	    anticipated_discontinuation_date, actual_discontinuation_date,
	    is_critical, late_submission, decision_reversed, comments,
	    provider_created_at, provider_updated_at, raw_payload, updated_at
	) VALUES ` + strings.Join(placeholders, ", ") + `
	ON CONFLICT (report_id) DO UPDATE SET
	    code                             = COALESCE(EXCLUDED.code, reports.code),
	    report_type                      = EXCLUDED.report_type,
	    status                           = EXCLUDED.status,
	    anticipated_start_date           = EXCLUDED.anticipated_start_date,
	    actual_start_date                = EXCLUDED.actual_start_date,
	    estimated_end_date               = EXCLUDED.estimated_end_date,
	    actual_end_date                  = EXCLUDED.actual_end_date,
	    anticipated_discontinuation_date = EXCLUDED.anticipated_discontinuation_date,
	    actual_discontinuation_date      = EXCLUDED.actual_discontinuation_date,
	    is_critical                      = EXCLUDED.is_critical,
	    late_submission                  = EXCLUDED.late_submission,
	    decision_reversed                = EXCLUDED.decision_reversed,
	    comments                         = COALESCE(EXCLUDED.comments, reports.comments),
	    provider_created_at              = EXCLUDED.provider_created_at,
	    provider_updated_at              = EXCLUDED.provider_updated_at,
	    raw_payload                      = EXCLUDED.raw_payload,
	    updated_at                       = EXCLUDED.updated_at`

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("レポートバッチのUPSERTに失敗しました: %w", err)
	}

	return nil
}

// ListStatusesByDrug はプロダクトコードを持つ全レポートのステータスを
// コードごとにグループ化して返す。
func (r *PostgresReportRepo) ListStatusesByDrug(ctx context.Context) (map[string][]model.ReportStatus, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT code, status FROM reports WHERE code IS NOT NULL`,
	)
	if err != nil {
		return nil, fmt.Errorf("レポートステータス一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]model.ReportStatus)
	for rows.Next() {
		var code string
		var status model.ReportStatus
		if err := rows.Scan(&code, &status); err != nil {
			return nil, fmt.Errorf("レポートステータスの読み取りに失敗しました: %w", err)
		}
		result[code] = append(result[code], status)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("レポートステータス一覧の走査に失敗しました: %w", err)
	}

	return result, nil
}

// nullTimePtr はsql.NullTimeを*time.Timeに変換する。
func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
