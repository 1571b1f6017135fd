// Package reconcile はプロバイダネイティブのレコードを永続化エンティティの
// 形に対応付ける。フィールドマッピング、重複排除、保存前のサニタイズを行う。
// コンフリクト時のマージ規則自体はリポジトリ層のUPSERTが適用する。
package reconcile

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/medsync/internal/model"
	"github.com/hitoshi/medsync/internal/security"
)

// reportRecord はレポートプロバイダのネイティブレコード。
// フィールドマッピングはプロバイダ固有であり、上流の無断変更に備えて
// ペイロード全文はRawPayloadとして別途保持される。
type reportRecord struct {
	ID                             int64  `json:"id"`
	DIN                            string `json:"din"`
	Type                           string `json:"type"`
	Status                         string `json:"status"`
	AnticipatedStartDate           string `json:"anticipated_start_date"`
	ActualStartDate                string `json:"actual_start_date"`
	EstimatedEndDate               string `json:"estimated_end_date"`
	ActualEndDate                  string `json:"actual_end_date"`
	AnticipatedDiscontinuationDate string `json:"anticipated_discontinuation_date"`
	DiscontinuationDate            string `json:"discontinuation_date"`
	Tier3                          bool   `json:"tier_3"`
	LateSubmission                 bool   `json:"late_submission"`
	DecisionReversed               bool   `json:"decision_reversed"`
	Comments                       string `json:"comments"`
	CreatedDate                    string `json:"created_date"`
	UpdatedDate                    string `json:"updated_date"`
}

// validReportStatuses はプロバイダのステータス値からドメインの列挙値への対応。
var validReportStatuses = map[string]model.ReportStatus{
	"anticipated_shortage": model.ReportStatusAnticipatedShortage,
	"active_confirmed":     model.ReportStatusActiveConfirmed,
	"avoided_shortage":     model.ReportStatusAvoidedShortage,
	"resolved":             model.ReportStatusResolved,
	"to_be_discontinued":   model.ReportStatusToBeDiscontinued,
	"discontinued":         model.ReportStatusDiscontinued,
	"reversed":             model.ReportStatusReversed,
}

// ReportsResult はレポートマッピング1バッチの結果。
type ReportsResult struct {
	Reports    []*model.Report
	Duplicates int // 同一外部IDの重複として捨てられた件数
	Errors     int // パース・検証エラーで捨てられた件数
}

// ReportReconciler はレポートプロバイダのレコードを永続化形に対応付ける。
type ReportReconciler struct {
	sanitizer security.ContentSanitizerService
	logger    *slog.Logger
}

// NewReportReconciler はReportReconcilerの新しいインスタンスを生成する。
func NewReportReconciler(sanitizer security.ContentSanitizerService, logger *slog.Logger) *ReportReconciler {
	return &ReportReconciler{
		sanitizer: sanitizer,
		logger:    logger,
	}
}

// MapReports は生のレポートレコード群を永続化形に変換する。
// 同一の外部レポートIDが複数含まれる場合は最初の1件を採用し、
// 以降は捨てて件数をログに記録する（実運用で低頻度に観測される）。
// 個々のレコードのパース失敗はエラー件数として数え、バッチ全体は継続する。
func (r *ReportReconciler) MapReports(raws []json.RawMessage) *ReportsResult {
	result := &ReportsResult{
		Reports: make([]*model.Report, 0, len(raws)),
	}
	seen := make(map[int64]bool, len(raws))

	for _, raw := range raws {
		report, err := r.mapOne(raw)
		if err != nil {
			r.logger.Warn("レポートレコードのマッピングに失敗しました",
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}

		if seen[report.ReportID] {
			result.Duplicates++
			continue
		}
		seen[report.ReportID] = true

		result.Reports = append(result.Reports, report)
	}

	if result.Duplicates > 0 {
		r.logger.Info("重複レポートレコードを除外しました",
			slog.Int("duplicates", result.Duplicates),
		)
	}

	return result
}

// mapOne は1件の生レコードを永続化形に変換する。
func (r *ReportReconciler) mapOne(raw json.RawMessage) (*model.Report, error) {
	var rec reportRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("レポートレコードのパースに失敗: %w", err)
	}

	if rec.ID == 0 {
		return nil, fmt.Errorf("レポートレコードにIDがありません")
	}

	status, ok := validReportStatuses[rec.Status]
	if !ok {
		return nil, fmt.Errorf("未知のレポートステータスです: %q (id=%d)", rec.Status, rec.ID)
	}

	var reportType model.ReportType
	switch rec.Type {
	case "shortage":
		reportType = model.ReportTypeShortage
	case "discontinuation":
		reportType = model.ReportTypeDiscontinuation
	default:
		return nil, fmt.Errorf("未知のレポート種別です: %q (id=%d)", rec.Type, rec.ID)
	}

	createdAt, err := parseProviderTime(rec.CreatedDate)
	if err != nil {
		return nil, fmt.Errorf("created_dateのパースに失敗 (id=%d): %w", rec.ID, err)
	}
	updatedAt, err := parseProviderTime(rec.UpdatedDate)
	if err != nil {
		return nil, fmt.Errorf("updated_dateのパースに失敗 (id=%d): %w", rec.ID, err)
	}

	report := &model.Report{
		ReportID:          rec.ID,
		Code:              nonEmptyPtr(rec.DIN),
		Type:              reportType,
		Status:            status,
		IsCritical:        rec.Tier3,
		LateSubmission:    rec.LateSubmission,
		DecisionReversed:  rec.DecisionReversed,
		ProviderCreatedAt: createdAt,
		ProviderUpdatedAt: updatedAt,
		RawPayload:        raw,
	}

	report.AnticipatedStartDate = parseOptionalTime(rec.AnticipatedStartDate)
	report.ActualStartDate = parseOptionalTime(rec.ActualStartDate)
	report.EstimatedEndDate = parseOptionalTime(rec.EstimatedEndDate)
	report.ActualEndDate = parseOptionalTime(rec.ActualEndDate)
	report.AnticipatedDiscontinuationDate = parseOptionalTime(rec.AnticipatedDiscontinuationDate)
	report.ActualDiscontinuationDate = parseOptionalTime(rec.DiscontinuationDate)

	if comments := r.sanitizer.Sanitize(rec.Comments); comments != "" {
		report.Comments = &comments
	}

	return report, nil
}

// providerTimeLayouts はプロバイダが使用する日時フォーマットの候補。
var providerTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseProviderTime はプロバイダの日時文字列をパースする。空文字列はエラー。
func parseProviderTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("日時が空です")
	}
	for _, layout := range providerTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("日時のフォーマットを解釈できません: %q", s)
}

// parseOptionalTime は省略可能な日時文字列をパースする。空・不正な値はnilを返す。
func parseOptionalTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := parseProviderTime(s)
	if err != nil {
		return nil
	}
	return &t
}

// nonEmptyPtr は非空文字列のポインタを返す。空文字列はnilを返す。
func nonEmptyPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
