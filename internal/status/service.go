package status

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/medsync/internal/repository"
)

// updateBatchSize はステータス適用1バッチあたりの件数。
const updateBatchSize = 500

// Recomputer はストア全体に対するステータス再計算サービス。
// レポートのバッチUPSERT後に呼び出され、レポートを持つ全製品の
// current_statusとhas_reportsをセットベースで再計算する。
// 1製品の正しいステータスは直近に触れた1件ではなく全レポートに
// 依存するため、レポート単位の逐次更新は行わない。
type Recomputer struct {
	drugRepo   repository.DrugRepository
	reportRepo repository.ReportRepository
	logger     *slog.Logger
}

// NewRecomputer はRecomputerの新しいインスタンスを生成する。
func NewRecomputer(
	drugRepo repository.DrugRepository,
	reportRepo repository.ReportRepository,
	logger *slog.Logger,
) *Recomputer {
	return &Recomputer{
		drugRepo:   drugRepo,
		reportRepo: reportRepo,
		logger:     logger,
	}
}

// Recompute は全製品の現在ステータスを再計算して適用する。
// 手順:
//  1. コードを持つ全レポートのステータスをコードごとに取得する
//  2. 製品ごとにDeriveで導出し、バッチで適用する（変化した行のみ更新）
//  3. レポートを持たない製品をavailableに戻す
//  4. has_reportsフラグを同期する
//
// 戻り値は更新された行数の合計。同一入力で2回実行しても結果は変わらない（冪等）。
func (rc *Recomputer) Recompute(ctx context.Context) (int64, error) {
	start := time.Now()

	byDrug, err := rc.reportRepo.ListStatusesByDrug(ctx)
	if err != nil {
		return 0, fmt.Errorf("ステータス再計算の入力取得に失敗: %w", err)
	}

	updates := make([]repository.StatusUpdate, 0, len(byDrug))
	for code, statuses := range byDrug {
		updates = append(updates, repository.StatusUpdate{
			Code:   code,
			Status: Derive(statuses),
		})
	}

	var changed int64
	for i := 0; i < len(updates); i += updateBatchSize {
		end := i + updateBatchSize
		if end > len(updates) {
			end = len(updates)
		}
		n, err := rc.drugRepo.UpdateCurrentStatuses(ctx, updates[i:end])
		if err != nil {
			return changed, fmt.Errorf("ステータス再計算の適用に失敗: %w", err)
		}
		changed += n
	}

	reset, err := rc.drugRepo.ResetStatusesWithoutReports(ctx)
	if err != nil {
		return changed, fmt.Errorf("レポートなし製品のリセットに失敗: %w", err)
	}
	changed += reset

	flagged, err := rc.drugRepo.SyncHasReports(ctx)
	if err != nil {
		return changed, fmt.Errorf("has_reportsフラグの同期に失敗: %w", err)
	}

	rc.logger.Info("ステータス再計算が完了しました",
		slog.Int("drugs_with_reports", len(byDrug)),
		slog.Int64("status_changed", changed),
		slog.Int64("flags_changed", flagged),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return changed, nil
}
