package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/medsync/internal/metrics"
	"github.com/hitoshi/medsync/internal/model"
	"github.com/hitoshi/medsync/internal/provider"
	"github.com/hitoshi/medsync/internal/provider/reports"
	"github.com/hitoshi/medsync/internal/reconcile"
	"github.com/hitoshi/medsync/internal/repository"
	"github.com/hitoshi/medsync/internal/status"
)

// maxReportPages はリスティングのページネーションの安全上限。
// 上流のremainingフィールドが壊れていても無限ループに陥らないようにする。
const maxReportPages = 10000

// ReportsProvider はレポート同期ジョブが必要とするプロバイダインターフェース。
type ReportsProvider interface {
	// Login は資格情報をセッショントークンに交換する。
	Login(ctx context.Context) error
	// ListUpdatedSince はsince以降に更新されたレポートを1ページ取得する。
	ListUpdatedSince(ctx context.Context, since time.Time, offset int) (*reports.Page, error)
}

// ReportsJob はレポートプロバイダとの差分同期ジョブ。
// 前回成功時刻以降に更新されたレポートを取得し、UPSERT後に
// 全製品の現在ステータスを再導出する。
type ReportsJob struct {
	client        ReportsProvider
	reconciler    *reconcile.ReportReconciler
	reportRepo    repository.ReportRepository
	drugRepo      repository.DrugRepository
	syncStateRepo repository.SyncStateRepository
	recomputer    *status.Recomputer
	collector     metrics.MetricsCollector
	batchSize     int
}

// NewReportsJob はReportsJobの新しいインスタンスを生成する。
// batchSizeが0以下の場合はデフォルト値500を使用する。
func NewReportsJob(
	client ReportsProvider,
	reconciler *reconcile.ReportReconciler,
	reportRepo repository.ReportRepository,
	drugRepo repository.DrugRepository,
	syncStateRepo repository.SyncStateRepository,
	recomputer *status.Recomputer,
	collector metrics.MetricsCollector,
	batchSize int,
) *ReportsJob {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &ReportsJob{
		client:        client,
		reconciler:    reconciler,
		reportRepo:    reportRepo,
		drugRepo:      drugRepo,
		syncStateRepo: syncStateRepo,
		recomputer:    recomputer,
		collector:     collector,
		batchSize:     batchSize,
	}
}

// Name はジョブ名を返す。
func (j *ReportsJob) Name() string {
	return "reports-sync"
}

// Run はレポート同期を1回実行する。
// 実行開始と結果（成功・失敗とも）は同期台帳に記録される。
// ログイン失敗など同期全体の失敗は台帳のlast_errorに残り、
// last_success_atは進まないため、次回実行が同じウィンドウを再試行する。
func (j *ReportsJob) Run(ctx context.Context, logger *slog.Logger) error {
	start := time.Now()

	if err := j.syncStateRepo.RecordAttempt(ctx, model.SourceReports, start); err != nil {
		return fmt.Errorf("同期台帳への実行記録に失敗しました: %w", err)
	}

	err := j.run(ctx, logger, start)
	if err != nil {
		j.collector.RecordSyncFailure(model.SourceReports, failureReason(err))
		if recErr := j.syncStateRepo.RecordFailure(ctx, model.SourceReports, time.Now(), err.Error()); recErr != nil {
			logger.Error("同期台帳への失敗記録に失敗しました",
				slog.String("error", recErr.Error()),
			)
		}
		return err
	}

	j.collector.RecordSyncSuccess(model.SourceReports)
	j.collector.RecordSyncDuration(model.SourceReports, time.Since(start))
	return nil
}

func (j *ReportsJob) run(ctx context.Context, logger *slog.Logger, start time.Time) error {
	state, err := j.syncStateRepo.Find(ctx, model.SourceReports)
	if err != nil {
		return fmt.Errorf("同期台帳の読み取りに失敗しました: %w", err)
	}

	var lastSuccess *time.Time
	if state != nil {
		lastSuccess = state.LastSuccessAt
	}
	since := ReportsSince(lastSuccess)

	if since != nil {
		logger.Info("レポートの差分同期を開始します",
			slog.Time("since", *since),
		)
	} else {
		logger.Info("レポートの初回全件同期を開始します")
	}

	// 認証エラーはリトライせず即時失敗とする
	if err := j.client.Login(ctx); err != nil {
		if provider.IsAuthError(err) {
			return fmt.Errorf("レポートプロバイダの認証に失敗しました（資格情報を確認してください）: %w", err)
		}
		return err
	}

	raws, err := j.fetchAllPages(ctx, logger, since)
	if err != nil {
		return err
	}

	if len(raws) == 0 {
		logger.Info("更新されたレポートはありません")
		// 変化なしも正常な定常状態。台帳の成功時刻は進める
		return j.syncStateRepo.RecordSuccess(ctx, model.SourceReports, start, "", false)
	}

	mapped := j.reconciler.MapReports(raws)
	if mapped.Duplicates > 0 {
		j.collector.RecordDuplicatesDiscarded(mapped.Duplicates)
	}

	result, err := upsertInBatches(ctx, mapped.Reports, j.batchSize, logger,
		func(ctx context.Context, batch []*model.Report) error {
			return j.reportRepo.UpsertBatch(ctx, batch)
		})
	if err != nil {
		return fmt.Errorf("レポートのアップサートが中断されました: %w", err)
	}

	j.collector.RecordRecordsUpserted(model.SourceReports, result.Upserted)
	if result.SkippedBatches > 0 {
		j.collector.RecordBatchesSkipped(model.SourceReports, result.SkippedBatches)
	}

	// カタログ未収載の製品を参照するレポートにもスタブ行を用意する。
	// これがないと再導出のUPDATEが対象行を見つけられない
	stubs, err := j.ensureDrugStubs(ctx, mapped.Reports)
	if err != nil {
		return err
	}

	updated, err := j.recomputer.Recompute(ctx)
	if err != nil {
		return fmt.Errorf("ステータス再導出に失敗しました: %w", err)
	}

	logger.Info("レポート同期が完了しました",
		slog.Int("fetched", len(raws)),
		slog.Int("upserted", result.Upserted),
		slog.Int("duplicates", mapped.Duplicates),
		slog.Int("parse_errors", mapped.Errors),
		slog.Int("skipped_batches", result.SkippedBatches),
		slog.Int64("stub_drugs_created", stubs),
		slog.Int64("statuses_updated", updated),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return j.syncStateRepo.RecordSuccess(ctx, model.SourceReports, start, "", false)
}

// ensureDrugStubs はレポートが参照するプロダクトコードのうち、
// まだ製品行が存在しないものにスタブ行を作成する。
func (j *ReportsJob) ensureDrugStubs(ctx context.Context, reports []*model.Report) (int64, error) {
	seen := make(map[string]struct{})
	var codes []string
	for _, r := range reports {
		if r.Code == nil || *r.Code == "" {
			continue
		}
		if _, ok := seen[*r.Code]; ok {
			continue
		}
		seen[*r.Code] = struct{}{}
		codes = append(codes, *r.Code)
	}

	created, err := j.drugRepo.EnsureExist(ctx, codes)
	if err != nil {
		return 0, fmt.Errorf("スタブ製品の作成に失敗しました: %w", err)
	}
	return created, nil
}

// fetchAllPages はページネーションに従って全ページを取得する。
func (j *ReportsJob) fetchAllPages(ctx context.Context, logger *slog.Logger, since *time.Time) ([]json.RawMessage, error) {
	var sinceTime time.Time
	if since != nil {
		sinceTime = *since
	}

	var raws []json.RawMessage
	offset := 0

	for page := 0; page < maxReportPages; page++ {
		result, err := j.client.ListUpdatedSince(ctx, sinceTime, offset)
		if err != nil {
			return nil, err
		}

		for _, record := range result.Records {
			raws = append(raws, record.Raw)
		}

		logger.Debug("レポートのページを取得しました",
			slog.Int("offset", offset),
			slog.Int("fetched", result.Fetched),
			slog.Int("records", len(result.Records)),
			slog.Int("remaining", result.Remaining),
		)

		// 読み取り不能で破棄されたレコードも含めてオフセットを進める。
		// len(Records)で進めると破棄ページで打ち切られてしまう
		if result.Remaining <= 0 || result.Fetched == 0 {
			return raws, nil
		}
		offset += result.Fetched
	}

	return nil, fmt.Errorf("レポートのページネーションが上限（%dページ）を超えました", maxReportPages)
}

// failureReason はメトリクスのラベル用にエラーを粗い分類に落とす。
func failureReason(err error) string {
	if provider.IsAuthError(err) {
		return "auth"
	}
	var fe *provider.FetchError
	if errors.As(err, &fe) {
		return "fetch"
	}
	return "internal"
}
