package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hitoshi/medsync/internal/cache"
	"github.com/hitoshi/medsync/internal/metrics"
	"github.com/hitoshi/medsync/internal/model"
	"github.com/hitoshi/medsync/internal/provider/catalog"
	"github.com/hitoshi/medsync/internal/reconcile"
	"github.com/hitoshi/medsync/internal/repository"
	"github.com/hitoshi/medsync/internal/status"
)

// CatalogProvider はカタログ同期ジョブが必要とするプロバイダインターフェース。
type CatalogProvider interface {
	// Probe は一括リスティングの安価なフィンガープリントを取得する。
	Probe(ctx context.Context) (string, error)
	// ListProducts は一括リスティングの全製品と生スナップショットを返す。
	ListProducts(ctx context.Context) ([]catalog.Product, []byte, error)
	// FetchDetail は1製品の詳細サブリソースを取得する。
	FetchDetail(ctx context.Context, code string) (*catalog.Detail, error)
}

// CatalogJob はカタログプロバイダとのフルスキャン同期ジョブ。
// 安価なプローブで変更を検出し、変化がなければフェッチを省略する。
// フルスキャンは一括リスティングと製品ごとの詳細フェッチからなり、
// 詳細はディスクキャッシュに保存されるため中断後も再開できる。
type CatalogJob struct {
	client        CatalogProvider
	reconciler    *reconcile.CatalogReconciler
	drugRepo      repository.DrugRepository
	syncStateRepo repository.SyncStateRepository
	recomputer    *status.Recomputer
	store         *cache.Store
	collector     metrics.MetricsCollector
	batchSize     int
	concurrency   int
	force         bool
}

// NewCatalogJob はCatalogJobの新しいインスタンスを生成する。
// batchSizeが0以下の場合は500、concurrencyが0以下の場合は20を使用する。
func NewCatalogJob(
	client CatalogProvider,
	reconciler *reconcile.CatalogReconciler,
	drugRepo repository.DrugRepository,
	syncStateRepo repository.SyncStateRepository,
	recomputer *status.Recomputer,
	store *cache.Store,
	collector metrics.MetricsCollector,
	batchSize int,
	concurrency int,
) *CatalogJob {
	if batchSize <= 0 {
		batchSize = 500
	}
	if concurrency <= 0 {
		concurrency = 20
	}
	return &CatalogJob{
		client:        client,
		reconciler:    reconciler,
		drugRepo:      drugRepo,
		syncStateRepo: syncStateRepo,
		recomputer:    recomputer,
		store:         store,
		collector:     collector,
		batchSize:     batchSize,
		concurrency:   concurrency,
	}
}

// Name はジョブ名を返す。
func (j *CatalogJob) Name() string {
	return "catalog-sync"
}

// SetForce は次回実行で変更検出を無視してフルスキャンを強制する。
// 手動トリガー用で、実行ごとにリセットされる。
func (j *CatalogJob) SetForce(force bool) {
	j.force = force
}

// Run はカタログ同期を1回実行する。
// スキップ判定になった場合は台帳のlast_attempt_atのみを進め、成功扱いにはしない。
func (j *CatalogJob) Run(ctx context.Context, logger *slog.Logger) error {
	start := time.Now()
	force := j.force
	j.force = false

	if err := j.syncStateRepo.RecordAttempt(ctx, model.SourceCatalog, start); err != nil {
		return fmt.Errorf("同期台帳への実行記録に失敗しました: %w", err)
	}

	err := j.run(ctx, logger, start, force)
	if err != nil {
		j.collector.RecordSyncFailure(model.SourceCatalog, failureReason(err))
		if recErr := j.syncStateRepo.RecordFailure(ctx, model.SourceCatalog, time.Now(), err.Error()); recErr != nil {
			logger.Error("同期台帳への失敗記録に失敗しました",
				slog.String("error", recErr.Error()),
			)
		}
		return err
	}

	return nil
}

func (j *CatalogJob) run(ctx context.Context, logger *slog.Logger, start time.Time, force bool) error {
	// プローブ失敗は変化ありとみなして続行する
	fingerprint, err := j.client.Probe(ctx)
	if err != nil {
		logger.Warn("カタログのプローブに失敗しました。フルスキャンを実行します",
			slog.String("error", err.Error()),
		)
		fingerprint = ""
	}

	lastFingerprint, err := j.store.Fingerprint()
	if err != nil {
		return fmt.Errorf("保存済みフィンガープリントの読み取りに失敗しました: %w", err)
	}

	state, err := j.syncStateRepo.Find(ctx, model.SourceCatalog)
	if err != nil {
		return fmt.Errorf("同期台帳の読み取りに失敗しました: %w", err)
	}
	var lastFullSync *time.Time
	if state != nil {
		lastFullSync = state.LastFullSyncAt
	}

	decision := DecideCatalogSync(fingerprint, lastFingerprint, lastFullSync, force, start)
	if !decision.FullSync {
		logger.Info("カタログに変化がないためスキップします",
			slog.String("fingerprint", fingerprint),
		)
		j.collector.RecordSyncSkipped(model.SourceCatalog)
		return nil
	}

	logger.Info("カタログのフルスキャンを開始します",
		slog.String("reason", decision.Reason),
	)

	products, listingRaw, err := j.client.ListProducts(ctx)
	if err != nil {
		return fmt.Errorf("カタログ一覧の取得に失敗しました: %w", err)
	}
	if err := j.store.PutListing(listingRaw); err != nil {
		return err
	}

	logger.Info("カタログ一覧を取得しました",
		slog.Int("products", len(products)),
	)

	details, fetchErrors, err := j.collectDetails(ctx, logger, products)
	if err != nil {
		return err
	}

	mapped := j.reconciler.MapProducts(products, details)
	if mapped.Duplicates > 0 {
		j.collector.RecordDuplicatesDiscarded(mapped.Duplicates)
	}

	result, err := upsertInBatches(ctx, mapped.Drugs, j.batchSize, logger,
		func(ctx context.Context, batch []*model.Drug) error {
			return j.drugRepo.UpsertBatch(ctx, batch)
		})
	if err != nil {
		return fmt.Errorf("カタログのアップサートが中断されました: %w", err)
	}

	j.collector.RecordRecordsUpserted(model.SourceCatalog, result.Upserted)
	if result.SkippedBatches > 0 {
		j.collector.RecordBatchesSkipped(model.SourceCatalog, result.SkippedBatches)
	}

	updated, err := j.recomputer.Recompute(ctx)
	if err != nil {
		return fmt.Errorf("ステータス再導出に失敗しました: %w", err)
	}

	// フィンガープリントの保存は全工程成功後。途中失敗時は次回も変化ありと判定される
	if fingerprint != "" {
		if err := j.store.SetFingerprint(fingerprint); err != nil {
			return err
		}
	}

	duration := time.Since(start)
	logger.Info("カタログ同期が完了しました",
		slog.Int("products", len(products)),
		slog.Int("upserted", result.Upserted),
		slog.Int("detail_fetch_errors", fetchErrors),
		slog.Int("duplicates", mapped.Duplicates),
		slog.Int("map_errors", mapped.Errors),
		slog.Int("skipped_batches", result.SkippedBatches),
		slog.Int64("statuses_updated", updated),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	j.collector.RecordSyncSuccess(model.SourceCatalog)
	j.collector.RecordSyncDuration(model.SourceCatalog, duration)

	return j.syncStateRepo.RecordSuccess(ctx, model.SourceCatalog, start, fingerprint, true)
}

// collectDetails は全製品の詳細を収集する。キャッシュ済みの製品はフェッチせず、
// 未取得分のみをsemaphoreパターンの並列制御で上流から取得する。
// 取得した詳細は即座にキャッシュへ書かれるため、中断後の再実行は
// 残りの製品からフェッチを再開する。
// 個々のフェッチ失敗はエラー件数として数え、収集全体は継続する。
func (j *CatalogJob) collectDetails(ctx context.Context, logger *slog.Logger, products []catalog.Product) (map[string]*catalog.Detail, int, error) {
	details := make(map[string]*catalog.Detail, len(products))

	cached, err := j.store.LoadDetails()
	if err != nil {
		return nil, 0, err
	}

	var pending []string
	for _, p := range products {
		if p.Code == "" {
			continue
		}
		if raw, ok := cached[p.Code]; ok {
			var detail catalog.Detail
			if err := json.Unmarshal(raw, &detail); err != nil {
				// 壊れたキャッシュエントリは再フェッチ対象に戻す
				logger.Warn("キャッシュ済み詳細の読み取りに失敗しました。再取得します",
					slog.String("code", p.Code),
					slog.String("error", err.Error()),
				)
				pending = append(pending, p.Code)
				continue
			}
			details[p.Code] = &detail
			continue
		}
		pending = append(pending, p.Code)
	}

	logger.Info("製品詳細の収集を開始します",
		slog.Int("cached", len(details)),
		slog.Int("pending", len(pending)),
	)

	// semaphoreパターンで並列数を制御
	sem := make(chan struct{}, j.concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var fetchErrors atomic.Int64

	for _, code := range pending {
		if err := ctx.Err(); err != nil {
			break
		}

		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(code string) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			detail, err := j.client.FetchDetail(ctx, code)
			if err != nil {
				fetchErrors.Add(1)
				logger.Warn("製品詳細の取得に失敗しました",
					slog.String("code", code),
					slog.String("error", err.Error()),
				)
				return
			}

			if raw, err := json.Marshal(detail); err == nil {
				if err := j.store.PutDetail(code, raw); err != nil {
					logger.Warn("製品詳細のキャッシュ保存に失敗しました",
						slog.String("code", code),
						slog.String("error", err.Error()),
					)
				}
			}

			mu.Lock()
			details[code] = detail
			mu.Unlock()
		}(code)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, int(fetchErrors.Load()), err
	}

	return details, int(fetchErrors.Load()), nil
}
