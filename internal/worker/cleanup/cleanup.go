// Package cleanup はディスクキャッシュの自動メンテナンスジョブを提供する。
// badgerは削除・上書きされた値をバリューログに残すため、
// 日次バッチでガベージコレクションを実行してディスク使用量を回収する。
package cleanup

import (
	"context"
	"log/slog"
	"time"
)

// CacheGC はガベージコレクションを実行するインターフェース。
// cache.Storeを受け付けることができる。
type CacheGC interface {
	RunGC() (int, error)
}

// CleanupJob はディスクキャッシュの自動メンテナンスジョブ。
// 日次実行のバッチジョブとして設計されており、冪等に動作する。
type CleanupJob struct {
	store  CacheGC
	logger *slog.Logger
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(store CacheGC, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		store:  store,
		logger: logger,
	}
}

// Name はジョブ名を返す。
func (j *CleanupJob) Name() string {
	return "cache-maintenance"
}

// Run はキャッシュストアのガベージコレクションを実行する。
// 回収対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context, logger *slog.Logger) error {
	if logger == nil {
		logger = j.logger
	}
	start := time.Now()

	reclaimed, err := j.store.RunGC()
	if err != nil {
		logger.Error("キャッシュメンテナンスジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return err
	}

	logger.Info("キャッシュメンテナンスジョブが完了しました",
		slog.Int("reclaimed_files", reclaimed),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}
