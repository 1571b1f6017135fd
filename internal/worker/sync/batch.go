package sync

import (
	"context"
	"log/slog"
)

// BatchResult はバッチ分割アップサートの実行結果。
type BatchResult struct {
	// Upserted は正常にアップサートされたレコード数。
	Upserted int
	// SkippedBatches はリトライ後も失敗しスキップされたバッチ数。
	SkippedBatches int
	// SkippedRecords はスキップされたバッチに含まれていたレコード数。
	SkippedRecords int
}

// upsertInBatches はレコードを固定サイズのバッチに分割し、順にアップサートする。
// 各バッチは独立してコミットされるため、失敗が他バッチの結果を巻き戻すことはない。
// 失敗したバッチは1回だけ再試行し、それでも失敗した場合はスキップして続行する。
// スキップの発生は戻り値で報告され、同期全体を中断しない。
func upsertInBatches[T any](
	ctx context.Context,
	records []T,
	batchSize int,
	logger *slog.Logger,
	upsert func(ctx context.Context, batch []T) error,
) (BatchResult, error) {
	var result BatchResult

	for start := 0; start < len(records); start += batchSize {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]

		err := upsert(ctx, batch)
		if err != nil {
			logger.Warn("バッチのアップサートに失敗しました。再試行します",
				slog.Int("offset", start),
				slog.Int("batch_size", len(batch)),
				slog.String("error", err.Error()),
			)
			err = upsert(ctx, batch)
		}
		if err != nil {
			logger.Error("バッチのアップサートが再試行後も失敗しました。スキップします",
				slog.Int("offset", start),
				slog.Int("batch_size", len(batch)),
				slog.String("error", err.Error()),
			)
			result.SkippedBatches++
			result.SkippedRecords += len(batch)
			continue
		}

		result.Upserted += len(batch)
	}

	return result, nil
}
