// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/medsync/internal/model"
)

// StatusUpdate は1製品の現在ステータスの更新を表す。
type StatusUpdate struct {
	Code   string
	Status model.DrugStatus
}

// DrugRepository は医薬品カタログデータの永続化インターフェース。
type DrugRepository interface {
	// FindByCode は指定プロダクトコードの製品を取得する。見つからない場合はnilを返す。
	FindByCode(ctx context.Context, code string) (*model.Drug, error)

	// UpsertBatch は1バッチ分の製品を外部プロダクトコードをキーに冪等にUPSERTする。
	// NULL許容フィールドは新しい値が非NULLの場合のみ既存値を置き換える。
	// 権威フィールド（market_status, provider_updated_at）は無条件に上書きされる。
	// current_status・has_reportsはこの操作では変更しない（導出パスのみが書き込む）。
	UpsertBatch(ctx context.Context, drugs []*model.Drug) error

	// EnsureExist はまだ存在しないプロダクトコードに対してコードのみの
	// スタブ行を作成する。カタログ未収載の製品を参照するレポートでも
	// ステータス導出が行えるようにするためのもので、既存行は変更しない。
	// 新規作成された行数を返す。
	EnsureExist(ctx context.Context, codes []string) (int64, error)

	// UpdateCurrentStatuses はステータス導出結果を1バッチ分適用する。
	// 値が変化する行のみを更新し、更新行数を返す。
	UpdateCurrentStatuses(ctx context.Context, updates []StatusUpdate) (int64, error)

	// ResetStatusesWithoutReports はレポートを1件も持たない製品の
	// current_statusをavailableに戻し、更新行数を返す。
	ResetStatusesWithoutReports(ctx context.Context) (int64, error)

	// SyncHasReports は全製品のhas_reportsフラグをレポートの有無に
	// 一致させるセットベース更新を行い、更新行数を返す。
	SyncHasReports(ctx context.Context) (int64, error)

	// CountAll は製品の総数を返す。
	CountAll(ctx context.Context) (int, error)
}

// ReportRepository はレポートデータの永続化インターフェース。
type ReportRepository interface {
	// FindByReportID は指定外部レポートIDのレポートを取得する。見つからない場合はnilを返す。
	FindByReportID(ctx context.Context, reportID int64) (*model.Report, error)

	// UpsertBatch は1バッチ分のレポートを外部レポートIDをキーに冪等にUPSERTする。
	// status・日付・権威タイムスタンプは常に最新フェッチの値で上書きされる。
	// NULL許容の属性フィールドは新しい値が非NULLの場合のみ置き換える。
	UpsertBatch(ctx context.Context, reports []*model.Report) error

	// ListStatusesByDrug はプロダクトコードを持つ全レポートのステータスを
	// コードごとにグループ化して返す。ステータス導出の入力となる。
	ListStatusesByDrug(ctx context.Context) (map[string][]model.ReportStatus, error)
}

// SyncStateRepository は同期台帳の永続化インターフェース。
// すべての操作はソース名をキーとした冪等なUPSERTとして動作する。
type SyncStateRepository interface {
	// Find は指定ソースの台帳エントリを取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, source string) (*model.SyncState, error)

	// RecordAttempt は実行開始を記録する（last_attempt_atのみ進める）。
	RecordAttempt(ctx context.Context, source string, at time.Time) error

	// RecordSuccess は実行成功を記録する。last_success_atを進め、
	// last_errorをクリアし、consecutive_failuresを0に戻す。
	// fingerprintが非空の場合はcontent_fingerprintを更新する。
	// fullSyncがtrueの場合はlast_full_sync_atも進める。
	RecordSuccess(ctx context.Context, source string, at time.Time, fingerprint string, fullSync bool) error

	// RecordFailure は実行失敗を記録する。last_errorを設定し、
	// consecutive_failuresをインクリメントする。last_success_atは変更しない。
	RecordFailure(ctx context.Context, source string, at time.Time, errMsg string) error
}
