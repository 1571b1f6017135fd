// Package model はドメインモデルを定義する。
package model

import "time"

// 同期ソース名。sync_statesテーブルの主キーとして使用される。
const (
	// SourceReports はレポートプロバイダの同期ソース名。
	SourceReports = "reports-provider"
	// SourceCatalog はカタログプロバイダの同期ソース名。
	SourceCatalog = "catalog-provider"
)

// SyncState はソースごとの同期台帳エントリを表す。
// 成功・失敗を問わずすべての実行の終わりに更新されるため、
// データが実際に変化したかどうかとは独立に鮮度を測定できる。
type SyncState struct {
	Source              string // ソース名（主キー）
	LastSuccessAt       *time.Time
	LastAttemptAt       *time.Time
	LastError           string
	ConsecutiveFailures int
	ContentFingerprint  string // 変更検出用の最終既知フィンガープリント
	LastFullSyncAt      *time.Time
	UpdatedAt           time.Time
}
