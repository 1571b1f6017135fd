// Package sync は上流プロバイダとの同期ジョブを提供する。
// 報告同期ジョブ、カタログ同期ジョブ、スケジューラ、変更検出を含む。
package sync

import (
	"time"
)

// fullSyncMaxAge はカタログのフルスキャンを強制するまでの最大経過時間。
// フィンガープリントが変化しなくても、最終フルスキャンからこの期間を
// 超えた場合は取りこぼし防止のためフルスキャンを行う。
const fullSyncMaxAge = 30 * 24 * time.Hour

// CatalogDecision はカタログ同期の実行判断。
type CatalogDecision struct {
	// FullSync はフルスキャンを実行すべきかどうか。
	FullSync bool
	// Reason は判断理由（ログ出力用）。
	Reason string
}

// DecideCatalogSync はカタログ同期を実行すべきか判断する純粋関数。
// スキップ条件: フィンガープリントが前回と一致し、かつ最終フルスキャンが
// 1ヶ月以内で、かつ強制実行でない場合のみ。
// フィンガープリントが取得できなかった場合（空文字列）は変化ありとみなす。
func DecideCatalogSync(fingerprint, lastFingerprint string, lastFullSync *time.Time, force bool, now time.Time) CatalogDecision {
	if force {
		return CatalogDecision{FullSync: true, Reason: "forced"}
	}
	if fingerprint == "" || lastFingerprint == "" {
		return CatalogDecision{FullSync: true, Reason: "fingerprint_unavailable"}
	}
	if fingerprint != lastFingerprint {
		return CatalogDecision{FullSync: true, Reason: "fingerprint_changed"}
	}
	if lastFullSync == nil {
		return CatalogDecision{FullSync: true, Reason: "never_synced"}
	}
	if now.Sub(*lastFullSync) >= fullSyncMaxAge {
		return CatalogDecision{FullSync: true, Reason: "full_sync_stale"}
	}
	return CatalogDecision{FullSync: false, Reason: "unchanged"}
}

// reportsOverlap は報告の差分取得ウィンドウに持たせる重複マージン。
// 上流の更新日時とレジャーの記録時刻のずれによる取りこぼしを防ぐ。
const reportsOverlap = 5 * time.Minute

// ReportsSince は報告の差分取得の起点時刻を返す。
// 過去に成功した同期がない場合はnilを返し、全件取得を意味する。
func ReportsSince(lastSuccess *time.Time) *time.Time {
	if lastSuccess == nil {
		return nil
	}
	since := lastSuccess.Add(-reportsOverlap)
	return &since
}
