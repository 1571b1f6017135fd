// Package model はドメインモデルを定義する。
package model

import "time"

// Report は1件の供給不足レポートまたは販売中止レポートを表す。
// 外部レポートID（ReportID）で一意に識別される追記中心のレコード。
// statusと日付はそのレポートの最新フェッチの値をそのまま保持する。
// 終了済み（resolved/discontinued/reversed）のレポートもプロバイダが
// 修正することがあるため、構造的には更新を禁止しない。削除はされない。
type Report struct {
	ReportID int64   // 外部レポート識別子（イミュータブル・一意）
	Code     *string // 製品コードへのリンク。歴史的レコードの一部はコードを持たない

	Type   ReportType
	Status ReportStatus

	// 供給不足レポートのイベント日付
	AnticipatedStartDate *time.Time
	ActualStartDate      *time.Time
	EstimatedEndDate     *time.Time
	ActualEndDate        *time.Time

	// 販売中止レポートのイベント日付
	AnticipatedDiscontinuationDate *time.Time
	ActualDiscontinuationDate      *time.Time

	// メタデータフラグ
	IsCritical       bool // 重要度ティアフラグ
	LateSubmission   bool
	DecisionReversed bool

	Comments *string // サニタイズ済みの自由記述欄

	ProviderCreatedAt time.Time
	ProviderUpdatedAt time.Time // 増分同期の基準となる権威タイムスタンプ

	RawPayload []byte // プロバイダのペイロード全文（前方互換のため保持）

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ReportType はレポートの種別を表す。
type ReportType string

const (
	// ReportTypeShortage は供給不足レポート。
	ReportTypeShortage ReportType = "shortage"
	// ReportTypeDiscontinuation は販売中止レポート。
	ReportTypeDiscontinuation ReportType = "discontinuation"
)

// ReportStatus はレポートのライフサイクルステータスを表す。
// 供給不足は4状態、販売中止は3状態をとる。
type ReportStatus string

const (
	// ReportStatusAnticipatedShortage は供給不足の予告。
	ReportStatusAnticipatedShortage ReportStatus = "anticipated_shortage"
	// ReportStatusActiveConfirmed は確定した進行中の供給不足。
	ReportStatusActiveConfirmed ReportStatus = "active_confirmed"
	// ReportStatusAvoidedShortage は回避された供給不足。
	ReportStatusAvoidedShortage ReportStatus = "avoided_shortage"
	// ReportStatusResolved は解消済みの供給不足。
	ReportStatusResolved ReportStatus = "resolved"

	// ReportStatusToBeDiscontinued は予告された販売中止。
	ReportStatusToBeDiscontinued ReportStatus = "to_be_discontinued"
	// ReportStatusDiscontinued は確定した販売中止。
	ReportStatusDiscontinued ReportStatus = "discontinued"
	// ReportStatusReversed は撤回された販売中止決定。
	ReportStatusReversed ReportStatus = "reversed"
)
