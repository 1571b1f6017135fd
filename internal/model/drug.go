// Package model はドメインモデルを定義する。
package model

import "time"

// Drug は医薬品カタログの1製品を表す。
// 外部プロダクトコード（Code）で一意に識別され、カタログプロバイダと
// レポートプロバイダの両方から属性がマージされる。
// 一度作成された製品は削除されない（フィードからの消失は削除の根拠としない）。
type Drug struct {
	Code              string // 外部プロダクトコード（イミュータブル・一意）
	BrandNameEn       *string
	BrandNameFr       *string
	Ingredients       *string
	Strength          *string
	DosageForm        *string
	Route             *string
	ATCCode           *string
	Company           *string
	MarketStatus      *string // 権威フィールド: プロバイダの値で常に上書きされる
	CurrentStatus     DrugStatus
	HasReports        bool
	ProviderUpdatedAt *time.Time // 権威フィールド: カタログプロバイダ報告の最終更新日時
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// DrugStatus は製品の現在ステータスを表す。
// ステータス導出エンジンの出力であり、上流データから直接書き込まれることはない。
type DrugStatus string

const (
	// DrugStatusAvailable は影響中のレポートが存在しない状態。
	DrugStatusAvailable DrugStatus = "available"
	// DrugStatusInShortage は確定した供給不足が進行中の状態。
	DrugStatusInShortage DrugStatus = "in_shortage"
	// DrugStatusAnticipated は供給不足が予告されている状態。
	DrugStatusAnticipated DrugStatus = "anticipated"
	// DrugStatusToBeDiscontinued は販売中止が予告されている状態。
	DrugStatusToBeDiscontinued DrugStatus = "to_be_discontinued"
	// DrugStatusDiscontinued は販売中止が確定した状態。
	DrugStatusDiscontinued DrugStatus = "discontinued"
)
