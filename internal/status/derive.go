// Package status は製品の現在ステータスの導出を提供する。
// レポート群からの純粋な導出関数と、ストア全体に対する
// セットベースの再計算サービスを含む。
package status

import "github.com/hitoshi/medsync/internal/model"

// priority は現在ステータスに影響するレポートステータスの固定優先順位。
// 値が小さいほど優先される。ここに含まれないステータス
// （avoided_shortage, resolved, reversed）は導出に影響しない。
var priority = map[model.ReportStatus]int{
	model.ReportStatusActiveConfirmed:     1,
	model.ReportStatusAnticipatedShortage: 2,
	model.ReportStatusToBeDiscontinued:    3,
	model.ReportStatusDiscontinued:        4,
}

// toDrugStatus は影響するレポートステータスを製品ステータスに対応付ける。
var toDrugStatus = map[model.ReportStatus]model.DrugStatus{
	model.ReportStatusActiveConfirmed:     model.DrugStatusInShortage,
	model.ReportStatusAnticipatedShortage: model.DrugStatusAnticipated,
	model.ReportStatusToBeDiscontinued:    model.DrugStatusToBeDiscontinued,
	model.ReportStatusDiscontinued:        model.DrugStatusDiscontinued,
}

// Derive は1製品の全レポートステータスから現在ステータスを導出する。
// 影響するステータスが存在しない場合はavailableを返す。
// 複数存在する場合は優先順位が最も高い1つを採用する:
// active_confirmed > anticipated_shortage > to_be_discontinued > discontinued。
// 同一入力に対して常に同一出力を返す（冪等）。
func Derive(statuses []model.ReportStatus) model.DrugStatus {
	best := 0
	var result model.DrugStatus = model.DrugStatusAvailable

	for _, s := range statuses {
		p, ok := priority[s]
		if !ok {
			continue
		}
		if best == 0 || p < best {
			best = p
			result = toDrugStatus[s]
		}
	}

	return result
}
