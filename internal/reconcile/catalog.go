package reconcile

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/medsync/internal/model"
	"github.com/hitoshi/medsync/internal/provider/catalog"
)

// 詳細サブリソースのプロバイダネイティブ型。
// それぞれ製品に対して複数行が返りうる。
type (
	ingredientRow struct {
		Name         string `json:"ingredient_name"`
		Strength     string `json:"strength"`
		StrengthUnit string `json:"strength_unit"`
	}
	dosageFormRow struct {
		Name string `json:"pharmaceutical_form_name"`
	}
	routeRow struct {
		Name string `json:"route_of_administration_name"`
	}
	classificationRow struct {
		ATCNumber string `json:"tc_atc_number"`
	}
	marketStatusRow struct {
		Status string `json:"status"`
	}
)

// CatalogResult はカタログマッピング1バッチの結果。
type CatalogResult struct {
	Drugs      []*model.Drug
	Duplicates int // 同一プロダクトコードの重複として捨てられた件数
	Errors     int // パース・検証エラーで捨てられた件数
}

// CatalogReconciler はカタログプロバイダのレコードを永続化形に対応付ける。
type CatalogReconciler struct {
	logger *slog.Logger
}

// NewCatalogReconciler はCatalogReconcilerの新しいインスタンスを生成する。
func NewCatalogReconciler(logger *slog.Logger) *CatalogReconciler {
	return &CatalogReconciler{logger: logger}
}

// MapProducts は一括リスティングの製品群と製品コードごとの詳細を永続化形に変換する。
// detailsに存在しない製品はリスティングの属性のみで構築される
// （詳細フェッチの失敗はレコード単位のエラーとして扱われ、製品自体は保存される）。
// 同一プロダクトコードの重複は最初の1件を採用し、件数をログに記録する。
func (c *CatalogReconciler) MapProducts(products []catalog.Product, details map[string]*catalog.Detail) *CatalogResult {
	result := &CatalogResult{
		Drugs: make([]*model.Drug, 0, len(products)),
	}
	seen := make(map[string]bool, len(products))

	for _, p := range products {
		if p.Code == "" {
			result.Errors++
			continue
		}

		if seen[p.Code] {
			result.Duplicates++
			continue
		}
		seen[p.Code] = true

		drug, err := c.mapOne(p, details[p.Code])
		if err != nil {
			c.logger.Warn("カタログレコードのマッピングに失敗しました",
				slog.String("code", p.Code),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}

		result.Drugs = append(result.Drugs, drug)
	}

	if result.Duplicates > 0 {
		c.logger.Info("重複カタログレコードを除外しました",
			slog.Int("duplicates", result.Duplicates),
		)
	}

	return result
}

// mapOne は1製品をリスティング属性と詳細サブリソースから構築する。
// detailがnilの場合はリスティング属性のみで構築する。
func (c *CatalogReconciler) mapOne(p catalog.Product, detail *catalog.Detail) (*model.Drug, error) {
	drug := &model.Drug{
		Code:        p.Code,
		BrandNameEn: nonEmptyPtr(p.BrandNameEn),
		BrandNameFr: nonEmptyPtr(p.BrandNameFr),
		Company:     nonEmptyPtr(p.Company),
	}

	if p.LastUpdated != "" {
		t, err := parseProviderTime(p.LastUpdated)
		if err != nil {
			return nil, fmt.Errorf("last_update_dateのパースに失敗: %w", err)
		}
		drug.ProviderUpdatedAt = &t
	}

	if detail == nil {
		return drug, nil
	}

	ingredients, strength, err := mapIngredients(detail.Ingredients)
	if err != nil {
		return nil, err
	}
	drug.Ingredients = ingredients
	drug.Strength = strength

	drug.DosageForm, err = mapJoined[dosageFormRow](detail.DosageForm, "form", func(r dosageFormRow) string { return r.Name })
	if err != nil {
		return nil, err
	}

	drug.Route, err = mapJoined[routeRow](detail.Route, "route", func(r routeRow) string { return r.Name })
	if err != nil {
		return nil, err
	}

	drug.ATCCode, err = mapFirst[classificationRow](detail.Classification, "therapeuticclass", func(r classificationRow) string { return r.ATCNumber })
	if err != nil {
		return nil, err
	}

	drug.MarketStatus, err = mapFirst[marketStatusRow](detail.MarketStatus, "status", func(r marketStatusRow) string { return r.Status })
	if err != nil {
		return nil, err
	}

	return drug, nil
}

// mapIngredients は有効成分サブリソースから成分名と含量の連結文字列を作る。
func mapIngredients(raw json.RawMessage) (*string, *string, error) {
	if len(raw) == 0 {
		return nil, nil, nil
	}

	var rows []ingredientRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, nil, fmt.Errorf("activeingredientサブリソースのパースに失敗: %w", err)
	}

	names := make([]string, 0, len(rows))
	strengths := make([]string, 0, len(rows))
	for _, row := range rows {
		if row.Name == "" {
			continue
		}
		names = append(names, row.Name)
		if row.Strength != "" {
			strengths = append(strengths, strings.TrimSpace(row.Strength+" "+row.StrengthUnit))
		}
	}

	return joinedPtr(names, "; "), joinedPtr(strengths, "; "), nil
}

// mapJoined はサブリソースの全行から値を抽出し"; "で連結する。
func mapJoined[T any](raw json.RawMessage, name string, extract func(T) string) (*string, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var rows []T
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("%sサブリソースのパースに失敗: %w", name, err)
	}

	values := make([]string, 0, len(rows))
	for _, row := range rows {
		if v := extract(row); v != "" {
			values = append(values, v)
		}
	}

	return joinedPtr(values, "; "), nil
}

// mapFirst はサブリソースの先頭行から値を抽出する。
func mapFirst[T any](raw json.RawMessage, name string, extract func(T) string) (*string, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var rows []T
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("%sサブリソースのパースに失敗: %w", name, err)
	}

	for _, row := range rows {
		if v := extract(row); v != "" {
			return &v, nil
		}
	}

	return nil, nil
}

// joinedPtr は値群をsepで連結したポインタを返す。空の場合はnilを返す。
func joinedPtr(values []string, sep string) *string {
	if len(values) == 0 {
		return nil
	}
	s := strings.Join(values, sep)
	return &s
}
