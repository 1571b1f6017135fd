package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/medsync/internal/model"
	"github.com/lib/pq"
)

// PostgresDrugRepo はPostgreSQLを使用した医薬品カタログリポジトリ。
type PostgresDrugRepo struct {
	db *sql.DB
}

// NewPostgresDrugRepo はPostgresDrugRepoを生成する。
func NewPostgresDrugRepo(db *sql.DB) *PostgresDrugRepo {
	return &PostgresDrugRepo{db: db}
}

// FindByCode は指定プロダクトコードの製品を取得する。見つからない場合はnilを返す。
func (r *PostgresDrugRepo) FindByCode(ctx context.Context, code string) (*model.Drug, error) {
	drug := &model.Drug{}
	var brandEn, brandFr, ingredients, strength, dosageForm, route, atcCode, company, marketStatus sql.NullString
	var providerUpdatedAt sql.NullTime

	err := r.db.QueryRowContext(ctx,
		`SELECT code, brand_name_en, brand_name_fr, ingredients, strength,
		        dosage_form, route, atc_code, company, market_status,
		        current_status, has_reports, provider_updated_at, created_at, updated_at
		 FROM drugs WHERE code = $1`,
		code,
	).Scan(
		&drug.Code, &brandEn, &brandFr, &ingredients, &strength,
		&dosageForm, &route, &atcCode, &company, &marketStatus,
		&drug.CurrentStatus, &drug.HasReports, &providerUpdatedAt, &drug.CreatedAt, &drug.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("製品の取得に失敗しました: %w", err)
	}

	drug.BrandNameEn = nullStringPtr(brandEn)
	drug.BrandNameFr = nullStringPtr(brandFr)
	drug.Ingredients = nullStringPtr(ingredients)
	drug.Strength = nullStringPtr(strength)
	drug.DosageForm = nullStringPtr(dosageForm)
	drug.Route = nullStringPtr(route)
	drug.ATCCode = nullStringPtr(atcCode)
	drug.Company = nullStringPtr(company)
	drug.MarketStatus = nullStringPtr(marketStatus)
	if providerUpdatedAt.Valid {
		drug.ProviderUpdatedAt = &providerUpdatedAt.Time
	}

	return drug, nil
}

// UpsertBatch は1バッチ分の製品を外部プロダクトコードをキーに冪等にUPSERTする。
// コンフリクト時のマージ規則:
//   - NULL許容フィールドはCOALESCE(EXCLUDED.x, drugs.x)で既存の非NULL値を保護する
//   - 権威フィールド（market_status, provider_updated_at）は無条件に上書きする
//   - current_status・has_reportsは導出パスの管轄のため一切変更しない
func (r *PostgresDrugRepo) UpsertBatch(ctx context.Context, drugs []*model.Drug) error {
	if len(drugs) == 0 {
		return nil
	}

	const cols = 12
	placeholders := make([]string, 0, len(drugs))
	args := make([]interface{}, 0, len(drugs)*cols)
	now := time.Now()

	for i, d := range drugs {
		base := i * cols
		ph := make([]string, cols)
		for j := range ph {
			ph[j] = fmt.Sprintf("$%d", base+j+1)
		}
		placeholders = append(placeholders, "("+strings.Join(ph, ", ")+")")
		args = append(args,
			d.Code,
			ptrNullString(d.BrandNameEn),
			ptrNullString(d.BrandNameFr),
			ptrNullString(d.Ingredients),
			ptrNullString(d.Strength),
			ptrNullString(d.DosageForm),
			ptrNullString(d.Route),
			ptrNullString(d.ATCCode),
			ptrNullString(d.Company),
			ptrNullString(d.MarketStatus),
			ptrNullTime(d.ProviderUpdatedAt),
			now,
		)
	}

	query := `INSERT INTO drugs (
	    code, brand_name_en, brand_name_fr, ingredients, strength,
	    dosage_form, route, atc_code, company, market_status,
	    provider_updated_at, updated_at
	) VALUES ` + strings.Join(placeholders, ", ") + `
	ON CONFLICT (code) DO UPDATE SET
	    brand_name_en       = COALESCE(EXCLUDED.brand_name_en, drugs.brand_name_en),
	    brand_name_fr       = COALESCE(EXCLUDED.brand_name_fr, drugs.brand_name_fr),
	    ingredients         = COALESCE(EXCLUDED.ingredients, drugs.ingredients),
	    strength            = COALESCE(EXCLUDED.strength, drugs.strength),
	    dosage_form         = COALESCE(EXCLUDED.dosage_form, drugs.dosage_form),
	    route               = COALESCE(EXCLUDED.route, drugs.route),
	    atc_code            = COALESCE(EXCLUDED.atc_code, drugs.atc_code),
	    company             = COALESCE(EXCLUDED.company, drugs.company),
	    market_status       = EXCLUDED.market_status,
	    provider_updated_at = EXCLUDED.provider_updated_at,
	    updated_at          = EXCLUDED.updated_at`

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("製品バッチのUPSERTに失敗しました: %w", err)
	}

	return nil
}

// EnsureExist はまだ存在しないプロダクトコードのスタブ行を作成する。
func (r *PostgresDrugRepo) EnsureExist(ctx context.Context, codes []string) (int64, error) {
	if len(codes) == 0 {
		return 0, nil
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO drugs (code)
		 SELECT DISTINCT unnest($1::text[])
		 ON CONFLICT (code) DO NOTHING`,
		pq.Array(codes),
	)
	if err != nil {
		return 0, fmt.Errorf("スタブ製品の作成に失敗しました: %w", err)
	}

	return result.RowsAffected()
}

// UpdateCurrentStatuses はステータス導出結果を1バッチ分適用する。
// 値が変化する行のみを更新し、更新行数を返す。
func (r *PostgresDrugRepo) UpdateCurrentStatuses(ctx context.Context, updates []StatusUpdate) (int64, error) {
	if len(updates) == 0 {
		return 0, nil
	}

	codes := make([]string, len(updates))
	statuses := make([]string, len(updates))
	for i, u := range updates {
		codes[i] = u.Code
		statuses[i] = string(u.Status)
	}

	// unnestで(code, status)の組を展開し1文で適用する
	result, err := r.db.ExecContext(ctx,
		`UPDATE drugs AS d
		 SET current_status = u.status, updated_at = now()
		 FROM unnest($1::text[], $2::text[]) AS u(code, status)
		 WHERE d.code = u.code AND d.current_status <> u.status`,
		pq.Array(codes), pq.Array(statuses),
	)
	if err != nil {
		return 0, fmt.Errorf("現在ステータスの適用に失敗しました: %w", err)
	}

	return result.RowsAffected()
}

// ResetStatusesWithoutReports はレポートを1件も持たない製品の
// current_statusをavailableに戻し、更新行数を返す。
func (r *PostgresDrugRepo) ResetStatusesWithoutReports(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE drugs SET current_status = $1, updated_at = now()
		 WHERE current_status <> $1
		   AND NOT EXISTS (
		       SELECT 1 FROM reports WHERE reports.code = drugs.code
		   )`,
		string(model.DrugStatusAvailable),
	)
	if err != nil {
		return 0, fmt.Errorf("レポートなし製品のステータスリセットに失敗しました: %w", err)
	}

	return result.RowsAffected()
}

// SyncHasReports は全製品のhas_reportsフラグをレポートの有無に一致させる。
func (r *PostgresDrugRepo) SyncHasReports(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE drugs
		 SET has_reports = x.exists_reports, updated_at = now()
		 FROM (
		     SELECT d.code,
		            EXISTS (SELECT 1 FROM reports r WHERE r.code = d.code) AS exists_reports
		     FROM drugs d
		 ) AS x
		 WHERE drugs.code = x.code AND drugs.has_reports <> x.exists_reports`,
	)
	if err != nil {
		return 0, fmt.Errorf("has_reportsフラグの同期に失敗しました: %w", err)
	}

	return result.RowsAffected()
}

// CountAll は製品の総数を返す。
func (r *PostgresDrugRepo) CountAll(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM drugs`).Scan(&count); err != nil {
		return 0, fmt.Errorf("製品数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// nullStringPtr はsql.NullStringを*stringに変換する。
func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// ptrNullString は*stringをsql.NullStringに変換する。
func ptrNullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

// ptrNullTime は*time.Timeをsql.NullTimeに変換する。
func ptrNullTime(p *time.Time) sql.NullTime {
	if p == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *p, Valid: true}
}
