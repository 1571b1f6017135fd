// Package catalog はカタログプロバイダ（医薬品カタログAPI）のクライアントを提供する。
// 認証不要の一括リスティング、製品ごとの詳細サブリソース、
// 変更検出用の安価なメタデータプローブを扱う。
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/medsync/internal/provider"
)

// Product は一括リスティングが返す1件の製品レコード。
type Product struct {
	Code        string `json:"drug_code"`
	BrandNameEn string `json:"brand_name"`
	BrandNameFr string `json:"brand_name_f"`
	Company     string `json:"company_name"`
	LastUpdated string `json:"last_update_date"`
	DrugID      string `json:"drug_identification_number"`
	Descriptor  string `json:"descriptor"`
	NumberOfAIs int    `json:"number_of_ais"`
	AIGroupNo   string `json:"ai_group_no"`
	ClassName   string `json:"class_name"`
}

// Detail は1製品の詳細サブリソースをまとめたもの。
// 各フィールドは対応するサブリソースの生JSONを保持し、
// マッピングはreconcileパッケージが行う。
type Detail struct {
	Code           string          `json:"code"`
	Ingredients    json.RawMessage `json:"ingredients"`
	DosageForm     json.RawMessage `json:"dosage_form"`
	Route          json.RawMessage `json:"route"`
	Classification json.RawMessage `json:"classification"`
	MarketStatus   json.RawMessage `json:"market_status"`
}

// Client はカタログプロバイダのAPIクライアント。認証は不要。
type Client struct {
	base    *provider.Client
	logger  *slog.Logger
	baseURL string
	retries int
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(base *provider.Client, logger *slog.Logger, baseURL string, retries int) *Client {
	return &Client{
		base:    base,
		logger:  logger,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		retries: retries,
	}
}

// Probe は一括リスティングのHEADプローブでフィンガープリントを取得する。
// ETagがあればそれを、なければContent-Lengthをフィンガープリントとする。
// ペイロードサイズは変更の安価な代理シグナルであり、完全一致の保証はない。
func (c *Client) Probe(ctx context.Context) (string, error) {
	header, err := c.base.Head(ctx, c.listingURL())
	if err != nil {
		return "", fmt.Errorf("カタログのメタデータプローブに失敗しました: %w", err)
	}

	if etag := header.Get("ETag"); etag != "" {
		return "etag:" + etag, nil
	}
	if length := header.Get("Content-Length"); length != "" {
		return "size:" + length, nil
	}

	// フィンガープリントが得られない場合は空を返し、
	// 呼び出し元はフルフェッチにフォールバックする
	return "", nil
}

// ListProducts は全製品の一括リスティングを取得する。
// 戻り値の2つ目は生のレスポンスボディで、キャッシュへのスナップショット保存に使う。
func (c *Client) ListProducts(ctx context.Context) ([]Product, []byte, error) {
	raw, err := c.base.FetchRaw(ctx, c.listingURL(), nil, c.retries)
	if err != nil {
		return nil, nil, fmt.Errorf("カタログ一括リスティングの取得に失敗しました: %w", err)
	}

	var products []Product
	if err := json.Unmarshal(raw, &products); err != nil {
		return nil, nil, fmt.Errorf("カタログリスティングのパースに失敗しました: %w", err)
	}

	return products, raw, nil
}

// FetchDetail は1製品の詳細サブリソース群を取得してまとめる。
// 個々のサブリソースの失敗はレコード単位のエラーとして呼び出し元に返し、
// バッチ全体は継続される（allSettledセマンティクス）。
func (c *Client) FetchDetail(ctx context.Context, code string) (*Detail, error) {
	detail := &Detail{Code: code}

	subresources := []struct {
		path string
		dst  *json.RawMessage
	}{
		{"activeingredient", &detail.Ingredients},
		{"form", &detail.DosageForm},
		{"route", &detail.Route},
		{"therapeuticclass", &detail.Classification},
		{"status", &detail.MarketStatus},
	}

	for _, sub := range subresources {
		url := fmt.Sprintf("%s/%s/?id=%s", c.baseURL, sub.path, code)
		raw, err := c.base.FetchRaw(ctx, url, nil, c.retries)
		if err != nil {
			return nil, fmt.Errorf("詳細サブリソース %s の取得に失敗しました (code=%s): %w", sub.path, code, err)
		}
		*sub.dst = raw
	}

	return detail, nil
}

// listingURL は一括リスティングのエンドポイントURLを返す。
func (c *Client) listingURL() string {
	return c.baseURL + "/drugproduct/"
}
