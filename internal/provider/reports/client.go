// Package reports はレポートプロバイダ（供給不足・販売中止レポートAPI）の
// クライアントを提供する。セッショントークン認証と、最終更新日時で
// フィルタ可能なページネーション付きリスティングを扱う。
package reports

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/medsync/internal/provider"
)

// authTokenHeader はログインレスポンスと後続リクエストでトークンを運ぶヘッダー名。
const authTokenHeader = "auth-token"

// Record はリスティングが返す1件のレポートレコード。
// 実際のフィールドマッピングはreconcileパッケージが生ペイロードから行うため、
// ここではページング制御に必要な最小限のみを型付けする。
type Record struct {
	ID          int64           `json:"id"`
	UpdatedDate string          `json:"updated_date"`
	Raw         json.RawMessage `json:"-"`
}

// Page はリスティングの1ページ分の結果。
// Fetchedは上流が返したレコード数で、読み取り不能で破棄された分も含む。
// ページネーションのオフセットはRecordsではなくFetchedで進めること。
type Page struct {
	Records   []Record
	Fetched   int
	Total     int
	Offset    int
	Remaining int
}

// listResponse はリスティングAPIのレスポンスボディ。
type listResponse struct {
	Data      []json.RawMessage `json:"data"`
	Total     int               `json:"total"`
	Offset    int               `json:"offset"`
	Remaining int               `json:"remaining"`
}

// recordHead はページング制御用にレコードの先頭フィールドのみを読むための型。
type recordHead struct {
	ID          int64  `json:"id"`
	UpdatedDate string `json:"updated_date"`
}

// Client はレポートプロバイダのAPIクライアント。
// ログインで資格情報をベアラートークンに交換し、以後のリクエストに付与する。
// トークンはプロセス内にのみ保持される。
type Client struct {
	base     *provider.Client
	logger   *slog.Logger
	baseURL  string
	email    string
	password string
	retries  int
	pageSize int

	token string
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(base *provider.Client, logger *slog.Logger, baseURL, email, password string, retries, pageSize int) *Client {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Client{
		base:     base,
		logger:   logger,
		baseURL:  baseURL,
		email:    email,
		password: password,
		retries:  retries,
		pageSize: pageSize,
	}
}

// Login は資格情報をセッショントークンに交換する。
// 認証エラー（401/403）はリトライされず、呼び出し元でジョブ失敗として扱われる。
func (c *Client) Login(ctx context.Context) error {
	loginURL := c.baseURL + "/login"

	body, header, err := c.base.PostJSON(ctx, loginURL, nil, map[string]string{
		"email":    c.email,
		"password": c.password,
	})
	if err != nil {
		return fmt.Errorf("レポートプロバイダへのログインに失敗しました: %w", err)
	}

	// トークンはレスポンスヘッダー優先、なければボディから取得する
	token := header.Get(authTokenHeader)
	if token == "" {
		var parsed struct {
			AuthToken string `json:"auth-token"`
		}
		if err := json.Unmarshal(body, &parsed); err == nil {
			token = parsed.AuthToken
		}
	}
	if token == "" {
		return &provider.FetchError{URL: loginURL, StatusCode: http.StatusUnauthorized}
	}

	c.token = token
	c.logger.Info("レポートプロバイダにログインしました")
	return nil
}

// ListUpdatedSince はsince以降に更新されたレポートを1ページ取得する。
// sinceがゼロ値の場合は全件を対象とする。結果が空でもエラーにはならない
// （定常状態として扱い、ジョブは台帳更新のために実行を継続する）。
func (c *Client) ListUpdatedSince(ctx context.Context, since time.Time, offset int) (*Page, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprintf("%d", c.pageSize))
	q.Set("offset", fmt.Sprintf("%d", offset))
	q.Set("orderby", "updated_date")
	q.Set("order", "asc")
	if !since.IsZero() {
		q.Set("filter_updated_date_from", since.UTC().Format("2006-01-02T15:04:05"))
	}

	listURL := c.baseURL + "/search?" + q.Encode()

	var resp listResponse
	if err := c.base.FetchJSON(ctx, listURL, c.authHeaders(), c.retries, &resp); err != nil {
		return nil, fmt.Errorf("レポート一覧の取得に失敗しました: %w", err)
	}

	page := &Page{
		Fetched:   len(resp.Data),
		Total:     resp.Total,
		Offset:    resp.Offset,
		Remaining: resp.Remaining,
		Records:   make([]Record, 0, len(resp.Data)),
	}

	for _, raw := range resp.Data {
		var head recordHead
		if err := json.Unmarshal(raw, &head); err != nil {
			c.logger.Warn("レポートレコードのヘッダー読み取りに失敗しました",
				slog.String("error", err.Error()),
			)
			continue
		}
		page.Records = append(page.Records, Record{
			ID:          head.ID,
			UpdatedDate: head.UpdatedDate,
			Raw:         raw,
		})
	}

	return page, nil
}

// FetchDetail は1件のレポートの詳細ペイロードを取得する。
// リスティングが全文を返すため通常は不要だが、個別再取得のために公開する。
func (c *Client) FetchDetail(ctx context.Context, reportID int64) (json.RawMessage, error) {
	detailURL := fmt.Sprintf("%s/shortages/%d", c.baseURL, reportID)

	raw, err := c.base.FetchRaw(ctx, detailURL, c.authHeaders(), c.retries)
	if err != nil {
		return nil, fmt.Errorf("レポート詳細の取得に失敗しました: %w", err)
	}

	return raw, nil
}

// authHeaders は認証トークン付きのリクエストヘッダーを返す。
func (c *Client) authHeaders() map[string]string {
	if c.token == "" {
		return nil
	}
	return map[string]string{authTokenHeader: c.token}
}
