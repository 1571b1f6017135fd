package reports

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/medsync/internal/provider"
)

func newTestClient(baseURL string) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	base := provider.NewClient(5*time.Second, logger, nil)
	return NewClient(base, logger, baseURL, "user@example.com", "secret", 0, 25)
}

func TestClient_Login_TokenFromHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/login" {
			t.Errorf("path = %q, want /login", r.URL.Path)
		}
		var creds map[string]string
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			t.Fatalf("資格情報のデコードに失敗しました: %v", err)
		}
		if creds["email"] != "user@example.com" || creds["password"] != "secret" {
			t.Errorf("資格情報が期待値と異なります: %v", creds)
		}
		w.Header().Set("auth-token", "tok-from-header")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("Loginに失敗しました: %v", err)
	}
	if c.token != "tok-from-header" {
		t.Errorf("token = %q, want %q", c.token, "tok-from-header")
	}
}

func TestClient_Login_TokenFromBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"auth-token":"tok-from-body"}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("Loginに失敗しました: %v", err)
	}
	if c.token != "tok-from-body" {
		t.Errorf("token = %q, want %q", c.token, "tok-from-body")
	}
}

func TestClient_Login_MissingToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	err := newTestClient(server.URL).Login(context.Background())
	if err == nil {
		t.Fatal("トークンなしのレスポンスはエラーを返すべきです")
	}
	if !provider.IsAuthError(err) {
		t.Errorf("認証エラーとして扱われるべきです: %v", err)
	}
}

func TestClient_ListUpdatedSince(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("limit") != "25" {
			t.Errorf("limit = %q, want %q", q.Get("limit"), "25")
		}
		if q.Get("offset") != "50" {
			t.Errorf("offset = %q, want %q", q.Get("offset"), "50")
		}
		if q.Get("orderby") != "updated_date" || q.Get("order") != "asc" {
			t.Errorf("並び順パラメータが期待値と異なります: %v", q)
		}
		if q.Get("filter_updated_date_from") != "2026-08-01T09:30:00" {
			t.Errorf("filter_updated_date_from = %q", q.Get("filter_updated_date_from"))
		}
		if r.Header.Get("auth-token") != "tok" {
			t.Errorf("auth-token = %q, want %q", r.Header.Get("auth-token"), "tok")
		}
		w.Write([]byte(`{
			"total": 120,
			"offset": 50,
			"remaining": 45,
			"data": [
				{"id": 9001, "updated_date": "2026-08-02T10:00:00", "status": "active_confirmed"},
				{"id": 9002, "updated_date": "2026-08-02T11:00:00", "status": "resolved"}
			]
		}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	c.token = "tok"

	since := time.Date(2026, 8, 1, 9, 30, 0, 0, time.UTC)
	page, err := c.ListUpdatedSince(context.Background(), since, 50)
	if err != nil {
		t.Fatalf("ListUpdatedSinceに失敗しました: %v", err)
	}

	if page.Total != 120 || page.Offset != 50 || page.Remaining != 45 {
		t.Errorf("ページ情報が期待値と異なります: %+v", page)
	}
	if len(page.Records) != 2 {
		t.Fatalf("レコード数 = %d, want 2", len(page.Records))
	}
	if page.Records[0].ID != 9001 {
		t.Errorf("ID = %d, want 9001", page.Records[0].ID)
	}
	// 生ペイロードはそのまま保持されること
	var full map[string]any
	if err := json.Unmarshal(page.Records[0].Raw, &full); err != nil {
		t.Fatalf("生ペイロードのパースに失敗しました: %v", err)
	}
	if full["status"] != "active_confirmed" {
		t.Errorf("Rawにリスティングの全フィールドが含まれるべきです: %v", full)
	}
}

func TestClient_ListUpdatedSince_UnreadableRecords(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"total": 10,
			"offset": 0,
			"remaining": 8,
			"data": [
				{"id": "not-a-number"},
				{"id": ["broken"]}
			]
		}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	c.token = "tok"

	page, err := c.ListUpdatedSince(context.Background(), time.Time{}, 0)
	if err != nil {
		t.Fatalf("ListUpdatedSinceに失敗しました: %v", err)
	}

	// 破棄されたレコードもFetchedには計上され、ページネーションが止まらないこと
	if page.Fetched != 2 {
		t.Errorf("Fetched = %d, want 2", page.Fetched)
	}
	if len(page.Records) != 0 {
		t.Errorf("レコード数 = %d, want 0", len(page.Records))
	}
}

func TestClient_ListUpdatedSince_ZeroSince(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Has("filter_updated_date_from") {
			t.Error("sinceがゼロ値のときは日時フィルタを付けないべきです")
		}
		w.Write([]byte(`{"total":0,"offset":0,"remaining":0,"data":[]}`))
	}))
	defer server.Close()

	page, err := newTestClient(server.URL).ListUpdatedSince(context.Background(), time.Time{}, 0)
	if err != nil {
		t.Fatalf("ListUpdatedSinceに失敗しました: %v", err)
	}
	if len(page.Records) != 0 {
		t.Errorf("レコード数 = %d, want 0", len(page.Records))
	}
}

func TestClient_FetchDetail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/shortages/9001" {
			t.Errorf("path = %q, want /shortages/9001", r.URL.Path)
		}
		w.Write([]byte(`{"id":9001}`))
	}))
	defer server.Close()

	raw, err := newTestClient(server.URL).FetchDetail(context.Background(), 9001)
	if err != nil {
		t.Fatalf("FetchDetailに失敗しました: %v", err)
	}
	if string(raw) != `{"id":9001}` {
		t.Errorf("raw = %s", raw)
	}
}
