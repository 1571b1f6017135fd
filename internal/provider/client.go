// Package provider は上流プロバイダ共通のHTTPフェッチ基盤を提供する。
// リトライ・バックオフ付きのJSONフェッチと、変更検出用のメタデータプローブを含む。
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	// defaultRetryDelay はリトライ遅延の基準値。n回目の失敗後は n*defaultRetryDelay 待つ（線形増加）。
	defaultRetryDelay = 2 * time.Second
	// maxResponseSize はレスポンスボディの最大読み取りサイズ（64MB）。
	// カタログの一括リスティングは数万件規模になるため大きめに取る。
	maxResponseSize = 64 << 20

	userAgent = "Medsync/1.0 Drug Shortage Sync"
)

// FetchError は上流HTTPフェッチの失敗を表す。
// ステータスコードを保持し、リトライ可否の判定に使用される。
type FetchError struct {
	URL        string
	StatusCode int // ネットワークエラーの場合は0
	Err        error
}

// Error はerrorインターフェースを実装する。
func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("フェッチに失敗しました: %s がステータス %d を返しました", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("フェッチに失敗しました: %s: %v", e.URL, e.Err)
}

// Unwrap はラップされたエラーを返す。
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable はこのエラーがリトライに値するかを返す。
// ネットワークエラー・タイムアウト・429・5xxはリトライ可能。
// 認証エラー（401/403）とその他の4xxはリトライしない。
func (e *FetchError) Retryable() bool {
	if e.StatusCode == 0 {
		return true
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsAuthError はerrが認証エラー（401/403）のFetchErrorかを判定する。
// 認証エラーはジョブを即座に失敗させ、リトライしない。
func IsAuthError(err error) bool {
	var fe *FetchError
	if !errors.As(err, &fe) {
		return false
	}
	return fe.StatusCode == http.StatusUnauthorized || fe.StatusCode == http.StatusForbidden
}

// UpstreamRecorder は上流HTTPリクエストの観測値を記録する。
// リトライを含む1試行ごとに呼ばれる。
type UpstreamRecorder interface {
	// RecordHTTPStatus は上流が返したHTTPステータスコードを記録する。
	RecordHTTPStatus(statusCode int)
	// RecordFetchLatency は1試行の所要時間を記録する。
	RecordFetchLatency(duration time.Duration)
}

// Client はリトライ・バックオフ付きのHTTPフェッチクライアント。
// 1試行ごとに有界のタイムアウトを適用し、失敗時は線形に増加する
// 遅延を挟んで最大retries回までリトライする。共有状態は持たない。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	recorder   UpstreamRecorder
	retryDelay time.Duration
}

// NewClient はClientの新しいインスタンスを生成する。
// timeoutは1試行あたりのタイムアウト。recorderはnil可。
func NewClient(timeout time.Duration, logger *slog.Logger, recorder UpstreamRecorder) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		recorder:   recorder,
		retryDelay: defaultRetryDelay,
	}
}

// do は1リクエストを実行し、試行ごとのステータスとレイテンシを記録する。
func (c *Client) do(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.recorder != nil {
		c.recorder.RecordFetchLatency(time.Since(start))
		if err == nil {
			c.recorder.RecordHTTPStatus(resp.StatusCode)
		}
	}
	return resp, err
}

// FetchJSON はurlをGETしてJSONをvにデコードする。
// タイムアウトまたは非2xxステータスの場合、線形増加の遅延を挟んで
// 最大retries回リトライする。リトライを使い切った場合は最後のエラーを返す。
// headersはリクエストに付与される（認証トークンなど）。
func (c *Client) FetchJSON(ctx context.Context, url string, headers map[string]string, retries int, v interface{}) error {
	body, err := c.fetch(ctx, http.MethodGet, url, headers, retries)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("レスポンスJSONのパースに失敗しました: %s: %w", url, err)
	}

	return nil
}

// FetchRaw はurlをGETして生のレスポンスボディを返す。リトライ規則はFetchJSONと同じ。
func (c *Client) FetchRaw(ctx context.Context, url string, headers map[string]string, retries int) ([]byte, error) {
	return c.fetch(ctx, http.MethodGet, url, headers, retries)
}

// PostJSON はフォームなしのPOSTを実行し、レスポンスボディとヘッダーを返す。
// ログイン等の認証交換に使用される。認証エラーはリトライしない。
func (c *Client) PostJSON(ctx context.Context, url string, headers map[string]string, payload interface{}) ([]byte, http.Header, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("リクエストJSONの生成に失敗しました: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")
	for k, vv := range headers {
		req.Header.Set(k, vv)
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, nil, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, nil, &FetchError{URL: url, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, &FetchError{URL: url, StatusCode: resp.StatusCode}
	}

	return body, resp.Header, nil
}

// Head はurlにHEADリクエストを発行し、レスポンスヘッダーを返す。
// 変更検出の安価なメタデータプローブとして使用される。リトライは1回のみ。
func (c *Client) Head(ctx context.Context, url string) (http.Header, error) {
	var lastErr error
	for attempt := 0; attempt <= 1; attempt++ {
		if attempt > 0 {
			if err := sleepContext(ctx, c.retryDelay); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
		}
		req.Header.Set("User-Agent", userAgent)

		resp, err := c.do(req)
		if err != nil {
			lastErr = &FetchError{URL: url, Err: err}
			continue
		}
		resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			lastErr = &FetchError{URL: url, StatusCode: resp.StatusCode}
			continue
		}

		return resp.Header, nil
	}

	return nil, lastErr
}

// fetch はリトライループ本体。非2xx・ネットワークエラー時に
// attempt*retryDelayの線形遅延でリトライし、使い切ったら最後のエラーを返す。
func (c *Client) fetch(ctx context.Context, method, url string, headers map[string]string, retries int) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * c.retryDelay
			c.logger.Warn("フェッチをリトライします",
				slog.String("url", url),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", lastErr.Error()),
			)
			if err := sleepContext(ctx, delay); err != nil {
				return nil, err
			}
		}

		body, err := c.doOnce(ctx, method, url, headers)
		if err == nil {
			return body, nil
		}
		lastErr = err

		var fe *FetchError
		if errors.As(err, &fe) && !fe.Retryable() {
			break
		}
	}

	return nil, lastErr
}

// doOnce は1回のHTTPリクエストを実行する。
func (c *Client) doOnce(ctx context.Context, method, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// ボディは読み捨てる（コネクション再利用のため）
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}

	return body, nil
}

// sleepContext はコンテキストキャンセルを尊重してスリープする。
func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
