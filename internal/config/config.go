// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// 管理API
	AdminSyncSecret string

	// レポートプロバイダ
	ReportsAPIURL      string
	ReportsAPIEmail    string
	ReportsAPIPassword string

	// カタログプロバイダ
	CatalogAPIURL string

	// キャッシュ
	CacheDir string

	// Fetch
	FetchTimeout      time.Duration
	FetchRetries      int
	DetailConcurrency int
	PageLimit         int

	// 同期スケジュール
	ReportsSyncInterval time.Duration
	CatalogSyncInterval time.Duration

	// バッチ
	UpsertBatchSize int

	// Server
	ServerPort string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.AdminSyncSecret = os.Getenv("ADMIN_SYNC_SECRET")
	if cfg.AdminSyncSecret == "" {
		missing = append(missing, "ADMIN_SYNC_SECRET")
	}

	cfg.ReportsAPIEmail = os.Getenv("REPORTS_API_EMAIL")
	if cfg.ReportsAPIEmail == "" {
		missing = append(missing, "REPORTS_API_EMAIL")
	}

	cfg.ReportsAPIPassword = os.Getenv("REPORTS_API_PASSWORD")
	if cfg.ReportsAPIPassword == "" {
		missing = append(missing, "REPORTS_API_PASSWORD")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ReportsAPIURL = getEnvString("REPORTS_API_URL", "https://www.drugshortagescanada.ca/api/v1")
	cfg.CatalogAPIURL = getEnvString("CATALOG_API_URL", "https://health-products.canada.ca/api/drug")
	cfg.CacheDir = getEnvString("CACHE_DIR", "/var/lib/medsync/cache")
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 30*time.Second)
	cfg.FetchRetries = getEnvInt("FETCH_RETRIES", 3)
	cfg.DetailConcurrency = getEnvInt("DETAIL_CONCURRENCY", 20)
	cfg.PageLimit = getEnvInt("PAGE_LIMIT", 100)
	cfg.ReportsSyncInterval = getEnvDuration("REPORTS_SYNC_INTERVAL", 15*time.Minute)
	cfg.CatalogSyncInterval = getEnvDuration("CATALOG_SYNC_INTERVAL", 24*time.Hour)
	cfg.UpsertBatchSize = getEnvInt("UPSERT_BATCH_SIZE", 500)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
