package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/medsync/internal/metrics"
	"github.com/hitoshi/medsync/internal/middleware"
	"github.com/hitoshi/medsync/internal/repository"
)

// healthCheckTimeout はヘルスチェックのDB疎通確認のタイムアウト。
const healthCheckTimeout = 3 * time.Second

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger        *slog.Logger
	Runner        SyncRunner
	SyncStateRepo repository.SyncStateRepository
	DrugRepo      repository.DrugRepository
	AdminSecret   string
	RateLimiter   *middleware.RateLimiter
	Gatherer      prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RecoveryMiddleware → LoggingMiddleware → (管理ルートのみ) RateLimit → BearerAuth
//
// /health と /metrics は認証・レート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	adminHandler := NewAdminHandler(deps.Runner, deps.SyncStateRepo, deps.Logger)

	// --- 認証不要のルート ---

	r.Get("/health", newHealthHandler(deps.DrugRepo))
	r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))

	// --- 認証が必要な管理ルート ---
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.Middleware())
		r.Use(middleware.NewBearerAuthMiddleware(deps.AdminSecret))

		r.Route("/admin/sync", func(r chi.Router) {
			r.Get("/", adminHandler.GetStatus)
			r.Post("/", adminHandler.TriggerSync)
		})
	})

	return r
}

// newHealthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
func newHealthHandler(drugRepo repository.DrugRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		if _, err := drugRepo.CountAll(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}
