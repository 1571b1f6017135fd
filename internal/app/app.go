// Package app はアプリケーションの初期化・起動・依存関係のワイヤリングを行う。
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/medsync/internal/cache"
	"github.com/hitoshi/medsync/internal/config"
	"github.com/hitoshi/medsync/internal/database"
	"github.com/hitoshi/medsync/internal/handler"
	"github.com/hitoshi/medsync/internal/jobs"
	"github.com/hitoshi/medsync/internal/logger"
	"github.com/hitoshi/medsync/internal/metrics"
	"github.com/hitoshi/medsync/internal/middleware"
	"github.com/hitoshi/medsync/internal/provider"
	"github.com/hitoshi/medsync/internal/provider/catalog"
	"github.com/hitoshi/medsync/internal/provider/reports"
	"github.com/hitoshi/medsync/internal/reconcile"
	"github.com/hitoshi/medsync/internal/repository"
	"github.com/hitoshi/medsync/internal/security"
	"github.com/hitoshi/medsync/internal/status"
	"github.com/hitoshi/medsync/internal/worker/cleanup"
	workersync "github.com/hitoshi/medsync/internal/worker/sync"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// syncStack は同期に関わる全依存関係をまとめた構造体。
type syncStack struct {
	scheduler     *workersync.Scheduler
	syncStateRepo repository.SyncStateRepository
	drugRepo      repository.DrugRepository
	gatherer      prometheus.Gatherer
	store         *cache.Store
}

// buildSyncStack は同期スタックの依存関係をワイヤリングする。
func buildSyncStack(cfg *config.Config, db *sql.DB) (*syncStack, error) {
	log := slog.Default()

	// 1. リポジトリの初期化
	drugRepo := repository.NewPostgresDrugRepo(db)
	reportRepo := repository.NewPostgresReportRepo(db)
	syncStateRepo := repository.NewPostgresSyncStateRepo(db)

	// 2. ディスクキャッシュストア
	store, err := cache.Open(cfg.CacheDir, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache store: %w", err)
	}

	// 3. メトリクス
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	// 4. プロバイダクライアント
	baseClient := provider.NewClient(cfg.FetchTimeout, log, collector)
	reportsClient := reports.NewClient(
		baseClient, log, cfg.ReportsAPIURL,
		cfg.ReportsAPIEmail, cfg.ReportsAPIPassword,
		cfg.FetchRetries, cfg.PageLimit,
	)
	catalogClient := catalog.NewClient(baseClient, log, cfg.CatalogAPIURL, cfg.FetchRetries)

	// 5. マッピングとステータス導出
	sanitizer := security.NewContentSanitizer()
	reportReconciler := reconcile.NewReportReconciler(sanitizer, log)
	catalogReconciler := reconcile.NewCatalogReconciler(log)
	recomputer := status.NewRecomputer(drugRepo, reportRepo, log)

	// 6. 同期ジョブ
	reportsJob := workersync.NewReportsJob(
		reportsClient, reportReconciler, reportRepo, drugRepo, syncStateRepo,
		recomputer, collector, cfg.UpsertBatchSize,
	)
	catalogJob := workersync.NewCatalogJob(
		catalogClient, catalogReconciler, drugRepo, syncStateRepo,
		recomputer, store, collector, cfg.UpsertBatchSize, cfg.DetailConcurrency,
	)

	// 7. キャッシュメンテナンスジョブ
	cleanupJob := cleanup.NewCleanupJob(store, log)

	// 8. スケジューラ
	scheduler := workersync.NewScheduler([]workersync.Schedule{
		{Job: reportsJob, Interval: cfg.ReportsSyncInterval, RunAtStart: true},
		{Job: catalogJob, Interval: cfg.CatalogSyncInterval, RunAtStart: true},
		{Job: cleanupJob, Interval: 24 * time.Hour},
	}, jobs.NewRegistry(), log)

	return &syncStack{
		scheduler:     scheduler,
		syncStateRepo: syncStateRepo,
		drugRepo:      drugRepo,
		gatherer:      reg,
		store:         store,
	}, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーと
// 同期スケジューラを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	stack, err := buildSyncStack(cfg, db)
	if err != nil {
		return err
	}
	defer stack.store.Close()

	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:        slog.Default(),
		Runner:        stack.scheduler,
		SyncStateRepo: stack.syncStateRepo,
		DrugRepo:      stack.drugRepo,
		AdminSecret:   cfg.AdminSyncSecret,
		RateLimiter:   rateLimiter,
		Gatherer:      stack.gatherer,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // 手動トリガーの同期実行はフルスキャンで数時間かかりうる
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// 同期スケジューラをバックグラウンドで起動
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		stack.scheduler.Start(ctx)
	}()

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	<-schedulerDone
	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 管理APIは持たず、同期スケジューラのみを実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	stack, err := buildSyncStack(cfg, db)
	if err != nil {
		return err
	}
	defer stack.store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("reports_interval", cfg.ReportsSyncInterval),
		slog.Duration("catalog_interval", cfg.CatalogSyncInterval),
	)

	// 同期スケジューラをメインgoroutineで実行（ブロッキング）
	stack.scheduler.Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
