// Package handler は管理APIのHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/medsync/internal/jobs"
	"github.com/hitoshi/medsync/internal/middleware"
	"github.com/hitoshi/medsync/internal/model"
	"github.com/hitoshi/medsync/internal/repository"
	workersync "github.com/hitoshi/medsync/internal/worker/sync"
)

// SyncRunner は管理ハンドラーが必要とするスケジューラインターフェース。
type SyncRunner interface {
	// RunJob は指定ジョブを同期的に1回実行する。
	// forceが真の場合、未変更スキップを無効化して強制的に同期する。
	RunJob(ctx context.Context, name string, force bool) (*workersync.RunResult, error)
	// HasJob は指定名のジョブが登録されているかを返す。
	HasJob(name string) bool
	// Schedules は全スケジュールの現在状態を返す。
	Schedules() []workersync.ScheduleInfo
}

// AdminHandler は同期管理APIのHTTPハンドラー。
type AdminHandler struct {
	runner        SyncRunner
	syncStateRepo repository.SyncStateRepository
	logger        *slog.Logger
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(runner SyncRunner, syncStateRepo repository.SyncStateRepository, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		runner:        runner,
		syncStateRepo: syncStateRepo,
		logger:        logger,
	}
}

// triggerSyncRequest は同期トリガーリクエストのボディ。
type triggerSyncRequest struct {
	Job   string `json:"job"`
	Force bool   `json:"force"`
}

// scheduleResponse は1スケジュールのAPIレスポンス。
type scheduleResponse struct {
	Job      string `json:"job"`
	Interval string `json:"interval"`
	Running  bool   `json:"running"`
}

// ledgerResponse は同期台帳1エントリのAPIレスポンス。
type ledgerResponse struct {
	Source              string     `json:"source"`
	LastSuccessAt       *time.Time `json:"last_success_at"`
	LastAttemptAt       *time.Time `json:"last_attempt_at"`
	LastFullSyncAt      *time.Time `json:"last_full_sync_at"`
	LastError           string     `json:"last_error,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
}

// statusResponse はGET /admin/syncのレスポンス。
type statusResponse struct {
	Schedules []scheduleResponse `json:"schedules"`
	Ledger    []ledgerResponse   `json:"ledger"`
}

// runResponse はPOST /admin/syncのレスポンス。
type runResponse struct {
	RunID      string   `json:"run_id"`
	Job        string   `json:"job"`
	Success    bool     `json:"success"`
	Error      string   `json:"error,omitempty"`
	DurationMs int64    `json:"duration_ms"`
	Output     []string `json:"output"`
}

// GetStatus はスケジュール状態と同期台帳を返す。
// GET /admin/sync
func (h *AdminHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Schedules: make([]scheduleResponse, 0),
		Ledger:    make([]ledgerResponse, 0),
	}

	for _, info := range h.runner.Schedules() {
		resp.Schedules = append(resp.Schedules, scheduleResponse{
			Job:      info.JobName,
			Interval: info.Interval.String(),
			Running:  info.Running,
		})
	}

	for _, source := range []string{model.SourceReports, model.SourceCatalog} {
		state, err := h.syncStateRepo.Find(r.Context(), source)
		if err != nil {
			h.logger.Error("同期台帳の読み取りに失敗しました",
				slog.String("source", source),
				slog.String("error", err.Error()),
			)
			middleware.WriteInternalServerError(w)
			return
		}
		if state == nil {
			continue
		}
		resp.Ledger = append(resp.Ledger, ledgerResponse{
			Source:              state.Source,
			LastSuccessAt:       state.LastSuccessAt,
			LastAttemptAt:       state.LastAttemptAt,
			LastFullSyncAt:      state.LastFullSyncAt,
			LastError:           state.LastError,
			ConsecutiveFailures: state.ConsecutiveFailures,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// TriggerSync は指定ジョブの同期を即時実行する。
// POST /admin/sync
// 実行はリクエストの処理内で同期的に行われ、完了後に結果と
// ログ出力のテールを返す。
func (h *AdminHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	var req triggerSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}
	if req.Job == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("jobフィールドは必須です"))
		return
	}

	if !h.runner.HasJob(req.Job) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewUnknownJobError(req.Job))
		return
	}

	result, err := h.runner.RunJob(r.Context(), req.Job, req.Force)
	if err != nil {
		if errors.Is(err, jobs.ErrAlreadyRunning) {
			middleware.WriteErrorResponse(w, http.StatusConflict, model.NewJobAlreadyRunningError(req.Job))
			return
		}
		h.logger.Error("手動トリガーの実行に失敗しました",
			slog.String("job", req.Job),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	// ジョブ自体の失敗はHTTPレベルでは成功として返し、ボディで報告する
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(runResponse{
		RunID:      result.RunID.String(),
		Job:        result.JobName,
		Success:    result.Success,
		Error:      result.Error,
		DurationMs: result.Duration.Milliseconds(),
		Output:     result.Output,
	})
}
