package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/medsync/internal/jobs"
)

// Job は同期ジョブの実行インターフェース。
type Job interface {
	// Name はジョブの一意な名前を返す。
	Name() string
	// Run はジョブを1回実行する。ログは渡されたロガーへ出力する。
	Run(ctx context.Context, logger *slog.Logger) error
}

// Schedule は1ジョブの定期実行設定。
type Schedule struct {
	Job      Job
	Interval time.Duration
	// RunAtStart は起動直後に1回実行するかどうか。
	RunAtStart bool
}

// ScheduleInfo はスケジュール状態の読み取り用スナップショット。
type ScheduleInfo struct {
	JobName  string
	Interval time.Duration
	Running  bool
}

// RunResult は手動トリガーによる同期実行1回の結果。
type RunResult struct {
	RunID     uuid.UUID
	JobName   string
	Success   bool
	Error     string
	Output    []string
	StartedAt time.Time
	Duration  time.Duration
}

// Scheduler は同期ジョブの定期実行と手動トリガーを管理する。
// ジョブごとの多重起動はレジストリで防がれ、定期実行と手動トリガーが
// 衝突した場合は後から来た方が即座に失敗する。
type Scheduler struct {
	schedules []Schedule
	registry  *jobs.Registry
	logger    *slog.Logger
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(schedules []Schedule, registry *jobs.Registry, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		schedules: schedules,
		registry:  registry,
		logger:    logger,
	}
}

// Start は全スケジュールのティッカーを起動する。
// コンテキストがキャンセルされるまでブロックする。
func (s *Scheduler) Start(ctx context.Context) {
	var wg sync.WaitGroup

	for _, sched := range s.schedules {
		wg.Add(1)
		go func(sched Schedule) {
			defer wg.Done()
			s.runSchedule(ctx, sched)
		}(sched)
	}

	s.logger.Info("同期スケジューラを開始しました",
		slog.Int("schedules", len(s.schedules)),
	)

	wg.Wait()
	s.logger.Info("同期スケジューラを停止しました")
}

func (s *Scheduler) runSchedule(ctx context.Context, sched Schedule) {
	logger := s.logger.With(slog.String("job", sched.Job.Name()))

	logger.Info("スケジュールを開始しました",
		slog.Duration("interval", sched.Interval),
	)

	if sched.RunAtStart {
		s.runScheduled(ctx, sched.Job, logger)
	}

	ticker := time.NewTicker(sched.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runScheduled(ctx, sched.Job, logger)
		}
	}
}

// runScheduled は定期実行の1サイクル。実行権が取れない場合（手動トリガーと
// 衝突した場合など）は次のティックまで持ち越す。
func (s *Scheduler) runScheduled(ctx context.Context, job Job, logger *slog.Logger) {
	if err := s.registry.TryAcquire(job.Name()); err != nil {
		logger.Info("ジョブが実行中のため定期実行を見送ります")
		return
	}
	defer s.registry.Release(job.Name())

	if err := job.Run(ctx, logger); err != nil {
		logger.Error("ジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunJob は指定ジョブを同期的に1回実行する（手動トリガー用）。
// forceが真でジョブが対応している場合、未変更スキップを無効化する。
// 実行権が取れない場合はjobs.ErrAlreadyRunningを返す。
// 未知のジョブ名にはエラーを返す。実行中のログは結果のOutputに収集される。
func (s *Scheduler) RunJob(ctx context.Context, name string, force bool) (*RunResult, error) {
	job := s.findJob(name)
	if job == nil {
		return nil, fmt.Errorf("未知のジョブ名です: %s", name)
	}

	if err := s.registry.TryAcquire(job.Name()); err != nil {
		return nil, err
	}
	defer s.registry.Release(job.Name())

	// 実行権を取ってからフラグを立てる（同時書き込み防止）
	if force {
		if f, ok := job.(interface{ SetForce(force bool) }); ok {
			f.SetForce(true)
		}
	}

	runID := uuid.New()
	start := time.Now()

	tail := NewTailBuffer(0)
	logger := NewTeeLogger(s.logger, tail).With(
		slog.String("job", job.Name()),
		slog.String("run_id", runID.String()),
	)

	logger.Info("手動トリガーによる同期を開始します")

	err := job.Run(ctx, logger)

	result := &RunResult{
		RunID:     runID,
		JobName:   job.Name(),
		Success:   err == nil,
		Output:    tail.Lines(),
		StartedAt: start,
		Duration:  time.Since(start),
	}
	if err != nil {
		result.Error = err.Error()
	}

	return result, nil
}

// HasJob は指定名のジョブが登録されているかを返す。
func (s *Scheduler) HasJob(name string) bool {
	return s.findJob(name) != nil
}

// Schedules は全スケジュールの現在状態を返す。
func (s *Scheduler) Schedules() []ScheduleInfo {
	infos := make([]ScheduleInfo, 0, len(s.schedules))
	for _, sched := range s.schedules {
		infos = append(infos, ScheduleInfo{
			JobName:  sched.Job.Name(),
			Interval: sched.Interval,
			Running:  s.registry.IsRunning(sched.Job.Name()),
		})
	}
	return infos
}

func (s *Scheduler) findJob(name string) Job {
	for _, sched := range s.schedules {
		if sched.Job.Name() == name {
			return sched.Job
		}
	}
	return nil
}
