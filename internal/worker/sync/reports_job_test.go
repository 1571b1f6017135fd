package sync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/hitoshi/medsync/internal/model"
	"github.com/hitoshi/medsync/internal/provider"
	"github.com/hitoshi/medsync/internal/provider/reports"
	"github.com/hitoshi/medsync/internal/reconcile"
	"github.com/hitoshi/medsync/internal/security"
	"github.com/hitoshi/medsync/internal/status"
)

func reportRaw(t *testing.T, id int64, statusVal string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"id":           id,
		"din":          "00000001",
		"type":         "shortage",
		"status":       statusVal,
		"created_date": "2026-07-01T00:00:00",
		"updated_date": "2026-08-01T00:00:00",
	})
	if err != nil {
		t.Fatalf("テストレコードの生成に失敗しました: %v", err)
	}
	return raw
}

func newTestReportsJob(p *fakeReportsProvider, reportRepo *fakeReportRepo, drugRepo *fakeDrugRepo, ledger *fakeSyncStateRepo, collector *fakeCollector) *ReportsJob {
	logger := discardLogger()
	reconciler := reconcile.NewReportReconciler(security.NewContentSanitizer(), logger)
	recomputer := status.NewRecomputer(drugRepo, reportRepo, logger)
	return NewReportsJob(p, reconciler, reportRepo, drugRepo, ledger, recomputer, collector, 2)
}

func TestReportsJob_Run_Success(t *testing.T) {
	p := &fakeReportsProvider{
		pages: []*reports.Page{
			{
				Records: []reports.Record{
					{ID: 1, Raw: reportRaw(t, 1, "active_confirmed")},
					{ID: 2, Raw: reportRaw(t, 2, "resolved")},
				},
				Fetched:   2,
				Remaining: 1,
			},
			{
				Records: []reports.Record{
					{ID: 3, Raw: reportRaw(t, 3, "anticipated_shortage")},
				},
				Fetched:   1,
				Remaining: 0,
			},
		},
	}
	reportRepo := &fakeReportRepo{}
	ledger := newFakeSyncStateRepo()
	collector := newFakeCollector()

	job := newTestReportsJob(p, reportRepo, &fakeDrugRepo{}, ledger, collector)
	if err := job.Run(context.Background(), discardLogger()); err != nil {
		t.Fatalf("Runに失敗しました: %v", err)
	}

	if p.loginCalls != 1 {
		t.Errorf("loginCalls = %d, want 1", p.loginCalls)
	}
	if len(reportRepo.upserted) != 3 {
		t.Errorf("アップサート件数 = %d, want 3", len(reportRepo.upserted))
	}
	if ledger.attempts != 1 || ledger.successes != 1 || ledger.failures != 0 {
		t.Errorf("台帳の記録が期待値と異なります: attempts=%d successes=%d failures=%d",
			ledger.attempts, ledger.successes, ledger.failures)
	}
	// レポート同期はフィンガープリントもフルスキャンフラグも記録しない
	if ledger.lastFingerprint != "" || ledger.lastFullSync {
		t.Errorf("fingerprint=%q fullSync=%v, want \"\"/false", ledger.lastFingerprint, ledger.lastFullSync)
	}
	if collector.successes[model.SourceReports] != 1 {
		t.Errorf("成功メトリクス = %d, want 1", collector.successes[model.SourceReports])
	}
	if collector.upserted[model.SourceReports] != 3 {
		t.Errorf("アップサートメトリクス = %d, want 3", collector.upserted[model.SourceReports])
	}
}

func TestReportsJob_Run_UsesOverlapWindow(t *testing.T) {
	lastSuccess := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ledger := newFakeSyncStateRepo()
	ledger.states[model.SourceReports] = &model.SyncState{
		Source:        model.SourceReports,
		LastSuccessAt: &lastSuccess,
	}
	p := &fakeReportsProvider{}

	job := newTestReportsJob(p, &fakeReportRepo{}, &fakeDrugRepo{}, ledger, newFakeCollector())
	if err := job.Run(context.Background(), discardLogger()); err != nil {
		t.Fatalf("Runに失敗しました: %v", err)
	}

	// 前回成功時刻から重複ウィンドウ分だけ遡ること
	want := lastSuccess.Add(-reportsOverlap)
	if !p.lastSince.Equal(want) {
		t.Errorf("since = %v, want %v", p.lastSince, want)
	}
}

func TestReportsJob_Run_EmptyResultIsSuccess(t *testing.T) {
	p := &fakeReportsProvider{}
	reportRepo := &fakeReportRepo{}
	ledger := newFakeSyncStateRepo()
	collector := newFakeCollector()

	job := newTestReportsJob(p, reportRepo, &fakeDrugRepo{}, ledger, collector)
	if err := job.Run(context.Background(), discardLogger()); err != nil {
		t.Fatalf("Runに失敗しました: %v", err)
	}

	if len(reportRepo.upserted) != 0 {
		t.Errorf("アップサート件数 = %d, want 0", len(reportRepo.upserted))
	}
	// 変化なしでも台帳の成功時刻は進む
	if ledger.successes != 1 {
		t.Errorf("successes = %d, want 1", ledger.successes)
	}
}

func TestReportsJob_Run_AuthFailure(t *testing.T) {
	p := &fakeReportsProvider{
		loginErr: &provider.FetchError{URL: "https://example.com/login", StatusCode: http.StatusUnauthorized},
	}
	ledger := newFakeSyncStateRepo()
	collector := newFakeCollector()

	job := newTestReportsJob(p, &fakeReportRepo{}, &fakeDrugRepo{}, ledger, collector)
	err := job.Run(context.Background(), discardLogger())
	if err == nil {
		t.Fatal("認証失敗はエラーを返すべきです")
	}

	if ledger.attempts != 1 || ledger.failures != 1 || ledger.successes != 0 {
		t.Errorf("台帳の記録が期待値と異なります: attempts=%d successes=%d failures=%d",
			ledger.attempts, ledger.successes, ledger.failures)
	}
	if collector.failures[model.SourceReports] != "auth" {
		t.Errorf("失敗理由 = %q, want auth", collector.failures[model.SourceReports])
	}
}

func TestReportsJob_Run_FetchFailure(t *testing.T) {
	p := &fakeReportsProvider{
		listErr: &provider.FetchError{URL: "https://example.com/search", StatusCode: http.StatusServiceUnavailable},
	}
	ledger := newFakeSyncStateRepo()
	collector := newFakeCollector()

	job := newTestReportsJob(p, &fakeReportRepo{}, &fakeDrugRepo{}, ledger, collector)
	if err := job.Run(context.Background(), discardLogger()); err == nil {
		t.Fatal("フェッチ失敗はエラーを返すべきです")
	}

	if collector.failures[model.SourceReports] != "fetch" {
		t.Errorf("失敗理由 = %q, want fetch", collector.failures[model.SourceReports])
	}
	if ledger.lastError == "" {
		t.Error("台帳にエラーメッセージが記録されるべきです")
	}
}

func TestReportsJob_Run_DuplicatesCounted(t *testing.T) {
	p := &fakeReportsProvider{
		pages: []*reports.Page{
			{
				Records: []reports.Record{
					{ID: 1, Raw: reportRaw(t, 1, "active_confirmed")},
					{ID: 1, Raw: reportRaw(t, 1, "resolved")},
				},
				Fetched:   2,
				Remaining: 0,
			},
		},
	}
	reportRepo := &fakeReportRepo{}
	collector := newFakeCollector()

	job := newTestReportsJob(p, reportRepo, &fakeDrugRepo{}, newFakeSyncStateRepo(), collector)
	if err := job.Run(context.Background(), discardLogger()); err != nil {
		t.Fatalf("Runに失敗しました: %v", err)
	}

	if collector.duplicates != 1 {
		t.Errorf("重複メトリクス = %d, want 1", collector.duplicates)
	}
	if len(reportRepo.upserted) != 1 {
		t.Errorf("アップサート件数 = %d, want 1", len(reportRepo.upserted))
	}
}

func reportRawForCode(t *testing.T, id int64, din, statusVal string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"id":           id,
		"din":          din,
		"type":         "shortage",
		"status":       statusVal,
		"created_date": "2026-07-01T00:00:00",
		"updated_date": "2026-08-01T00:00:00",
	})
	if err != nil {
		t.Fatalf("テストレコードの生成に失敗しました: %v", err)
	}
	return raw
}

func TestReportsJob_Run_CreatesStubDrugs(t *testing.T) {
	// カタログに存在しない製品を参照するレポートでも
	// スタブ行が作られてステータス導出の対象になること
	p := &fakeReportsProvider{
		pages: []*reports.Page{
			{
				Records: []reports.Record{
					{ID: 101, Raw: reportRawForCode(t, 101, "99999999", "active_confirmed")},
				},
				Fetched:   1,
				Remaining: 0,
			},
		},
	}
	drugRepo := &fakeDrugRepo{}

	job := newTestReportsJob(p, &fakeReportRepo{}, drugRepo, newFakeSyncStateRepo(), newFakeCollector())
	if err := job.Run(context.Background(), discardLogger()); err != nil {
		t.Fatalf("Runに失敗しました: %v", err)
	}

	if len(drugRepo.ensured) != 1 || drugRepo.ensured[0] != "99999999" {
		t.Errorf("スタブ作成対象 = %v, want [99999999]", drugRepo.ensured)
	}
}

func TestReportsJob_Run_StubCodesDeduplicated(t *testing.T) {
	p := &fakeReportsProvider{
		pages: []*reports.Page{
			{
				Records: []reports.Record{
					{ID: 1, Raw: reportRawForCode(t, 1, "11111111", "active_confirmed")},
					{ID: 2, Raw: reportRawForCode(t, 2, "11111111", "resolved")},
				},
				Fetched:   2,
				Remaining: 0,
			},
		},
	}
	drugRepo := &fakeDrugRepo{}

	job := newTestReportsJob(p, &fakeReportRepo{}, drugRepo, newFakeSyncStateRepo(), newFakeCollector())
	if err := job.Run(context.Background(), discardLogger()); err != nil {
		t.Fatalf("Runに失敗しました: %v", err)
	}

	if len(drugRepo.ensured) != 1 {
		t.Errorf("スタブ作成対象 = %v, want 1件", drugRepo.ensured)
	}
}

func TestReportsJob_Run_ContinuesPastUnreadablePage(t *testing.T) {
	// 全レコードが読み取り不能なページでもページネーションは継続すること
	p := &fakeReportsProvider{
		pages: []*reports.Page{
			{Fetched: 2, Remaining: 1},
			{
				Records: []reports.Record{
					{ID: 3, Raw: reportRaw(t, 3, "active_confirmed")},
				},
				Fetched:   1,
				Remaining: 0,
			},
		},
	}
	reportRepo := &fakeReportRepo{}

	job := newTestReportsJob(p, reportRepo, &fakeDrugRepo{}, newFakeSyncStateRepo(), newFakeCollector())
	if err := job.Run(context.Background(), discardLogger()); err != nil {
		t.Fatalf("Runに失敗しました: %v", err)
	}

	if p.listCalls != 2 {
		t.Errorf("listCalls = %d, want 2", p.listCalls)
	}
	if len(reportRepo.upserted) != 1 {
		t.Errorf("アップサート件数 = %d, want 1", len(reportRepo.upserted))
	}
}

func TestFailureReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&provider.FetchError{StatusCode: http.StatusUnauthorized}, "auth"},
		{&provider.FetchError{StatusCode: http.StatusForbidden}, "auth"},
		{&provider.FetchError{StatusCode: http.StatusInternalServerError}, "fetch"},
		{errors.New("database is down"), "internal"},
	}

	for _, tt := range tests {
		if got := failureReason(tt.err); got != tt.want {
			t.Errorf("failureReason(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
