package sync

import (
	"context"
	stdsync "sync"
	"time"

	"github.com/hitoshi/medsync/internal/model"
	"github.com/hitoshi/medsync/internal/provider/catalog"
	"github.com/hitoshi/medsync/internal/provider/reports"
	"github.com/hitoshi/medsync/internal/repository"
)

// fakeCollector は記録されたメトリクスを保持するテスト用コレクター。
type fakeCollector struct {
	successes  map[string]int
	failures   map[string]string
	skipped    map[string]int
	upserted   map[string]int
	batchesSkp map[string]int
	duplicates int
}

func newFakeCollector() *fakeCollector {
	return &fakeCollector{
		successes:  make(map[string]int),
		failures:   make(map[string]string),
		skipped:    make(map[string]int),
		upserted:   make(map[string]int),
		batchesSkp: make(map[string]int),
	}
}

func (c *fakeCollector) RecordSyncSuccess(source string)            { c.successes[source]++ }
func (c *fakeCollector) RecordSyncFailure(source, reason string)    { c.failures[source] = reason }
func (c *fakeCollector) RecordSyncSkipped(source string)            { c.skipped[source]++ }
func (c *fakeCollector) RecordSyncDuration(string, time.Duration)   {}
func (c *fakeCollector) RecordHTTPStatus(int)                       {}
func (c *fakeCollector) RecordFetchLatency(time.Duration)           {}
func (c *fakeCollector) RecordRecordsUpserted(source string, n int) { c.upserted[source] += n }
func (c *fakeCollector) RecordBatchesSkipped(source string, n int)  { c.batchesSkp[source] += n }
func (c *fakeCollector) RecordDuplicatesDiscarded(n int)            { c.duplicates += n }

// fakeSyncStateRepo はインメモリの同期台帳。
type fakeSyncStateRepo struct {
	states    map[string]*model.SyncState
	attempts  int
	successes int
	failures  int

	lastFingerprint string
	lastFullSync    bool
	lastError       string

	findErr error
}

func newFakeSyncStateRepo() *fakeSyncStateRepo {
	return &fakeSyncStateRepo{states: make(map[string]*model.SyncState)}
}

func (r *fakeSyncStateRepo) Find(_ context.Context, source string) (*model.SyncState, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	return r.states[source], nil
}

func (r *fakeSyncStateRepo) RecordAttempt(_ context.Context, source string, at time.Time) error {
	r.attempts++
	return nil
}

func (r *fakeSyncStateRepo) RecordSuccess(_ context.Context, source string, at time.Time, fingerprint string, fullSync bool) error {
	r.successes++
	r.lastFingerprint = fingerprint
	r.lastFullSync = fullSync
	state := r.states[source]
	if state == nil {
		state = &model.SyncState{Source: source}
		r.states[source] = state
	}
	t := at
	state.LastSuccessAt = &t
	if fullSync {
		state.LastFullSyncAt = &t
	}
	return nil
}

func (r *fakeSyncStateRepo) RecordFailure(_ context.Context, source string, at time.Time, errMsg string) error {
	r.failures++
	r.lastError = errMsg
	return nil
}

// fakeReportRepo はインメモリのレポートリポジトリ。
type fakeReportRepo struct {
	upserted  []*model.Report
	upsertErr error
	byDrug    map[string][]model.ReportStatus
	listErr   error
}

func (r *fakeReportRepo) FindByReportID(context.Context, int64) (*model.Report, error) {
	return nil, nil
}

func (r *fakeReportRepo) UpsertBatch(_ context.Context, reports []*model.Report) error {
	if r.upsertErr != nil {
		return r.upsertErr
	}
	r.upserted = append(r.upserted, reports...)
	return nil
}

func (r *fakeReportRepo) ListStatusesByDrug(context.Context) (map[string][]model.ReportStatus, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	if r.byDrug == nil {
		return map[string][]model.ReportStatus{}, nil
	}
	return r.byDrug, nil
}

// fakeDrugRepo はインメモリの医薬品リポジトリ。
type fakeDrugRepo struct {
	upserted  []*model.Drug
	upsertErr error
	ensured   []string
	ensureErr error
}

func (r *fakeDrugRepo) FindByCode(context.Context, string) (*model.Drug, error) { return nil, nil }

func (r *fakeDrugRepo) UpsertBatch(_ context.Context, drugs []*model.Drug) error {
	if r.upsertErr != nil {
		return r.upsertErr
	}
	r.upserted = append(r.upserted, drugs...)
	return nil
}

func (r *fakeDrugRepo) EnsureExist(_ context.Context, codes []string) (int64, error) {
	if r.ensureErr != nil {
		return 0, r.ensureErr
	}
	r.ensured = append(r.ensured, codes...)
	return int64(len(codes)), nil
}

func (r *fakeDrugRepo) UpdateCurrentStatuses(_ context.Context, updates []repository.StatusUpdate) (int64, error) {
	return int64(len(updates)), nil
}

func (r *fakeDrugRepo) ResetStatusesWithoutReports(context.Context) (int64, error) { return 0, nil }
func (r *fakeDrugRepo) SyncHasReports(context.Context) (int64, error)              { return 0, nil }
func (r *fakeDrugRepo) CountAll(context.Context) (int, error)                      { return len(r.upserted), nil }

// fakeReportsProvider はページ列を返すテスト用レポートプロバイダ。
type fakeReportsProvider struct {
	loginErr   error
	loginCalls int
	pages      []*reports.Page
	listErr    error
	listCalls  int
	lastSince  time.Time
}

func (p *fakeReportsProvider) Login(context.Context) error {
	p.loginCalls++
	return p.loginErr
}

func (p *fakeReportsProvider) ListUpdatedSince(_ context.Context, since time.Time, offset int) (*reports.Page, error) {
	p.lastSince = since
	if p.listErr != nil {
		return nil, p.listErr
	}
	if p.listCalls >= len(p.pages) {
		return &reports.Page{}, nil
	}
	page := p.pages[p.listCalls]
	p.listCalls++
	return page, nil
}

// fakeCatalogProvider はテスト用カタログプロバイダ。
type fakeCatalogProvider struct {
	fingerprint string
	probeErr    error

	products []catalog.Product
	listErr  error

	details    map[string]*catalog.Detail
	detailErrs map[string]error

	mu          stdsync.Mutex
	detailCalls map[string]int
}

func (p *fakeCatalogProvider) Probe(context.Context) (string, error) {
	if p.probeErr != nil {
		return "", p.probeErr
	}
	return p.fingerprint, nil
}

func (p *fakeCatalogProvider) ListProducts(context.Context) ([]catalog.Product, []byte, error) {
	if p.listErr != nil {
		return nil, nil, p.listErr
	}
	return p.products, []byte(`[]`), nil
}

func (p *fakeCatalogProvider) FetchDetail(_ context.Context, code string) (*catalog.Detail, error) {
	p.mu.Lock()
	if p.detailCalls == nil {
		p.detailCalls = make(map[string]int)
	}
	p.detailCalls[code]++
	p.mu.Unlock()
	if err := p.detailErrs[code]; err != nil {
		return nil, err
	}
	if d, ok := p.details[code]; ok {
		return d, nil
	}
	return &catalog.Detail{Code: code}, nil
}
