// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ワーカーやサービス層から利用する。
type MetricsCollector interface {
	RecordSyncSuccess(source string)
	RecordSyncFailure(source string, reason string)
	RecordSyncSkipped(source string)
	RecordSyncDuration(source string, duration time.Duration)
	RecordHTTPStatus(statusCode int)
	RecordFetchLatency(duration time.Duration)
	RecordRecordsUpserted(source string, count int)
	RecordBatchesSkipped(source string, count int)
	RecordDuplicatesDiscarded(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	syncSuccess     *prometheus.CounterVec
	syncFail        *prometheus.CounterVec
	syncSkipped     *prometheus.CounterVec
	syncDuration    *prometheus.HistogramVec
	httpStatus      *prometheus.CounterVec
	fetchLatency    prometheus.Histogram
	recordsUpserted *prometheus.CounterVec
	batchesSkipped  *prometheus.CounterVec
	duplicatesTotal prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		syncSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medsync_sync_success_total",
			Help: "同期成功の合計数（ソース別）",
		}, []string{"source"}),
		syncFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medsync_sync_fail_total",
			Help: "同期失敗の合計数（ソース別）",
		}, []string{"source", "reason"}),
		syncSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medsync_sync_skipped_total",
			Help: "変更なしによりスキップされた同期の合計数（ソース別）",
		}, []string{"source"}),
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medsync_sync_duration_seconds",
			Help:    "同期実行の所要時間（秒、ソース別）",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600, 7200},
		}, []string{"source"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medsync_http_status_total",
			Help: "上流HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "medsync_fetch_latency_seconds",
			Help:    "上流フェッチのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		recordsUpserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medsync_records_upserted_total",
			Help: "アップサートされたレコードの合計数（ソース別）",
		}, []string{"source"}),
		batchesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medsync_batches_skipped_total",
			Help: "リトライ後もスキップされたバッチの合計数（ソース別）",
		}, []string{"source"}),
		duplicatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medsync_duplicates_discarded_total",
			Help: "重複により破棄されたレコードの合計数",
		}),
	}

	reg.MustRegister(
		c.syncSuccess,
		c.syncFail,
		c.syncSkipped,
		c.syncDuration,
		c.httpStatus,
		c.fetchLatency,
		c.recordsUpserted,
		c.batchesSkipped,
		c.duplicatesTotal,
	)

	return c
}

// RecordSyncSuccess は同期成功を記録する。
func (c *Collector) RecordSyncSuccess(source string) {
	c.syncSuccess.WithLabelValues(source).Inc()
}

// RecordSyncFailure は同期失敗を記録する。
func (c *Collector) RecordSyncFailure(source string, reason string) {
	c.syncFail.WithLabelValues(source, reason).Inc()
}

// RecordSyncSkipped は変更なしによる同期スキップを記録する。
func (c *Collector) RecordSyncSkipped(source string) {
	c.syncSkipped.WithLabelValues(source).Inc()
}

// RecordSyncDuration は同期実行の所要時間を記録する。
func (c *Collector) RecordSyncDuration(source string, duration time.Duration) {
	c.syncDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordHTTPStatus は上流HTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordFetchLatency は上流フェッチのレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordRecordsUpserted はアップサートされたレコード数を記録する。
func (c *Collector) RecordRecordsUpserted(source string, count int) {
	c.recordsUpserted.WithLabelValues(source).Add(float64(count))
}

// RecordBatchesSkipped はスキップされたバッチ数を記録する。
func (c *Collector) RecordBatchesSkipped(source string, count int) {
	c.batchesSkipped.WithLabelValues(source).Add(float64(count))
}

// RecordDuplicatesDiscarded は重複破棄されたレコード数を記録する。
func (c *Collector) RecordDuplicatesDiscarded(count int) {
	c.duplicatesTotal.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
