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
// サービス層、ミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordAuthAttempt(operation string, success bool)
	RecordQuotaRejection(resource string)
	RecordCascadeTransition(entityType, status string)
	RecordAuditFailure()
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordCleanupDeleted(target string, count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authAttempts      *prometheus.CounterVec
	quotaRejections   *prometheus.CounterVec
	cascadeTransition *prometheus.CounterVec
	auditFailures     prometheus.Counter
	httpStatus        *prometheus.CounterVec
	requestLatency    prometheus.Histogram
	cleanupDeleted    *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agileflow_auth_attempts_total",
			Help: "認証操作の試行数（操作種別・結果別）",
		}, []string{"operation", "result"}),
		quotaRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agileflow_quota_rejections_total",
			Help: "プラン上限により拒否された作成要求の数",
		}, []string{"resource"}),
		cascadeTransition: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agileflow_cascade_transitions_total",
			Help: "ライフサイクル連鎖による状態遷移の数",
		}, []string{"entity_type", "status"}),
		auditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agileflow_audit_write_failures_total",
			Help: "監査ログの書き込み失敗数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agileflow_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "agileflow_request_latency_seconds",
			Help:    "HTTPリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		cleanupDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agileflow_cleanup_deleted_total",
			Help: "クリーンアップジョブで削除・失効させた行数",
		}, []string{"target"}),
	}

	reg.MustRegister(
		c.authAttempts,
		c.quotaRejections,
		c.cascadeTransition,
		c.auditFailures,
		c.httpStatus,
		c.requestLatency,
		c.cleanupDeleted,
	)

	return c
}

// RecordAuthAttempt は認証操作（login, refresh等）の結果を記録する。
func (c *Collector) RecordAuthAttempt(operation string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.authAttempts.WithLabelValues(operation, result).Inc()
}

// RecordQuotaRejection はプラン上限による拒否を記録する。
func (c *Collector) RecordQuotaRejection(resource string) {
	c.quotaRejections.WithLabelValues(resource).Inc()
}

// RecordCascadeTransition は連鎖による状態遷移を記録する。
func (c *Collector) RecordCascadeTransition(entityType, status string) {
	c.cascadeTransition.WithLabelValues(entityType, status).Inc()
}

// RecordAuditFailure は監査ログの書き込み失敗を記録する。
func (c *Collector) RecordAuditFailure() {
	c.auditFailures.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストのレイテンシを記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordCleanupDeleted はクリーンアップ対象ごとの処理件数を記録する。
func (c *Collector) RecordCleanupDeleted(target string, count int64) {
	c.cleanupDeleted.WithLabelValues(target).Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
// 一部のコレクターが失敗しても、収集できたメトリクスは返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// NopCollector は何も記録しないMetricsCollector。
type NopCollector struct{}

func (NopCollector) RecordAuthAttempt(string, bool) {}
func (NopCollector) RecordQuotaRejection(string) {}
func (NopCollector) RecordCascadeTransition(string, string) {}
func (NopCollector) RecordAuditFailure() {}
func (NopCollector) RecordHTTPStatus(int) {}
func (NopCollector) RecordRequestLatency(time.Duration) {}
func (NopCollector) RecordCleanupDeleted(string, int64) {}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
