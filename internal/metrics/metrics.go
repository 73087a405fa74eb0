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
// 認証サービス、アヒルサービス、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordLogin(result string)
	RecordDuckView(kind string)
	RecordMilestoneAssigned()
	RecordHTTPStatus(statusCode int)
	RecordRequestDuration(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins          *prometheus.CounterVec
	duckViews       *prometheus.CounterVec
	milestones      prometheus.Counter
	httpStatus      *prometheus.CounterVec
	requestDuration prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cyberduck_login_total",
			Help: "ログインコールバックの結果別件数",
		}, []string{"result"}),
		duckViews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cyberduck_duck_views_total",
			Help: "アヒル閲覧数（new: 初回, repeat: 再閲覧）",
		}, []string{"kind"}),
		milestones: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cyberduck_milestones_assigned_total",
			Help: "付与されたマイルストーン順位の合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cyberduck_http_requests_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cyberduck_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.logins,
		c.duckViews,
		c.milestones,
		c.httpStatus,
		c.requestDuration,
	)

	return c
}

// RecordLogin はログインコールバックの結果を記録する。
func (c *Collector) RecordLogin(result string) {
	c.logins.WithLabelValues(result).Inc()
}

// RecordDuckView はアヒル閲覧を記録する。
func (c *Collector) RecordDuckView(kind string) {
	c.duckViews.WithLabelValues(kind).Inc()
}

// RecordMilestoneAssigned は順位付与を記録する。
func (c *Collector) RecordMilestoneAssigned() {
	c.milestones.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestDuration はリクエストの処理時間を記録する。
func (c *Collector) RecordRequestDuration(duration time.Duration) {
	c.requestDuration.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
