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
// 識別クライアント、植物サービス、HTTPミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordIdentificationSuccess()
	RecordIdentificationFailure(reason string)
	RecordIdentificationLatency(duration time.Duration)
	RecordPlantCreated(resolution string)
	RecordHTTPStatus(statusCode int)
	RecordSessionsPurged(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	identifySuccess prometheus.Counter
	identifyFail    *prometheus.CounterVec
	identifyLatency prometheus.Histogram
	plantsCreated   *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
	sessionsPurged  prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		identifySuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plantdex_identification_success_total",
			Help: "植物識別API呼び出し成功の合計数",
		}),
		identifyFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plantdex_identification_fail_total",
			Help: "植物識別API呼び出し失敗の合計数（理由別）",
		}, []string{"reason"}),
		identifyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "plantdex_identification_latency_seconds",
			Help:    "植物識別API呼び出しのレイテンシ（秒）",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		}),
		plantsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plantdex_plants_created_total",
			Help: "作成された植物レコードの合計数（解決経路別）",
		}, []string{"resolution"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plantdex_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plantdex_sessions_purged_total",
			Help: "削除された期限切れセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.identifySuccess,
		c.identifyFail,
		c.identifyLatency,
		c.plantsCreated,
		c.httpStatus,
		c.sessionsPurged,
	)

	return c
}

// RecordIdentificationSuccess は識別成功を記録する。
func (c *Collector) RecordIdentificationSuccess() {
	c.identifySuccess.Inc()
}

// RecordIdentificationFailure は識別失敗を理由付きで記録する。
func (c *Collector) RecordIdentificationFailure(reason string) {
	c.identifyFail.WithLabelValues(reason).Inc()
}

// RecordIdentificationLatency は識別API呼び出しのレイテンシを記録する。
func (c *Collector) RecordIdentificationLatency(duration time.Duration) {
	c.identifyLatency.Observe(duration.Seconds())
}

// RecordPlantCreated は植物レコード作成を解決経路付きで記録する。
func (c *Collector) RecordPlantCreated(resolution string) {
	c.plantsCreated.WithLabelValues(resolution).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordSessionsPurged は削除された期限切れセッション数を記録する。
func (c *Collector) RecordSessionsPurged(count int64) {
	c.sessionsPurged.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
