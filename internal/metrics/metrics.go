// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層・Webhookハンドラー・ワーカーから利用する。
type MetricsCollector interface {
	RecordIssuanceSuccess()
	RecordIssuanceFailure(reason string)
	RecordProviderLatency(operation string, duration time.Duration)
	RecordWebhookEvent(eventType string)
	RecordCardRetired()
	RecordStaleRequestRejected()
	IncNotificationFailures()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	issuanceSuccess      prometheus.Counter
	issuanceFail         *prometheus.CounterVec
	providerLatency      *prometheus.HistogramVec
	webhookEvents        *prometheus.CounterVec
	cardsRetired         prometheus.Counter
	staleRejected        prometheus.Counter
	notificationFailures prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		issuanceSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ghost_issuance_success_total",
			Help: "カード発行成功の合計数",
		}),
		issuanceFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ghost_issuance_fail_total",
			Help: "カード発行失敗の理由別合計数",
		}, []string{"reason"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ghost_provider_latency_seconds",
			Help:    "発行プロバイダAPI呼び出しの操作別レイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ghost_webhook_events_total",
			Help: "受信したWebhookイベントの種別別合計数",
		}, []string{"type"}),
		cardsRetired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ghost_cards_retired_total",
			Help: "初回利用後に無効化された使い捨てカードの合計数",
		}),
		staleRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ghost_stale_requests_rejected_total",
			Help: "期限超過により自動却下されたリクエストの合計数",
		}),
		notificationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ghost_notification_failures_total",
			Help: "プッシュ通知の配信失敗の合計数",
		}),
	}

	reg.MustRegister(
		c.issuanceSuccess,
		c.issuanceFail,
		c.providerLatency,
		c.webhookEvents,
		c.cardsRetired,
		c.staleRejected,
		c.notificationFailures,
	)

	return c
}

// RecordIssuanceSuccess はカード発行成功を記録する。
func (c *Collector) RecordIssuanceSuccess() {
	c.issuanceSuccess.Inc()
}

// RecordIssuanceFailure はカード発行失敗を理由付きで記録する。
func (c *Collector) RecordIssuanceFailure(reason string) {
	c.issuanceFail.WithLabelValues(reason).Inc()
}

// RecordProviderLatency はプロバイダAPI呼び出しのレイテンシを記録する。
func (c *Collector) RecordProviderLatency(operation string, duration time.Duration) {
	c.providerLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordWebhookEvent は受信Webhookイベントを記録する。
func (c *Collector) RecordWebhookEvent(eventType string) {
	c.webhookEvents.WithLabelValues(eventType).Inc()
}

// RecordCardRetired は使い捨てカードの無効化を記録する。
func (c *Collector) RecordCardRetired() {
	c.cardsRetired.Inc()
}

// RecordStaleRequestRejected は期限超過リクエストの自動却下を記録する。
func (c *Collector) RecordStaleRequestRejected() {
	c.staleRejected.Inc()
}

// IncNotificationFailures はプッシュ通知の配信失敗を記録する。
func (c *Collector) IncNotificationFailures() {
	c.notificationFailures.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
