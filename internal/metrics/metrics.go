// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラーや割り当てエンジンから利用する。
type MetricsCollector interface {
	RecordClaim(app string)
	RecordClaimConflict(app string)
	RecordNoInventory(app string)
	RecordCacheHit()
	RecordCacheMiss()
	RecordHTTPStatus(statusCode int)
	SetAvailableCodes(app string, count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	claims         *prometheus.CounterVec
	claimConflicts *prometheus.CounterVec
	noInventory    *prometheus.CounterVec
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	httpStatus     *prometheus.CounterVec
	availableCodes *prometheus.GaugeVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "promogate_claims_total",
			Help: "プロモコード割り当て成功の合計数",
		}, []string{"app"}),
		claimConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "promogate_claim_conflicts_total",
			Help: "割り当て時の行競合の合計数（次候補行で回復）",
		}, []string{"app"}),
		noInventory: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "promogate_no_inventory_total",
			Help: "在庫切れでリデンプションできなかった合計数",
		}, []string{"app"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "promogate_cache_hits_total",
			Help: "匿名ページキャッシュのヒット数",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "promogate_cache_misses_total",
			Help: "匿名ページキャッシュのミス数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "promogate_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		availableCodes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "promogate_available_codes",
			Help: "アプリごとの未割り当てプロモコード数",
		}, []string{"app"}),
	}

	reg.MustRegister(
		c.claims,
		c.claimConflicts,
		c.noInventory,
		c.cacheHits,
		c.cacheMisses,
		c.httpStatus,
		c.availableCodes,
	)

	return c
}

// RecordClaim は割り当て成功を記録する。
func (c *Collector) RecordClaim(app string) {
	c.claims.WithLabelValues(app).Inc()
}

// RecordClaimConflict は割り当て時の行競合を記録する。
func (c *Collector) RecordClaimConflict(app string) {
	c.claimConflicts.WithLabelValues(app).Inc()
}

// RecordNoInventory は在庫切れを記録する。
func (c *Collector) RecordNoInventory(app string) {
	c.noInventory.WithLabelValues(app).Inc()
}

// RecordCacheHit はキャッシュヒットを記録する。
func (c *Collector) RecordCacheHit() {
	c.cacheHits.Inc()
}

// RecordCacheMiss はキャッシュミスを記録する。
func (c *Collector) RecordCacheMiss() {
	c.cacheMisses.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// SetAvailableCodes はアプリごとの未割り当てコード数ゲージを更新する。
func (c *Collector) SetAvailableCodes(app string, count int) {
	c.availableCodes.WithLabelValues(app).Set(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
