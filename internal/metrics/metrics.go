// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ハイドレーション結果のラベル値。
const (
	HydrationRestored  = "restored"
	HydrationFallback  = "fallback"
	HydrationAnonymous = "anonymous"
	HydrationRecovered = "recovered"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ストアやワーカー、HTTP層から利用する。
type MetricsCollector interface {
	RecordHydration(outcome string)
	RecordProfileUpdate(committed bool)
	RecordJoin(joined bool)
	RecordMeetupCreated()
	RecordReviewUpsert(inserted bool)
	RecordResetRequest(success bool)
	RecordResetCodesPurged(count int)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	hydration      *prometheus.CounterVec
	profileUpdate  *prometheus.CounterVec
	joins          *prometheus.CounterVec
	meetupsCreated prometheus.Counter
	reviewUpserts  *prometheus.CounterVec
	resetRequests  *prometheus.CounterVec
	resetPurged    prometheus.Counter
	httpStatus     *prometheus.CounterVec
	requestLatency prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		hydration: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetup_session_hydration_total",
			Help: "セッション復元の結果別の回数",
		}, []string{"outcome"}),
		profileUpdate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetup_profile_update_total",
			Help: "プロフィール更新の確定/ロールバック別の回数",
		}, []string{"result"}),
		joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetup_join_total",
			Help: "参加操作の結果別の回数",
		}, []string{"result"}),
		meetupsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meetup_created_total",
			Help: "作成されたミートアップの合計数",
		}),
		reviewUpserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetup_review_upsert_total",
			Help: "レビューの新規作成/更新別の回数",
		}, []string{"kind"}),
		resetRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetup_password_reset_request_total",
			Help: "パスワード再設定コード発行の結果別の回数",
		}, []string{"result"}),
		resetPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meetup_password_reset_purged_total",
			Help: "期限切れで削除された再設定コードの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetup_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "meetup_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.hydration,
		c.profileUpdate,
		c.joins,
		c.meetupsCreated,
		c.reviewUpserts,
		c.resetRequests,
		c.resetPurged,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordHydration はセッション復元の結果を記録する。
func (c *Collector) RecordHydration(outcome string) {
	c.hydration.WithLabelValues(outcome).Inc()
}

// RecordProfileUpdate はプロフィール更新の確定またはロールバックを記録する。
func (c *Collector) RecordProfileUpdate(committed bool) {
	c.profileUpdate.WithLabelValues(result(committed, "committed", "rolled_back")).Inc()
}

// RecordJoin は参加操作の結果を記録する。
func (c *Collector) RecordJoin(joined bool) {
	c.joins.WithLabelValues(result(joined, "joined", "noop")).Inc()
}

// RecordMeetupCreated はミートアップ作成を記録する。
func (c *Collector) RecordMeetupCreated() {
	c.meetupsCreated.Inc()
}

// RecordReviewUpsert はレビューのアップサートを記録する。
func (c *Collector) RecordReviewUpsert(inserted bool) {
	c.reviewUpserts.WithLabelValues(result(inserted, "inserted", "updated")).Inc()
}

// RecordResetRequest は再設定コード発行の結果を記録する。
func (c *Collector) RecordResetRequest(success bool) {
	c.resetRequests.WithLabelValues(result(success, "issued", "rejected")).Inc()
}

// RecordResetCodesPurged は削除された期限切れコード数を記録する。
func (c *Collector) RecordResetCodesPurged(count int) {
	c.resetPurged.Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストの処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

func result(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordHydration(string) {}
func (Nop) RecordProfileUpdate(bool) {}
func (Nop) RecordJoin(bool) {}
func (Nop) RecordMeetupCreated() {}
func (Nop) RecordReviewUpsert(bool) {}
func (Nop) RecordResetRequest(bool) {}
func (Nop) RecordResetCodesPurged(int) {}
func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordRequestLatency(time.Duration) {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
