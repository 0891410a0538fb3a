package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus 指标。错误分类与交易动作作为标签，便于按维度告警。
var (
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perpilot",
		Name:      "cycles_total",
		Help:      "交易循环执行次数，mode 为 full/short。",
	}, []string{"mode"})

	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perpilot",
		Name:      "decisions_total",
		Help:      "模型决策次数，按动作统计。",
	}, []string{"action"})

	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perpilot",
		Name:      "orders_total",
		Help:      "订单执行结果，result 为 ok/rejected/failed。",
	}, []string{"result"})

	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perpilot",
		Name:      "errors_total",
		Help:      "循环内错误次数，class 为 fetch/decision/risk/execute/internal。",
	}, []string{"class"})

	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "perpilot",
		Name:      "cycle_duration_seconds",
		Help:      "单次完整循环耗时。",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	})
)

// Handler 暴露 /metrics 端点。
func Handler() http.Handler {
	return promhttp.Handler()
}
