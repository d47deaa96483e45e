package metrics

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BarsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendbot_bars_total",
			Help: "Bars evaluated by the engine.",
		},
		[]string{"symbol"},
	)

	IntentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendbot_intents_total",
			Help: "Strategy intents by action.",
		},
		[]string{"symbol", "action"},
	)

	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendbot_orders_submitted_total",
			Help: "Orders accepted by the broker.",
		},
		[]string{"symbol", "side"},
	)

	RejectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendbot_rejects_total",
			Help: "Intents rejected by the risk gate or the broker.",
		},
		[]string{"symbol", "reason"},
	)

	PositionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trendbot_positions_open",
			Help: "Open positions at the last sync.",
		},
	)

	EquityGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trendbot_equity",
			Help: "Portfolio value at the last sync.",
		},
	)
)

func init() {
	prometheus.MustRegister(BarsTotal, IntentsTotal, OrdersTotal, RejectsTotal, PositionsOpen, EquityGauge)
}

// Serve exposes /metrics on addr in the background.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	return srv
}
