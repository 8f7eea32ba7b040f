package health

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the automation's Prometheus collectors. A fresh
// registry keeps test processes from colliding on global state.
type Metrics struct {
	Registry *prometheus.Registry

	PassesTotal      *prometheus.CounterVec
	PassErrorsTotal  *prometheus.CounterVec
	CycleStatesTotal *prometheus.CounterVec
	OrdersTotal      *prometheus.CounterVec
	RejectionsTotal  prometheus.Counter
	ZombiesTotal     prometheus.Counter
	OpenTrades       *prometheus.GaugeVec
	RealizedPnL      *prometheus.GaugeVec
}

// NewMetrics builds and registers all collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		PassesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dunder_hedger_passes_total",
			Help: "Automation passes executed, by account.",
		}, []string{"account"}),
		PassErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dunder_hedger_pass_errors_total",
			Help: "Automation passes that aborted with an error, by account.",
		}, []string{"account"}),
		CycleStatesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dunder_hedger_cycle_states_total",
			Help: "Cycle state classifications produced by the decision core.",
		}, []string{"state"}),
		OrdersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dunder_hedger_orders_total",
			Help: "Orders submitted to the broker, by kind.",
		}, []string{"kind"}),
		RejectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "dunder_hedger_order_rejections_total",
			Help: "Orders that reached a terminal non-filled state.",
		}),
		ZombiesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "dunder_hedger_zombies_settled_total",
			Help: "Trades settled at worst-case economics by reconciliation.",
		}),
		OpenTrades: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dunder_hedger_open_trades",
			Help: "Currently open trades, by account.",
		}, []string{"account"}),
		RealizedPnL: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dunder_hedger_cycle_realized_pnl_dollars",
			Help: "Realized P&L of the open cycle, by account.",
		}, []string{"account"}),
	}
}
