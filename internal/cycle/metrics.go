package cycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the cycle driver.
type Metrics struct {
	CyclesTotal     prometheus.Counter
	CycleErrors     prometheus.Counter
	BidsProcessed   *prometheus.CounterVec
	CreditsBurned   prometheus.Counter
	PromptsSettled  prometheus.Counter
	AgentsDied      prometheus.Counter
	ResourcePrice   *prometheus.GaugeVec
	ResourceUsage   *prometheus.GaugeVec
}

// NewMetrics creates and registers all cycle metrics on the default
// registry.
func NewMetrics() *Metrics {
	return &Metrics{
		CyclesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "economy_cycles_total",
			Help: "Completed control-plane cycles",
		}),
		CycleErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "economy_cycle_errors_total",
			Help: "Cycles aborted in the allocation stage",
		}),
		BidsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "economy_bids_processed_total",
			Help: "Bids cleared by the auctioneer",
		}, []string{"status"}), // winning, outbid
		CreditsBurned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "economy_credits_burned_total",
			Help: "Credits debited to SYSTEM by winning bids",
		}),
		PromptsSettled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "economy_prompts_settled_total",
			Help: "Prompts rewarded during attention drain",
		}),
		AgentsDied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "economy_agents_died_total",
			Help: "Agents transitioned to dead by the death sweep",
		}),
		ResourcePrice: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "economy_resource_price",
			Help: "Current market price per resource",
		}, []string{"resource"}),
		ResourceUsage: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "economy_resource_utilization",
			Help: "Winning demand per resource this cycle",
		}, []string{"resource"}),
	}
}
