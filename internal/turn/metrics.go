package turn

import "github.com/prometheus/client_golang/prometheus"

var (
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_turns_total",
			Help: "Number of finished turns by outcome.",
		},
		[]string{"outcome"},
	)

	turnsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "assistant_turns_in_flight",
			Help: "Number of turns currently holding their input gate.",
		},
	)

	turnDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "assistant_turn_duration_seconds",
			Help:    "Time from submission to the terminal outcome of a turn.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)

	statusFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_run_status_fetches_total",
			Help: "Number of run status fetches by observed status.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(turnsTotal)
	prometheus.MustRegister(turnsInFlight)
	prometheus.MustRegister(turnDuration)
	prometheus.MustRegister(statusFetches)
}
