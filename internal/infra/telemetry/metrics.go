package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exported by the bot.
var (
	ReconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{Name: "stats_bot_reconnect_attempts_total", Help: "Reconnection attempts started"})
	ConnectionPhase   = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "stats_bot_connection_phase", Help: "1 for the current connection phase, 0 otherwise"}, []string{"phase"})

	ReportTicks        = promauto.NewCounterVec(prometheus.CounterOpts{Name: "stats_bot_report_ticks_total", Help: "Report upserts by target and action"}, []string{"target", "action"})
	ReportTickFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "stats_bot_report_tick_failures_total", Help: "Report ticks that failed, by stage"}, []string{"stage"})
	ReportTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "stats_bot_report_tick_duration_seconds", Help: "Report tick duration seconds", Buckets: prometheus.DefBuckets})

	Commands = promauto.NewCounterVec(prometheus.CounterOpts{Name: "stats_bot_commands_total", Help: "Commands handled by name and outcome"}, []string{"command", "outcome"})
)

// SetPhase marks phase as the only active connection phase.
func SetPhase(phase string, all []string) {
	for _, p := range all {
		v := 0.0
		if p == phase {
			v = 1
		}
		ConnectionPhase.WithLabelValues(p).Set(v)
	}
}
