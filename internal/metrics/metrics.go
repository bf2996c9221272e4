// Package metrics centralizes the Prometheus collectors. Everything is
// registered on the default registry and served via promhttp.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RefreshDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "officepulse",
		Name:      "refresh_duration_seconds",
		Help:      "Wall time of one aggregation stage per periodic run.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"stage"})

	RefreshErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "officepulse",
		Name:      "refresh_errors_total",
		Help:      "Failed aggregation stages; the job retries next tick.",
	}, []string{"stage"})

	RankingQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "officepulse",
		Name:      "ranking_queries_total",
		Help:      "Ranking reads served, labeled by period and mode.",
	}, []string{"period", "mode"})

	MovesAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "officepulse",
		Name:      "game_moves_accepted_total",
		Help:      "Valid game moves applied.",
	})

	MovesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "officepulse",
		Name:      "game_moves_rejected_total",
		Help:      "Game moves rejected by validation.",
	})

	TieBreakersOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "officepulse",
		Name:      "tiebreakers_open",
		Help:      "Tie-breaker cases currently pending or in progress.",
	})

	LiveSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "officepulse",
		Name:      "live_subscribers",
		Help:      "Websocket viewers currently connected.",
	})
)

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }
