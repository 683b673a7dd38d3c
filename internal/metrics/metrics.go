package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	backendStarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "netwarden",
			Subsystem: "backend",
			Name:      "starts_total",
			Help:      "Number of successful backend starts.",
		},
	)
	backendStops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "netwarden",
			Subsystem: "backend",
			Name:      "stops_total",
			Help:      "Number of user-initiated backend stops.",
		},
	)
	backendRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "netwarden",
			Subsystem: "backend",
			Name:      "restarts_total",
			Help:      "Number of user-initiated backend restarts.",
		},
	)
	backendUnexpectedExits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "netwarden",
			Subsystem: "backend",
			Name:      "unexpected_exits_total",
			Help:      "Number of backend terminations with a nonzero exit code.",
		},
	)
	backendState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "netwarden",
			Subsystem: "backend",
			Name:      "current_state",
			Help:      "Current supervisor state (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)
	bridgeEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "netwarden",
			Subsystem: "bridge",
			Name:      "events_total",
			Help:      "Lifecycle events published per channel.",
		}, []string{"channel"},
	)
	installRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "netwarden",
			Subsystem: "installer",
			Name:      "runs_total",
			Help:      "Dependency install invocations by result.",
		}, []string{"result"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{backendStarts, backendStops, backendRestarts, backendUnexpectedExits, backendState, bridgeEvents, installRuns}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncStart() {
	if regOK.Load() {
		backendStarts.Inc()
	}
}

func IncStop() {
	if regOK.Load() {
		backendStops.Inc()
	}
}

func IncRestart() {
	if regOK.Load() {
		backendRestarts.Inc()
	}
}

func IncUnexpectedExit() {
	if regOK.Load() {
		backendUnexpectedExits.Inc()
	}
}

func SetState(state string, active bool) {
	if regOK.Load() {
		var v float64
		if active {
			v = 1
		}
		backendState.WithLabelValues(state).Set(v)
	}
}

func IncEvent(channel string) {
	if regOK.Load() {
		bridgeEvents.WithLabelValues(channel).Inc()
	}
}

func IncInstall(result string) {
	if regOK.Load() {
		installRuns.WithLabelValues(result).Inc()
	}
}
