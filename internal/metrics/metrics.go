// Package metrics holds the Prometheus collectors shared by the roster cache,
// the leaderboard hub, the study timer and the session worker. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	RosterLoads          *prometheus.CounterVec
	RosterCacheHits      prometheus.Counter
	RosterSize           prometheus.Gauge
	PresenceMerges       prometheus.Counter
	PresenceStreamErrors prometheus.Counter
	LeaderboardViewers   prometheus.Gauge
	TimerCompletions     prometheus.Counter
	SessionJobs          *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RosterLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jigaku",
			Subsystem: "roster",
			Name:      "loads_total",
			Help:      "Full roster loads by outcome.",
		}, []string{"outcome"}),
		RosterCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jigaku",
			Subsystem: "roster",
			Name:      "cache_hits_total",
			Help:      "Load requests served from the cached roster.",
		}),
		RosterSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "jigaku",
			Subsystem: "roster",
			Name:      "users",
			Help:      "Users in the cached roster.",
		}),
		PresenceMerges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jigaku",
			Subsystem: "presence",
			Name:      "merges_total",
			Help:      "Presence snapshots merged into the roster.",
		}),
		PresenceStreamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jigaku",
			Subsystem: "presence",
			Name:      "stream_failures_total",
			Help:      "Presence subscriptions that ended with an error.",
		}),
		LeaderboardViewers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "jigaku",
			Subsystem: "leaderboard",
			Name:      "viewers",
			Help:      "Connected leaderboard websocket viewers.",
		}),
		TimerCompletions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jigaku",
			Subsystem: "timer",
			Name:      "completions_total",
			Help:      "Timer sessions handed off for recording.",
		}),
		SessionJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jigaku",
			Subsystem: "worker",
			Name:      "session_jobs_total",
			Help:      "Session completion jobs by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.RosterLoads,
		m.RosterCacheHits,
		m.RosterSize,
		m.PresenceMerges,
		m.PresenceStreamErrors,
		m.LeaderboardViewers,
		m.TimerCompletions,
		m.SessionJobs,
	)
	return m
}

func (m *Metrics) RosterLoaded(ok bool, size int) {
	if m == nil {
		return
	}
	if !ok {
		m.RosterLoads.WithLabelValues("failure").Inc()
		return
	}
	m.RosterLoads.WithLabelValues("success").Inc()
	m.RosterSize.Set(float64(size))
}

func (m *Metrics) RosterCacheHit() {
	if m == nil {
		return
	}
	m.RosterCacheHits.Inc()
}

func (m *Metrics) PresenceMerged() {
	if m == nil {
		return
	}
	m.PresenceMerges.Inc()
}

func (m *Metrics) PresenceStreamFailed() {
	if m == nil {
		return
	}
	m.PresenceStreamErrors.Inc()
}

func (m *Metrics) ViewerJoined() {
	if m == nil {
		return
	}
	m.LeaderboardViewers.Inc()
}

func (m *Metrics) ViewerLeft() {
	if m == nil {
		return
	}
	m.LeaderboardViewers.Dec()
}

func (m *Metrics) TimerCompleted() {
	if m == nil {
		return
	}
	m.TimerCompletions.Inc()
}

func (m *Metrics) SessionJob(outcome string) {
	if m == nil {
		return
	}
	m.SessionJobs.WithLabelValues(outcome).Inc()
}
