// Package observability exports environment activity as Prometheus metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"cades.ai/internal/sim/placement"
)

const namespace = "cades"

// EnvMetrics implements env.Recorder. One instance is shared by every Env of a process.
type EnvMetrics struct {
	episodesStarted  *prometheus.CounterVec
	episodesFinished *prometheus.CounterVec
	steps            *prometheus.CounterVec
	invalidActions   *prometheus.CounterVec
	episodeReward    *prometheus.HistogramVec
	episodeLength    *prometheus.HistogramVec
}

// NewEnvMetrics registers the env metrics on reg. A nil reg uses the default registerer.
func NewEnvMetrics(reg prometheus.Registerer) *EnvMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	m := &EnvMetrics{
		episodesStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "env",
			Name:      "episodes_started_total",
			Help:      "Episodes reset, by mode",
		}, []string{"mode"}),
		episodesFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "env",
			Name:      "episodes_finished_total",
			Help:      "Episodes that reached a terminal state, by mode and termination cause",
		}, []string{"mode", "cause"}),
		steps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "env",
			Name:      "steps_total",
			Help:      "Actions applied, by mode",
		}, []string{"mode"}),
		invalidActions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "env",
			Name:      "invalid_actions_total",
			Help:      "Actions rejected by the legality mask, by mode",
		}, []string{"mode"}),
		episodeReward: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "env",
			Name:      "episode_reward",
			Help:      "Cumulative reward of finished episodes",
			Buckets:   []float64{-100, -50, -10, -5, 0, 1, 2, 5, 10, 15, 20},
		}, []string{"mode"}),
		episodeLength: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "env",
			Name:      "episode_steps",
			Help:      "Steps taken by finished episodes",
			Buckets:   prometheus.LinearBuckets(0, 5, 12),
		}, []string{"mode"}),
	}
	// Pre-create the cause series so dashboards see zeros.
	for _, mode := range []string{"train", "eval"} {
		for _, c := range placement.Causes {
			m.episodesFinished.WithLabelValues(mode, string(c))
		}
	}
	return m
}

func mode(training bool) string {
	if training {
		return "train"
	}
	return "eval"
}

func (m *EnvMetrics) EpisodeStarted(training bool) {
	m.episodesStarted.WithLabelValues(mode(training)).Inc()
}

func (m *EnvMetrics) StepTaken(training bool, reward float64, invalid bool) {
	m.steps.WithLabelValues(mode(training)).Inc()
	if invalid {
		m.invalidActions.WithLabelValues(mode(training)).Inc()
	}
}

func (m *EnvMetrics) EpisodeFinished(training bool, cause placement.Cause, steps int, reward float64) {
	md := mode(training)
	m.episodesFinished.WithLabelValues(md, string(cause)).Inc()
	m.episodeReward.WithLabelValues(md).Observe(reward)
	m.episodeLength.WithLabelValues(md).Observe(float64(steps))
}

// RegisterSessions exposes the number of open websocket sessions, read on scrape.
func RegisterSessions(reg prometheus.Registerer, sessions func() float64) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ws",
		Name:      "sessions",
		Help:      "Open websocket sessions",
	}, sessions)
}

// RegisterQueueStats exposes a background writer's queue as gauges read on scrape.
func RegisterQueueStats(reg prometheus.Registerer, subsystem string, depth, capacity, dropped func() float64) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem, Name: "queue_depth", Help: "Queued writes",
	}, depth)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem, Name: "queue_capacity", Help: "Write queue capacity",
	}, capacity)
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, Name: "dropped_total", Help: "Writes dropped on a full queue",
	}, dropped)
}
