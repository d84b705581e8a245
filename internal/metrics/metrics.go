// Package metrics holds the Prometheus collectors the scheduler reports to.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rendis/area/pkg/schema"
)

// Metrics groups the scheduler's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	ticks            prometheus.Counter
	tickDuration     prometheus.Histogram
	results          *prometheus.CounterVec
	fires            *prometheus.CounterVec
	reactions        *prometheus.CounterVec
	reactionDuration *prometheus.HistogramVec
	evaluationErrors *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "area_ticks_total",
			Help: "Total number of scheduler ticks.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "area_tick_duration_seconds",
			Help:    "Wall time of a scheduler tick.",
			Buckets: prometheus.DefBuckets,
		}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "area_results_total",
			Help: "Per-area tick results by status.",
		}, []string{"status"}),
		fires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "area_fires_total",
			Help: "Number of times an action fired.",
		}, []string{"action"}),
		reactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "area_reactions_total",
			Help: "Reaction executions by outcome.",
		}, []string{"reaction", "outcome"}),
		reactionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "area_reaction_duration_seconds",
			Help:    "Duration of reaction executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"reaction"}),
		evaluationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "area_evaluation_errors_total",
			Help: "Trigger evaluation failures by error code.",
		}, []string{"code"}),
	}

	for _, c := range []prometheus.Collector{
		m.ticks, m.tickDuration, m.results, m.fires, m.reactions, m.reactionDuration, m.evaluationErrors,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveTick records one completed tick.
func (m *Metrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.ticks.Inc()
	m.tickDuration.Observe(d.Seconds())
}

// ObserveResult records the outcome of one area within a tick.
func (m *Metrics) ObserveResult(action string, res schema.ExecutionResult) {
	if m == nil {
		return
	}
	m.results.WithLabelValues(string(res.Status)).Inc()
	if res.Fired {
		m.fires.WithLabelValues(action).Inc()
	}
	for _, o := range res.Reactions {
		m.reactions.WithLabelValues(o.Name, string(o.Status)).Inc()
		if o.Status != schema.ReactionSkipped {
			m.reactionDuration.WithLabelValues(o.Name).Observe(o.Duration.Seconds())
		}
	}
	if !res.Fired && res.Err != nil {
		m.evaluationErrors.WithLabelValues(res.Err.Code).Inc()
	}
}
