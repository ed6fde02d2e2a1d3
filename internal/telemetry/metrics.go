package telemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "trivia"

// Metrics are the game collectors exposed on /metrics.
type Metrics struct {
	answers         *prometheus.CounterVec
	gamesFinished   *prometheus.CounterVec
	gamesActive     prometheus.Gauge
	gamesEvicted    prometheus.Counter
	handlerFailures *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg. Pass prometheus.DefaultRegisterer to serve them with
// promhttp.Handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		answers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_total",
			Help:      "Recorded answers by correctness.",
		}, []string{"correct"}),
		gamesFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "games_finished_total",
			Help:      "Scored games by outcome, tie or decided.",
		}, []string{"outcome"}),
		gamesActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "games_active",
			Help:      "Games held in memory.",
		}),
		gamesEvicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "games_evicted_total",
			Help:      "Games dropped from memory after being idle or finished.",
		}),
		handlerFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_handler_failures_total",
			Help:      "Event handlers that returned an error or panicked.",
		}, []string{"event"}),
	}
}

func (m *Metrics) AnswerRecorded(correct bool) {
	m.answers.WithLabelValues(strconv.FormatBool(correct)).Inc()
}

func (m *Metrics) GameStarted() {
	m.gamesActive.Inc()
}

func (m *Metrics) GameFinished(tie bool) {
	outcome := "decided"
	if tie {
		outcome = "tie"
	}
	m.gamesFinished.WithLabelValues(outcome).Inc()
}

func (m *Metrics) GameEvicted() {
	m.gamesActive.Dec()
	m.gamesEvicted.Inc()
}

// HandlerFailed matches event.FailureFunc.
func (m *Metrics) HandlerFailed(name string) {
	m.handlerFailures.WithLabelValues(name).Inc()
}
