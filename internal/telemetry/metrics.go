package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/victornm/truenorth/internal/domain"
	"github.com/victornm/truenorth/internal/event"
)

const namespace = "truenorth"

// Metrics counts game activity from domain events.
type Metrics struct {
	sessionsStarted  *prometheus.CounterVec
	answers          *prometheus.CounterVec
	points           prometheus.Histogram
	latency          prometheus.Histogram
	sessionsFinished prometheus.Counter
	finalScore       prometheus.Histogram
	leaderboardSigs  *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg and subscribes them to the bus.
func NewMetrics(reg prometheus.Registerer, eb *event.Bus) *Metrics {
	f := promauto.With(reg)

	m := &Metrics{
		sessionsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Start requests by outcome.",
		}, []string{"outcome"}),
		answers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_total",
			Help:      "Accepted answers by correctness.",
		}, []string{"correct"}),
		points: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "answer_points",
			Help:      "Points awarded per answer.",
			Buckets:   []float64{0, 100, 120, 140, 160, 180, 200},
		}),
		latency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "answer_latency_seconds",
			Help:      "Client reported answer latency.",
			Buckets:   []float64{0.5, 1, 2, 3, 4, 5, 6, 10, 20, 60},
		}),
		sessionsFinished: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finished_total",
			Help:      "Sessions entered on the leaderboard.",
		}),
		finalScore: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_score",
			Help:      "Final score of finished sessions.",
			Buckets:   prometheus.LinearBuckets(0, 400, 11),
		}),
		leaderboardSigs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leaderboard_updates_total",
			Help:      "Leaderboard change signals by reason.",
		}, []string{"reason"}),
	}

	eb.Subscribe(domain.EventNameSessionStarted, func(_ context.Context, e event.Event) error {
		m.sessionsStarted.WithLabelValues(string(e.(domain.EventSessionStarted).Outcome)).Inc()
		return nil
	})
	eb.Subscribe(domain.EventNameAnswerSubmitted, func(_ context.Context, e event.Event) error {
		ev := e.(domain.EventAnswerSubmitted)
		correct := "false"
		if ev.Answer.Correct {
			correct = "true"
		}
		m.answers.WithLabelValues(correct).Inc()
		m.points.Observe(float64(ev.Points))
		m.latency.Observe(float64(ev.Answer.LatencyMs) / 1000)
		return nil
	})
	eb.Subscribe(domain.EventNameSessionFinished, func(_ context.Context, e event.Event) error {
		m.sessionsFinished.Inc()
		m.finalScore.Observe(float64(e.(domain.EventSessionFinished).Entry.Score))
		return nil
	})
	eb.Subscribe(domain.EventNameLeaderboardUpdated, func(_ context.Context, e event.Event) error {
		m.leaderboardSigs.WithLabelValues(e.(domain.EventLeaderboardUpdated).Reason).Inc()
		return nil
	})

	return m
}

// WatchClients exports the number of connected WebSocket clients.
func WatchClients(reg prometheus.Registerer, count func() int) {
	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "websocket_clients",
		Help:      "Connected WebSocket clients.",
	}, func() float64 { return float64(count()) })
}
