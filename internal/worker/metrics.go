package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики конвейера генерации видео.
var (
	sessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eduvideo_sessions_started_total",
		Help: "Total number of video generation sessions started",
	})

	sessionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eduvideo_sessions_finished_total",
		Help: "Total number of finished sessions by terminal status",
	}, []string{"status"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "eduvideo_stage_duration_seconds",
		Help:    "Duration of pipeline stages",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"stage"})

	healingActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eduvideo_healing_actions_total",
		Help: "Total number of healing resolutions by strategy",
	}, []string{"strategy"})

	sessionCost = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "eduvideo_session_cost_usd",
		Help:    "Total estimated cost of a finished session in USD",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})
)

// IncSessionStarted учитывает запуск новой сессии.
func IncSessionStarted() {
	sessionsStarted.Inc()
}

// IncSessionFinished учитывает терминальный статус сессии.
func IncSessionFinished(status string) {
	sessionsFinished.WithLabelValues(status).Inc()
}

// ObserveStageDuration учитывает длительность этапа конвейера.
func ObserveStageDuration(stage string, d time.Duration) {
	stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// IncHealingAction учитывает разрешение лечения по стратегии.
func IncHealingAction(strategy string) {
	healingActions.WithLabelValues(strategy).Inc()
}

// ObserveSessionCost учитывает итоговую стоимость завершенной сессии.
func ObserveSessionCost(usd float64) {
	sessionCost.Observe(usd)
}
