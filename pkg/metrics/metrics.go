// Package metrics собирает счётчики конвейера отчётов в реестр Prometheus.
// Все методы безопасны для nil-получателя, чтобы компоненты работали и без метрик.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "corecu"

type Metrics struct {
	registry *prometheus.Registry

	fetchAttempts *prometheus.CounterVec
	floodWaits    prometheus.Counter
	sleptSeconds  prometheus.Counter
	scanned       prometheus.Counter
	scanStops     *prometheus.CounterVec
	attributions  *prometheus.CounterVec
	runs          *prometheus.CounterVec
	runLimited    *prometheus.CounterVec
	exportedPosts prometheus.Counter
}

// New регистрирует метрики в собственном реестре.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "Вызовы ленты по операции и исходу.",
		}, []string{"op", "outcome"}),
		floodWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flood_waits_total",
			Help:      "Ответы с явным ожиданием FLOOD_WAIT.",
		}),
		sleptSeconds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_sleep_seconds_total",
			Help:      "Суммарное время ожидания между повторами.",
		}),
		scanned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scanned_messages_total",
			Help:      "Просмотренные сообщения ленты.",
		}),
		scanStops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_stops_total",
			Help:      "Причины остановки сканирования.",
		}, []string{"reason"}),
		attributions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attributions_total",
			Help:      "Результаты определения поста для комментария.",
		}, []string{"result"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Завершённые запуски по статусу.",
		}, []string{"status"}),
		runLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_rejections_total",
			Help:      "Отказы в запуске по причине.",
		}, []string{"reason"}),
		exportedPosts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exported_posts_total",
			Help:      "Посты, выгруженные вместе с комментариями.",
		}),
	}
	m.registry.MustRegister(
		m.fetchAttempts, m.floodWaits, m.sleptSeconds, m.scanned, m.scanStops,
		m.attributions, m.runs, m.runLimited, m.exportedPosts,
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler отдаёт метрики в текстовом формате Prometheus.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) FetchAttempt(op, outcome string) {
	if m == nil {
		return
	}
	m.fetchAttempts.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) FloodWait() {
	if m == nil {
		return
	}
	m.floodWaits.Inc()
}

func (m *Metrics) Slept(seconds float64) {
	if m == nil {
		return
	}
	m.sleptSeconds.Add(seconds)
}

func (m *Metrics) Scanned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.scanned.Add(float64(n))
}

func (m *Metrics) ScanStop(reason string) {
	if m == nil {
		return
	}
	m.scanStops.WithLabelValues(reason).Inc()
}

func (m *Metrics) Attribution(result string) {
	if m == nil {
		return
	}
	m.attributions.WithLabelValues(result).Inc()
}

func (m *Metrics) RunFinished(status string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
}

func (m *Metrics) RunRejected(reason string) {
	if m == nil {
		return
	}
	m.runLimited.WithLabelValues(reason).Inc()
}

func (m *Metrics) ExportedPost() {
	if m == nil {
		return
	}
	m.exportedPosts.Inc()
}
