package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "checkpointfeed"

// Metrics holds the pipeline collectors. All methods are no-ops on nil.
type Metrics struct {
	cycles         prometheus.Counter
	cycleDuration  prometheus.Histogram
	fetched        *prometheus.CounterVec
	written        *prometheus.CounterVec
	noise          *prometheus.CounterVec
	errors         *prometheus.CounterVec
	cursor         *prometheus.GaugeVec
	lastSuccessTS  prometheus.Gauge
	schedulerState *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cycles_total",
			Help: "Completed polling cycles.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "cycle_duration_seconds",
			Help:    "Wall time of one polling cycle.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		fetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_fetched_total",
			Help: "Messages newer than the channel cursor.",
		}, []string{"channel"}),
		written: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_written_total",
			Help: "Events stored, duplicates included.",
		}, []string{"channel"}),
		noise: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_noise_total",
			Help: "Messages dropped by the noise filter.",
		}, []string{"reason"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "errors_total",
			Help: "Failures by stage.",
		}, []string{"stage"}),
		cursor: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "channel_cursor",
			Help: "Last processed message id per channel.",
		}, []string{"channel"}),
		lastSuccessTS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_cycle_timestamp_seconds",
			Help: "Unix time of the last completed cycle.",
		}),
		schedulerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "scheduler_state",
			Help: "1 for the current scheduler state.",
		}, []string{"state"}),
	}
	if reg != nil {
		reg.MustRegister(m.cycles, m.cycleDuration, m.fetched, m.written, m.noise,
			m.errors, m.cursor, m.lastSuccessTS, m.schedulerState)
	}
	return m
}

func (m *Metrics) CycleDone(d time.Duration, at time.Time) {
	if m == nil {
		return
	}
	m.cycles.Inc()
	m.cycleDuration.Observe(d.Seconds())
	m.lastSuccessTS.Set(float64(at.Unix()))
}

func (m *Metrics) Fetched(channel string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.fetched.WithLabelValues(channel).Add(float64(n))
}

func (m *Metrics) Written(channel string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.written.WithLabelValues(channel).Add(float64(n))
}

func (m *Metrics) Noise(reason string) {
	if m == nil {
		return
	}
	m.noise.WithLabelValues(reason).Inc()
}

func (m *Metrics) Error(stage string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(stage).Inc()
}

func (m *Metrics) Cursor(channel string, id int64) {
	if m == nil {
		return
	}
	m.cursor.WithLabelValues(channel).Set(float64(id))
}

// State marks current as the only active scheduler state.
func (m *Metrics) State(current string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		m.schedulerState.WithLabelValues(s).Set(v)
	}
}
