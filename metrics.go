package pgasync

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is an optional Prometheus instrumentation bundle for a Pool. It
// is registered on a caller-supplied *prometheus.Registry — never the
// global default, since a library must not squat process-wide metrics
// namespace the way a standalone binary's metrics.New() can.
type Metrics struct {
	connsTotal    prometheus.Gauge
	connsIdle     prometheus.Gauge
	connsActive   prometheus.Gauge
	connsWaiting  prometheus.Gauge
	acquireTime   prometheus.Histogram
	txDuration    prometheus.Histogram
	notifications prometheus.Counter
	copyRows      prometheus.Counter
}

// NewMetrics constructs and registers a Metrics bundle on reg.
func NewMetrics(reg *prometheus.Registry, namespace string) *Metrics {
	m := &Metrics{
		connsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_connections_total", Help: "Connections currently owned by the pool.",
		}),
		connsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_connections_idle", Help: "Idle connections in the pool.",
		}),
		connsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_connections_active", Help: "Connections currently checked out.",
		}),
		connsWaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_acquire_waiting", Help: "Goroutines currently blocked in Acquire.",
		}),
		acquireTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "pool_acquire_seconds", Help: "Acquire() latency.",
			Buckets: prometheus.DefBuckets,
		}),
		txDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "transaction_seconds", Help: "Time from begin() to commit()/rollback().",
			Buckets: prometheus.DefBuckets,
		}),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "listener_notifications_total", Help: "Notifications dispatched to callbacks.",
		}),
		copyRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "copy_rows_total", Help: "Rows streamed via binary COPY.",
		}),
	}
	reg.MustRegister(m.connsTotal, m.connsIdle, m.connsActive, m.connsWaiting, m.acquireTime, m.txDuration, m.notifications, m.copyRows)
	return m
}

// Attach wires m to p: an OnExhausted callback bumps connsWaiting, and a
// background ticker periodically refreshes the gauges from p.Stats().
func (m *Metrics) Attach(p *Pool) func() {
	p.OnExhausted(func(waiting int) { m.connsWaiting.Set(float64(waiting)) })

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s := p.Stats()
				m.connsTotal.Set(float64(s.Total))
				m.connsIdle.Set(float64(s.Idle))
				m.connsActive.Set(float64(s.Active))
			}
		}
	}()
	return func() { close(stop) }
}

// ObserveAcquire records how long one Acquire call took.
func (m *Metrics) ObserveAcquire(d time.Duration) { m.acquireTime.Observe(d.Seconds()) }

// ObserveTransaction records a transaction's begin-to-terminal duration.
func (m *Metrics) ObserveTransaction(d time.Duration) { m.txDuration.Observe(d.Seconds()) }

// ObserveNotification increments the dispatched-notification counter.
func (m *Metrics) ObserveNotification() { m.notifications.Inc() }

// ObserveCopyRows adds n to the COPY rows-streamed counter.
func (m *Metrics) ObserveCopyRows(n int64) { m.copyRows.Add(float64(n)) }
