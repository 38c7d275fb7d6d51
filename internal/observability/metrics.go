package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	connectionBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "omapi",
			Subsystem: "connection",
			Name:      "bytes_total",
			Help:      "Bytes moved through connection buffers.",
		},
		[]string{"direction"},
	)
	connectionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "omapi",
			Subsystem: "connection",
			Name:      "transitions_total",
			Help:      "Connection lifecycle transitions by target state.",
		},
		[]string{"state"},
	)
	dispatchCallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "omapi",
			Subsystem: "dispatch",
			Name:      "callbacks_total",
			Help:      "I/O callbacks invoked by the dispatcher.",
		},
		[]string{"callback", "result"},
	)
	dispatchPassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "omapi",
			Subsystem: "dispatch",
			Name:      "pass_duration_seconds",
			Help:      "Duration of one dispatcher poll pass, including the wait.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	dispatchRegistered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "omapi",
			Subsystem: "dispatch",
			Name:      "registered_objects",
			Help:      "I/O objects currently registered with the dispatcher.",
		},
	)
	signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "omapi",
			Subsystem: "object",
			Name:      "signals_total",
			Help:      "Signals delivered down object chains.",
		},
		[]string{"signal", "result"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "omapi",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "omapi",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			connectionBytes,
			connectionTransitions,
			dispatchCallbacks,
			dispatchPassDuration,
			dispatchRegistered,
			signals,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordConnectionBytes(direction string, n int) {
	if n <= 0 {
		return
	}
	RegisterMetrics()
	connectionBytes.WithLabelValues(direction).Add(float64(n))
}

func RecordConnectionState(state string) {
	RegisterMetrics()
	connectionTransitions.WithLabelValues(state).Inc()
}

func RecordDispatch(callback, result string) {
	RegisterMetrics()
	dispatchCallbacks.WithLabelValues(callback, result).Inc()
}

func RecordDispatchPass(duration time.Duration) {
	RegisterMetrics()
	dispatchPassDuration.Observe(duration.Seconds())
}

func SetDispatchRegistered(n int) {
	dispatchRegistered.Set(float64(n))
}

func RecordSignal(signal, result string) {
	RegisterMetrics()
	signals.WithLabelValues(signal, result).Inc()
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
