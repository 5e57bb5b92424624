package monitoring

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for a node.
type Metrics struct {
	registry *prometheus.Registry

	// Wire metrics
	MessagesSent      *prometheus.CounterVec
	MessagesReceived  *prometheus.CounterVec
	MessagesMalformed prometheus.Counter
	SendFailures      prometheus.Counter

	// Membership metrics
	Peers      prometheus.Gauge
	NodeCount  prometheus.Gauge
	Recoveries prometheus.Counter
	StalePeers prometheus.Counter
	Recovering prometheus.Gauge

	// Query metrics
	QueriesTotal  *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec

	// Solve metrics
	SolveAttempts *prometheus.CounterVec
	SolveDuration prometheus.Histogram
	Validations   prometheus.Counter

	// Worker pool metrics
	WorkerPoolActive  prometheus.Gauge
	WorkerPoolPending prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with the given namespace on a
// fresh registry, so several nodes can live in one process.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		MessagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Datagrams sent by command",
		}, []string{"command"}),
		MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Datagrams received by command",
		}, []string{"command"}),
		MessagesMalformed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_malformed_total",
			Help:      "Datagrams that failed to decode",
		}),
		SendFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Sends that returned an error",
		}),

		Peers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers",
			Help:      "Current size of the peer set",
		}),
		NodeCount: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "node_count_estimate",
			Help:      "Current estimate of the overlay size",
		}),
		Recoveries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recoveries_total",
			Help:      "Peer departures handled by disconnect recovery",
		}),
		StalePeers: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_peers_total",
			Help:      "Peers dropped for missing keep-alives",
		}),
		Recovering: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recovering",
			Help:      "1 while the node is in disconnect recovery",
		}),

		QueriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Network-wide queries by kind and status",
		}, []string{"kind", "status"}),
		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Network-wide query duration by kind",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"kind"}),

		SolveAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "solve_attempts_total",
			Help:      "Solve attempts by role and outcome",
		}, []string{"role", "outcome"}),
		SolveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "solve_duration_seconds",
			Help:      "Wall-clock duration of solve races started here",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		Validations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_total",
			Help:      "Grid validations performed locally",
		}),

		WorkerPoolActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_pool_active",
			Help:      "Number of running solve attempts",
		}),
		WorkerPoolPending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_pool_pending",
			Help:      "Number of queued solve attempts",
		}),
	}
}

// Registry exposes the registry the metrics live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSent counts an outgoing message.
func (m *Metrics) RecordSent(command string, err error) {
	m.MessagesSent.WithLabelValues(command).Inc()
	if err != nil {
		m.SendFailures.Inc()
	}
}

// RecordReceived counts an incoming message.
func (m *Metrics) RecordReceived(command string) {
	m.MessagesReceived.WithLabelValues(command).Inc()
}

// RecordQuery records a finished network-wide query.
func (m *Metrics) RecordQuery(kind string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.QueriesTotal.WithLabelValues(kind, status).Inc()
	m.QueryDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordAttempt records the end of a local solve attempt.
func (m *Metrics) RecordAttempt(role, outcome string) {
	m.SolveAttempts.WithLabelValues(role, outcome).Inc()
}

// UpdateMembership updates the membership gauges.
func (m *Metrics) UpdateMembership(peers, count int) {
	m.Peers.Set(float64(peers))
	m.NodeCount.Set(float64(count))
}

// UpdateWorkerPool updates worker pool gauges.
func (m *Metrics) UpdateWorkerPool(active int64, pending int) {
	m.WorkerPoolActive.Set(float64(active))
	m.WorkerPoolPending.Set(float64(pending))
}

// MetricsServer runs an HTTP server exposing /metrics endpoint.
type MetricsServer struct {
	server *http.Server
}

// NewMetricsServer creates a new metrics server on the given address.
func NewMetricsServer(addr string, m *Metrics) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &MetricsServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start starts the metrics server (blocking). It returns nil after Stop.
func (s *MetricsServer) Start() error {
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the metrics server.
func (s *MetricsServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
