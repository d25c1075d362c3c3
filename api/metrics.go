// Package api exposes an OMEGA node to operators: Prometheus metrics and a
// token-protected gRPC control service.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/VanDung-dev/OMEGA-Engine/omega-engine/core"
	"github.com/VanDung-dev/OMEGA-Engine/omega-engine/node"
)

// Metrics holds all Prometheus metrics for a node. It implements
// node.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	// Send metrics
	SendsTotal  *prometheus.CounterVec
	SendLatency prometheus.Histogram

	// Receive metrics
	ReceivesTotal  *prometheus.CounterVec
	ReceiveLatency prometheus.Histogram

	// Node state
	Frequency         prometheus.Gauge
	WorkerPoolActive  prometheus.Gauge
	WorkerPoolPending prometheus.Gauge
	Peers             prometheus.Gauge

	// gRPC metrics
	GRPCRequestsTotal   *prometheus.CounterVec
	GRPCRequestDuration *prometheus.HistogramVec
}

var _ node.Recorder = (*Metrics)(nil)

// NewMetrics creates metrics under namespace in a private registry.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SendsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_total",
			Help:      "Send attempts by result",
		}, []string{"result"}),
		SendLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "send_latency_seconds",
			Help:      "Transmit pipeline and broadcast latency in seconds",
			Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .005, .01, .05, .1, .5},
		}),

		ReceivesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receives_total",
			Help:      "Received vectors by outcome",
		}, []string{"outcome"}),
		ReceiveLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "receive_latency_seconds",
			Help:      "Receive pipeline latency in seconds",
			Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .005, .01},
		}),

		Frequency: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frequency",
			Help:      "Local tuning frequency",
		}),
		WorkerPoolActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_pool_active",
			Help:      "Number of busy workers",
		}),
		WorkerPoolPending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_pool_pending",
			Help:      "Number of queued tasks in the worker pool",
		}),
		Peers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers",
			Help:      "Number of known network peers",
		}),

		GRPCRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "Total gRPC requests by method and status",
		}, []string{"method", "status"}),
		GRPCRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grpc_request_duration_seconds",
			Help:      "gRPC request duration by method",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// Registry returns the registry the metrics are registered in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveSend records one Send call.
func (m *Metrics) ObserveSend(d time.Duration, err error) {
	m.SendLatency.Observe(d.Seconds())
	m.SendsTotal.WithLabelValues(sendResult(err)).Inc()
}

func sendResult(err error) string {
	var te *core.TransportError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, core.ErrPayloadTooLarge):
		return "payload_too_large"
	case errors.As(err, &te):
		return "transport_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}

// ObserveReceive records one receive outcome.
func (m *Metrics) ObserveReceive(outcome string, d time.Duration) {
	m.ReceivesTotal.WithLabelValues(outcome).Inc()
	m.ReceiveLatency.Observe(d.Seconds())
}

// SetFrequency updates the frequency gauge.
func (m *Metrics) SetFrequency(f float64) {
	m.Frequency.Set(f)
}

// RecordGRPCRequest records a gRPC request.
func (m *Metrics) RecordGRPCRequest(method, status string, duration time.Duration) {
	m.GRPCRequestsTotal.WithLabelValues(method, status).Inc()
	m.GRPCRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// UpdateWorkerPool updates worker pool gauges.
func (m *Metrics) UpdateWorkerPool(stats core.PoolStats) {
	m.WorkerPoolActive.Set(float64(stats.Active))
	m.WorkerPoolPending.Set(float64(stats.Pending))
}

// UpdatePeers updates the peer gauge.
func (m *Metrics) UpdatePeers(n int) {
	m.Peers.Set(float64(n))
}

// MetricsServer runs an HTTP server exposing /metrics and /health.
type MetricsServer struct {
	server *http.Server
}

// NewMetricsServer creates a metrics server on addr for the given metrics.
func NewMetricsServer(addr string, m *Metrics) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry}))
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

// Handler returns the HTTP handler, for tests and embedding.
func (s *MetricsServer) Handler() http.Handler {
	return s.server.Handler
}

// Serve serves on lis until Stop. It returns nil after a clean shutdown.
func (s *MetricsServer) Serve(lis net.Listener) error {
	if err := s.server.Serve(lis); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Start listens on the configured address and serves (blocking).
func (s *MetricsServer) Start() error {
	lis, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Stop gracefully stops the metrics server.
func (s *MetricsServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
