// Package api provides Prometheus metrics for the byzantine-arq simulator.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/VanDung-dev/byzantine-arq/byzantine-engine/linklayer"
)

// Version is the current version of the simulator.
const Version = "0.1.0"

// Metrics holds all Prometheus metrics for the simulator.
type Metrics struct {
	// Transport metrics
	PacketsSent    *prometheus.CounterVec
	PacketsDropped *prometheus.CounterVec
	AcksSent       *prometheus.CounterVec

	// Message metrics
	MessagesSent     *prometheus.CounterVec
	MessagesReceived *prometheus.CounterVec
	MessageLatency   *prometheus.HistogramVec
	MessagePackets   prometheus.Histogram

	// Agreement metrics
	Decisions        *prometheus.CounterVec
	ScenarioVerdicts *prometheus.CounterVec

	// Experiment metrics
	TrialsTotal     *prometheus.CounterVec
	TrialEfficiency *prometheus.HistogramVec

	// System metrics
	WorkerPoolActive  prometheus.Gauge
	WorkerPoolPending prometheus.Gauge
}

// DefaultMetrics creates metrics with default settings.
var DefaultMetrics = NewMetrics("byzsim", prometheus.DefaultRegisterer)

// NewMetrics creates a new Metrics instance with the given namespace,
// registered with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PacketsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_sent_total",
			Help:      "Data packets transmitted by ARQ senders",
		}, []string{"protocol", "kind"}),
		PacketsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_dropped_total",
			Help:      "Data packets discarded by simulated loss",
		}, []string{"protocol"}),
		AcksSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acks_sent_total",
			Help:      "Acknowledgments sent by ARQ receivers",
		}, []string{"protocol"}),

		MessagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages fully transferred over links by type",
		}, []string{"type"}),
		MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Messages reassembled by links by type",
		}, []string{"type"}),
		MessageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_transfer_seconds",
			Help:      "Time to transfer one message over a link",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"type"}),
		MessagePackets: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_packets",
			Help:      "Packets transmitted per message, retransmissions included",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500},
		}),

		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Lieutenant decisions by scenario and value",
		}, []string{"scenario", "value"}),
		ScenarioVerdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scenario_verdicts_total",
			Help:      "Scenario outcomes by verdict",
		}, []string{"scenario", "verdict"}),

		TrialsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trials_total",
			Help:      "Throughput trials completed",
		}, []string{"protocol", "sweep"}),
		TrialEfficiency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "trial_efficiency",
			Help:      "Payload bytes per packet sent",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}, []string{"protocol"}),

		WorkerPoolActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_pool_active",
			Help:      "Number of active workers",
		}),
		WorkerPoolPending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_pool_pending",
			Help:      "Number of pending tasks in worker pool",
		}),
	}
}

// MessageSent records a completed link transfer.
func (m *Metrics) MessageSent(msgType string, packets int, d time.Duration) {
	m.MessagesSent.WithLabelValues(msgType).Inc()
	m.MessageLatency.WithLabelValues(msgType).Observe(d.Seconds())
	m.MessagePackets.Observe(float64(packets))
}

// MessageReceived records a reassembled message.
func (m *Metrics) MessageReceived(msgType string) {
	m.MessagesReceived.WithLabelValues(msgType).Inc()
}

// RecordDecision records one lieutenant decision.
func (m *Metrics) RecordDecision(scenario string, value bool) {
	m.Decisions.WithLabelValues(scenario, strconv.FormatBool(value)).Inc()
}

// RecordVerdicts records the verdicts of one scenario run.
func (m *Metrics) RecordVerdicts(scenario string, verdicts []string) {
	for _, v := range verdicts {
		m.ScenarioVerdicts.WithLabelValues(scenario, v).Inc()
	}
}

// RecordTrial records one throughput trial.
func (m *Metrics) RecordTrial(protocol, sweep string, efficiency float64) {
	m.TrialsTotal.WithLabelValues(protocol, sweep).Inc()
	m.TrialEfficiency.WithLabelValues(protocol).Observe(efficiency)
}

// UpdateWorkerPool updates worker pool gauges.
func (m *Metrics) UpdateWorkerPool(active, pending int) {
	m.WorkerPoolActive.Set(float64(active))
	m.WorkerPoolPending.Set(float64(pending))
}

// ARQObserver returns a transport observer feeding the packet counters for
// protocol.
func (m *Metrics) ARQObserver(protocol linklayer.Protocol) linklayer.Observer {
	p := string(protocol)
	return &arqObserver{
		first:      m.PacketsSent.WithLabelValues(p, "first"),
		retransmit: m.PacketsSent.WithLabelValues(p, "retransmit"),
		dropped:    m.PacketsDropped.WithLabelValues(p),
		acks:       m.AcksSent.WithLabelValues(p),
	}
}

type arqObserver struct {
	first, retransmit, dropped, acks prometheus.Counter
}

func (o *arqObserver) PacketSent(retransmit bool) {
	if retransmit {
		o.retransmit.Inc()
		return
	}
	o.first.Inc()
}

func (o *arqObserver) PacketDropped() { o.dropped.Inc() }

func (o *arqObserver) AckSent() { o.acks.Inc() }

// MetricsServer runs an HTTP server exposing /metrics endpoint.
type MetricsServer struct {
	server *http.Server
}

// NewMetricsServer creates a new metrics server on the given address serving
// gatherer, or the default registry when gatherer is nil.
func NewMetricsServer(addr string, gatherer prometheus.Gatherer) *MetricsServer {
	handler := promhttp.Handler()
	if gatherer != nil {
		handler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &MetricsServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Handler returns the server's HTTP handler.
func (s *MetricsServer) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the metrics server (blocking).
func (s *MetricsServer) Start() error {
	return s.server.ListenAndServe()
}

// StartAsync starts the metrics server in a goroutine.
func (s *MetricsServer) StartAsync() {
	go func() {
		_ = s.server.ListenAndServe()
	}()
}

// Stop gracefully stops the metrics server.
func (s *MetricsServer) Stop() error {
	return s.server.Close()
}
