// Package metrics exposes worker counters to Prometheus
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all worker metrics
type Metrics struct {
	// Message counters
	MessagesReceived  atomic.Uint64
	MessagesSucceeded atomic.Uint64
	MessagesFailed    atomic.Uint64

	// Pipeline counters
	FramesSampled    atomic.Uint64
	CandidatesScored atomic.Uint64
	DetectorErrors   atomic.Uint64
	StoppedEarly     atomic.Uint64

	// Degraded is 1 when no classifier is loaded
	Degraded atomic.Uint64

	messageDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "birdex_message_duration_seconds",
				Help:    "Time spent classifying one message",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"kind", "outcome"},
		),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	counters := []struct {
		name, help string
		v          *atomic.Uint64
	}{
		{"birdex_messages_received_total", "Total messages read from the input stream", &m.MessagesReceived},
		{"birdex_messages_succeeded_total", "Total messages answered with a result", &m.MessagesSucceeded},
		{"birdex_messages_failed_total", "Total messages answered with an error", &m.MessagesFailed},
		{"birdex_frames_sampled_total", "Total video frames sampled", &m.FramesSampled},
		{"birdex_candidates_classified_total", "Total candidate regions classified", &m.CandidatesScored},
		{"birdex_detector_errors_total", "Total detector failures that fell back to full-frame", &m.DetectorErrors},
		{"birdex_videos_stopped_early_total", "Total videos that stopped sampling on a confident frame", &m.StoppedEarly},
	}
	for _, c := range counters {
		v := c.v
		m.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: c.name, Help: c.help},
			func() float64 { return float64(v.Load()) },
		))
	}

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "birdex_degraded",
			Help: "Classifier unavailable (0=healthy, 1=degraded)",
		},
		func() float64 { return float64(m.Degraded.Load()) },
	))

	m.registry.MustRegister(m.messageDuration)
}

// ObserveMessage records the latency of one message
func (m *Metrics) ObserveMessage(kind string, ok bool, d time.Duration) {
	outcome := "success"
	if ok {
		m.MessagesSucceeded.Add(1)
	} else {
		outcome = "error"
		m.MessagesFailed.Add(1)
	}
	m.messageDuration.WithLabelValues(kind, outcome).Observe(d.Seconds())
}

// SetDegraded flags whether the worker runs without a classifier
func (m *Metrics) SetDegraded(degraded bool) {
	if degraded {
		m.Degraded.Store(1)
		return
	}
	m.Degraded.Store(0)
}

// Registry returns the private registry
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on addr until ctx is cancelled.
// The listener is bound before returning so bind errors surface immediately.
func (m *Metrics) StartServer(ctx context.Context, addr string) (net.Addr, <-chan error, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	done := make(chan error, 1)
	go func() {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		done <- err
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	return ln.Addr(), done, nil
}
