// Package metrics exposes counters for the display event pipeline.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rotations/internal/logger"
)

// Metrics groups every collector the core updates.
type Metrics struct {
	Messages *prometheus.CounterVec
	Pending  prometheus.Gauge
	Expired  prometheus.Counter
	Rejected prometheus.Counter
	Updates  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rotations",
				Subsystem: "source",
				Name:      "messages_total",
				Help:      "Messages drained from the display connection",
			},
			[]string{"kind"},
		),
		Pending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "rotations",
				Subsystem: "session",
				Name:      "pending_requests",
				Help:      "Requests waiting for a reply",
			},
		),
		Expired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "rotations",
				Subsystem: "session",
				Name:      "expired_total",
				Help:      "Requests dropped after waiting too long for a reply",
			},
		),
		Rejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "rotations",
				Subsystem: "session",
				Name:      "rejected_total",
				Help:      "Configuration changes refused by the server",
			},
		),
		Updates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rotations",
				Subsystem: "screen",
				Name:      "updates_total",
				Help:      "Screen state transitions by origin",
			},
			[]string{"origin"},
		),
	}

	reg.MustRegister(m.Messages, m.Pending, m.Expired, m.Rejected, m.Updates)
	return m
}

// Discard returns collectors registered nowhere.
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}

// Server serves a gatherer on /metrics.
type Server struct {
	srv *http.Server
}

func NewServer(addr string, g prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return &Server{srv: &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}}
}

// Start listens in the background; listen errors are logged.
func (s *Server) Start() {
	go func() {
		err := s.srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "addr", s.srv.Addr, "err", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
