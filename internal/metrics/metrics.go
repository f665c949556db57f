// Package metrics exposes Prometheus counters for the chip link and the job
// runner. A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Metrics struct {
	reg *prometheus.Registry

	framesReceived   *prometheus.CounterVec
	framesTruncated  prometheus.Counter
	exchanges        *prometheus.CounterVec
	exchangeTimeouts prometheus.Counter
	jobs             *prometheus.CounterVec
	almanacBursts    prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lr1110",
			Name:      "frames_received_total",
			Help:      "Frames read from the chip link, by frame code.",
		}, []string{"code"}),
		framesTruncated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lr1110",
			Name:      "frames_truncated_total",
			Help:      "Frames whose length or payload timed out.",
		}),
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lr1110",
			Name:      "exchanges_total",
			Help:      "Command/response exchanges, by command.",
		}, []string{"command"}),
		exchangeTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lr1110",
			Name:      "exchange_timeouts_total",
			Help:      "Exchanges that received no response in time.",
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lr1110",
			Name:      "jobs_total",
			Help:      "Executed jobs, by outcome.",
		}, []string{"outcome"}),
		almanacBursts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lr1110",
			Name:      "almanac_bursts_total",
			Help:      "Almanac bursts acknowledged by the chip.",
		}),
	}
	m.reg.MustRegister(m.framesReceived, m.framesTruncated, m.exchanges, m.exchangeTimeouts, m.jobs, m.almanacBursts)
	return m
}

// Registry is the registry all counters live in.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) FrameReceived(code string) {
	if m != nil {
		m.framesReceived.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) FrameTruncated() {
	if m != nil {
		m.framesTruncated.Inc()
	}
}

func (m *Metrics) Exchange(command string) {
	if m != nil {
		m.exchanges.WithLabelValues(command).Inc()
	}
}

func (m *Metrics) ExchangeTimeout() {
	if m != nil {
		m.exchangeTimeouts.Inc()
	}
}

// Job outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeNoResult  = "no_result"
	OutcomeException = "exception"
)

func (m *Metrics) Job(outcome string) {
	if m != nil {
		m.jobs.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) AlmanacBurst() {
	if m != nil {
		m.almanacBursts.Inc()
	}
}

// Serve exposes /metrics on listen until ctx is done.
func (m *Metrics) Serve(ctx context.Context, listen string, logger *zap.SugaredLogger) error {
	if m == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("metrics listening on %s", listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
