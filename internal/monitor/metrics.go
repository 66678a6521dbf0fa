package monitor

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/darkware/zapretd/internal/events"
	"github.com/darkware/zapretd/pkg/logger"
)

var (
	// EngineRunning is 1 for the engine the supervisor reports running, 0 otherwise.
	EngineRunning = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "zapretd_engine_running",
		Help: "Whether the selected engine is running",
	}, []string{"engine"})
	// TransactionsTotal counts finished supervisor transactions by op and result.
	TransactionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zapretd_transactions_total",
		Help: "Total number of supervisor transactions",
	}, []string{"op", "result"})
	// TransactionDuration tracks how long each transaction took in seconds.
	TransactionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "zapretd_transaction_duration_seconds",
		Help:    "Time taken by supervisor transactions",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"op"})
	// ReconcileCorrections counts running-flag corrections made from the process table.
	ReconcileCorrections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zapretd_reconcile_corrections_total",
		Help: "Total number of state corrections made by reconciliation",
	})
	// ProbeFailures counts reconciliation passes that could not read the process table.
	ProbeFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zapretd_probe_failures_total",
		Help: "Total number of failed process probes",
	})

	registerOnce sync.Once
)

// Register adds the collectors to the default registry. Safe to call repeatedly.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(EngineRunning, TransactionsTotal, TransactionDuration,
			ReconcileCorrections, ProbeFailures)
	})
}

// Subscriber is the part of the event bus the collectors listen on.
type Subscriber interface {
	Subscribe(handler any) func()
}

// Attach feeds the collectors from bus. The returned func detaches them.
func Attach(bus Subscriber) func() {
	unsubs := []func(){
		bus.Subscribe(func(e events.StatusChangedEvent) {
			for _, name := range []string{"tpws", "byedpi"} {
				v := 0.0
				if e.Running && e.Engine == name {
					v = 1
				}
				EngineRunning.WithLabelValues(name).Set(v)
			}
		}),
		bus.Subscribe(func(e events.TransactionEvent) {
			result := "ok"
			if !e.OK {
				result = "error"
			}
			TransactionsTotal.WithLabelValues(e.Op, result).Inc()
			TransactionDuration.WithLabelValues(e.Op).Observe(e.Duration.Seconds())
		}),
		bus.Subscribe(func(events.DriftEvent) {
			ReconcileCorrections.Inc()
		}),
		bus.Subscribe(func(events.ProbeFailedEvent) {
			ProbeFailures.Inc()
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Server exposes /metrics over HTTP.
type Server struct {
	srv *http.Server
}

// InitMetrics registers the collectors and starts an HTTP server on addr
// (e.g. "127.0.0.1:9464"). An empty addr disables the endpoint and returns nil.
func InitMetrics(addr string) *Server {
	Register()
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	s := &Server{srv: &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}}

	go func() {
		logger.Log.Info("Metrics server starting", "addr", addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error("Metrics server failed", "err", err)
		}
	}()
	return s
}

// Shutdown stops the metrics server. A nil Server is a no-op.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// Personal.AI order the ending
