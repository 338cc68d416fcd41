package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Connection outcomes recorded by RecordConnection.
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeInterrupted = "interrupted"
)

var (
	registerOnce sync.Once

	connections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aesdsocket",
			Subsystem: "conn",
			Name:      "handled_total",
			Help:      "Connections handled, by outcome.",
		},
		[]string{"outcome"},
	)
	connDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "aesdsocket",
			Subsystem: "conn",
			Name:      "duration_seconds",
			Help:      "Time spent in one receive/respond exchange.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	bytesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "aesdsocket",
			Subsystem: "packet",
			Name:      "received_bytes_total",
			Help:      "Bytes received from clients and appended to the store.",
		},
	)
	bytesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "aesdsocket",
			Subsystem: "packet",
			Name:      "sent_bytes_total",
			Help:      "Store bytes sent back to clients.",
		},
	)
	packetsComplete = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "aesdsocket",
			Subsystem: "packet",
			Name:      "complete_total",
			Help:      "Newline-terminated packets received.",
		},
	)
	acceptErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "aesdsocket",
			Subsystem: "listener",
			Name:      "accept_errors_total",
			Help:      "Accept calls that failed for reasons other than shutdown.",
		},
	)
	storeSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "aesdsocket",
			Subsystem: "store",
			Name:      "size_bytes",
			Help:      "Size of the log store after the last exchange.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			connections,
			connDuration,
			bytesReceived,
			bytesSent,
			packetsComplete,
			acceptErrors,
			storeSize,
		)
	})
}

func RecordConnection(outcome string, duration time.Duration) {
	RegisterMetrics()
	connections.WithLabelValues(outcome).Inc()
	connDuration.Observe(duration.Seconds())
}

func RecordExchange(received, sent int64, complete bool) {
	RegisterMetrics()
	bytesReceived.Add(float64(received))
	bytesSent.Add(float64(sent))
	if complete {
		packetsComplete.Inc()
	}
}

func RecordAcceptError() {
	RegisterMetrics()
	acceptErrors.Inc()
}

func RecordStoreSize(size int64) {
	RegisterMetrics()
	storeSize.Set(float64(size))
}

// ServeMetrics exposes /metrics on addr until ctx is done.
func ServeMetrics(ctx context.Context, addr string) error {
	RegisterMetrics()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("metrics listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
