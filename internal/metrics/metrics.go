// Package metrics exposes Prometheus counters for the chat-to-speech
// pipeline. All collectors register with the default registry.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hammamikhairi/kickvox/internal/logger"
)

// Drop reasons used as the "reason" label on MessagesDropped.
const (
	ReasonEmpty     = "empty"
	ReasonNotAllow  = "not_allowed"
	ReasonCommand   = "command"
	ReasonBot       = "bot"
	ReasonThrottled = "throttled"
	ReasonSanitized = "sanitized"
	ReasonPanic     = "panic"
)

var (
	MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kickvox_messages_received_total",
		Help: "Chat messages received from the channel",
	})

	MessagesAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kickvox_messages_accepted_total",
		Help: "Chat messages turned into queued utterances",
	})

	MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kickvox_messages_dropped_total",
		Help: "Chat messages dropped by the pipeline",
	}, []string{"reason"})

	Directives = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kickvox_directives_total",
		Help: "In-band !tts directives by subcommand and outcome",
	}, []string{"command", "outcome"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kickvox_queue_depth",
		Help: "Utterances waiting per lane",
	}, []string{"lane"})

	QueueEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kickvox_queue_evictions_total",
		Help: "Utterances dropped because their lane was full",
	}, []string{"lane"})

	Utterances = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kickvox_utterances_total",
		Help: "Utterances by playback outcome",
	}, []string{"outcome"})

	ChunkLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kickvox_chunk_speak_ms",
		Help:    "Time spent speaking one chunk",
		Buckets: prometheus.ExponentialBuckets(100, 1.6, 10),
	})

	BackendFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kickvox_backend_fallbacks_total",
		Help: "Chunks retried on the fallback speech backend",
	})

	ReconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kickvox_reconnect_attempts_total",
		Help: "Chat connection attempts after a failure",
	})

	ConnectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kickvox_connection_state",
		Help: "Connection state: 0 idle, 1 connecting, 2 connected, 3 stopped",
	})
)

// Serve exposes /metrics on addr until ctx is cancelled. An empty addr
// disables the endpoint.
func Serve(ctx context.Context, addr string, log *logger.Logger) error {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("[metrics] serving on %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
