// Package telemetry registers and serves the Prometheus metrics shared
// across matchbook services, the way the teacher corpus's metrics.go
// modules expose a /metrics endpoint via promhttp.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	MessagesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchbook_messages_published_total",
		Help: "Messages published to the backbone, by service and kind.",
	}, []string{"service", "kind"})

	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchbook_messages_received_total",
		Help: "Messages received from the backbone, by service and kind.",
	}, []string{"service", "kind"})

	DatagramDecodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchbook_datagram_decode_errors_total",
		Help: "Datagrams dropped because they failed to decode.",
	}, []string{"service"})

	RetransmitRequestsServed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchbook_retransmitter_requests_served_total",
		Help: "Retransmit requests answered with a cached message.",
	})

	RetransmitRequestsUnknown = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchbook_retransmitter_requests_unknown_total",
		Help: "Retransmit requests dropped because the id was unknown.",
	})

	RetransmitterCacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "matchbook_retransmitter_cache_size",
		Help: "Number of messages currently held in the retransmitter cache.",
	})

	SequencerGapsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchbook_sequencer_gaps_detected_total",
		Help: "Gaps detected by the sequencer, by topic.",
	}, []string{"topic"})

	SequencerRetransmitRequestsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchbook_sequencer_retransmit_requests_total",
		Help: "Retransmit requests emitted by the sequencer, by topic.",
	}, []string{"topic"})

	BookDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "matchbook_book_depth",
		Help: "Resting order count per symbol and side.",
	}, []string{"symbol", "side"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "matchbook_port_active_sessions",
		Help: "Number of open gateway sessions, counted from TCP accept.",
	})

	SessionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchbook_port_sessions_rejected_total",
		Help: "Inbound connections rejected before a session was established.",
	}, []string{"reason"})
)

// Serve starts a small HTTP server exposing /metrics on addr. It runs until
// ctx is cancelled.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn().Err(err).Msg("metrics server stopped")
	}
}
