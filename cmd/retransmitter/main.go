package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/wbjohnston/matchbook/internal/bus"
	"github.com/wbjohnston/matchbook/internal/config"
	"github.com/wbjohnston/matchbook/internal/logging"
	"github.com/wbjohnston/matchbook/internal/message"
	"github.com/wbjohnston/matchbook/internal/resourceguard"
	"github.com/wbjohnston/matchbook/internal/retransmitter"
	"github.com/wbjohnston/matchbook/internal/telemetry"
)

func main() {
	bootstrapLogger := logging.New(logging.Config{Level: logging.LevelInfo, Format: logging.FormatPretty})

	cfg, err := config.Load(&bootstrapLogger)
	if err != nil {
		bootstrapLogger.Fatal().Err(err).Msg("retransmitter: loading configuration")
	}

	logger := logging.New(logging.Config{Level: logging.Level(cfg.LogLevel), Format: logging.Format(cfg.LogFormat)})
	logger.Info().Int("gomaxprocs", runtime.GOMAXPROCS(0)).Msg("retransmitter: starting")

	serviceID, err := message.ParseServiceId(cfg.ServiceID)
	if err != nil {
		logger.Fatal().Err(err).Str("service_id", cfg.ServiceID).Msg("retransmitter: invalid SERVICE_ID")
	}

	busConn, err := bus.Join(cfg.MulticastAddr)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.MulticastAddr).Msg("retransmitter: joining multicast group")
	}
	defer busConn.Close()

	guard := resourceguard.New(resourceguard.Config{
		CPURejectThreshold: cfg.CPURejectThreshold,
		CPUPauseThreshold:  cfg.CPUPauseThreshold,
		MaxBusMessageRate:  cfg.MaxBusMessagesRate,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	guard.StartMonitoring(ctx, 2*time.Second)
	go telemetry.Serve(ctx, cfg.MetricsAddr, logger)

	rt := retransmitter.New(busConn, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	doneCh := make(chan struct{})
	go run(ctx, rt, busConn, guard, serviceID, logger, doneCh)

	select {
	case <-sigCh:
		logger.Info().Msg("retransmitter: shutdown signal received")
	case <-doneCh:
	}

	cancel()
	time.Sleep(200 * time.Millisecond)
}

// run is the retransmitter's single consumer loop: every message observed
// on the backbone is cached, and every RetransmitRequest is served from
// that cache, in arrival order, per internal/retransmitter's single-owner
// contract.
func run(ctx context.Context, rt *retransmitter.Retransmitter, busConn *bus.Conn, guard *resourceguard.Guard, serviceID message.ServiceId, logger zerolog.Logger, doneCh chan struct{}) {
	defer close(doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if guard.ShouldPauseBusConsumption() {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		if allowed, delay := guard.AllowBusMessage(); !allowed {
			time.Sleep(delay)
			continue
		}

		msg, err := busConn.Receive(500 * time.Millisecond)
		if err != nil {
			if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
				continue
			}
			logger.Warn().Err(err).Msg("retransmitter: multicast receive failed")
			continue
		}

		telemetry.MessagesReceived.WithLabelValues(serviceID.String(), "inbound").Inc()

		if _, isRetransmitRequest := msg.Kind.(message.RetransmitRequest); isRetransmitRequest {
			rt.Serve(msg.Id)
			continue
		}
		rt.Observe(msg)
	}
}
