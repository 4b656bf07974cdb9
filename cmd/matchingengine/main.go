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
	"github.com/wbjohnston/matchbook/internal/matching"
	"github.com/wbjohnston/matchbook/internal/message"
	"github.com/wbjohnston/matchbook/internal/resourceguard"
	"github.com/wbjohnston/matchbook/internal/telemetry"
)

func main() {
	bootstrapLogger := logging.New(logging.Config{Level: logging.LevelInfo, Format: logging.FormatPretty})

	cfg, err := config.Load(&bootstrapLogger)
	if err != nil {
		bootstrapLogger.Fatal().Err(err).Msg("matchingengine: loading configuration")
	}

	logger := logging.New(logging.Config{Level: logging.Level(cfg.LogLevel), Format: logging.Format(cfg.LogFormat)})
	logger.Info().Int("gomaxprocs", runtime.GOMAXPROCS(0)).Msg("matchingengine: starting")

	serviceID, err := message.ParseServiceId(cfg.ServiceID)
	if err != nil {
		logger.Fatal().Err(err).Str("service_id", cfg.ServiceID).Msg("matchingengine: invalid SERVICE_ID")
	}

	symbols := make([]message.Symbol, 0, len(cfg.SymbolList()))
	for _, s := range cfg.SymbolList() {
		sym, err := message.NewSymbol(s)
		if err != nil {
			logger.Fatal().Err(err).Str("symbol", s).Msg("matchingengine: invalid symbol in MATCHING_SYMBOLS")
		}
		symbols = append(symbols, sym)
	}

	busConn, err := bus.Join(cfg.MulticastAddr)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.MulticastAddr).Msg("matchingengine: joining multicast group")
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

	engine := matching.New(serviceID, symbols, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	doneCh := make(chan struct{})
	go runEngine(ctx, engine, busConn, guard, serviceID, logger, doneCh)

	select {
	case <-sigCh:
		logger.Info().Msg("matchingengine: shutdown signal received")
	case <-doneCh:
	}

	cancel()
	time.Sleep(200 * time.Millisecond)
}

// runEngine consumes every LimitOrderSubmitRequest/LimitOrderCancelRequest
// arriving on the backbone and republishes whatever the engine returns,
// each under the topic the engine addressed it to: the requester's for an
// acknowledgement, each counterparty's own for an execution.
func runEngine(ctx context.Context, engine *matching.Engine, busConn *bus.Conn, guard *resourceguard.Guard, serviceID message.ServiceId, logger zerolog.Logger, doneCh chan struct{}) {
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
			logger.Warn().Err(err).Msg("matchingengine: multicast receive failed")
			continue
		}

		telemetry.MessagesReceived.WithLabelValues(serviceID.String(), "inbound").Inc()

		var out []message.Message
		switch kind := msg.Kind.(type) {
		case message.LimitOrderSubmitRequest:
			out = engine.Submit(msg.Id.Topic, kind)
		case message.LimitOrderCancelRequest:
			out = engine.Cancel(msg.Id.Topic, kind)
		default:
			continue
		}

		for _, m := range out {
			if err := busConn.Publish(m); err != nil {
				logger.Warn().Err(err).Str("id", m.Id.String()).Msg("matchingengine: publish failed, dropping")
				continue
			}
			telemetry.MessagesPublished.WithLabelValues(serviceID.String(), "outbound").Inc()
		}
	}
}
