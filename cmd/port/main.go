package main

import (
	"context"
	"crypto/tls"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/wbjohnston/matchbook/internal/bus"
	"github.com/wbjohnston/matchbook/internal/config"
	"github.com/wbjohnston/matchbook/internal/logging"
	"github.com/wbjohnston/matchbook/internal/message"
	"github.com/wbjohnston/matchbook/internal/port"
	"github.com/wbjohnston/matchbook/internal/resourceguard"
	"github.com/wbjohnston/matchbook/internal/telemetry"
)

func main() {
	bootstrapLogger := logging.New(logging.Config{Level: logging.LevelInfo, Format: logging.FormatPretty})

	cfg, err := config.Load(&bootstrapLogger)
	if err != nil {
		bootstrapLogger.Fatal().Err(err).Msg("port: loading configuration")
	}

	logger := logging.New(logging.Config{Level: logging.Level(cfg.LogLevel), Format: logging.Format(cfg.LogFormat)})
	logger.Info().Int("gomaxprocs", runtime.GOMAXPROCS(0)).Msg("port: starting")

	serviceID, err := message.ParseServiceId(cfg.ServiceID)
	if err != nil {
		logger.Fatal().Err(err).Str("service_id", cfg.ServiceID).Msg("port: invalid SERVICE_ID")
	}

	cert, err := tls.X509KeyPair([]byte(cfg.TLSCert), []byte(cfg.TLSCertKey))
	if err != nil {
		logger.Fatal().Err(err).Msg("port: loading TLS certificate")
	}
	tlsConf := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}

	busConn, err := bus.Join(cfg.MulticastAddr)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.MulticastAddr).Msg("port: joining multicast group")
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

	gw := port.New(cfg, serviceID, busConn, guard, tlsConf, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() { errCh <- gw.Run(ctx, cfg.ListenAddr) }()

	select {
	case <-sigCh:
		logger.Info().Msg("port: shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("port: gateway stopped with error")
		}
	}

	cancel()
	time.Sleep(200 * time.Millisecond)
}
