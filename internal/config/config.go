// Package config loads service configuration from environment variables
// (optionally preceded by a local .env file), the way every service in the
// teacher corpus does it.
package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds every environment-derived setting used anywhere in the
// matchbook core. Each binary only reads the fields relevant to its role.
type Config struct {
	// Backbone
	MulticastAddr string `env:"MULTICAST_ADDR" envDefault:"239.255.42.98:50692"`
	ServiceID     string `env:"SERVICE_ID,required"`

	// Port (gateway) only
	ListenAddr     string `env:"PORT_LISTEN_ADDR" envDefault:":4202"`
	ExchangeID     string `env:"EXCHANGE_ID" envDefault:"MATCHBOOK"`
	TLSCert        string `env:"TLS_CERT"`
	TLSCertKey     string `env:"TLS_CERT_KEY"`
	MaxConnections int    `env:"PORT_MAX_CONNECTIONS" envDefault:"500"`
	MaxInboundRate int    `env:"PORT_MAX_INBOUND_RATE" envDefault:"50"`

	// Matching engine only
	Symbols string `env:"MATCHING_SYMBOLS" envDefault:"ADBE,MSFT,AAPL"`

	// Sequencer tuning (port)
	SequencerInitialRingSize int `env:"SEQUENCER_INITIAL_RING_SIZE" envDefault:"16"`

	// Resource admission (port, matching engine, retransmitter)
	CPURejectThreshold float64 `env:"CPU_REJECT_THRESHOLD" envDefault:"85.0"`
	CPUPauseThreshold  float64 `env:"CPU_PAUSE_THRESHOLD" envDefault:"90.0"`
	MaxBusMessagesRate int     `env:"MAX_BUS_MESSAGE_RATE" envDefault:"2000"`

	// Telemetry
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9102"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from a local .env file (if present) and the
// process environment. Environment variables always take priority over
// whatever a .env file sets. A missing .env file is not an error.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using process environment only")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration overrides from .env")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// SymbolList splits the comma-separated Symbols field.
func (c *Config) SymbolList() []string {
	var out []string
	for _, s := range strings.Split(c.Symbols, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
