// Package config centralises runtime configuration for Omnivault services.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Environment identifies the runtime environment where Omnivault operates.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// Default slippage tolerance in basis points (0.5%).
const DefaultSlippageBps int64 = 50

// VenueSettings aggregates transport configuration for the external exchange venue.
type VenueSettings struct {
	BaseURL           string
	StreamURL         string
	HTTPTimeout       time.Duration
	RequestsPerSecond float64
}

// TelemetrySettings configures the OTLP metric exporter.
type TelemetrySettings struct {
	OTLPEndpoint string
	ServiceName  string
}

// Settings contains the Omnivault configuration tree loaded from defaults and overrides.
// Per-vault parameters are fixed at initialization and immutable thereafter.
type Settings struct {
	Environment Environment

	// SettlementAsset denominates every balance held by the ledger.
	SettlementAsset string
	// NativeAsset names the implicit unit accepted by native deposits.
	NativeAsset string
	// SettlementScale is the fractional precision of the settlement asset;
	// slippage floors truncate at this scale.
	SettlementScale int32

	CapacityCap     decimal.Decimal
	WithdrawalLimit decimal.Decimal
	SlippageBps     int64
	SwapDeadline    time.Duration

	// AdminIdentity is the single administrative principal.
	AdminIdentity string

	Venue       VenueSettings
	Telemetry   TelemetrySettings
	DatabaseDSN string
	ListenAddr  string
}

// Default returns the default Omnivault configuration.
func Default() Settings {
	return Settings{
		Environment:     EnvProd,
		SettlementAsset: "USDC",
		NativeAsset:     "ETH",
		SettlementScale: 8,
		CapacityCap:     decimal.NewFromInt(1_000_000),
		WithdrawalLimit: decimal.NewFromInt(10_000),
		SlippageBps:     DefaultSlippageBps,
		SwapDeadline:    5 * time.Minute,
		AdminIdentity:   "",
		Venue: VenueSettings{
			BaseURL:           "http://localhost:8650",
			StreamURL:         "ws://localhost:8650/stream",
			HTTPTimeout:       10 * time.Second,
			RequestsPerSecond: 10,
		},
		Telemetry: TelemetrySettings{
			OTLPEndpoint: "",
			ServiceName:  "omnivault",
		},
		DatabaseDSN: "",
		ListenAddr:  ":8080",
	}
}

// FromEnv loads configuration values from environment variables, overriding defaults.
func FromEnv() Settings {
	cfg := Default()
	if env := strings.TrimSpace(os.Getenv("OMNIVAULT_ENV")); env != "" {
		cfg.Environment = Environment(strings.ToLower(env))
	}
	if v := strings.TrimSpace(os.Getenv("OMNIVAULT_SETTLEMENT_ASSET")); v != "" {
		cfg.SettlementAsset = v
	}
	if v := strings.TrimSpace(os.Getenv("OMNIVAULT_NATIVE_ASSET")); v != "" {
		cfg.NativeAsset = v
	}
	if v := strings.TrimSpace(os.Getenv("OMNIVAULT_CAPACITY_CAP")); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			cfg.CapacityCap = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("OMNIVAULT_WITHDRAWAL_LIMIT")); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			cfg.WithdrawalLimit = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("OMNIVAULT_SLIPPAGE_BPS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.SlippageBps = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("OMNIVAULT_SWAP_DEADLINE")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.SwapDeadline = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("OMNIVAULT_ADMIN_IDENTITY")); v != "" {
		cfg.AdminIdentity = v
	}
	if v := strings.TrimSpace(os.Getenv("OMNIVAULT_VENUE_BASE_URL")); v != "" {
		cfg.Venue.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("OMNIVAULT_VENUE_STREAM_URL")); v != "" {
		cfg.Venue.StreamURL = v
	}
	if v := strings.TrimSpace(os.Getenv("OMNIVAULT_VENUE_HTTP_TIMEOUT")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.Venue.HTTPTimeout = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("OMNIVAULT_OTLP_ENDPOINT")); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("OMNIVAULT_DATABASE_DSN")); v != "" {
		cfg.DatabaseDSN = v
	}
	if v := strings.TrimSpace(os.Getenv("OMNIVAULT_LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	return cfg
}

type fileConfig struct {
	Environment     string `yaml:"environment"`
	SettlementAsset string `yaml:"settlementAsset"`
	NativeAsset     string `yaml:"nativeAsset"`
	SettlementScale int32  `yaml:"settlementScale"`
	CapacityCap     string `yaml:"capacityCap"`
	WithdrawalLimit string `yaml:"withdrawalLimit"`
	SlippageBps     int64  `yaml:"slippageBps"`
	SwapDeadline    string `yaml:"swapDeadline"`
	AdminIdentity   string `yaml:"adminIdentity"`
	Venue           struct {
		BaseURL           string  `yaml:"baseUrl"`
		StreamURL         string  `yaml:"streamUrl"`
		HTTPTimeout       string  `yaml:"httpTimeout"`
		RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	} `yaml:"venue"`
	Telemetry struct {
		OTLPEndpoint string `yaml:"otlpEndpoint"`
		ServiceName  string `yaml:"serviceName"`
	} `yaml:"telemetry"`
	DatabaseDSN string `yaml:"databaseDsn"`
	ListenAddr  string `yaml:"listenAddr"`
}

// LoadFile reads YAML configuration from path, layered over defaults.
func LoadFile(path string) (Settings, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}
	if fc.Environment != "" {
		cfg.Environment = Environment(strings.ToLower(strings.TrimSpace(fc.Environment)))
	}
	if fc.SettlementAsset != "" {
		cfg.SettlementAsset = strings.TrimSpace(fc.SettlementAsset)
	}
	if fc.NativeAsset != "" {
		cfg.NativeAsset = strings.TrimSpace(fc.NativeAsset)
	}
	if fc.SettlementScale > 0 {
		cfg.SettlementScale = fc.SettlementScale
	}
	if fc.CapacityCap != "" {
		d, err := decimal.NewFromString(strings.TrimSpace(fc.CapacityCap))
		if err != nil {
			return cfg, fmt.Errorf("parse capacityCap: %w", err)
		}
		cfg.CapacityCap = d
	}
	if fc.WithdrawalLimit != "" {
		d, err := decimal.NewFromString(strings.TrimSpace(fc.WithdrawalLimit))
		if err != nil {
			return cfg, fmt.Errorf("parse withdrawalLimit: %w", err)
		}
		cfg.WithdrawalLimit = d
	}
	if fc.SlippageBps > 0 {
		cfg.SlippageBps = fc.SlippageBps
	}
	if fc.SwapDeadline != "" {
		dur, err := time.ParseDuration(strings.TrimSpace(fc.SwapDeadline))
		if err != nil {
			return cfg, fmt.Errorf("parse swapDeadline: %w", err)
		}
		cfg.SwapDeadline = dur
	}
	if fc.AdminIdentity != "" {
		cfg.AdminIdentity = strings.TrimSpace(fc.AdminIdentity)
	}
	if fc.Venue.BaseURL != "" {
		cfg.Venue.BaseURL = strings.TrimSpace(fc.Venue.BaseURL)
	}
	if fc.Venue.StreamURL != "" {
		cfg.Venue.StreamURL = strings.TrimSpace(fc.Venue.StreamURL)
	}
	if fc.Venue.HTTPTimeout != "" {
		dur, err := time.ParseDuration(strings.TrimSpace(fc.Venue.HTTPTimeout))
		if err != nil {
			return cfg, fmt.Errorf("parse venue.httpTimeout: %w", err)
		}
		cfg.Venue.HTTPTimeout = dur
	}
	if fc.Venue.RequestsPerSecond > 0 {
		cfg.Venue.RequestsPerSecond = fc.Venue.RequestsPerSecond
	}
	if fc.Telemetry.OTLPEndpoint != "" {
		cfg.Telemetry.OTLPEndpoint = strings.TrimSpace(fc.Telemetry.OTLPEndpoint)
	}
	if fc.Telemetry.ServiceName != "" {
		cfg.Telemetry.ServiceName = strings.TrimSpace(fc.Telemetry.ServiceName)
	}
	if fc.DatabaseDSN != "" {
		cfg.DatabaseDSN = strings.TrimSpace(fc.DatabaseDSN)
	}
	if fc.ListenAddr != "" {
		cfg.ListenAddr = strings.TrimSpace(fc.ListenAddr)
	}
	return cfg, nil
}

// Option mutates Settings when applied via Apply.
type Option func(*Settings)

// Apply applies the provided Option set to a copy of the base Settings.
func Apply(base Settings, opts ...Option) Settings {
	cfg := base
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// WithEnvironment configures the top-level environment.
func WithEnvironment(env Environment) Option {
	return func(s *Settings) {
		if env != "" {
			s.Environment = env
		}
	}
}

// WithCapacityCap overrides the aggregate capacity cap.
func WithCapacityCap(cap decimal.Decimal) Option {
	return func(s *Settings) {
		if cap.IsPositive() {
			s.CapacityCap = cap
		}
	}
}

// WithWithdrawalLimit overrides the per-withdrawal ceiling.
func WithWithdrawalLimit(limit decimal.Decimal) Option {
	return func(s *Settings) {
		if limit.IsPositive() {
			s.WithdrawalLimit = limit
		}
	}
}

// WithSlippageBps overrides the global slippage tolerance in basis points.
func WithSlippageBps(bps int64) Option {
	return func(s *Settings) {
		if bps > 0 && bps < 10_000 {
			s.SlippageBps = bps
		}
	}
}

// WithSettlementAsset overrides the settlement asset identity.
func WithSettlementAsset(symbol string) Option {
	symbol = strings.TrimSpace(symbol)
	return func(s *Settings) {
		if symbol != "" {
			s.SettlementAsset = symbol
		}
	}
}

// WithAdminIdentity overrides the administrative principal.
func WithAdminIdentity(identity string) Option {
	identity = strings.TrimSpace(identity)
	return func(s *Settings) {
		if identity != "" {
			s.AdminIdentity = identity
		}
	}
}

// WithVenueEndpoints overrides venue transport endpoints.
func WithVenueEndpoints(baseURL, streamURL string) Option {
	baseURL = strings.TrimSpace(baseURL)
	streamURL = strings.TrimSpace(streamURL)
	return func(s *Settings) {
		if baseURL != "" {
			s.Venue.BaseURL = baseURL
		}
		if streamURL != "" {
			s.Venue.StreamURL = streamURL
		}
	}
}

// Validate reports configuration errors that would make the vault unsafe to run.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.SettlementAsset) == "" {
		return fmt.Errorf("settlement asset required")
	}
	if !s.CapacityCap.IsPositive() {
		return fmt.Errorf("capacity cap must be positive")
	}
	if !s.WithdrawalLimit.IsPositive() {
		return fmt.Errorf("withdrawal limit must be positive")
	}
	if s.SlippageBps < 0 || s.SlippageBps >= 10_000 {
		return fmt.Errorf("slippage tolerance out of range: %d bps", s.SlippageBps)
	}
	if s.SwapDeadline <= 0 {
		return fmt.Errorf("swap deadline must be positive")
	}
	if s.SettlementScale < 0 {
		return fmt.Errorf("settlement scale must be non-negative")
	}
	return nil
}
