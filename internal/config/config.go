// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/spf13/viper"

	"github.com/rovshanmuradov/txlife/internal/blockchain"
	"github.com/rovshanmuradov/txlife/internal/blockchain/solbc"
	solbcrpc "github.com/rovshanmuradov/txlife/internal/blockchain/solbc/rpc"
	"github.com/rovshanmuradov/txlife/internal/transaction"
)

// EnvPrefix prefixes every environment override, e.g. TXLIFE_CONFIRMATIONS.
const EnvPrefix = "TXLIFE"

type Config struct {
	RPCList              []string `mapstructure:"rpc_list"`
	Commitment           string   `mapstructure:"commitment"`
	RPCRequestsPerSecond float64  `mapstructure:"rpc_rps"`
	RPCTimeoutMs         int      `mapstructure:"rpc_timeout_ms"`
	Retries              int      `mapstructure:"retries"`
	SkipPreflight        bool     `mapstructure:"skip_preflight"`

	Confirmations      uint64 `mapstructure:"confirmations"`
	PollIntervalMs     int    `mapstructure:"poll_interval_ms"`
	DroppedAfterBlocks uint64 `mapstructure:"dropped_after_blocks"`
	SubmitTimeoutMs    int    `mapstructure:"submit_timeout_ms"`
	MinFeePerGas       uint64 `mapstructure:"min_fee_per_gas"`
	MaxGasLimit        uint64 `mapstructure:"max_gas_limit"`

	NATSURL           string `mapstructure:"nats_url"`
	NATSStream        string `mapstructure:"nats_stream"`
	NATSSubjectPrefix string `mapstructure:"nats_subject_prefix"`
	EventBuffer       int    `mapstructure:"event_buffer"`

	DatabaseDSN string `mapstructure:"database_dsn"`

	DebugLogging bool   `mapstructure:"debug_logging"`
	LogFile      string `mapstructure:"log_file"`
	JournalFile  string `mapstructure:"journal_file"`
	MetricsAddr  string `mapstructure:"metrics_addr"`
}

const (
	DefaultCommitment         = "confirmed"
	DefaultRPCRequestsPerSec  = 10
	DefaultRPCTimeoutMs       = 10000
	DefaultRetries            = 3
	DefaultConfirmations      = transaction.DefaultConfirmations
	DefaultPollIntervalMs     = 500
	DefaultDroppedAfterBlocks = transaction.DefaultDroppedAfterBlocks
	DefaultSubmitTimeoutMs    = 30000
	DefaultNATSStream         = "TXLIFE"
	DefaultNATSSubjectPrefix  = "txlife"
	DefaultEventBuffer        = 256
)

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"rpc_list":             []string{},
		"commitment":           DefaultCommitment,
		"rpc_rps":              DefaultRPCRequestsPerSec,
		"rpc_timeout_ms":       DefaultRPCTimeoutMs,
		"retries":              DefaultRetries,
		"skip_preflight":       false,
		"confirmations":        DefaultConfirmations,
		"poll_interval_ms":     DefaultPollIntervalMs,
		"dropped_after_blocks": DefaultDroppedAfterBlocks,
		"submit_timeout_ms":    DefaultSubmitTimeoutMs,
		"min_fee_per_gas":      0,
		"max_gas_limit":        0,
		"nats_url":             "",
		"nats_stream":          DefaultNATSStream,
		"nats_subject_prefix":  DefaultNATSSubjectPrefix,
		"event_buffer":         DefaultEventBuffer,
		"database_dsn":         "",
		"debug_logging":        false,
		"log_file":             "",
		"journal_file":         "",
		"metrics_addr":         "",
	}
}

// LoadConfig reads the configuration file at path, applies TXLIFE_* environment overrides and
// validates the result. An empty path loads defaults and environment only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	loadEnvironmentVariables(v, &cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate drops blank RPC entries and checks the remaining settings. Callers that override
// fields after LoadConfig run it again.
func (c *Config) Validate() error {
	c.RPCList = cleanList(c.RPCList)
	return validateConfig(c)
}

// cleanList trims entries and drops the empty ones.
func cleanList(values []string) []string {
	var clean []string
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			clean = append(clean, value)
		}
	}
	return clean
}

// RequireDatabase reports an error when no database is configured.
func (c *Config) RequireDatabase() error {
	if c.DatabaseDSN == "" {
		return errors.New("database_dsn is empty")
	}
	return nil
}

// RequireRPC reports an error when no RPC endpoint is configured.
func (c *Config) RequireRPC() error {
	if len(c.RPCList) == 0 {
		return errors.New("rpc_list is empty")
	}
	return nil
}

func validateConfig(cfg *Config) error {
	for _, rpcURL := range cfg.RPCList {
		if err := validateURLWithCache(rpcURL, "http"); err != nil {
			return fmt.Errorf("invalid RPC URL %q: %w", rpcURL, err)
		}
	}
	if strings.Contains(cfg.DatabaseDSN, "://") {
		if err := validateURLWithCache(cfg.DatabaseDSN, "postgres", "postgresql"); err != nil {
			return fmt.Errorf("invalid database_dsn: %w", err)
		}
	}
	if cfg.NATSURL != "" {
		if err := validateURLWithCache(cfg.NATSURL, "nats", "tls"); err != nil {
			return fmt.Errorf("invalid NATS URL %q: %w", cfg.NATSURL, err)
		}
	}
	switch solanarpc.CommitmentType(cfg.Commitment) {
	case solanarpc.CommitmentProcessed, solanarpc.CommitmentConfirmed, solanarpc.CommitmentFinalized:
	default:
		return fmt.Errorf("invalid commitment %q", cfg.Commitment)
	}
	return validateNumericParams(cfg)
}

func validateNumericParams(cfg *Config) error {
	if cfg.Confirmations == 0 {
		return errors.New("confirmations must be at least 1")
	}
	if cfg.PollIntervalMs <= 0 {
		return errors.New("invalid poll_interval_ms")
	}
	if cfg.RPCTimeoutMs <= 0 {
		return errors.New("invalid rpc_timeout_ms")
	}
	if cfg.SubmitTimeoutMs < 0 {
		return errors.New("invalid submit_timeout_ms")
	}
	if cfg.RPCRequestsPerSecond < 0 {
		return errors.New("invalid rpc_rps")
	}
	if cfg.Retries < 0 {
		return errors.New("invalid retries count")
	}
	if cfg.EventBuffer <= 0 {
		return errors.New("invalid event_buffer")
	}
	return nil
}

var urlCache sync.Map

func validateURLWithCache(rawURL string, schemes ...string) error {
	if _, ok := urlCache.Load(rawURL); ok {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	for _, scheme := range schemes {
		if strings.HasPrefix(parsed.Scheme, scheme) {
			urlCache.Store(rawURL, parsed)
			return nil
		}
	}
	return errors.New("invalid URL protocol")
}

// loadEnvironmentVariables splits TXLIFE_RPC_LIST on commas.
func loadEnvironmentVariables(v *viper.Viper, cfg *Config) {
	envRPCList := v.GetString("RPC_LIST")
	if envRPCList == "" {
		return
	}
	if cleanRPCs := cleanList(strings.Split(envRPCList, ",")); len(cleanRPCs) > 0 {
		cfg.RPCList = cleanRPCs
	}
}

// PollInterval returns the head polling interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// FeePolicy returns the operator fee policy.
func (c *Config) FeePolicy() blockchain.FeePolicy {
	return blockchain.FeePolicy{MinFeePerGas: c.MinFeePerGas, MaxGasLimit: c.MaxGasLimit}
}

// TransactionConfig returns the lifecycle manager configuration.
func (c *Config) TransactionConfig() transaction.Config {
	return transaction.Config{
		Confirmations:      c.Confirmations,
		DroppedAfterBlocks: c.DroppedAfterBlocks,
		SubmitTimeout:      time.Duration(c.SubmitTimeoutMs) * time.Millisecond,
	}
}

// RPCOptions returns the Solana RPC client options.
func (c *Config) RPCOptions() solbcrpc.Options {
	return solbcrpc.Options{
		RequestsPerSecond: c.RPCRequestsPerSecond,
		Retries:           uint(c.Retries),
		Timeout:           time.Duration(c.RPCTimeoutMs) * time.Millisecond,
	}
}

// SolanaConfig returns the Solana adapter configuration.
func (c *Config) SolanaConfig() solbc.Config {
	return solbc.Config{
		Commitment:    solanarpc.CommitmentType(c.Commitment),
		PollInterval:  c.PollInterval(),
		FeePolicy:     c.FeePolicy(),
		SkipPreflight: c.SkipPreflight,
	}
}
