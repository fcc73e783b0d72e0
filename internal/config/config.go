package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig carries every externally injected resource handle. There is no
// ambient global state: main constructs one of these and passes it down.
type AppConfig struct {
	ListenAddr string `yaml:"listen_addr"`

	RedisURL    string `yaml:"redis_url"`
	DatabaseURL string `yaml:"database_url"`

	SolanaRPCURL     string `yaml:"solana_rpc_url"`
	EscrowPrivateKey string `yaml:"escrow_private_key"`
	TokenSigningSeed string `yaml:"token_signing_seed"`

	EntryFeeLamports uint64 `yaml:"entry_fee_lamports"`
	HouseFeeLamports uint64 `yaml:"house_fee_lamports"`

	MatchDurationSec  int `yaml:"match_duration_sec"`
	PaymentWindowSec  int `yaml:"payment_window_sec"`
	RefundWindowSec   int `yaml:"refund_window_sec"`
	JanitorIntervalS  int `yaml:"janitor_interval_sec"`
	LobbyMaxAgeSec    int `yaml:"lobby_max_age_sec"`
	MonitorIntervalS  int `yaml:"monitor_interval_sec"`
	LowBalanceFactor  int `yaml:"low_balance_factor"`
	TokenTTLSec       int `yaml:"token_ttl_sec"`
	ConfirmTimeoutSec int `yaml:"confirm_timeout_sec"`
}

func (c *AppConfig) MatchDuration() time.Duration  { return time.Duration(c.MatchDurationSec) * time.Second }
func (c *AppConfig) PaymentWindow() time.Duration  { return time.Duration(c.PaymentWindowSec) * time.Second }
func (c *AppConfig) RefundWindow() time.Duration   { return time.Duration(c.RefundWindowSec) * time.Second }
func (c *AppConfig) JanitorInterval() time.Duration {
	return time.Duration(c.JanitorIntervalS) * time.Second
}
func (c *AppConfig) LobbyMaxAge() time.Duration { return time.Duration(c.LobbyMaxAgeSec) * time.Second }
func (c *AppConfig) MonitorInterval() time.Duration {
	return time.Duration(c.MonitorIntervalS) * time.Second
}
func (c *AppConfig) TokenTTL() time.Duration { return time.Duration(c.TokenTTLSec) * time.Second }
func (c *AppConfig) ConfirmTimeout() time.Duration {
	return time.Duration(c.ConfirmTimeoutSec) * time.Second
}

// PrizeLamports is 2×entryFee − 2×houseFee.
func (c *AppConfig) PrizeLamports() uint64 {
	return 2*c.EntryFeeLamports - 2*c.HouseFeeLamports
}

// Load builds the config from an optional YAML file (CONFIG_FILE) with
// environment variables taking precedence over file values.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:        ":8080",
		EntryFeeLamports:  100_000_000, // 0.1 SOL
		HouseFeeLamports:  0,
		MatchDurationSec:  150,
		PaymentWindowSec:  300,
		RefundWindowSec:   300,
		JanitorIntervalS:  300,
		LobbyMaxAgeSec:    300,
		MonitorIntervalS:  3600,
		LowBalanceFactor:  5,
		TokenTTLSec:       3600,
		ConfirmTimeoutSec: 60,
	}

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyString(&cfg.ListenAddr, "LISTEN_ADDR")
	applyString(&cfg.RedisURL, "REDIS_URL")
	applyString(&cfg.DatabaseURL, "DATABASE_URL")
	applyString(&cfg.SolanaRPCURL, "SOLANA_RPC_URL")
	applyString(&cfg.EscrowPrivateKey, "ESCROW_PRIVATE_KEY")
	applyString(&cfg.TokenSigningSeed, "TOKEN_SIGNING_SEED")

	applyUint64(&cfg.EntryFeeLamports, "ENTRY_FEE_LAMPORTS")
	applyUint64(&cfg.HouseFeeLamports, "HOUSE_FEE_LAMPORTS")

	applyInt(&cfg.MatchDurationSec, "MATCH_DURATION_SEC")
	applyInt(&cfg.PaymentWindowSec, "PAYMENT_WINDOW_SEC")
	applyInt(&cfg.RefundWindowSec, "REFUND_WINDOW_SEC")
	applyInt(&cfg.JanitorIntervalS, "JANITOR_INTERVAL_SEC")
	applyInt(&cfg.LobbyMaxAgeSec, "LOBBY_MAX_AGE_SEC")
	applyInt(&cfg.MonitorIntervalS, "MONITOR_INTERVAL_SEC")
	applyInt(&cfg.LowBalanceFactor, "LOW_BALANCE_FACTOR")
	applyInt(&cfg.TokenTTLSec, "TOKEN_TTL_SEC")
	applyInt(&cfg.ConfirmTimeoutSec, "CONFIRM_TIMEOUT_SEC")

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.SolanaRPCURL == "" {
		return nil, errors.New("SOLANA_RPC_URL is required")
	}
	if cfg.EscrowPrivateKey == "" {
		return nil, errors.New("ESCROW_PRIVATE_KEY is required")
	}
	if cfg.EntryFeeLamports == 0 {
		return nil, errors.New("ENTRY_FEE_LAMPORTS must be positive")
	}
	if cfg.HouseFeeLamports > cfg.EntryFeeLamports {
		return nil, errors.New("HOUSE_FEE_LAMPORTS must not exceed the entry fee")
	}

	return cfg, nil
}

func applyString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func applyInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

func applyUint64(dst *uint64, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}
