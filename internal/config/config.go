// Package config loads the engine configuration from an optional YAML file
// with environment-variable overrides for deployment secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Services  ServicesConfig  `yaml:"services"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Fund      FundConfig      `yaml:"fund"`
	Mint      MintConfig      `yaml:"mint"`
	Burn      BurnConfig      `yaml:"burn"`
	Rebalance RebalanceConfig `yaml:"rebalance"`
}

type ServerConfig struct {
	Addr       string `yaml:"addr"`
	AdminToken string `yaml:"admin_token"`
}

// ServicesConfig points at the external custody gateways.
type ServicesConfig struct {
	LedgerURL   string        `yaml:"ledger_url"`
	OracleURL   string        `yaml:"oracle_url"`
	ExchangeURL string        `yaml:"exchange_url"`
	AuthToken   string        `yaml:"auth_token"`
	Timeout     time.Duration `yaml:"timeout"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type LoggingConfig struct {
	Format string `yaml:"format"` // "json" | "text"
	Level  string `yaml:"level"`  // "debug" | "info" | "warn" | "error"
}

// AssetConfig describes one token. TransferFee is the ledger's flat fee in
// the asset's base units, deducted from every outbound transfer.
type AssetConfig struct {
	Symbol      string `yaml:"symbol"`
	Decimals    uint32 `yaml:"decimals"`
	TransferFee int64  `yaml:"transfer_fee"`
}

type FundConfig struct {
	ShareAsset      AssetConfig   `yaml:"share_asset"`
	ReserveAsset    AssetConfig   `yaml:"reserve_asset"`
	Assets          []AssetConfig `yaml:"assets"`
	FundAccount     string        `yaml:"fund_account"`
	ExchangeAccount string        `yaml:"exchange_account"`
}

type MintConfig struct {
	Fee             int64         `yaml:"fee"`
	MinAmount       int64         `yaml:"min_amount"`
	MaxAmount       int64         `yaml:"max_amount"`
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`
	SnapshotWarnAge time.Duration `yaml:"snapshot_warn_age"`
	SnapshotFailAge time.Duration `yaml:"snapshot_fail_age"`
	PendingTTL      time.Duration `yaml:"pending_ttl"`
	TerminalTTL     time.Duration `yaml:"terminal_ttl"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
}

type BurnConfig struct {
	Fee             int64         `yaml:"fee"`
	MinAmount       int64         `yaml:"min_amount"`
	DustThreshold   int64         `yaml:"dust_threshold"`
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`
}

type RebalanceConfig struct {
	TradeIntensityBps int64         `yaml:"trade_intensity_bps"`
	MaxSlippageBps    int64         `yaml:"max_slippage_bps"`
	MinTradeSize      int64         `yaml:"min_trade_size"`
	HistorySize       int           `yaml:"history_size"`
	Interval          time.Duration `yaml:"interval"`
	GracePeriod       time.Duration `yaml:"grace_period"`
}

// Load reads the YAML file at path when it exists, applies environment
// overrides and fills in defaults. An empty path skips the file entirely.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Services: ServicesConfig{
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Format: "json",
			Level:  "info",
		},
		Fund: FundConfig{
			ShareAsset:   AssetConfig{Symbol: "BSKT", Decimals: 8, TransferFee: 1000},
			ReserveAsset: AssetConfig{Symbol: "ckUSDT", Decimals: 6, TransferFee: 10},
			FundAccount:  "fund",
		},
		Mint: MintConfig{
			Fee:             100_000,
			MinAmount:       1_000_000,
			MaxAmount:       1_000_000_000_000,
			RateLimitWindow: time.Second,
			SnapshotWarnAge: 30 * time.Second,
			SnapshotFailAge: 60 * time.Second,
			PendingTTL:      3 * time.Minute,
			TerminalTTL:     24 * time.Hour,
			SweepInterval:   time.Minute,
		},
		Burn: BurnConfig{
			Fee:             100_000,
			MinAmount:       11_000,
			DustThreshold:   1_000,
			RateLimitWindow: time.Second,
		},
		Rebalance: RebalanceConfig{
			TradeIntensityBps: 1000,
			MaxSlippageBps:    200,
			MinTradeSize:      10_000_000,
			HistorySize:       10,
			Interval:          time.Hour,
			GracePeriod:       60 * time.Second,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		cfg.Server.AdminToken = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("SERVICES_AUTH_TOKEN"); v != "" {
		cfg.Services.AuthToken = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func (c *Config) validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required (set database.dsn or DB_DSN)")
	}
	if c.Services.LedgerURL == "" || c.Services.OracleURL == "" || c.Services.ExchangeURL == "" {
		return fmt.Errorf("services ledger_url, oracle_url and exchange_url are required")
	}
	if len(c.Fund.Assets) == 0 {
		return fmt.Errorf("at least one basket asset must be configured")
	}
	if c.Fund.ExchangeAccount == "" {
		return fmt.Errorf("fund exchange_account is required")
	}
	if c.Mint.Fee <= 0 || c.Burn.Fee <= 0 {
		return fmt.Errorf("mint and burn fees must be positive")
	}
	if c.Burn.MinAmount <= c.Burn.DustThreshold {
		return fmt.Errorf("burn min_amount must exceed dust_threshold")
	}
	if c.Rebalance.MaxSlippageBps < 0 || c.Rebalance.MaxSlippageBps > 10000 {
		return fmt.Errorf("rebalance max_slippage_bps must be in [0,10000]")
	}
	if c.Rebalance.TradeIntensityBps <= 0 || c.Rebalance.TradeIntensityBps > 10000 {
		return fmt.Errorf("rebalance trade_intensity_bps must be in (0,10000]")
	}
	return nil
}
