package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type KrakenConfig struct {
	Enabled   bool   `yaml:"enabled"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
}

type BitMartConfig struct {
	Enabled   bool   `yaml:"enabled"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Memo      string `yaml:"memo"`
}

type TradingConfig struct {
	// Fraction of the account balance that may be locked in open orders.
	MaxAccountUsage float64 `yaml:"max_account_usage"`
	// Fraction of the remaining budget a single trade may consume.
	MaxTradeSize     float64 `yaml:"max_trade_size"`
	SleepIntervalSec int     `yaml:"sleep_interval_sec"`
	MaxOrdersPerPair int     `yaml:"max_orders_per_pair"`
	// Discovery price ceiling: pairs quoted above this are ignored.
	MaxTokenPrice float64 `yaml:"max_token_price"`
	TakerFee      float64 `yaml:"taker_fee"`

	// Price tier boundaries. low <= TierMed < medium <= TierHigh < high.
	TierMed  float64 `yaml:"tier_med"`
	TierHigh float64 `yaml:"tier_high"`

	RiskMultiplierLow  float64 `yaml:"risk_multiplier_low"`
	RiskMultiplierMed  float64 `yaml:"risk_multiplier_med"`
	RiskMultiplierHigh float64 `yaml:"risk_multiplier_high"`

	ProfitMarginLow  float64 `yaml:"profit_margin_low"`
	ProfitMarginMed  float64 `yaml:"profit_margin_med"`
	ProfitMarginHigh float64 `yaml:"profit_margin_high"`

	// Relative price difference below which router ranking stays purely
	// liquidity-driven.
	PriceDiffThreshold float64 `yaml:"price_diff_threshold"`

	MarginEnabled   bool `yaml:"margin_enabled"`
	DefaultLeverage int  `yaml:"default_leverage"`
}

type StorageConfig struct {
	TradeLogsDir string `yaml:"trade_logs_dir"`
	SessionsDir  string `yaml:"sessions_dir"`
	SessionDB    string `yaml:"session_db"`
}

type Config struct {
	Kraken  KrakenConfig  `yaml:"kraken"`
	BitMart BitMartConfig `yaml:"bitmart"`
	Trading TradingConfig `yaml:"trading"`
	Storage StorageConfig `yaml:"storage"`

	BalanceCacheSec int `yaml:"balance_cache_sec"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
}

// Default returns the tuning the bot ships with. Values mirror the
// conservative micro-cap profile: 10% account usage, 3% trade size,
// risk tapering off for higher-priced tokens.
func Default() *Config {
	cfg := &Config{
		Trading: TradingConfig{
			MaxAccountUsage:    0.10,
			MaxTradeSize:       0.03,
			SleepIntervalSec:   45,
			MaxOrdersPerPair:   2,
			MaxTokenPrice:      0.20,
			TakerFee:           0.0026,
			TierMed:            0.05,
			TierHigh:           0.15,
			RiskMultiplierLow:  1.0,
			RiskMultiplierMed:  0.7,
			RiskMultiplierHigh: 0.4,
			ProfitMarginLow:    0.003,
			ProfitMarginMed:    0.002,
			ProfitMarginHigh:   0.001,
			PriceDiffThreshold: 0.001,
			MarginEnabled:      false,
			DefaultLeverage:    2,
		},
		Storage: StorageConfig{
			TradeLogsDir: "trade_logs",
			SessionsDir:  "trade_logs/sessions",
			SessionDB:    "trade_logs/sessions.db",
		},
		BalanceCacheSec: 60,
	}
	cfg.Logging.Level = "info"
	cfg.Server.Port = 8080
	return cfg
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if !c.Kraken.Enabled && !c.BitMart.Enabled {
		return fmt.Errorf("no exchange enabled")
	}
	if c.Kraken.Enabled && (c.Kraken.APIKey == "" || c.Kraken.APISecret == "") {
		return fmt.Errorf("kraken enabled but credentials missing")
	}
	if c.BitMart.Enabled && (c.BitMart.APIKey == "" || c.BitMart.APISecret == "" || c.BitMart.Memo == "") {
		return fmt.Errorf("bitmart enabled but credentials missing")
	}
	if c.Trading.MaxAccountUsage <= 0 || c.Trading.MaxAccountUsage > 1 {
		return fmt.Errorf("max_account_usage must be in (0, 1]")
	}
	return nil
}

func (c *Config) SleepInterval() time.Duration {
	return time.Duration(c.Trading.SleepIntervalSec) * time.Second
}

func (c *Config) BalanceCacheTTL() time.Duration {
	return time.Duration(c.BalanceCacheSec) * time.Second
}
