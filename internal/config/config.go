// Package config provides configuration management for the valuation CLI
// and dashboard.
package config

import (
	"fmt"
	"os"
	"strings"

	yaml "gopkg.in/yaml.v3"

	"github.com/kdufour/optworth/internal/ledger"
)

const (
	// defaultLedgerBinary is used when ledger.binary is unset.
	defaultLedgerBinary = "ledger"
	// defaultStoragePath is used when storage.path is unset.
	defaultStoragePath = "snapshots.json"
	// defaultDashboardPort is used when dashboard.port is unset.
	defaultDashboardPort = 9000
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Market      MarketConfig      `yaml:"market"`
	Instruments InstrumentsConfig `yaml:"instruments"`
	Storage     StorageConfig     `yaml:"storage"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

// EnvironmentConfig defines logging settings.
type EnvironmentConfig struct {
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
	LogFile  string `yaml:"log_file"`  // empty means stderr only
}

// LedgerConfig defines how the ledger journal is read.
type LedgerConfig struct {
	Binary string `yaml:"binary"`
	File   string `yaml:"file"`
}

// MarketConfig defines market data API settings.
type MarketConfig struct {
	Provider    string `yaml:"provider"`
	APIKey      string `yaml:"api_key"`
	APIEndpoint string `yaml:"api_endpoint"`
	Sandbox     bool   `yaml:"sandbox"`
}

// InstrumentsConfig defines per-ticker conventions the journal does not
// carry.
type InstrumentsConfig struct {
	// IndexTickers are cash-settled index instruments.
	IndexTickers []string `yaml:"index_tickers"`
	// Multipliers overrides the contract multiplier per ticker.
	Multipliers map[string]float64 `yaml:"multipliers"`
	// CHFSettledTickers settle in CHF and are converted at CHFUSD.
	CHFSettledTickers []string `yaml:"chf_settled_tickers"`
	CHFUSD            float64  `yaml:"chfusd"`
}

// StorageConfig defines where engine run snapshots are kept.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// DashboardConfig defines the HTTP dashboard settings.
type DashboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent,
// and fills defaults.
func (c *Config) Validate() error {
	switch c.Environment.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("environment.log_level must be debug, info, warn or error")
	}

	if c.Ledger.Binary == "" {
		c.Ledger.Binary = defaultLedgerBinary
	}
	if c.Ledger.File == "" {
		return fmt.Errorf("ledger.file is required")
	}

	if c.Market.Provider == "" {
		c.Market.Provider = "tradier"
	}
	if c.Market.Provider != "tradier" {
		return fmt.Errorf("market.provider %q is not supported", c.Market.Provider)
	}
	if c.Market.APIKey == "" {
		return fmt.Errorf("market.api_key is required")
	}

	for ticker, m := range c.Instruments.Multipliers {
		if m <= 0 {
			return fmt.Errorf("instruments.multipliers[%s] must be > 0", ticker)
		}
	}
	if len(c.Instruments.CHFSettledTickers) > 0 && c.Instruments.CHFUSD <= 0 {
		return fmt.Errorf("instruments.chfusd must be > 0 when CHF settled tickers are configured")
	}

	if c.Storage.Path == "" {
		c.Storage.Path = defaultStoragePath
	}

	if c.Dashboard.Enabled {
		if c.Dashboard.Port == 0 {
			c.Dashboard.Port = defaultDashboardPort
		}
		if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
			return fmt.Errorf("dashboard.port must be a valid TCP port")
		}
	}

	return nil
}

// LedgerClientConfig maps the instrument conventions into the ledger
// client's config.
func (c *Config) LedgerClientConfig() ledger.Config {
	return ledger.Config{
		IndexTickers:      c.Instruments.IndexTickers,
		Multipliers:       c.Instruments.Multipliers,
		CHFSettledTickers: c.Instruments.CHFSettledTickers,
		CHFUSD:            c.Instruments.CHFUSD,
	}
}
