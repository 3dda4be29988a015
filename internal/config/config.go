// Package config loads the daemon's YAML configuration file, with
// environment overrides layered on through viper.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvVar is the override path the daemon checks before falling back to
// ./config.yaml.
const EnvVar = "STEALTHSWAPD_CONFIG"

// VaultPassphraseEnvVar names the environment variable carrying the vault's
// KEK passphrase; it is never accepted from the config file itself.
const VaultPassphraseEnvVar = "STEALTHSWAPD_VAULT_PASSPHRASE"

type Config struct {
	Solana   SolanaConfig   `mapstructure:"solana" yaml:"solana"`
	Monero   MoneroConfig   `mapstructure:"monero" yaml:"monero"`
	Quoting  QuotingConfig  `mapstructure:"quoting" yaml:"quoting"`
	Refund   RefundConfig   `mapstructure:"refund" yaml:"refund"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
}

type SolanaConfig struct {
	RPCURL      string `mapstructure:"rpc_url" yaml:"rpc_url"`
	KeypairPath string `mapstructure:"keypair_path" yaml:"keypair_path"`
	USDCMint    string `mapstructure:"usdc_mint" yaml:"usdc_mint"`
	Commitment  string `mapstructure:"commitment" yaml:"commitment"`
}

type MoneroConfig struct {
	WalletRPCURL string `mapstructure:"wallet_rpc_url" yaml:"wallet_rpc_url"`
	WalletFile   string `mapstructure:"wallet_file" yaml:"wallet_file"`
	DaemonURL    string `mapstructure:"daemon_url" yaml:"daemon_url"`
}

type QuotingConfig struct {
	MinUSDC       uint64        `mapstructure:"min_usdc" yaml:"min_usdc"`
	MaxUSDC       uint64        `mapstructure:"max_usdc" yaml:"max_usdc"`
	SpreadBps     uint64        `mapstructure:"spread_bps" yaml:"spread_bps"`
	ExpiryMinutes uint64        `mapstructure:"expiry_minutes" yaml:"expiry_minutes"`
	DeadlineOne   time.Duration `mapstructure:"deadline_one" yaml:"deadline_one"`
	SafetyMargin  time.Duration `mapstructure:"safety_margin" yaml:"safety_margin"`
}

type RefundConfig struct {
	FeeBps        uint64 `mapstructure:"fee_bps" yaml:"fee_bps"`
	RetryAttempts int    `mapstructure:"retry_attempts" yaml:"retry_attempts"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type ServerConfig struct {
	BindAddress    string        `mapstructure:"bind_address" yaml:"bind_address"`
	TimeoutSeconds time.Duration `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
}

// Default returns the baseline configuration for the two-chain USDC/XMR
// direction this build implements.
func Default() Config {
	return Config{
		Solana: SolanaConfig{
			RPCURL:     "https://api.mainnet-beta.solana.com",
			USDCMint:   "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
			Commitment: "confirmed",
		},
		Monero: MoneroConfig{
			WalletRPCURL: "http://127.0.0.1:18083",
			WalletFile:   "maker_swap",
		},
		Quoting: QuotingConfig{
			MinUSDC:       100_000_000,
			MaxUSDC:       10_000_000_000,
			SpreadBps:     50,
			ExpiryMinutes: 30,
			DeadlineOne:   time.Hour,
			SafetyMargin:  30 * time.Minute,
		},
		Refund: RefundConfig{
			FeeBps:        10,
			RetryAttempts: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Server: ServerConfig{
			BindAddress:    "0.0.0.0:3000",
			TimeoutSeconds: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "./data/stealthswapd.db",
		},
	}
}

// Load reads the YAML file at STEALTHSWAPD_CONFIG (default ./config.yaml),
// falling back to Default() if the file is absent, then layers in any
// STEALTHSWAPD_-prefixed environment overrides and validates the result.
func Load() (Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		path = "./config.yaml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("STEALTHSWAPD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	setDefaults(v, cfg)

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults seeds viper with Default()'s values so keys absent from both
// the file and the environment still resolve during Unmarshal.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("solana.rpc_url", cfg.Solana.RPCURL)
	v.SetDefault("solana.usdc_mint", cfg.Solana.USDCMint)
	v.SetDefault("solana.commitment", cfg.Solana.Commitment)
	v.SetDefault("monero.wallet_rpc_url", cfg.Monero.WalletRPCURL)
	v.SetDefault("monero.wallet_file", cfg.Monero.WalletFile)
	v.SetDefault("quoting.min_usdc", cfg.Quoting.MinUSDC)
	v.SetDefault("quoting.max_usdc", cfg.Quoting.MaxUSDC)
	v.SetDefault("quoting.spread_bps", cfg.Quoting.SpreadBps)
	v.SetDefault("quoting.expiry_minutes", cfg.Quoting.ExpiryMinutes)
	v.SetDefault("quoting.deadline_one", cfg.Quoting.DeadlineOne)
	v.SetDefault("quoting.safety_margin", cfg.Quoting.SafetyMargin)
	v.SetDefault("refund.fee_bps", cfg.Refund.FeeBps)
	v.SetDefault("refund.retry_attempts", cfg.Refund.RetryAttempts)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("server.bind_address", cfg.Server.BindAddress)
	v.SetDefault("server.timeout_seconds", cfg.Server.TimeoutSeconds)
	v.SetDefault("database.driver", cfg.Database.Driver)
	v.SetDefault("database.dsn", cfg.Database.DSN)
}

// Validate checks quoting bounds, spread/fee caps, and presence of the
// vault passphrase env var.
func (c Config) Validate() error {
	if c.Quoting.MinUSDC >= c.Quoting.MaxUSDC {
		return fmt.Errorf("config: quoting.min_usdc must be less than quoting.max_usdc")
	}
	if c.Quoting.SpreadBps > 10_000 {
		return fmt.Errorf("config: quoting.spread_bps %d exceeds 10000", c.Quoting.SpreadBps)
	}
	if c.Refund.FeeBps > 10_000 {
		return fmt.Errorf("config: refund.fee_bps %d exceeds 10000", c.Refund.FeeBps)
	}
	if os.Getenv(VaultPassphraseEnvVar) == "" {
		return fmt.Errorf("config: %s must be set", VaultPassphraseEnvVar)
	}
	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("config: database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	return nil
}

// WriteExample marshals cfg to YAML and writes it to path, giving an
// operator a starter config.yaml to edit rather than hand-assembling one
// from the field reference.
func WriteExample(path string, cfg Config) error {
	encoded, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal example: %w", err)
	}
	if err := os.WriteFile(path, encoded, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// VaultPassphrase reads the vault KEK passphrase from the environment.
// It is never accepted from the config file, so it can't end up
// persisted alongside the rest of the daemon's settings.
func VaultPassphrase() string {
	return os.Getenv(VaultPassphraseEnvVar)
}
