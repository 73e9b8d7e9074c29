// Package config loads server configuration from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type ServerConfig struct {
	Address string `mapstructure:"address"`
	Port    int    `mapstructure:"port"`
}

type DatabaseConfig struct {
	// URL is a postgres connection string. Empty selects the in-memory
	// store (development and tests).
	URL string `mapstructure:"url"`
}

type RedisConfig struct {
	// Addr enables the read-through cache in front of postgres when set.
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TTLSecs  int    `mapstructure:"ttl_secs"`
}

type LedgerConfig struct {
	// PlatformAccountID is the brokerage account collecting commissions
	// and acting as the primary-sale counterparty. Created at startup if
	// missing.
	PlatformAccountID string `mapstructure:"platform_account_id"`

	BuyerCommission       string `mapstructure:"buyer_commission"`
	SellerCommission      string `mapstructure:"seller_commission"`
	LiquidationCommission string `mapstructure:"liquidation_commission"`

	OperationTimeoutSecs int `mapstructure:"operation_timeout_secs"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Log      LogConfig      `mapstructure:"log"`
}

// Load reads configuration from the given file path. If path is empty it
// looks for "config.yaml" in the working directory; a missing file is not an
// error since every key has a default. Environment variables prefixed with
// FONDIART_ override file values, e.g. FONDIART_SERVER_PORT=9000.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.url", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.ttl_secs", 60)
	v.SetDefault("ledger.platform_account_id", "platform")
	v.SetDefault("ledger.buyer_commission", "0.02")
	v.SetDefault("ledger.seller_commission", "0.01")
	v.SetDefault("ledger.liquidation_commission", "0.01")
	v.SetDefault("ledger.operation_timeout_secs", 5)
	v.SetDefault("log.level", "info")

	if path == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("FONDIART")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &c, nil
}
