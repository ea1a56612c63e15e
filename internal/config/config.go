package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server     Server     `mapstructure:"server"`
	Database   Database   `mapstructure:"database"`
	Logger     Logger     `mapstructure:"logger"`
	Pricing    Pricing    `mapstructure:"pricing"`
	Accounting Accounting `mapstructure:"accounting"`
}

// Server holds the configuration for the web server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Pricing holds the configuration for the market-data client.
type Pricing struct {
	BaseURL        string  `mapstructure:"base_url"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	CacheTTL       int     `mapstructure:"cache_ttl"` // seconds
}

// Accounting holds the accounting policy knobs. StableTickers is the single
// source of truth for the stable/fiat allowlist; it is injected into the
// engine rather than re-declared per call site.
type Accounting struct {
	StableTickers []string `mapstructure:"stable_tickers"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("database.dsn", "coinfolio.db")
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "console")
	viper.SetDefault("pricing.base_url", "https://api.binance.com/api/v3")
	viper.SetDefault("pricing.rate_limit", 10) // requests per second
	viper.SetDefault("pricing.rate_limit_burst", 5)
	viper.SetDefault("pricing.cache_ttl", 60)
	viper.SetDefault("accounting.stable_tickers", []string{
		"USDT", "USDC", "BUSD", "DAI", "TUSD", "USD", "EUR", "GBP", "CHF",
	})

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
