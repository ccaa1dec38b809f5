package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// TariffSourceDB loads tariffs from Postgres; any other TARIFF_SOURCE value is
// a YAML file path.
const TariffSourceDB = "db"

type Config struct {
	DatabaseURL string
	Port        string
	LogLevel    string

	TariffSource         string
	RatingWorkers        int
	DeficitWeight        bool
	SurchargeFuel        decimal.Decimal
	SurchargeTax         decimal.Decimal
	SurchargeMargin      decimal.Decimal
	ConsolidationTopN    int
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	TariffRefreshChannel string
}

func defaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("TARIFF_SOURCE", TariffSourceDB)
	v.SetDefault("RATING_WORKERS", 8)
	v.SetDefault("RATING_DEFICIT_WEIGHT", false)
	v.SetDefault("SURCHARGE_FUEL", "0.25")
	v.SetDefault("SURCHARGE_TAX", "0.13")
	v.SetDefault("SURCHARGE_MARGIN", "0.15")
	v.SetDefault("CONSOLIDATION_TOP_N", 15)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("TARIFF_REFRESH_CHANNEL", "tariffs:refresh")
}

// Load reads configuration from the environment. When CONFIG_FILE is set the
// file (yaml, using the same upper-case keys) supplies values the
// environment does not.
func Load() (Config, error) {
	v := viper.New()
	defaults(v)
	v.AutomaticEnv()
	if path := strings.TrimSpace(v.GetString("CONFIG_FILE")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		DatabaseURL:          v.GetString("DATABASE_URL"),
		Port:                 v.GetString("PORT"),
		LogLevel:             strings.ToLower(v.GetString("LOG_LEVEL")),
		TariffSource:         strings.TrimSpace(v.GetString("TARIFF_SOURCE")),
		RatingWorkers:        v.GetInt("RATING_WORKERS"),
		DeficitWeight:        v.GetBool("RATING_DEFICIT_WEIGHT"),
		ConsolidationTopN:    v.GetInt("CONSOLIDATION_TOP_N"),
		RedisAddr:            v.GetString("REDIS_ADDR"),
		RedisPassword:        v.GetString("REDIS_PASSWORD"),
		RedisDB:              v.GetInt("REDIS_DB"),
		TariffRefreshChannel: v.GetString("TARIFF_REFRESH_CHANNEL"),
	}
	for _, f := range []struct {
		key string
		dst *decimal.Decimal
	}{
		{"SURCHARGE_FUEL", &cfg.SurchargeFuel},
		{"SURCHARGE_TAX", &cfg.SurchargeTax},
		{"SURCHARGE_MARGIN", &cfg.SurchargeMargin},
	} {
		d, err := decimal.NewFromString(v.GetString(f.key))
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", f.key, err)
		}
		*f.dst = d
	}
	return cfg, cfg.Validate()
}

// Validate rejects values the service cannot run with.
func (c Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is empty")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", c.LogLevel)
	}
	if c.TariffSource == "" {
		return fmt.Errorf("TARIFF_SOURCE is empty")
	}
	if c.RatingWorkers < 1 {
		return fmt.Errorf("RATING_WORKERS must be at least 1, got %d", c.RatingWorkers)
	}
	if c.ConsolidationTopN < 1 {
		return fmt.Errorf("CONSOLIDATION_TOP_N must be at least 1, got %d", c.ConsolidationTopN)
	}
	for name, d := range map[string]decimal.Decimal{
		"SURCHARGE_FUEL":   c.SurchargeFuel,
		"SURCHARGE_TAX":    c.SurchargeTax,
		"SURCHARGE_MARGIN": c.SurchargeMargin,
	} {
		if d.IsNegative() {
			return fmt.Errorf("%s must not be negative, got %s", name, d)
		}
	}
	if c.RedisAddr != "" && c.TariffRefreshChannel == "" {
		return fmt.Errorf("TARIFF_REFRESH_CHANNEL is required when REDIS_ADDR is set")
	}
	return nil
}
