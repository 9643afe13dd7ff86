package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DBType   string `mapstructure:"DB_TYPE"` // sqlite, postgres, mysql
	DSN      string `mapstructure:"DSN"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
	Port     int    `mapstructure:"PORT"`

	// JWTSecret signs pending and session tokens. Must be set in production.
	JWTSecret string `mapstructure:"JWT_SECRET"`

	// TOTPIssuer is the issuer label rendered in authenticator apps.
	TOTPIssuer string `mapstructure:"TOTP_ISSUER"`

	// Brute-force policy. The defaults match the documented lockout
	// behavior; deployments behind shared NATs may want a looser policy.
	MaxAttempts     int           `mapstructure:"MAX_ATTEMPTS"`
	AttemptWindow   time.Duration `mapstructure:"ATTEMPT_WINDOW"`
	LockoutDuration time.Duration `mapstructure:"LOCKOUT_DURATION"`

	// RedisAddr enables the Redis-backed attempt limiter for multi-node
	// deployments. Empty means the in-process limiter is used.
	RedisAddr string `mapstructure:"REDIS_ADDR"`
}

func LoadConfig() (*Config, error) {
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("PORT", 8080)
	viper.SetDefault("DB_TYPE", "sqlite")
	viper.SetDefault("DSN", "worklane.db")
	viper.SetDefault("JWT_SECRET", "")
	viper.SetDefault("TOTP_ISSUER", "Worklane")
	viper.SetDefault("MAX_ATTEMPTS", 5)
	viper.SetDefault("ATTEMPT_WINDOW", 15*time.Minute)
	viper.SetDefault("LOCKOUT_DURATION", 15*time.Minute)
	viper.SetDefault("REDIS_ADDR", "")

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
