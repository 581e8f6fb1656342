// Package config holds the externally supplied configuration surface of
// the token authority: signing secret, token lifetimes, the federated
// success redirect target, and store endpoints.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is parsed from the environment. The signing secret is validated
// where it is consumed, at issuer construction, so a misconfigured
// process fails at startup rather than per request.
type Config struct {
	JWTSecret          string        `env:"AUTH_JWT_SECRET"`
	AccessTTL          time.Duration `env:"AUTH_ACCESS_TTL" envDefault:"15m"`
	RefreshTTL         time.Duration `env:"AUTH_REFRESH_TTL" envDefault:"168h"`
	SuccessRedirectURL string        `env:"AUTH_SUCCESS_REDIRECT_URL" envDefault:"http://localhost:5173/oauth/callback"`
	PostgresDSN        string        `env:"AUTH_PG_DSN"`
	RedisAddr          string        `env:"AUTH_REDIS_ADDR"`
	AttemptsPerMinute  int           `env:"AUTH_ATTEMPTS_PER_MINUTE" envDefault:"0"`
}

// Load parses the configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
