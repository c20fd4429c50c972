package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config is the full environment surface. Variable names follow the
// existing deployment: Azure Easy Auth sits in front of the service and
// the same POSTGRES_/REDIS_ settings are reused unchanged.
type Config struct {
	Addr string `env:"ADDR" envDefault:":8080"`

	// Storage mode: local, postgres, redis, or the local test aliases
	// local_psql / local_redis.
	Mode        string `env:"CHAT_HISTORY_MODE" envDefault:"local"`
	HistoryDays int    `env:"CONVERSATION_HISTORY_DAYS" envDefault:"7"`
	BaseDir     string `env:"CHAT_HISTORY_DIR" envDefault:"."`

	PostgresHost     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort     int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_ADMIN_LOGIN" envDefault:"pgadmin"`
	PostgresPassword string `env:"POSTGRES_ADMIN_PASSWORD"`
	PostgresDatabase string `env:"POSTGRES_DATABASE" envDefault:"chat_history"`
	PostgresSSLMode  string `env:"POSTGRES_SSLMODE" envDefault:"require"`

	RedisHost       string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort       int    `env:"REDIS_PORT" envDefault:"6380"`
	RedisPassword   string `env:"REDIS_PASSWORD"`
	RedisSSL        bool   `env:"REDIS_SSL" envDefault:"true"`
	RedisTTLSeconds int    `env:"REDIS_TTL_SECONDS" envDefault:"1800"`

	DefaultModel string `env:"DEFAULT_MODEL" envDefault:"gpt-4o-mini"`

	// Fixed identity used by the local test modes instead of SSO headers.
	LocalTestClientID string `env:"LOCAL_TEST_CLIENT_ID" envDefault:"00000000-0000-0000-0000-000000000001"`
	LocalTestUsername string `env:"LOCAL_TEST_USERNAME" envDefault:"local_user"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// PostgresDSN assembles the connection URL from the individual settings.
func (c *Config) PostgresDSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:     fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:     c.PostgresDatabase,
		RawQuery: "sslmode=" + c.PostgresSSLMode,
	}
	return u.String()
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// IsLocalTestMode reports whether identity should come from the
// LOCAL_TEST_* settings rather than SSO headers.
func (c *Config) IsLocalTestMode() bool {
	m := strings.ToLower(strings.TrimSpace(c.Mode))
	return m == "local_psql" || m == "local_redis"
}
