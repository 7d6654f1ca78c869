package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config contains runtime configuration required by the service.
type Config struct {
	Port            string        `env:"PORT" envDefault:"3000"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	MaxBodyBytes    int64         `env:"MAX_BODY_BYTES" envDefault:"1048576"` // 1MB
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	DB DBConfig
}

// DBConfig uses the libpq variable names so existing tooling keeps working.
type DBConfig struct {
	Host           string        `env:"PGHOST" envDefault:"localhost"`
	Port           int           `env:"PGPORT" envDefault:"5432"`
	User           string        `env:"PGUSER" envDefault:"telecom"`
	Password       string        `env:"PGPASSWORD" envDefault:"telecom"`
	Database       string        `env:"PGDATABASE" envDefault:"telecom"`
	SSLMode        string        `env:"PGSSLMODE" envDefault:"disable"`
	ConnectTimeout time.Duration `env:"PG_CONNECT_TIMEOUT" envDefault:"5s"`
	QueryTimeout   time.Duration `env:"PG_QUERY_TIMEOUT" envDefault:"5s"`
	MaxConns       int           `env:"PG_MAX_CONNS" envDefault:"10"`
	MinConns       int           `env:"PG_MIN_CONNS" envDefault:"2"`
}

// Load reads configuration from environment variables.
// A .env file in the working directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("MAX_BODY_BYTES must be positive, got %d", c.MaxBodyBytes)
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		return fmt.Errorf("PGPORT out of range: %d", c.DB.Port)
	}
	if c.DB.ConnectTimeout <= 0 || c.DB.QueryTimeout <= 0 {
		return fmt.Errorf("PG_CONNECT_TIMEOUT and PG_QUERY_TIMEOUT must be positive")
	}
	if c.DB.MaxConns <= 0 || c.DB.MinConns < 0 || c.DB.MinConns > c.DB.MaxConns {
		return fmt.Errorf("invalid pool size: min %d, max %d", c.DB.MinConns, c.DB.MaxConns)
	}
	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return ":" + c.Port
}

// URL renders the connection settings as a postgres:// DSN.
func (d DBConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:     "/" + d.Database,
		RawQuery: url.Values{"sslmode": {d.SSLMode}}.Encode(),
	}
	return u.String()
}
