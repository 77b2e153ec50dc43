package db

import (
	"fmt"
	"net/url"

	"github.com/kelseyhightower/envconfig"
)

type PostgresConfig struct {
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     int    `envconfig:"DB_PORT" default:"5432"`
	User     string `envconfig:"DB_USER" default:"postgres"`
	Password string `envconfig:"DB_PASSWORD"`
	DBName   string `envconfig:"DB_NAME" default:"checkout"`
	SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
}

// LoadPostgresConfig reads DB_* variables.
func LoadPostgresConfig() (PostgresConfig, error) {
	var cfg PostgresConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return PostgresConfig{}, err
	}
	return cfg, nil
}

func (c PostgresConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}
