/*
Package config loads server settings from a YAML file and the environment.

KEYS (env override: TOOLCOST_ + key with dots as underscores):
  app.env              dev | prod            TOOLCOST_APP_ENV
  http.addr            listen address        TOOLCOST_HTTP_ADDR
  http.cors_origins    allowed origins
  store.driver         memory | sqlite | postgres
  store.sqlite_path    SQLite file, ":memory:" allowed
  store.postgres_dsn   pgx connection string
  tx.timeout           per-transaction deadline, e.g. "10s"
  metrics.enabled      expose /metrics
  auditor.enabled      run the periodic integrity audit
  auditor.interval     time between audits
  catalog.seed_file    YAML seed applied on startup when set

Every key has a default, so the server starts with no file at all.
*/
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	App struct {
		Env string
	} `mapstructure:"app"`

	HTTP struct {
		Addr        string
		CORSOrigins []string `mapstructure:"cors_origins"`
	} `mapstructure:"http"`

	Store struct {
		Driver      string
		SQLitePath  string `mapstructure:"sqlite_path"`
		PostgresDSN string `mapstructure:"postgres_dsn"`
	} `mapstructure:"store"`

	Tx struct {
		Timeout time.Duration
	} `mapstructure:"tx"`

	Metrics struct {
		Enabled bool
	} `mapstructure:"metrics"`

	Auditor struct {
		Enabled  bool
		Interval time.Duration
	} `mapstructure:"auditor"`

	Catalog struct {
		SeedFile string `mapstructure:"seed_file"`
	} `mapstructure:"catalog"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "prod")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.cors_origins", []string{"*"})
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.sqlite_path", "./tooling.db")
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("tx.timeout", "10s")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("auditor.enabled", true)
	v.SetDefault("auditor.interval", "1h")
	v.SetDefault("catalog.seed_file", "")
}

// Load reads path (optional; "" means defaults plus environment) and
// validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("TOOLCOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var c Config
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return c, fmt.Errorf("read config: %w", err)
		}
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("decode config: %w", err)
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required for the sqlite driver"))
		}
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store.postgres_dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver))
	}
	if c.Tx.Timeout <= 0 {
		errs = append(errs, errors.New("tx.timeout must be positive"))
	}
	if c.Auditor.Enabled && c.Auditor.Interval <= 0 {
		errs = append(errs, errors.New("auditor.interval must be positive"))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	return errors.Join(errs...)
}
