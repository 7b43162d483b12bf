package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JorgeZavalaO/torno-app-sub000/config"
)

func TestLoad_Defaults(t *testing.T) {
	c, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "prod", c.App.Env)
	assert.Equal(t, ":8080", c.HTTP.Addr)
	assert.Equal(t, config.DriverSQLite, c.Store.Driver)
	assert.Equal(t, 10*time.Second, c.Tx.Timeout)
	assert.True(t, c.Auditor.Enabled)
	assert.Equal(t, time.Hour, c.Auditor.Interval)
}

func TestLoad_ExampleFile(t *testing.T) {
	c, err := config.Load("example.yaml")
	require.NoError(t, err)

	assert.Equal(t, "dev", c.App.Env)
	assert.Equal(t, []string{"http://localhost:3000"}, c.HTTP.CORSOrigins)
	assert.Equal(t, "./data/tooling.db", c.Store.SQLitePath)
	assert.Equal(t, 30*time.Minute, c.Auditor.Interval)
	assert.Equal(t, "./config/seed.example.yaml", c.Catalog.SeedFile)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TOOLCOST_STORE_DRIVER", "memory")
	t.Setenv("TOOLCOST_TX_TIMEOUT", "3s")
	t.Setenv("TOOLCOST_HTTP_ADDR", ":9999")

	c, err := config.Load("example.yaml")
	require.NoError(t, err)
	assert.Equal(t, config.DriverMemory, c.Store.Driver)
	assert.Equal(t, 3*time.Second, c.Tx.Timeout)
	assert.Equal(t, ":9999", c.HTTP.Addr)
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: oracle\ntx:\n  timeout: 0s\n"), 0o600))

	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown driver "oracle"`)
	assert.Contains(t, err.Error(), "tx.timeout must be positive")
}

func TestLoad_PostgresNeedsDSN(t *testing.T) {
	t.Setenv("TOOLCOST_STORE_DRIVER", "postgres")
	_, err := config.Load("")
	assert.ErrorContains(t, err, "store.postgres_dsn is required")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "read config")
}
