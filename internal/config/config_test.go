package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATA_DIR", "/tmp/medline")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.DatabaseDriver)
	assert.Equal(t, filepath.Join("/tmp/medline", "medline.db"), cfg.SQLitePath)
	assert.Equal(t, filepath.Join("/tmp/medline", "badger"), cfg.BadgerPath)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 5*time.Second, cfg.TimerCheckInterval)
	assert.Equal(t, 5*time.Minute, cfg.DefaultSnooze)
	assert.Equal(t, 3*time.Second, cfg.PersistTimeout)
	assert.Equal(t, 4, cfg.MaxConcurrentDeliveries)
	assert.Equal(t, "@every 15m", cfg.ReconcileSchedule)
	assert.Equal(t, "0 21 * * *", cfg.DailySummarySchedule)
	assert.False(t, cfg.AIEnabled())

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "Postgres")
	t.Setenv("DATABASE_URI", "postgres://localhost/medline")
	t.Setenv("TIMEZONE", "Asia/Taipei")
	t.Setenv("DEFAULT_SNOOZE", "10m")
	t.Setenv("TELEGRAM_TOKEN", "token")
	t.Setenv("TELEGRAM_CHAT_ID", "12345")
	t.Setenv("SQLITE_PATH", "/var/lib/medline.db")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.DatabaseDriver)
	assert.Equal(t, 10*time.Minute, cfg.DefaultSnooze)
	assert.Equal(t, int64(12345), cfg.TelegramChatID)
	assert.Equal(t, "/var/lib/medline.db", cfg.SQLitePath)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Taipei", loc.String())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			DatabaseDriver:          DriverSQLite,
			Timezone:                "UTC",
			TimerCheckInterval:      time.Second,
			DefaultSnooze:           time.Minute,
			MaxConcurrentDeliveries: 1,
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"postgres without uri", func(c *Config) { c.DatabaseDriver = DriverPostgres }},
		{"unknown driver", func(c *Config) { c.DatabaseDriver = "mysql" }},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }},
		{"token without chat", func(c *Config) { c.TelegramToken = "t" }},
		{"zero snooze", func(c *Config) { c.DefaultSnooze = 0 }},
		{"zero concurrency", func(c *Config) { c.MaxConcurrentDeliveries = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
