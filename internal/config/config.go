package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	DatabaseDriver string
	DatabaseURI    string
	DataDir        string
	SQLitePath     string
	BadgerPath     string

	TelegramToken  string
	TelegramChatID int64

	AIAPIKey  string
	AIBaseURL string
	AIModel   string

	Timezone string
	HTTPAddr string
	LogLevel string
	LogDev   bool

	TimerCheckInterval      time.Duration
	DefaultSnooze           time.Duration
	PersistTimeout          time.Duration
	MaxConcurrentDeliveries int
	ReconcileSchedule       string
	DailySummarySchedule    string
	NotifyRatePerSec        float64
}

func Load() (*Config, error) {
	// .env file is optional in production
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	cfg := &Config{
		DatabaseDriver: strings.ToLower(v.GetString("DATABASE_DRIVER")),
		DatabaseURI:    v.GetString("DATABASE_URI"),
		DataDir:        v.GetString("DATA_DIR"),
		SQLitePath:     v.GetString("SQLITE_PATH"),
		BadgerPath:     v.GetString("BADGER_PATH"),

		TelegramToken:  v.GetString("TELEGRAM_TOKEN"),
		TelegramChatID: v.GetInt64("TELEGRAM_CHAT_ID"),

		AIAPIKey:  v.GetString("AI_API_KEY"),
		AIBaseURL: v.GetString("AI_BASE_URL"),
		AIModel:   v.GetString("AI_MODEL"),

		Timezone: v.GetString("TIMEZONE"),
		HTTPAddr: v.GetString("HTTP_ADDR"),
		LogLevel: v.GetString("LOG_LEVEL"),
		LogDev:   v.GetBool("LOG_DEV"),

		TimerCheckInterval:      v.GetDuration("TIMER_CHECK_INTERVAL"),
		DefaultSnooze:           v.GetDuration("DEFAULT_SNOOZE"),
		PersistTimeout:          v.GetDuration("PERSIST_TIMEOUT"),
		MaxConcurrentDeliveries: v.GetInt("MAX_CONCURRENT_DELIVERIES"),
		ReconcileSchedule:       v.GetString("RECONCILE_SCHEDULE"),
		DailySummarySchedule:    v.GetString("DAILY_SUMMARY_SCHEDULE"),
		NotifyRatePerSec:        v.GetFloat64("NOTIFY_RATE_PER_SEC"),
	}

	if cfg.SQLitePath == "" {
		cfg.SQLitePath = filepath.Join(cfg.DataDir, "medline.db")
	}
	if cfg.BadgerPath == "" {
		cfg.BadgerPath = filepath.Join(cfg.DataDir, "badger")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("DATABASE_DRIVER", DriverSQLite)
	v.SetDefault("DATA_DIR", "./data")

	v.SetDefault("AI_BASE_URL", "https://openrouter.ai/api/v1")
	v.SetDefault("AI_MODEL", "openai/gpt-4o-mini")

	v.SetDefault("TIMEZONE", "Local")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_DEV", false)

	v.SetDefault("TIMER_CHECK_INTERVAL", "5s")
	v.SetDefault("DEFAULT_SNOOZE", "5m")
	v.SetDefault("PERSIST_TIMEOUT", "3s")
	v.SetDefault("MAX_CONCURRENT_DELIVERIES", 4)
	v.SetDefault("RECONCILE_SCHEDULE", "@every 15m")
	v.SetDefault("DAILY_SUMMARY_SCHEDULE", "0 21 * * *")
	v.SetDefault("NOTIFY_RATE_PER_SEC", 1.0)
}

// Validate checks settings that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case DriverSQLite:
	case DriverPostgres:
		if c.DatabaseURI == "" {
			return fmt.Errorf("DATABASE_URI is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown DATABASE_DRIVER %q", c.DatabaseDriver)
	}

	if _, err := c.Location(); err != nil {
		return err
	}
	if c.TelegramToken != "" && c.TelegramChatID == 0 {
		return fmt.Errorf("TELEGRAM_CHAT_ID is required when TELEGRAM_TOKEN is set")
	}
	if c.TimerCheckInterval <= 0 {
		return fmt.Errorf("TIMER_CHECK_INTERVAL must be positive")
	}
	if c.DefaultSnooze <= 0 {
		return fmt.Errorf("DEFAULT_SNOOZE must be positive")
	}
	if c.MaxConcurrentDeliveries <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_DELIVERIES must be positive")
	}
	return nil
}

// Location resolves the configured timezone all wall-clock slots are read in.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// AIEnabled reports whether free-text medication entry is configured.
func (c *Config) AIEnabled() bool {
	return c.AIAPIKey != ""
}
