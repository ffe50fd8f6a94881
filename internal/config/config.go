package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config keeps runtime settings for the bot.
type Config struct {
	TelegramToken   string
	DatabaseURL     string
	LogLevel        string
	LogPretty       bool
	DefaultTimezone string

	// Reminder loop.
	TickInterval   time.Duration
	Lookback       time.Duration
	SendTimeout    time.Duration
	SendRatePerSec int

	// Inactivity reaper.
	InactiveAfter time.Duration
	PurgeAfter    time.Duration

	// Morning digest, server-local HH:MM.
	DigestTime string
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	cfg := Config{
		TelegramToken:   strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN")),
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		LogLevel:        strings.TrimSpace(os.Getenv("LOG_LEVEL")),
		LogPretty:       parseBool(os.Getenv("LOG_PRETTY")),
		DefaultTimezone: strings.TrimSpace(os.Getenv("DEFAULT_TIMEZONE")),
		TickInterval:    parseDuration(os.Getenv("TICK_INTERVAL"), time.Minute),
		Lookback:        parseDuration(os.Getenv("LOOKBACK_WINDOW"), 7*24*time.Hour),
		SendTimeout:     parseDuration(os.Getenv("SEND_TIMEOUT"), 10*time.Second),
		SendRatePerSec:  parseInt(os.Getenv("SEND_RATE_PER_SEC"), 25),
		InactiveAfter:   parseDuration(os.Getenv("INACTIVE_AFTER"), 90*24*time.Hour),
		PurgeAfter:      parseDuration(os.Getenv("PURGE_AFTER"), 72*time.Hour),
		DigestTime:      strings.TrimSpace(os.Getenv("DIGEST_TIME")),
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = "taskminder.db"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.DefaultTimezone == "" {
		cfg.DefaultTimezone = "UTC"
	}
	if cfg.DigestTime == "" {
		cfg.DigestTime = "06:30"
	}

	if cfg.TelegramToken == "" {
		return cfg, fmt.Errorf("TELEGRAM_TOKEN is required")
	}
	// A lookback shorter than one tick would let due tasks fall out of
	// the candidate window before they are ever scanned.
	if cfg.Lookback < cfg.TickInterval {
		return cfg, fmt.Errorf("LOOKBACK_WINDOW (%s) must be at least TICK_INTERVAL (%s)", cfg.Lookback, cfg.TickInterval)
	}
	return cfg, nil
}

func parseDuration(raw string, def time.Duration) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func parseInt(raw string, def int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func parseBool(raw string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && b
}
