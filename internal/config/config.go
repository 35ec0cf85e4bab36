// Package config reads plexcast settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvLogLevel                 = "PLEXCAST_LOG_LEVEL"
	EnvDevice                   = "PLEXCAST_DEVICE"
	EnvAddr                     = "PLEXCAST_ADDR"
	EnvHTTPAddr                 = "PLEXCAST_HTTP_ADDR"
	EnvDiscoveryTimeout         = "PLEXCAST_DISCOVERY_TIMEOUT_MS"
	EnvLaunchTimeout            = "PLEXCAST_LAUNCH_TIMEOUT"
	EnvStatusTimeout            = "PLEXCAST_STATUS_TIMEOUT"
	EnvThreadRequestID          = "PLEXCAST_THREAD_REQUEST_ID"
	EnvRejectDuplicateListeners = "PLEXCAST_REJECT_DUPLICATE_LISTENERS"
)

type Config struct {
	LogLevel slog.Level

	// Device is a receiver id or name resolved through discovery. Addr, when
	// set, skips discovery and connects to host[:port] directly.
	Device string
	Addr   string

	// HTTPAddr enables the HTTP control API when non-empty.
	HTTPAddr string

	DiscoveryTimeoutMS int
	LaunchTimeout      time.Duration
	StatusTimeout      time.Duration

	ThreadRequestID          bool
	RejectDuplicateListeners bool
}

// Load reads the .env file from the current working directory and sets
// environment variables. A missing .env file is not an error.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// FromEnv builds a Config from PLEXCAST_* variables. Unset or unparsable
// values fall back to defaults.
func FromEnv() Config {
	return Config{
		LogLevel:                 levelEnv(EnvLogLevel, slog.LevelInfo),
		Device:                   GetEnv(EnvDevice, ""),
		Addr:                     GetEnv(EnvAddr, ""),
		HTTPAddr:                 GetEnv(EnvHTTPAddr, ""),
		DiscoveryTimeoutMS:       GetEnvInt(EnvDiscoveryTimeout, 2500),
		LaunchTimeout:            durationEnv(EnvLaunchTimeout, 10*time.Second),
		StatusTimeout:            durationEnv(EnvStatusTimeout, time.Second),
		ThreadRequestID:          boolEnv(EnvThreadRequestID, false),
		RejectDuplicateListeners: boolEnv(EnvRejectDuplicateListeners, false),
	}
}

// GetEnv returns the value of the environment variable named by key, or
// fallback if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := strings.TrimSpace(os.Getenv(key)); s != "" {
		return s
	}
	return fallback
}

func GetEnvInt(key string, fallback int) int {
	if s := strings.TrimSpace(os.Getenv(key)); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

func boolEnv(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func levelEnv(key string, fallback slog.Level) slog.Level {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return fallback
	}
	return level
}
