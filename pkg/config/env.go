package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads a .env file if one is present. A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return err
		}
	}
	return nil
}

// FromEnv overlays TINYFOCUS_* variables onto the defaults
func FromEnv() Options {
	d := Defaults()
	return Options{
		IntervalMinutes:           EnvInt("TINYFOCUS_INTERVAL_MINUTES", d.IntervalMinutes),
		EmergencyRawCap:           EnvInt("TINYFOCUS_EMERGENCY_RAW_CAP", d.EmergencyRawCap),
		TextCoalesceGapMs:         EnvInt("TINYFOCUS_TEXT_COALESCE_GAP_MS", d.TextCoalesceGapMs),
		SnapshotMinIntervalMs:     EnvInt("TINYFOCUS_SNAPSHOT_MIN_INTERVAL_MS", d.SnapshotMinIntervalMs),
		ScrollCapPerMinute:        EnvInt("TINYFOCUS_SCROLL_CAP_PER_MINUTE", d.ScrollCapPerMinute),
		NetworkBurstWindowMs:      EnvInt("TINYFOCUS_NETWORK_BURST_WINDOW_MS", d.NetworkBurstWindowMs),
		DuplicateSuppressWindowMs: EnvInt("TINYFOCUS_DUPLICATE_SUPPRESS_WINDOW_MS", d.DuplicateSuppressWindowMs),
	}
}

// EnvStr returns the value of key, or fallback if unset/empty
func EnvStr(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

// EnvInt returns key parsed as an int, or fallback if unset/invalid
func EnvInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}

// EnvInt64 returns key parsed as an int64, or fallback if unset/invalid
func EnvInt64(key string, fallback int64) int64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
