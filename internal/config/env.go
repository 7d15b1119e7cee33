// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/blackbox/internal/log"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BLACKBOX_"

// ParseString reads a string from environment variable or returns default value.
// An empty variable counts as unset.
func ParseString(key, defaultValue string) string {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		lowerKey := strings.ToLower(key)
		if strings.Contains(lowerKey, "url") || strings.Contains(lowerKey, "token") {
			// Webhook URLs embed their secret.
			logger.Debug().
				Str("key", key).
				Str("source", "environment").
				Bool("sensitive", true).
				Msg("using environment variable")
		} else {
			logger.Debug().
				Str("key", key).
				Str("value", v).
				Str("source", "environment").
				Msg("using environment variable")
		}
		return v
	}
	return defaultValue
}

// ParseInt reads an integer from environment variable or returns default value.
// It validates the input and falls back to default on parse errors.
func ParseInt(key string, defaultValue int) int {
	return int(parseNumber(key, int64(defaultValue), func(v string) (int64, error) {
		n, err := strconv.Atoi(v)
		return int64(n), err
	}))
}

// ParseInt64 is ParseInt for byte sizes.
func ParseInt64(key string, defaultValue int64) int64 {
	return parseNumber(key, defaultValue, func(v string) (int64, error) {
		return strconv.ParseInt(v, 10, 64)
	})
}

func parseNumber(key string, defaultValue int64, parse func(string) (int64, error)) int64 {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	n, err := parse(strings.TrimSpace(v))
	if err != nil {
		invalid(logger, key, v, "integer")
		return defaultValue
	}
	logger.Debug().
		Str("key", key).
		Int64("value", n).
		Str("source", "environment").
		Msg("using environment variable")
	return n
}

// ParseDuration reads a duration from environment variable in Go duration format (e.g. "5s").
// It falls back to default on parse errors or empty variables and logs the choice.
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		invalid(logger, key, v, "duration")
		return defaultValue
	}
	logger.Debug().
		Str("key", key).
		Dur("value", d).
		Str("source", "environment").
		Msg("using environment variable")
	return d
}

// ParseBool reads a boolean from environment variable or returns default value.
// It accepts "true", "false", "1", "0", "yes", "no" (case-insensitive).
func ParseBool(key string, defaultValue bool) bool {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	invalid(logger, key, v, "boolean")
	return defaultValue
}

// ParseFloat reads a float64 from environment variable or returns default value.
func ParseFloat(key string, defaultValue float64) float64 {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		invalid(logger, key, v, "float")
		return defaultValue
	}
	return f
}

func invalid(logger zerolog.Logger, key, value, kind string) {
	logger.Warn().
		Str("key", key).
		Str("value", value).
		Str(log.FieldEvent, "config.env_invalid").
		Msgf("invalid %s in environment variable, using default", kind)
}
