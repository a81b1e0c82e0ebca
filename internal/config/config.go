// Package config loads .env overrides for the two binaries, the same
// shape nilshah80-examples/go-external/config.go uses: godotenv.Load,
// then envOrDefault/envIntOrDefault helpers so flags still win when
// explicitly passed.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Load reads a .env file from the working directory if one exists. A
// missing file is not an error — flag defaults and explicit flags
// still apply.
func Load() {
	_ = godotenv.Load()
}

// StringOrDefault returns the environment variable key, or fallback if unset.
func StringOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// BoolOrDefault returns the environment variable key parsed as a bool,
// or fallback if unset or unparsable.
func BoolOrDefault(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
