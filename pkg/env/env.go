package env

import (
	"os"
	"strconv"
	"strings"
)

// Get returns the value of the environment variable, or fallback when unset
// or blank.
func Get(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

// Bool interprets the environment variable as a boolean ("1", "true", "on",
// case-insensitive). Unset or unparseable values return fallback.
func Bool(key string, fallback bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	if strings.EqualFold(val, "on") {
		return true
	}
	if parsed, err := strconv.ParseBool(val); err == nil {
		return parsed
	}
	return fallback
}
