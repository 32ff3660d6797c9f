package base

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

var BackendUrl = EnvVar("BACKEND_URL", "http://localhost:3000")
var ListenAddr = EnvVar("LISTEN_ADDR", ":3000")

var AllowedOrigins = EnvVarAsStringSlice("ALLOWED_ORIGINS")
var AuthUserHeader = "X-User"
var AuthGroupsHeader = "X-Groups"
var HookTokenHeader = "X-Hook-Token"

func init() {
	if u, err := url.Parse(BackendUrl); err == nil {
		origin := fmt.Sprintf("%s://%s", u.Scheme, u.Host)
		AllowedOrigins = append([]string{origin}, AllowedOrigins...)
	}
}

// EnvVar reads an environment variable and falls back to a default when unset.
func EnvVar(key string, defaultValue string) string {
	if val, present := os.LookupEnv(key); present {
		return val
	}
	return defaultValue
}

// EnvVarAsInt parses an environment variable into an integer with a fallback for invalid values.
func EnvVarAsInt(key string, defaultValue int) int {
	if val, present := os.LookupEnv(key); present {
		res, err := strconv.Atoi(val)
		if err != nil {
			slog.Warn("env var is not an integer, using default", "key", key, "value", val, "default", defaultValue)
			return defaultValue
		}
		return res
	}
	return defaultValue
}

// EnvVarAsBool parses an environment variable into a boolean with a fallback for invalid values.
func EnvVarAsBool(key string, defaultValue bool) bool {
	if val, present := os.LookupEnv(key); present {
		res, err := strconv.ParseBool(val)
		if err != nil {
			slog.Warn("env var is not a boolean, using default", "key", key, "value", val, "default", defaultValue)
			return defaultValue
		}
		return res
	}
	return defaultValue
}

// EnvVarAsDuration parses an environment variable like "30s" or "5m".
func EnvVarAsDuration(key string, defaultValue time.Duration) time.Duration {
	if val, present := os.LookupEnv(key); present {
		res, err := time.ParseDuration(val)
		if err != nil {
			slog.Warn("env var is not a duration, using default", "key", key, "value", val, "default", defaultValue)
			return defaultValue
		}
		return res
	}
	return defaultValue
}

// EnvVarAsStringSlice splits a comma-separated environment variable into trimmed values.
// It returns the non-empty entries in order, or an empty slice when unset.
func EnvVarAsStringSlice(key string) []string {
	var result []string
	if val, present := os.LookupEnv(key); present {
		for _, v := range strings.Split(val, ",") {
			value := strings.TrimSpace(v)
			if value != "" {
				result = append(result, value)
			}
		}
	}
	return result
}
