package env

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Get reads key from the environment and converts it to the type of
// defaultValue. An unset or empty variable yields defaultValue.
func Get[T any](key string, defaultValue T) (T, error) {
	value, ok := os.LookupEnv(key)
	value = strings.TrimSpace(value)
	if !ok || value == "" {
		return defaultValue, nil
	}

	var result any
	var err error

	switch any(defaultValue).(type) {
	case string:
		result = value
	case int:
		var intVal int64
		intVal, err = strconv.ParseInt(value, 10, 32)
		if err == nil {
			result = int(intVal)
		}
	case int64:
		result, err = strconv.ParseInt(value, 10, 64)
	case float64:
		result, err = strconv.ParseFloat(value, 64)
	case bool:
		result, err = strconv.ParseBool(value)
	case time.Duration:
		result, err = parseDuration(value)
	case []string:
		result = splitList(value)
	default:
		return defaultValue, fmt.Errorf("unsupported type for environment variable %s", key)
	}

	if err != nil {
		return defaultValue, fmt.Errorf("failed to parse environment variable %s: %w", key, err)
	}

	return result.(T), nil
}

// parseDuration accepts Go duration strings and bare integers, which are
// read as seconds.
func parseDuration(value string) (time.Duration, error) {
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	return time.ParseDuration(value)
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
