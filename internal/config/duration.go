package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDuration parses a Go duration string from a config field.
// Empty values yield the fallback.
func ParseDuration(field, raw string, fallback time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0, got %q", field, raw)
	}
	return d, nil
}
