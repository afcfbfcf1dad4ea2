package config

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// ParseDurationField parses a Go duration string at config key path.
// Empty means 0; negative values are rejected.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// SecondsField converts a number of seconds at config key path. A nil value
// yields def; an explicit 0 stays 0.
func SecondsField(path string, v *float64, def float64) (time.Duration, error) {
	f := def
	if v != nil {
		f = *v
	}
	if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%s must be a non-negative number of seconds", path)
	}
	return time.Duration(f * float64(time.Second)), nil
}
