package config

import (
	"fmt"
	"strings"
)

// ParseBandwidth parses a human-readable bandwidth string to bits/sec.
// Supports formats: "100k", "100m", "100g" (case insensitive).
// Bare numbers are rejected except for zero ("0" or "0.0").
// Units: k=1000, m=1000000, g=1000000000 (SI units, not binary).
func ParseBandwidth(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	s = strings.ToLower(s)

	var multiplier uint64
	switch s[len(s)-1] {
	case 'k':
		multiplier = 1_000
	case 'm':
		multiplier = 1_000_000
	case 'g':
		multiplier = 1_000_000_000
	default:
		if s == "0" || s == "0.0" {
			return 0, nil
		}
		return 0, fmt.Errorf("bandwidth must include unit suffix (k/m/g): %q", s)
	}

	value, err := parseNumber(s[:len(s)-1], s, "bandwidth")
	if err != nil {
		return 0, err
	}
	return uint64(value * float64(multiplier)), nil
}

var sizeUnits = []struct {
	suffix     string
	multiplier uint64
}{
	{"gib", 1 << 30},
	{"mib", 1 << 20},
	{"kib", 1 << 10},
	{"gb", 1_000_000_000},
	{"mb", 1_000_000},
	{"kb", 1_000},
	{"b", 1},
}

// ParseSize parses a human-readable size string to bytes.
// Supports formats: "100", "500kb", "1mb", "128kib", "1gib" (case insensitive).
// Units: kb/mb/gb are decimal, kib/mib/gib are binary.
func ParseSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	s = strings.ToLower(s)

	multiplier := uint64(1)
	numStr := s
	for _, unit := range sizeUnits {
		if strings.HasSuffix(s, unit.suffix) {
			multiplier = unit.multiplier
			numStr = s[:len(s)-len(unit.suffix)]
			break
		}
	}

	value, err := parseNumber(numStr, s, "size")
	if err != nil {
		return 0, err
	}
	return uint64(value * float64(multiplier)), nil
}

func parseNumber(numStr, whole, what string) (float64, error) {
	numStr = strings.TrimSpace(numStr)
	if numStr == "" {
		return 0, fmt.Errorf("invalid %s value: %q", what, whole)
	}
	var value float64
	if _, err := fmt.Sscanf(numStr, "%f", &value); err != nil {
		return 0, fmt.Errorf("invalid %s value: %q", what, whole)
	}
	if value < 0 {
		return 0, fmt.Errorf("%s cannot be negative: %q", what, whole)
	}
	return value, nil
}
