// Package utils holds small helpers shared by the CLI and config layers.
package utils

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Decimal units.
const (
	Byte     int64 = 1
	Kilobyte       = 1000 * Byte
	Megabyte       = 1000 * Kilobyte
	Gigabyte       = 1000 * Megabyte
	Terabyte       = 1000 * Gigabyte
)

// Binary units.
const (
	Kibibyte int64 = 1024
	Mebibyte       = 1024 * Kibibyte
	Gibibyte       = 1024 * Mebibyte
	Tebibyte       = 1024 * Gibibyte
)

var sizeUnits = map[string]int64{
	"":    Byte,
	"B":   Byte,
	"KB":  Kilobyte,
	"MB":  Megabyte,
	"GB":  Gigabyte,
	"TB":  Terabyte,
	"K":   Kibibyte,
	"KIB": Kibibyte,
	"M":   Mebibyte,
	"MIB": Mebibyte,
	"G":   Gibibyte,
	"GIB": Gibibyte,
	"T":   Tebibyte,
	"TIB": Tebibyte,
}

// ParseSize parses sizes such as "500MB", "1.5GiB" or "4096" into bytes.
// KB/MB/GB/TB are decimal; K/M/G/T and the IEC forms are binary.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	i := strings.IndexFunc(s, func(r rune) bool {
		return !unicode.IsDigit(r) && r != '.'
	})
	number, unit := s, ""
	if i >= 0 {
		number, unit = s[:i], strings.TrimSpace(s[i:])
	}

	value, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}

	multiplier, ok := sizeUnits[strings.ToUpper(unit)]
	if !ok {
		return 0, fmt.Errorf("unknown size unit %q in %q", unit, s)
	}

	bytes := value * float64(multiplier)
	if bytes < 0 || bytes > float64(1<<62) {
		return 0, fmt.Errorf("size %q out of range", s)
	}
	return int64(bytes), nil
}

// FormatSize renders bytes with a decimal unit, e.g. "1.5 MB".
func FormatSize(bytes int64) string {
	if bytes < 0 {
		return "invalid"
	}
	if bytes < Kilobyte {
		return fmt.Sprintf("%d B", bytes)
	}

	units := []string{"KB", "MB", "GB", "TB"}
	value := float64(bytes) / float64(Kilobyte)
	exp := 0
	for value >= 1000 && exp < len(units)-1 {
		value /= 1000
		exp++
	}

	formatted := strconv.FormatFloat(value, 'f', 2, 64)
	formatted = strings.TrimRight(strings.TrimRight(formatted, "0"), ".")
	return formatted + " " + units[exp]
}
