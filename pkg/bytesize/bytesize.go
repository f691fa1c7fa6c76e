// Package bytesize parses and formats byte counts using binary multiples.
package bytesize

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/harliandi/go-shrink/pkg/quality"
)

const (
	KB int64 = 1 << 10
	MB int64 = 1 << 20
	GB int64 = 1 << 30
)

var units = []string{"Bytes", "KB", "MB", "GB"}

var suffixes = map[string]int64{
	"":      1,
	"b":     1,
	"byte":  1,
	"bytes": 1,
	"k":     KB,
	"kb":    KB,
	"kib":   KB,
	"m":     MB,
	"mb":    MB,
	"mib":   MB,
	"g":     GB,
	"gb":    GB,
	"gib":   GB,
}

// Parse reads a size such as "204800", "100KB" or "1.5 MB".
// Anything that is not a positive size fails with quality.ErrInvalidTarget.
func Parse(s string) (int64, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return 0, fmt.Errorf("%w: empty size", quality.ErrInvalidTarget)
	}

	i := len(raw)
	for i > 0 && !isNumberByte(raw[i-1]) {
		i--
	}
	number, unit := strings.TrimSpace(raw[:i]), strings.ToLower(strings.TrimSpace(raw[i:]))

	mult, ok := suffixes[unit]
	if !ok {
		return 0, fmt.Errorf("%w: unknown unit %q in %q", quality.ErrInvalidTarget, unit, s)
	}
	v, err := strconv.ParseFloat(number, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q is not a number", quality.ErrInvalidTarget, s)
	}

	n := int64(math.Floor(v * float64(mult)))
	if n <= 0 {
		return 0, fmt.Errorf("%w: %q must be positive", quality.ErrInvalidTarget, s)
	}
	return n, nil
}

// FromKB converts kilobytes to bytes.
func FromKB(kb float64) (int64, error) {
	if math.IsNaN(kb) || math.IsInf(kb, 0) || kb <= 0 {
		return 0, fmt.Errorf("%w: %v KB", quality.ErrInvalidTarget, kb)
	}
	n := int64(math.Floor(kb * float64(KB)))
	if n <= 0 {
		return 0, fmt.Errorf("%w: %v KB", quality.ErrInvalidTarget, kb)
	}
	return n, nil
}

// Format renders n as e.g. "0 Bytes", "512 Bytes", "1.5 KB" or "2 MB".
func Format(n int64) string {
	if n <= 0 {
		return "0 Bytes"
	}
	i, div := 0, int64(1)
	for i < len(units)-1 && n >= div*KB {
		i++
		div *= KB
	}
	v := float64(n) / float64(div)
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64) + " " + units[i]
}

func isNumberByte(c byte) bool {
	return (c >= '0' && c <= '9') || c == '.'
}
