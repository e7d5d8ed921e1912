package util

import (
	"regexp"
	"strconv"
	"strings"
)

func SafeAtoi(s string) int {
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return i
}

var nonNumericRegex = regexp.MustCompile(`[^\d]`)

func CleanNumericString(s string) string {
	return nonNumericRegex.ReplaceAllString(s, "")
}

var extractSignedNumberRegex = regexp.MustCompile(`-?\d+`)

func ParseSignedNumericString(s string) string {
	return extractSignedNumberRegex.FindString(s)
}

// ParseDiscountPercent reads store discount labels such as "-100%" or "100% off"
// and returns the absolute percentage, clamped to [0, 100].
func ParseDiscountPercent(s string) int {
	n := SafeAtoi(ParseSignedNumericString(s))
	if n < 0 {
		n = -n
	}
	if n > 100 {
		return 100
	}
	return n
}

// MinorToMajor converts an amount in minor currency units (cents, kopecks) to major units.
func MinorToMajor(minor int64) float64 {
	return float64(minor) / 100
}
