package util

import (
	"strconv"
	"strings"
)

// ParseFloat coerces a decimal string (as emitted by SQL ::text casts) to float64.
func ParseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
