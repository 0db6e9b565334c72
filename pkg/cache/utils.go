package cache

import (
	"fmt"
	"strings"
)

// GenerateKeyWithParams joins a prefix and parameters with sep.
func GenerateKeyWithParams(sep, prefix string, params ...interface{}) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, param := range params {
		b.WriteString(sep)
		b.WriteString(fmt.Sprint(param))
	}
	return b.String()
}

// BuildPattern turns a substring pattern into a Redis glob.
func BuildPattern(substr string) string {
	if substr == "" {
		return "*"
	}
	var b strings.Builder
	b.WriteByte('*')
	for _, r := range substr {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('*')
	return b.String()
}

func matches(key, pattern string) bool {
	return pattern == "" || strings.Contains(key, pattern)
}
