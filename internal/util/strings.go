package util

import (
	"strings"
	"unicode/utf8"
)

// SplitAddressList splits a separator-laden address string. The upstream
// engine lets policy authors write "a@x.com;b@x.com" or "a@x.com:b@x.com".
func SplitAddressList(s string) []string {
	s = strings.NewReplacer(";", ",", ":", ",").Replace(s)
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Truncate shortens s to at most n bytes for log output without splitting
// a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 0 {
		return ""
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
