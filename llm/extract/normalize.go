package extract

import (
	"strings"
	"unicode/utf8"
)

// NormalizeText 合并连续的替换字符 U+FFFD
func NormalizeText(s string) string {
	if !strings.Contains(s, "\uFFFD\uFFFD") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	prev := rune(-1)
	for _, r := range s {
		if r == utf8.RuneError && prev == utf8.RuneError {
			continue
		}
		b.WriteRune(r)
		prev = r
	}
	return b.String()
}

// Snippet 返回前 n 个字符
func Snippet(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
