// Package env expands ${env.KEY} references in configuration text.
package env

import (
	"os"
	"strings"
)

const prefix = "${env."

// Expand replaces every ${env.KEY} with the value of KEY, or "" when unset.
// A reference with an invalid key or no closing brace is kept as is.
func Expand(text string) string {
	return ExpandWith(text, os.Getenv)
}

// ExpandWith expands references using lookup.
func ExpandWith(text string, lookup func(string) string) string {
	if !strings.Contains(text, prefix) {
		return text
	}
	var b strings.Builder
	for {
		start := strings.Index(text, prefix)
		if start < 0 {
			b.WriteString(text)
			return b.String()
		}
		b.WriteString(text[:start])
		rest := text[start+len(prefix):]
		end := strings.IndexByte(rest, '}')
		if end < 0 {
			b.WriteString(text[start:])
			return b.String()
		}
		if key := rest[:end]; validKey(key) {
			b.WriteString(lookup(key))
			text = rest[end+1:]
			continue
		}
		// rescan after the prefix so nested references still expand
		b.WriteString(prefix)
		text = rest
	}
}

func validKey(key string) bool {
	for i := 0; i < len(key); i++ {
		c := key[i]
		if !(c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return true
}
