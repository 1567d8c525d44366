package storage

import (
	"strings"
	"unicode"
)

// FTSQuery sanitizes a free-form query for FTS5 MATCH: tokens carrying
// anything beyond letters, digits, or underscores are wrapped as quoted
// literals so bare punctuation never reaches the FTS expression parser.
func FTSQuery(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return `""`
	}
	out := make([]string, 0, len(fields))
	for _, token := range fields {
		if isPlainToken(token) {
			out = append(out, token)
			continue
		}
		escaped := strings.ReplaceAll(token, `"`, `""`)
		out = append(out, `"`+escaped+`"`)
	}
	return strings.Join(out, " ")
}

func isPlainToken(token string) bool {
	for _, r := range token {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return false
		}
	}
	return len(token) > 0
}
