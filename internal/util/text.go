package util

import "strings"

var lineEndings = strings.NewReplacer("\r\n", "\n", "\r", "\n", "\x00", "")

// CleanText drops invalid UTF-8 and NUL bytes, which Postgres rejects in text
// columns, and normalises line endings to \n.
func CleanText(value string) string {
	if value == "" {
		return value
	}
	return lineEndings.Replace(strings.ToValidUTF8(value, ""))
}
