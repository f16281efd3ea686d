// Package sanitize cleans free-text values coming from intake forms and
// provider payloads before they are stored or placed into outbound messages.
package sanitize

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var htmlTagRegex = regexp.MustCompile(`<[^>]*>`)

var entityReplacer = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&amp;", "&",
	"&quot;", "\"",
	"&#39;", "'",
	"&nbsp;", " ",
)

// StripHTML removes HTML tags, including tags hidden behind entities.
func StripHTML(s string) string {
	result := htmlTagRegex.ReplaceAllString(s, "")
	result = entityReplacer.Replace(result)
	result = htmlTagRegex.ReplaceAllString(result, "")
	return strings.TrimSpace(result)
}

// Name strips markup and collapses runs of whitespace to single spaces.
func Name(s string) string {
	return strings.Join(strings.Fields(StripHTML(s)), " ")
}

// Truncate cuts s to at most n runes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
