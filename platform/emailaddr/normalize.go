// Package emailaddr canonicalizes free-text email addresses so the same
// person typed two ways resolves to one identity key.
package emailaddr

import (
	"strings"
	"unicode"

	"golang.org/x/net/idna"
)

// MinPartialLength is the shortest normalized address MatchesPartial accepts.
const MinPartialLength = 6

// domainTypos maps misspelled provider domains to the intended domain.
// Matching is on the whole domain so Normalize stays idempotent.
var domainTypos = map[string]string{
	"hotmil.com":  "hotmail.com",
	"hotmal.com":  "hotmail.com",
	"hotmail.con": "hotmail.com",
	"gmai.com":    "gmail.com",
	"gmial.com":   "gmail.com",
	"gmail.con":   "gmail.com",
	"outlok.com":  "outlook.com",
	"yahooo.com":  "yahoo.com",
}

// Normalize trims, lowercases, removes whitespace anywhere in the address,
// repairs known domain typos and converts the domain to its ASCII form.
// It never fails; input without an @ is returned lowercased and compacted.
func Normalize(raw string) string {
	compact := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, strings.ToLower(raw))

	at := strings.LastIndexByte(compact, '@')
	if at < 0 {
		return compact
	}

	local, domain := compact[:at], compact[at+1:]
	if fixed, ok := domainTypos[domain]; ok {
		domain = fixed
	}
	if domain != "" {
		if ascii, err := idna.ToASCII(domain); err == nil && ascii != "" {
			domain = strings.ToLower(ascii)
		}
	}
	return local + "@" + domain
}

// Valid reports whether an already normalized address is usable as an
// identity key: one @, a non-empty local part and a dotted domain.
func Valid(normalized string) bool {
	if strings.Count(normalized, "@") != 1 {
		return false
	}
	local, domain, _ := strings.Cut(normalized, "@")
	if local == "" || domain == "" {
		return false
	}
	if strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return false
	}
	return strings.Contains(domain, ".")
}

// MatchesPartial is the heuristic containment fallback used when no exact
// normalized match exists. It catches truncated entries such as
// "maria@gmail.co" vs "maria@gmail.com" but can also pair unrelated
// addresses ("ana@x.com" inside "ana@x.com.br"), so any merge based on it
// must be treated as provisional.
func MatchesPartial(a, b string) bool {
	na, nb := Normalize(a), Normalize(b)
	if len(na) < MinPartialLength || len(nb) < MinPartialLength {
		return false
	}
	return strings.Contains(na, nb) || strings.Contains(nb, na)
}

// LooksSimilar reports whether two addresses share a domain and their local
// parts differ by at most two characters in length and two positions.
// It is a diagnostic hint only.
func LooksSimilar(a, b string) bool {
	userA, domainA, okA := strings.Cut(Normalize(a), "@")
	userB, domainB, okB := strings.Cut(Normalize(b), "@")
	if !okA || !okB || userA == "" || userB == "" || domainA != domainB {
		return false
	}

	ra, rb := []rune(userA), []rune(userB)
	lenDiff := len(ra) - len(rb)
	if lenDiff < 0 {
		lenDiff = -lenDiff
	}
	if lenDiff > 2 {
		return false
	}

	diffs := 0
	for i := 0; i < min(len(ra), len(rb)); i++ {
		if ra[i] != rb[i] {
			diffs++
			if diffs > 2 {
				return false
			}
		}
	}
	return true
}
