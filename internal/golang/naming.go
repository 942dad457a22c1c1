package golang

import (
	"strings"
	"unicode"
)

// initialisms stay upper-case inside identifiers, so "userId" becomes UserID.
var initialisms = map[string]bool{
	"API":   true,
	"CPU":   true,
	"DNS":   true,
	"HTML":  true,
	"HTTP":  true,
	"HTTPS": true,
	"ID":    true,
	"IP":    true,
	"JSON":  true,
	"JWT":   true,
	"SQL":   true,
	"TTL":   true,
	"UI":    true,
	"URI":   true,
	"URL":   true,
	"UUID":  true,
	"XML":   true,
}

// SetAdditionalInitialisms adds words to keep upper-case.
// Call it once before generating.
func SetAdditionalInitialisms(words []string) {
	for _, w := range words {
		initialisms[strings.ToUpper(w)] = true
	}
}

// PascalCase joins the words of a discovery name, capitalising each one.
func PascalCase(s string) string {
	var b strings.Builder
	for _, word := range splitWords(s) {
		if upper := strings.ToUpper(word); initialisms[upper] {
			b.WriteString(upper)
			continue
		}
		b.WriteString(capitalize(word))
	}
	return b.String()
}

// splitWords breaks a name at anything that is not a letter or digit and at
// case changes. An upper-case run ends before the capital that starts the
// next word: "XMLHttpRequest" is XML, Http, Request.
func splitWords(s string) []string {
	runes := []rune(s)
	var words []string
	start := -1
	flush := func(end int) {
		if start >= 0 && end > start {
			words = append(words, string(runes[start:end]))
		}
		start = -1
	}

	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush(i)
			continue
		}
		if start >= 0 && unicode.IsUpper(r) {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush(i)
			}
		}
		if start < 0 {
			start = i
		}
	}
	flush(len(runes))
	return words
}

func capitalize(s string) string {
	runes := []rune(strings.ToLower(s))
	if len(runes) > 0 {
		runes[0] = unicode.ToUpper(runes[0])
	}
	return string(runes)
}

// ToGoIdentifier turns a schema, property or parameter name into an exported
// identifier. Names with no letters become X, and a leading digit gets an X
// prefix.
func ToGoIdentifier(s string) string {
	result := PascalCase(s)
	if result == "" {
		return "X"
	}
	if unicode.IsDigit([]rune(result)[0]) {
		return "X" + result
	}
	return result
}

// MethodName turns a dotted method path such as "users.messages.get" into
// an exported identifier.
func MethodName(path string) string {
	return ToGoIdentifier(path)
}
