package golang

import (
	"slices"
	"strconv"
	"strings"
	"text/template"

	"github.com/kolah/disco/discovery"
)

// TemplateFuncs are the functions available to built-in and custom
// templates. Template data carries resolved Go types and tags, so the
// functions work on names and text rather than on schemas.
func TemplateFuncs() template.FuncMap {
	return template.FuncMap{
		"pascalCase": PascalCase,
		"goName":     ToGoIdentifier,
		"goComment":  GoComment,
		"quote":      strconv.Quote,
		"lower":      strings.ToLower,
		"upper":      strings.ToUpper,
		"join":       strings.Join,
		"hasPrefix":  strings.HasPrefix,
		"trimPrefix": strings.TrimPrefix,
		"dict":       Dict,
	}
}

// Dict creates a map from key-value pairs for use in templates.
func Dict(values ...any) map[string]any {
	if len(values)%2 != 0 {
		return nil
	}
	dict := make(map[string]any, len(values)/2)
	for i := 0; i < len(values); i += 2 {
		key, ok := values[i].(string)
		if !ok {
			continue
		}
		dict[key] = values[i+1]
	}
	return dict
}

// GoComment turns free text into // lines. Discovery descriptions often carry
// trailing blank lines, which are dropped.
func GoComment(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	var result strings.Builder
	for i, line := range lines {
		if i > 0 {
			result.WriteString("\n")
		}
		line = strings.TrimSpace(line)
		if line == "" {
			result.WriteString("//")
			continue
		}
		result.WriteString("// ")
		result.WriteString(line)
	}
	return result.String()
}

// NeedsPointer reports whether an optional property should be a pointer so
// that its zero value can be told apart from an absent one.
func NeedsPointer(s *discovery.Schema, name string, required []string) bool {
	if s == nil || slices.Contains(required, name) {
		return false
	}
	return isScalar(s) && len(s.Enum) == 0
}
