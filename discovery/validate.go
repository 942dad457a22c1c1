package discovery

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"
)

// Args holds caller-supplied parameter values keyed by parameter name.
// Values may be strings, booleans, integers, floats, json.Number or, for
// repeated parameters, slices of those.
type Args map[string]any

// encode checks v against the parameter schema and returns its wire form.
// Repeated parameters yield one string per element.
func (p *Parameter) encode(v any) ([]string, string) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
		if !p.Repeated {
			return nil, "parameter does not accept multiple values"
		}
		out := make([]string, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			s, reason := p.encodeOne(rv.Index(i).Interface())
			if reason != "" {
				return nil, fmt.Sprintf("element %d: %s", i, reason)
			}
			out = append(out, s)
		}
		return out, ""
	}
	s, reason := p.encodeOne(v)
	if reason != "" {
		return nil, reason
	}
	return []string{s}, ""
}

func (p *Parameter) encodeOne(v any) (string, string) {
	s, reason := scalarString(p.Type, v)
	if reason != "" {
		return "", reason
	}
	if len(p.Enum) > 0 && !slices.Contains(p.Enum, s) {
		return "", fmt.Sprintf("value %q is not one of [%s]", s, strings.Join(p.Enum, ", "))
	}
	if p.pattern != nil && !p.pattern.MatchString(s) {
		return "", fmt.Sprintf("value %q does not match pattern %q", s, p.Pattern)
	}
	if p.Type == "integer" || p.Type == "number" {
		if reason := p.checkRange(s); reason != "" {
			return "", reason
		}
	}
	return s, ""
}

func (p *Parameter) checkRange(s string) string {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return ""
	}
	if p.Minimum != "" {
		if lo, err := strconv.ParseFloat(p.Minimum, 64); err == nil && f < lo {
			return fmt.Sprintf("value %s is below minimum %s", s, p.Minimum)
		}
	}
	if p.Maximum != "" {
		if hi, err := strconv.ParseFloat(p.Maximum, 64); err == nil && f > hi {
			return fmt.Sprintf("value %s is above maximum %s", s, p.Maximum)
		}
	}
	return ""
}

// scalarString converts a single value to its query/path representation,
// enforcing the declared type. Integer formats such as int64 travel as
// strings in discovery documents, so numeric strings are accepted.
func scalarString(typ string, v any) (string, string) {
	switch typ {
	case "string", "any", "":
		switch x := v.(type) {
		case string:
			return x, ""
		case fmt.Stringer:
			return x.String(), ""
		case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			return fmt.Sprint(x), ""
		}
		return "", fmt.Sprintf("expected string, got %T", v)
	case "integer":
		switch x := v.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return fmt.Sprint(x), ""
		case float64:
			if x != math.Trunc(x) || math.IsInf(x, 0) || x < math.MinInt64 || x >= math.MaxInt64 {
				return "", fmt.Sprintf("expected integer, got %v", x)
			}
			return strconv.FormatInt(int64(x), 10), ""
		case json.Number:
			if _, err := x.Int64(); err != nil {
				return "", fmt.Sprintf("expected integer, got %q", x.String())
			}
			return x.String(), ""
		case string:
			if _, err := strconv.ParseInt(x, 10, 64); err != nil {
				if _, err := strconv.ParseUint(x, 10, 64); err != nil {
					return "", fmt.Sprintf("expected integer, got %q", x)
				}
			}
			return x, ""
		}
		return "", fmt.Sprintf("expected integer, got %T", v)
	case "number":
		switch x := v.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return fmt.Sprint(x), ""
		case float32:
			return strconv.FormatFloat(float64(x), 'f', -1, 32), ""
		case float64:
			return strconv.FormatFloat(x, 'f', -1, 64), ""
		case json.Number:
			if _, err := x.Float64(); err != nil {
				return "", fmt.Sprintf("expected number, got %q", x.String())
			}
			return x.String(), ""
		case string:
			if _, err := strconv.ParseFloat(x, 64); err != nil {
				return "", fmt.Sprintf("expected number, got %q", x)
			}
			return x, ""
		}
		return "", fmt.Sprintf("expected number, got %T", v)
	case "boolean":
		switch x := v.(type) {
		case bool:
			return strconv.FormatBool(x), ""
		case string:
			b, err := strconv.ParseBool(x)
			if err != nil {
				return "", fmt.Sprintf("expected boolean, got %q", x)
			}
			return strconv.FormatBool(b), ""
		}
		return "", fmt.Sprintf("expected boolean, got %T", v)
	}
	return "", fmt.Sprintf("unsupported parameter type %q", typ)
}

// CheckValue performs best-effort validation of a decoded JSON value against
// a schema: the top-level type, required properties and the primitive types
// of present properties. Nested objects are not descended into.
func (d *Document) CheckValue(s *Schema, v any) error {
	s = d.Deref(s)
	if s == nil {
		return nil
	}
	if err := checkType(s.Type, v); err != nil {
		return err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	for _, name := range s.RequiredNames() {
		if _, present := obj[name]; !present {
			return fmt.Errorf("missing required property %q", name)
		}
	}
	for _, name := range sortedKeys(obj) {
		prop, declared := s.Properties[name]
		if !declared || obj[name] == nil {
			continue
		}
		prop = d.Deref(prop)
		if prop == nil {
			continue
		}
		if err := checkType(prop.Type, obj[name]); err != nil {
			return fmt.Errorf("property %q: %w", name, err)
		}
	}
	return nil
}

func checkType(typ string, v any) error {
	var ok bool
	switch typ {
	case "", "any":
		return nil
	case "object":
		_, ok = v.(map[string]any)
	case "array":
		_, ok = v.([]any)
	case "string":
		_, ok = v.(string)
	case "boolean":
		_, ok = v.(bool)
	case "number":
		_, ok = v.(float64)
		if !ok {
			_, ok = v.(json.Number)
		}
	case "integer":
		switch x := v.(type) {
		case float64:
			ok = x == math.Trunc(x)
		case json.Number:
			_, err := x.Int64()
			ok = err == nil
		}
	case "null":
		ok = v == nil
	default:
		return nil
	}
	if !ok {
		return fmt.Errorf("expected %s, got %s", typ, jsonKind(v))
	}
	return nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, json.Number:
		return "number"
	}
	return fmt.Sprintf("%T", v)
}
