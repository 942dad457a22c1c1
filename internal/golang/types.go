package golang

import (
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/kolah/disco/discovery"
)

// GoType maps a schema to a Go type expression without declaring anything.
// Inline objects with properties come out as map[string]any; use a Resolver
// to give them named struct types.
func GoType(s *discovery.Schema) string {
	if s == nil {
		return "any"
	}

	if s.Ref != "" {
		return ToGoIdentifier(s.Ref)
	}

	switch s.Type {
	case "string":
		return goStringType(s.Format)
	case "integer":
		return goIntegerType(s.Format)
	case "number":
		return goNumberType(s.Format)
	case "boolean":
		return "bool"
	case "array":
		return "[]" + GoType(s.Items)
	case "object":
		if s.AdditionalProperties != nil {
			return "map[string]" + GoType(s.AdditionalProperties)
		}
		return "map[string]any"
	default:
		return "any"
	}
}

// goStringType covers the string formats discovery documents use. 64-bit
// integers travel as JSON strings and decode through the ",string" option.
func goStringType(format string) string {
	switch format {
	case "int64":
		return "int64"
	case "uint64":
		return "uint64"
	case "date-time":
		return "time.Time"
	case "byte":
		return "[]byte"
	default:
		return "string"
	}
}

func goIntegerType(format string) string {
	switch format {
	case "int32":
		return "int32"
	case "uint32":
		return "uint32"
	default:
		return "int64"
	}
}

func goNumberType(format string) string {
	switch format {
	case "float":
		return "float32"
	default:
		return "float64"
	}
}

// isStringEncoded reports schemas whose Go type is numeric but whose JSON
// form is a string.
func isStringEncoded(s *discovery.Schema) bool {
	return s != nil && s.Type == "string" && (s.Format == "int64" || s.Format == "uint64")
}

func isScalar(s *discovery.Schema) bool {
	if s == nil || s.Ref != "" {
		return false
	}
	switch s.Type {
	case "string", "integer", "number", "boolean":
		return true
	}
	return false
}

// ParamType maps a method parameter to the Go type callers pass.
func ParamType(p *discovery.Parameter) string {
	var t string
	switch p.Type {
	case "integer":
		t = "int64"
	case "number":
		t = "float64"
	case "boolean":
		t = "bool"
	default:
		t = "string"
	}
	if p.Repeated {
		return "[]" + t
	}
	return t
}

// StructTag builds the json tag for a property, adding ",string" for 64-bit
// integers carried as strings.
func StructTag(s *discovery.Schema, name string, required bool) string {
	parts := []string{name}
	if !required {
		parts = append(parts, "omitempty")
	}
	if isStringEncoded(s) {
		parts = append(parts, "string")
	}
	return "`json:" + strconv.Quote(strings.Join(parts, ",")) + "`"
}

// Field is one struct field ready for a template.
type Field struct {
	Name     string
	JSONName string
	Type     string
	Tag      string
	Comment  string
	Required bool
	ReadOnly bool
}

// Struct is a named struct declaration.
type Struct struct {
	Name    string
	Comment string
	Fields  []Field
}

// Named is a declared non-struct type: an alias-free definition such as
// `type Labels map[string]string`, optionally with enum constants.
type Named struct {
	Name    string
	Comment string
	Type    string
	Enum    []EnumValue
}

type EnumValue struct {
	Name  string
	Value string
}

// Resolver turns schemas into Go declarations. Inline objects get their own
// struct named after the enclosing type and field.
type Resolver struct {
	doc       *discovery.Document
	structs   []Struct
	named     []Named
	taken     map[string]bool
	needsTime bool
}

func NewResolver(doc *discovery.Document) *Resolver {
	r := &Resolver{doc: doc, taken: make(map[string]bool)}
	for name := range doc.Schemas {
		r.taken[ToGoIdentifier(name)] = true
	}
	return r
}

// Reserve marks a name as used so nested types do not take it.
func (r *Resolver) Reserve(name string) {
	r.taken[name] = true
}

// ResolveSchemas declares every named schema of the document.
func (r *Resolver) ResolveSchemas() {
	names := make([]string, 0, len(r.doc.Schemas))
	for name := range r.doc.Schemas {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		s := r.doc.Schemas[name]
		typeName := ToGoIdentifier(name)
		switch {
		case s.Ref != "":
			r.named = append(r.named, Named{Name: typeName, Comment: s.Description, Type: ToGoIdentifier(s.Ref)})
		case s.Type == "object" && s.AdditionalProperties == nil:
			r.declareStruct(typeName, s)
		case s.Type == "string" && len(s.Enum) > 0:
			r.named = append(r.named, r.enum(typeName, s))
		default:
			r.named = append(r.named, Named{Name: typeName, Comment: s.Description, Type: r.ResolveType(s, typeName, "")})
		}
	}
}

// ResolveType returns the Go type for s, declaring nested structs for inline
// objects as it goes.
func (r *Resolver) ResolveType(s *discovery.Schema, parentName, fieldName string) string {
	if s == nil {
		return "any"
	}
	if s.Ref != "" {
		return ToGoIdentifier(s.Ref)
	}

	switch s.Type {
	case "object":
		if len(s.Properties) > 0 {
			name := r.unique(parentName + PascalCase(fieldName))
			r.declareStruct(name, s)
			return name
		}
		if s.AdditionalProperties != nil {
			return "map[string]" + r.ResolveType(s.AdditionalProperties, parentName, fieldName+"Value")
		}
		return "map[string]any"
	case "array":
		return "[]" + r.ResolveType(s.Items, parentName, fieldName+"Item")
	}

	t := GoType(s)
	if t == "time.Time" {
		r.needsTime = true
	}
	return t
}

func (r *Resolver) declareStruct(name string, s *discovery.Schema) {
	r.taken[name] = true
	idx := len(r.structs)
	r.structs = append(r.structs, Struct{Name: name, Comment: s.Description})

	props := make([]string, 0, len(s.Properties))
	for prop := range s.Properties {
		props = append(props, prop)
	}
	sort.Strings(props)
	required := s.RequiredNames()

	var fields []Field
	used := make(map[string]bool)
	for _, prop := range props {
		ps := s.Properties[prop]
		isRequired := slices.Contains(required, prop)
		typ := r.ResolveType(ps, name, prop)
		if NeedsPointer(ps, prop, required) {
			typ = "*" + typ
		}

		fieldName := ToGoIdentifier(prop)
		for used[fieldName] {
			fieldName += "_"
		}
		used[fieldName] = true

		fields = append(fields, Field{
			Name:     fieldName,
			JSONName: prop,
			Type:     typ,
			Tag:      StructTag(ps, prop, isRequired),
			Comment:  ps.Description,
			Required: isRequired,
			ReadOnly: ps.ReadOnly,
		})
	}
	r.structs[idx].Fields = fields
}

func (r *Resolver) enum(name string, s *discovery.Schema) Named {
	n := Named{Name: name, Comment: s.Description, Type: "string"}
	used := make(map[string]bool)
	for _, v := range s.Enum {
		constName := name + ToGoIdentifier(v)
		for used[constName] {
			constName += "_"
		}
		used[constName] = true
		n.Enum = append(n.Enum, EnumValue{Name: constName, Value: v})
	}
	return n
}

func (r *Resolver) unique(name string) string {
	if name == "" {
		name = "Object"
	}
	candidate := name
	for i := 2; r.taken[candidate]; i++ {
		candidate = name + strconv.Itoa(i)
	}
	r.taken[candidate] = true
	return candidate
}

// Structs returns the declared structs sorted by name.
func (r *Resolver) Structs() []Struct {
	out := slices.Clone(r.structs)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Named returns the declared non-struct types sorted by name.
func (r *Resolver) Named() []Named {
	out := slices.Clone(r.named)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// NeedsTime reports whether any resolved type uses time.Time.
func (r *Resolver) NeedsTime() bool {
	return r.needsTime
}
