package discovery

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{([+]?)([^{}]+)\}`)

// Parse decodes a discovery document and indexes its methods by dotted path.
// It performs no network I/O.
func Parse(raw []byte) (*Document, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &SchemaError{Message: "decoding document", Err: err}
	}
	for _, key := range []string{"name", "rootUrl", "servicePath"} {
		if _, ok := fields[key]; !ok {
			return nil, schemaErrorf("missing required field %q", key)
		}
	}
	_, hasResources := fields["resources"]
	_, hasMethods := fields["methods"]
	if !hasResources && !hasMethods {
		return nil, schemaErrorf("document declares neither resources nor methods")
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &SchemaError{Message: "decoding document", Err: err}
	}
	if err := doc.init(); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (d *Document) init() error {
	if d.Name == "" {
		return schemaErrorf("name must not be empty")
	}
	if d.RootURL == "" {
		return schemaErrorf("rootUrl must not be empty")
	}
	if d.BaseURL == "" {
		d.BaseURL = strings.TrimRight(d.RootURL, "/") + "/" + strings.TrimLeft(d.ServicePath, "/")
	}

	for name, p := range d.Parameters {
		if err := initParameter(name, p); err != nil {
			return err
		}
	}
	for name, s := range d.Schemas {
		if s == nil {
			return schemaErrorf("schema %q is empty", name)
		}
		if err := d.checkRefs(s, "schemas."+name); err != nil {
			return err
		}
	}

	d.index = make(map[string]*Method)
	if err := d.indexMethods(nil, d.Methods); err != nil {
		return err
	}
	return d.indexResources(nil, d.Resources)
}

func (d *Document) indexResources(prefix []string, resources map[string]*Resource) error {
	for _, name := range sortedKeys(resources) {
		r := resources[name]
		if r == nil {
			return schemaErrorf("resource %q is empty", strings.Join(append(prefix, name), "."))
		}
		r.Name = name
		path := append(append([]string(nil), prefix...), name)
		if err := d.indexMethods(path, r.Methods); err != nil {
			return err
		}
		if err := d.indexResources(path, r.Resources); err != nil {
			return err
		}
	}
	return nil
}

func (d *Document) indexMethods(prefix []string, methods map[string]*Method) error {
	for _, name := range sortedKeys(methods) {
		m := methods[name]
		full := strings.Join(append(append([]string(nil), prefix...), name), ".")
		if m == nil {
			return schemaErrorf("method %q is empty", full)
		}
		if existing, ok := d.index[full]; ok {
			return schemaErrorf("method path %q is declared by both %q and %q", full, existing.ID, m.ID)
		}
		m.Name = name
		m.FullName = full
		if err := d.initMethod(m); err != nil {
			return err
		}
		d.index[full] = m
	}
	return nil
}

func (d *Document) initMethod(m *Method) error {
	if m.HTTPMethod == "" {
		return schemaErrorf("method %q has no httpMethod", m.FullName)
	}
	m.HTTPMethod = strings.ToUpper(m.HTTPMethod)
	if m.Path == "" {
		return schemaErrorf("method %q has no path", m.FullName)
	}
	for name, p := range m.Parameters {
		if err := initParameter(name, p); err != nil {
			err.Message = fmt.Sprintf("method %q: %s", m.FullName, err.Message)
			return err
		}
	}
	for _, name := range m.ParameterOrder {
		if _, ok := m.Parameters[name]; !ok {
			return schemaErrorf("method %q: parameterOrder names undefined parameter %q", m.FullName, name)
		}
	}
	if err := checkTemplate(m, m.Path); err != nil {
		return err
	}
	if m.MediaUpload != nil && m.MediaUpload.Protocols != nil && m.MediaUpload.Protocols.Simple != nil {
		if err := checkTemplate(m, m.MediaUpload.Protocols.Simple.Path); err != nil {
			return err
		}
	}
	if m.MediaUpload != nil && m.MediaUpload.MaxSize != "" {
		if _, err := parseSize(m.MediaUpload.MaxSize); err != nil {
			return &SchemaError{Message: fmt.Sprintf("method %q: mediaUpload.maxSize", m.FullName), Err: err}
		}
	}
	if err := d.checkRefs(m.Request, m.FullName+".request"); err != nil {
		return err
	}
	return d.checkRefs(m.Response, m.FullName+".response")
}

func checkTemplate(m *Method, template string) error {
	for _, match := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		name := match[2]
		p, ok := m.Parameters[name]
		if !ok {
			return schemaErrorf("method %q: path %q references undefined parameter %q", m.FullName, template, name)
		}
		if p.Location != LocationPath {
			return schemaErrorf("method %q: path parameter %q has location %q", m.FullName, name, p.Location)
		}
	}
	return nil
}

func initParameter(name string, p *Parameter) *SchemaError {
	if p == nil {
		return schemaErrorf("parameter %q is empty", name)
	}
	p.Name = name
	switch p.Location {
	case LocationPath, LocationQuery:
	case "":
		p.Location = LocationQuery
	default:
		return schemaErrorf("parameter %q has unsupported location %q", name, p.Location)
	}
	if p.Pattern != "" {
		re, err := regexp.Compile(anchor(p.Pattern))
		if err != nil {
			return &SchemaError{Message: fmt.Sprintf("parameter %q pattern", name), Err: err}
		}
		p.pattern = re
	}
	return nil
}

func (d *Document) checkRefs(s *Schema, where string) error {
	if s == nil {
		return nil
	}
	if s.Ref != "" {
		if _, ok := d.Schemas[s.Ref]; !ok {
			return schemaErrorf("%s references undefined schema %q", where, s.Ref)
		}
	}
	for name, prop := range s.Properties {
		if err := d.checkRefs(prop, where+"."+name); err != nil {
			return err
		}
	}
	if err := d.checkRefs(s.Items, where+".items"); err != nil {
		return err
	}
	return d.checkRefs(s.AdditionalProperties, where+".additionalProperties")
}

// anchor makes pattern match whole values. Anchors already in pattern stay
// valid inside the group.
func anchor(pattern string) string {
	return "^(?:" + pattern + ")$"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
