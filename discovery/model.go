package discovery

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Document is a parsed discovery document. It is immutable once returned by
// Parse and safe for concurrent use.
type Document struct {
	Kind             string                `json:"kind,omitempty"`
	DiscoveryVersion string                `json:"discoveryVersion,omitempty"`
	ID               string                `json:"id,omitempty"`
	Name             string                `json:"name"`
	Version          string                `json:"version"`
	Title            string                `json:"title,omitempty"`
	Description      string                `json:"description,omitempty"`
	RootURL          string                `json:"rootUrl"`
	ServicePath      string                `json:"servicePath"`
	BaseURL          string                `json:"baseUrl,omitempty"`
	BatchPath        string                `json:"batchPath,omitempty"`
	Parameters       map[string]*Parameter `json:"parameters,omitempty"`
	Auth             *AuthScheme           `json:"auth,omitempty"`
	Schemas          map[string]*Schema    `json:"schemas,omitempty"`
	Resources        map[string]*Resource  `json:"resources,omitempty"`
	Methods          map[string]*Method    `json:"methods,omitempty"`

	index map[string]*Method
}

// AuthScheme describes how the service authenticates callers.
type AuthScheme struct {
	OAuth2 *OAuth2Scheme `json:"oauth2,omitempty"`
}

// OAuth2Scheme lists the scopes a service understands. TokenURL is an
// extension; documents that omit it rely on the configured token endpoint.
type OAuth2Scheme struct {
	Scopes   map[string]Scope `json:"scopes,omitempty"`
	TokenURL string           `json:"tokenUrl,omitempty"`
}

type Scope struct {
	Description string `json:"description,omitempty"`
}

// Resource is a named grouping node. Resources nest to arbitrary depth.
type Resource struct {
	Name      string               `json:"-"`
	Methods   map[string]*Method   `json:"methods,omitempty"`
	Resources map[string]*Resource `json:"resources,omitempty"`
}

// Method is a single callable remote operation.
type Method struct {
	ID                      string                `json:"id,omitempty"`
	Path                    string                `json:"path"`
	FlatPath                string                `json:"flatPath,omitempty"`
	HTTPMethod              string                `json:"httpMethod"`
	Description             string                `json:"description,omitempty"`
	Parameters              map[string]*Parameter `json:"parameters,omitempty"`
	ParameterOrder          []string              `json:"parameterOrder,omitempty"`
	Request                 *Schema               `json:"request,omitempty"`
	Response                *Schema               `json:"response,omitempty"`
	Scopes                  []string              `json:"scopes,omitempty"`
	SupportsMediaUpload     bool                  `json:"supportsMediaUpload,omitempty"`
	SupportsMediaDownload   bool                  `json:"supportsMediaDownload,omitempty"`
	UseMediaDownloadService bool                  `json:"useMediaDownloadService,omitempty"`
	MediaUpload             *MediaUpload          `json:"mediaUpload,omitempty"`
	Deprecated              bool                  `json:"deprecated,omitempty"`

	// Name is the method's key within its resource and FullName the dotted
	// lookup path, e.g. "users.messages.list".
	Name     string `json:"-"`
	FullName string `json:"-"`
}

type MediaUpload struct {
	Accept    []string        `json:"accept,omitempty"`
	MaxSize   string          `json:"maxSize,omitempty"`
	Protocols *MediaProtocols `json:"protocols,omitempty"`
}

type MediaProtocols struct {
	Simple    *MediaProtocol `json:"simple,omitempty"`
	Resumable *MediaProtocol `json:"resumable,omitempty"`
}

type MediaProtocol struct {
	Multipart bool   `json:"multipart,omitempty"`
	Path      string `json:"path"`
}

// Parameter location values.
const (
	LocationPath  = "path"
	LocationQuery = "query"
)

// Parameter describes a single path or query parameter.
type Parameter struct {
	Name        string   `json:"-"`
	Type        string   `json:"type,omitempty"`
	Format      string   `json:"format,omitempty"`
	Description string   `json:"description,omitempty"`
	Location    string   `json:"location,omitempty"`
	Required    bool     `json:"required,omitempty"`
	Repeated    bool     `json:"repeated,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Pattern     string   `json:"pattern,omitempty"`
	Default     string   `json:"default,omitempty"`
	Minimum     string   `json:"minimum,omitempty"`
	Maximum     string   `json:"maximum,omitempty"`
	Deprecated  bool     `json:"deprecated,omitempty"`

	pattern *regexp.Regexp
}

// Schema is a JSON schema as used by discovery documents. Required may be
// given per property ("required": true) or as a JSON Schema list on the
// parent; both forms are accepted.
type Schema struct {
	ID                   string             `json:"id,omitempty"`
	Ref                  string             `json:"$ref,omitempty"`
	Type                 string             `json:"type,omitempty"`
	Format               string             `json:"format,omitempty"`
	Description          string             `json:"description,omitempty"`
	Properties           map[string]*Schema `json:"properties,omitempty"`
	Items                *Schema            `json:"items,omitempty"`
	AdditionalProperties *Schema            `json:"additionalProperties,omitempty"`
	Enum                 []string           `json:"enum,omitempty"`
	Pattern              string             `json:"pattern,omitempty"`
	ReadOnly             bool               `json:"readOnly,omitempty"`

	Required           bool     `json:"-"`
	RequiredProperties []string `json:"-"`
}

func (s *Schema) UnmarshalJSON(data []byte) error {
	type alias Schema
	aux := struct {
		*alias
		Required json.RawMessage `json:"required,omitempty"`
	}{alias: (*alias)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	raw := strings.TrimSpace(string(aux.Required))
	switch {
	case raw == "" || raw == "null":
	case raw == "true" || raw == "false":
		s.Required = raw == "true"
	case strings.HasPrefix(raw, "["):
		if err := json.Unmarshal(aux.Required, &s.RequiredProperties); err != nil {
			return fmt.Errorf("required: %w", err)
		}
	default:
		return fmt.Errorf("required: unsupported value %s", raw)
	}
	return nil
}

func (s Schema) MarshalJSON() ([]byte, error) {
	type alias Schema
	aux := struct {
		alias
		Required any `json:"required,omitempty"`
	}{alias: alias(s)}
	if len(s.RequiredProperties) > 0 {
		aux.Required = s.RequiredProperties
	} else if s.Required {
		aux.Required = true
	}
	return json.Marshal(aux)
}

// RequiredNames returns the names of required properties in sorted order,
// combining both declaration styles.
func (s *Schema) RequiredNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, name := range s.RequiredProperties {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for name, prop := range s.Properties {
		if prop != nil && prop.Required && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Method returns the method registered under the dotted path.
func (d *Document) Method(path string) (*Method, bool) {
	m, ok := d.index[path]
	return m, ok
}

// MethodNames returns every dotted method path in sorted order.
func (d *Document) MethodNames() []string {
	names := make([]string, 0, len(d.index))
	for name := range d.index {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AllMethods returns every method ordered by dotted path.
func (d *Document) AllMethods() []*Method {
	names := d.MethodNames()
	methods := make([]*Method, len(names))
	for i, name := range names {
		methods[i] = d.index[name]
	}
	return methods
}

// Schema looks up a named schema.
func (d *Document) Schema(name string) (*Schema, bool) {
	s, ok := d.Schemas[name]
	return s, ok
}

// Deref follows $ref links until it reaches a concrete schema.
func (d *Document) Deref(s *Schema) *Schema {
	for i := 0; s != nil && s.Ref != "" && i < 32; i++ {
		s = d.Schemas[s.Ref]
	}
	return s
}

// BatchURL returns the endpoint batched requests are posted to, or "" when
// the service does not support batching.
func (d *Document) BatchURL() string {
	if d.BatchPath == "" {
		return ""
	}
	return joinURL(d.RootURL, d.BatchPath)
}

// TokenURL returns the token endpoint advertised by the document, if any.
func (d *Document) TokenURL() string {
	if d.Auth == nil || d.Auth.OAuth2 == nil {
		return ""
	}
	return d.Auth.OAuth2.TokenURL
}

// Scopes returns the OAuth2 scopes the document declares, sorted.
func (d *Document) Scopes() []string {
	if d.Auth == nil || d.Auth.OAuth2 == nil {
		return nil
	}
	scopes := make([]string, 0, len(d.Auth.OAuth2.Scopes))
	for scope := range d.Auth.OAuth2.Scopes {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)
	return scopes
}

// parameter returns the method parameter or, failing that, the global one.
func (d *Document) parameter(m *Method, name string) (*Parameter, bool) {
	if p, ok := m.Parameters[name]; ok {
		return p, true
	}
	p, ok := d.Parameters[name]
	return p, ok
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
