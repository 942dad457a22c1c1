package openapi

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/pb33f/libopenapi/datamodel/high/base"
	v3 "github.com/pb33f/libopenapi/datamodel/high/v3"
	"github.com/pb33f/libopenapi/orderedmap"
	"go.yaml.in/yaml/v4"

	"github.com/kolah/disco/discovery"
)

// Extensions recognised on the document, info object and operations.
const (
	ExtName      = "x-disco-name"
	ExtBatchPath = "x-disco-batch-path"
	ExtMethod    = "x-disco-method"
)

var templateParam = regexp.MustCompile(`\{([^}]+)\}`)

type converter struct {
	componentSchemas map[*base.Schema]string
}

// Convert maps an OpenAPI document onto a discovery document so the rest of
// the runtime can resolve and execute its operations. Only path and query
// parameters and JSON bodies carry over.
func Convert(spec *Spec) (*discovery.Document, error) {
	model := spec.Model.Model

	if len(model.Servers) == 0 {
		return nil, fmt.Errorf("OpenAPI document declares no servers")
	}
	rootURL, servicePath, err := splitServer(model.Servers[0].URL)
	if err != nil {
		return nil, err
	}

	c := &converter{componentSchemas: make(map[*base.Schema]string)}
	if model.Components != nil && model.Components.Schemas != nil {
		for name, proxy := range model.Components.Schemas.FromOldest() {
			c.componentSchemas[proxy.Schema()] = name
		}
	}

	doc := &discovery.Document{
		Kind:             "discovery#restDescription",
		DiscoveryVersion: "v1",
		RootURL:          rootURL,
		ServicePath:      servicePath,
		BatchPath:        extensionString(model.Extensions, ExtBatchPath),
		Schemas:          make(map[string]*discovery.Schema),
	}
	if info := model.Info; info != nil {
		doc.Title = info.Title
		doc.Description = info.Description
		doc.Version = info.Version
		doc.Name = extensionString(info.Extensions, ExtName)
		if doc.Name == "" {
			doc.Name = slug(info.Title)
		}
	}
	if doc.Name == "" {
		return nil, fmt.Errorf("OpenAPI document needs info.title or %s", ExtName)
	}
	if doc.Version == "" {
		doc.Version = "v1"
	}
	doc.ID = doc.Name + ":" + doc.Version

	if model.Components != nil && model.Components.Schemas != nil {
		for name, proxy := range model.Components.Schemas.FromOldest() {
			s := c.convertSchema(proxy.Schema())
			s.ID = name
			doc.Schemas[name] = s
		}
	}
	if model.Components != nil && model.Components.SecuritySchemes != nil {
		doc.Auth = convertAuth(model.Components.SecuritySchemes)
	}

	if model.Paths != nil && model.Paths.PathItems != nil {
		for pathStr, item := range model.Paths.PathItems.FromOldest() {
			for _, op := range operations(item) {
				m, name, err := c.convertOperation(pathStr, op.method, op.op, item.Parameters, model.Security)
				if err != nil {
					return nil, err
				}
				if err := place(doc, name, m); err != nil {
					return nil, err
				}
			}
		}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding converted document: %w", err)
	}
	return discovery.Parse(data)
}

type namedOperation struct {
	method string
	op     *v3.Operation
}

func operations(item *v3.PathItem) []namedOperation {
	all := []namedOperation{
		{"GET", item.Get},
		{"POST", item.Post},
		{"PUT", item.Put},
		{"DELETE", item.Delete},
		{"PATCH", item.Patch},
		{"HEAD", item.Head},
		{"OPTIONS", item.Options},
	}
	ops := all[:0]
	for _, o := range all {
		if o.op != nil {
			ops = append(ops, o)
		}
	}
	return ops
}

// splitServer divides a server URL into discovery's rootUrl and servicePath.
func splitServer(raw string) (string, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parsing server url %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", "", fmt.Errorf("server url %q must be absolute", raw)
	}
	servicePath := strings.Trim(u.Path, "/")
	if servicePath != "" {
		servicePath += "/"
	}
	return u.Scheme + "://" + u.Host + "/", servicePath, nil
}

func (c *converter) convertOperation(pathStr, httpMethod string, op *v3.Operation, shared []*v3.Parameter, docSecurity []*base.SecurityRequirement) (*discovery.Method, string, error) {
	name := methodName(op)
	if name == "" {
		return nil, "", fmt.Errorf("%s %s: operation needs an operationId or %s", httpMethod, pathStr, ExtMethod)
	}

	m := &discovery.Method{
		ID:          op.OperationId,
		Path:        strings.TrimLeft(pathStr, "/"),
		HTTPMethod:  httpMethod,
		Description: firstNonEmpty(op.Description, op.Summary),
		Deprecated:  op.Deprecated != nil && *op.Deprecated,
		Parameters:  make(map[string]*discovery.Parameter),
	}
	m.FlatPath = m.Path

	// Operation parameters override path-item parameters of the same name.
	for _, p := range append(slices.Clone(shared), op.Parameters...) {
		loc := strings.ToLower(p.In)
		if loc != discovery.LocationPath && loc != discovery.LocationQuery {
			continue
		}
		m.Parameters[p.Name] = c.convertParameter(p, loc)
	}
	m.ParameterOrder = parameterOrder(m)

	if op.RequestBody != nil && op.RequestBody.Content != nil {
		if mt, ok := op.RequestBody.Content.Get("application/json"); ok && mt.Schema != nil {
			m.Request = c.convertProxy(mt.Schema)
		}
	}
	m.Response = c.successSchema(op.Responses)

	security := docSecurity
	if op.Security != nil {
		security = op.Security
	}
	m.Scopes = scopes(security)

	return m, name, nil
}

// methodName picks the dotted lookup path for an operation: the explicit
// extension, then a dotted operationId, then the first tag plus operationId.
func methodName(op *v3.Operation) string {
	if name := extensionString(op.Extensions, ExtMethod); name != "" {
		return name
	}
	if op.OperationId == "" {
		return ""
	}
	if strings.Contains(op.OperationId, ".") || len(op.Tags) == 0 {
		return op.OperationId
	}
	return slug(op.Tags[0]) + "." + op.OperationId
}

// parameterOrder lists path parameters in template order followed by the
// required query parameters.
func parameterOrder(m *discovery.Method) []string {
	var order []string
	for _, match := range templateParam.FindAllStringSubmatch(m.Path, -1) {
		name := strings.TrimPrefix(match[1], "+")
		if _, ok := m.Parameters[name]; ok && !slices.Contains(order, name) {
			order = append(order, name)
		}
	}
	var query []string
	for name, p := range m.Parameters {
		if p.Location == discovery.LocationQuery && p.Required {
			query = append(query, name)
		}
	}
	sort.Strings(query)
	return append(order, query...)
}

func (c *converter) convertParameter(p *v3.Parameter, loc string) *discovery.Parameter {
	param := &discovery.Parameter{
		Type:        "string",
		Description: p.Description,
		Location:    loc,
		Required:    loc == discovery.LocationPath || (p.Required != nil && *p.Required),
		Deprecated:  p.Deprecated,
	}
	if p.Schema == nil {
		return param
	}
	s := p.Schema.Schema()
	if s == nil {
		return param
	}
	if schemaType(s) == "array" && s.Items != nil && s.Items.A != nil {
		param.Repeated = true
		if items := s.Items.A.Schema(); items != nil {
			s = items
		}
	}
	if t := schemaType(s); t != "" && t != "object" && t != "array" {
		param.Type = t
	}
	param.Format = s.Format
	param.Pattern = s.Pattern
	param.Enum = enumValues(s.Enum)
	if s.Default != nil && s.Default.Kind == yaml.ScalarNode {
		param.Default = s.Default.Value
	}
	if s.Minimum != nil {
		param.Minimum = strconv.FormatFloat(*s.Minimum, 'f', -1, 64)
	}
	if s.Maximum != nil {
		param.Maximum = strconv.FormatFloat(*s.Maximum, 'f', -1, 64)
	}
	return param
}

// successSchema returns the JSON schema of the lowest 2xx response.
func (c *converter) successSchema(responses *v3.Responses) *discovery.Schema {
	if responses == nil || responses.Codes == nil {
		return nil
	}
	success := make(map[string]*v3.Response)
	var codes []string
	for code, resp := range responses.Codes.FromOldest() {
		if strings.HasPrefix(code, "2") {
			codes = append(codes, code)
			success[code] = resp
		}
	}
	sort.Strings(codes)
	for _, code := range codes {
		resp := success[code]
		if resp == nil || resp.Content == nil {
			continue
		}
		if mt, ok := resp.Content.Get("application/json"); ok && mt.Schema != nil {
			return c.convertProxy(mt.Schema)
		}
	}
	return nil
}

func (c *converter) convertProxy(proxy *base.SchemaProxy) *discovery.Schema {
	if proxy == nil {
		return nil
	}
	if ref := proxy.GetReference(); strings.HasPrefix(ref, "#/components/schemas/") {
		return &discovery.Schema{Ref: strings.TrimPrefix(ref, "#/components/schemas/")}
	}
	s := proxy.Schema()
	if name, ok := c.componentSchemas[s]; ok {
		return &discovery.Schema{Ref: name}
	}
	return c.convertSchema(s)
}

func (c *converter) convertSchema(s *base.Schema) *discovery.Schema {
	if s == nil {
		return &discovery.Schema{Type: "any"}
	}
	schema := &discovery.Schema{
		Type:               schemaType(s),
		Format:             s.Format,
		Description:        s.Description,
		Pattern:            s.Pattern,
		Enum:               enumValues(s.Enum),
		ReadOnly:           s.ReadOnly != nil && *s.ReadOnly,
		RequiredProperties: slices.Clone(s.Required),
	}
	if schema.Type == "" {
		switch {
		case s.Properties != nil && s.Properties.Len() > 0:
			schema.Type = "object"
		case s.Items != nil:
			schema.Type = "array"
		default:
			schema.Type = "any"
		}
	}
	if s.Properties != nil {
		schema.Properties = make(map[string]*discovery.Schema)
		for name, prop := range s.Properties.FromOldest() {
			schema.Properties[name] = c.convertProxy(prop)
		}
	}
	if s.Items != nil && s.Items.A != nil {
		schema.Items = c.convertProxy(s.Items.A)
	}
	if s.AdditionalProperties != nil && s.AdditionalProperties.A != nil {
		schema.AdditionalProperties = c.convertProxy(s.AdditionalProperties.A)
	}
	return schema
}

// schemaType returns the first non-null JSON type, translating "null"-only
// and multi-type schemas to discovery's "any".
func schemaType(s *base.Schema) string {
	var types []string
	for _, t := range s.Type {
		if t != "null" {
			types = append(types, t)
		}
	}
	switch len(types) {
	case 0:
		return ""
	case 1:
		return types[0]
	default:
		return "any"
	}
}

func enumValues(nodes []*yaml.Node) []string {
	var values []string
	for _, n := range nodes {
		if n != nil && n.Kind == yaml.ScalarNode {
			values = append(values, n.Value)
		}
	}
	return values
}

func scopes(reqs []*base.SecurityRequirement) []string {
	var out []string
	for _, req := range reqs {
		if req == nil || req.Requirements == nil {
			continue
		}
		for _, list := range req.Requirements.FromOldest() {
			for _, scope := range list {
				if !slices.Contains(out, scope) {
					out = append(out, scope)
				}
			}
		}
	}
	sort.Strings(out)
	return out
}

// convertAuth merges the scopes of every OAuth2 flow and takes the first
// token endpoint it finds.
func convertAuth(schemes *orderedmap.Map[string, *v3.SecurityScheme]) *discovery.AuthScheme {
	oauth := &discovery.OAuth2Scheme{Scopes: make(map[string]discovery.Scope)}
	found := false
	for _, scheme := range schemes.FromOldest() {
		if scheme == nil || scheme.Type != "oauth2" || scheme.Flows == nil {
			continue
		}
		found = true
		for _, flow := range []*v3.OAuthFlow{
			scheme.Flows.ClientCredentials,
			scheme.Flows.AuthorizationCode,
			scheme.Flows.Password,
			scheme.Flows.Implicit,
		} {
			if flow == nil {
				continue
			}
			if oauth.TokenURL == "" {
				oauth.TokenURL = flow.TokenUrl
			}
			if flow.Scopes == nil {
				continue
			}
			for scope, desc := range flow.Scopes.FromOldest() {
				oauth.Scopes[scope] = discovery.Scope{Description: desc}
			}
		}
	}
	if !found {
		return nil
	}
	return &discovery.AuthScheme{OAuth2: oauth}
}

// place hangs m under the resource chain named by the dotted path.
func place(doc *discovery.Document, name string, m *discovery.Method) error {
	parts := strings.Split(name, ".")
	for _, part := range parts {
		if part == "" {
			return fmt.Errorf("method name %q has an empty segment", name)
		}
	}

	methods := &doc.Methods
	resources := &doc.Resources
	for _, part := range parts[:len(parts)-1] {
		if *resources == nil {
			*resources = make(map[string]*discovery.Resource)
		}
		r, ok := (*resources)[part]
		if !ok {
			r = &discovery.Resource{}
			(*resources)[part] = r
		}
		methods = &r.Methods
		resources = &r.Resources
	}

	leaf := parts[len(parts)-1]
	if *methods == nil {
		*methods = make(map[string]*discovery.Method)
	}
	if _, dup := (*methods)[leaf]; dup {
		return fmt.Errorf("two operations map to method %q", name)
	}
	(*methods)[leaf] = m
	return nil
}

func extensionString(ext *orderedmap.Map[string, *yaml.Node], key string) string {
	if ext == nil {
		return ""
	}
	node, ok := ext.Get(key)
	if !ok || node == nil || node.Kind != yaml.ScalarNode {
		return ""
	}
	return node.Value
}

var nonWord = regexp.MustCompile(`[^a-z0-9]+`)

func slug(s string) string {
	return nonWord.ReplaceAllString(strings.ToLower(s), "")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
