package client

import (
	"cmp"
	"maps"
	"slices"

	"github.com/kolah/disco/discovery"
	"github.com/kolah/disco/internal/golang"
	"github.com/kolah/disco/internal/templates"
)

type Target struct{}

func New() *Target {
	return &Target{}
}

func (t *Target) Name() string {
	return "client"
}

type templateData struct {
	Package   string
	Title     string
	Version   string
	Methods   []methodData
	Structs   []golang.Struct
	NeedsTime bool
}

type methodData struct {
	Path                  string
	GoName                string
	HTTPMethod            string
	Description           string
	Deprecated            bool
	Params                []parameterData
	RequestType           string
	ResponseType          string
	SupportsMediaDownload bool
}

type parameterData struct {
	Name        string
	GoName      string
	Type        string
	Description string
	Required    bool
	Repeated    bool
}

// Generate emits a typed wrapper with one function per method of doc. Named
// schemas are expected to come from the types target in the same package;
// inline request and response objects are declared here.
func (t *Target) Generate(engine templates.Engine, doc *discovery.Document, pkg string) (string, error) {
	resolver := golang.NewResolver(doc)
	resolver.Reserve("Service")

	methods := doc.AllMethods()
	for _, m := range methods {
		goName := golang.MethodName(m.FullName)
		resolver.Reserve(goName + "Params")
		resolver.Reserve("Method" + goName)
	}

	data := templateData{
		Package: pkg,
		Title:   cmp.Or(doc.Title, doc.Name),
		Version: doc.Version,
	}

	for _, m := range methods {
		goName := golang.MethodName(m.FullName)
		md := methodData{
			Path:                  m.FullName,
			GoName:                goName,
			HTTPMethod:            m.HTTPMethod,
			Description:           m.Description,
			Deprecated:            m.Deprecated,
			Params:                parameters(m),
			SupportsMediaDownload: m.SupportsMediaDownload,
		}
		if m.Request != nil {
			md.RequestType = resolver.ResolveType(m.Request, goName, "Request")
		}
		if m.Response != nil {
			md.ResponseType = resolver.ResolveType(m.Response, goName, "Response")
		}
		data.Methods = append(data.Methods, md)
	}

	data.Structs = resolver.Structs()
	data.NeedsTime = resolver.NeedsTime()

	return engine.Execute("go/client.tmpl", data)
}

// parameters lists a method's own parameters in parameterOrder first, then
// the remaining ones by name. Service-wide parameters go through Extra.
func parameters(m *discovery.Method) []parameterData {
	var names []string
	seen := make(map[string]bool)
	for _, name := range m.ParameterOrder {
		if _, ok := m.Parameters[name]; ok && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for _, name := range slices.Sorted(maps.Keys(m.Parameters)) {
		if !seen[name] {
			names = append(names, name)
		}
	}

	used := map[string]bool{"Extra": true}
	params := make([]parameterData, 0, len(names))
	for _, name := range names {
		p := m.Parameters[name]
		goName := golang.ToGoIdentifier(name)
		for used[goName] {
			goName += "_"
		}
		used[goName] = true

		typ := golang.ParamType(p)
		required := p.Required || p.Location == discovery.LocationPath
		if !required && !p.Repeated {
			typ = "*" + typ
		}
		params = append(params, parameterData{
			Name:        name,
			GoName:      goName,
			Type:        typ,
			Description: p.Description,
			Required:    required,
			Repeated:    p.Repeated,
		})
	}
	return params
}
