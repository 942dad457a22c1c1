package types

import (
	"github.com/kolah/disco/discovery"
	"github.com/kolah/disco/internal/golang"
	"github.com/kolah/disco/internal/templates"
)

type Target struct{}

func New() *Target {
	return &Target{}
}

func (t *Target) Name() string {
	return "types"
}

type templateData struct {
	Package   string
	Structs   []golang.Struct
	Named     []golang.Named
	NeedsTime bool
}

// Generate declares one Go type per named schema of doc.
func (t *Target) Generate(engine templates.Engine, doc *discovery.Document, pkg string) (string, error) {
	resolver := golang.NewResolver(doc)
	resolver.ResolveSchemas()

	data := templateData{
		Package:   pkg,
		Structs:   resolver.Structs(),
		Named:     resolver.Named(),
		NeedsTime: resolver.NeedsTime(),
	}

	return engine.Execute("go/types.tmpl", data)
}
