package document

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/kolah/disco/discovery"
	"github.com/kolah/disco/internal/templates"
)

type Target struct{}

func New() *Target {
	return &Target{}
}

func (t *Target) Name() string {
	return "document"
}

type templateData struct {
	Package      string
	DocumentID   string
	DocumentData string
}

// Generate embeds doc in discovery JSON form, so documents converted from
// OpenAPI load without the conversion step.
func (t *Target) Generate(engine templates.Engine, doc *discovery.Document, pkg string) (string, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encoding document: %w", err)
	}

	data := templateData{
		Package:      pkg,
		DocumentID:   doc.ID,
		DocumentData: base64.StdEncoding.EncodeToString(raw),
	}

	return engine.Execute("go/document.tmpl", data)
}
