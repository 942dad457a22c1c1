package document

import (
	"encoding/base64"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kolah/disco/discovery"
)

type recordingEngine struct {
	name string
	data any
}

func (e *recordingEngine) Execute(name string, data any) (string, error) {
	e.name = name
	e.data = data
	return "ok", nil
}

func TestGenerateEmbedsParsableDocument(t *testing.T) {
	raw, err := os.ReadFile("../../../discovery/testdata/inventory.json")
	require.NoError(t, err)
	doc, err := discovery.Parse(raw)
	require.NoError(t, err)

	engine := &recordingEngine{}
	out, err := New().Generate(engine, doc, "inventory")
	require.NoError(t, err)
	require.Equal(t, "ok", out)
	require.Equal(t, "go/document.tmpl", engine.name)

	data := engine.data.(templateData)
	require.Equal(t, "inventory", data.Package)
	require.Equal(t, "inventory:v1", data.DocumentID)

	decoded, err := base64.StdEncoding.DecodeString(data.DocumentData)
	require.NoError(t, err)
	reparsed, err := discovery.Parse(decoded)
	require.NoError(t, err)
	require.Equal(t, doc.MethodNames(), reparsed.MethodNames())
	require.Equal(t, doc.BaseURL, reparsed.BaseURL)
}
