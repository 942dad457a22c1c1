package templates

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"text/template"

	"github.com/stretchr/testify/require"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"go/hello.tmpl":  {Data: []byte(`hello {{upper .}}{{template "go/suffix.tmpl"}}`)},
		"go/suffix.tmpl": {Data: []byte(`!`)},
		"go/README.md":   {Data: []byte(`not a template`)},
	}
}

var funcs = template.FuncMap{"upper": strings.ToUpper}

func TestEngineExecute(t *testing.T) {
	e, err := NewEngine(testFS(), "", funcs)
	require.NoError(t, err)

	out, err := e.Execute("go/hello.tmpl", "world")
	require.NoError(t, err)
	require.Equal(t, "hello WORLD!", out)

	_, err = e.Execute("go/README.md", nil)
	require.ErrorContains(t, err, "template not found")
}

func TestEngineCustomOverride(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "go"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go", "suffix.tmpl"), []byte("?"), 0o644))

	e, err := NewEngine(testFS(), dir, funcs)
	require.NoError(t, err)

	out, err := e.Execute("go/hello.tmpl", "there")
	require.NoError(t, err)
	require.Equal(t, "hello THERE?", out)
}

func TestEngineMissingCustomDir(t *testing.T) {
	_, err := NewEngine(testFS(), filepath.Join(t.TempDir(), "nope"), funcs)
	require.NoError(t, err)
}

func TestEngineParseError(t *testing.T) {
	broken := fstest.MapFS{"go/bad.tmpl": {Data: []byte(`{{ .Missing `)}}
	_, err := NewEngine(broken, "", funcs)
	require.ErrorContains(t, err, "loading embedded templates: parsing template go/bad.tmpl from embedded")
}

func TestEngineCustomParseError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "go"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go", "suffix.tmpl"), []byte("{{ end }}"), 0o644))

	_, err := NewEngine(testFS(), dir, funcs)
	require.ErrorContains(t, err, "loading custom templates: parsing template go/suffix.tmpl from "+dir)
}

func TestEngineExecuteError(t *testing.T) {
	e, err := NewEngine(testFS(), "", funcs)
	require.NoError(t, err)
	_, err = e.Execute("go/hello.tmpl", 42)
	require.ErrorContains(t, err, "executing template go/hello.tmpl from embedded")
}
