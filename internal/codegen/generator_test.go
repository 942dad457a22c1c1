package codegen

import (
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kolah/disco/discovery"
	"github.com/kolah/disco/internal/config"
	"github.com/kolah/disco/internal/golang"
	"github.com/kolah/disco/internal/loader"
)

func loadDocument(t *testing.T) *discovery.Document {
	t.Helper()
	data, err := os.ReadFile("../../discovery/testdata/inventory.json")
	require.NoError(t, err)
	doc, err := discovery.Parse(data)
	require.NoError(t, err)
	return doc
}

// declarations parses generated source and returns its top-level type,
// const and function names.
func declarations(t *testing.T, src string) map[string]bool {
	t.Helper()
	f, err := parser.ParseFile(token.NewFileSet(), "gen.go", src, parser.ParseComments)
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, decl := range f.Decls {
		switch d := decl.(type) {
		case *ast.GenDecl:
			for _, spec := range d.Specs {
				switch s := spec.(type) {
				case *ast.TypeSpec:
					names[s.Name.Name] = true
				case *ast.ValueSpec:
					for _, n := range s.Names {
						names[n.Name] = true
					}
				}
			}
		case *ast.FuncDecl:
			name := d.Name.Name
			if d.Recv != nil && len(d.Recv.List) > 0 {
				switch r := d.Recv.List[0].Type.(type) {
				case *ast.StarExpr:
					name = r.X.(*ast.Ident).Name + "." + name
				case *ast.Ident:
					name = r.Name + "." + name
				}
			}
			names[name] = true
		}
	}
	return names
}

func TestGenerateDiscoveryDocument(t *testing.T) {
	gen, err := New(&config.GenerateConfig{Package: "inventory"})
	require.NoError(t, err)

	outputs, err := gen.Generate(loadDocument(t), Targets)
	require.NoError(t, err)
	require.Len(t, outputs, 3)
	require.Equal(t, "types.go", outputs[0].Filename)
	require.Equal(t, "client.go", outputs[1].Filename)
	require.Equal(t, "document.go", outputs[2].Filename)

	typesSrc := outputs[0].Content
	require.Contains(t, typesSrc, "// Code generated by disco. DO NOT EDIT.")
	require.Contains(t, typesSrc, "package inventory")
	decls := declarations(t, typesSrc)
	for _, name := range []string{"Item", "ItemList", "User", "Message", "Pong"} {
		require.True(t, decls[name], name)
	}
	require.Contains(t, typesSrc, "`json:\"name\"`")
	require.Contains(t, typesSrc, "`json:\"nextPageToken,omitempty\"`")
	require.Contains(t, typesSrc, "// Output only.")

	clientSrc := outputs[1].Content
	decls = declarations(t, clientSrc)
	for _, name := range []string{
		"MethodItemsGet", "MethodItemsList", "MethodPing", "MethodUsersMessagesGet",
		"Service", "NewService", "Service.Client",
		"ItemsGetParams", "ItemsListParams", "FoldersGetParams",
		"Service.ItemsGet", "Service.ItemsGetMedia", "Service.ItemsInsert",
		"Service.ItemsDelete", "Service.Ping", "Service.UsersMessagesGet",
		"ItemsListParams.args",
	} {
		require.True(t, decls[name], name)
	}
	require.False(t, decls["Service.ItemsListMedia"])
	require.Contains(t, clientSrc, `"github.com/kolah/disco/client"`)
	require.Contains(t, clientSrc, `args["tag"] = p.Tag`)
	require.Contains(t, clientSrc, `args["id"] = p.ID`)

	documentSrc := outputs[2].Content
	decls = declarations(t, documentSrc)
	require.True(t, decls["Document"])
	require.True(t, decls["documentData"])
	require.Contains(t, documentSrc, "sync.OnceValues")
	require.Contains(t, clientSrc, "discovery.WithBody(body)")
}

func TestGenerateInlineSchemas(t *testing.T) {
	result, err := loader.LoadFile("../../openapi/testdata/inventory.yaml")
	require.NoError(t, err)

	gen, err := New(&config.GenerateConfig{Package: "inventory"})
	require.NoError(t, err)

	outputs, err := gen.Generate(result.Document, []string{TargetClient})
	require.NoError(t, err)
	require.Len(t, outputs, 1)

	decls := declarations(t, outputs[0].Content)
	require.True(t, decls["UsersMessagesGetResponse"])
	require.True(t, decls["Service.UsersMessagesGet"])
	require.Contains(t, outputs[0].Content, "Deprecated:")
}

func TestGenerateUnknownTarget(t *testing.T) {
	gen, err := New(&config.GenerateConfig{Package: "inventory"})
	require.NoError(t, err)

	_, err = gen.Generate(loadDocument(t), []string{"server"})
	require.ErrorContains(t, err, `unknown target "server"`)
}

func TestGenerateCustomTemplates(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "go"), 0o755))
	custom := "package {{.Package}}\n\nconst SchemaCount = {{len .Structs}}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go", "types.tmpl"), []byte(custom), 0o644))

	gen, err := New(&config.GenerateConfig{Package: "inventory", TemplatesDir: dir})
	require.NoError(t, err)

	outputs, err := gen.Generate(loadDocument(t), []string{TargetTypes})
	require.NoError(t, err)
	require.Contains(t, outputs[0].Content, "const SchemaCount = 5")
}

func TestGenerateBrokenCustomTemplate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "go"), 0o755))
	custom := "package {{.Package}}\n\n{{range .Structs}}type {{goName .Name}} struct {\n{{end}}"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go", "types.tmpl"), []byte(custom), 0o644))

	gen, err := New(&config.GenerateConfig{Package: "inventory", TemplatesDir: dir})
	require.NoError(t, err)

	_, err = gen.Generate(loadDocument(t), []string{TargetTypes})
	var formatErr *golang.FormatError
	require.ErrorAs(t, err, &formatErr)
	require.Equal(t, "types.go", formatErr.Filename)
}
