package templates

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"text/template"
)

type Engine interface {
	Execute(name string, data any) (string, error)
}

// TextTemplateEngine holds every .tmpl file under one template set, named by
// its slash-separated path ("go/types.tmpl").
type TextTemplateEngine struct {
	templates *template.Template
	// origins records where each template was loaded from, for errors.
	origins map[string]string
}

// NewEngine parses every .tmpl file in embedded, then any in customDir.
// A custom template with the same relative name replaces the embedded one.
// A customDir that does not exist is ignored.
func NewEngine(embedded fs.FS, customDir string, funcs template.FuncMap) (*TextTemplateEngine, error) {
	e := &TextTemplateEngine{
		templates: template.New("").Funcs(funcs),
		origins:   make(map[string]string),
	}
	if err := e.parse(embedded, "embedded"); err != nil {
		return nil, fmt.Errorf("loading embedded templates: %w", err)
	}

	if customDir == "" {
		return e, nil
	}
	if _, err := os.Stat(customDir); errors.Is(err, fs.ErrNotExist) {
		return e, nil
	}
	if err := e.parse(os.DirFS(customDir), customDir); err != nil {
		return nil, fmt.Errorf("loading custom templates: %w", err)
	}
	return e, nil
}

func (e *TextTemplateEngine) parse(fsys fs.FS, origin string) error {
	return fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".tmpl") {
			return nil
		}
		content, err := fs.ReadFile(fsys, path)
		if err != nil {
			return fmt.Errorf("reading template %s: %w", path, err)
		}
		if _, err := e.templates.New(path).Parse(string(content)); err != nil {
			return fmt.Errorf("parsing template %s from %s: %w", path, origin, err)
		}
		e.origins[path] = origin
		return nil
	})
}

func (e *TextTemplateEngine) Execute(name string, data any) (string, error) {
	tmpl := e.templates.Lookup(name)
	if tmpl == nil {
		return "", fmt.Errorf("template not found: %s", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing template %s from %s: %w", name, e.origins[name], err)
	}
	return buf.String(), nil
}
