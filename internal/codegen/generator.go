package codegen

import (
	"fmt"
	"slices"

	"github.com/kolah/disco/discovery"
	"github.com/kolah/disco/internal/config"
	"github.com/kolah/disco/internal/golang"
	"github.com/kolah/disco/internal/targets/client"
	"github.com/kolah/disco/internal/targets/document"
	"github.com/kolah/disco/internal/targets/types"
	"github.com/kolah/disco/internal/templates"
	embeddedtmpl "github.com/kolah/disco/templates"
)

const (
	TargetTypes    = "types"
	TargetClient   = "client"
	TargetDocument = "document"
)

// Targets lists every target in generation order.
var Targets = []string{TargetTypes, TargetClient, TargetDocument}

type Generator struct {
	config *config.GenerateConfig
	engine templates.Engine
}

type Output struct {
	Filename string
	Content  string
}

func New(cfg *config.GenerateConfig) (*Generator, error) {
	if len(cfg.Initialisms) > 0 {
		golang.SetAdditionalInitialisms(cfg.Initialisms)
	}

	engine, err := templates.NewEngine(embeddedtmpl.FS, cfg.TemplatesDir, golang.TemplateFuncs())
	if err != nil {
		return nil, fmt.Errorf("creating template engine: %w", err)
	}

	return &Generator{
		config: cfg,
		engine: engine,
	}, nil
}

// Generate renders the requested targets for doc, each into its own
// formatted file.
func (g *Generator) Generate(doc *discovery.Document, targets []string) ([]Output, error) {
	for _, t := range targets {
		if !slices.Contains(Targets, t) {
			return nil, fmt.Errorf("unknown target %q", t)
		}
	}

	var outputs []Output

	if slices.Contains(targets, TargetTypes) {
		content, err := types.New().Generate(g.engine, doc, g.config.Package)
		if err != nil {
			return nil, fmt.Errorf("generating types: %w", err)
		}
		formatted, err := golang.Format("types.go", []byte(content))
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, Output{
			Filename: "types.go",
			Content:  string(formatted),
		})
	}

	if slices.Contains(targets, TargetClient) {
		content, err := client.New().Generate(g.engine, doc, g.config.Package)
		if err != nil {
			return nil, fmt.Errorf("generating client: %w", err)
		}
		formatted, err := golang.Format("client.go", []byte(content))
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, Output{
			Filename: "client.go",
			Content:  string(formatted),
		})
	}

	if slices.Contains(targets, TargetDocument) {
		content, err := document.New().Generate(g.engine, doc, g.config.Package)
		if err != nil {
			return nil, fmt.Errorf("generating document: %w", err)
		}
		formatted, err := golang.Format("document.go", []byte(content))
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, Output{
			Filename: "document.go",
			Content:  string(formatted),
		})
	}

	return outputs, nil
}
