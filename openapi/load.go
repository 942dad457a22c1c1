// Package openapi lets OpenAPI 3.x documents stand in for discovery
// documents, and validates responses against them.
package openapi

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pb33f/libopenapi"
	"github.com/pb33f/libopenapi/datamodel"
	v3 "github.com/pb33f/libopenapi/datamodel/high/v3"
)

// Spec is a parsed OpenAPI document.
type Spec struct {
	Document libopenapi.Document
	Model    *libopenapi.DocumentModel[v3.Document]
	Version  string
	Warnings []string
	Raw      []byte
}

// Load parses an OpenAPI 3.x document held in memory.
func Load(data []byte) (*Spec, error) {
	return loadWithConfig(data, nil)
}

// LoadFile parses an OpenAPI 3.x document from disk, resolving relative
// file references against its directory.
func LoadFile(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading spec file: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}

	config := &datamodel.DocumentConfiguration{
		BasePath:            filepath.Dir(absPath),
		AllowFileReferences: true,
	}

	return loadWithConfig(data, config)
}

func loadWithConfig(data []byte, config *datamodel.DocumentConfiguration) (*Spec, error) {
	var doc libopenapi.Document
	var err error

	if config != nil {
		doc, err = libopenapi.NewDocumentWithConfiguration(data, config)
	} else {
		doc, err = libopenapi.NewDocument(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing OpenAPI document: %w", err)
	}

	version := doc.GetVersion()
	if !strings.HasPrefix(version, "3.") {
		return nil, fmt.Errorf("unsupported OpenAPI version: %s (only 3.x supported)", version)
	}

	model, err := doc.BuildV3Model()
	if err != nil {
		return nil, fmt.Errorf("building OpenAPI model: %w", err)
	}

	spec := &Spec{
		Document: doc,
		Model:    model,
		Version:  version,
		Raw:      data,
	}

	if strings.HasPrefix(version, "3.0") {
		spec.Warnings = append(spec.Warnings, "OpenAPI 3.0.x detected; some 3.1/3.2 features unavailable")
	}

	return spec, nil
}
