// Package templates holds the built-in code generation templates.
package templates

import "embed"

//go:embed go/*.tmpl
var FS embed.FS
