package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kolah/disco/discovery"
)

func DescribeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "describe [method]",
		Short: "List the methods of a document, or show one method in detail",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runDescribe,
	}
}

func runDescribe(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	doc := e.result.Document
	w := cmd.OutOrStdout()

	if len(args) == 0 {
		return describeDocument(w, doc, e.result.FromCache)
	}
	m, ok := doc.Method(args[0])
	if !ok {
		return &discovery.NotFoundError{Path: args[0]}
	}
	return describeMethod(w, doc, m)
}

func describeDocument(w io.Writer, doc *discovery.Document, fromCache bool) error {
	fmt.Fprintf(w, "%s %s (%s)\n", doc.Name, doc.Version, doc.Title)
	fmt.Fprintf(w, "Base URL: %s\n", doc.BaseURL)
	if batch := doc.BatchURL(); batch != "" {
		fmt.Fprintf(w, "Batch URL: %s\n", batch)
	}
	if fromCache {
		fmt.Fprintln(w, "Source: cache")
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "METHOD\tHTTP\tPATH")
	for _, m := range doc.AllMethods() {
		name := m.FullName
		if m.Deprecated {
			name += " (deprecated)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, m.HTTPMethod, m.Path)
	}
	return tw.Flush()
}

func describeMethod(w io.Writer, doc *discovery.Document, m *discovery.Method) error {
	fmt.Fprintf(w, "%s: %s %s\n", m.FullName, m.HTTPMethod, m.Path)
	if m.Description != "" {
		fmt.Fprintf(w, "\n%s\n", strings.TrimSpace(m.Description))
	}
	if m.Request != nil {
		fmt.Fprintf(w, "\nRequest: %s\n", schemaName(m.Request))
	}
	if m.Response != nil {
		fmt.Fprintf(w, "Response: %s\n", schemaName(m.Response))
	}
	if m.SupportsMediaUpload {
		fmt.Fprintln(w, "Supports media upload")
	}
	if m.SupportsMediaDownload {
		fmt.Fprintln(w, "Supports media download")
	}
	if len(m.Scopes) > 0 {
		fmt.Fprintf(w, "\nScopes:\n")
		for _, s := range m.Scopes {
			fmt.Fprintf(w, "  %s\n", s)
		}
	}

	if len(m.Parameters) == 0 {
		return nil
	}
	fmt.Fprintf(w, "\nParameters:\n")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  NAME\tTYPE\tIN\tFLAGS\tDESCRIPTION")
	for _, name := range parameterNames(m) {
		p := m.Parameters[name]
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n", name, paramType(p), p.Location, paramFlags(p), firstLine(p.Description))
	}
	return tw.Flush()
}

func parameterNames(m *discovery.Method) []string {
	names := slices.Clone(m.ParameterOrder)
	for _, name := range slices.Sorted(maps.Keys(m.Parameters)) {
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	return names
}

func paramType(p *discovery.Parameter) string {
	t := p.Type
	if p.Format != "" {
		t += "(" + p.Format + ")"
	}
	if p.Repeated {
		t = "[]" + t
	}
	return t
}

func paramFlags(p *discovery.Parameter) string {
	var flags []string
	if p.Required {
		flags = append(flags, "required")
	}
	if len(p.Enum) > 0 {
		flags = append(flags, "enum="+strings.Join(p.Enum, "|"))
	}
	if p.Minimum != "" || p.Maximum != "" {
		flags = append(flags, fmt.Sprintf("range=[%s,%s]", p.Minimum, p.Maximum))
	}
	if p.Default != "" {
		flags = append(flags, "default="+p.Default)
	}
	if p.Deprecated {
		flags = append(flags, "deprecated")
	}
	if len(flags) == 0 {
		return "-"
	}
	return strings.Join(flags, ",")
}

func schemaName(s *discovery.Schema) string {
	if s.Ref != "" {
		return s.Ref
	}
	if s.Type != "" {
		return "inline " + s.Type
	}
	return "inline"
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
