package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kolah/disco/internal/codegen"
)

func NewGoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "go",
		Short: "Generate typed Go wrappers",
	}

	flags := cmd.PersistentFlags()
	flags.StringP("output-dir", "o", "", "Output directory for generated Go code")
	flags.StringP("package", "p", "", "Go package name")
	flags.String("templates-dir", "", "Directory of templates overriding the built-in ones")
	flags.StringSlice("additional-initialisms", nil, "Additional initialisms")

	cmd.AddCommand(
		newGoTypesCmd(),
		newGoClientCmd(),
		newGoDocumentCmd(),
		newGoAllCmd(),
	)

	return cmd
}

func newGoTypesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "Generate Go types for the document's schemas",
		Args:  cobra.NoArgs,
		RunE:  runGoGenerate(codegen.TargetTypes),
	}
}

func newGoClientCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "client",
		Short: "Generate a typed wrapper with one function per method",
		Args:  cobra.NoArgs,
		RunE:  runGoGenerate(codegen.TargetClient),
	}
}

func newGoDocumentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "document",
		Short: "Embed the document in the package with a Document() loader",
		Args:  cobra.NoArgs,
		RunE:  runGoGenerate(codegen.TargetDocument),
	}
}

func newGoAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Generate all Go targets (types, client, document)",
		Args:  cobra.NoArgs,
		RunE:  runGoGenerate("all"),
	}
}

func runGoGenerate(target string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		cfg := e.cfg
		if err := cfg.ValidateGenerate(); err != nil {
			return err
		}

		doc := e.result.Document
		cmd.PrintErrf("Loaded %s %s: %s\n", e.result.Format, doc.ID, doc.Title)
		cmd.PrintErrf("  Schemas: %d\n", len(doc.Schemas))
		cmd.PrintErrf("  Methods: %d\n", len(doc.MethodNames()))

		gen, err := codegen.New(&cfg.Generate)
		if err != nil {
			return fmt.Errorf("creating generator: %w", err)
		}

		outputs, err := gen.Generate(doc, expandTargets(target))
		if err != nil {
			return fmt.Errorf("generating code: %w", err)
		}

		dryRun, _ := cmd.Flags().GetBool("dry-run")
		if dryRun {
			for _, out := range outputs {
				fmt.Fprintf(cmd.OutOrStdout(), "// %s\n%s\n", out.Filename, out.Content)
			}
			return nil
		}

		if err := os.MkdirAll(cfg.Generate.OutputDir, 0755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}

		for _, out := range outputs {
			path := filepath.Join(cfg.Generate.OutputDir, out.Filename)
			if err := os.WriteFile(path, []byte(out.Content), 0644); err != nil {
				return fmt.Errorf("writing %s: %w", path, err)
			}
			cmd.PrintErrf("Written: %s\n", path)
		}

		return nil
	}
}

func expandTargets(target string) []string {
	if target == "all" {
		return codegen.Targets
	}
	return []string{target}
}
