package cli

import "github.com/spf13/cobra"

func GenerateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate code from a discovery document",
	}

	cmd.PersistentFlags().Bool("dry-run", false, "Print the generated files instead of writing them")
	cmd.AddCommand(NewGoCmd())

	return cmd
}
