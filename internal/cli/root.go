package cli

import (
	"github.com/spf13/cobra"

	"github.com/kolah/disco/internal/config"
)

// Version is overridden at build time with -ldflags "-X".
var Version = "0.1.0"

func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "disco",
		Short: "Call REST APIs described by discovery or OpenAPI documents",
		Long: `disco loads a discovery document (or an OpenAPI 3.x document) from a file,
a URL or a name:version shorthand, and calls the methods it describes.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,

		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	config.BindFlags(root)
	root.AddCommand(
		DescribeCommand(),
		CallCommand(),
		BatchCommand(),
		TokenCommand(),
		GenerateCommand(),
	)

	return root
}
