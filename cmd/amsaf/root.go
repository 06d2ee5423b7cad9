package main

import (
	"github.com/spf13/cobra"

	"amsaf/internal/output"
)

// globalFlags are shared by every subcommand
type globalFlags struct {
	config  string
	verbose bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "amsaf",
		Short: "Atlas-based segmentation propagation",
		Long: `amsaf registers an annotated image onto an unannotated one in rigid,
affine and deformable stages and carries the annotation along.

Configuration is read from a YAML file (--config), AMSAF_* environment
variables and command flags, in increasing order of precedence.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			output.SetupLogging(flags.verbose)
			output.Debug("amsaf started", "version", version)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&flags.config, "config", "c", "", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging and engine console output")

	rootCmd.AddCommand(newRunCmd(flags))
	rootCmd.AddCommand(newParamsCmd())
	rootCmd.AddCommand(newInitCmd(flags))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}
