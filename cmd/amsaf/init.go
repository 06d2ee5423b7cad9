package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	aerrors "amsaf/internal/errors"
	"amsaf/pkg/config"
)

const defaultConfigFile = "amsaf.yaml"

func newInitCmd(global *globalFlags) *cobra.Command {
	var force bool

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file with default values",
		Long: `Create a configuration file with default values at the --config path,
or amsaf.yaml in the working directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := global.config
			if path == "" {
				path = defaultConfigFile
			}

			if _, err := os.Stat(path); err == nil && !force {
				return aerrors.NewConfigurationError(
					fmt.Sprintf("config file already exists at %s", path), "", "use --force to overwrite")
			}

			if err := config.CreateDefaultConfigFile(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config file created: %s\n", path)
			return nil
		},
	}

	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing config file")

	return initCmd
}
