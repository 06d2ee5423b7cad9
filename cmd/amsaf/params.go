package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	aerrors "amsaf/internal/errors"
	"amsaf/pkg/parammap"
)

func newParamsCmd() *cobra.Command {
	var dir string

	paramsCmd := &cobra.Command{
		Use:   "params [stage...]",
		Short: "Print or write the default stage parameter maps",
		Long: `Print the default rigid, affine and bspline parameter maps in elastix
parameter-file syntax. Name stages to print only those.

With --dir, each map is written to <dir>/<stage>.txt instead; the files can
be edited and passed back to "amsaf run --param".`,
		ValidArgs: parammap.StageNames[:],
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = parammap.StageNames[:]
			}

			for _, name := range args {
				m, ok := parammap.StageByName(name)
				if !ok {
					return aerrors.NewConfigurationError(
						fmt.Sprintf("unknown stage %q", name), "stage", "use rigid, affine or bspline")
				}

				if dir == "" {
					fmt.Fprintf(cmd.OutOrStdout(), "// %s\n", name)
					if err := parammap.Encode(cmd.OutOrStdout(), m); err != nil {
						return err
					}
					continue
				}

				if err := os.MkdirAll(dir, 0755); err != nil {
					return aerrors.NewIOError(dir, err)
				}
				path := filepath.Join(dir, name+".txt")
				if err := parammap.WriteFile(path, m); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			}
			return nil
		},
	}

	paramsCmd.Flags().StringVarP(&dir, "dir", "d", "", "write the maps into this directory")

	return paramsCmd
}
