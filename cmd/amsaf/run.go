package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"amsaf/pkg/config"
	"amsaf/pkg/evaluation"
)

type runFlags struct {
	unsegmented    string
	segmented      string
	segmentation   string
	reference      string
	out            string
	engine         string
	parameterFiles []string
	searchRadius   int
	noAutoInit     bool
	previews       bool
}

func newRunCmd(global *globalFlags) *cobra.Command {
	flags := &runFlags{}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Propagate a segmentation onto an unsegmented image",
		Long: `Register the segmented image onto the unsegmented one, apply the fitted
transforms to the segmentation with nearest-neighbor interpolation and write
seg.nii, the transforms and a run.yaml manifest into the output directory.

When a reference segmentation is given, the per-label Dice overlap with the
result is reported.`,
		Example: `  amsaf run --unsegmented target.nii.gz --segmented atlas.nii.gz \
    --segmentation atlas-seg.nii.gz --out result`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewLoader().Load(global.config)
			if err != nil {
				return err
			}
			applyRunFlags(cmd, flags, cfg)
			if global.verbose {
				cfg.Output.Verbose = true
			}

			manifest, err := evaluation.RunConfig(cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run %s\n", manifest.RunID)
			fmt.Fprintf(out, "Segmentation written to %s\n", cfg.Output.Dir)
			fmt.Fprintf(out, "Labels: %v\n", manifest.Labels)
			for _, o := range manifest.Overlap {
				fmt.Fprintf(out, "  label %g: Dice %.4f\n", o.Label, o.Dice)
			}
			if len(manifest.Overlap) > 0 {
				fmt.Fprintf(out, "Mean Dice: %.4f\n", manifest.MeanDice)
			}
			return nil
		},
	}

	f := runCmd.Flags()
	f.StringVar(&flags.unsegmented, "unsegmented", "", "image to segment (env: AMSAF_UNSEGMENTED_IMAGE)")
	f.StringVar(&flags.segmented, "segmented", "", "image the segmentation was drawn on (env: AMSAF_SEGMENTED_IMAGE)")
	f.StringVar(&flags.segmentation, "segmentation", "", "label image on the grid of --segmented (env: AMSAF_SEGMENTATION)")
	f.StringVar(&flags.reference, "reference", "", "ground truth labels on the grid of --unsegmented")
	f.StringVarP(&flags.out, "out", "o", "", "output directory (env: AMSAF_OUTPUT_DIR)")
	f.StringVar(&flags.engine, "engine", "", "registration engine: elastix or native (env: AMSAF_ENGINE)")
	f.StringSliceVarP(&flags.parameterFiles, "param", "p", nil, "elastix parameter file per stage, in order")
	f.IntVar(&flags.searchRadius, "search-radius", 0, "translation search radius of the native engine, in voxels")
	f.BoolVar(&flags.noAutoInit, "no-auto-init", false, "do not let the engine initialize the stages")
	f.BoolVar(&flags.previews, "previews", false, "write JPEG previews of the result")

	return runCmd
}

// applyRunFlags overrides cfg with the flags given on the command line
func applyRunFlags(cmd *cobra.Command, flags *runFlags, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("unsegmented") {
		cfg.Inputs.UnsegmentedImage = flags.unsegmented
	}
	if changed("segmented") {
		cfg.Inputs.SegmentedImage = flags.segmented
	}
	if changed("segmentation") {
		cfg.Inputs.Segmentation = flags.segmentation
	}
	if changed("reference") {
		cfg.Inputs.Reference = flags.reference
	}
	if changed("out") {
		cfg.Output.Dir = flags.out
	}
	if changed("engine") {
		cfg.Registration.Engine = flags.engine
	}
	if changed("param") {
		cfg.Registration.ParameterFiles = flags.parameterFiles
	}
	if changed("search-radius") {
		cfg.Registration.SearchRadius = flags.searchRadius
	}
	if changed("no-auto-init") {
		cfg.Registration.AutoInit = !flags.noAutoInit
	}
	if changed("previews") {
		cfg.Output.Previews = flags.previews
	}
}
