package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mecombine/pkg/combination"
	"mecombine/pkg/config"
)

var (
	outputName  string
	algorithm   string
	weights     []float64
	saveWeights bool
	volumes     int
	configPath  string
	verbose     bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "mecombine <pattern>",
	Short: "Combine multi-echo echoes from an fMRI acquisition",
	Long: `Combine multi-echo echoes.

Tools to combine multiple echoes from an fMRI acquisition.
It expects input files saved as NIfTIs, preferably organised
according to the BIDS standard.

Currently three different combination algorithms are supported, implementing
the following weighting schemes:

1. PAID => TE * SNR
2. TE => TE
3. Simple Average => 1`,
	Example: `  mecombine 'bids/sub-001/func/*_task-motor_*echo-*.nii.gz'
  mecombine 'bids/sub-001/func/*_task-rest_*echo-*.nii.gz' -a PAID
  mecombine 'bids/sub-001/func/*_acq-MBME_*run-01*.nii.gz' -w 11,22,33 -o sub-001_task-stroop_acq-mecombined_run-01_bold.nii.gz`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}

		// Config supplies defaults; explicit flags win.
		if !cmd.Flags().Changed("algorithm") {
			algorithm = cfg.Combine.Algorithm
		}
		if !cmd.Flags().Changed("volumes") {
			volumes = cfg.Combine.Volumes
		}
		if !cmd.Flags().Changed("saveweights") {
			saveWeights = cfg.Combine.SaveWeights
		}
		if !cmd.Flags().Changed("verbose") {
			verbose = cfg.Output.Verbose
		}

		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		params := &combination.Params{
			Pattern:     args[0],
			OutputName:  outputName,
			Algorithm:   combination.Algorithm(algorithm),
			Weights:     weights,
			SaveWeights: saveWeights,
			Volumes:     volumes,
		}
		if err := combination.NewCombiner(params, logger).Process(); err != nil {
			logger.Error("combination failed", zap.Error(err))
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVarP(&outputName, "outputname", "o", "",
		"File output name. If not a fullpath name, then the output will be stored in the same folder as the input. If empty, the output filename will be the filename of the first echo appended with a '_combined' suffix")
	rootCmd.Flags().StringVarP(&algorithm, "algorithm", "a", "TE",
		"Combination algorithm: PAID, TE or average")
	rootCmd.Flags().Float64SliceVarP(&weights, "weights", "w", nil,
		"Weights (e.g. = echo times) for all echoes")
	rootCmd.Flags().BoolVarP(&saveWeights, "saveweights", "s", false,
		"If passed and algorithm is PAID, save weights")
	rootCmd.Flags().IntVarP(&volumes, "volumes", "v", 100,
		"Number of volumes that is used to compute the weights if algorithm is PAID")
	rootCmd.Flags().StringVar(&configPath, "config", "mecombine.yaml",
		"Path to an optional YAML file with default settings")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false,
		"Enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(combination.ExitCode(err))
	}
}
