package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"godetect/app"
	"godetect/internal/config"
	"godetect/internal/hypothesis"
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           "godetect",
		Short:         "Planet detection and flux estimation on interferometric count data",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newRunCmd(),
		newThresholdCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	var (
		gridSize       int
		pfa            float64
		seed           int64
		scenarioFile   string
		fitsOutput     string
		skipContinuous bool
		diagonalOnly   bool
		truePosition   bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Simulate an observation and run the full detection chain",
		Long: `Simulate one observation with the synthetic interferometer, estimate the
noise covariance, build the template bank and run grid and continuous
maximum-likelihood estimation followed by the energy and Neyman-Pearson tests.

Flags override the environment (GRID_SIZE, PFA, SEED, SCENARIO_FILE, FITS_OUTPUT, ...).

Example: godetect run --grid 15 --pfa 0.01 --scenario scenario.yaml --fits out/run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("grid") {
				cfg.Templates.GridSize = gridSize
			}
			if flags.Changed("pfa") {
				cfg.Testing.Pfa = pfa
			}
			if flags.Changed("seed") {
				cfg.Run.Seed = seed
			}
			if flags.Changed("scenario") {
				cfg.Run.ScenarioFile = scenarioFile
			}
			if flags.Changed("fits") {
				cfg.Run.FITSOutput = fitsOutput
			}
			if flags.Changed("skip-continuous") {
				cfg.Estimation.SkipContinuous = skipContinuous
			}
			if flags.Changed("diagonal-only") {
				cfg.Covariance.DiagonalOnly = diagonalOnly
			}
			if flags.Changed("true-position") {
				cfg.Estimation.UseTruePosition = truePosition
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			_, err = app.RunSynthetic(cmd.Context(), cfg, cmd.OutOrStdout())
			return err
		},
	}

	cmd.Flags().IntVar(&gridSize, "grid", 21, "Template grid points per axis")
	cmd.Flags().Float64Var(&pfa, "pfa", 0.05, "False-alarm probability")
	cmd.Flags().Int64Var(&seed, "seed", 42, "Base seed for deterministic runs")
	cmd.Flags().StringVar(&scenarioFile, "scenario", "", "YAML scenario file (default: built-in scenario)")
	cmd.Flags().StringVar(&fitsOutput, "fits", "", "Path prefix for FITS export of cost maps and spectra")
	cmd.Flags().BoolVar(&skipContinuous, "skip-continuous", false, "Skip the continuous refinement")
	cmd.Flags().BoolVar(&diagonalOnly, "diagonal-only", false, "Keep only the covariance diagonal")
	cmd.Flags().BoolVar(&truePosition, "true-position", false, "Report grid estimates at the injected planet position")

	return cmd
}

func newThresholdCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threshold",
		Short: "Compute decision thresholds and detection probabilities",
	}
	cmd.AddCommand(newNPThresholdCmd(), newEnergyThresholdCmd())
	return cmd
}

func newNPThresholdCmd() *cobra.Command {
	var energy, pfa float64

	cmd := &cobra.Command{
		Use:   "np",
		Short: "Neyman-Pearson threshold for a known model energy m·m",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			xi, err := hypothesis.NeymanPearsonThreshold(energy, pfa)
			if err != nil {
				return err
			}
			pd := hypothesis.NeymanPearsonDetectionProbability(energy, xi)
			fmt.Fprintf(cmd.OutOrStdout(), "energy=%g pfa=%g threshold=%.6g pd=%.6g\n", energy, pfa, xi, pd)
			return nil
		},
	}

	cmd.Flags().Float64Var(&energy, "energy", 100, "Model energy m·m")
	cmd.Flags().Float64Var(&pfa, "pfa", 0.05, "False-alarm probability")
	return cmd
}

func newEnergyThresholdCmd() *cobra.Command {
	var (
		n            int
		pfa          float64
		signalEnergy float64
	)

	cmd := &cobra.Command{
		Use:   "energy",
		Short: "Energy detector threshold for n samples",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			xi, err := hypothesis.EnergyThreshold(n, pfa)
			if err != nil {
				return err
			}
			pd, err := hypothesis.EnergyDetectionProbability(n, pfa, signalEnergy)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "n=%d pfa=%g threshold=%.6g pd(%g)=%.6g\n", n, pfa, xi, signalEnergy, pd)
			return nil
		},
	}

	cmd.Flags().IntVar(&n, "n", 100, "Number of samples")
	cmd.Flags().Float64Var(&pfa, "pfa", 0.05, "False-alarm probability")
	cmd.Flags().Float64Var(&signalEnergy, "signal-energy", 0, "Signal energy for the detection probability")
	return cmd
}
