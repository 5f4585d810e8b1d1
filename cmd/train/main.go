// Command train fits one churn model from a params file and logs the run.
package main

import (
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/telcovision/churn/pkg/cli"
	"github.com/telcovision/churn/pkg/config"
	"github.com/telcovision/churn/pkg/training"
)

func main() {
	var (
		params, input, out, metricsPath string
		target, modelType               string
		testSize                        float64
		randomState                     int64
		noTracking                      bool
	)

	cmd := cli.NewRoot("train", "Train a churn classifier", func(cmd *cobra.Command, common *cli.Common) error {
		f, err := cli.LoadParams(cmd, params)
		if err != nil {
			return err
		}
		cfg, err := config.Resolve(f, common.Tracking(), config.Overrides{
			ProcessedData: cli.String(cmd, "input", input),
			ModelPath:     cli.String(cmd, "out", out),
			MetricsPath:   cli.String(cmd, "metrics", metricsPath),
			Target:        cli.String(cmd, "target", target),
			TestSize:      cli.Float64(cmd, "test-size", testSize),
			RandomState:   cli.Int64(cmd, "random-state", randomState),
			ModelType:     cli.String(cmd, "model-type", modelType),
			NoTracking:    noTracking,
		})
		if err != nil {
			return err
		}

		res, err := training.NewHarness().Run(cmd.Context(), cfg)
		if err != nil {
			return err
		}

		pterm.DefaultSection.Printfln("%s (%s)", cfg.Name, res.ModelType)
		cli.PrintMetrics(os.Stdout, res.Metrics)
		pterm.Printfln("train rows: %d  test rows: %d", res.TrainRows, res.TestRows)
		pterm.Success.Printfln("model saved to %s", res.ModelPath)
		pterm.Success.Printfln("metrics saved to %s", res.MetricsPath)
		if res.Tracked() {
			pterm.Info.Printfln("run %s logged to experiment %s", res.RunID, cfg.Tracking.Experiment)
		}
		if res.Registered != nil {
			pterm.Info.Printfln("registered %s version %s", res.Registered.Name, res.Registered.Version)
		}
		for _, w := range res.Warnings {
			pterm.Warning.Println(w)
		}
		return nil
	})

	flags := cmd.Flags()
	flags.StringVar(&params, "params", config.DefaultParamsFile, "Params file")
	flags.StringVar(&input, "input", config.DefaultProcessedData, "Processed CSV")
	flags.StringVar(&out, "out", config.DefaultModelPath, "Model output path")
	flags.StringVar(&metricsPath, "metrics", config.DefaultMetricsPath, "Metrics JSON output path")
	flags.StringVar(&target, "target", config.DefaultTarget, "Target column")
	flags.Float64Var(&testSize, "test-size", config.DefaultTestSize, "Test split fraction")
	flags.Int64Var(&randomState, "random-state", config.DefaultRandomState, "Split and model seed")
	flags.StringVar(&modelType, "model-type", "", "RandomForest or LogisticRegression")
	flags.BoolVar(&noTracking, "no-mlflow", false, "Disable experiment tracking")

	cli.Execute(cmd)
}
