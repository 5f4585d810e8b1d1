// Command evaluate reloads a trained model and writes diagnostic plots and
// reports for the held-out split.
package main

import (
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/telcovision/churn/pkg/cli"
	"github.com/telcovision/churn/pkg/config"
	"github.com/telcovision/churn/pkg/report"
)

func main() {
	var params, model, input, plotsDir, reportsDir string

	cmd := cli.NewRoot("evaluate", "Evaluate a trained churn model", func(cmd *cobra.Command, common *cli.Common) error {
		f, err := cli.LoadParams(cmd, params)
		if err != nil {
			return err
		}
		cfg, err := config.Resolve(f, config.TrackingSettings{}, config.Overrides{
			ModelPath:     cli.String(cmd, "model", model),
			ProcessedData: cli.String(cmd, "input", input),
			PlotsDir:      cli.String(cmd, "plots-dir", plotsDir),
			ReportsDir:    cli.String(cmd, "reports-dir", reportsDir),
			NoTracking:    true,
		})
		if err != nil {
			return err
		}

		res, err := report.NewReporter(os.Stdout).Run(cmd.Context(), cfg)
		if err != nil {
			return err
		}

		pterm.DefaultSection.Println("Metrics")
		cli.PrintMetrics(os.Stdout, res.Metrics)
		for _, path := range res.Written {
			pterm.Success.Printfln("wrote %s", path)
		}
		for _, name := range res.Skipped {
			pterm.Info.Printfln("skipped %s", name)
		}
		for _, w := range res.Warnings {
			pterm.Warning.Println(w)
		}
		return nil
	})

	flags := cmd.Flags()
	flags.StringVar(&params, "params", config.DefaultParamsFile, "Params file")
	flags.StringVar(&model, "model", config.DefaultModelPath, "Trained model")
	flags.StringVar(&input, "input", config.DefaultProcessedData, "Processed CSV")
	flags.StringVar(&plotsDir, "plots-dir", config.DefaultPlotsDir, "Plot output directory")
	flags.StringVar(&reportsDir, "reports-dir", config.DefaultReportsDir, "Report output directory")

	cli.Execute(cmd)
}
