// Command experiments trains every params file of a directory and writes a
// ranked comparison.
package main

import (
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/telcovision/churn/pkg/cli"
	"github.com/telcovision/churn/pkg/errors"
	"github.com/telcovision/churn/pkg/experiments"
)

func main() {
	var (
		configs, experiment, reportPath, metric string
		ascending, noTracking                   bool
	)

	cmd := cli.NewRoot("experiments", "Run a batch of training experiments", func(cmd *cobra.Command, common *cli.Common) error {
		r := experiments.NewRunner(common.Tracking())
		r.Experiment = experiment
		r.Metric = metric
		r.Ascending = ascending
		r.NoTracking = noTracking

		pterm.DefaultHeader.WithFullWidth().Printfln("Experiments: %s", experiment)
		s, err := r.Run(cmd.Context(), configs)
		if err != nil {
			return err
		}

		csvPath, jsonPath, err := s.WriteReport(reportPath)
		if err != nil {
			return err
		}
		s.Print(os.Stdout)
		pterm.Success.Printfln("comparison written to %s and %s", csvPath, jsonPath)

		if n := s.Failed(); n > 0 {
			pterm.Error.Printfln("%d of %d experiments failed", n, len(s.Rows))
			for _, row := range s.Rows {
				if row.Status == experiments.StatusFailed {
					pterm.Printfln("  %s: %s", row.Config, row.Error)
				}
			}
			return errors.Mark(errors.Newf("%d experiments failed", n), cli.ErrSilent)
		}
		return nil
	})

	flags := cmd.Flags()
	flags.StringVar(&configs, "configs", experiments.DefaultConfigsDir, "Directory of params files")
	flags.StringVar(&experiment, "experiment", experiments.DefaultExperiment, "Experiment every run is logged under")
	flags.StringVar(&reportPath, "report", experiments.DefaultReport, "Comparison CSV path; a JSON copy is written next to it")
	flags.StringVar(&metric, "metric", experiments.DefaultMetric, "Ranking metric")
	flags.BoolVar(&ascending, "ascending", false, "Lower metric values rank first")
	flags.BoolVar(&noTracking, "no-mlflow", false, "Disable experiment tracking")

	cli.Execute(cmd)
}
