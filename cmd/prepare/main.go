// Command prepare turns the raw churn CSV into the processed, model-ready CSV.
package main

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/telcovision/churn/pkg/cli"
	"github.com/telcovision/churn/pkg/config"
	"github.com/telcovision/churn/pkg/preprocess"
)

func main() {
	var params, input, out string

	cmd := cli.NewRoot("prepare", "Clean and one-hot encode the raw churn dataset", func(cmd *cobra.Command, common *cli.Common) error {
		f, err := cli.LoadParams(cmd, params)
		if err != nil {
			return err
		}
		cfg, err := config.Resolve(f, config.TrackingSettings{}, config.Overrides{
			RawData:       cli.String(cmd, "input", input),
			ProcessedData: cli.String(cmd, "out", out),
			NoTracking:    true,
		})
		if err != nil {
			return err
		}

		s, err := preprocess.TransformFile(cfg.Paths.RawData, cfg.Paths.ProcessedData)
		if err != nil {
			return err
		}
		pterm.Success.Printfln("processed dataset written to %s", s.Output)
		pterm.Printfln("rows: %d  columns: %d -> %d  churn rate: %.2f%%",
			s.Rows, s.RawColumns, s.Columns, s.ChurnRate*100)
		return nil
	})

	flags := cmd.Flags()
	flags.StringVar(&params, "params", config.DefaultParamsFile, "Params file")
	flags.StringVar(&input, "input", config.DefaultRawData, "Raw CSV")
	flags.StringVar(&out, "out", config.DefaultProcessedData, "Processed CSV (default from paths.processed_data)")

	cli.Execute(cmd)
}
