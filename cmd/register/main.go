// Command register promotes the best tracked run, or an explicit one, into
// the model registry.
package main

import (
	"sort"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/telcovision/churn/pkg/cli"
	"github.com/telcovision/churn/pkg/config"
	"github.com/telcovision/churn/pkg/errors"
	"github.com/telcovision/churn/pkg/experiments"
	"github.com/telcovision/churn/pkg/registry"
	"github.com/telcovision/churn/pkg/tracking"
)

func main() {
	var (
		experiment, metric, modelName, artifactPath, runID string
		ascending                                          bool
	)

	cmd := cli.NewRoot("register", "Register the best model of an experiment", func(cmd *cobra.Command, common *cli.Common) error {
		ctx := cmd.Context()
		settings := common.Tracking()
		client, err := tracking.Connect(ctx, settings)
		if err != nil {
			return errors.WithHintf(err, "check %s (currently %q)", config.EnvTrackingURI, settings.URI)
		}
		defer client.Close()

		p := registry.NewPromoter(client)
		p.ArtifactPath = artifactPath

		var out *registry.Outcome
		if runID != "" {
			out, err = p.PromoteRun(ctx, runID, modelName)
		} else {
			dir := registry.Descending
			if ascending {
				dir = registry.Ascending
			}
			out, err = p.PromoteBest(ctx, experiment, metric, dir, modelName)
		}
		if err != nil {
			return err
		}

		if !out.Registered() {
			pterm.Error.Println(out.Reason)
			pterm.Info.Println("run experiments first or check --experiment and --metric")
			return errors.Mark(errors.NotFoundf("%s", out.Reason), cli.ErrSilent)
		}

		if out.Value != nil {
			pterm.Info.Printfln("best run %s (%s = %.4f)", out.RunID, out.Metric, *out.Value)
			keys := make([]string, 0, len(out.Params))
			for k := range out.Params {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				pterm.Printfln("  %s: %s", k, out.Params[k])
			}
		}
		pterm.Success.Printfln("registered %s version %s from %s", out.Version.Name, out.Version.Version, out.Version.Source)
		return nil
	})

	flags := cmd.Flags()
	flags.StringVar(&experiment, "experiment", experiments.DefaultExperiment, "Experiment to search")
	flags.StringVar(&metric, "metric", registry.DefaultMetric, "Ranking metric (with or without the metrics. prefix)")
	flags.BoolVar(&ascending, "ascending", false, "Lower metric values rank first")
	flags.StringVar(&modelName, "model-name", config.DefaultRegisteredName, "Registered model name")
	flags.StringVar(&artifactPath, "artifact-path", registry.DefaultArtifactPath, "Artifact path of the model inside the run")
	flags.StringVar(&runID, "run-id", "", "Register this run instead of searching")

	cli.Execute(cmd)
}
