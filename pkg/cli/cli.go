// Package cli holds the flag and error plumbing shared by the churn
// binaries.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/telcovision/churn/pkg/config"
	"github.com/telcovision/churn/pkg/errors"
	"github.com/telcovision/churn/pkg/logger"
	"github.com/telcovision/churn/pkg/models"
)

// DefaultEnvFile is the dotenv file read for tracking settings.
const DefaultEnvFile = ".env"

// ErrSilent marks a failure the command already reported. Execute exits 1
// without printing it again.
var ErrSilent = errors.New("command failed")

// Common holds the persistent flags of every binary.
type Common struct {
	LogJSON  bool
	LogLevel string
	EnvFile  string
}

// NewRoot builds a cobra root command with logging and env file flags.
func NewRoot(use, short string, run func(cmd *cobra.Command, common *Common) error) *cobra.Command {
	common := &Common{}
	cmd := &cobra.Command{
		Use:           use,
		Short:         short,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := logger.Initialize(common.LogJSON, common.LogLevel); err != nil {
				return errors.Wrap(err, "initialize logger")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, common)
		},
	}
	flags := cmd.PersistentFlags()
	flags.BoolVar(&common.LogJSON, "log-json", false, "Write logs as JSON")
	flags.StringVar(&common.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.StringVar(&common.EnvFile, "env-file", DefaultEnvFile, "Dotenv file with MLFLOW_* settings")
	return cmd
}

// Tracking reads tracking settings from the environment and the env file.
func (c *Common) Tracking() config.TrackingSettings {
	return config.LoadTrackingSettings(c.EnvFile)
}

// Execute runs cmd until completion or an interrupt and exits 1 on error.
func Execute(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.ExecuteContext(ctx)
	stop()
	logger.Sync()
	if err != nil {
		if !errors.Is(err, ErrSilent) {
			PrintError(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// PrintError writes err and its hints.
func PrintError(w io.Writer, err error) {
	fmt.Fprint(w, pterm.Error.Sprintln(err.Error()))
	if hints := errors.FlattenHints(err); hints != "" {
		for _, h := range strings.Split(hints, "\n") {
			if h = strings.TrimSpace(h); h != "" {
				fmt.Fprintln(w, pterm.Yellow("hint: "+h))
			}
		}
	}
}

// LoadParams loads the params file. The default file may be absent; an
// explicitly passed one must exist.
func LoadParams(cmd *cobra.Command, path string) (*config.File, error) {
	if cmd.Flags().Changed("params") {
		return config.LoadFile(path)
	}
	return config.LoadFileOrDefault(path)
}

// String returns &v when the flag was set on the command line.
func String(cmd *cobra.Command, name string, v string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &v
}

// Float64 returns &v when the flag was set on the command line.
func Float64(cmd *cobra.Command, name string, v float64) *float64 {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &v
}

// Int64 returns &v when the flag was set on the command line.
func Int64(cmd *cobra.Command, name string, v int64) *int64 {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &v
}

// PrintMetrics renders headline metrics as a two column table. A missing
// ROC-AUC shows as "n/a".
func PrintMetrics(w io.Writer, m models.Metrics) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"metric", "value"})
	table.SetAutoFormatHeaders(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, name := range models.MetricNames {
		value := "n/a"
		if v, ok := m.Get(name); ok {
			value = fmt.Sprintf("%.4f", v)
		}
		table.Append([]string{name, value})
	}
	table.Render()
}
