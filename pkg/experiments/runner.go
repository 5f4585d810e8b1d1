// Package experiments trains one model per params file in a directory and
// ranks the outcomes.
package experiments

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/telcovision/churn/pkg/config"
	"github.com/telcovision/churn/pkg/errors"
	"github.com/telcovision/churn/pkg/logger"
	"github.com/telcovision/churn/pkg/models"
	"github.com/telcovision/churn/pkg/training"
)

// Defaults for a batch of experiments.
const (
	DefaultConfigsDir = "params_experiments"
	DefaultExperiment = "telcovision_experiments"
	DefaultReport     = "reports/experiments_comparison.csv"
	DefaultMetric     = models.MetricROCAUC
)

// Row status values.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Runner trains every config of a directory through one harness.
type Runner struct {
	Harness *training.Harness
	// Tracking holds the endpoint and credentials shared by every run.
	Tracking config.TrackingSettings
	// Experiment is forced onto every run.
	Experiment string
	NoTracking bool
	Metric     string
	Ascending  bool
}

// NewRunner returns a runner with the default experiment and metric.
func NewRunner(tracking config.TrackingSettings) *Runner {
	return &Runner{
		Harness:    training.NewHarness(),
		Tracking:   tracking,
		Experiment: DefaultExperiment,
		Metric:     DefaultMetric,
	}
}

// ConfigFiles lists the *.yaml files of dir, then the *.yml files, each
// group sorted by name.
func ConfigFiles(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WithHint(
				errors.NotFoundf("configs directory not found: %s", dir),
				"pass --configs or create params_experiments/",
			)
		}
		return nil, errors.Wrapf(err, "stat %s", dir)
	}
	if !info.IsDir() {
		return nil, errors.Validationf("%s is not a directory", dir)
	}

	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, errors.Wrapf(err, "list %s", pattern)
		}
		sort.Strings(matches)
		files = append(files, matches...)
	}
	if len(files) == 0 {
		return nil, errors.WithHint(
			errors.NotFoundf("no .yaml or .yml configs in %s", dir),
			"add one params file per experiment",
		)
	}
	return files, nil
}

// Run trains every config of dir in order. A failing config becomes a
// failed row; only an unusable directory or metric fails the batch.
func (r *Runner) Run(ctx context.Context, dir string) (*Summary, error) {
	metric := r.Metric
	if metric == "" {
		metric = DefaultMetric
	}
	if !knownMetric(metric) {
		return nil, errors.WithHintf(
			errors.Validationf("unknown metric: %s", metric),
			"use one of %v", models.MetricNames,
		)
	}
	files, err := ConfigFiles(dir)
	if err != nil {
		return nil, err
	}

	log := logger.Named("experiments").With(logger.FieldExperiment, r.Experiment)
	log.Infow("running experiments", "configs", len(files), "dir", dir)

	s := &Summary{Experiment: r.Experiment, Metric: metric, Ascending: r.Ascending}
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		log.Infow("experiment started", "index", i+1, "total", len(files), logger.FieldConfig, filepath.Base(path))
		row := r.runOne(ctx, path)
		if row.Status == StatusFailed {
			log.Errorw("experiment failed", logger.FieldConfig, row.Config, logger.FieldError, row.Error)
		}
		s.Rows = append(s.Rows, row)
	}
	s.Rank()

	log.Infow("experiments complete", "total", len(s.Rows), "succeeded", s.Succeeded(), "failed", s.Failed())
	return s, nil
}

func (r *Runner) runOne(ctx context.Context, path string) (row Row) {
	row = Row{Config: filepath.Base(path), Status: StatusFailed}
	start := time.Now()
	defer func() {
		row.DurationMS = time.Since(start).Milliseconds()
	}()

	cfg, err := r.resolve(path)
	if err != nil {
		row.Error = err.Error()
		return row
	}
	row.ModelType = string(cfg.Model.Type)

	h := r.Harness
	if h == nil {
		h = training.NewHarness()
	}
	res, err := h.Run(ctx, cfg)
	if err != nil {
		row.Error = err.Error()
		return row
	}
	row.fill(res)
	return row
}

func (r *Runner) resolve(path string) (*config.Config, error) {
	f, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}
	experiment := r.Experiment
	return config.Resolve(f, r.Tracking, config.Overrides{
		Experiment: &experiment,
		NoTracking: r.NoTracking,
	})
}

func knownMetric(name string) bool {
	for _, m := range models.MetricNames {
		if m == name {
			return true
		}
	}
	return false
}
