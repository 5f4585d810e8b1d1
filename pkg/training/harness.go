// Package training runs one training invocation end to end: load the
// processed data, split, fit, evaluate, persist and optionally track.
package training

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/telcovision/churn/pkg/config"
	"github.com/telcovision/churn/pkg/dataset"
	"github.com/telcovision/churn/pkg/errors"
	"github.com/telcovision/churn/pkg/logger"
	"github.com/telcovision/churn/pkg/metrics"
	"github.com/telcovision/churn/pkg/mlmodel"
	"github.com/telcovision/churn/pkg/models"
	"github.com/telcovision/churn/pkg/tracking"
)

// Artifact paths under a tracked run.
const (
	ModelArtifactPath   = "model"
	MetricsArtifactPath = "metrics"
)

// Opener connects to the tracking backend for a resolved configuration.
type Opener func(ctx context.Context, t config.Tracking) (tracking.Client, error)

// Harness trains pipelines from resolved configurations.
type Harness struct {
	// Open connects to tracking. Defaults to tracking.Connect on the
	// configured URI and credentials.
	Open Opener
}

// NewHarness returns a harness that tracks through the configured backend.
func NewHarness() *Harness {
	return &Harness{Open: connect}
}

func connect(ctx context.Context, t config.Tracking) (tracking.Client, error) {
	return tracking.Connect(ctx, config.TrackingSettings{
		URI:      t.URI,
		Username: t.Username,
		Password: t.Password,
	})
}

// Result is the outcome of one training invocation.
type Result struct {
	Config      string               `json:"config"`
	ModelType   models.ModelType     `json:"model_type"`
	RunID       string               `json:"run_id,omitempty"`
	Metrics     models.Metrics       `json:"metrics"`
	ModelPath   string               `json:"model_path"`
	MetricsPath string               `json:"metrics_path"`
	TrainRows   int                  `json:"train_rows"`
	TestRows    int                  `json:"test_rows"`
	Duration    time.Duration        `json:"duration"`
	Registered  *models.ModelVersion `json:"registered,omitempty"`
	Warnings    []string             `json:"warnings,omitempty"`

	Pipeline *mlmodel.Pipeline `json:"-"`
	Data     *Data             `json:"-"`

	tracked *tracking.Session
}

// Tracked reports whether the run was logged to a tracking backend.
func (r *Result) Tracked() bool {
	return r.RunID != ""
}

// Data is the processed dataset split the way training splits it.
type Data struct {
	FeatureNames []string
	XTrain       [][]float64
	YTrain       []int
	XTest        [][]float64
	YTest        []int
}

// LoadData reads the processed dataset and reproduces the configured split.
func LoadData(cfg *config.Config) (*Data, error) {
	table, err := dataset.ReadCSVFile(cfg.Paths.ProcessedData)
	if err != nil {
		return nil, errors.WithHint(err, "run prepare first or pass --input")
	}
	X, y, names, err := table.Features(cfg.Target)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", cfg.Paths.ProcessedData)
	}
	split, err := StratifiedSplit(y, cfg.Split.TestSize, cfg.Split.RandomState)
	if err != nil {
		return nil, err
	}
	d := &Data{FeatureNames: names}
	d.XTrain, d.YTrain = Select(X, y, split.Train)
	d.XTest, d.YTest = Select(X, y, split.Test)
	return d, nil
}

// sideEffect is a best-effort step whose failure is reported as a warning
// and never fails the run.
type sideEffect struct {
	name string
	fn   func(ctx context.Context) error
}

func (r *Result) apply(ctx context.Context, log *zap.SugaredLogger, effects ...sideEffect) {
	for _, e := range effects {
		if err := e.fn(ctx); err != nil {
			log.Warnw("step failed, continuing", "step", e.name, logger.FieldError, err)
			r.Warnings = append(r.Warnings, e.name+": "+err.Error())
		}
	}
}

// Run trains one pipeline as configured.
func (h *Harness) Run(ctx context.Context, cfg *config.Config) (res *Result, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logger.Named("training").With(logger.FieldConfig, cfg.Name)
	start := time.Now()

	data, err := LoadData(cfg)
	if err != nil {
		return nil, err
	}
	log.Infow("dataset split",
		logger.FieldPath, cfg.Paths.ProcessedData,
		"train_rows", len(data.XTrain),
		"test_rows", len(data.XTest),
		"features", len(data.FeatureNames),
	)

	res = &Result{
		Config:      cfg.Name,
		ModelType:   cfg.Model.Type,
		ModelPath:   cfg.Paths.ModelPath,
		MetricsPath: cfg.Paths.MetricsPath,
		TrainRows:   len(data.XTrain),
		TestRows:    len(data.XTest),
		Data:        data,
	}

	h.startTracking(ctx, cfg, res, log)
	if res.tracked != nil {
		defer func() {
			if endErr := res.tracked.End(ctx, err); endErr != nil {
				log.Warnw("failed to end run", logger.FieldRunID, res.RunID, logger.FieldError, endErr)
			}
			_ = res.tracked.Client().Close()
		}()
	}

	pipeline, err := mlmodel.NewPipeline(cfg.Model)
	if err != nil {
		return nil, err
	}
	if err := pipeline.Fit(data.XTrain, data.YTrain, data.FeatureNames, cfg.Target); err != nil {
		return nil, err
	}
	log.Infow("pipeline fitted", logger.FieldModel, cfg.Model.Type, "train_rows", len(data.XTrain))

	m, err := metrics.Evaluate(pipeline, data.XTest, data.YTest)
	if err != nil {
		return nil, errors.Wrap(err, "evaluate")
	}
	res.Metrics = m
	res.Pipeline = pipeline

	if err := pipeline.Save(cfg.Paths.ModelPath); err != nil {
		return nil, err
	}
	if err := writeMetrics(cfg.Paths.MetricsPath, m); err != nil {
		return nil, err
	}

	if res.tracked != nil {
		res.apply(ctx, log, h.trackingEffects(cfg, res)...)
	}

	res.Duration = time.Since(start)
	fields := []interface{}{
		logger.FieldModel, cfg.Model.Type,
		logger.FieldDurationMS, res.Duration.Milliseconds(),
	}
	for _, name := range models.MetricNames {
		if v, ok := m.Get(name); ok {
			fields = append(fields, name, v)
		}
	}
	log.Infow("training complete", fields...)
	return res, nil
}

// startTracking opens a run when tracking is enabled. Any failure leaves
// the result untracked and is recorded as a warning.
func (h *Harness) startTracking(ctx context.Context, cfg *config.Config, res *Result, log *zap.SugaredLogger) {
	if !cfg.Tracking.Enabled {
		log.Debugw("tracking disabled")
		return
	}
	open := h.Open
	if open == nil {
		open = connect
	}
	res.apply(ctx, log, sideEffect{name: "start tracking", fn: func(ctx context.Context) error {
		client, err := open(ctx, cfg.Tracking)
		if err != nil {
			return err
		}
		tags := map[string]string{"source": "train", logger.FieldConfig: cfg.Name}
		sess, err := tracking.StartRun(ctx, client, cfg.Tracking.Experiment, cfg.Name, tags)
		if err != nil {
			_ = client.Close()
			return err
		}
		res.tracked = sess
		res.RunID = sess.RunID()
		return nil
	}})
}

func (h *Harness) trackingEffects(cfg *config.Config, res *Result) []sideEffect {
	sess := res.tracked
	effects := []sideEffect{
		{name: "log params", fn: func(ctx context.Context) error {
			return sess.LogParams(ctx, cfg.RunParams())
		}},
		{name: "log metrics", fn: func(ctx context.Context) error {
			return sess.LogMetrics(ctx, res.Metrics)
		}},
		{name: "log model artifact", fn: func(ctx context.Context) error {
			return sess.LogArtifact(ctx, cfg.Paths.ModelPath, ModelArtifactPath)
		}},
		{name: "log metrics artifact", fn: func(ctx context.Context) error {
			return sess.LogArtifact(ctx, cfg.Paths.MetricsPath, MetricsArtifactPath)
		}},
	}
	if cfg.Tracking.AutoRegister && cfg.Tracking.RegisterAs != "" {
		effects = append(effects, sideEffect{name: "register model", fn: func(ctx context.Context) error {
			mv, err := sess.Client().CreateModelVersion(ctx,
				cfg.Tracking.RegisterAs, tracking.RunURI(sess.RunID(), ModelArtifactPath), sess.RunID())
			if err != nil {
				return errors.ExternalService(err, "register model")
			}
			res.Registered = mv
			return nil
		}})
	}
	return effects
}

func writeMetrics(path string, m models.Metrics) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create directory for %s", path)
	}
	data, err := m.MarshalIndent()
	if err != nil {
		return errors.Wrap(err, "encode metrics")
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return nil
}
