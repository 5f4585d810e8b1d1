// Package report evaluates a trained pipeline on its held-out split and
// writes diagnostic plots and JSON reports. Nothing written here feeds back
// into training.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/telcovision/churn/pkg/config"
	"github.com/telcovision/churn/pkg/errors"
	"github.com/telcovision/churn/pkg/logger"
	"github.com/telcovision/churn/pkg/metrics"
	"github.com/telcovision/churn/pkg/mlmodel"
	"github.com/telcovision/churn/pkg/models"
	"github.com/telcovision/churn/pkg/training"
)

// Report file names under the reports directory.
const (
	ClassificationReportFile = "classification_report.json"
	EvaluationSummaryFile    = "evaluation_summary.json"
)

// errUnsupported marks a diagnostic the model cannot produce.
var errUnsupported = errors.New("not supported by model")

// Reporter regenerates evaluation artifacts for a trained model.
type Reporter struct {
	// Out receives the printed classification report. Nil discards it.
	Out io.Writer
}

// NewReporter returns a reporter printing to out.
func NewReporter(out io.Writer) *Reporter {
	return &Reporter{Out: out}
}

// Result lists what one evaluation produced.
type Result struct {
	ModelPath string         `json:"model_path"`
	TestRows  int            `json:"test_rows"`
	Metrics   models.Metrics `json:"metrics"`
	Written   []string       `json:"written"`
	Skipped   []string       `json:"skipped,omitempty"`
	Warnings  []string       `json:"warnings,omitempty"`
	Duration  time.Duration  `json:"duration"`

	Summary *EvaluationSummary `json:"-"`
}

// EvaluationSummary is the body of evaluation_summary.json.
type EvaluationSummary struct {
	Model           ModelInfo      `json:"model"`
	Dataset         DatasetInfo    `json:"dataset"`
	Metrics         models.Metrics `json:"metrics"`
	ConfusionMatrix MatrixCells    `json:"confusion_matrix"`
}

// ModelInfo describes the evaluated pipeline
type ModelInfo struct {
	Description string           `json:"description"`
	Type        models.ModelType `json:"type"`
	Path        string           `json:"path"`
	Features    int              `json:"features"`
	TrainRows   int              `json:"train_rows"`
	FittedAt    time.Time        `json:"fitted_at"`
}

// DatasetInfo is the class balance of the test split
type DatasetInfo struct {
	TotalSamples    int     `json:"total_samples"`
	ChurnCases      int     `json:"churn_cases"`
	NoChurnCases    int     `json:"no_churn_cases"`
	ChurnPercentage float64 `json:"churn_percentage"`
}

// MatrixCells are the binary confusion matrix counts
type MatrixCells struct {
	TrueNegatives  int `json:"true_negatives"`
	FalsePositives int `json:"false_positives"`
	FalseNegatives int `json:"false_negatives"`
	TruePositives  int `json:"true_positives"`
}

// diagnostic is one output of an evaluation. A failing diagnostic is
// logged and skipped.
type diagnostic struct {
	name string
	path string
	fn   func(path string) error
}

// evaluation carries the shared state of one Run.
type evaluation struct {
	cfg      *config.Config
	pipeline *mlmodel.Pipeline
	data     *training.Data
	pred     *metrics.Predictions
	metrics  models.Metrics
	report   *metrics.ClassificationReport
}

// Run loads the model and processed data, recomputes the training split and
// writes every diagnostic for the test partition.
func (r *Reporter) Run(ctx context.Context, cfg *config.Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logger.Named("report").With(logger.FieldConfig, cfg.Name)
	start := time.Now()

	pipeline, err := mlmodel.Load(cfg.Paths.ModelPath)
	if err != nil {
		return nil, err
	}
	data, err := training.LoadData(cfg)
	if err != nil {
		return nil, err
	}
	if err := checkFeatures(pipeline, data); err != nil {
		return nil, err
	}
	log.Infow("model loaded",
		logger.FieldPath, cfg.Paths.ModelPath,
		logger.FieldModel, pipeline.Type(),
		"test_rows", len(data.XTest),
	)

	pred, err := metrics.Predict(pipeline, data.XTest)
	if err != nil {
		return nil, err
	}
	ev := &evaluation{
		cfg:      cfg,
		pipeline: pipeline,
		data:     data,
		pred:     pred,
		metrics:  metrics.Score(data.YTest, pred),
		report:   metrics.NewClassificationReport(data.YTest, pred.Labels),
	}

	res := &Result{
		ModelPath: cfg.Paths.ModelPath,
		TestRows:  len(data.XTest),
		Metrics:   ev.metrics,
		Summary:   ev.summary(),
	}

	for _, d := range r.diagnostics(ev, res) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		err := d.fn(d.path)
		switch {
		case err == nil:
			res.Written = append(res.Written, d.path)
			log.Debugw("diagnostic written", "diagnostic", d.name, logger.FieldPath, d.path)
		case errors.Is(err, errUnsupported):
			res.Skipped = append(res.Skipped, d.name)
			log.Infow("diagnostic skipped", "diagnostic", d.name, "reason", err.Error())
		default:
			res.Warnings = append(res.Warnings, d.name+": "+err.Error())
			log.Warnw("diagnostic failed, continuing", "diagnostic", d.name, logger.FieldError, err)
		}
	}

	res.Duration = time.Since(start)
	logResult(log, res)
	return res, nil
}

func (r *Reporter) diagnostics(ev *evaluation, res *Result) []diagnostic {
	plots, reports := ev.cfg.Paths.PlotsDir, ev.cfg.Paths.ReportsDir
	return []diagnostic{
		{name: "confusion matrix", path: filepath.Join(plots, ConfusionMatrixPlot), fn: func(path string) error {
			return renderPNG(path, confusionMatrixChart(ev.report))
		}},
		{name: "roc curve", path: filepath.Join(plots, ROCCurvePlot), fn: func(path string) error {
			truth, scores, err := ev.binaryScores()
			if err != nil {
				return err
			}
			roc, err := metrics.ROCCurve(truth, scores)
			if err != nil {
				return err
			}
			return renderPNG(path, rocChart(roc))
		}},
		{name: "precision recall curve", path: filepath.Join(plots, PRCurvePlot), fn: func(path string) error {
			truth, scores, err := ev.binaryScores()
			if err != nil {
				return err
			}
			pr, err := metrics.PrecisionRecallCurve(truth, scores)
			if err != nil {
				return err
			}
			return renderPNG(path, prChart(pr))
		}},
		{name: "feature importance", path: filepath.Join(plots, FeatureImportancePlot), fn: func(path string) error {
			fi, ok := ev.pipeline.FeatureImportances()
			if !ok {
				return errors.Wrapf(errUnsupported, "%s has no feature importances", ev.pipeline.Type())
			}
			if len(fi) == 0 {
				return errors.New("no features to rank")
			}
			return renderPNG(path, featureImportanceChart(fi))
		}},
		{name: "classification report", path: filepath.Join(reports, ClassificationReportFile), fn: func(path string) error {
			if r.Out != nil {
				fmt.Fprintln(r.Out, ev.report.Summary())
			}
			return writeJSON(path, ev.report)
		}},
		{name: "evaluation summary", path: filepath.Join(reports, EvaluationSummaryFile), fn: func(path string) error {
			return writeJSON(path, res.Summary)
		}},
	}
}

// binaryScores returns the positive-class truth and scores for curve plots.
func (ev *evaluation) binaryScores() ([]bool, []float64, error) {
	if ev.pred.Proba == nil {
		return nil, nil, errors.Wrapf(errUnsupported, "%s has no probability estimates", ev.pipeline.Type())
	}
	if len(ev.pred.Classes) != 2 {
		return nil, nil, errors.Wrapf(errUnsupported, "curves need a binary target, got %d classes", len(ev.pred.Classes))
	}
	col := metrics.PositiveColumn(ev.pred.Classes)
	positive := ev.pred.Classes[col]
	truth := make([]bool, len(ev.data.YTest))
	scores := make([]float64, len(ev.data.YTest))
	for i, y := range ev.data.YTest {
		truth[i] = y == positive
		scores[i] = ev.pred.Proba[i][col]
	}
	return truth, scores, nil
}

func (ev *evaluation) summary() *EvaluationSummary {
	p := ev.pipeline
	s := &EvaluationSummary{
		Model: ModelInfo{
			Description: describe(ev.cfg),
			Type:        p.Type(),
			Path:        ev.cfg.Paths.ModelPath,
			Features:    len(p.FeatureNames),
			TrainRows:   p.TrainRows,
			FittedAt:    p.FittedAt,
		},
		Metrics: ev.metrics,
	}

	s.Dataset.TotalSamples = len(ev.data.YTest)
	for _, y := range ev.data.YTest {
		switch y {
		case metrics.PositiveClass:
			s.Dataset.ChurnCases++
		case 0:
			s.Dataset.NoChurnCases++
		}
	}
	if s.Dataset.TotalSamples > 0 {
		s.Dataset.ChurnPercentage = 100 * float64(s.Dataset.ChurnCases) / float64(s.Dataset.TotalSamples)
	}

	tn, fp, fn, tp := metrics.BinaryCells(ev.report.ConfusionMatrix())
	s.ConfusionMatrix = MatrixCells{
		TrueNegatives:  tn,
		FalsePositives: fp,
		FalseNegatives: fn,
		TruePositives:  tp,
	}
	return s
}

func describe(cfg *config.Config) string {
	d := string(cfg.Model.Type)
	if cfg.Source != "" {
		d = fmt.Sprintf("%s (%s)", d, cfg.Name)
	}
	return d
}

// checkFeatures rejects a model trained on a different feature layout.
func checkFeatures(p *mlmodel.Pipeline, d *training.Data) error {
	if len(p.FeatureNames) != len(d.FeatureNames) {
		return errors.WithHint(
			errors.Validationf("model expects %d features, dataset has %d", len(p.FeatureNames), len(d.FeatureNames)),
			"retrain the model on the current processed dataset",
		)
	}
	for i, name := range p.FeatureNames {
		if d.FeatureNames[i] != name {
			return errors.WithHint(
				errors.Validationf("feature %d is %q in the model but %q in the dataset", i, name, d.FeatureNames[i]),
				"retrain the model on the current processed dataset",
			)
		}
	}
	return nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create directory for %s", path)
	}
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return errors.Wrapf(err, "encode %s", filepath.Base(path))
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return nil
}

func logResult(log *zap.SugaredLogger, res *Result) {
	fields := []interface{}{
		"written", len(res.Written),
		"skipped", len(res.Skipped),
		"warnings", len(res.Warnings),
		logger.FieldDurationMS, res.Duration.Milliseconds(),
	}
	for _, name := range models.MetricNames {
		if v, ok := res.Metrics.Get(name); ok {
			fields = append(fields, name, v)
		}
	}
	log.Infow("evaluation complete", fields...)
}
