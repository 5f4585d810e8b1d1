package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telcovision/churn/pkg/config"
	"github.com/telcovision/churn/pkg/errors"
	"github.com/telcovision/churn/pkg/training"
)

func ptr[T any](v T) *T {
	return &v
}

func writeProcessed(t *testing.T, path string, n int) {
	t.Helper()
	rng := rand.New(rand.NewSource(11))
	var b strings.Builder
	b.WriteString("tenure_months,monthly_charges,paperless_billing_yes,churn\n")
	for i := 0; i < n; i++ {
		tenure := math.Round(rng.Float64() * 72)
		monthly := math.Round((20+rng.Float64()*100)*100) / 100
		churn := 0
		if (tenure < 20 && monthly > 70) || rng.Float64() < 0.05 {
			churn = 1
		}
		fmt.Fprintf(&b, "%v,%v,%d,%d\n", tenure, monthly, rng.Intn(2), churn)
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
}

// trainedConfig trains a model into a temp project and returns its config.
func trainedConfig(t *testing.T, modelType string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "processed.csv")
	writeProcessed(t, input, 200)

	cfg, err := config.Resolve(&config.File{}, config.TrackingSettings{}, config.Overrides{
		ProcessedData: ptr(input),
		ModelPath:     ptr(filepath.Join(dir, "models", "model.gob")),
		MetricsPath:   ptr(filepath.Join(dir, "models", "metrics.json")),
		PlotsDir:      ptr(filepath.Join(dir, "plots")),
		ReportsDir:    ptr(filepath.Join(dir, "metrics")),
		ModelType:     ptr(modelType),
		NoTracking:    true,
	})
	require.NoError(t, err)
	if cfg.Model.RandomForest != nil {
		cfg.Model.RandomForest.NEstimators = 20
	}
	_, err = training.NewHarness().Run(context.Background(), cfg)
	require.NoError(t, err)
	return cfg
}

func assertPNG(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")), "%s is a PNG", path)
}

func TestReporterRandomForest(t *testing.T) {
	cfg := trainedConfig(t, "RandomForest")
	var out bytes.Buffer

	res, err := NewReporter(&out).Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	assert.Empty(t, res.Skipped)
	assert.Len(t, res.Written, 6)
	assert.Equal(t, 40, res.TestRows)

	for _, name := range []string{ConfusionMatrixPlot, ROCCurvePlot, PRCurvePlot, FeatureImportancePlot} {
		assertPNG(t, filepath.Join(cfg.Paths.PlotsDir, name))
	}
	assert.NotEmpty(t, out.String(), "classification report is printed")

	raw, err := os.ReadFile(filepath.Join(cfg.Paths.ReportsDir, ClassificationReportFile))
	require.NoError(t, err)
	var cr map[string]any
	require.NoError(t, json.Unmarshal(raw, &cr))
	for _, key := range []string{"0", "1", "accuracy", "macro avg", "weighted avg"} {
		assert.Contains(t, cr, key)
	}
	assert.InDelta(t, res.Metrics.Accuracy, cr["accuracy"].(float64), 1e-12)

	raw, err = os.ReadFile(filepath.Join(cfg.Paths.ReportsDir, EvaluationSummaryFile))
	require.NoError(t, err)
	var summary EvaluationSummary
	require.NoError(t, json.Unmarshal(raw, &summary))
	ds := summary.Dataset
	assert.Equal(t, 40, ds.TotalSamples)
	assert.Equal(t, ds.TotalSamples, ds.ChurnCases+ds.NoChurnCases)
	assert.InDelta(t, 100*float64(ds.ChurnCases)/40, ds.ChurnPercentage, 1e-9)
	cells := summary.ConfusionMatrix
	assert.Equal(t, 40, cells.TrueNegatives+cells.FalsePositives+cells.FalseNegatives+cells.TruePositives)
	assert.Equal(t, ds.ChurnCases, cells.TruePositives+cells.FalseNegatives)
	assert.Equal(t, "RandomForest", string(summary.Model.Type))
	assert.Equal(t, 3, summary.Model.Features)
	require.NotNil(t, summary.Metrics.ROCAUC)
}

func TestReporterMatchesTrainingMetrics(t *testing.T) {
	cfg := trainedConfig(t, "LogisticRegression")
	raw, err := os.ReadFile(cfg.Paths.MetricsPath)
	require.NoError(t, err)
	var trained map[string]float64
	require.NoError(t, json.Unmarshal(raw, &trained))

	res, err := NewReporter(nil).Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, trained["accuracy"], res.Metrics.Accuracy, "same split, same model")
	assert.Equal(t, trained["f1"], res.Metrics.F1)
}

func TestReporterSkipsUnsupportedDiagnostics(t *testing.T) {
	cfg := trainedConfig(t, "LogisticRegression")

	res, err := NewReporter(nil).Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"feature importance"}, res.Skipped)
	assert.Empty(t, res.Warnings)
	assert.NoFileExists(t, filepath.Join(cfg.Paths.PlotsDir, FeatureImportancePlot))
	assertPNG(t, filepath.Join(cfg.Paths.PlotsDir, ROCCurvePlot))
}

func TestReporterContinuesPastFailingDiagnostics(t *testing.T) {
	cfg := trainedConfig(t, "RandomForest")
	blocker := filepath.Join(t.TempDir(), "plots")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	cfg.Paths.PlotsDir = blocker

	res, err := NewReporter(nil).Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Len(t, res.Warnings, 4, "every plot fails")
	assert.FileExists(t, filepath.Join(cfg.Paths.ReportsDir, ClassificationReportFile))
	assert.FileExists(t, filepath.Join(cfg.Paths.ReportsDir, EvaluationSummaryFile))
}

func TestReporterErrors(t *testing.T) {
	t.Run("missing model", func(t *testing.T) {
		cfg := trainedConfig(t, "LogisticRegression")
		cfg.Paths.ModelPath = filepath.Join(t.TempDir(), "none.gob")
		_, err := NewReporter(nil).Run(context.Background(), cfg)
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("feature layout changed", func(t *testing.T) {
		cfg := trainedConfig(t, "LogisticRegression")
		data := "tenure_months,monthly_charges,churn\n"
		for i := 0; i < 40; i++ {
			data += fmt.Sprintf("%d,%d,%d\n", i, 50+i, i%2)
		}
		require.NoError(t, os.WriteFile(cfg.Paths.ProcessedData, []byte(data), 0o644))
		_, err := NewReporter(nil).Run(context.Background(), cfg)
		assert.True(t, errors.IsValidation(err))
	})
}
