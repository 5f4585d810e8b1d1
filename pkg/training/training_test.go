package training

import (
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
	"github.com/telcovision/churn/pkg/models"
	"github.com/telcovision/churn/pkg/tracking"
	"github.com/telcovision/churn/pkg/tracking/trackingtest"
)

func ptr[T any](v T) *T {
	return &v
}

// writeProcessed writes a processed churn dataset where short-tenure,
// high-charge customers churn.
func writeProcessed(t *testing.T, dir string, n int) string {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	var b strings.Builder
	b.WriteString("tenure_months,monthly_charges,contract_two year,churn\n")
	for i := 0; i < n; i++ {
		tenure := math.Round(rng.Float64() * 72)
		monthly := math.Round((20+rng.Float64()*100)*100) / 100
		twoYear := rng.Intn(2)
		churn := 0
		if (tenure < 24 && monthly > 60) || rng.Float64() < 0.05 {
			churn = 1
		}
		fmt.Fprintf(&b, "%v,%v,%d,%d\n", tenure, monthly, twoYear, churn)
	}
	path := filepath.Join(dir, "processed.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func testConfig(t *testing.T, modelType string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	input := writeProcessed(t, dir, 240)
	cfg, err := config.Resolve(&config.File{}, config.TrackingSettings{}, config.Overrides{
		ProcessedData: ptr(input),
		ModelPath:     ptr(filepath.Join(dir, "models", "model.gob")),
		MetricsPath:   ptr(filepath.Join(dir, "models", "metrics.json")),
		ModelType:     ptr(modelType),
		NoTracking:    true,
	})
	require.NoError(t, err)
	if cfg.Model.RandomForest != nil {
		cfg.Model.RandomForest.NEstimators = 25
	}
	return cfg
}

func TestStratifiedSplit(t *testing.T) {
	y := make([]int, 100)
	for i := 0; i < 30; i++ {
		y[i] = 1
	}

	s, err := StratifiedSplit(y, 0.25, 42)
	require.NoError(t, err)
	assert.Len(t, s.Test, 25)
	assert.Len(t, s.Train, 75)

	seen := map[int]bool{}
	positives := 0
	for _, i := range s.Test {
		seen[i] = true
		positives += y[i]
	}
	for _, i := range s.Train {
		assert.False(t, seen[i], "row %d in both partitions", i)
		seen[i] = true
	}
	assert.Len(t, seen, 100)
	// 30% of 25 test rows, rounded by largest remainder
	assert.InDelta(t, 7.5, float64(positives), 0.5)

	again, err := StratifiedSplit(y, 0.25, 42)
	require.NoError(t, err)
	assert.Equal(t, s, again, "same seed, same split")

	other, err := StratifiedSplit(y, 0.25, 43)
	require.NoError(t, err)
	assert.NotEqual(t, s.Test, other.Test)
}

func TestStratifiedSplitSizes(t *testing.T) {
	y := []int{0, 0, 0, 0, 0, 0, 1, 1, 1, 2, 2}
	for _, ts := range []float64{0.3, 0.5, 0.7} {
		s, err := StratifiedSplit(y, ts, 1)
		require.NoError(t, err)
		assert.Equal(t, len(y), len(s.Train)+len(s.Test))
		assert.Equal(t, int(math.Ceil(ts*float64(len(y)))), len(s.Test))

		trainClasses, testClasses := map[int]bool{}, map[int]bool{}
		for _, i := range s.Train {
			trainClasses[y[i]] = true
		}
		for _, i := range s.Test {
			testClasses[y[i]] = true
		}
		assert.Len(t, trainClasses, 3, "test_size %v", ts)
		assert.Len(t, testClasses, 3, "test_size %v", ts)
	}
}

func TestStratifiedSplitErrors(t *testing.T) {
	tests := []struct {
		name     string
		y        []int
		testSize float64
	}{
		{"single row class", []int{0, 0, 0, 1}, 0.5},
		{"zero test size", []int{0, 0, 1, 1}, 0},
		{"whole set", []int{0, 0, 1, 1}, 1},
		{"empty", nil, 0.2},
		{"test too small for classes", []int{0, 0, 0, 0, 0, 0, 0, 0, 1, 1}, 0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := StratifiedSplit(tt.y, tt.testSize, 0)
			assert.True(t, errors.IsValidation(err), "got %v", err)
		})
	}
}

func TestHarnessRunWithoutTracking(t *testing.T) {
	for _, mt := range []string{"RandomForest", "LogisticRegression"} {
		t.Run(mt, func(t *testing.T) {
			cfg := testConfig(t, mt)
			h := &Harness{Open: func(context.Context, config.Tracking) (tracking.Client, error) {
				t.Fatal("tracking must not be opened when disabled")
				return nil, nil
			}}

			res, err := h.Run(context.Background(), cfg)
			require.NoError(t, err)

			assert.False(t, res.Tracked())
			assert.Equal(t, 240, res.TrainRows+res.TestRows)
			assert.Equal(t, 48, res.TestRows)
			assert.NoError(t, res.Metrics.Validate())
			require.NotNil(t, res.Metrics.ROCAUC)
			assert.Greater(t, *res.Metrics.ROCAUC, 0.7)
			assert.FileExists(t, cfg.Paths.ModelPath)

			raw, err := os.ReadFile(cfg.Paths.MetricsPath)
			require.NoError(t, err)
			var written map[string]*float64
			require.NoError(t, json.Unmarshal(raw, &written))
			for _, name := range models.MetricNames {
				assert.Contains(t, written, name)
			}
			assert.Equal(t, res.Metrics.Accuracy, *written["accuracy"])
		})
	}
}

func TestHarnessDeterministic(t *testing.T) {
	cfg := testConfig(t, "RandomForest")
	cfg.Model.RandomForest.NJobs = -1
	h := NewHarness()

	first, err := h.Run(context.Background(), cfg)
	require.NoError(t, err)
	firstRaw, err := os.ReadFile(cfg.Paths.MetricsPath)
	require.NoError(t, err)

	second, err := h.Run(context.Background(), cfg)
	require.NoError(t, err)
	secondRaw, err := os.ReadFile(cfg.Paths.MetricsPath)
	require.NoError(t, err)

	assert.Equal(t, first.Metrics, second.Metrics)
	assert.Equal(t, string(firstRaw), string(secondRaw), "metrics files are bit-identical")
}

func TestHarnessRunErrors(t *testing.T) {
	t.Run("missing input", func(t *testing.T) {
		cfg := testConfig(t, "RandomForest")
		cfg.Paths.ProcessedData = filepath.Join(t.TempDir(), "missing.csv")
		_, err := NewHarness().Run(context.Background(), cfg)
		assert.True(t, errors.IsNotFound(err))
		assert.NoFileExists(t, cfg.Paths.ModelPath)
	})

	t.Run("missing target", func(t *testing.T) {
		cfg := testConfig(t, "RandomForest")
		cfg.Target = "cancelled"
		_, err := NewHarness().Run(context.Background(), cfg)
		assert.True(t, errors.IsValidation(err))
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := testConfig(t, "RandomForest")
		cfg.Split.TestSize = 1.5
		_, err := NewHarness().Run(context.Background(), cfg)
		assert.True(t, errors.IsValidation(err))
	})
}

func trackedHarness(fake *trackingtest.Fake) *Harness {
	return &Harness{Open: func(context.Context, config.Tracking) (tracking.Client, error) {
		return fake, nil
	}}
}

func TestHarnessTracking(t *testing.T) {
	cfg := testConfig(t, "LogisticRegression")
	cfg.Tracking.Enabled = true
	cfg.Tracking.Experiment = "churn-tests"
	fake := trackingtest.New()

	res, err := trackedHarness(fake).Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	require.True(t, res.Tracked())

	run := fake.Runs[res.RunID]
	require.NotNil(t, run)
	assert.Equal(t, models.RunStatusFinished, run.Status)
	assert.Equal(t, "LogisticRegression", run.Params["model_type"])
	assert.Equal(t, "0.2", run.Params["test_size"])
	assert.Equal(t, "42", run.Params["random_state"])
	assert.Equal(t, "churn", run.Params["target"])
	assert.Equal(t, "1", run.Params["C"])
	assert.Equal(t, res.Metrics.F1, run.Metrics["f1"])
	assert.ElementsMatch(t, []string{"model/model.gob", "metrics/metrics.json"}, fake.Artifacts[res.RunID])

	require.NotNil(t, res.Registered)
	assert.Equal(t, config.DefaultRegisteredName, res.Registered.Name)
	assert.Equal(t, "runs:/"+res.RunID+"/model", res.Registered.Source)
}

func TestHarnessTrackingSideEffectsAreBestEffort(t *testing.T) {
	t.Run("registration fails", func(t *testing.T) {
		cfg := testConfig(t, "RandomForest")
		cfg.Tracking.Enabled = true
		fake := trackingtest.New()
		fake.CreateVersionErr = errors.New("registry offline")

		res, err := trackedHarness(fake).Run(context.Background(), cfg)
		require.NoError(t, err)
		require.Len(t, res.Warnings, 1)
		assert.Contains(t, res.Warnings[0], "register model")
		assert.Nil(t, res.Registered)
		assert.Equal(t, models.RunStatusFinished, fake.Runs[res.RunID].Status)
	})

	t.Run("auto register off", func(t *testing.T) {
		cfg := testConfig(t, "RandomForest")
		cfg.Tracking.Enabled = true
		cfg.Tracking.AutoRegister = false
		fake := trackingtest.New()

		_, err := trackedHarness(fake).Run(context.Background(), cfg)
		require.NoError(t, err)
		assert.Zero(t, fake.CallCount("CreateModelVersion"))
	})

	t.Run("tracking unreachable", func(t *testing.T) {
		cfg := testConfig(t, "RandomForest")
		cfg.Tracking.Enabled = true
		h := &Harness{Open: func(context.Context, config.Tracking) (tracking.Client, error) {
			return nil, errors.ExternalService(errors.New("connection refused"), "ping")
		}}

		res, err := h.Run(context.Background(), cfg)
		require.NoError(t, err)
		assert.False(t, res.Tracked())
		require.Len(t, res.Warnings, 1)
		assert.Contains(t, res.Warnings[0], "start tracking")
		assert.FileExists(t, cfg.Paths.MetricsPath)
	})

	t.Run("artifact upload fails", func(t *testing.T) {
		cfg := testConfig(t, "RandomForest")
		cfg.Tracking.Enabled = true
		fake := trackingtest.New()
		fake.LogArtifactErr = errors.New("disk full")

		res, err := trackedHarness(fake).Run(context.Background(), cfg)
		require.NoError(t, err)
		assert.Len(t, res.Warnings, 2)
		assert.NotNil(t, res.Registered)
	})
}

func TestHarnessMarksFailedRun(t *testing.T) {
	cfg := testConfig(t, "RandomForest")
	cfg.Tracking.Enabled = true
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	cfg.Paths.ModelPath = filepath.Join(blocker, "model.gob")
	fake := trackingtest.New()

	_, err := trackedHarness(fake).Run(context.Background(), cfg)
	require.Error(t, err)

	require.Len(t, fake.Runs, 1)
	for _, run := range fake.Runs {
		assert.Equal(t, models.RunStatusFailed, run.Status)
	}
}
