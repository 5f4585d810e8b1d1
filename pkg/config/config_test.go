package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telcovision/churn/pkg/errors"
	"github.com/telcovision/churn/pkg/models"
)

func writeParams(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rf_shallow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestResolveDefaults(t *testing.T) {
	cfg, err := Resolve(nil, TrackingSettings{}, Overrides{})
	require.NoError(t, err)

	assert.Equal(t, "params", cfg.Name)
	assert.Equal(t, DefaultTarget, cfg.Target)
	assert.Equal(t, DefaultProcessedData, cfg.Paths.ProcessedData)
	assert.Equal(t, DefaultModelPath, cfg.Paths.ModelPath)
	assert.Equal(t, DefaultTestSize, cfg.Split.TestSize)
	assert.Equal(t, int64(DefaultRandomState), cfg.Split.RandomState)
	assert.Equal(t, models.ModelTypeRandomForest, cfg.Model.Type)
	require.NotNil(t, cfg.Model.RandomForest)
	assert.Nil(t, cfg.Model.LogisticRegression)
	assert.Equal(t, 200, cfg.Model.RandomForest.NEstimators)
	assert.Equal(t, -1, cfg.Model.RandomForest.NJobs)
	require.NotNil(t, cfg.Model.RandomForest.RandomState)
	assert.Equal(t, int64(42), *cfg.Model.RandomForest.RandomState)
	assert.True(t, cfg.Tracking.Enabled)
	assert.Equal(t, DefaultExperiment, cfg.Tracking.Experiment)
	assert.Equal(t, DefaultRegisteredName, cfg.Tracking.RegisterAs)
}

func TestResolvePrecedence(t *testing.T) {
	path := writeParams(t, `
target: churn
paths:
  processed_data: data/processed/file.csv
  model_path: models/file.gob
split:
  test_size: 0.3
  random_state: 7
model:
  type: RandomForest
  parameters:
    n_estimators: 50
    max_depth: 5
tracking:
  experiment: from_file
`)
	f, err := LoadFile(path)
	require.NoError(t, err)

	t.Run("file over defaults", func(t *testing.T) {
		cfg, err := Resolve(f, TrackingSettings{}, Overrides{})
		require.NoError(t, err)
		assert.Equal(t, "rf_shallow", cfg.Name)
		assert.Equal(t, path, cfg.Source)
		assert.Equal(t, "data/processed/file.csv", cfg.Paths.ProcessedData)
		assert.Equal(t, 0.3, cfg.Split.TestSize)
		assert.Equal(t, int64(7), cfg.Split.RandomState)
		assert.Equal(t, 50, cfg.Model.RandomForest.NEstimators)
		assert.Equal(t, 5, cfg.Model.RandomForest.MaxDepth)
		// unset keys keep their defaults
		assert.Equal(t, 2, cfg.Model.RandomForest.MinSamplesSplit)
		assert.Equal(t, int64(7), *cfg.Model.RandomForest.RandomState)
		assert.Equal(t, "from_file", cfg.Tracking.Experiment)
	})

	t.Run("env over file", func(t *testing.T) {
		cfg, err := Resolve(f, TrackingSettings{Experiment: "from_env"}, Overrides{})
		require.NoError(t, err)
		assert.Equal(t, "from_env", cfg.Tracking.Experiment)
	})

	t.Run("flags over everything", func(t *testing.T) {
		input := "other.csv"
		size := 0.25
		seed := int64(1)
		exp := "from_flag"
		cfg, err := Resolve(f, TrackingSettings{Experiment: "from_env"}, Overrides{
			ProcessedData: &input,
			TestSize:      &size,
			RandomState:   &seed,
			Experiment:    &exp,
			NoTracking:    true,
		})
		require.NoError(t, err)
		assert.Equal(t, "other.csv", cfg.Paths.ProcessedData)
		assert.Equal(t, 0.25, cfg.Split.TestSize)
		assert.Equal(t, int64(1), cfg.Split.RandomState)
		assert.Equal(t, "from_flag", cfg.Tracking.Experiment)
		assert.False(t, cfg.Tracking.Enabled)
	})
}

func TestResolveLogisticRegression(t *testing.T) {
	f, err := ParseFile([]byte(`
model:
  type: LogisticRegression
  parameters:
    C: 0.5
    fit_intercept: false
`))
	require.NoError(t, err)

	cfg, err := Resolve(f, TrackingSettings{}, Overrides{})
	require.NoError(t, err)
	require.NotNil(t, cfg.Model.LogisticRegression)
	assert.Nil(t, cfg.Model.RandomForest)
	assert.Equal(t, 0.5, cfg.Model.LogisticRegression.C)
	assert.False(t, cfg.Model.LogisticRegression.FitIntercept)
	assert.Equal(t, 200, cfg.Model.LogisticRegression.MaxIter)

	params := cfg.RunParams()
	assert.Equal(t, "0.5", params["C"])
	assert.Equal(t, "LogisticRegression", params["model_type"])
	assert.Equal(t, "0.2", params["test_size"])
	assert.Equal(t, "churn", params["target"])
}

func TestResolveModelTypeOverride(t *testing.T) {
	mt := "logistic_regression"
	cfg, err := Resolve(nil, TrackingSettings{}, Overrides{ModelType: &mt})
	require.NoError(t, err)
	assert.Equal(t, models.ModelTypeLogisticRegression, cfg.Model.Type)
}

func TestResolveValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown model type", "model:\n  type: XGBoost\n"},
		{"parameter of the other family", "model:\n  type: RandomForest\n  parameters:\n    C: 1.0\n"},
		{"bad test size", "split:\n  test_size: 1.5\n"},
		{"bad estimators", "model:\n  parameters:\n    n_estimators: 0\n"},
		{"bad max features", "model:\n  parameters:\n    max_features: lots\n"},
		{"bad penalty", "model:\n  type: LogisticRegression\n  parameters:\n    penalty: l1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFile([]byte(tt.body))
			require.NoError(t, err)
			_, err = Resolve(f, TrackingSettings{}, Overrides{})
			require.Error(t, err)
			assert.True(t, errors.IsValidation(err), "got %v", err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	t.Run("missing file is not found", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("missing file falls back to defaults", func(t *testing.T) {
		f, err := LoadFileOrDefault(filepath.Join(t.TempDir(), "nope.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "", f.Path())
	})

	t.Run("unknown keys rejected", func(t *testing.T) {
		_, err := LoadFile(writeParams(t, "targte: churn\n"))
		require.Error(t, err)
		assert.True(t, errors.IsValidation(err))
	})

	t.Run("empty file", func(t *testing.T) {
		f, err := LoadFile(writeParams(t, ""))
		require.NoError(t, err)
		assert.Equal(t, "rf_shallow", f.Name())
	})

	t.Run("legacy top-level split keys", func(t *testing.T) {
		f, err := LoadFile(writeParams(t, "test_size: 0.4\nrandom_state: 3\n"))
		require.NoError(t, err)
		cfg, err := Resolve(f, TrackingSettings{}, Overrides{})
		require.NoError(t, err)
		assert.Equal(t, 0.4, cfg.Split.TestSize)
		assert.Equal(t, int64(3), cfg.Split.RandomState)
	})
}

func TestMaxFeatures(t *testing.T) {
	tests := []struct {
		in   MaxFeatures
		n    int
		want int
	}{
		{"sqrt", 16, 4},
		{"sqrt", 2, 1},
		{"log2", 16, 4},
		{"all", 9, 9},
		{"3", 9, 3},
		{"30", 9, 9},
		{"0.5", 10, 5},
		{"0.01", 10, 1},
	}
	for _, tt := range tests {
		got, err := tt.in.Resolve(tt.n)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s of %d", tt.in, tt.n)
	}

	_, err := MaxFeatures("1.5").Resolve(10)
	assert.Error(t, err)
}

func TestLoadTrackingSettings(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		"MLFLOW_TRACKING_URI=https://dagshub.example/user/repo.mlflow\nMLFLOW_TRACKING_USERNAME=user\nMLFLOW_TRACKING_PASSWORD=secret\n",
	), 0o600))

	t.Setenv(EnvExperiment, "env_experiment")
	t.Setenv(EnvTrackingUsername, "override")

	s := LoadTrackingSettings(envFile)
	assert.Equal(t, "https://dagshub.example/user/repo.mlflow", s.URI)
	assert.Equal(t, "env_experiment", s.Experiment)
	assert.Equal(t, "override", s.Username)
	assert.Equal(t, "secret", s.Password)
	assert.True(t, s.Remote())
	assert.True(t, s.HasCredentials())

	t.Run("no env file", func(t *testing.T) {
		t.Setenv(EnvTrackingURI, "")
		s := LoadTrackingSettings(filepath.Join(t.TempDir(), "missing.env"))
		assert.False(t, s.Remote())
		assert.Equal(t, "env_experiment", s.Experiment)
	})
}

func TestRunParamsKeepsModelSeed(t *testing.T) {
	f, err := LoadFile(writeParams(t, `
split:
  random_state: 7
model:
  type: RandomForest
  parameters:
    random_state: 99
`))
	require.NoError(t, err)
	cfg, err := Resolve(f, TrackingSettings{}, Overrides{})
	require.NoError(t, err)

	params := cfg.RunParams()
	assert.Equal(t, "99", params["random_state"])
	assert.Equal(t, "7", params["split_random_state"])

	cfg, err = Resolve(nil, TrackingSettings{}, Overrides{})
	require.NoError(t, err)
	params = cfg.RunParams()
	assert.Equal(t, "42", params["random_state"], "the model seed defaults to the split seed")
	assert.Equal(t, "42", params["split_random_state"])
}
