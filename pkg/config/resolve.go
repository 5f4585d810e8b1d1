package config

import (
	"github.com/telcovision/churn/pkg/errors"
	"github.com/telcovision/churn/pkg/models"
)

// Overrides carries command-line values. A nil field means "not given".
type Overrides struct {
	RawData       *string
	ProcessedData *string
	ModelPath     *string
	MetricsPath   *string
	PlotsDir      *string
	ReportsDir    *string
	Target        *string
	TestSize      *float64
	RandomState   *int64
	ModelType     *string
	Experiment    *string
	NoTracking    bool
}

// Resolve merges defaults, the params file, tracking environment settings
// and command-line overrides, in that order of increasing precedence, and
// validates the result.
func Resolve(f *File, env TrackingSettings, o Overrides) (*Config, error) {
	if f == nil {
		f = &File{}
	}

	cfg := &Config{
		Name:   f.Name(),
		Source: f.Path(),
		Target: pick(DefaultTarget, f.Target, o.Target),
		Paths: Paths{
			RawData:       pick(DefaultRawData, f.Paths.RawData, o.RawData),
			ProcessedData: pick(DefaultProcessedData, f.Paths.ProcessedData, o.ProcessedData),
			ModelPath:     pick(DefaultModelPath, f.Paths.ModelPath, o.ModelPath),
			MetricsPath:   pick(DefaultMetricsPath, f.Paths.MetricsPath, o.MetricsPath),
			PlotsDir:      pick(DefaultPlotsDir, f.Evaluate.PlotsDir, o.PlotsDir),
			ReportsDir:    pick(DefaultReportsDir, f.Evaluate.ReportsDir, o.ReportsDir),
		},
		Split: Split{
			TestSize:    DefaultTestSize,
			RandomState: DefaultRandomState,
		},
	}
	if cfg.Name == "" {
		cfg.Name = "params"
	}

	for _, v := range []*float64{f.TestSize, f.Split.TestSize, o.TestSize} {
		if v != nil {
			cfg.Split.TestSize = *v
		}
	}
	for _, v := range []*int64{f.RandomState, f.Split.RandomState, o.RandomState} {
		if v != nil {
			cfg.Split.RandomState = *v
		}
	}

	model, err := resolveModel(f.Model, o.ModelType, cfg.Split.RandomState)
	if err != nil {
		return nil, err
	}
	cfg.Model = model

	cfg.Tracking = Tracking{
		Enabled:      !o.NoTracking,
		Experiment:   pick(DefaultExperiment, f.Tracking.Experiment, nil),
		RegisterAs:   pick(DefaultRegisteredName, f.Tracking.RegisterAs, nil),
		AutoRegister: true,
		URI:          env.URI,
		Username:     env.Username,
		Password:     env.Password,
	}
	if f.Tracking.Enabled != nil && !*f.Tracking.Enabled {
		cfg.Tracking.Enabled = false
	}
	if f.Tracking.AutoRegister != nil {
		cfg.Tracking.AutoRegister = *f.Tracking.AutoRegister
	}
	if env.Experiment != "" {
		cfg.Tracking.Experiment = env.Experiment
	}
	if o.Experiment != nil && *o.Experiment != "" {
		cfg.Tracking.Experiment = *o.Experiment
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolveModel(mf ModelFile, typeOverride *string, seed int64) (ModelConfig, error) {
	raw := mf.Type
	if typeOverride != nil && *typeOverride != "" {
		raw = *typeOverride
	}
	if raw == "" {
		raw = string(models.ModelTypeRandomForest)
	}
	mt, err := models.ParseModelType(raw)
	if err != nil {
		return ModelConfig{}, err
	}

	mc := ModelConfig{Type: mt}
	switch mt {
	case models.ModelTypeRandomForest:
		p := DefaultRandomForestParams()
		if err := decodeNode(&mf.Parameters, &p); err != nil {
			return ModelConfig{}, errors.Wrap(err, "random forest parameters")
		}
		if p.RandomState == nil {
			p.RandomState = &seed
		}
		mc.RandomForest = &p
	case models.ModelTypeLogisticRegression:
		p := DefaultLogisticRegressionParams()
		if err := decodeNode(&mf.Parameters, &p); err != nil {
			return ModelConfig{}, errors.Wrap(err, "logistic regression parameters")
		}
		if p.RandomState == nil {
			p.RandomState = &seed
		}
		mc.LogisticRegression = &p
	}
	return mc, nil
}

// Validate checks the resolved configuration is usable for training.
func (c *Config) Validate() error {
	if c.Target == "" {
		return errors.Validationf("target column name is required")
	}
	if c.Paths.ProcessedData == "" {
		return errors.WithHint(
			errors.Validationf("processed data path is required"),
			"set paths.processed_data or pass --input",
		)
	}
	if c.Split.TestSize <= 0 || c.Split.TestSize >= 1 {
		return errors.Validationf("test_size must be in (0,1), got %v", c.Split.TestSize)
	}
	return c.Model.Validate()
}

// Validate checks exactly one family is selected and its parameters are sane.
func (m ModelConfig) Validate() error {
	switch m.Type {
	case models.ModelTypeRandomForest:
		if m.RandomForest == nil || m.LogisticRegression != nil {
			return errors.Validationf("model type %s requires random forest parameters only", m.Type)
		}
		return m.RandomForest.Validate()
	case models.ModelTypeLogisticRegression:
		if m.LogisticRegression == nil || m.RandomForest != nil {
			return errors.Validationf("model type %s requires logistic regression parameters only", m.Type)
		}
		return m.LogisticRegression.Validate()
	default:
		return errors.Validationf("unsupported model type: %s", m.Type)
	}
}

// RunParams returns every parameter logged with a tracked run. The model's
// own random_state is kept; the split seed is logged as split_random_state.
func (c *Config) RunParams() map[string]string {
	params := c.Model.Params()
	params["model_type"] = string(c.Model.Type)
	params["target"] = c.Target
	params["test_size"] = formatFloat(c.Split.TestSize)
	params["split_random_state"] = formatInt(c.Split.RandomState)
	if _, ok := params["random_state"]; !ok {
		params["random_state"] = formatInt(c.Split.RandomState)
	}
	params["config"] = c.Name
	return params
}

func pick(def, file string, flag *string) string {
	v := def
	if file != "" {
		v = file
	}
	if flag != nil && *flag != "" {
		v = *flag
	}
	return v
}
