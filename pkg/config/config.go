package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/telcovision/churn/pkg/errors"
	"github.com/telcovision/churn/pkg/models"
)

// Defaults applied before any params file or flag.
const (
	DefaultParamsFile     = "params.yaml"
	DefaultTarget         = "churn"
	DefaultRawData        = "data/raw/telco_churn.csv"
	DefaultProcessedData  = "data/processed/telco_churn_processed.csv"
	DefaultModelPath      = "models/model.gob"
	DefaultMetricsPath    = "models/metrics.json"
	DefaultPlotsDir       = "plots"
	DefaultReportsDir     = "metrics"
	DefaultTestSize       = 0.2
	DefaultRandomState    = 42
	DefaultExperiment     = "default"
	DefaultRegisteredName = "TelcoChurn_Model"
)

// File is the on-disk params document. Every field is optional; absent
// values fall back to defaults during Resolve.
type File struct {
	Target   string       `yaml:"target"`
	Paths    PathsFile    `yaml:"paths"`
	Split    SplitFile    `yaml:"split"`
	Model    ModelFile    `yaml:"model"`
	Tracking TrackingFile `yaml:"tracking"`
	Evaluate EvaluateFile `yaml:"evaluation"`

	// Top-level split keys read by older evaluation params files.
	TestSize    *float64 `yaml:"test_size"`
	RandomState *int64   `yaml:"random_state"`

	path string
}

// PathsFile holds input and output locations
type PathsFile struct {
	RawData       string `yaml:"raw_data"`
	ProcessedData string `yaml:"processed_data"`
	ModelPath     string `yaml:"model_path"`
	MetricsPath   string `yaml:"metrics_path"`
}

// SplitFile holds the train/test split settings
type SplitFile struct {
	TestSize    *float64 `yaml:"test_size"`
	RandomState *int64   `yaml:"random_state"`
}

// ModelFile selects the classifier family. Parameters are decoded once the
// family is known so each family only accepts its own keys.
type ModelFile struct {
	Type       string    `yaml:"type"`
	Parameters yaml.Node `yaml:"parameters"`
}

// TrackingFile holds experiment tracking preferences
type TrackingFile struct {
	Enabled      *bool  `yaml:"enabled"`
	Experiment   string `yaml:"experiment"`
	RegisterAs   string `yaml:"register_as"`
	AutoRegister *bool  `yaml:"auto_register"`
}

// EvaluateFile holds report output locations
type EvaluateFile struct {
	PlotsDir   string `yaml:"plots_dir"`
	ReportsDir string `yaml:"reports_dir"`
}

// Path returns the file the params were read from, empty for defaults.
func (f *File) Path() string {
	if f == nil {
		return ""
	}
	return f.path
}

// LoadFile reads and strictly decodes a params file. Unknown keys are
// rejected so typos do not silently fall back to defaults.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WithHint(
				errors.NotFoundf("params file not found: %s", path),
				"pass --params or create params.yaml in the project root",
			)
		}
		return nil, errors.Wrapf(err, "read params file %s", path)
	}

	f, err := ParseFile(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parse params file %s", path)
	}
	f.path = path
	return f, nil
}

// LoadFileOrDefault behaves like LoadFile but returns an empty File when
// path does not exist.
func LoadFileOrDefault(path string) (*File, error) {
	f, err := LoadFile(path)
	if errors.IsNotFound(err) {
		return &File{}, nil
	}
	return f, err
}

// ParseFile strictly decodes a params document.
func ParseFile(data []byte) (*File, error) {
	f := &File{}
	if len(bytes.TrimSpace(data)) == 0 {
		return f, nil
	}
	if err := decodeStrict(data, f); err != nil {
		return nil, err
	}
	return f, nil
}

// Name returns the base name of the params file without extension.
func (f *File) Name() string {
	if f == nil || f.path == "" {
		return ""
	}
	base := filepath.Base(f.path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func decodeStrict(data []byte, out interface{}) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return errors.Mark(errors.Wrap(err, "invalid params"), errors.ErrValidation)
	}
	return nil
}

// decodeNode re-encodes a subtree so strict decoding applies to it too.
func decodeNode(node *yaml.Node, out interface{}) error {
	if node == nil || node.Kind == 0 {
		return nil
	}
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil
	}
	data, err := yaml.Marshal(node)
	if err != nil {
		return errors.Wrap(err, "encode parameters")
	}
	return decodeStrict(data, out)
}

// Paths holds resolved input and output locations
type Paths struct {
	RawData       string `json:"raw_data"`
	ProcessedData string `json:"processed_data"`
	ModelPath     string `json:"model_path"`
	MetricsPath   string `json:"metrics_path"`
	PlotsDir      string `json:"plots_dir"`
	ReportsDir    string `json:"reports_dir"`
}

// Split holds resolved train/test split settings
type Split struct {
	TestSize    float64 `json:"test_size"`
	RandomState int64   `json:"random_state"`
}

// Tracking holds resolved experiment tracking settings
type Tracking struct {
	Enabled      bool   `json:"enabled"`
	Experiment   string `json:"experiment"`
	RegisterAs   string `json:"register_as"`
	AutoRegister bool   `json:"auto_register"`
	URI          string `json:"uri"`
	Username     string `json:"-"`
	Password     string `json:"-"`
}

// Config is the fully resolved configuration of one training invocation.
type Config struct {
	Name     string      `json:"name"`
	Source   string      `json:"source"`
	Target   string      `json:"target"`
	Paths    Paths       `json:"paths"`
	Split    Split       `json:"split"`
	Model    ModelConfig `json:"model"`
	Tracking Tracking    `json:"tracking"`
}

// ModelConfig selects exactly one classifier family with its hyperparameters.
type ModelConfig struct {
	Type               models.ModelType          `json:"type"`
	RandomForest       *RandomForestParams       `json:"random_forest,omitempty"`
	LogisticRegression *LogisticRegressionParams `json:"logistic_regression,omitempty"`
}

// Params flattens the selected family's hyperparameters for tracking.
func (m ModelConfig) Params() map[string]string {
	switch {
	case m.RandomForest != nil:
		return m.RandomForest.Params()
	case m.LogisticRegression != nil:
		return m.LogisticRegression.Params()
	}
	return map[string]string{}
}
