package config

import (
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/telcovision/churn/pkg/errors"
)

// RandomForestParams are the random forest hyperparameters. MaxDepth 0
// means unbounded; NJobs -1 uses every CPU.
type RandomForestParams struct {
	NEstimators     int         `yaml:"n_estimators" json:"n_estimators"`
	MaxDepth        int         `yaml:"max_depth" json:"max_depth"`
	MinSamplesSplit int         `yaml:"min_samples_split" json:"min_samples_split"`
	MinSamplesLeaf  int         `yaml:"min_samples_leaf" json:"min_samples_leaf"`
	MaxFeatures     MaxFeatures `yaml:"max_features" json:"max_features"`
	Bootstrap       bool        `yaml:"bootstrap" json:"bootstrap"`
	Criterion       string      `yaml:"criterion" json:"criterion"`
	NJobs           int         `yaml:"n_jobs" json:"n_jobs"`
	RandomState     *int64      `yaml:"random_state" json:"random_state,omitempty"`
}

// DefaultRandomForestParams returns the forest defaults.
func DefaultRandomForestParams() RandomForestParams {
	return RandomForestParams{
		NEstimators:     200,
		MaxDepth:        0,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		MaxFeatures:     "sqrt",
		Bootstrap:       true,
		Criterion:       "gini",
		NJobs:           -1,
	}
}

// Validate checks the forest hyperparameters.
func (p RandomForestParams) Validate() error {
	if p.NEstimators < 1 {
		return errors.Validationf("n_estimators must be >= 1, got %d", p.NEstimators)
	}
	if p.MaxDepth < 0 {
		return errors.Validationf("max_depth must be >= 0, got %d", p.MaxDepth)
	}
	if p.MinSamplesSplit < 2 {
		return errors.Validationf("min_samples_split must be >= 2, got %d", p.MinSamplesSplit)
	}
	if p.MinSamplesLeaf < 1 {
		return errors.Validationf("min_samples_leaf must be >= 1, got %d", p.MinSamplesLeaf)
	}
	if p.Criterion != "gini" {
		return errors.Validationf("unsupported criterion: %s", p.Criterion)
	}
	if _, err := p.MaxFeatures.Resolve(10); err != nil {
		return err
	}
	return nil
}

// Params flattens the hyperparameters for tracking.
func (p RandomForestParams) Params() map[string]string {
	out := map[string]string{
		"n_estimators":      strconv.Itoa(p.NEstimators),
		"max_depth":         "None",
		"min_samples_split": strconv.Itoa(p.MinSamplesSplit),
		"min_samples_leaf":  strconv.Itoa(p.MinSamplesLeaf),
		"max_features":      string(p.MaxFeatures),
		"bootstrap":         strconv.FormatBool(p.Bootstrap),
		"criterion":         p.Criterion,
		"n_jobs":            strconv.Itoa(p.NJobs),
	}
	if p.MaxDepth > 0 {
		out["max_depth"] = strconv.Itoa(p.MaxDepth)
	}
	if p.RandomState != nil {
		out["random_state"] = strconv.FormatInt(*p.RandomState, 10)
	}
	return out
}

// MaxFeatures is the number of features considered per split: "sqrt",
// "log2", "all", an integer count or a fraction in (0,1].
type MaxFeatures string

// UnmarshalYAML accepts any scalar so counts and fractions need no quoting.
func (m *MaxFeatures) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return errors.Validationf("max_features must be a scalar")
	}
	*m = MaxFeatures(strings.TrimSpace(value.Value))
	return nil
}

// Resolve returns the per-split feature count for nFeatures columns.
func (m MaxFeatures) Resolve(nFeatures int) (int, error) {
	if nFeatures <= 0 {
		return 0, nil
	}
	var k int
	switch s := strings.ToLower(string(m)); s {
	case "", "sqrt", "auto":
		k = int(math.Sqrt(float64(nFeatures)))
	case "log2":
		k = int(math.Log2(float64(nFeatures)))
	case "all", "none":
		k = nFeatures
	default:
		if n, err := strconv.Atoi(s); err == nil {
			if n < 1 {
				return 0, errors.Validationf("max_features must be >= 1, got %d", n)
			}
			k = n
			break
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || f <= 0 || f > 1 {
			return 0, errors.Validationf("invalid max_features: %q", string(m))
		}
		k = int(f * float64(nFeatures))
	}
	if k < 1 {
		k = 1
	}
	if k > nFeatures {
		k = nFeatures
	}
	return k, nil
}

// LogisticRegressionParams are the logistic regression hyperparameters.
// C is the inverse L2 regularisation strength.
type LogisticRegressionParams struct {
	C            float64 `yaml:"C" json:"C"`
	MaxIter      int     `yaml:"max_iter" json:"max_iter"`
	Tol          float64 `yaml:"tol" json:"tol"`
	FitIntercept bool    `yaml:"fit_intercept" json:"fit_intercept"`
	Penalty      string  `yaml:"penalty" json:"penalty"`
	Solver       string  `yaml:"solver" json:"solver"`
	RandomState  *int64  `yaml:"random_state" json:"random_state,omitempty"`
}

// DefaultLogisticRegressionParams returns the logistic regression defaults.
func DefaultLogisticRegressionParams() LogisticRegressionParams {
	return LogisticRegressionParams{
		C:            1.0,
		MaxIter:      200,
		Tol:          1e-4,
		FitIntercept: true,
		Penalty:      "l2",
		Solver:       "lbfgs",
	}
}

// Validate checks the logistic regression hyperparameters.
func (p LogisticRegressionParams) Validate() error {
	if p.C <= 0 {
		return errors.Validationf("C must be > 0, got %v", p.C)
	}
	if p.MaxIter < 1 {
		return errors.Validationf("max_iter must be >= 1, got %d", p.MaxIter)
	}
	if p.Tol <= 0 {
		return errors.Validationf("tol must be > 0, got %v", p.Tol)
	}
	switch p.Penalty {
	case "l2", "none":
	default:
		return errors.Validationf("unsupported penalty: %s", p.Penalty)
	}
	if p.Solver != "lbfgs" {
		return errors.Validationf("unsupported solver: %s", p.Solver)
	}
	return nil
}

// Params flattens the hyperparameters for tracking.
func (p LogisticRegressionParams) Params() map[string]string {
	out := map[string]string{
		"C":             strconv.FormatFloat(p.C, 'g', -1, 64),
		"max_iter":      strconv.Itoa(p.MaxIter),
		"tol":           strconv.FormatFloat(p.Tol, 'g', -1, 64),
		"fit_intercept": strconv.FormatBool(p.FitIntercept),
		"penalty":       p.Penalty,
		"solver":        p.Solver,
	}
	if p.RandomState != nil {
		out["random_state"] = strconv.FormatInt(*p.RandomState, 10)
	}
	return out
}
