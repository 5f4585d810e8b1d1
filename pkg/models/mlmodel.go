package models

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/telcovision/churn/pkg/errors"
)

// ModelType represents the classifier family of a pipeline
type ModelType string

const (
	ModelTypeRandomForest       ModelType = "RandomForest"
	ModelTypeLogisticRegression ModelType = "LogisticRegression"
)

// ParseModelType accepts the canonical names plus their snake_case and
// lower-case spellings.
func ParseModelType(s string) (ModelType, error) {
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", ""))
	switch key {
	case "randomforest", "randomforestclassifier", "rf":
		return ModelTypeRandomForest, nil
	case "logisticregression", "logreg", "lr":
		return ModelTypeLogisticRegression, nil
	case "":
		return "", errors.Validationf("model type is required")
	default:
		return "", errors.WithHint(
			errors.Validationf("unsupported model type: %s", s),
			"supported types are RandomForest and LogisticRegression",
		)
	}
}

// Metric names as they appear in metrics files, tracking runs and reports.
const (
	MetricAccuracy  = "accuracy"
	MetricPrecision = "precision"
	MetricRecall    = "recall"
	MetricF1        = "f1"
	MetricROCAUC    = "roc_auc"
)

// MetricNames lists the headline metrics in report order.
var MetricNames = []string{MetricAccuracy, MetricPrecision, MetricRecall, MetricF1, MetricROCAUC}

// Metrics is the flat metrics record written after every training run.
// ROCAUC is nil when the classifier produced no probabilities or AUC is undefined.
type Metrics struct {
	Accuracy  float64  `json:"accuracy"`
	Precision float64  `json:"precision"`
	Recall    float64  `json:"recall"`
	F1        float64  `json:"f1"`
	ROCAUC    *float64 `json:"roc_auc"`
}

// Get returns the named metric and whether it has a value.
func (m Metrics) Get(name string) (float64, bool) {
	switch name {
	case MetricAccuracy:
		return m.Accuracy, true
	case MetricPrecision:
		return m.Precision, true
	case MetricRecall:
		return m.Recall, true
	case MetricF1:
		return m.F1, true
	case MetricROCAUC:
		if m.ROCAUC == nil {
			return 0, false
		}
		return *m.ROCAUC, true
	}
	return 0, false
}

// Map returns the metrics that have a value, keyed by metric name.
func (m Metrics) Map() map[string]float64 {
	out := make(map[string]float64, len(MetricNames))
	for _, name := range MetricNames {
		if v, ok := m.Get(name); ok {
			out[name] = v
		}
	}
	return out
}

// Validate checks every present metric is a finite value in [0,1].
func (m Metrics) Validate() error {
	for name, v := range m.Map() {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return errors.Validationf("metric %s out of range: %v", name, v)
		}
	}
	return nil
}

// MarshalIndent renders the metrics file body.
func (m Metrics) MarshalIndent() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// Float returns a pointer to v, for optional metrics.
func Float(v float64) *float64 {
	return &v
}

// RunStatus represents the lifecycle state of a tracked run
type RunStatus string

const (
	RunStatusRunning  RunStatus = "RUNNING"
	RunStatusFinished RunStatus = "FINISHED"
	RunStatusFailed   RunStatus = "FAILED"
	RunStatusKilled   RunStatus = "KILLED"
)

// Experiment groups tracked runs under a name
type Experiment struct {
	ID               string    `json:"experiment_id"`
	Name             string    `json:"name"`
	ArtifactLocation string    `json:"artifact_location,omitempty"`
	LifecycleStage   string    `json:"lifecycle_stage,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Run is one logged training invocation
type Run struct {
	ID           string             `json:"run_id"`
	ExperimentID string             `json:"experiment_id"`
	Name         string             `json:"run_name,omitempty"`
	Status       RunStatus          `json:"status"`
	Params       map[string]string  `json:"params,omitempty"`
	Metrics      map[string]float64 `json:"metrics,omitempty"`
	Tags         map[string]string  `json:"tags,omitempty"`
	ArtifactURI  string             `json:"artifact_uri,omitempty"`
	StartTime    time.Time          `json:"start_time"`
	EndTime      *time.Time         `json:"end_time,omitempty"`
}

// Metric returns the named metric of the run and whether it was logged.
func (r *Run) Metric(name string) (float64, bool) {
	if r == nil || r.Metrics == nil {
		return 0, false
	}
	v, ok := r.Metrics[name]
	if ok && math.IsNaN(v) {
		return 0, false
	}
	return v, ok
}

// ModelVersion is one registered version of a named model
type ModelVersion struct {
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Source      string    `json:"source"`
	RunID       string    `json:"run_id,omitempty"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status,omitempty"`
	CreatedAt   time.Time `json:"creation_timestamp"`
}
