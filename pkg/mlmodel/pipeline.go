package mlmodel

import (
	"bufio"
	"encoding/gob"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/telcovision/churn/pkg/config"
	"github.com/telcovision/churn/pkg/errors"
	"github.com/telcovision/churn/pkg/models"
)

func init() {
	gob.Register(&RandomForest{})
	gob.Register(&LogisticRegression{})
}

// Pipeline is a fitted scaler followed by a classifier. It is not modified
// after Fit returns.
type Pipeline struct {
	Scaler       *StandardScaler
	Classifier   Classifier
	FeatureNames []string
	Target       string
	TrainRows    int
	FittedAt     time.Time
}

// NewPipeline builds an unfitted pipeline for the configured family.
func NewPipeline(mc config.ModelConfig) (*Pipeline, error) {
	clf, err := NewClassifier(mc)
	if err != nil {
		return nil, err
	}
	return &Pipeline{Scaler: &StandardScaler{}, Classifier: clf}, nil
}

// Fit scales X and trains the classifier on it.
func (p *Pipeline) Fit(X [][]float64, y []int, featureNames []string, target string) error {
	if len(X) > 0 && len(featureNames) != len(X[0]) {
		return errors.Validationf("%d feature names for %d features", len(featureNames), len(X[0]))
	}
	scaled, err := p.Scaler.FitTransform(X)
	if err != nil {
		return errors.Wrap(err, "fit scaler")
	}
	if err := p.Classifier.Fit(scaled, y); err != nil {
		return errors.Wrapf(err, "fit %s", p.Classifier.Type())
	}
	p.FeatureNames = append([]string(nil), featureNames...)
	p.Target = target
	p.TrainRows = len(X)
	p.FittedAt = time.Now().UTC()
	return nil
}

// Type returns the classifier family.
func (p *Pipeline) Type() models.ModelType {
	return p.Classifier.Type()
}

// Classes returns the class labels in probability column order.
func (p *Pipeline) Classes() []int {
	return p.Classifier.Classes()
}

// Predict returns hard labels.
func (p *Pipeline) Predict(X [][]float64) ([]int, error) {
	scaled, err := p.Scaler.Transform(X)
	if err != nil {
		return nil, err
	}
	return p.Classifier.Predict(scaled)
}

// HasProbabilities reports whether the classifier estimates probabilities.
func (p *Pipeline) HasProbabilities() bool {
	_, ok := p.Classifier.(ProbabilityEstimator)
	return ok
}

// PredictProba returns class probabilities, or ok == false when the
// classifier does not estimate them.
func (p *Pipeline) PredictProba(X [][]float64) (proba [][]float64, ok bool, err error) {
	pe, ok := p.Classifier.(ProbabilityEstimator)
	if !ok {
		return nil, false, nil
	}
	scaled, err := p.Scaler.Transform(X)
	if err != nil {
		return nil, true, err
	}
	proba, err = pe.PredictProba(scaled)
	return proba, true, err
}

// FeatureImportance pairs a feature name with its importance
type FeatureImportance struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
}

// FeatureImportances returns importances sorted descending, or ok == false
// when the classifier does not rank features.
func (p *Pipeline) FeatureImportances() ([]FeatureImportance, bool) {
	fi, ok := p.Classifier.(FeatureImporter)
	if !ok {
		return nil, false
	}
	values := fi.FeatureImportances()
	out := make([]FeatureImportance, len(values))
	for i, v := range values {
		name := ""
		if i < len(p.FeatureNames) {
			name = p.FeatureNames[i]
		}
		out[i] = FeatureImportance{Feature: name, Importance: v}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Importance > out[b].Importance
	})
	return out, true
}

// Save gob-encodes the pipeline to path, creating parent directories.
func (p *Pipeline) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create directory for %s", path)
	}
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create model file")
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	if err := gob.NewEncoder(w).Encode(p); err != nil {
		return errors.Wrap(err, "failed to encode pipeline")
	}
	if err := w.Flush(); err != nil {
		return errors.Wrap(err, "failed to write model file")
	}
	return file.Sync()
}

// Load decodes a pipeline written by Save.
func Load(path string) (*Pipeline, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WithHint(
				errors.NotFoundf("model file not found: %s", path),
				"run train first or pass --model",
			)
		}
		return nil, errors.Wrap(err, "failed to open model file")
	}
	defer file.Close()

	var p Pipeline
	if err := gob.NewDecoder(bufio.NewReader(file)).Decode(&p); err != nil {
		return nil, errors.Wrapf(err, "failed to decode pipeline %s", path)
	}
	if p.Scaler == nil || p.Classifier == nil {
		return nil, errors.Validationf("model file %s holds an incomplete pipeline", path)
	}
	return &p, nil
}
