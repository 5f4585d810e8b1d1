// Package mlmodel holds the fitted model pipeline: a standard scaler in
// front of one classifier family, and its binary artifact format.
package mlmodel

import (
	"sort"

	"github.com/telcovision/churn/pkg/config"
	"github.com/telcovision/churn/pkg/errors"
	"github.com/telcovision/churn/pkg/models"
)

// Classifier is a supervised model over integer class labels
type Classifier interface {
	// Fit trains on row-major features and labels
	Fit(X [][]float64, y []int) error

	// Predict returns one class label per row
	Predict(X [][]float64) ([]int, error)

	// Classes returns the sorted class labels seen during Fit
	Classes() []int

	// Type returns the classifier family
	Type() models.ModelType
}

// ProbabilityEstimator is implemented by classifiers that expose class
// probabilities. Columns follow Classes().
type ProbabilityEstimator interface {
	PredictProba(X [][]float64) ([][]float64, error)
}

// FeatureImporter is implemented by classifiers that rank their inputs.
type FeatureImporter interface {
	FeatureImportances() []float64
}

// NewClassifier builds an unfitted classifier for the selected family.
func NewClassifier(mc config.ModelConfig) (Classifier, error) {
	if err := mc.Validate(); err != nil {
		return nil, err
	}
	switch mc.Type {
	case models.ModelTypeRandomForest:
		return NewRandomForest(*mc.RandomForest), nil
	case models.ModelTypeLogisticRegression:
		return NewLogisticRegression(*mc.LogisticRegression), nil
	}
	return nil, errors.Validationf("no classifier available for model type: %s", mc.Type)
}

// encodeLabels maps labels to dense class indices over the sorted distinct labels.
func encodeLabels(y []int) (classes []int, idx []int) {
	seen := make(map[int]bool)
	for _, v := range y {
		if !seen[v] {
			seen[v] = true
			classes = append(classes, v)
		}
	}
	sort.Ints(classes)

	pos := make(map[int]int, len(classes))
	for i, c := range classes {
		pos[c] = i
	}
	idx = make([]int, len(y))
	for i, v := range y {
		idx[i] = pos[v]
	}
	return classes, idx
}

func checkTrainingData(X [][]float64, y []int) (int, error) {
	if len(X) == 0 {
		return 0, errors.Validationf("no training data provided")
	}
	if len(X) != len(y) {
		return 0, errors.Validationf("X has %d rows but y has %d labels", len(X), len(y))
	}
	d := len(X[0])
	for i, row := range X {
		if len(row) != d {
			return 0, errors.Validationf("row %d has %d features, expected %d", i, len(row), d)
		}
	}
	return d, nil
}

func checkInput(X [][]float64, nFeatures int) error {
	for i, row := range X {
		if len(row) != nFeatures {
			return errors.Validationf("row %d has %d features, model expects %d", i, len(row), nFeatures)
		}
	}
	return nil
}

// argmax returns the first index of the largest value.
func argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}
