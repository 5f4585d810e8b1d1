// Package metrics scores a fitted classifier on a labelled split.
package metrics

import (
	"math"
	"sort"
	"strconv"

	"github.com/sjwhitworth/golearn/evaluation"

	"github.com/telcovision/churn/pkg/errors"
	"github.com/telcovision/churn/pkg/models"
)

// PositiveClass is the label scored by binary precision, recall and f1.
const PositiveClass = 1

// Predictor is what Evaluate needs from a fitted pipeline.
type Predictor interface {
	Predict(X [][]float64) ([]int, error)
	// PredictProba returns ok == false when probabilities are unavailable.
	PredictProba(X [][]float64) ([][]float64, bool, error)
	// Classes returns the labels in probability column order.
	Classes() []int
}

// Predictions are the raw outputs Evaluate scores
type Predictions struct {
	Labels []int
	// Proba is nil when the classifier has no probability estimates.
	Proba   [][]float64
	Classes []int
}

// Predict collects hard labels and, when available, probabilities.
func Predict(p Predictor, X [][]float64) (*Predictions, error) {
	labels, err := p.Predict(X)
	if err != nil {
		return nil, errors.Wrap(err, "predict labels")
	}
	proba, ok, err := p.PredictProba(X)
	if err != nil {
		return nil, errors.Wrap(err, "predict probabilities")
	}
	if !ok {
		proba = nil
	}
	return &Predictions{Labels: labels, Proba: proba, Classes: p.Classes()}, nil
}

// Evaluate predicts X and scores the result against y.
func Evaluate(p Predictor, X [][]float64, y []int) (models.Metrics, error) {
	if len(X) == 0 {
		return models.Metrics{}, errors.Validationf("empty test data")
	}
	if len(X) != len(y) {
		return models.Metrics{}, errors.Validationf("X has %d rows but y has %d labels", len(X), len(y))
	}
	pred, err := Predict(p, X)
	if err != nil {
		return models.Metrics{}, err
	}
	return Score(y, pred), nil
}

// Score computes the headline metrics. Precision, recall and f1 treat zero
// division as 0; they score PositiveClass for binary labels and are macro
// averaged over more classes. ROCAUC is nil without probabilities or when
// AUC is undefined.
func Score(y []int, pred *Predictions) models.Metrics {
	labels := unionLabels(y, pred.Labels)
	cm := ConfusionMatrix(y, pred.Labels, labels)

	m := models.Metrics{Accuracy: zeroNaN(evaluation.GetAccuracy(cm))}
	if len(labels) <= 2 {
		pos := strconv.Itoa(PositiveClass)
		m.Precision = zeroNaN(evaluation.GetPrecision(pos, cm))
		m.Recall = zeroNaN(evaluation.GetRecall(pos, cm))
		m.F1 = f1(m.Precision, m.Recall)
	} else {
		for _, l := range labels {
			p, r := classPrecisionRecall(strconv.Itoa(l), cm)
			m.Precision += p
			m.Recall += r
			m.F1 += f1(p, r)
		}
		n := float64(len(labels))
		m.Precision /= n
		m.Recall /= n
		m.F1 /= n
	}

	if pred.Proba != nil {
		if auc, ok := ROCAUC(y, pred.Proba, pred.Classes); ok {
			m.ROCAUC = models.Float(auc)
		}
	}
	return m
}

// ROCAUC returns the area under the ROC curve. Binary problems score the
// PositiveClass column (the last column when it is absent); more classes
// are macro averaged one-vs-rest. ok is false when AUC is undefined.
func ROCAUC(y []int, proba [][]float64, classes []int) (float64, bool) {
	if len(proba) != len(y) || len(classes) < 2 {
		return 0, false
	}
	known := make(map[int]bool, len(classes))
	for _, c := range classes {
		known[c] = true
	}
	for _, v := range y {
		if !known[v] {
			return 0, false
		}
	}

	if len(classes) == 2 {
		col := PositiveColumn(classes)
		auc, ok := binaryAUC(y, column(proba, col), classes[col])
		return auc, ok
	}

	total := 0.0
	for k, c := range classes {
		auc, ok := binaryAUC(y, column(proba, k), c)
		if !ok {
			return 0, false
		}
		total += auc
	}
	return total / float64(len(classes)), true
}

// PositiveColumn returns the probability column of PositiveClass, or the
// last column when the classifier never saw it.
func PositiveColumn(classes []int) int {
	for i, c := range classes {
		if c == PositiveClass {
			return i
		}
	}
	return len(classes) - 1
}

func binaryAUC(y []int, scores []float64, positive int) (float64, bool) {
	truth := make([]bool, len(y))
	for i, v := range y {
		truth[i] = v == positive
	}
	curve, err := ROCCurve(truth, scores)
	if err != nil {
		return 0, false
	}
	return curve.AUC, true
}

// ConfusionMatrix counts actual -> predicted label pairs. Every label in
// labels gets a row so per-class lookups never hit a nil map.
func ConfusionMatrix(y, pred []int, labels []int) evaluation.ConfusionMatrix {
	cm := make(evaluation.ConfusionMatrix, len(labels))
	for _, a := range labels {
		row := make(map[string]int, len(labels))
		for _, p := range labels {
			row[strconv.Itoa(p)] = 0
		}
		cm[strconv.Itoa(a)] = row
	}
	for i := range y {
		a, p := strconv.Itoa(y[i]), strconv.Itoa(pred[i])
		if cm[a] == nil {
			cm[a] = make(map[string]int)
		}
		cm[a][p]++
	}
	return cm
}

// BinaryCells returns tn, fp, fn, tp for a confusion matrix scored on PositiveClass.
func BinaryCells(cm evaluation.ConfusionMatrix) (tn, fp, fn, tp int) {
	pos := strconv.Itoa(PositiveClass)
	for actual, row := range cm {
		for predicted, n := range row {
			switch {
			case actual == pos && predicted == pos:
				tp += n
			case actual == pos:
				fn += n
			case predicted == pos:
				fp += n
			default:
				tn += n
			}
		}
	}
	return tn, fp, fn, tp
}

func classPrecisionRecall(class string, cm evaluation.ConfusionMatrix) (float64, float64) {
	return zeroNaN(evaluation.GetPrecision(class, cm)), zeroNaN(evaluation.GetRecall(class, cm))
}

func f1(p, r float64) float64 {
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

func zeroNaN(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func unionLabels(a, b []int) []int {
	seen := make(map[int]bool)
	var out []int
	for _, s := range [][]int{a, b} {
		for _, v := range s {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	sort.Ints(out)
	return out
}

func column(proba [][]float64, k int) []float64 {
	out := make([]float64, len(proba))
	for i, row := range proba {
		out[i] = row[k]
	}
	return out
}
