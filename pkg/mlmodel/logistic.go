package mlmodel

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"

	"github.com/telcovision/churn/pkg/config"
	"github.com/telcovision/churn/pkg/errors"
	"github.com/telcovision/churn/pkg/models"
)

// LogisticRegression is an L2-regularised logistic regression fitted with
// L-BFGS. More than two classes are handled one-vs-rest.
type LogisticRegression struct {
	Params      config.LogisticRegressionParams
	ClassLabels []int
	// Coef holds one weight vector per binary problem; a binary model has one.
	Coef      [][]float64
	Intercept []float64
	NFeatures int
	// Iterations is the optimizer iteration count per binary problem.
	Iterations []int
}

// NewLogisticRegression creates an unfitted model.
func NewLogisticRegression(p config.LogisticRegressionParams) *LogisticRegression {
	return &LogisticRegression{Params: p}
}

// Type returns the classifier family.
func (m *LogisticRegression) Type() models.ModelType {
	return models.ModelTypeLogisticRegression
}

// Classes returns the sorted class labels seen during Fit.
func (m *LogisticRegression) Classes() []int {
	return m.ClassLabels
}

// Fit trains the model.
func (m *LogisticRegression) Fit(X [][]float64, y []int) error {
	d, err := checkTrainingData(X, y)
	if err != nil {
		return err
	}
	classes, idx := encodeLabels(y)
	if len(classes) < 2 {
		return errors.Validationf("logistic regression needs at least 2 classes, got %d", len(classes))
	}

	m.ClassLabels = classes
	m.NFeatures = d
	m.Coef = nil
	m.Intercept = nil
	m.Iterations = nil

	problems := len(classes)
	if problems == 2 {
		problems = 1
	}
	for k := 0; k < problems; k++ {
		target := make([]float64, len(idx))
		positive := k
		if len(classes) == 2 {
			positive = 1
		}
		for i, c := range idx {
			if c == positive {
				target[i] = 1
			}
		}
		w, b, iters, err := m.fitBinary(X, target)
		if err != nil {
			return errors.Wrapf(err, "fit class %d", classes[positive])
		}
		m.Coef = append(m.Coef, w)
		m.Intercept = append(m.Intercept, b)
		m.Iterations = append(m.Iterations, iters)
	}
	return nil
}

// fitBinary minimises sum(logloss) + ||w||^2 / (2C) over w and the intercept.
func (m *LogisticRegression) fitBinary(X [][]float64, t []float64) ([]float64, float64, int, error) {
	d := len(X[0])
	n := d
	if m.Params.FitIntercept {
		n++
	}
	alpha := 0.0
	if m.Params.Penalty == "l2" {
		alpha = 1 / m.Params.C
	}

	z := make([]float64, len(X))
	linear := func(x []float64) {
		for i, row := range X {
			z[i] = floats.Dot(row, x[:d])
			if m.Params.FitIntercept {
				z[i] += x[d]
			}
		}
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			linear(x)
			loss := 0.0
			for i, zi := range z {
				// log(1+exp(z)) - t*z
				loss += softplus(zi) - t[i]*zi
			}
			w := x[:d]
			return loss + 0.5*alpha*floats.Dot(w, w)
		},
		Grad: func(grad, x []float64) {
			linear(x)
			for j := range grad {
				grad[j] = 0
			}
			for i, row := range X {
				r := sigmoid(z[i]) - t[i]
				floats.AddScaled(grad[:d], r, row)
				if m.Params.FitIntercept {
					grad[d] += r
				}
			}
			floats.AddScaled(grad[:d], alpha, x[:d])
		},
	}

	settings := &optimize.Settings{
		MajorIterations:   m.Params.MaxIter,
		GradientThreshold: m.Params.Tol,
	}

	result, err := optimize.Minimize(problem, make([]float64, n), settings, &optimize.LBFGS{})
	if result == nil {
		if err == nil {
			err = errors.New("optimizer returned no result")
		}
		return nil, 0, 0, errors.Wrap(err, "minimize log loss")
	}
	// Hitting the iteration limit still leaves a usable solution.
	for _, v := range result.X {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, 0, 0, errors.Newf("optimizer diverged: %v", err)
		}
	}

	w := append([]float64(nil), result.X[:d]...)
	b := 0.0
	if m.Params.FitIntercept {
		b = result.X[d]
	}
	return w, b, result.Stats.MajorIterations, nil
}

// DecisionFunction returns the linear score of every binary problem per row.
func (m *LogisticRegression) DecisionFunction(X [][]float64) ([][]float64, error) {
	if m.Coef == nil {
		return nil, errors.New("model not trained")
	}
	if err := checkInput(X, m.NFeatures); err != nil {
		return nil, err
	}
	out := make([][]float64, len(X))
	for i, row := range X {
		scores := make([]float64, len(m.Coef))
		for k, w := range m.Coef {
			scores[k] = floats.Dot(row, w) + m.Intercept[k]
		}
		out[i] = scores
	}
	return out, nil
}

// PredictProba returns class probabilities. One-vs-rest scores are normalised
// to sum to one.
func (m *LogisticRegression) PredictProba(X [][]float64) ([][]float64, error) {
	scores, err := m.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	out := make([][]float64, len(scores))
	for i, s := range scores {
		if len(m.ClassLabels) == 2 {
			p := sigmoid(s[0])
			out[i] = []float64{1 - p, p}
			continue
		}
		probs := make([]float64, len(s))
		for k, v := range s {
			probs[k] = sigmoid(v)
		}
		if sum := floats.Sum(probs); sum > 0 {
			floats.Scale(1/sum, probs)
		}
		out[i] = probs
	}
	return out, nil
}

// Predict returns the most probable class per row.
func (m *LogisticRegression) Predict(X [][]float64) ([]int, error) {
	proba, err := m.PredictProba(X)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(proba))
	for i, p := range proba {
		out[i] = m.ClassLabels[argmax(p)]
	}
	return out, nil
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// softplus computes log(1+exp(z)) without overflow.
func softplus(z float64) float64 {
	if z > 0 {
		return z + math.Log1p(math.Exp(-z))
	}
	return math.Log1p(math.Exp(z))
}
