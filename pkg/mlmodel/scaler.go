package mlmodel

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/telcovision/churn/pkg/errors"
)

// StandardScaler centres each feature on its training mean and divides by
// its population standard deviation. Constant features keep a scale of 1.
type StandardScaler struct {
	Mean  []float64
	Scale []float64
}

// Fit learns per-feature mean and scale.
func (s *StandardScaler) Fit(X [][]float64) error {
	if len(X) == 0 {
		return errors.Validationf("cannot fit scaler on empty data")
	}
	d := len(X[0])
	s.Mean = make([]float64, d)
	s.Scale = make([]float64, d)

	col := make([]float64, len(X))
	for j := 0; j < d; j++ {
		for i, row := range X {
			col[i] = row[j]
		}
		mean, variance := stat.PopMeanVariance(col, nil)
		s.Mean[j] = mean
		s.Scale[j] = math.Sqrt(variance)
		if s.Scale[j] == 0 || math.IsNaN(s.Scale[j]) {
			s.Scale[j] = 1
		}
	}
	return nil
}

// Transform returns a standardised copy of X.
func (s *StandardScaler) Transform(X [][]float64) ([][]float64, error) {
	if s.Mean == nil {
		return nil, errors.New("scaler not fitted")
	}
	if err := checkInput(X, len(s.Mean)); err != nil {
		return nil, err
	}
	out := make([][]float64, len(X))
	for i, row := range X {
		r := make([]float64, len(row))
		for j, v := range row {
			r[j] = (v - s.Mean[j]) / s.Scale[j]
		}
		out[i] = r
	}
	return out, nil
}

// FitTransform fits the scaler and transforms X.
func (s *StandardScaler) FitTransform(X [][]float64) ([][]float64, error) {
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.Transform(X)
}
