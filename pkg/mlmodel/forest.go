package mlmodel

import (
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/telcovision/churn/pkg/config"
	"github.com/telcovision/churn/pkg/errors"
	"github.com/telcovision/churn/pkg/models"
)

// RandomForest is a bagged ensemble of CART trees. Probabilities are the
// mean of the leaf class distributions across trees.
type RandomForest struct {
	Params      config.RandomForestParams
	Trees       []*DecisionTree
	ClassLabels []int
	NFeatures   int
	Importances []float64
}

// NewRandomForest creates an unfitted forest.
func NewRandomForest(p config.RandomForestParams) *RandomForest {
	return &RandomForest{Params: p}
}

// Type returns the classifier family.
func (rf *RandomForest) Type() models.ModelType {
	return models.ModelTypeRandomForest
}

// Classes returns the sorted class labels seen during Fit.
func (rf *RandomForest) Classes() []int {
	return rf.ClassLabels
}

// Workers returns how many trees are grown concurrently.
func (rf *RandomForest) Workers() int {
	n := rf.Params.NJobs
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if n > rf.Params.NEstimators {
		n = rf.Params.NEstimators
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Fit grows the trees. Every tree gets its own seed, drawn up front from
// the forest seed, so the result does not depend on scheduling.
func (rf *RandomForest) Fit(X [][]float64, y []int) error {
	d, err := checkTrainingData(X, y)
	if err != nil {
		return err
	}
	maxFeatures, err := rf.Params.MaxFeatures.Resolve(d)
	if err != nil {
		return err
	}

	classes, idx := encodeLabels(y)
	rf.ClassLabels = classes
	rf.NFeatures = d

	var seed int64
	if rf.Params.RandomState != nil {
		seed = *rf.Params.RandomState
	}
	master := rand.New(rand.NewSource(seed))
	seeds := make([]int64, rf.Params.NEstimators)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	tp := treeParams{
		maxDepth:        rf.Params.MaxDepth,
		minSamplesSplit: rf.Params.MinSamplesSplit,
		minSamplesLeaf:  rf.Params.MinSamplesLeaf,
		maxFeatures:     maxFeatures,
	}

	trees := make([]*DecisionTree, rf.Params.NEstimators)
	var g errgroup.Group
	g.SetLimit(rf.Workers())
	for i := range trees {
		g.Go(func() error {
			rng := rand.New(rand.NewSource(seeds[i]))
			samples := make([]int, len(X))
			for j := range samples {
				if rf.Params.Bootstrap {
					samples[j] = rng.Intn(len(X))
				} else {
					samples[j] = j
				}
			}
			trees[i] = growTree(X, idx, samples, len(classes), tp, rng)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "grow trees")
	}
	rf.Trees = trees

	rf.Importances = make([]float64, d)
	for _, t := range trees {
		for j, v := range t.Importances {
			rf.Importances[j] += v
		}
	}
	total := 0.0
	for _, v := range rf.Importances {
		total += v
	}
	if total > 0 {
		for j := range rf.Importances {
			rf.Importances[j] /= total
		}
	}
	return nil
}

// PredictProba averages leaf class distributions over all trees.
func (rf *RandomForest) PredictProba(X [][]float64) ([][]float64, error) {
	if len(rf.Trees) == 0 {
		return nil, errors.New("model not trained")
	}
	if err := checkInput(X, rf.NFeatures); err != nil {
		return nil, err
	}
	out := make([][]float64, len(X))
	scale := 1 / float64(len(rf.Trees))
	for i, row := range X {
		p := make([]float64, len(rf.ClassLabels))
		for _, t := range rf.Trees {
			for k, v := range t.leaf(row) {
				p[k] += v
			}
		}
		for k := range p {
			p[k] *= scale
		}
		out[i] = p
	}
	return out, nil
}

// Predict returns the class with the highest mean probability per row.
func (rf *RandomForest) Predict(X [][]float64) ([]int, error) {
	proba, err := rf.PredictProba(X)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(proba))
	for i, p := range proba {
		out[i] = rf.ClassLabels[argmax(p)]
	}
	return out, nil
}

// FeatureImportances returns the normalised mean impurity decrease per feature.
func (rf *RandomForest) FeatureImportances() []float64 {
	return rf.Importances
}
