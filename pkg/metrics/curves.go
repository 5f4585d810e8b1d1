package metrics

import (
	"sort"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"

	"github.com/telcovision/churn/pkg/errors"
)

// ROC is a receiver operating characteristic curve. Points run from the
// strictest threshold (0, 0) to the loosest (1, 1).
type ROC struct {
	FPR        []float64 `json:"fpr"`
	TPR        []float64 `json:"tpr"`
	Thresholds []float64 `json:"thresholds"`
	AUC        float64   `json:"auc"`
}

// ROCCurve computes the ROC curve of scores against binary truth. Tied
// scores collapse into one point. Both classes must be present.
func ROCCurve(truth []bool, scores []float64) (*ROC, error) {
	ys, cls, err := sortedScores(truth, scores)
	if err != nil {
		return nil, err
	}
	tpr, fpr, thresh := stat.ROC(nil, ys, cls, nil)
	return &ROC{
		FPR:        fpr,
		TPR:        tpr,
		Thresholds: thresh,
		AUC:        integrate.Trapezoidal(fpr, tpr),
	}, nil
}

// PR is a precision-recall curve ordered by increasing recall.
type PR struct {
	Precision  []float64 `json:"precision"`
	Recall     []float64 `json:"recall"`
	Thresholds []float64 `json:"thresholds"`
	// AveragePrecision is the step-wise area under the curve.
	AveragePrecision float64 `json:"average_precision"`
}

// PrecisionRecallCurve computes precision and recall at every distinct
// score. The curve starts at recall 0 with precision 1.
func PrecisionRecallCurve(truth []bool, scores []float64) (*PR, error) {
	ys, cls, err := sortedScores(truth, scores)
	if err != nil {
		return nil, err
	}

	positives := 0.0
	for _, c := range cls {
		if c {
			positives++
		}
	}

	pr := &PR{Precision: []float64{1}, Recall: []float64{0}}
	tp, fp := 0.0, 0.0
	prevRecall := 0.0
	// Walk from the highest score down, emitting a point after each run of ties.
	for i := len(ys) - 1; i >= 0; i-- {
		if cls[i] {
			tp++
		} else {
			fp++
		}
		if i > 0 && ys[i-1] == ys[i] {
			continue
		}
		precision := tp / (tp + fp)
		recall := tp / positives
		pr.Precision = append(pr.Precision, precision)
		pr.Recall = append(pr.Recall, recall)
		pr.Thresholds = append(pr.Thresholds, ys[i])
		pr.AveragePrecision += (recall - prevRecall) * precision
		prevRecall = recall
	}
	return pr, nil
}

// AveragePrecision summarises the precision-recall curve as the weighted
// mean of precisions, weighted by the recall gained at each threshold.
func AveragePrecision(truth []bool, scores []float64) (float64, error) {
	pr, err := PrecisionRecallCurve(truth, scores)
	if err != nil {
		return 0, err
	}
	return pr.AveragePrecision, nil
}

// sortedScores returns scores sorted ascending with truth aligned to them.
func sortedScores(truth []bool, scores []float64) ([]float64, []bool, error) {
	if len(truth) != len(scores) {
		return nil, nil, errors.Validationf("%d labels for %d scores", len(truth), len(scores))
	}
	pos, neg := 0, 0
	for _, t := range truth {
		if t {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return nil, nil, errors.Validationf("curve needs both classes, got %d positive and %d negative", pos, neg)
	}

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] < scores[order[b]]
	})
	ys := make([]float64, len(order))
	cls := make([]bool, len(order))
	for i, j := range order {
		ys[i] = scores[j]
		cls[i] = truth[j]
	}
	return ys, cls, nil
}
