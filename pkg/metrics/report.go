package metrics

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/sjwhitworth/golearn/evaluation"
)

// ClassScores are the per-class rows of a classification report.
type ClassScores struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1-score"`
	Support   int     `json:"support"`
}

// ClassificationReport holds per-class scores plus accuracy and the macro
// and support-weighted averages.
type ClassificationReport struct {
	Labels      []string
	Classes     map[string]ClassScores
	Accuracy    float64
	MacroAvg    ClassScores
	WeightedAvg ClassScores

	matrix evaluation.ConfusionMatrix
}

// NewClassificationReport scores every label seen in y or pred.
func NewClassificationReport(y, pred []int) *ClassificationReport {
	labels := unionLabels(y, pred)
	cm := ConfusionMatrix(y, pred, labels)

	r := &ClassificationReport{
		Classes:  make(map[string]ClassScores, len(labels)),
		Accuracy: zeroNaN(evaluation.GetAccuracy(cm)),
		matrix:   cm,
	}
	total := 0
	for _, l := range labels {
		name := strconv.Itoa(l)
		p, rc := classPrecisionRecall(name, cm)
		support := 0
		for _, n := range cm[name] {
			support += n
		}
		s := ClassScores{Precision: p, Recall: rc, F1: f1(p, rc), Support: support}
		r.Labels = append(r.Labels, name)
		r.Classes[name] = s
		total += support

		r.MacroAvg.Precision += s.Precision
		r.MacroAvg.Recall += s.Recall
		r.MacroAvg.F1 += s.F1
		w := float64(support)
		r.WeightedAvg.Precision += w * s.Precision
		r.WeightedAvg.Recall += w * s.Recall
		r.WeightedAvg.F1 += w * s.F1
	}
	if n := float64(len(labels)); n > 0 {
		r.MacroAvg.Precision /= n
		r.MacroAvg.Recall /= n
		r.MacroAvg.F1 /= n
	}
	if total > 0 {
		w := float64(total)
		r.WeightedAvg.Precision /= w
		r.WeightedAvg.Recall /= w
		r.WeightedAvg.F1 /= w
	}
	r.MacroAvg.Support = total
	r.WeightedAvg.Support = total
	return r
}

// ConfusionMatrix returns the underlying actual -> predicted counts.
func (r *ClassificationReport) ConfusionMatrix() evaluation.ConfusionMatrix {
	return r.matrix
}

// Summary renders the per-class table as plain text.
func (r *ClassificationReport) Summary() string {
	return evaluation.GetSummary(r.matrix)
}

// MarshalJSON writes the report as one flat object: one key per class
// label, then "accuracy", "macro avg" and "weighted avg".
func (r *ClassificationReport) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	write := func(key string, v any) error {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(key)
		buf.Write(k)
		buf.WriteByte(':')
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
	for _, l := range r.Labels {
		if err := write(l, r.Classes[l]); err != nil {
			return nil, err
		}
	}
	if err := write("accuracy", r.Accuracy); err != nil {
		return nil, err
	}
	if err := write("macro avg", r.MacroAvg); err != nil {
		return nil, err
	}
	if err := write("weighted avg", r.WeightedAvg); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
