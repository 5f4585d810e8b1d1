package experiments

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/olekukonko/tablewriter"

	"github.com/telcovision/churn/pkg/errors"
	"github.com/telcovision/churn/pkg/models"
	"github.com/telcovision/churn/pkg/training"
)

// Row is the outcome of one config.
type Row struct {
	Config     string   `json:"config"`
	Status     string   `json:"status"`
	ModelType  string   `json:"model_type,omitempty"`
	RunID      string   `json:"run_id,omitempty"`
	Accuracy   *float64 `json:"accuracy,omitempty"`
	Precision  *float64 `json:"precision,omitempty"`
	Recall     *float64 `json:"recall,omitempty"`
	F1         *float64 `json:"f1,omitempty"`
	ROCAUC     *float64 `json:"roc_auc,omitempty"`
	Error      string   `json:"error,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
	DurationMS int64    `json:"duration_ms"`
}

func (r *Row) fill(res *training.Result) {
	m := res.Metrics
	r.Status = StatusSuccess
	r.RunID = res.RunID
	r.Accuracy = models.Float(m.Accuracy)
	r.Precision = models.Float(m.Precision)
	r.Recall = models.Float(m.Recall)
	r.F1 = models.Float(m.F1)
	r.ROCAUC = m.ROCAUC
	r.Warnings = res.Warnings
}

// Metric returns the named metric and whether the row has it.
func (r *Row) Metric(name string) (float64, bool) {
	var v *float64
	switch name {
	case models.MetricAccuracy:
		v = r.Accuracy
	case models.MetricPrecision:
		v = r.Precision
	case models.MetricRecall:
		v = r.Recall
	case models.MetricF1:
		v = r.F1
	case models.MetricROCAUC:
		v = r.ROCAUC
	}
	if v == nil {
		return 0, false
	}
	return *v, true
}

// Summary is a ranked batch of experiment rows.
type Summary struct {
	Experiment string `json:"experiment"`
	Metric     string `json:"metric"`
	Ascending  bool   `json:"ascending"`
	Rows       []Row  `json:"results"`
}

// Rank orders rows by the summary metric, best first. Rows without the
// metric go last in their original order.
func (s *Summary) Rank() {
	sort.SliceStable(s.Rows, func(i, j int) bool {
		a, aok := s.Rows[i].Metric(s.Metric)
		b, bok := s.Rows[j].Metric(s.Metric)
		switch {
		case aok && bok:
			if s.Ascending {
				return a < b
			}
			return a > b
		default:
			return aok && !bok
		}
	})
}

// Best returns the top ranked row that has the metric.
func (s *Summary) Best() (*Row, bool) {
	for i := range s.Rows {
		if _, ok := s.Rows[i].Metric(s.Metric); ok {
			return &s.Rows[i], true
		}
	}
	return nil, false
}

// Succeeded counts successful rows.
func (s *Summary) Succeeded() int {
	n := 0
	for _, r := range s.Rows {
		if r.Status == StatusSuccess {
			n++
		}
	}
	return n
}

// Failed counts failed rows.
func (s *Summary) Failed() int {
	return len(s.Rows) - s.Succeeded()
}

// csvRow is the flat CSV layout of a Row. Missing metrics are empty cells.
type csvRow struct {
	Config    string `csv:"config"`
	Status    string `csv:"status"`
	ModelType string `csv:"model_type"`
	RunID     string `csv:"run_id"`
	Accuracy  string `csv:"accuracy"`
	Precision string `csv:"precision"`
	Recall    string `csv:"recall"`
	F1        string `csv:"f1"`
	ROCAUC    string `csv:"roc_auc"`
	Error     string `csv:"error"`
}

func formatMetric(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}

// WriteCSV writes the ranked rows as CSV.
func (s *Summary) WriteCSV(w io.Writer) error {
	rows := make([]*csvRow, len(s.Rows))
	for i, r := range s.Rows {
		rows[i] = &csvRow{
			Config:    r.Config,
			Status:    r.Status,
			ModelType: r.ModelType,
			RunID:     r.RunID,
			Accuracy:  formatMetric(r.Accuracy),
			Precision: formatMetric(r.Precision),
			Recall:    formatMetric(r.Recall),
			F1:        formatMetric(r.F1),
			ROCAUC:    formatMetric(r.ROCAUC),
			Error:     r.Error,
		}
	}
	return gocsv.Marshal(&rows, w)
}

// WriteReport writes the CSV and JSON reports next to path and returns
// their locations. The extension of path is replaced.
func (s *Summary) WriteReport(path string) (csvPath, jsonPath string, err error) {
	base := strings.TrimSuffix(path, filepath.Ext(path))
	csvPath, jsonPath = base+".csv", base+".json"
	if err := os.MkdirAll(filepath.Dir(csvPath), 0o755); err != nil {
		return "", "", errors.Wrapf(err, "create directory for %s", csvPath)
	}

	if err := writeFile(csvPath, s.WriteCSV); err != nil {
		return "", "", err
	}
	err = writeFile(jsonPath, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s.Rows)
	})
	if err != nil {
		return "", "", err
	}
	return csvPath, jsonPath, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	w := bufio.NewWriter(f)
	if err := write(w); err != nil {
		f.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	return f.Close()
}

// Print renders the ranked rows as a table and announces the best one.
func (s *Summary) Print(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(append([]string{"config", "status"}, models.MetricNames...))
	table.SetAutoFormatHeaders(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, r := range s.Rows {
		line := []string{r.Config, r.Status}
		for _, name := range models.MetricNames {
			if v, ok := r.Metric(name); ok {
				line = append(line, strconv.FormatFloat(v, 'f', 4, 64))
			} else {
				line = append(line, "-")
			}
		}
		table.Append(line)
	}
	table.Render()

	fmt.Fprintf(w, "\nTotal: %d  Succeeded: %d  Failed: %d\n", len(s.Rows), s.Succeeded(), s.Failed())
	if best, ok := s.Best(); ok {
		v, _ := best.Metric(s.Metric)
		fmt.Fprintf(w, "Best model: %s (%s: %.4f)\n", best.Config, s.Metric, v)
	}
}
