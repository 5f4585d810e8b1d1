package preprocess

import (
	"time"

	"github.com/telcovision/churn/pkg/dataset"
	"github.com/telcovision/churn/pkg/errors"
	"github.com/telcovision/churn/pkg/logger"
)

// Summary describes one file transformation
type Summary struct {
	Input      string        `json:"input"`
	Output     string        `json:"output"`
	Rows       int           `json:"rows"`
	RawColumns int           `json:"raw_columns"`
	Columns    int           `json:"columns"`
	ChurnRate  float64       `json:"churn_rate"`
	Duration   time.Duration `json:"duration"`
}

// TransformFile reads a raw CSV, transforms it and writes the processed CSV.
// Nothing is written when reading or transforming fails.
func TransformFile(input, output string) (*Summary, error) {
	log := logger.Named("preprocess")
	start := time.Now()

	raw, err := dataset.ReadCSVFile(input)
	if err != nil {
		return nil, err
	}
	log.Debugw("raw dataset loaded", logger.FieldPath, input, logger.FieldRows, raw.NumRows(), logger.FieldColumns, raw.NumColumns())

	processed, err := Transform(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "transform %s", input)
	}

	if err := dataset.WriteCSVFile(output, processed); err != nil {
		return nil, errors.Wrapf(err, "write %s", output)
	}

	s := &Summary{
		Input:      input,
		Output:     output,
		Rows:       processed.NumRows(),
		RawColumns: raw.NumColumns(),
		Columns:    processed.NumColumns(),
		ChurnRate:  churnRate(processed),
		Duration:   time.Since(start),
	}
	log.Infow("processed dataset written",
		logger.FieldPath, output,
		logger.FieldRows, s.Rows,
		logger.FieldColumns, s.Columns,
		"churn_rate", s.ChurnRate,
		logger.FieldDurationMS, s.Duration.Milliseconds(),
	)
	return s, nil
}

func churnRate(t *dataset.Table) float64 {
	c := t.Column(Target)
	if c == nil || c.Len() == 0 {
		return 0
	}
	var pos float64
	for _, v := range c.Numbers {
		pos += v
	}
	return pos / float64(c.Len())
}
