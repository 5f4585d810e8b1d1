package dataset

import (
	"encoding/csv"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/telcovision/churn/pkg/errors"
)

// naTokens are read as missing values, matching common dataframe readers.
// Whitespace-only cells are not missing.
var naTokens = map[string]bool{
	"":        true,
	"NA":      true,
	"N/A":     true,
	"n/a":     true,
	"#N/A":    true,
	"NaN":     true,
	"nan":     true,
	"-NaN":    true,
	"-nan":    true,
	"NULL":    true,
	"null":    true,
	"None":    true,
	"<NA>":    true,
	"#NA":     true,
	"1.#IND":  true,
	"1.#QNAN": true,
}

// IsNA reports whether a raw cell is a missing-value token.
func IsNA(s string) bool {
	return naTokens[s]
}

// ParseNumber parses a cell as a number. Booleans map to 1 and 0.
// Infinities and NaN spellings are rejected.
func ParseNumber(s string) (float64, bool) {
	t := strings.TrimSpace(s)
	if t == "" {
		return 0, false
	}
	switch strings.ToLower(t) {
	case "true":
		return 1, true
	case "false":
		return 0, true
	}
	v, err := strconv.ParseFloat(t, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// nonFinite reports whether a cell spells an infinity or NaN.
func nonFinite(s string) bool {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return err == nil && (math.IsInf(v, 0) || math.IsNaN(v))
}

// ReadCSV reads a headed CSV. A column is numeric when every non-missing
// cell parses as a number; otherwise it is text. Infinite cells of a
// numeric column are missing.
func ReadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to read CSV"), errors.ErrValidation)
	}
	if len(records) == 0 {
		return nil, errors.Validationf("CSV has no header row")
	}

	header := records[0]
	rows := records[1:]

	t := &Table{}
	for j, name := range header {
		cells := make([]string, len(rows))
		for i, rec := range rows {
			cells[i] = rec[j]
		}
		if err := t.Add(inferColumn(name, cells)); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func inferColumn(name string, cells []string) *Column {
	numbers := make([]float64, len(cells))
	numeric := true
	for i, s := range cells {
		if IsNA(s) || nonFinite(s) {
			numbers[i] = math.NaN()
			continue
		}
		v, ok := ParseNumber(s)
		if !ok {
			numeric = false
			break
		}
		numbers[i] = v
	}
	if numeric {
		return NewNumericColumn(name, numbers)
	}

	valid := make([]bool, len(cells))
	text := make([]string, len(cells))
	for i, s := range cells {
		if !IsNA(s) {
			valid[i] = true
			text[i] = s
		}
	}
	return NewTextColumn(name, text, valid)
}

// ReadCSVFile reads a CSV file. A missing file is a not-found error.
func ReadCSVFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFoundf("input file not found: %s", path)
		}
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	t, err := ReadCSV(f)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return t, nil
}

// WriteCSV writes the table with a header row. Missing values are empty cells.
func WriteCSV(w io.Writer, t *Table) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(t.Names()); err != nil {
		return errors.Wrap(err, "write header")
	}

	record := make([]string, len(t.Columns))
	for i := 0; i < t.NumRows(); i++ {
		for j, c := range t.Columns {
			record[j] = FormatCell(c, i)
		}
		if err := writer.Write(record); err != nil {
			return errors.Wrapf(err, "write row %d", i)
		}
	}
	writer.Flush()
	return writer.Error()
}

// FormatCell renders row i of c as CSV text.
func FormatCell(c *Column, i int) string {
	if c.IsMissing(i) {
		return ""
	}
	if c.Kind == KindText {
		return c.Text[i]
	}
	return strconv.FormatFloat(c.Numbers[i], 'g', -1, 64)
}

// WriteCSVFile writes the table to path, creating parent directories. The
// file is written to a temporary sibling and renamed so a failed write never
// leaves a partial output behind.
func WriteCSVFile(path string, t *Table) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	defer os.Remove(tmp.Name())

	if err := WriteCSV(tmp, t); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "rename to %s", path)
	}
	return nil
}
