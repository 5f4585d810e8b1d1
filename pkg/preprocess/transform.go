// Package preprocess turns a raw telecom customer table into the fully
// numeric table the classifiers train on.
package preprocess

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/montanaflynn/stats"

	"github.com/telcovision/churn/pkg/dataset"
	"github.com/telcovision/churn/pkg/errors"
)

// Target is the label column every processed table ends with.
const Target = "churn"

var (
	// identifierColumns are dropped; only the first one present is removed.
	identifierColumns = []string{"customer_id", "customerid"}

	// totalChargesColumn is stored as text by some exports because of blank cells.
	totalChargesColumn = "total_charges"

	// numericColumns get missing values filled with their truncated median.
	numericColumns = []string{"age", "tenure_months", "monthly_charges", "total_charges"}

	// noServiceValues collapse to "No" in every text column.
	noServiceValues = map[string]bool{
		"No phone service":    true,
		"No internet service": true,
	}
)

// ErrMissingTarget is returned when the raw table has no churn column.
var ErrMissingTarget = errors.Mark(errors.New("missing target column \"churn\""), errors.ErrValidation)

// Transform cleans and encodes raw. The input table is not modified.
//
// The output has the numeric columns first in their original order, then
// one indicator column per non-reference category of every text column,
// then the churn column as 0/1.
func Transform(raw *dataset.Table) (*dataset.Table, error) {
	t := raw.Clone()

	normalizeNames(t)
	if err := checkUniqueNames(t); err != nil {
		return nil, err
	}

	for _, id := range identifierColumns {
		if t.Drop(id) {
			break
		}
	}

	if c := t.Column(totalChargesColumn); c != nil {
		coerceNumeric(c)
		fillMissing(c, median(c))
	}

	for _, name := range numericColumns {
		c := t.Column(name)
		if c == nil {
			continue
		}
		if c.Kind != dataset.KindNumeric {
			coerceNumeric(c)
		}
		if c.MissingCount() > 0 {
			fillMissing(c, math.Trunc(median(c)))
		}
	}

	target := t.Column(Target)
	if target == nil {
		return nil, ErrMissingTarget
	}
	binarizeTarget(target)

	for _, c := range t.Columns {
		if c.Kind == dataset.KindText {
			collapseNoService(c)
		}
	}

	return encode(t)
}

func normalizeNames(t *dataset.Table) {
	for _, c := range t.Columns {
		c.Name = strings.ToLower(strings.TrimSpace(c.Name))
	}
}

func checkUniqueNames(t *dataset.Table) error {
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if seen[c.Name] {
			return errors.Validationf("duplicate column after name normalisation: %q", c.Name)
		}
		seen[c.Name] = true
	}
	return nil
}

// coerceNumeric converts a text column in place; unparseable cells become missing.
func coerceNumeric(c *dataset.Column) {
	if c.Kind == dataset.KindNumeric {
		return
	}
	numbers := make([]float64, len(c.Text))
	for i, s := range c.Text {
		numbers[i] = math.NaN()
		if !c.Valid[i] {
			continue
		}
		if v, ok := dataset.ParseNumber(s); ok {
			numbers[i] = v
		}
	}
	c.Kind = dataset.KindNumeric
	c.Numbers = numbers
	c.Text = nil
	c.Valid = nil
}

// median of the observed values; 0 when nothing is observed.
func median(c *dataset.Column) float64 {
	observed := c.Observed()
	if len(observed) == 0 {
		return 0
	}
	m, err := stats.Median(observed)
	if err != nil {
		return 0
	}
	return m
}

func fillMissing(c *dataset.Column, value float64) {
	for i, v := range c.Numbers {
		if math.IsNaN(v) {
			c.Numbers[i] = value
		}
	}
}

// binarizeTarget coerces the label to 0/1. Yes/true count as 1, missing and
// unparseable values as 0, and any other non-zero number as 1.
func binarizeTarget(c *dataset.Column) {
	if c.Kind == dataset.KindText {
		numbers := make([]float64, len(c.Text))
		for i, s := range c.Text {
			if !c.Valid[i] {
				numbers[i] = math.NaN()
				continue
			}
			numbers[i] = parseLabel(s)
		}
		c.Kind = dataset.KindNumeric
		c.Numbers = numbers
		c.Text = nil
		c.Valid = nil
	}
	for i, v := range c.Numbers {
		switch {
		case math.IsNaN(v), math.Trunc(v) == 0:
			c.Numbers[i] = 0
		default:
			c.Numbers[i] = 1
		}
	}
}

func parseLabel(s string) float64 {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y":
		return 1
	case "no", "n":
		return 0
	}
	if v, ok := dataset.ParseNumber(s); ok {
		return v
	}
	return math.NaN()
}

func collapseNoService(c *dataset.Column) {
	for i, s := range c.Text {
		if !c.Valid[i] {
			continue
		}
		s = strings.TrimSpace(s)
		if noServiceValues[s] {
			s = "No"
		}
		c.Text[i] = s
	}
}

// encode one-hot expands every text column. Categories are sorted, the
// first is the dropped reference level and a <col>_nan indicator is always
// emitted. Indicator names keep the category text; see indicatorNames.
func encode(t *dataset.Table) (*dataset.Table, error) {
	var numeric, text []*dataset.Column
	var target *dataset.Column

	names := indicatorNames{}
	for _, c := range t.Columns {
		switch {
		case c.Name == Target:
			target = c
		case c.Kind == dataset.KindNumeric:
			numeric = append(numeric, c)
		default:
			text = append(text, c)
			names.reserve(c.Name + naSuffix)
			continue
		}
		names.reserve(c.Name)
	}

	var indicators []*dataset.Column
	for _, c := range text {
		indicators = append(indicators, dummies(c, names)...)
	}

	out := &dataset.Table{}
	for _, group := range [][]*dataset.Column{numeric, indicators, {target}} {
		for _, c := range group {
			if err := out.Add(c); err != nil {
				return nil, errors.Wrap(err, "assemble processed table")
			}
		}
	}
	return out, nil
}

// naSuffix names the missing-value indicator of a text column.
const naSuffix = "_nan"

// indicatorNames hands out column names that are unique regardless of case,
// so a processed table still has distinct names after normalizeNames. A
// clashing name gets a numeric suffix.
type indicatorNames map[string]bool

func (u indicatorNames) reserve(name string) {
	u[strings.ToLower(name)] = true
}

func (u indicatorNames) claim(name string) string {
	candidate := name
	for i := 2; u[strings.ToLower(candidate)]; i++ {
		candidate = fmt.Sprintf("%s_%d", name, i)
	}
	u.reserve(candidate)
	return candidate
}

func dummies(c *dataset.Column, names indicatorNames) []*dataset.Column {
	seen := make(map[string]bool)
	for i, s := range c.Text {
		if c.Valid[i] {
			seen[s] = true
		}
	}
	categories := make([]string, 0, len(seen))
	for s := range seen {
		categories = append(categories, s)
	}
	sort.Strings(categories)

	n := c.Len()
	var out []*dataset.Column
	if len(categories) > 1 {
		for _, cat := range categories[1:] {
			values := make([]float64, n)
			for i, s := range c.Text {
				if c.Valid[i] && s == cat {
					values[i] = 1
				}
			}
			out = append(out, dataset.NewNumericColumn(names.claim(c.Name+"_"+cat), values))
		}
	}

	na := make([]float64, n)
	for i := range na {
		if !c.Valid[i] {
			na[i] = 1
		}
	}
	return append(out, dataset.NewNumericColumn(c.Name+naSuffix, na))
}
