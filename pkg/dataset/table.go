// Package dataset provides the in-memory column table shared by the
// preprocessing, training and report stages, plus its CSV codec.
package dataset

import (
	"math"

	"github.com/telcovision/churn/pkg/errors"
)

// Kind is the storage type of a column
type Kind int

const (
	KindNumeric Kind = iota
	KindText
)

func (k Kind) String() string {
	if k == KindText {
		return "text"
	}
	return "numeric"
}

// Column is one named column. Numeric columns mark missing values as NaN;
// text columns track them in Valid.
type Column struct {
	Name    string
	Kind    Kind
	Numbers []float64
	Text    []string
	Valid   []bool
}

// NewNumericColumn creates a numeric column. NaN values are missing.
func NewNumericColumn(name string, values []float64) *Column {
	return &Column{Name: name, Kind: KindNumeric, Numbers: values}
}

// NewTextColumn creates a text column. A nil valid slice marks every value present.
func NewTextColumn(name string, values []string, valid []bool) *Column {
	if valid == nil {
		valid = make([]bool, len(values))
		for i := range valid {
			valid[i] = true
		}
	}
	return &Column{Name: name, Kind: KindText, Text: values, Valid: valid}
}

// Len returns the number of rows in the column.
func (c *Column) Len() int {
	if c.Kind == KindText {
		return len(c.Text)
	}
	return len(c.Numbers)
}

// IsMissing reports whether row i has no value.
func (c *Column) IsMissing(i int) bool {
	if c.Kind == KindText {
		return !c.Valid[i]
	}
	return math.IsNaN(c.Numbers[i])
}

// MissingCount returns the number of missing values.
func (c *Column) MissingCount() int {
	n := 0
	for i := 0; i < c.Len(); i++ {
		if c.IsMissing(i) {
			n++
		}
	}
	return n
}

// Observed returns the non-missing values of a numeric column.
func (c *Column) Observed() []float64 {
	out := make([]float64, 0, len(c.Numbers))
	for _, v := range c.Numbers {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

// Clone returns a deep copy of the column.
func (c *Column) Clone() *Column {
	out := &Column{Name: c.Name, Kind: c.Kind}
	if c.Numbers != nil {
		out.Numbers = append([]float64(nil), c.Numbers...)
	}
	if c.Text != nil {
		out.Text = append([]string(nil), c.Text...)
		out.Valid = append([]bool(nil), c.Valid...)
	}
	return out
}

// Table is an ordered set of equally long columns.
type Table struct {
	Columns []*Column
}

// NewTable creates a table from columns, checking lengths and names.
func NewTable(columns ...*Column) (*Table, error) {
	t := &Table{}
	for _, c := range columns {
		if err := t.Add(c); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// NumRows returns the row count, zero for a table without columns.
func (t *Table) NumRows() int {
	if len(t.Columns) == 0 {
		return 0
	}
	return t.Columns[0].Len()
}

// NumColumns returns the column count.
func (t *Table) NumColumns() int {
	return len(t.Columns)
}

// Names returns the column names in order.
func (t *Table) Names() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Index returns the position of the named column or -1.
func (t *Table) Index(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Column returns the named column or nil.
func (t *Table) Column(name string) *Column {
	if i := t.Index(name); i >= 0 {
		return t.Columns[i]
	}
	return nil
}

// Has reports whether the table has the named column.
func (t *Table) Has(name string) bool {
	return t.Index(name) >= 0
}

// Add appends a column. Its length must match and its name must be new.
func (t *Table) Add(c *Column) error {
	if len(t.Columns) > 0 && c.Len() != t.NumRows() {
		return errors.Validationf("column %q has %d rows, table has %d", c.Name, c.Len(), t.NumRows())
	}
	if t.Has(c.Name) {
		return errors.Validationf("duplicate column %q", c.Name)
	}
	t.Columns = append(t.Columns, c)
	return nil
}

// Drop removes the named column and reports whether it existed.
func (t *Table) Drop(name string) bool {
	i := t.Index(name)
	if i < 0 {
		return false
	}
	t.Columns = append(t.Columns[:i], t.Columns[i+1:]...)
	return true
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	out := &Table{Columns: make([]*Column, len(t.Columns))}
	for i, c := range t.Columns {
		out.Columns[i] = c.Clone()
	}
	return out
}

// TextColumns returns the names of all text columns.
func (t *Table) TextColumns() []string {
	var names []string
	for _, c := range t.Columns {
		if c.Kind == KindText {
			names = append(names, c.Name)
		}
	}
	return names
}

// Features splits the table into a row-major feature matrix and an integer
// label vector. Every feature column must be numeric and complete; labels
// must be whole numbers.
func (t *Table) Features(target string) (X [][]float64, y []int, names []string, err error) {
	tc := t.Column(target)
	if tc == nil {
		return nil, nil, nil, errors.WithHint(
			errors.Validationf("target column %q not in dataset", target),
			"run prepare first or pass --target",
		)
	}
	if tc.Kind != KindNumeric {
		return nil, nil, nil, errors.Validationf("target column %q is not numeric", target)
	}

	var cols []*Column
	for _, c := range t.Columns {
		if c.Name == target {
			continue
		}
		if c.Kind != KindNumeric {
			return nil, nil, nil, errors.Validationf("feature column %q is not numeric", c.Name)
		}
		if n := c.MissingCount(); n > 0 {
			return nil, nil, nil, errors.Validationf("feature column %q has %d missing values", c.Name, n)
		}
		cols = append(cols, c)
		names = append(names, c.Name)
	}

	n := t.NumRows()
	X = make([][]float64, n)
	y = make([]int, n)
	for i := 0; i < n; i++ {
		row := make([]float64, len(cols))
		for j, c := range cols {
			row[j] = c.Numbers[i]
		}
		X[i] = row

		v := tc.Numbers[i]
		if math.IsNaN(v) || v != math.Trunc(v) {
			return nil, nil, nil, errors.Validationf("target column %q row %d is not an integer label: %v", target, i, v)
		}
		y[i] = int(v)
	}
	return X, y, names, nil
}

// ColumnInfo summarises one column for logs and status output
type ColumnInfo struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	NullCount int    `json:"null_count"`
}

// Profile summarises every column.
func (t *Table) Profile() []ColumnInfo {
	out := make([]ColumnInfo, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = ColumnInfo{Name: c.Name, Kind: c.Kind.String(), NullCount: c.MissingCount()}
	}
	return out
}
