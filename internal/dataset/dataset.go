// Package dataset holds tabular training data loaded from the database or CSV.
// Cells are float64 when numeric, string otherwise, and nil when missing.
package dataset

import (
	"context"
	"fmt"
	"sort"

	"inventory-forecast/internal/features"

	"github.com/spf13/cast"
)

// Dataset is a column-ordered table of rows keyed by column name.
type Dataset struct {
	Columns []string
	Rows    []features.RawInput
}

// Source loads a dataset from somewhere.
type Source interface {
	Load(ctx context.Context) (*Dataset, error)
}

func New(columns []string) *Dataset {
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &Dataset{Columns: cols}
}

func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

func (d *Dataset) HasColumn(name string) bool {
	for _, c := range d.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Append adds a row. Columns not yet known are appended to Columns.
func (d *Dataset) Append(row features.RawInput) {
	for k := range row {
		if !d.HasColumn(k) {
			d.Columns = append(d.Columns, k)
		}
	}
	d.Rows = append(d.Rows, row)
}

// FirstColumn returns the first of names present in the dataset.
func (d *Dataset) FirstColumn(names ...string) (string, bool) {
	for _, n := range names {
		if d.HasColumn(n) {
			return n, true
		}
	}
	return "", false
}

// Float returns the numeric values of column, skipping missing and non-numeric cells.
func (d *Dataset) Float(column string) []float64 {
	out := make([]float64, 0, len(d.Rows))
	for _, r := range d.Rows {
		v, ok := r[column]
		if !ok || v == nil {
			continue
		}
		if f, ok := features.ToFloat(v); ok {
			out = append(out, f)
		}
	}
	return out
}

// NumericColumns lists columns with at least one numeric cell and no
// non-numeric ones, in column order.
func (d *Dataset) NumericColumns() []string {
	var out []string
	for _, c := range d.Columns {
		numeric := false
		for _, r := range d.Rows {
			v := r[c]
			if v == nil {
				continue
			}
			if _, ok := v.(string); ok {
				numeric = false
				break
			}
			if _, ok := features.ToFloat(v); !ok {
				numeric = false
				break
			}
			numeric = true
		}
		if numeric {
			out = append(out, c)
		}
	}
	return out
}

// Label returns the string form of a label cell, or "" when missing.
func Label(v any) string {
	if v == nil {
		return ""
	}
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return cast.ToString(int64(f))
	}
	return cast.ToString(v)
}

// LabelCount is the number of rows carrying a label.
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// LabelCounts returns the distribution of column, most frequent first.
func (d *Dataset) LabelCounts(column string) []LabelCount {
	counts := map[string]int{}
	for _, r := range d.Rows {
		l := Label(r[column])
		if l == "" {
			continue
		}
		counts[l]++
	}
	out := make([]LabelCount, 0, len(counts))
	for l, n := range counts {
		out = append(out, LabelCount{Label: l, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// DropMissing returns a copy without rows where any of columns is missing.
func (d *Dataset) DropMissing(columns ...string) (*Dataset, error) {
	for _, c := range columns {
		if !d.HasColumn(c) {
			return nil, fmt.Errorf("column %q not in dataset", c)
		}
	}
	out := New(d.Columns)
	for _, r := range d.Rows {
		keep := true
		for _, c := range columns {
			if v, ok := r[c]; !ok || v == nil {
				keep = false
				break
			}
		}
		if keep {
			out.Rows = append(out.Rows, r)
		}
	}
	return out, nil
}
