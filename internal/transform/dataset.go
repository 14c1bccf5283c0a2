// Package transform turns the downloaded portal spreadsheet into a clean
// tabular dataset ready for bulk loading.
package transform

import "time"

// ColumnKind drives SQL type inference during table creation.
type ColumnKind int

const (
	KindText ColumnKind = iota
	KindTimestamp
	KindDate
)

// Column is one dataset column with its inferred kind.
type Column struct {
	Name string
	Kind ColumnKind
}

// Dataset is a small columnar table. Cell values are nil (SQL NULL),
// string, or time.Time depending on the column kind.
type Dataset struct {
	Columns []Column
	Rows    [][]any
}

// NumRows returns the row count.
func (d *Dataset) NumRows() int {
	return len(d.Rows)
}

// ColumnNames returns the column names in order.
func (d *Dataset) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// columnIndex returns the position of name, or -1.
func (d *Dataset) columnIndex(name string) int {
	for i, c := range d.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Result is the transform outcome handed to the load stage. Success
// implies Dataset is non-nil.
type Result struct {
	Success bool
	Message string
	Dataset *Dataset
}

// cellTime extracts a time.Time cell, nil-safe.
func cellTime(v any) (time.Time, bool) {
	t, ok := v.(time.Time)
	return t, ok
}
