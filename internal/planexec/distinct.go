package planexec

import (
	"github.com/ppds-sdk/sqlengine/internal/planctx"
	"github.com/ppds-sdk/sqlengine/internal/sqltypes"
)

// Distinct materializes a hash-set of composite row keys and emits the
// first occurrence of each key in input order (§4.5.7).
type Distinct struct {
	Input   Node
	Columns []string // key columns; empty means "all columns of the first row seen"

	seen map[string]bool
}

// NewDistinct wraps input, deduplicating on columns (or all columns of the
// first row if columns is empty).
func NewDistinct(input Node, columns []string) *Distinct {
	return &Distinct{Input: input, Columns: columns, seen: map[string]bool{}}
}

// Next implements Node.
func (d *Distinct) Next(ctx *planctx.Context) (*sqltypes.QueryRow, error) {
	for {
		row, err := d.Input.Next(ctx)
		if err != nil {
			return nil, err
		}
		cols := d.Columns
		if len(cols) == 0 {
			cols = row.Columns
		}
		key := rowKey(row, cols)
		if d.seen[key] {
			continue
		}
		d.seen[key] = true
		return row, nil
	}
}

// Describe implements Node.
func (d *Distinct) Describe(indent string) string {
	return indent + "Distinct()\n" + d.Input.Describe(indent+"  ")
}
