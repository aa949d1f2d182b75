// Package planexec implements the plan node library (C5, §4.5) and the
// plan executor (C6, §4.6). Grounded on PyotSawe's Volcano/Iterator
// PhysicalOperator interface (internal/executor/operator.go), adapted to
// Go's async-producer idiom: a single Next(ctx) call returning io.EOF at
// exhaustion, the shape database/sql.Rows and the teacher's internal/mysql
// package both already use, rather than a separate Open/Close pair — none
// of these sources hold a resource that outlives one Next loop.
package planexec

import (
	"context"
	"io"

	"github.com/ppds-sdk/sqlengine/internal/planctx"
	"github.com/ppds-sdk/sqlengine/internal/sqltypes"
)

// Node is one plan tree operator: an asynchronous row producer plus a
// human-readable description for EXPLAIN output.
type Node interface {
	// Next returns the next row, or (nil, io.EOF) once exhausted.
	Next(ctx *planctx.Context) (*sqltypes.QueryRow, error)
	// Describe renders one line (plus, for a node with children, its
	// children's Describe output indented) for the explain tree.
	Describe(indent string) string
}

// collectAll drains a Node to a slice; used by nodes that must
// materialize their input before producing output (MergeAggregate,
// ClientWindow, ClientAggregate, AdaptiveAggregateScan).
func collectAll(ctx *planctx.Context, n Node) ([]*sqltypes.QueryRow, error) {
	var rows []*sqltypes.QueryRow
	for {
		if ctx.Cancelled() {
			return nil, context.Canceled
		}
		row, err := n.Next(ctx)
		if err != nil {
			if err == io.EOF {
				return rows, nil
			}
			return nil, err
		}
		rows = append(rows, row)
	}
}
