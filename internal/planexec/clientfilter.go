package planexec

import (
	"github.com/ppds-sdk/sqlengine/internal/planctx"
	"github.com/ppds-sdk/sqlengine/internal/sqlast"
	"github.com/ppds-sdk/sqlengine/internal/sqltypes"
)

// ClientFilter evaluates a compiled predicate against each input row,
// forwarding only rows for which it is true (§4.5.5) — used for HAVING and
// any predicate FetchXML cannot express.
type ClientFilter struct {
	Input     Node
	Predicate sqlast.Expr
}

// NewClientFilter wraps input with a row-wise predicate.
func NewClientFilter(input Node, predicate sqlast.Expr) *ClientFilter {
	return &ClientFilter{Input: input, Predicate: predicate}
}

// Next implements Node.
func (f *ClientFilter) Next(ctx *planctx.Context) (*sqltypes.QueryRow, error) {
	for {
		if ctx.Cancelled() {
			return nil, ctx.Go.Err()
		}
		row, err := f.Input.Next(ctx)
		if err != nil {
			return nil, err
		}
		ok, err := ctx.Eval.EvaluateCondition(ctx, f.Predicate, row)
		if err != nil {
			return nil, err
		}
		if ok {
			return row, nil
		}
	}
}

// Describe implements Node.
func (f *ClientFilter) Describe(indent string) string {
	return indent + "ClientFilter(predicate)\n" + f.Input.Describe(indent+"  ")
}
