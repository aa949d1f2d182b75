package planexec

import (
	"github.com/ppds-sdk/sqlengine/internal/planctx"
	"github.com/ppds-sdk/sqlengine/internal/sqlast"
	"github.com/ppds-sdk/sqlengine/internal/sqltypes"
)

// ProjectColumn is one output column: either a straight rename/copy of a
// source column, or a computed expression.
type ProjectColumn struct {
	OutputName string
	SourceName string    // "" when Expr is set
	Expr       sqlast.Expr // nil when SourceName is set
}

// Project computes or copies an ordered output column list for each input
// row (§4.5.6). Source-name lookups fall back to a case-insensitive match
// via QueryRow.Get; an absent source column yields NULL.
type Project struct {
	Input   Node
	Columns []ProjectColumn
}

// NewProject wraps input with an output column list.
func NewProject(input Node, columns []ProjectColumn) *Project {
	return &Project{Input: input, Columns: columns}
}

// Next implements Node.
func (p *Project) Next(ctx *planctx.Context) (*sqltypes.QueryRow, error) {
	row, err := p.Input.Next(ctx)
	if err != nil {
		return nil, err
	}
	out := sqltypes.NewQueryRow(row.EntityLogicalName)
	for _, c := range p.Columns {
		if c.Expr != nil {
			v, err := ctx.Eval.Evaluate(ctx, c.Expr, row)
			if err != nil {
				return nil, err
			}
			out.Set(c.OutputName, v)
			continue
		}
		if v, ok := row.Get(c.SourceName); ok {
			out.Set(c.OutputName, v)
		} else {
			out.Set(c.OutputName, sqltypes.QueryValue{Raw: nil})
		}
	}
	return out, nil
}

// Describe implements Node.
func (p *Project) Describe(indent string) string {
	return indent + "Project(columns=" + projectColumnsList(p.Columns) + ")\n" + p.Input.Describe(indent+"  ")
}

func projectColumnsList(cols []ProjectColumn) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.OutputName
	}
	return joinStrings(names)
}
