package planexec

import (
	"io"
	"math"

	"github.com/ppds-sdk/sqlengine/internal/planctx"
	"github.com/ppds-sdk/sqlengine/internal/sqlast"
	"github.com/ppds-sdk/sqlengine/internal/sqltypes"
)

// ClientAggKind is an aggregate FetchXML cannot express.
type ClientAggKind string

const (
	ClientAggStdev ClientAggKind = "STDEV"
	ClientAggVar   ClientAggKind = "VAR"
)

// ClientAggColumn is one computed aggregate output.
type ClientAggColumn struct {
	OutputName string
	Kind       ClientAggKind
	Arg        sqlast.Expr
}

// ClientAggregate buffers all input grouped by GroupBy and emits one row
// per group with the group keys plus computed aggregates (§4.5.10). Used
// for STDEV/VAR, which FetchXML's aggregate grammar doesn't support.
type ClientAggregate struct {
	Input   Node
	GroupBy []string
	Columns []ClientAggColumn

	rows    []*sqltypes.QueryRow
	idx     int
	started bool
}

// NewClientAggregate wraps input with a GROUP BY + aggregate computation.
func NewClientAggregate(input Node, groupBy []string, columns []ClientAggColumn) *ClientAggregate {
	return &ClientAggregate{Input: input, GroupBy: groupBy, Columns: columns}
}

func (a *ClientAggregate) run(ctx *planctx.Context) error {
	rows, err := collectAll(ctx, a.Input)
	if err != nil {
		return err
	}

	groups := map[string][]*sqltypes.QueryRow{}
	var order []string
	for _, r := range rows {
		key := groupKey(r, a.GroupBy)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], r)
	}

	out := make([]*sqltypes.QueryRow, 0, len(order))
	for _, key := range order {
		members := groups[key]
		result := sqltypes.NewQueryRow(members[0].EntityLogicalName)
		for _, g := range a.GroupBy {
			if v, ok := members[0].Get(g); ok {
				result.Set(g, v)
			}
		}
		for _, col := range a.Columns {
			v, err := a.computeColumn(ctx, members, col)
			if err != nil {
				return err
			}
			result.Set(col.OutputName, v)
		}
		out = append(out, result)
	}
	a.rows = out
	return nil
}

func (a *ClientAggregate) computeColumn(ctx *planctx.Context, members []*sqltypes.QueryRow, col ClientAggColumn) (sqltypes.QueryValue, error) {
	var values []float64
	for _, m := range members {
		v, err := ctx.Eval.Evaluate(ctx, col.Arg, m)
		if err != nil {
			return sqltypes.QueryValue{}, err
		}
		if v.IsNull() {
			continue
		}
		n, err := toFloat(v)
		if err != nil {
			continue
		}
		values = append(values, n)
	}

	n := len(values)
	if n == 0 {
		return sqltypes.QueryValue{Raw: nil}, nil
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(n)

	if n == 1 {
		return sqltypes.QueryValue{Raw: 0.0}, nil
	}

	sumSq := 0.0
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	variance := sumSq / float64(n-1)

	if col.Kind == ClientAggVar {
		return sqltypes.QueryValue{Raw: variance}, nil
	}
	return sqltypes.QueryValue{Raw: math.Sqrt(variance)}, nil
}

// Next implements Node.
func (a *ClientAggregate) Next(ctx *planctx.Context) (*sqltypes.QueryRow, error) {
	if !a.started {
		if err := a.run(ctx); err != nil {
			return nil, err
		}
		a.started = true
	}
	if a.idx >= len(a.rows) {
		return nil, io.EOF
	}
	row := a.rows[a.idx]
	a.idx++
	return row, nil
}

// Describe implements Node.
func (a *ClientAggregate) Describe(indent string) string {
	return indent + "ClientAggregate(group_by=" + joinStrings(a.GroupBy) + ")\n" + a.Input.Describe(indent+"  ")
}
