package planexec

import (
	"io"

	"github.com/ppds-sdk/sqlengine/internal/planctx"
	"github.com/ppds-sdk/sqlengine/internal/sqltypes"
)

// AggKind is the aggregate family MergeAggregate knows how to fold.
type AggKind string

const (
	AggCount        AggKind = "COUNT"
	AggSum          AggKind = "SUM"
	AggMin          AggKind = "MIN"
	AggMax          AggKind = "MAX"
	AggAvg          AggKind = "AVG"
	AggCountDistinct AggKind = "COUNT_DISTINCT" // never merged, see §4.5.4
)

// MergeColumn describes how to fold one aggregate output column across
// partitions, with CountColumn naming the companion partial-count column
// AVG needs (empty when absent, in which case each partial is treated as
// (sum=value, count=1) per §4.5.4).
type MergeColumn struct {
	Column      string
	Kind        AggKind
	CountColumn string
}

// MergeAggregate folds one partial-aggregate row per partition per group
// into final rows (§4.5.4).
type MergeAggregate struct {
	Input     Node
	GroupBy   []string
	Columns   []MergeColumn

	rows    []*sqltypes.QueryRow
	idx     int
	started bool
}

// NewMergeAggregate builds a merge stage over input.
func NewMergeAggregate(input Node, groupBy []string, columns []MergeColumn) *MergeAggregate {
	return &MergeAggregate{Input: input, GroupBy: groupBy, Columns: columns}
}

type mergeAccumulator struct {
	keyRow  *sqltypes.QueryRow
	sum     map[string]float64
	count   map[string]float64
	min     map[string]sqltypes.QueryValue
	max     map[string]sqltypes.QueryValue
	seenMin map[string]bool
	seenMax map[string]bool
}

func (m *MergeAggregate) run(ctx *planctx.Context) error {
	partials, err := collectAll(ctx, m.Input)
	if err != nil {
		return err
	}

	order := []string{}
	accum := map[string]*mergeAccumulator{}

	for _, row := range partials {
		key := groupKey(row, m.GroupBy)
		acc, ok := accum[key]
		if !ok {
			acc = &mergeAccumulator{
				keyRow:  row,
				sum:     map[string]float64{},
				count:   map[string]float64{},
				min:     map[string]sqltypes.QueryValue{},
				max:     map[string]sqltypes.QueryValue{},
				seenMin: map[string]bool{},
				seenMax: map[string]bool{},
			}
			accum[key] = acc
			order = append(order, key)
		}
		for _, col := range m.Columns {
			v, ok := row.Get(col.Column)
			if !ok || v.IsNull() {
				continue
			}
			switch col.Kind {
			case AggCount, AggSum:
				n, _ := toFloat(v)
				acc.sum[col.Column] += n
			case AggAvg:
				n, _ := toFloat(v)
				partialCount := 1.0
				if col.CountColumn != "" {
					if cv, ok := row.Get(col.CountColumn); ok {
						if cn, cerr := toFloat(cv); cerr == nil {
							partialCount = cn
						}
					}
				}
				acc.sum[col.Column] += n * partialCount
				acc.count[col.Column] += partialCount
			case AggMin:
				if !acc.seenMin[col.Column] {
					acc.min[col.Column] = v
					acc.seenMin[col.Column] = true
				} else if cmp, ok := compareValues(v, acc.min[col.Column]); ok && cmp < 0 {
					acc.min[col.Column] = v
				}
			case AggMax:
				if !acc.seenMax[col.Column] {
					acc.max[col.Column] = v
					acc.seenMax[col.Column] = true
				} else if cmp, ok := compareValues(v, acc.max[col.Column]); ok && cmp > 0 {
					acc.max[col.Column] = v
				}
			}
		}
	}

	rows := make([]*sqltypes.QueryRow, 0, len(order))
	for _, key := range order {
		acc := accum[key]
		out := sqltypes.NewQueryRow(acc.keyRow.EntityLogicalName)
		for _, g := range m.GroupBy {
			if v, ok := acc.keyRow.Get(g); ok {
				out.Set(g, v)
			}
		}
		for _, col := range m.Columns {
			switch col.Kind {
			case AggCount, AggSum:
				out.Set(col.Column, sqltypes.QueryValue{Raw: acc.sum[col.Column]})
			case AggAvg:
				if acc.count[col.Column] == 0 {
					out.Set(col.Column, sqltypes.QueryValue{Raw: nil})
				} else {
					out.Set(col.Column, sqltypes.QueryValue{Raw: acc.sum[col.Column] / acc.count[col.Column]})
				}
			case AggMin:
				out.Set(col.Column, acc.min[col.Column])
			case AggMax:
				out.Set(col.Column, acc.max[col.Column])
			}
		}
		rows = append(rows, out)
	}
	m.rows = rows
	return nil
}

// Next implements Node.
func (m *MergeAggregate) Next(ctx *planctx.Context) (*sqltypes.QueryRow, error) {
	if !m.started {
		if err := m.run(ctx); err != nil {
			return nil, err
		}
		m.started = true
	}
	if m.idx >= len(m.rows) {
		return nil, io.EOF
	}
	row := m.rows[m.idx]
	m.idx++
	return row, nil
}

// Describe implements Node.
func (m *MergeAggregate) Describe(indent string) string {
	return indent + "MergeAggregate(group_by=" + joinStrings(m.GroupBy) + ")\n" + m.Input.Describe(indent+"  ")
}
