package planexec

import (
	"fmt"
	"io"
	"sort"

	"github.com/ppds-sdk/sqlengine/internal/planctx"
	"github.com/ppds-sdk/sqlengine/internal/sqlast"
	"github.com/ppds-sdk/sqlengine/internal/sqltypes"
)

// clientWindowMemoryLimit is the materialization cap from §4.5.9.
const clientWindowMemoryLimit = 500_000

// ErrMemoryLimitExceeded is returned when ClientWindow's input exceeds
// clientWindowMemoryLimit rows.
type ErrMemoryLimitExceeded struct{ Limit int }

func (e *ErrMemoryLimitExceeded) Error() string {
	return fmt.Sprintf("planexec: ClientWindow input exceeded the %d row memory limit", e.Limit)
}

// WindowDefinition is one OVER(...) computed column.
type WindowDefinition struct {
	OutputColumn string
	Func         *sqlast.WindowFunc
}

// ClientWindow materializes its entire input, partitions, sorts, computes
// each WindowDefinition, and re-emits rows in original input order with the
// window columns appended (§4.5.9).
type ClientWindow struct {
	Input   Node
	Windows []WindowDefinition

	out     []*sqltypes.QueryRow
	idx     int
	started bool
}

// NewClientWindow wraps input with one or more window computations.
func NewClientWindow(input Node, windows []WindowDefinition) *ClientWindow {
	return &ClientWindow{Input: input, Windows: windows}
}

func (w *ClientWindow) materialize(ctx *planctx.Context) error {
	rows, err := collectAll(ctx, w.Input)
	if err != nil {
		return err
	}
	if len(rows) > clientWindowMemoryLimit {
		return &ErrMemoryLimitExceeded{Limit: clientWindowMemoryLimit}
	}

	out := make([]*sqltypes.QueryRow, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}

	for _, wd := range w.Windows {
		if err := w.computeOne(ctx, out, wd); err != nil {
			return err
		}
	}

	w.out = out
	return nil
}

func (w *ClientWindow) computeOne(ctx *planctx.Context, rows []*sqltypes.QueryRow, wd WindowDefinition) error {
	partCols := make([]string, len(wd.Func.Over.PartitionBy))
	for i, e := range wd.Func.Over.PartitionBy {
		if ref, ok := e.(*sqlast.ColumnRef); ok {
			partCols[i] = ref.Name
		}
	}

	partitions := map[string][]int{}
	var order []string
	for i, r := range rows {
		key := rowKey(r, partCols)
		if _, ok := partitions[key]; !ok {
			order = append(order, key)
		}
		partitions[key] = append(partitions[key], i)
	}

	for _, key := range order {
		idxs := partitions[key]
		sorted := make([]int, len(idxs))
		copy(sorted, idxs)
		sort.SliceStable(sorted, func(a, b int) bool {
			return w.lessByOrderBy(rows[sorted[a]], rows[sorted[b]], wd.Func.Over.OrderBy)
		})

		switch wd.Func.Name {
		case "ROW_NUMBER":
			for rank, idx := range sorted {
				rows[idx].Set(wd.OutputColumn, sqltypes.QueryValue{Raw: int64(rank + 1)})
			}
		case "RANK", "DENSE_RANK":
			w.assignRank(rows, sorted, wd)
		default:
			if err := w.assignAggregate(ctx, rows, idxs, wd); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *ClientWindow) lessByOrderBy(a, b *sqltypes.QueryRow, orderBy []sqlast.OrderItem) bool {
	for _, o := range orderBy {
		ref, ok := o.Expr.(*sqlast.ColumnRef)
		if !ok {
			continue
		}
		av, _ := a.Get(ref.Name)
		bv, _ := b.Get(ref.Name)
		cmp, ok := compareValues(av, bv)
		if !ok || cmp == 0 {
			continue
		}
		if o.Desc {
			return cmp > 0
		}
		return cmp < 0
	}
	return false
}

func (w *ClientWindow) assignRank(rows []*sqltypes.QueryRow, sorted []int, wd WindowDefinition) {
	rank := 1
	for i, idx := range sorted {
		if i > 0 {
			prev := rows[sorted[i-1]]
			cur := rows[idx]
			tie := true
			for _, o := range wd.Func.Over.OrderBy {
				ref, ok := o.Expr.(*sqlast.ColumnRef)
				if !ok {
					continue
				}
				pv, _ := prev.Get(ref.Name)
				cv, _ := cur.Get(ref.Name)
				if cmp, ok := compareValues(pv, cv); ok && cmp != 0 {
					tie = false
					break
				}
			}
			if !tie {
				if wd.Func.Name == "DENSE_RANK" {
					rank++
				} else {
					rank = i + 1
				}
			}
		}
		rows[idx].Set(wd.OutputColumn, sqltypes.QueryValue{Raw: int64(rank)})
	}
}

func (w *ClientWindow) assignAggregate(ctx *planctx.Context, rows []*sqltypes.QueryRow, idxs []int, wd WindowDefinition) error {
	var value sqltypes.QueryValue
	switch wd.Func.Name {
	case "COUNT":
		if wd.Func.Star {
			value = sqltypes.QueryValue{Raw: int64(len(idxs))}
		} else {
			count := int64(0)
			for _, idx := range idxs {
				if v, err := evalWindowArg(ctx, rows[idx], wd.Func.Arg); err == nil && !v.IsNull() {
					count++
				}
			}
			value = sqltypes.QueryValue{Raw: count}
		}
	case "SUM", "AVG":
		sum, count := 0.0, 0.0
		for _, idx := range idxs {
			v, err := evalWindowArg(ctx, rows[idx], wd.Func.Arg)
			if err != nil || v.IsNull() {
				continue
			}
			n, err := toFloat(v)
			if err != nil {
				continue
			}
			sum += n
			count++
		}
		if wd.Func.Name == "SUM" {
			value = sqltypes.QueryValue{Raw: sum}
		} else if count == 0 {
			value = sqltypes.QueryValue{Raw: nil}
		} else {
			value = sqltypes.QueryValue{Raw: sum / count}
		}
	case "MIN", "MAX":
		var best sqltypes.QueryValue
		seen := false
		for _, idx := range idxs {
			v, err := evalWindowArg(ctx, rows[idx], wd.Func.Arg)
			if err != nil || v.IsNull() {
				continue
			}
			if !seen {
				best = v
				seen = true
				continue
			}
			cmp, ok := compareValues(v, best)
			if !ok {
				continue
			}
			if (wd.Func.Name == "MIN" && cmp < 0) || (wd.Func.Name == "MAX" && cmp > 0) {
				best = v
			}
		}
		value = best
	}
	for _, idx := range idxs {
		rows[idx].Set(wd.OutputColumn, value)
	}
	return nil
}

func evalWindowArg(ctx *planctx.Context, row *sqltypes.QueryRow, arg sqlast.Expr) (sqltypes.QueryValue, error) {
	if arg == nil {
		return sqltypes.QueryValue{Raw: nil}, nil
	}
	return ctx.Eval.Evaluate(ctx, arg, row)
}

// Next implements Node.
func (w *ClientWindow) Next(ctx *planctx.Context) (*sqltypes.QueryRow, error) {
	if !w.started {
		if err := w.materialize(ctx); err != nil {
			return nil, err
		}
		w.started = true
	}
	if w.idx >= len(w.out) {
		return nil, io.EOF
	}
	row := w.out[w.idx]
	w.idx++
	return row, nil
}

// Describe implements Node.
func (w *ClientWindow) Describe(indent string) string {
	return indent + "ClientWindow()\n" + w.Input.Describe(indent+"  ")
}
