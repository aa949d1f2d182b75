package planexec

import (
	"context"
	"fmt"
	"io"

	"github.com/ppds-sdk/sqlengine/internal/bulkexec"
	"github.com/ppds-sdk/sqlengine/internal/planctx"
	"github.com/ppds-sdk/sqlengine/internal/remote"
	"github.com/ppds-sdk/sqlengine/internal/sqlast"
	"github.com/ppds-sdk/sqlengine/internal/sqltypes"
)

// DmlShape is the closed set of DmlExecute operation shapes (§4.5.13).
type DmlShape string

const (
	DmlInsertValues DmlShape = "INSERT_VALUES"
	DmlInsertSelect DmlShape = "INSERT_SELECT"
	DmlUpdate       DmlShape = "UPDATE"
	DmlDelete       DmlShape = "DELETE"
)

// SetClauseExpr is one UPDATE SET column=expr entry resolved against a
// source row.
type SetClauseExpr struct {
	Column string
	Value  sqlast.Expr
}

// DmlExecute dispatches a data-modification operation to the bulk
// executor. InsertValues evaluates each row of Values against an empty row
// scope; the other three shapes stream Source and construct entity records
// up to RowCap, requiring the primary-key column for UPDATE/DELETE.
type DmlExecute struct {
	Shape         DmlShape
	Entity        string
	Columns       []string      // INSERT column list
	Values        [][]sqlast.Expr // INSERT VALUES rows
	Source        Node          // source scan/project for non-VALUES shapes
	SetClauses    []SetClauseExpr
	PrimaryKeyCol string
	RowCap        int64

	done         bool
	affected     int64
}

// NewDmlExecute builds a DML node for one of the four shapes.
func NewDmlExecute(shape DmlShape, entity string) *DmlExecute {
	return &DmlExecute{Shape: shape, Entity: entity, RowCap: 10000}
}

func (d *DmlExecute) run(ctx *planctx.Context) error {
	switch d.Shape {
	case DmlInsertValues:
		return d.runInsertValues(ctx)
	case DmlInsertSelect:
		return d.runInsertSelect(ctx)
	case DmlUpdate:
		return d.runUpdate(ctx)
	case DmlDelete:
		return d.runDelete(ctx)
	}
	return fmt.Errorf("planexec: unknown DmlExecute shape %q", d.Shape)
}

func (d *DmlExecute) runInsertValues(ctx *planctx.Context) error {
	empty := sqltypes.NewQueryRow(d.Entity)
	var records []*sqltypes.QueryRow
	for _, valueRow := range d.Values {
		rec := sqltypes.NewQueryRow(d.Entity)
		for i, expr := range valueRow {
			if i >= len(d.Columns) {
				break
			}
			v, err := ctx.Eval.Evaluate(ctx, expr, empty)
			if err != nil {
				return err
			}
			rec.Set(d.Columns[i], v)
		}
		records = append(records, rec)
		if int64(len(records)) >= d.RowCap {
			break
		}
	}
	return d.dispatchCreate(ctx, records)
}

func (d *DmlExecute) runInsertSelect(ctx *planctx.Context) error {
	var records []*sqltypes.QueryRow
	for int64(len(records)) < d.RowCap {
		row, err := d.Source.Next(ctx)
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		rec := sqltypes.NewQueryRow(d.Entity)
		for _, col := range d.Columns {
			if v, ok := row.Get(col); ok {
				rec.Set(col, v)
			}
		}
		records = append(records, rec)
	}
	return d.dispatchCreate(ctx, records)
}

func (d *DmlExecute) runUpdate(ctx *planctx.Context) error {
	var records []*sqltypes.QueryRow
	for int64(len(records)) < d.RowCap {
		row, err := d.Source.Next(ctx)
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		pk, ok := row.Get(d.PrimaryKeyCol)
		if !ok || pk.IsNull() {
			continue // missing key: skipped per §4.5.13
		}
		rec := sqltypes.NewQueryRow(d.Entity)
		rec.Set(d.PrimaryKeyCol, pk)
		for _, set := range d.SetClauses {
			v, err := ctx.Eval.Evaluate(ctx, set.Value, row)
			if err != nil {
				return err
			}
			rec.Set(set.Column, v)
		}
		records = append(records, rec)
	}
	if ctx.DryRun {
		d.affected = int64(len(records))
		return nil
	}
	result, err := bulkexec.Run(ctx.Go, records, ctx.RateCtl, bulkexec.Options{BatchSize: ctx.BulkBatchSize},
		func(goCtx context.Context, batch []*sqltypes.QueryRow) (*remote.BulkResult, error) {
			return ctx.Bulk.UpdateMultiple(goCtx, d.Entity, batch)
		})
	if err != nil {
		return err
	}
	d.affected = int64(result.SuccessCount)
	return nil
}

func (d *DmlExecute) runDelete(ctx *planctx.Context) error {
	var ids []sqltypes.Guid
	for int64(len(ids)) < d.RowCap {
		row, err := d.Source.Next(ctx)
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		pk, ok := row.Get(d.PrimaryKeyCol)
		if !ok || pk.IsNull() {
			continue
		}
		guidStr, ok := pk.Raw.(sqltypes.Guid)
		if ok {
			ids = append(ids, guidStr)
			continue
		}
		parsed, err := sqltypes.ParseGuid(pk.String())
		if err != nil {
			continue
		}
		ids = append(ids, parsed)
	}
	if ctx.DryRun {
		d.affected = int64(len(ids))
		return nil
	}
	result, err := bulkexec.Run(ctx.Go, ids, ctx.RateCtl, bulkexec.Options{BatchSize: ctx.BulkBatchSize},
		func(goCtx context.Context, batch []sqltypes.Guid) (*remote.BulkResult, error) {
			return ctx.Bulk.DeleteMultiple(goCtx, d.Entity, batch)
		})
	if err != nil {
		return err
	}
	d.affected = int64(result.SuccessCount)
	return nil
}

func (d *DmlExecute) dispatchCreate(ctx *planctx.Context, records []*sqltypes.QueryRow) error {
	if ctx.DryRun {
		d.affected = int64(len(records))
		return nil
	}
	result, err := bulkexec.Run(ctx.Go, records, ctx.RateCtl, bulkexec.Options{BatchSize: ctx.BulkBatchSize},
		func(goCtx context.Context, batch []*sqltypes.QueryRow) (*remote.BulkResult, error) {
			return ctx.Bulk.CreateMultiple(goCtx, d.Entity, batch)
		})
	if err != nil {
		return err
	}
	d.affected = int64(result.SuccessCount)
	return nil
}

// Next implements Node. DmlExecute returns exactly one row,
// {affected_rows: N}, then io.EOF.
func (d *DmlExecute) Next(ctx *planctx.Context) (*sqltypes.QueryRow, error) {
	if d.done {
		return nil, io.EOF
	}
	if err := d.run(ctx); err != nil {
		return nil, err
	}
	d.done = true
	row := sqltypes.NewQueryRow(d.Entity)
	row.Set("affected_rows", sqltypes.QueryValue{Raw: d.affected})
	return row, nil
}

// Describe implements Node.
func (d *DmlExecute) Describe(indent string) string {
	return indent + "DmlExecute(" + string(d.Shape) + ", " + d.Entity + ")"
}
