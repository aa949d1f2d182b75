package planexec

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ppds-sdk/sqlengine/internal/fetchxml"
	"github.com/ppds-sdk/sqlengine/internal/planctx"
	"github.com/ppds-sdk/sqlengine/internal/remote"
	"github.com/ppds-sdk/sqlengine/internal/sqltypes"
)

// maxBisectDepth bounds AdaptiveAggregateScan's recursive range-splitting
// (§4.5.2): a range that still overflows at this depth gives up rather
// than looping forever on a degenerate (e.g. single-tick) range.
const maxBisectDepth = 15

// AdaptiveAggregateScan wraps a template FetchXML (without a createdon
// predicate) over an entity and a [start, end) UTC range. On
// AggregateLimitExceeded it bisects the range and retries both halves
// sequentially — parallel execution of siblings is the surrounding
// ParallelPartition's job, not this node's.
type AdaptiveAggregateScan struct {
	Entity        string
	TemplateSpec  fetchxml.QuerySpecification // Filter left nil; createdon condition injected per call
	Range         remote.TimeRange
	depth         int

	rows    []*sqltypes.QueryRow
	idx     int
	started bool
}

// NewAdaptiveAggregateScan builds a root-depth scan over rng.
func NewAdaptiveAggregateScan(entity string, template fetchxml.QuerySpecification, rng remote.TimeRange) *AdaptiveAggregateScan {
	return &AdaptiveAggregateScan{Entity: entity, TemplateSpec: template, Range: rng}
}

func (a *AdaptiveAggregateScan) withRange(rng remote.TimeRange, depth int) *AdaptiveAggregateScan {
	return &AdaptiveAggregateScan{Entity: a.Entity, TemplateSpec: a.TemplateSpec, Range: rng, depth: depth}
}

func (a *AdaptiveAggregateScan) runOnce(ctx *planctx.Context) ([]*sqltypes.QueryRow, error) {
	spec := a.TemplateSpec
	spec.Entity = a.Entity
	cond := fetchxml.Filter{
		Type: fetchxml.FilterAnd,
		Conditions: []fetchxml.Condition{
			{Attribute: "createdon", Operator: fetchxml.OpGreaterEqual, Value: a.Range.Min.UTC().Format(time.RFC3339)},
			{Attribute: "createdon", Operator: fetchxml.OpLessThan, Value: a.Range.Max.UTC().Format(time.RFC3339)},
		},
	}
	if spec.Filter != nil {
		cond.Nested = append(cond.Nested, *spec.Filter)
	}
	spec.Filter = &cond

	xml, _, _, err := fetchxml.Generate(spec)
	if err != nil {
		return nil, err
	}
	scan := NewFetchXmlScan(xml, false, 0, 0, "")
	rows, err := collectAll(ctx, scan)
	if err != nil {
		if _, ok := err.(*remote.AggregateLimitExceeded); ok {
			return a.bisect(ctx)
		}
		return nil, err
	}
	return rows, nil
}

func (a *AdaptiveAggregateScan) bisect(ctx *planctx.Context) ([]*sqltypes.QueryRow, error) {
	if a.depth >= maxBisectDepth {
		return nil, &remote.AggregateLimitExceeded{Range: a.Range}
	}
	midTicks := a.Range.Min.UnixNano() + (a.Range.Max.UnixNano()-a.Range.Min.UnixNano())/2
	mid := time.Unix(0, midTicks).UTC()
	if !mid.After(a.Range.Min) || !mid.Before(a.Range.Max) {
		return nil, &remote.AggregateLimitExceeded{Range: a.Range}
	}

	left := a.withRange(remote.TimeRange{Min: a.Range.Min, Max: mid}, a.depth+1)
	right := a.withRange(remote.TimeRange{Min: mid, Max: a.Range.Max}, a.depth+1)

	leftRows, err := left.runOnce(ctx)
	if err != nil {
		return nil, err
	}
	rightRows, err := right.runOnce(ctx)
	if err != nil {
		return nil, err
	}
	return append(leftRows, rightRows...), nil
}

// Next implements Node.
func (a *AdaptiveAggregateScan) Next(ctx *planctx.Context) (*sqltypes.QueryRow, error) {
	if !a.started {
		rows, err := a.runOnce(ctx)
		if err != nil {
			return nil, err
		}
		a.rows = rows
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
func (a *AdaptiveAggregateScan) Describe(indent string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%sAdaptiveAggregateScan(%s, [%s, %s))", indent, a.Entity,
		a.Range.Min.Format(time.RFC3339), a.Range.Max.Format(time.RFC3339))
	return b.String()
}
