// Package planbuild implements the Plan Builder (C4, §4.4): it pushes as
// much work to FetchXML as the grammar accepts and inserts client-side
// operators to bridge what FetchXML cannot express. Grounded on the
// teacher's single-entry-point-over-an-Input-struct shape
// (analyzer.Analyze(Input) *Result), generalized from a one-shot risk
// classification into a tree-building pass.
package planbuild

import (
	"fmt"
	"strings"

	"github.com/ppds-sdk/sqlengine/internal/fetchxml"
	"github.com/ppds-sdk/sqlengine/internal/planctx"
	"github.com/ppds-sdk/sqlengine/internal/planexec"
	"github.com/ppds-sdk/sqlengine/internal/remote"
	"github.com/ppds-sdk/sqlengine/internal/sqlast"
	"github.com/ppds-sdk/sqlengine/internal/sqltypes"
)

// aggregateDateRangeThreshold is the configured estimated-record-count
// above which the builder considers date-range partitioning (§4.4).
const aggregateDateRangeThreshold = 50_000

// Options tunes builder decisions that depend on deployment configuration.
type Options struct {
	UseTds       bool // route eligible SELECTs through the TDS passthrough
	PoolCapacity int  // ParallelPartition width / AdaptiveAggregateScan clamp
	MaxRows      int64
	DmlRowCap    int64

	// InitialPageNumber/InitialCookie resume a prior FetchXmlScan from a
	// caller-supplied page rather than page 1, for a request that supplies
	// page_number/paging_cookie (§6 "execute(request)"). Zero value behaves
	// exactly as before: start from page 1.
	InitialPageNumber int32
	InitialCookie     string
	IncludeCount      bool
}

// Result is §4.4's PlanResult.
type Result struct {
	Root              planexec.Node
	FetchXml          string // "" when the plan has none (TDS/DML/script)
	EntityLogicalName string
	VirtualColumns    sqltypes.VirtualColumns
	DmlRowCap         int64
}

// Builder builds execution plans from statements. entityCount and
// entityRange back the aggregate date-partitioning decision; both may be
// nil (the builder then never partitions).
type Builder struct {
	opts          Options
	entityCount   func(entity string) (int64, error)
	entityRange   func(entity string) (remote.TimeRange, error)
}

// New builds a Builder. entityCount/entityRange are typically backed by
// ctx.Query.TotalRecordCount/MinMaxCreatedOn at plan time; passing nil
// disables date-range partitioning (the builder falls back to a single
// FetchXmlScan, which then surfaces AggregateLimitExceeded if it overflows).
func New(opts Options, entityCount func(string) (int64, error), entityRange func(string) (remote.TimeRange, error)) *Builder {
	if opts.PoolCapacity <= 0 {
		opts.PoolCapacity = 4
	}
	if opts.DmlRowCap <= 0 {
		opts.DmlRowCap = 10000
	}
	return &Builder{opts: opts, entityCount: entityCount, entityRange: entityRange}
}

// Build lowers one statement (already past C2 validation) into a plan.
// rawSQL is the original source text of stmt, needed verbatim by the TDS
// passthrough path (§4.4); callers outside a script pass the statement's own
// source slice, ScriptExecution's StatementPlanner passes "" since its
// nested statements never carry hints that select TDS.
func (b *Builder) Build(stmt sqlast.Statement, rawSQL string) (*Result, error) {
	switch s := stmt.(type) {
	case *sqlast.Select:
		return b.buildSelect(s, rawSQL)
	case *sqlast.Insert:
		return b.buildInsert(s)
	case *sqlast.Update:
		return b.buildUpdate(s)
	case *sqlast.Delete:
		return b.buildDelete(s)
	default:
		return nil, fmt.Errorf("planbuild: %T must be routed through ScriptExecution, not Build", stmt)
	}
}

// PlanAndRun builds stmt's plan and drains it to completion, satisfying
// planexec.StatementPlanner so ScriptExecution can hand nested SELECT/DML
// statements back to the same builder+executor pair that runs the outer
// statement. Nested statements never carry TDS hints worth honoring (a
// script's own source text isn't threaded down to them), so rawSQL is "".
func (b *Builder) PlanAndRun(ctx *planctx.Context, stmt sqlast.Statement) ([]*sqltypes.QueryRow, error) {
	result, err := b.Build(stmt, "")
	if err != nil {
		return nil, err
	}
	exec := planexec.NewExecutor(result.FetchXml)
	return exec.Run(ctx, result.Root)
}

// BuildScript wraps a multi-statement or control-flow script (§4.4
// "Scripts") in ScriptExecution, handing itself back as the StatementPlanner
// for nested SELECT/DML statements.
func (b *Builder) BuildScript(script *sqlast.Script) *Result {
	return &Result{Root: planexec.NewScriptExecution(script.Statements, b)}
}

// NeedsScript reports whether script must run through ScriptExecution
// rather than a single Build call (§4.4: more than one statement, or any
// control-flow statement).
func NeedsScript(script *sqlast.Script) bool {
	if len(script.Statements) != 1 {
		return true
	}
	switch script.Statements[0].(type) {
	case *sqlast.Declare, *sqlast.SetVariable, *sqlast.If, *sqlast.While, *sqlast.TryCatch, *sqlast.Block:
		return true
	}
	return false
}

func (b *Builder) buildSelect(s *sqlast.Select, rawSQL string) (*Result, error) {
	if rawSQL != "" && (b.opts.UseTds || hasHint(s, "USE_TDS")) && isAnsiExpressible(s) {
		entity := ""
		if len(s.From) > 0 {
			entity = s.From[0].Table
		}
		return &Result{Root: planexec.NewTdsScan(rawSQL, b.opts.MaxRows), EntityLogicalName: entity}, nil
	}

	if isBareCountStar(s) {
		return b.buildBareCountStar(s)
	}

	if s.SetOp != nil {
		return b.buildSetOperation(s)
	}

	return b.buildScanPipeline(s)
}

func hasHint(s *sqlast.Select, name string) bool {
	for _, h := range s.Hints {
		if strings.EqualFold(h.Name, name) {
			return true
		}
	}
	return false
}

// isAnsiExpressible reports whether a SELECT stays inside the ANSI SQL
// subset the TDS read endpoint accepts (§4.4 "TDS passthrough"): no window
// functions and no Dataverse-specific virtual-column (`*name`) projections.
func isAnsiExpressible(s *sqlast.Select) bool {
	for _, item := range s.SelectList {
		if item.IsStar && item.StarQual != "" {
			continue
		}
		if fn, ok := item.Expr.(*sqlast.WindowFunc); ok && fn != nil {
			return false
		}
	}
	return true
}

func isBareCountStar(s *sqlast.Select) bool {
	if s.Where != nil || len(s.GroupBy) > 0 || len(s.From) != 1 || len(s.From[0].Joins) > 0 {
		return false
	}
	if len(s.SelectList) != 1 {
		return false
	}
	agg, ok := s.SelectList[0].Expr.(*sqlast.AggFunc)
	return ok && agg.Star && strings.EqualFold(agg.Name, "COUNT")
}

func (b *Builder) buildBareCountStar(s *sqlast.Select) (*Result, error) {
	entity := s.From[0].Table
	alias := s.SelectList[0].Alias
	if alias == "" {
		alias = "count"
	}

	spec := fetchxml.QuerySpecification{
		Entity: entity,
		Aggregates: []fetchxml.AggregateSpec{
			{Aggregate: "count", Alias: alias},
		},
	}
	xml, _, _, err := fetchxml.Generate(spec)
	if err != nil {
		return nil, err
	}
	fallback := planexec.NewFetchXmlScan(xml, false, 0, 0, "")
	root := planexec.NewCountOptimized(entity, alias, fallback)
	return &Result{Root: root, FetchXml: xml, EntityLogicalName: entity}, nil
}

func (b *Builder) buildSetOperation(s *sqlast.Select) (*Result, error) {
	leftResult, err := b.buildScanPipeline(&sqlast.Select{
		Top: s.Top, Distinct: s.Distinct, SelectList: s.SelectList, From: s.From,
		Where: s.Where, GroupBy: s.GroupBy, Having: s.Having, OrderBy: s.OrderBy,
	})
	if err != nil {
		return nil, err
	}
	rightResult, err := b.buildSelect(s.SetOp.Right, "")
	if err != nil {
		return nil, err
	}

	children := []planexec.Node{leftResult.Root, rightResult.Root}
	concat := planexec.NewConcatenate(children)

	var root planexec.Node = concat
	if s.SetOp.Kind == sqlast.SetOpUnion || s.SetOp.Kind == sqlast.SetOpIntersect || s.SetOp.Kind == sqlast.SetOpExcept {
		root = planexec.NewDistinct(concat, nil)
	}
	return &Result{Root: root, EntityLogicalName: leftResult.EntityLogicalName}, nil
}

// buildScanPipeline is the common case: a single SELECT against one entity
// (possibly one level of JOIN), lowered to FetchXmlScan plus whatever
// client-side operators the select list/HAVING/window clauses require.
func (b *Builder) buildScanPipeline(s *sqlast.Select) (*Result, error) {
	if len(s.From) == 0 {
		return nil, fmt.Errorf("planbuild: SELECT with no FROM is not supported")
	}
	entity := s.From[0].Table

	spec, err := toQuerySpecification(s)
	if err != nil {
		return nil, err
	}

	var root planexec.Node
	var fetchXmlText string
	var virtualCols sqltypes.VirtualColumns

	hasAggregates := len(spec.Aggregates) > 0
	clientAgg := hasClientOnlyAggregates(s)
	switch {
	case clientAgg:
		xml, vcols, _, err := fetchxml.Generate(spec)
		if err != nil {
			return nil, err
		}
		fetchXmlText = xml
		virtualCols = vcols
		scan := planexec.NewFetchXmlScan(xml, true, b.opts.MaxRows, b.opts.InitialPageNumber, b.opts.InitialCookie)
		scan.IncludeCount = b.opts.IncludeCount
		scan.ParentIdColumn = parentIDColumn(s)
		root = planexec.NewClientAggregate(scan, groupByNames(s), toClientAggColumns(s))
	case hasAggregates && b.shouldPartition(entity, s):
		partRoot, err := b.buildPartitionedAggregate(entity, spec)
		if err != nil {
			return nil, err
		}
		root = partRoot
	default:
		xml, vcols, _, err := fetchxml.Generate(spec)
		if err != nil {
			return nil, err
		}
		fetchXmlText = xml
		virtualCols = vcols
		fxScan := planexec.NewFetchXmlScan(xml, true, b.opts.MaxRows, b.opts.InitialPageNumber, b.opts.InitialCookie)
		fxScan.IncludeCount = b.opts.IncludeCount
		fxScan.ParentIdColumn = parentIDColumn(s)
		root = fxScan
	}

	if s.Having != nil {
		root = planexec.NewClientFilter(root, s.Having)
	}

	if windows := collectWindows(s); len(windows) > 0 {
		root = planexec.NewClientWindow(root, windows)
	}

	if needsProject(s) {
		root = planexec.NewProject(root, toProjectColumns(s))
	}

	if s.Distinct {
		root = planexec.NewDistinct(root, nil)
	}

	return &Result{Root: root, FetchXml: fetchXmlText, EntityLogicalName: entity, VirtualColumns: virtualCols}, nil
}

func (b *Builder) shouldPartition(entity string, s *sqlast.Select) bool {
	if hasCountDistinct(s) {
		return false // Open Question (b): force single-partition for COUNT(DISTINCT)
	}
	if b.entityCount == nil || b.entityRange == nil {
		return false
	}
	count, err := b.entityCount(entity)
	if err != nil || count <= aggregateDateRangeThreshold {
		return false
	}
	rng, err := b.entityRange(entity)
	if err != nil || !rng.Max.After(rng.Min) {
		return false
	}
	return true
}

func hasCountDistinct(s *sqlast.Select) bool {
	for _, item := range s.SelectList {
		if agg, ok := item.Expr.(*sqlast.AggFunc); ok && agg.Distinct {
			return true
		}
	}
	return false
}

func (b *Builder) buildPartitionedAggregate(entity string, spec fetchxml.QuerySpecification) (planexec.Node, error) {
	rng, err := b.entityRange(entity)
	if err != nil {
		return nil, err
	}
	n := b.opts.PoolCapacity
	spans := splitRangeEqualWidth(rng, n)

	children := make([]planexec.Node, 0, len(spans))
	for _, span := range spans {
		children = append(children, planexec.NewAdaptiveAggregateScan(entity, spec, span))
	}
	partition := planexec.NewParallelPartition(children, n)

	groupBy, mergeCols := toMergeColumns(spec)
	return planexec.NewMergeAggregate(partition, groupBy, mergeCols), nil
}

