package planbuild

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ppds-sdk/sqlengine/internal/fetchxml"
	"github.com/ppds-sdk/sqlengine/internal/planexec"
	"github.com/ppds-sdk/sqlengine/internal/remote"
	"github.com/ppds-sdk/sqlengine/internal/sqlast"
)

// toQuerySpecification lowers a SELECT's pushable surface (select list,
// WHERE, GROUP BY, ORDER BY, single-level JOIN) into a fetchxml
// QuerySpecification. Anything it cannot express is left for the caller to
// wrap in ClientFilter/Project/ClientWindow.
func toQuerySpecification(s *sqlast.Select) (fetchxml.QuerySpecification, error) {
	spec := fetchxml.QuerySpecification{Entity: s.From[0].Table}

	clientAgg := hasClientOnlyAggregates(s)

	groupDims := map[string]bool{}
	for _, g := range s.GroupBy {
		if col, ok := g.(*sqlast.ColumnRef); ok {
			groupDims[strings.ToLower(col.Name)] = true
		}
	}

	for _, item := range s.SelectList {
		switch e := item.Expr.(type) {
		case nil:
			if item.IsStar && item.StarQual == "" {
				spec.AllColumns = true
			}
		case *sqlast.AggFunc:
			if isClientOnlyAgg(e) {
				for _, name := range referencedColumns(e.Arg) {
					spec.Columns = append(spec.Columns, fetchxml.ColumnSpec{Name: name})
				}
				continue
			}
			spec.Aggregates = append(spec.Aggregates, AggregateSpecFrom(e, item.Alias))
		case *sqlast.ColumnRef:
			if groupDims[strings.ToLower(e.Name)] && !clientAgg {
				spec.Aggregates = append(spec.Aggregates, fetchxml.AggregateSpec{
					Attribute: e.Name, Aggregate: "", GroupBy: true, Alias: groupAlias(item, e),
				})
				continue
			}
			spec.Columns = append(spec.Columns, columnSpecFrom(e, item.Alias))
		default:
			// computed expressions (FuncCall, CaseExpr, BinaryExpr, ...) are
			// not pushable; Project recomputes them client-side from the raw
			// columns they reference, added below.
			for _, name := range referencedColumns(e) {
				spec.Columns = append(spec.Columns, fetchxml.ColumnSpec{Name: name})
			}
		}
	}

	if len(spec.Aggregates) > 0 {
		spec.Columns = nil // FetchXML rejects mixing plain attributes with aggregates
	}

	if s.Where != nil {
		f, ok := convertFilter(s.Where)
		if ok {
			spec.Filter = f
		}
	}

	if s.Top != nil {
		if s.Top.Percent {
			return spec, fmt.Errorf("planbuild: TOP ... PERCENT is not supported")
		}
		spec.Top = s.Top.Count
	}

	for _, o := range s.OrderBy {
		if col, ok := o.Expr.(*sqlast.ColumnRef); ok {
			spec.Order = append(spec.Order, fetchxml.OrderSpec{Attribute: col.Name, Descending: o.Desc})
		}
	}

	if len(s.From[0].Joins) > 1 {
		return spec, fmt.Errorf("planbuild: only one level of JOIN is supported, got %d", len(s.From[0].Joins))
	}
	for _, j := range s.From[0].Joins {
		link, err := toLinkEntity(j)
		if err != nil {
			return spec, err
		}
		spec.Links = append(spec.Links, link)
	}

	return spec, nil
}

// AggregateSpecFrom lowers one SELECT-list aggregate call.
func AggregateSpecFrom(a *sqlast.AggFunc, alias string) fetchxml.AggregateSpec {
	out := fetchxml.AggregateSpec{Alias: alias}
	if out.Alias == "" {
		out.Alias = strings.ToLower(a.Name)
	}
	switch {
	case a.Star:
		out.Aggregate = "count"
	case a.Distinct:
		out.Aggregate = "countcolumn"
		if col, ok := a.Arg.(*sqlast.ColumnRef); ok {
			out.Attribute = col.Name
		}
	default:
		out.Aggregate = strings.ToLower(a.Name)
		if col, ok := a.Arg.(*sqlast.ColumnRef); ok {
			out.Attribute = col.Name
		}
	}
	return out
}

// isClientOnlyAgg reports whether a is one of the aggregates FetchXML's
// grammar cannot express (§4.5.10: STDEV, VAR).
func isClientOnlyAgg(a *sqlast.AggFunc) bool {
	return strings.EqualFold(a.Name, "STDEV") || strings.EqualFold(a.Name, "VAR")
}

func hasClientOnlyAggregates(s *sqlast.Select) bool {
	for _, item := range s.SelectList {
		if a, ok := item.Expr.(*sqlast.AggFunc); ok && isClientOnlyAgg(a) {
			return true
		}
	}
	return false
}

func toClientAggColumns(s *sqlast.Select) []planexec.ClientAggColumn {
	var cols []planexec.ClientAggColumn
	for _, item := range s.SelectList {
		a, ok := item.Expr.(*sqlast.AggFunc)
		if !ok || !isClientOnlyAgg(a) {
			continue
		}
		out := item.Alias
		if out == "" {
			out = strings.ToLower(a.Name)
		}
		kind := planexec.ClientAggVar
		if strings.EqualFold(a.Name, "STDEV") {
			kind = planexec.ClientAggStdev
		}
		cols = append(cols, planexec.ClientAggColumn{OutputName: out, Kind: kind, Arg: a.Arg})
	}
	return cols
}

func groupByNames(s *sqlast.Select) []string {
	var names []string
	for _, g := range s.GroupBy {
		if col, ok := g.(*sqlast.ColumnRef); ok {
			names = append(names, col.Name)
		}
	}
	return names
}

func groupAlias(item sqlast.SelectItem, col *sqlast.ColumnRef) string {
	if item.Alias != "" {
		return item.Alias
	}
	return col.Name
}

// virtualSuffix is the "name"-suffixed convention §3 documents for a
// lookup/option-set/boolean's formatted display column (e.g. ownerid →
// owneridname).
const virtualSuffix = "name"

func columnSpecFrom(col *sqlast.ColumnRef, alias string) fetchxml.ColumnSpec {
	name := col.Name
	if strings.HasSuffix(strings.ToLower(name), virtualSuffix) && len(name) > len(virtualSuffix) {
		base := name[:len(name)-len(virtualSuffix)]
		outputName := alias
		if outputName == "" {
			outputName = name // preserve "owneridname" as the output column, not the stripped base
		}
		return fetchxml.ColumnSpec{Name: base, Alias: outputName, Virtual: true}
	}
	return fetchxml.ColumnSpec{Name: name, Alias: alias}
}

// referencedColumns collects the ColumnRef leaves under a non-pushable
// expression, so the FetchXML request still fetches the raw columns Project
// needs to recompute it client-side.
func referencedColumns(e sqlast.Expr) []string {
	var out []string
	var walk func(sqlast.Expr)
	walk = func(x sqlast.Expr) {
		switch v := x.(type) {
		case *sqlast.ColumnRef:
			out = append(out, v.Name)
		case *sqlast.BinaryExpr:
			walk(v.Left)
			walk(v.Right)
		case *sqlast.UnaryExpr:
			walk(v.Operand)
		case *sqlast.FuncCall:
			for _, a := range v.Args {
				walk(a)
			}
		case *sqlast.Case:
			if v.Operand != nil {
				walk(v.Operand)
			}
			for _, w := range v.Whens {
				walk(w.Cond)
				walk(w.Result)
			}
			if v.Else != nil {
				walk(v.Else)
			}
		case *sqlast.Between:
			walk(v.Expr)
			walk(v.Low)
			walk(v.High)
		case *sqlast.Like:
			walk(v.Expr)
		case *sqlast.In:
			walk(v.Expr)
		case *sqlast.IsNull:
			walk(v.Expr)
		}
	}
	walk(e)
	return out
}

// convertFilter attempts a full conversion of a WHERE/HAVING predicate into
// a FetchXML filter tree. It returns ok=false (leaving the whole predicate
// for ClientFilter) rather than risk an incorrect partial pushdown.
func convertFilter(e sqlast.Expr) (*fetchxml.Filter, bool) {
	switch v := e.(type) {
	case *sqlast.BinaryExpr:
		switch v.Op {
		case sqlast.OpAnd, sqlast.OpOr:
			left, ok := convertFilter(v.Left)
			if !ok {
				return nil, false
			}
			right, ok := convertFilter(v.Right)
			if !ok {
				return nil, false
			}
			typ := fetchxml.FilterAnd
			if v.Op == sqlast.OpOr {
				typ = fetchxml.FilterOr
			}
			return &fetchxml.Filter{Type: typ, Nested: []fetchxml.Filter{*left, *right}}, true
		default:
			cond, ok := conditionFromBinary(v)
			if !ok {
				return nil, false
			}
			return &fetchxml.Filter{Type: fetchxml.FilterAnd, Conditions: []fetchxml.Condition{cond}}, true
		}
	case *sqlast.Between:
		col, ok := v.Expr.(*sqlast.ColumnRef)
		if !ok || v.Not {
			return nil, false
		}
		low, ok1 := literalString(v.Low)
		high, ok2 := literalString(v.High)
		if !ok1 || !ok2 {
			return nil, false
		}
		return &fetchxml.Filter{Type: fetchxml.FilterAnd, Conditions: []fetchxml.Condition{
			{Attribute: col.Name, Operator: fetchxml.OpGreaterEqual, Value: low},
			{Attribute: col.Name, Operator: fetchxml.OpLessEqual, Value: high},
		}}, true
	case *sqlast.Like:
		col, ok := v.Expr.(*sqlast.ColumnRef)
		if !ok {
			return nil, false
		}
		pattern, ok := literalString(v.Pattern)
		if !ok {
			return nil, false
		}
		op := fetchxml.OpLike
		if v.Not {
			op = fetchxml.OpNotLike
		}
		return &fetchxml.Filter{Type: fetchxml.FilterAnd, Conditions: []fetchxml.Condition{
			{Attribute: col.Name, Operator: op, Value: likeToFetchXmlWildcard(pattern)},
		}}, true
	case *sqlast.In:
		col, ok := v.Expr.(*sqlast.ColumnRef)
		if !ok {
			return nil, false
		}
		values := make([]string, 0, len(v.List))
		for _, item := range v.List {
			s, ok := literalString(item)
			if !ok {
				return nil, false
			}
			values = append(values, s)
		}
		op := fetchxml.OpIn
		if v.Not {
			op = fetchxml.OpNotIn
		}
		return &fetchxml.Filter{Type: fetchxml.FilterAnd, Conditions: []fetchxml.Condition{
			{Attribute: col.Name, Operator: op, Values: values},
		}}, true
	case *sqlast.IsNull:
		col, ok := v.Expr.(*sqlast.ColumnRef)
		if !ok {
			return nil, false
		}
		op := fetchxml.OpNull
		if v.Not {
			op = fetchxml.OpNotNull
		}
		return &fetchxml.Filter{Type: fetchxml.FilterAnd, Conditions: []fetchxml.Condition{
			{Attribute: col.Name, Operator: op},
		}}, true
	default:
		return nil, false
	}
}

func conditionFromBinary(v *sqlast.BinaryExpr) (fetchxml.Condition, bool) {
	col, lit, ok := splitComparison(v)
	if !ok {
		return fetchxml.Condition{}, false
	}
	op, ok := comparisonOperator(v.Op)
	if !ok {
		return fetchxml.Condition{}, false
	}
	val, ok := literalString(lit)
	if !ok {
		return fetchxml.Condition{}, false
	}
	return fetchxml.Condition{Attribute: col.Name, Operator: op, Value: val}, true
}

func splitComparison(v *sqlast.BinaryExpr) (*sqlast.ColumnRef, sqlast.Expr, bool) {
	if col, ok := v.Left.(*sqlast.ColumnRef); ok {
		return col, v.Right, true
	}
	if col, ok := v.Right.(*sqlast.ColumnRef); ok {
		return col, v.Left, true
	}
	return nil, nil, false
}

func comparisonOperator(op sqlast.BinOp) (fetchxml.Operator, bool) {
	switch op {
	case sqlast.OpEq:
		return fetchxml.OpEqual, true
	case sqlast.OpNeq:
		return fetchxml.OpNotEqual, true
	case sqlast.OpGt:
		return fetchxml.OpGreaterThan, true
	case sqlast.OpGte:
		return fetchxml.OpGreaterEqual, true
	case sqlast.OpLt:
		return fetchxml.OpLessThan, true
	case sqlast.OpLte:
		return fetchxml.OpLessEqual, true
	default:
		return "", false
	}
}

func literalString(e sqlast.Expr) (string, bool) {
	lit, ok := e.(*sqlast.Literal)
	if !ok || lit.Value == nil {
		return "", false
	}
	switch v := lit.Value.(type) {
	case string:
		return v, true
	case int64:
		return strconv.FormatInt(v, 10), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	case time.Time:
		return v.UTC().Format(time.RFC3339), true
	default:
		return fmt.Sprintf("%v", v), true
	}
}

// likeToFetchXmlWildcard rewrites SQL LIKE's `%`/`_` wildcards to FetchXML's
// `%`/`_` — identical in this dialect, kept as its own step since Dataverse
// also requires literal `%`/`_` to be escaped with `[]`, which callers
// writing a literal wildcard character are expected to have already done.
func likeToFetchXmlWildcard(pattern string) string { return pattern }

func toLinkEntity(j sqlast.Join) (fetchxml.LinkEntity, error) {
	on, ok := j.On.(*sqlast.BinaryExpr)
	if !ok || on.Op != sqlast.OpEq {
		return fetchxml.LinkEntity{}, fmt.Errorf("planbuild: JOIN ON must be a single equality, got %T", j.On)
	}
	left, lok := on.Left.(*sqlast.ColumnRef)
	right, rok := on.Right.(*sqlast.ColumnRef)
	if !lok || !rok {
		return fetchxml.LinkEntity{}, fmt.Errorf("planbuild: JOIN ON must compare two columns")
	}

	from, to := left.Name, right.Name
	if left.Table != "" && !strings.EqualFold(left.Table, j.Alias) && !strings.EqualFold(left.Table, j.Table) {
		from, to = right.Name, left.Name
	}

	linkType := "inner"
	if j.Kind == sqlast.JoinLeft {
		linkType = "outer"
	}
	return fetchxml.LinkEntity{
		Name: j.Table, Alias: j.Alias, From: from, To: to, LinkType: linkType, AllColumns: true,
	}, nil
}

// parentIDColumn names the entity's primary-id column so FetchXmlScan can
// detect a parent record straddling a page boundary; only meaningful when
// the query joins a 1:N child (toQuerySpecification accepts at most one join).
func parentIDColumn(s *sqlast.Select) string {
	if len(s.From[0].Joins) == 0 {
		return ""
	}
	return s.From[0].Table + "id"
}

func needsProject(s *sqlast.Select) bool {
	for _, item := range s.SelectList {
		switch item.Expr.(type) {
		case *sqlast.AggFunc, *sqlast.WindowFunc, nil:
			continue
		case *sqlast.ColumnRef:
			if item.Alias != "" {
				return true
			}
			continue
		default:
			return true
		}
	}
	return false
}

func toProjectColumns(s *sqlast.Select) []planexec.ProjectColumn {
	var cols []planexec.ProjectColumn
	for _, item := range s.SelectList {
		switch e := item.Expr.(type) {
		case nil:
			continue // star: passthrough, Project is not engaged for bare *
		case *sqlast.AggFunc, *sqlast.WindowFunc:
			continue // already materialized by the scan/ClientWindow stage
		case *sqlast.ColumnRef:
			out := item.Alias
			if out == "" {
				out = e.Name
			}
			cols = append(cols, planexec.ProjectColumn{OutputName: out, SourceName: e.Name})
		default:
			out := item.Alias
			if out == "" {
				out = "expr"
			}
			cols = append(cols, planexec.ProjectColumn{OutputName: out, Expr: e})
		}
	}
	return cols
}

func collectWindows(s *sqlast.Select) []planexec.WindowDefinition {
	var out []planexec.WindowDefinition
	for _, item := range s.SelectList {
		fn, ok := item.Expr.(*sqlast.WindowFunc)
		if !ok {
			continue
		}
		name := item.Alias
		if name == "" {
			name = strings.ToLower(fn.Name)
		}
		out = append(out, planexec.WindowDefinition{OutputColumn: name, Func: fn})
	}
	return out
}

func toMergeColumns(spec fetchxml.QuerySpecification) ([]string, []planexec.MergeColumn) {
	var groupBy []string
	var cols []planexec.MergeColumn
	for _, a := range spec.Aggregates {
		if a.GroupBy {
			groupBy = append(groupBy, a.Alias)
			continue
		}
		kind := planexec.AggKind(strings.ToUpper(a.Aggregate))
		switch a.Aggregate {
		case "countcolumn":
			kind = planexec.AggCountDistinct
		case "count":
			kind = planexec.AggCount
		}
		cols = append(cols, planexec.MergeColumn{Column: a.Alias, Kind: kind})
	}
	return groupBy, cols
}

// splitRangeEqualWidth divides rng into n equal-width UTC-tick slices
// (§4.4 "equal-width date-range slices").
func splitRangeEqualWidth(rng remote.TimeRange, n int) []remote.TimeRange {
	if n <= 0 {
		n = 1
	}
	total := rng.Max.Sub(rng.Min)
	if total <= 0 {
		return []remote.TimeRange{rng}
	}
	step := total / time.Duration(n)
	spans := make([]remote.TimeRange, 0, n)
	cur := rng.Min
	for i := 0; i < n; i++ {
		next := cur.Add(step)
		if i == n-1 {
			next = rng.Max
		}
		spans = append(spans, remote.TimeRange{Min: cur, Max: next})
		cur = next
	}
	return spans
}
