package planexec

import (
	"context"
	"io"
	"testing"

	"github.com/ppds-sdk/sqlengine/internal/planctx"
	"github.com/ppds-sdk/sqlengine/internal/remote"
	"github.com/ppds-sdk/sqlengine/internal/sqlast"
	"github.com/ppds-sdk/sqlengine/internal/sqleval"
	"github.com/ppds-sdk/sqlengine/internal/sqltypes"
)

// fakeQueryExecutor serves fixed pages regardless of the FetchXML text,
// simulating the remote's paging contract for node-level tests.
type fakeQueryExecutor struct {
	pages [][]*sqltypes.QueryRow
}

func (f *fakeQueryExecutor) FetchXml(ctx context.Context, xml string, pageNumber int32, cookie string, includeCount bool) (*remote.FetchResult, error) {
	idx := int(pageNumber)
	if idx >= len(f.pages) {
		return &remote.FetchResult{MoreRecords: false}, nil
	}
	return &remote.FetchResult{
		Records:     f.pages[idx],
		MoreRecords: idx+1 < len(f.pages),
	}, nil
}

func (f *fakeQueryExecutor) TotalRecordCount(ctx context.Context, entity string) (int64, error) {
	return 0, nil
}

func (f *fakeQueryExecutor) MinMaxCreatedOn(ctx context.Context, entity string) (remote.TimeRange, error) {
	return remote.TimeRange{}, nil
}

func newTestContext(q remote.QueryExecutor) *planctx.Context {
	return planctx.New(context.Background(), q, sqleval.New(), 4)
}

func row(entity string, kv ...any) *sqltypes.QueryRow {
	r := sqltypes.NewQueryRow(entity)
	for i := 0; i+1 < len(kv); i += 2 {
		r.Set(kv[i].(string), sqltypes.QueryValue{Raw: kv[i+1]})
	}
	return r
}

func TestFetchXmlScanAutoPages(t *testing.T) {
	q := &fakeQueryExecutor{pages: [][]*sqltypes.QueryRow{
		{row("account", "name", "a"), row("account", "name", "b")},
		{row("account", "name", "c")},
	}}
	ctx := newTestContext(q)
	scan := NewFetchXmlScan("<fetch/>", true, 0, 0, "")

	var names []string
	for {
		r, err := scan.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		v, _ := r.Get("name")
		names = append(names, v.String())
	}
	if len(names) != 3 {
		t.Fatalf("expected 3 rows across two pages, got %v", names)
	}
}

func TestFetchXmlScanMaxRowsClamp(t *testing.T) {
	q := &fakeQueryExecutor{pages: [][]*sqltypes.QueryRow{
		{row("account", "n", 1), row("account", "n", 2), row("account", "n", 3)},
	}}
	ctx := newTestContext(q)
	scan := NewFetchXmlScan("<fetch/>", true, 2, 0, "")

	count := 0
	for {
		_, err := scan.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		count++
	}
	if count != 2 {
		t.Fatalf("expected max_rows to clamp at 2, got %d", count)
	}
}

func TestDistinctDropsDuplicates(t *testing.T) {
	q := &fakeQueryExecutor{}
	ctx := newTestContext(q)
	src := &sliceNode{rows: []*sqltypes.QueryRow{
		row("account", "name", "a"),
		row("account", "name", "a"),
		row("account", "name", "b"),
	}}
	d := NewDistinct(src, []string{"name"})

	var got []string
	for {
		r, err := d.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		v, _ := r.Get("name")
		got = append(got, v.String())
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 distinct rows, got %v", got)
	}
}

func TestConcatenateYieldsAllChildrenInOrder(t *testing.T) {
	ctx := newTestContext(&fakeQueryExecutor{})
	a := &sliceNode{rows: []*sqltypes.QueryRow{row("account", "n", int64(1))}}
	b := &sliceNode{rows: []*sqltypes.QueryRow{row("account", "n", int64(2)), row("account", "n", int64(3))}}
	c := NewConcatenate([]Node{a, b})

	var got []int64
	for {
		r, err := c.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		v, _ := r.Get("n")
		got = append(got, v.Raw.(int64))
	}
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("unexpected concat order: %v", got)
	}
}

func TestMergeAggregateCountAndAvg(t *testing.T) {
	ctx := newTestContext(&fakeQueryExecutor{})
	partials := &sliceNode{rows: []*sqltypes.QueryRow{
		row("opportunity", "owner", "alice", "cnt", int64(2), "avg_amt", 10.0, "avg_count", int64(2)),
		row("opportunity", "owner", "alice", "cnt", int64(3), "avg_amt", 20.0, "avg_count", int64(3)),
		row("opportunity", "owner", "bob", "cnt", int64(1), "avg_amt", 5.0, "avg_count", int64(1)),
	}}
	m := NewMergeAggregate(partials, []string{"owner"}, []MergeColumn{
		{Column: "cnt", Kind: AggCount},
		{Column: "avg_amt", Kind: AggAvg, CountColumn: "avg_count"},
	})

	results := map[string]float64{}
	avgs := map[string]float64{}
	for {
		r, err := m.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		owner, _ := r.Get("owner")
		cnt, _ := r.Get("cnt")
		avg, _ := r.Get("avg_amt")
		results[owner.String()] = cnt.Raw.(float64)
		avgs[owner.String()] = avg.Raw.(float64)
	}
	if results["alice"] != 5 {
		t.Errorf("alice count = %v, want 5", results["alice"])
	}
	if results["bob"] != 1 {
		t.Errorf("bob count = %v, want 1", results["bob"])
	}
	wantAliceAvg := (10.0*2 + 20.0*3) / 5.0
	if avgs["alice"] != wantAliceAvg {
		t.Errorf("alice avg = %v, want %v", avgs["alice"], wantAliceAvg)
	}
}

func TestClientAggregateStdevAndVar(t *testing.T) {
	ctx := newTestContext(&fakeQueryExecutor{})
	src := &sliceNode{rows: []*sqltypes.QueryRow{
		row("opportunity", "owner", "alice", "amt", 2.0),
		row("opportunity", "owner", "alice", "amt", 4.0),
		row("opportunity", "owner", "alice", "amt", 4.0),
		row("opportunity", "owner", "alice", "amt", 4.0),
		row("opportunity", "owner", "alice", "amt", 5.0),
		row("opportunity", "owner", "alice", "amt", 5.0),
		row("opportunity", "owner", "alice", "amt", 7.0),
		row("opportunity", "owner", "alice", "amt", 9.0),
	}}
	agg := NewClientAggregate(src, []string{"owner"}, []ClientAggColumn{
		{OutputName: "variance", Kind: ClientAggVar, Arg: &sqlast.ColumnRef{Name: "amt"}},
	})

	r, err := agg.Next(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, _ := r.Get("variance")
	got := v.Raw.(float64)
	if got < 4.56 || got > 4.58 {
		t.Errorf("variance = %v, want ~4.57", got)
	}
}

func TestClientAggregateSingleSampleIsZero(t *testing.T) {
	ctx := newTestContext(&fakeQueryExecutor{})
	src := &sliceNode{rows: []*sqltypes.QueryRow{row("opportunity", "owner", "alice", "amt", 5.0)}}
	agg := NewClientAggregate(src, []string{"owner"}, []ClientAggColumn{
		{OutputName: "v", Kind: ClientAggVar, Arg: &sqlast.ColumnRef{Name: "amt"}},
	})

	r, err := agg.Next(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, _ := r.Get("v")
	if v.Raw.(float64) != 0 {
		t.Errorf("expected n=1 variance to be 0, got %v", v.Raw)
	}
}

// sliceNode is a minimal test-only Node backed by a fixed row slice.
type sliceNode struct {
	rows []*sqltypes.QueryRow
	idx  int
}

func (s *sliceNode) Next(ctx *planctx.Context) (*sqltypes.QueryRow, error) {
	if s.idx >= len(s.rows) {
		return nil, io.EOF
	}
	r := s.rows[s.idx]
	s.idx++
	return r, nil
}

func (s *sliceNode) Describe(indent string) string { return indent + "sliceNode()" }

// panicBulkExecutor fails the test immediately if any of its methods is
// called — used to prove a dry-run DML statement never reaches the Bulk
// collaborator.
type panicBulkExecutor struct{ t *testing.T }

func (p *panicBulkExecutor) CreateMultiple(ctx context.Context, entity string, records []*sqltypes.QueryRow) (*remote.BulkResult, error) {
	p.t.Fatal("CreateMultiple must not be called during a dry run")
	return nil, nil
}

func (p *panicBulkExecutor) UpdateMultiple(ctx context.Context, entity string, records []*sqltypes.QueryRow) (*remote.BulkResult, error) {
	p.t.Fatal("UpdateMultiple must not be called during a dry run")
	return nil, nil
}

func (p *panicBulkExecutor) DeleteMultiple(ctx context.Context, entity string, ids []sqltypes.Guid) (*remote.BulkResult, error) {
	p.t.Fatal("DeleteMultiple must not be called during a dry run")
	return nil, nil
}

func TestDmlExecuteUpdateDryRunSkipsBulkCall(t *testing.T) {
	ctx := newTestContext(&fakeQueryExecutor{})
	ctx.Bulk = &panicBulkExecutor{t: t}
	ctx.DryRun = true

	src := &sliceNode{rows: []*sqltypes.QueryRow{
		row("account", "accountid", "11111111-1111-1111-1111-111111111111"),
		row("account", "accountid", "22222222-2222-2222-2222-222222222222"),
	}}

	node := NewDmlExecute(DmlUpdate, "account")
	node.Source = src
	node.PrimaryKeyCol = "accountid"
	node.SetClauses = []SetClauseExpr{{Column: "name", Value: &sqlast.Literal{Value: "Acme"}}}

	r, err := node.Next(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	affected, _ := r.Get("affected_rows")
	if affected.Raw.(int64) != 2 {
		t.Errorf("affected_rows = %v, want 2", affected.Raw)
	}
}

func TestDmlExecuteDeleteDryRunSkipsBulkCall(t *testing.T) {
	ctx := newTestContext(&fakeQueryExecutor{})
	ctx.Bulk = &panicBulkExecutor{t: t}
	ctx.DryRun = true

	src := &sliceNode{rows: []*sqltypes.QueryRow{
		row("account", "accountid", "11111111-1111-1111-1111-111111111111"),
	}}

	node := NewDmlExecute(DmlDelete, "account")
	node.Source = src
	node.PrimaryKeyCol = "accountid"

	r, err := node.Next(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	affected, _ := r.Get("affected_rows")
	if affected.Raw.(int64) != 1 {
		t.Errorf("affected_rows = %v, want 1", affected.Raw)
	}
}
