package planbuild

import (
	"strings"
	"testing"
	"time"

	"github.com/ppds-sdk/sqlengine/internal/planexec"
	"github.com/ppds-sdk/sqlengine/internal/remote"
	"github.com/ppds-sdk/sqlengine/internal/sqlast"
	"github.com/ppds-sdk/sqlengine/internal/sqlparse"
)

func parseSelect(t *testing.T, sql string) *sqlast.Select {
	t.Helper()
	script, err := sqlparse.Parse(sql)
	if err != nil {
		t.Fatalf("parse %q: %v", sql, err)
	}
	if len(script.Statements) != 1 {
		t.Fatalf("expected 1 statement, got %d", len(script.Statements))
	}
	sel, ok := script.Statements[0].(*sqlast.Select)
	if !ok {
		t.Fatalf("expected *sqlast.Select, got %T", script.Statements[0])
	}
	return sel
}

func newBuilder() *Builder {
	return New(Options{PoolCapacity: 4, MaxRows: 5000, DmlRowCap: 10000}, nil, nil)
}

func TestBuildSimpleSelectProducesFetchXmlScan(t *testing.T) {
	sel := parseSelect(t, "SELECT name, revenue FROM account WHERE statecode = 0")
	res, err := newBuilder().Build(sel, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.EntityLogicalName != "account" {
		t.Errorf("entity = %q, want account", res.EntityLogicalName)
	}
	if !strings.Contains(res.FetchXml, `entity name="account"`) {
		t.Errorf("fetchxml missing entity: %s", res.FetchXml)
	}
	if !strings.Contains(res.FetchXml, `operator="eq"`) {
		t.Errorf("fetchxml missing pushed-down filter: %s", res.FetchXml)
	}
	if _, ok := res.Root.(*planexec.FetchXmlScan); !ok {
		t.Errorf("root = %T, want *planexec.FetchXmlScan", res.Root)
	}
}

func TestBuildBareCountStarUsesCountOptimized(t *testing.T) {
	sel := parseSelect(t, "SELECT COUNT(*) FROM account")
	res, err := newBuilder().Build(sel, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := res.Root.(*planexec.CountOptimized); !ok {
		t.Errorf("root = %T, want *planexec.CountOptimized", res.Root)
	}
}

func TestBuildUnionWrapsDistinct(t *testing.T) {
	sel := parseSelect(t, "SELECT name FROM account UNION SELECT name FROM contact")
	res, err := newBuilder().Build(sel, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := res.Root.(*planexec.Distinct); !ok {
		t.Errorf("root = %T, want *planexec.Distinct", res.Root)
	}
}

func TestBuildUnionAllSkipsDistinct(t *testing.T) {
	sel := parseSelect(t, "SELECT name FROM account UNION ALL SELECT name FROM contact")
	res, err := newBuilder().Build(sel, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := res.Root.(*planexec.Concatenate); !ok {
		t.Errorf("root = %T, want *planexec.Concatenate", res.Root)
	}
}

func TestBuildStdevUsesClientAggregate(t *testing.T) {
	sel := parseSelect(t, "SELECT owner, STDEV(amount) AS spread FROM opportunity GROUP BY owner")
	res, err := newBuilder().Build(sel, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := res.Root.(*planexec.ClientAggregate); !ok {
		t.Errorf("root = %T, want *planexec.ClientAggregate", res.Root)
	}
	if strings.Contains(res.FetchXml, `aggregate="stdev"`) {
		t.Errorf("STDEV must not be pushed into FetchXML: %s", res.FetchXml)
	}
}

func TestBuildUsesTdsScanWhenHinted(t *testing.T) {
	sel := parseSelect(t, "SELECT name FROM account OPTION (USE_TDS)")
	res, err := newBuilder().Build(sel, "SELECT name FROM account OPTION (USE_TDS)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	scan, ok := res.Root.(*planexec.TdsScan)
	if !ok {
		t.Fatalf("root = %T, want *planexec.TdsScan", res.Root)
	}
	if scan.Sql == "" {
		t.Error("expected TdsScan to carry the original SQL text")
	}
}

func TestBuildPartitionsLargeAggregateDateRange(t *testing.T) {
	entityCount := func(string) (int64, error) { return 200_000, nil }
	entityRange := func(string) (remote.TimeRange, error) {
		return remote.TimeRange{
			Min: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
			Max: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		}, nil
	}
	b := New(Options{PoolCapacity: 4}, entityCount, entityRange)

	sel := parseSelect(t, "SELECT owner, COUNT(*) AS n FROM opportunity GROUP BY owner")
	res, err := b.Build(sel, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := res.Root.(*planexec.MergeAggregate); !ok {
		t.Errorf("root = %T, want *planexec.MergeAggregate", res.Root)
	}
}

func TestBuildCountDistinctNeverPartitions(t *testing.T) {
	entityCount := func(string) (int64, error) { return 200_000, nil }
	entityRange := func(string) (remote.TimeRange, error) {
		return remote.TimeRange{
			Min: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
			Max: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		}, nil
	}
	b := New(Options{PoolCapacity: 4}, entityCount, entityRange)

	sel := parseSelect(t, "SELECT owner, COUNT(DISTINCT accountid) AS n FROM opportunity GROUP BY owner")
	res, err := b.Build(sel, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := res.Root.(*planexec.MergeAggregate); ok {
		t.Error("COUNT(DISTINCT) must not be partitioned (Open Question b)")
	}
	if _, ok := res.Root.(*planexec.FetchXmlScan); !ok {
		t.Errorf("root = %T, want a single FetchXmlScan", res.Root)
	}
}

func TestBuildInsertValues(t *testing.T) {
	script, err := sqlparse.Parse("INSERT INTO account (name) VALUES ('Acme')")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	res, err := newBuilder().Build(script.Statements[0], "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	node, ok := res.Root.(*planexec.DmlExecute)
	if !ok {
		t.Fatalf("root = %T, want *planexec.DmlExecute", res.Root)
	}
	if node.Shape != planexec.DmlInsertValues {
		t.Errorf("shape = %v, want InsertValues", node.Shape)
	}
}

func TestBuildUpdateRequestsPrimaryKeyAndSetColumns(t *testing.T) {
	script, err := sqlparse.Parse("UPDATE account SET revenue = 100 WHERE statecode = 0")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	res, err := newBuilder().Build(script.Statements[0], "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	node, ok := res.Root.(*planexec.DmlExecute)
	if !ok {
		t.Fatalf("root = %T, want *planexec.DmlExecute", res.Root)
	}
	if node.Shape != planexec.DmlUpdate {
		t.Errorf("shape = %v, want Update", node.Shape)
	}
	if node.PrimaryKeyCol != "accountid" {
		t.Errorf("primary key col = %q, want accountid", node.PrimaryKeyCol)
	}
	if !strings.Contains(res.FetchXml, `name="accountid"`) {
		t.Errorf("fetchxml must request the primary key: %s", res.FetchXml)
	}
}

func TestToQuerySpecificationAcceptsSingleJoin(t *testing.T) {
	_, err := toQuerySpecification(parseSelect(t,
		"SELECT a.name FROM account a INNER JOIN contact c ON a.accountid = c.parentcustomerid"))
	if err != nil {
		t.Fatalf("single join should succeed: %v", err)
	}
}

func TestConvertFilterBailsOnUnpushableExpr(t *testing.T) {
	sel := parseSelect(t, "SELECT name FROM account WHERE LEN(name) > 5")
	spec, err := toQuerySpecification(sel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec.Filter != nil {
		t.Error("expected no pushed-down filter for a computed WHERE predicate")
	}
}
