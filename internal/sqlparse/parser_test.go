package sqlparse

import (
	"testing"

	"github.com/ppds-sdk/sqlengine/internal/sqlast"
)

func parseOneStmt(t *testing.T, sql string) sqlast.Statement {
	t.Helper()
	script, err := Parse(sql)
	if err != nil {
		t.Fatalf("parse %q: %v", sql, err)
	}
	if len(script.Statements) != 1 {
		t.Fatalf("expected 1 statement, got %d", len(script.Statements))
	}
	return script.Statements[0]
}

func TestParseCTEFlattenedIntoOuterSelect(t *testing.T) {
	stmt := parseOneStmt(t, "WITH open_accounts AS (SELECT accountid, name FROM account WHERE statecode = 0) SELECT name FROM open_accounts WHERE revenue > 1000")
	sel, ok := stmt.(*sqlast.Select)
	if !ok {
		t.Fatalf("expected *sqlast.Select, got %T", stmt)
	}
	if len(sel.From) != 1 || sel.From[0].Table != "account" {
		t.Fatalf("expected FROM to be flattened to account, got %+v", sel.From)
	}
	if sel.From[0].Alias != "open_accounts" {
		t.Errorf("expected alias to fall back to the CTE name, got %q", sel.From[0].Alias)
	}
	bin, ok := sel.Where.(*sqlast.BinaryExpr)
	if !ok || bin.Op != sqlast.OpAnd {
		t.Fatalf("expected outer WHERE ANDed with CTE WHERE, got %+v", sel.Where)
	}
}

func TestParseCTEPreservesJoinsFromBothSides(t *testing.T) {
	stmt := parseOneStmt(t, "WITH c AS (SELECT a.accountid FROM account a INNER JOIN contact ct ON ct.parentcustomerid = a.accountid) SELECT * FROM c LEFT JOIN opportunity o ON o.customerid = c.accountid")
	sel := stmt.(*sqlast.Select)
	if len(sel.From) != 1 {
		t.Fatalf("expected 1 flattened FROM entry, got %d", len(sel.From))
	}
	ref := sel.From[0]
	if ref.Table != "account" {
		t.Fatalf("expected base table account, got %q", ref.Table)
	}
	if len(ref.Joins) != 2 {
		t.Fatalf("expected CTE's join plus outer's join, got %d: %+v", len(ref.Joins), ref.Joins)
	}
	if ref.Joins[0].Table != "contact" || ref.Joins[1].Table != "opportunity" {
		t.Errorf("expected join order [contact, opportunity], got [%s, %s]", ref.Joins[0].Table, ref.Joins[1].Table)
	}
}

func TestParseCTEReferencedFromLaterCTE(t *testing.T) {
	stmt := parseOneStmt(t, "WITH base AS (SELECT accountid FROM account WHERE statecode = 0), derived AS (SELECT accountid FROM base) SELECT accountid FROM derived")
	sel := stmt.(*sqlast.Select)
	if len(sel.From) != 1 || sel.From[0].Table != "account" {
		t.Fatalf("expected chained CTE to flatten through to account, got %+v", sel.From)
	}
}

func TestParseCTEOnUpdateTarget(t *testing.T) {
	stmt := parseOneStmt(t, "WITH stale AS (SELECT accountid FROM account WHERE modifiedon < '2020-01-01') UPDATE stale SET statuscode = 2 WHERE statecode = 0")
	upd, ok := stmt.(*sqlast.Update)
	if !ok {
		t.Fatalf("expected *sqlast.Update, got %T", stmt)
	}
	if upd.Table != "account" {
		t.Errorf("expected flattened target table account, got %q", upd.Table)
	}
	bin, ok := upd.Where.(*sqlast.BinaryExpr)
	if !ok || bin.Op != sqlast.OpAnd {
		t.Fatalf("expected CTE WHERE folded into UPDATE WHERE, got %+v", upd.Where)
	}
}
