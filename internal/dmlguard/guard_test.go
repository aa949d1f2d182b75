package dmlguard

import (
	"math"
	"testing"

	"github.com/ppds-sdk/sqlengine/internal/sqlast"
	"github.com/ppds-sdk/sqlengine/internal/sqlparse"
)

func parseStmt(t *testing.T, sql string) sqlast.Statement {
	t.Helper()
	script, err := sqlparse.Parse(sql)
	if err != nil {
		t.Fatalf("parse %q: %v", sql, err)
	}
	if len(script.Statements) != 1 {
		t.Fatalf("expected 1 statement, got %d", len(script.Statements))
	}
	return script.Statements[0]
}

func TestEvaluateSelectNeverBlocked(t *testing.T) {
	stmt := parseStmt(t, "SELECT name FROM account")
	v := Evaluate(stmt, Options{}, Settings{PreventDeleteWithoutWhere: true, PreventUpdateWithoutWhere: true}, ProtectionProduction)
	if v.IsBlocked {
		t.Errorf("SELECT must never be blocked: %+v", v)
	}
}

func TestEvaluateDeleteWithoutWhereBlockedWhenFlagSet(t *testing.T) {
	stmt := parseStmt(t, "DELETE FROM account")
	v := Evaluate(stmt, Options{IsConfirmed: true}, Settings{PreventDeleteWithoutWhere: true}, ProtectionDevelopment)
	if !v.IsBlocked {
		t.Fatalf("expected DELETE without WHERE to be blocked")
	}
	if v.ErrorCode != "DML_NO_WHERE_CLAUSE" {
		t.Errorf("error code = %q", v.ErrorCode)
	}
	if want := "DELETE without WHERE is not allowed. Use 'ppds truncate account' for bulk deletion."; v.BlockReason != want {
		t.Errorf("block reason = %q, want %q", v.BlockReason, want)
	}
}

func TestEvaluateDeleteWithoutWhereDowngradesWhenFlagDisabled(t *testing.T) {
	stmt := parseStmt(t, "DELETE FROM account")
	v := Evaluate(stmt, Options{IsConfirmed: false}, Settings{PreventDeleteWithoutWhere: false}, ProtectionDevelopment)
	if v.IsBlocked {
		t.Fatalf("expected downgrade to confirmation, not a block")
	}
	if !v.RequiresConfirmation {
		t.Errorf("expected requires_confirmation after downgrade")
	}
}

func TestEvaluateUpdateWithWherePassesStaticRule(t *testing.T) {
	stmt := parseStmt(t, "UPDATE account SET revenue = 1 WHERE statecode = 0")
	v := Evaluate(stmt, Options{IsConfirmed: true}, Settings{PreventUpdateWithoutWhere: true}, ProtectionDevelopment)
	if v.IsBlocked {
		t.Errorf("UPDATE with WHERE must not be blocked: %+v", v)
	}
}

func TestEvaluateRowCapDefaultsTo10000(t *testing.T) {
	stmt := parseStmt(t, "INSERT INTO account (name) VALUES ('Acme')")
	v := Evaluate(stmt, Options{IsConfirmed: true}, Settings{}, ProtectionDevelopment)
	if v.RowCap != defaultRowCap {
		t.Errorf("row cap = %d, want %d", v.RowCap, defaultRowCap)
	}
}

func TestEvaluateNoLimitUsesMaxInt(t *testing.T) {
	stmt := parseStmt(t, "INSERT INTO account (name) VALUES ('Acme')")
	v := Evaluate(stmt, Options{IsConfirmed: true, NoLimit: true}, Settings{}, ProtectionDevelopment)
	if v.RowCap != math.MaxInt64 {
		t.Errorf("row cap = %d, want MaxInt64", v.RowCap)
	}
}

func TestEvaluateRowCapOverride(t *testing.T) {
	stmt := parseStmt(t, "INSERT INTO account (name) VALUES ('Acme')")
	v := Evaluate(stmt, Options{IsConfirmed: true, RowCapOverride: 500}, Settings{}, ProtectionDevelopment)
	if v.RowCap != 500 {
		t.Errorf("row cap = %d, want 500", v.RowCap)
	}
}

func TestEvaluateUnconfirmedRequiresConfirmation(t *testing.T) {
	stmt := parseStmt(t, "UPDATE account SET revenue = 1 WHERE statecode = 0")
	v := Evaluate(stmt, Options{IsConfirmed: false}, Settings{}, ProtectionDevelopment)
	if !v.RequiresConfirmation {
		t.Errorf("expected requires_confirmation when is_confirmed is false")
	}
}

func TestEvaluateProductionUnconfirmedRequiresPreview(t *testing.T) {
	stmt := parseStmt(t, "UPDATE account SET revenue = 1 WHERE statecode = 0")
	v := Evaluate(stmt, Options{IsConfirmed: false}, Settings{}, ProtectionProduction)
	if !v.RequiresConfirmation || !v.RequiresPreview {
		t.Errorf("expected both requires_confirmation and requires_preview in Production: %+v", v)
	}
}

func TestEvaluateDevelopmentConfirmedClearsConfirmation(t *testing.T) {
	stmt := parseStmt(t, "UPDATE account SET revenue = 1 WHERE statecode = 0")
	v := Evaluate(stmt, Options{IsConfirmed: true}, Settings{}, ProtectionDevelopment)
	if v.RequiresConfirmation {
		t.Errorf("Development + confirmed should clear requires_confirmation: %+v", v)
	}
}

func TestEvaluateDryRunDoesNotBlock(t *testing.T) {
	stmt := parseStmt(t, "DELETE FROM account WHERE statecode = 0")
	v := Evaluate(stmt, Options{IsConfirmed: true, IsDryRun: true}, Settings{PreventDeleteWithoutWhere: true}, ProtectionDevelopment)
	if v.IsBlocked {
		t.Errorf("a syntactically safe DML must not be blocked just because it's a dry run")
	}
	if !v.IsDryRun {
		t.Errorf("expected IsDryRun to be carried through")
	}
}

func TestEvaluateIfBranchesMergeToMostRestrictive(t *testing.T) {
	script, err := sqlparse.Parse("IF @flag = 1 DELETE FROM account ELSE DELETE FROM account WHERE statecode = 0")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ifStmt, ok := script.Statements[0].(*sqlast.If)
	if !ok {
		t.Fatalf("expected *sqlast.If, got %T", script.Statements[0])
	}
	v := Evaluate(ifStmt, Options{IsConfirmed: true}, Settings{PreventDeleteWithoutWhere: true}, ProtectionDevelopment)
	if !v.IsBlocked {
		t.Errorf("THEN branch has no WHERE and must make the whole IF blocked: %+v", v)
	}
}

func TestEvaluateCrossEnvironmentReadOnlyBlocksWrites(t *testing.T) {
	stmt := parseStmt(t, "UPDATE account SET revenue = 1 WHERE statecode = 0")
	v := EvaluateCrossEnvironment(stmt, Settings{CrossEnvPolicy: CrossEnvReadOnly}, ProtectionDevelopment, "dev", "prod")
	if !v.IsBlocked {
		t.Errorf("expected ReadOnly cross-env policy to block DML")
	}
}

func TestEvaluateCrossEnvironmentSelectAlwaysAllowed(t *testing.T) {
	stmt := parseStmt(t, "SELECT name FROM account")
	v := EvaluateCrossEnvironment(stmt, Settings{CrossEnvPolicy: CrossEnvReadOnly}, ProtectionProduction, "dev", "prod")
	if v.IsBlocked {
		t.Errorf("SELECT must always be allowed cross-environment")
	}
}

func TestEvaluateCrossEnvironmentAllowToProductionRequiresConfirmation(t *testing.T) {
	stmt := parseStmt(t, "UPDATE account SET revenue = 1 WHERE statecode = 0")
	v := EvaluateCrossEnvironment(stmt, Settings{CrossEnvPolicy: CrossEnvAllow}, ProtectionProduction, "dev", "prod")
	if !v.RequiresConfirmation {
		t.Errorf("Allow policy targeting Production must still require confirmation")
	}
}

func TestDetectProtectionLevel(t *testing.T) {
	cases := map[string]ProtectionLevel{
		"Production": ProtectionProduction,
		"production": ProtectionProduction,
		"Sandbox":    ProtectionDevelopment,
		"Trial":      ProtectionDevelopment,
		"":           ProtectionDevelopment,
	}
	for envType, want := range cases {
		if got := DetectProtectionLevel(envType); got != want {
			t.Errorf("DetectProtectionLevel(%q) = %v, want %v", envType, got, want)
		}
	}
}
