package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetSQLInput_FromArgs(t *testing.T) {
	sql, err := getSQLInput(queryCmd, []string{"SELECT accountid FROM account"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := "SELECT accountid FROM account"; sql != want {
		t.Errorf("getSQLInput() = %q, want %q", sql, want)
	}
}

func TestGetSQLInput_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	sqlFile := filepath.Join(tmpDir, "test.sql")
	content := "UPDATE account SET name = 'x' WHERE accountid = '1'\n"
	if err := os.WriteFile(sqlFile, []byte(content), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	queryCmd.Flags().Set("file", sqlFile)
	defer queryCmd.Flags().Set("file", "")

	sql, err := getSQLInput(queryCmd, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := "UPDATE account SET name = 'x' WHERE accountid = '1'"; sql != want {
		t.Errorf("getSQLInput() = %q, want %q", sql, want)
	}
}

func TestGetSQLInput_FileTakesPrecedence(t *testing.T) {
	tmpDir := t.TempDir()
	sqlFile := filepath.Join(tmpDir, "test.sql")
	if err := os.WriteFile(sqlFile, []byte("DELETE FROM account"), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	queryCmd.Flags().Set("file", sqlFile)
	defer queryCmd.Flags().Set("file", "")

	sql, err := getSQLInput(queryCmd, []string{"SELECT * FROM account"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sql != "DELETE FROM account" {
		t.Errorf("getSQLInput() = %q, want file content to take precedence", sql)
	}
}

func TestGetSQLInput_NoInput(t *testing.T) {
	queryCmd.Flags().Set("file", "")
	if _, err := getSQLInput(queryCmd, nil); err == nil {
		t.Error("expected error when no SQL provided, got nil")
	}
}

func TestGetSQLInput_FileNotFound(t *testing.T) {
	queryCmd.Flags().Set("file", "/nonexistent/path.sql")
	defer queryCmd.Flags().Set("file", "")

	if _, err := getSQLInput(queryCmd, nil); err == nil {
		t.Error("expected error for nonexistent file, got nil")
	}
}
