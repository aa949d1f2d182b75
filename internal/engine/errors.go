package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/ppds-sdk/sqlengine/internal/dmlguard"
	"github.com/ppds-sdk/sqlengine/internal/planexec"
	"github.com/ppds-sdk/sqlengine/internal/remote"
	"github.com/ppds-sdk/sqlengine/internal/sqlast"
	"github.com/ppds-sdk/sqlengine/internal/sqlparse"
	"github.com/ppds-sdk/sqlengine/internal/sqlvalidate"
)

// SemanticError wraps the first Error-severity diagnostic the validator
// raised (§7 "SemanticError (diagnostic) — reported via C2, never raised"
// becomes raised at the service boundary, since Execute has nowhere else to
// surface it before planning).
type SemanticError struct {
	Diagnostic sqlvalidate.Diagnostic
}

func (e *SemanticError) Error() string {
	return fmt.Sprintf("semantic error at offset %d: %s", e.Diagnostic.Offset, e.Diagnostic.Message)
}

// DmlBlockedError wraps a guard verdict that blocked the statement (§7
// "DmlBlocked — guard decided to refuse the operation").
type DmlBlockedError struct {
	Verdict dmlguard.Verdict
}

func (e *DmlBlockedError) Error() string {
	return fmt.Sprintf("dml blocked: %s", e.Verdict.BlockReason)
}

// ConfirmationRequiredError signals a guard verdict that reached execution
// without is_confirmed (§7 "ConfirmationRequired").
type ConfirmationRequiredError struct {
	Verdict dmlguard.Verdict
}

func (e *ConfirmationRequiredError) Error() string {
	return "dml statement requires confirmation before executing"
}

// Error codes per §6 "Error-code surface" / §7's taxonomy.
const (
	ErrorCodeParseError             = "Query.ParseError"
	ErrorCodeSemanticError          = "Query.SemanticError"
	ErrorCodeDmlBlocked             = "Query.DmlBlocked"
	ErrorCodeConfirmationRequired   = "Query.ConfirmationRequired"
	ErrorCodeAggregateLimitExceeded = "Query.AggregateLimitExceeded"
	ErrorCodeMemoryLimitExceeded    = "Query.MemoryLimitExceeded"
	ErrorCodeCancelled              = "Query.Cancelled"
	ErrorCodeRemoteError            = "Query.RemoteError"
)

// ErrorCode classifies err into one of the stable codes named in §6/§7, for
// callers that need {error_code, message, inner} rather than a raw Go
// error. Falls back to ErrorCodeRemoteError for anything it doesn't
// recognize, since by §7 "any other failure from the remote executor" is
// the catch-all.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return ErrorCodeCancelled
	}

	var parseErr *sqlparse.ParseError
	var semanticErr *SemanticError
	var blockedErr *DmlBlockedError
	var confirmErr *ConfirmationRequiredError
	var aggLimitErr *remote.AggregateLimitExceeded
	var memLimitErr *planexec.ErrMemoryLimitExceeded

	switch {
	case errors.As(err, &parseErr):
		return ErrorCodeParseError
	case errors.As(err, &semanticErr):
		return ErrorCodeSemanticError
	case errors.As(err, &blockedErr):
		return ErrorCodeDmlBlocked
	case errors.As(err, &confirmErr):
		return ErrorCodeConfirmationRequired
	case errors.As(err, &aggLimitErr):
		return ErrorCodeAggregateLimitExceeded
	case errors.As(err, &memLimitErr):
		return ErrorCodeMemoryLimitExceeded
	default:
		return ErrorCodeRemoteError
	}
}

// isDml reports whether stmt is one of the three DML statement kinds the
// guard evaluates; SELECT and control-flow statements never need a verdict.
func isDml(stmt sqlast.Statement) bool {
	switch stmt.(type) {
	case *sqlast.Insert, *sqlast.Update, *sqlast.Delete:
		return true
	default:
		return false
	}
}

// applyTopOverride rewrites a SELECT's TOP clause to topOverride, when both
// are present; every other statement kind and a nil topOverride pass stmt
// through unchanged (§6 "transpile(sql, top_override?)").
func applyTopOverride(stmt sqlast.Statement, topOverride *int64) sqlast.Statement {
	if topOverride == nil {
		return stmt
	}
	sel, ok := stmt.(*sqlast.Select)
	if !ok {
		return stmt
	}
	clone := *sel
	clone.Top = &sqlast.TopClause{Count: *topOverride}
	return &clone
}
