package planexec

import (
	"fmt"
	"io"

	"github.com/ppds-sdk/sqlengine/internal/planctx"
	"github.com/ppds-sdk/sqlengine/internal/sqlast"
	"github.com/ppds-sdk/sqlengine/internal/sqltypes"
)

// maxWhileIterations is the hard cap from §4.5.14.
const maxWhileIterations = 10_000

// StatementPlanner lets ScriptExecution hand a SELECT/DML statement back to
// the shared planner+executor instead of duplicating C4's routing logic
// here. Implemented by internal/planbuild to avoid planexec importing it
// (planbuild already imports planexec to build node trees).
type StatementPlanner interface {
	PlanAndRun(ctx *planctx.Context, stmt sqlast.Statement) ([]*sqltypes.QueryRow, error)
}

// ScriptExecution runs an ordered statement list under a shared variable
// scope (§4.5.14), emitting the rows of the last result-producing
// statement.
type ScriptExecution struct {
	Statements []sqlast.Statement
	Planner    StatementPlanner

	rows    []*sqltypes.QueryRow
	idx     int
	started bool
}

// NewScriptExecution builds a script runner over statements.
func NewScriptExecution(statements []sqlast.Statement, planner StatementPlanner) *ScriptExecution {
	return &ScriptExecution{Statements: statements, Planner: planner}
}

func (s *ScriptExecution) run(ctx *planctx.Context) error {
	var last []*sqltypes.QueryRow
	for _, stmt := range s.Statements {
		if ctx.Cancelled() {
			return ctx.Go.Err()
		}
		rows, hadRows, err := s.runStatement(ctx, stmt)
		if err != nil {
			return err
		}
		if hadRows {
			last = rows
		}
	}
	s.rows = last
	return nil
}

// runStatement executes one statement, returning (rows, produced, err).
// produced distinguishes "ran but yields no rows" (DECLARE, SET, an empty
// block) from "produced a (possibly empty) result set" for the
// last-statement-wins rule.
func (s *ScriptExecution) runStatement(ctx *planctx.Context, stmt sqlast.Statement) ([]*sqltypes.QueryRow, bool, error) {
	switch st := stmt.(type) {
	case *sqlast.Declare:
		var v sqltypes.QueryValue
		if st.Initial != nil {
			val, err := ctx.Eval.Evaluate(ctx, st.Initial, nil)
			if err != nil {
				return nil, false, err
			}
			v = val
		}
		ctx.Vars.Declare(st.Name, st.Type, v)
		return nil, false, nil

	case *sqlast.SetVariable:
		v, err := ctx.Eval.Evaluate(ctx, st.Value, nil)
		if err != nil {
			return nil, false, err
		}
		ctx.Vars.Set(st.Name, v)
		return nil, false, nil

	case *sqlast.If:
		cond, err := ctx.Eval.EvaluateCondition(ctx, st.Cond, nil)
		if err != nil {
			return nil, false, err
		}
		if cond {
			return s.runStatement(ctx, st.Then)
		}
		if st.Else != nil {
			return s.runStatement(ctx, st.Else)
		}
		return nil, false, nil

	case *sqlast.While:
		var last []*sqltypes.QueryRow
		var produced bool
		for i := 0; i < maxWhileIterations; i++ {
			if ctx.Cancelled() {
				return nil, false, ctx.Go.Err()
			}
			cond, err := ctx.Eval.EvaluateCondition(ctx, st.Cond, nil)
			if err != nil {
				return nil, false, err
			}
			if !cond {
				break
			}
			rows, ok, err := s.runStatement(ctx, st.Body)
			if err != nil {
				return nil, false, err
			}
			if ok {
				last, produced = rows, true
			}
		}
		return last, produced, nil

	case *sqlast.TryCatch:
		ctx.Vars.Push()
		rows, ok, err := s.runStatement(ctx, st.Try)
		ctx.Vars.Pop()
		if err == nil {
			return rows, ok, nil
		}
		ctx.Vars.SetCatchError(err.Error(), 50000)
		return s.runStatement(ctx, st.Catch)

	case *sqlast.Block:
		ctx.Vars.Push()
		defer ctx.Vars.Pop()
		var last []*sqltypes.QueryRow
		var produced bool
		for _, inner := range st.Statements {
			rows, ok, err := s.runStatement(ctx, inner)
			if err != nil {
				return nil, false, err
			}
			if ok {
				last, produced = rows, true
			}
		}
		return last, produced, nil

	default:
		rows, err := s.Planner.PlanAndRun(ctx, stmt)
		if err != nil {
			return nil, false, err
		}
		return rows, true, nil
	}
}

// Next implements Node.
func (s *ScriptExecution) Next(ctx *planctx.Context) (*sqltypes.QueryRow, error) {
	if !s.started {
		if err := s.run(ctx); err != nil {
			return nil, err
		}
		s.started = true
	}
	if s.idx >= len(s.rows) {
		return nil, io.EOF
	}
	row := s.rows[s.idx]
	s.idx++
	return row, nil
}

// Describe implements Node.
func (s *ScriptExecution) Describe(indent string) string {
	return fmt.Sprintf("%sScriptExecution(%d statements)", indent, len(s.Statements))
}
