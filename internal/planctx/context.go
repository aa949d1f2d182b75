package planctx

import (
	"context"

	"github.com/ppds-sdk/sqlengine/internal/ratectl"
	"github.com/ppds-sdk/sqlengine/internal/remote"
	"github.com/ppds-sdk/sqlengine/internal/sqlast"
	"github.com/ppds-sdk/sqlengine/internal/sqltypes"
)

// Evaluator is the expression-evaluation surface a plan node needs (§9
// "evaluate(expr, row)", "evaluate_condition"). Defined here rather than in
// the evaluator's own package so planctx doesn't import back into it.
type Evaluator interface {
	Evaluate(ctx *Context, expr sqlast.Expr, row *sqltypes.QueryRow) (sqltypes.QueryValue, error)
	EvaluateCondition(ctx *Context, expr sqlast.Expr, row *sqltypes.QueryRow) (bool, error)
}

// Context is threaded through every plan node and script statement (§3
// "Plan context"): the remote collaborators, the expression evaluator, the
// variable scope, statistics sink, and cancellation.
type Context struct {
	Go context.Context

	Query    remote.QueryExecutor
	Tds      remote.TdsExecutor   // nil when no TDS connection string configured
	Bulk     remote.BulkExecutor  // nil outside DML execution
	Metadata remote.MetadataExecutor

	Eval  Evaluator
	Vars  *VariableScope
	Stats *Statistics

	// PoolCapacity bounds the combined in-flight remote request count across
	// a ParallelPartition and any nested AdaptiveAggregateScan bisection
	// (Open Question (a)): ParallelPartition holds one slot per running
	// child, and a child's AdaptiveAggregateScan bisects sequentially inside
	// that slot without acquiring another.
	PoolCapacity *Semaphore

	// DryRun, when true, routes DmlExecute/BulkOperationExecutor through a
	// plan-only path: no Bulk calls are issued.
	DryRun bool

	// RateCtl backs DmlExecute's batched Bulk dispatch (C8/C9); nil runs
	// batches at a fixed parallelism of 1 with no rate feedback.
	RateCtl *ratectl.Controller

	// BulkBatchSize is the batch size C9 partitions bulk operations into;
	// 0 falls back to bulkexec's default of 100.
	BulkBatchSize int
}

// New builds a root Context for one statement execution.
func New(goCtx context.Context, query remote.QueryExecutor, eval Evaluator, poolCapacity int) *Context {
	return &Context{
		Go:           goCtx,
		Query:        query,
		Eval:         eval,
		Vars:         NewVariableScope(),
		Stats:        NewStatistics(),
		PoolCapacity: NewSemaphore(poolCapacity),
	}
}

// Child derives a context for a nested scope (BEGIN...END, CATCH, a
// subquery plan) sharing every collaborator and the semaphore, but getting
// its own variable frame stack view via Vars.Push/Pop — callers push before
// entering and pop on exit rather than cloning Context itself, since the
// scope is mutable shared state by design.
func (c *Context) Child() *Context {
	clone := *c
	return &clone
}

// Cancelled reports whether the underlying Go context has been cancelled.
func (c *Context) Cancelled() bool {
	select {
	case <-c.Go.Done():
		return true
	default:
		return false
	}
}
