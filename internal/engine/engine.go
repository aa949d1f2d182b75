// Package engine is the query-execution service surface (§6): the one
// entry point a CLI, a test, or any other caller drives instead of wiring
// sqlparse/sqlvalidate/planbuild/planexec/dmlguard together by hand.
// Grounded on the teacher's cmd package, which never exposes the
// parser/analyzer pipeline directly — Execute is cmd/plan.go's analogue,
// generalized from "analyze one DDL statement" into "transpile, validate,
// guard, plan, and run one script".
package engine

import (
	"context"
	"fmt"

	"github.com/ppds-sdk/sqlengine/internal/config"
	"github.com/ppds-sdk/sqlengine/internal/dmlguard"
	"github.com/ppds-sdk/sqlengine/internal/planbuild"
	"github.com/ppds-sdk/sqlengine/internal/planctx"
	"github.com/ppds-sdk/sqlengine/internal/planexec"
	"github.com/ppds-sdk/sqlengine/internal/ratectl"
	"github.com/ppds-sdk/sqlengine/internal/remote"
	"github.com/ppds-sdk/sqlengine/internal/resultexpand"
	"github.com/ppds-sdk/sqlengine/internal/sqlast"
	"github.com/ppds-sdk/sqlengine/internal/sqleval"
	"github.com/ppds-sdk/sqlengine/internal/sqlparse"
	"github.com/ppds-sdk/sqlengine/internal/sqltypes"
	"github.com/ppds-sdk/sqlengine/internal/sqlvalidate"
)

// Request is one execute/execute_streaming call (§6 "request has {sql,
// top_override?, page_number?, paging_cookie?, include_count, use_tds,
// dml_safety?, enable_prefetch}"). EnablePrefetch is accepted for interface
// fidelity but has no further behavior defined anywhere in scope — see
// DESIGN.md.
type Request struct {
	SQL            string
	TopOverride    *int64
	PageNumber     int32
	PagingCookie   string
	IncludeCount   bool
	UseTds         bool
	DmlSafety      *dmlguard.Options
	EnablePrefetch bool
}

// Result is what execute returns (§6 "{original_sql, transpiled_fetchxml,
// rows, dml_safety?}").
type Result struct {
	OriginalSQL        string
	TranspiledFetchXml string
	Rows               []*sqltypes.QueryRow
	DmlSafety          *dmlguard.Verdict
}

// PlanDescription is explain()'s return shape (§6 "{description,
// estimated_rows, children, pool_capacity?, effective_parallelism?}").
// estimated_rows/children aren't tracked per-node anywhere in the plan tree
// (planexec.Node.Describe renders the whole tree as one indented string,
// not a structured node list), so Description carries the full rendered
// tree and the two numeric fields are omitted — see DESIGN.md.
type PlanDescription struct {
	Description          string
	PoolCapacity          int
	EffectiveParallelism  int // 0 when the plan has no rate-controlled bulk path
}

// Engine wires the validator, guard, rate controller, and plan
// builder/executor against one set of remote collaborators.
type Engine struct {
	opts      config.EngineOptions
	query     remote.QueryExecutor
	tds       remote.TdsExecutor
	bulk      remote.BulkExecutor
	metadata  remote.MetadataExecutor
	validator *sqlvalidate.Validator
	eval      *sqleval.Evaluator
	rateCtl   *ratectl.Controller
}

// New builds an Engine from resolved EngineOptions, dialing the Dataverse
// Web API client and, when enabled, the TDS passthrough connection.
func New(opts config.EngineOptions) (*Engine, error) {
	httpClient := remote.NewHTTPClient(remote.HTTPClientConfig{
		BaseURL:     opts.Connection.BaseURL,
		BearerToken: opts.Connection.BearerToken,
	})

	var tds remote.TdsExecutor
	if opts.Connection.TdsEnabled {
		client, err := remote.DialTds(remote.TdsConfig{
			Server:   opts.Connection.TdsServer,
			Port:     opts.Connection.TdsPort,
			Database: opts.Connection.TdsDatabase,
			User:     opts.Connection.TdsUser,
			Password: opts.Connection.TdsPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("engine: dialing tds endpoint: %w", err)
		}
		tds = client
	}

	return &Engine{
		opts:      opts,
		query:     httpClient,
		tds:       tds,
		bulk:      httpClient,
		metadata:  httpClient,
		validator: sqlvalidate.New(httpClient),
		eval:      sqleval.New(),
		rateCtl:   ratectl.New(opts.RateControllerConfig()),
	}, nil
}

// Close releases the TDS connection, when one was dialed.
func (e *Engine) Close() error {
	if closer, ok := e.tds.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// builder constructs a Builder for one request. useTds lets a request opt
// out of an otherwise-dialed TDS passthrough (§6 "use_tds"); it can never
// opt in when no TDS connection was dialed. page/cookie/includeCount resume
// or annotate the underlying FetchXmlScan per §6's paging/include_count
// request fields.
func (e *Engine) builder(useTds bool, page int32, cookie string, includeCount bool) *planbuild.Builder {
	return planbuild.New(planbuild.Options{
		UseTds:            e.tds != nil && useTds,
		PoolCapacity:      e.opts.PoolCapacity,
		InitialPageNumber: page,
		InitialCookie:     cookie,
		IncludeCount:      includeCount,
	}, e.entityCount, e.entityRange)
}

func (e *Engine) entityCount(entity string) (int64, error) {
	return e.query.TotalRecordCount(context.Background(), entity)
}

func (e *Engine) entityRange(entity string) (remote.TimeRange, error) {
	return e.query.MinMaxCreatedOn(context.Background(), entity)
}

// Transpile lowers sql's first statement straight to FetchXML (§6
// "transpile(sql, top_override?) → fetchxml"), pure — it never touches the
// remote (TotalRecordCount/MinMaxCreatedOn are unavailable here, so
// aggregate date-range partitioning never triggers; callers needing that
// decision reflected should go through Execute/Explain instead).
func (e *Engine) Transpile(sql string, topOverride *int64) (string, error) {
	script, err := sqlparse.Parse(sql)
	if err != nil {
		return "", err
	}
	if len(script.Statements) != 1 {
		return "", fmt.Errorf("engine: transpile requires exactly one statement")
	}
	stmt := applyTopOverride(script.Statements[0], topOverride)

	b := planbuild.New(planbuild.Options{PoolCapacity: e.opts.PoolCapacity}, nil, nil)
	result, err := b.Build(stmt, sql)
	if err != nil {
		return "", err
	}
	return result.FetchXml, nil
}

func (e *Engine) newContext(goCtx context.Context, dryRun bool) *planctx.Context {
	ctx := planctx.New(goCtx, e.query, e.eval, e.opts.PoolCapacity)
	ctx.Tds = e.tds
	ctx.Bulk = e.bulk
	ctx.Metadata = e.metadata
	ctx.DryRun = dryRun
	ctx.RateCtl = e.rateCtl
	ctx.BulkBatchSize = e.opts.Rate.BulkBatchSize
	return ctx
}

// Execute parses, validates, guards, plans, and runs sql (§6 "execute").
// Parse errors and semantic diagnostics are never swallowed: a ParseError
// aborts before planning; validator diagnostics ride along attached to the
// returned error when any are errors-severity (the caller decides whether
// to proceed on warnings).
func (e *Engine) Execute(goCtx context.Context, req Request) (*Result, error) {
	script, err := sqlparse.Parse(req.SQL)
	if err != nil {
		return nil, err
	}
	if err := e.validate(goCtx, script, len(req.SQL)); err != nil {
		return nil, err
	}

	verdict, err := e.guardFirstStatement(script, req.DmlSafety)
	if err != nil {
		return nil, err
	}
	if verdict != nil && verdict.IsBlocked {
		return &Result{OriginalSQL: req.SQL, DmlSafety: verdict}, &DmlBlockedError{Verdict: *verdict}
	}
	if verdict != nil && verdict.RequiresConfirmation {
		return &Result{OriginalSQL: req.SQL, DmlSafety: verdict}, &ConfirmationRequiredError{Verdict: *verdict}
	}
	dryRun := verdict != nil && verdict.IsDryRun

	b := e.builder(req.UseTds, req.PageNumber, req.PagingCookie, req.IncludeCount)
	var plan *planbuild.Result
	if planbuild.NeedsScript(script) {
		plan = b.BuildScript(script)
	} else {
		stmt := applyTopOverride(script.Statements[0], req.TopOverride)
		plan, err = b.Build(stmt, req.SQL)
		if err != nil {
			return nil, err
		}
	}

	ctx := e.newContext(goCtx, dryRun)
	exec := planexec.NewExecutor(plan.FetchXml)
	rows, err := exec.Run(ctx, plan.Root)
	if err != nil {
		return nil, err
	}
	rows = resultexpand.Expand(rows, plan.VirtualColumns)

	return &Result{
		OriginalSQL:        req.SQL,
		TranspiledFetchXml: plan.FetchXml,
		Rows:               rows,
		DmlSafety:          verdict,
	}, nil
}

// ExecuteStreaming is execute_streaming (§6): same pipeline as Execute, but
// chunks rows instead of collecting them, and expands virtual columns
// per-chunk so a caller consuming the stream sees `*name` sidecars
// immediately rather than only after the whole result lands.
func (e *Engine) ExecuteStreaming(goCtx context.Context, req Request, chunkSize int) (<-chan planexec.Chunk, <-chan error) {
	errCh := make(chan error, 1)

	script, err := sqlparse.Parse(req.SQL)
	if err != nil {
		errCh <- err
		close(errCh)
		return nil, errCh
	}
	if err := e.validate(goCtx, script, len(req.SQL)); err != nil {
		errCh <- err
		close(errCh)
		return nil, errCh
	}
	verdict, err := e.guardFirstStatement(script, req.DmlSafety)
	if err != nil {
		errCh <- err
		close(errCh)
		return nil, errCh
	}
	if verdict != nil && verdict.IsBlocked {
		errCh <- &DmlBlockedError{Verdict: *verdict}
		close(errCh)
		return nil, errCh
	}
	if verdict != nil && verdict.RequiresConfirmation {
		errCh <- &ConfirmationRequiredError{Verdict: *verdict}
		close(errCh)
		return nil, errCh
	}
	dryRun := verdict != nil && verdict.IsDryRun

	b := e.builder(req.UseTds, req.PageNumber, req.PagingCookie, req.IncludeCount)
	var plan *planbuild.Result
	if planbuild.NeedsScript(script) {
		plan = b.BuildScript(script)
	} else {
		stmt := applyTopOverride(script.Statements[0], req.TopOverride)
		plan, err = b.Build(stmt, req.SQL)
		if err != nil {
			errCh <- err
			close(errCh)
			return nil, errCh
		}
	}

	ctx := e.newContext(goCtx, dryRun)
	exec := planexec.NewExecutor(plan.FetchXml)
	rawChunks, rawErr := exec.RunStreaming(ctx, plan.Root, chunkSize)

	out := make(chan planexec.Chunk)
	go func() {
		defer close(out)
		defer close(errCh)
		for chunk := range rawChunks {
			chunk.Rows = resultexpand.Expand(chunk.Rows, plan.VirtualColumns)
			out <- chunk
		}
		if err, ok := <-rawErr; ok && err != nil {
			errCh <- err
		}
	}()
	return out, errCh
}

// Explain builds sql's plan without running it and renders its tree (§6
// "explain").
func (e *Engine) Explain(sql string) (*PlanDescription, error) {
	script, err := sqlparse.Parse(sql)
	if err != nil {
		return nil, err
	}

	b := e.builder(true, 0, "", false)
	var plan *planbuild.Result
	if planbuild.NeedsScript(script) {
		plan = b.BuildScript(script)
	} else {
		plan, err = b.Build(script.Statements[0], sql)
		if err != nil {
			return nil, err
		}
	}

	effective := 0
	if e.rateCtl != nil {
		effective = e.rateCtl.GetParallelism()
	}
	return &PlanDescription{
		Description:          plan.Root.Describe(""),
		PoolCapacity:          e.opts.PoolCapacity,
		EffectiveParallelism: effective,
	}, nil
}

// validate runs the Semantic Validator (C2) over every top-level statement
// and fails fast on the first Error-severity diagnostic; Warning/Info
// diagnostics never block execution (§4.2 names them advisory).
func (e *Engine) validate(goCtx context.Context, script *sqlast.Script, sourceLen int) error {
	for _, stmt := range script.Statements {
		for _, diag := range e.validator.Validate(goCtx, stmt, sourceLen) {
			if diag.Severity == sqlvalidate.SeverityError {
				return &SemanticError{Diagnostic: diag}
			}
		}
	}
	return nil
}

// guardFirstStatement runs the DML Safety Guard (C7) over a script's first
// statement, when the caller supplied DmlSafety options. SELECT-only
// scripts never need a verdict (§4.7 only names DML), so a nil opts or an
// all-SELECT script returns (nil, nil).
func (e *Engine) guardFirstStatement(script *sqlast.Script, opts *dmlguard.Options) (*dmlguard.Verdict, error) {
	if opts == nil || len(script.Statements) == 0 {
		return nil, nil
	}
	if !isDml(script.Statements[0]) {
		return nil, nil
	}
	v := dmlguard.Evaluate(script.Statements[0], *opts, e.opts.DmlGuardSettings(), e.opts.ProtectionLevel())
	return &v, nil
}
