package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ppds-sdk/sqlengine/internal/config"
	"github.com/ppds-sdk/sqlengine/internal/dmlguard"
	"github.com/ppds-sdk/sqlengine/internal/planexec"
	"github.com/ppds-sdk/sqlengine/internal/ratectl"
	"github.com/ppds-sdk/sqlengine/internal/remote"
	"github.com/ppds-sdk/sqlengine/internal/sqleval"
	"github.com/ppds-sdk/sqlengine/internal/sqltypes"
	"github.com/ppds-sdk/sqlengine/internal/sqlvalidate"
)

// fakeRemote satisfies QueryExecutor, BulkExecutor, and MetadataExecutor
// with a fixed catalog and a single page of canned rows, in the style of
// sqlvalidate's fakeCatalog.
type fakeRemote struct {
	entities   map[string]bool
	attributes map[string][]string
	rows       []*sqltypes.QueryRow
	fetchErr   error
}

func (f *fakeRemote) Entities(ctx context.Context) ([]string, error) {
	names := make([]string, 0, len(f.entities))
	for e := range f.entities {
		names = append(names, e)
	}
	return names, nil
}

func (f *fakeRemote) Attributes(ctx context.Context, entity string) ([]string, error) {
	return f.attributes[entity], nil
}

func (f *fakeRemote) FetchXml(ctx context.Context, xml string, pageNumber int32, cookie string, includeCount bool) (*remote.FetchResult, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return &remote.FetchResult{Records: f.rows, MoreRecords: false, TotalCount: int64(len(f.rows))}, nil
}

func (f *fakeRemote) TotalRecordCount(ctx context.Context, entity string) (int64, error) {
	return int64(len(f.rows)), nil
}

func (f *fakeRemote) MinMaxCreatedOn(ctx context.Context, entity string) (remote.TimeRange, error) {
	return remote.TimeRange{}, nil
}

func (f *fakeRemote) CreateMultiple(ctx context.Context, entity string, records []*sqltypes.QueryRow) (*remote.BulkResult, error) {
	return &remote.BulkResult{SuccessCount: len(records)}, nil
}

func (f *fakeRemote) UpdateMultiple(ctx context.Context, entity string, records []*sqltypes.QueryRow) (*remote.BulkResult, error) {
	return &remote.BulkResult{SuccessCount: len(records)}, nil
}

func (f *fakeRemote) DeleteMultiple(ctx context.Context, entity string, ids []sqltypes.Guid) (*remote.BulkResult, error) {
	return &remote.BulkResult{SuccessCount: len(ids)}, nil
}

func newFakeRemote() *fakeRemote {
	row := sqltypes.NewQueryRow("account")
	row.Set("accountid", sqltypes.QueryValue{Raw: "1"})
	row.Set("name", sqltypes.QueryValue{Raw: "Contoso"})
	return &fakeRemote{
		entities:   map[string]bool{"account": true},
		attributes: map[string][]string{"account": {"accountid", "name"}},
		rows:       []*sqltypes.QueryRow{row},
	}
}

func newTestEngine(fr *fakeRemote) *Engine {
	return &Engine{
		opts:      config.EngineOptions{PoolCapacity: 4},
		query:     fr,
		bulk:      fr,
		metadata:  fr,
		validator: sqlvalidate.New(fr),
		eval:      sqleval.New(),
		rateCtl:   ratectl.New(ratectl.Config{RecommendedDOP: 2, Connections: 1, HardCeiling: 20}),
	}
}

func TestTranspilePure(t *testing.T) {
	e := newTestEngine(newFakeRemote())
	xml, err := e.Transpile("SELECT name FROM account", nil)
	if err != nil {
		t.Fatalf("Transpile() error = %v", err)
	}
	if xml == "" {
		t.Fatal("expected non-empty fetchxml")
	}
}

func TestTranspileAppliesTopOverride(t *testing.T) {
	e := newTestEngine(newFakeRemote())
	top := int64(5)
	xml, err := e.Transpile("SELECT name FROM account", &top)
	if err != nil {
		t.Fatalf("Transpile() error = %v", err)
	}
	if xml == "" {
		t.Fatal("expected non-empty fetchxml")
	}
	if !strings.Contains(xml, `count="5"`) {
		t.Errorf("expected the TOP override as count=\"5\", got %s", xml)
	}
}

func TestExecuteSelectReturnsRows(t *testing.T) {
	e := newTestEngine(newFakeRemote())
	result, err := e.Execute(context.Background(), Request{SQL: "SELECT name FROM account"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(result.Rows))
	}
	if result.TranspiledFetchXml == "" {
		t.Error("expected TranspiledFetchXml to be populated")
	}
}

func TestExecuteUnknownEntityIsSemanticError(t *testing.T) {
	e := newTestEngine(newFakeRemote())
	_, err := e.Execute(context.Background(), Request{SQL: "SELECT name FROM widget"})
	if err == nil {
		t.Fatal("expected a semantic error for an unknown entity")
	}
	var semErr *SemanticError
	if !errors.As(err, &semErr) {
		t.Fatalf("expected *SemanticError, got %T: %v", err, err)
	}
	if got := ErrorCode(err); got != ErrorCodeSemanticError {
		t.Errorf("ErrorCode() = %q, want %q", got, ErrorCodeSemanticError)
	}
}

func TestExecuteDeleteWithoutWhereIsBlocked(t *testing.T) {
	e := newTestEngine(newFakeRemote())
	e.opts.Safety.PreventDeleteWithoutWhere = true
	req := Request{
		SQL:       "DELETE FROM account",
		DmlSafety: &dmlguard.Options{},
	}
	result, err := e.Execute(context.Background(), req)
	if err == nil {
		t.Fatal("expected a blocked-DML error")
	}
	var blocked *DmlBlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected *DmlBlockedError, got %T: %v", err, err)
	}
	if result == nil || result.DmlSafety == nil || !result.DmlSafety.IsBlocked {
		t.Fatalf("expected DmlSafety.IsBlocked in result, got %+v", result)
	}
	if got := ErrorCode(err); got != ErrorCodeDmlBlocked {
		t.Errorf("ErrorCode() = %q, want %q", got, ErrorCodeDmlBlocked)
	}
}

func TestExecuteUpdateRequiresConfirmation(t *testing.T) {
	e := newTestEngine(newFakeRemote())
	e.opts.Safety.PreventUpdateWithoutWhere = false
	req := Request{
		SQL:       "UPDATE account SET name = 'x'",
		DmlSafety: &dmlguard.Options{},
	}
	_, err := e.Execute(context.Background(), req)
	if err == nil {
		t.Fatal("expected a confirmation-required error")
	}
	var confirmErr *ConfirmationRequiredError
	if !errors.As(err, &confirmErr) {
		t.Fatalf("expected *ConfirmationRequiredError, got %T: %v", err, err)
	}
	if got := ErrorCode(err); got != ErrorCodeConfirmationRequired {
		t.Errorf("ErrorCode() = %q, want %q", got, ErrorCodeConfirmationRequired)
	}
}

func TestExecuteUpdateConfirmedRuns(t *testing.T) {
	e := newTestEngine(newFakeRemote())
	e.opts.Safety.PreventUpdateWithoutWhere = false
	req := Request{
		SQL:       "UPDATE account SET name = 'x'",
		DmlSafety: &dmlguard.Options{IsConfirmed: true},
	}
	result, err := e.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.DmlSafety == nil || result.DmlSafety.IsBlocked || result.DmlSafety.RequiresConfirmation {
		t.Fatalf("expected a clean verdict once confirmed, got %+v", result.DmlSafety)
	}
}

func TestExecuteStreamingYieldsChunks(t *testing.T) {
	e := newTestEngine(newFakeRemote())
	chunks, errCh := e.ExecuteStreaming(context.Background(), Request{SQL: "SELECT name FROM account"}, 10)

	var total int
	for chunk := range chunks {
		total += len(chunk.Rows)
	}
	if err, ok := <-errCh; ok && err != nil {
		t.Fatalf("ExecuteStreaming() error = %v", err)
	}
	if total != 1 {
		t.Fatalf("expected 1 row across all chunks, got %d", total)
	}
}

func TestExecuteStreamingParseErrorReturnsNilChunksAndClosesErrCh(t *testing.T) {
	e := newTestEngine(newFakeRemote())
	chunks, errCh := e.ExecuteStreaming(context.Background(), Request{SQL: "SELECT FROM"}, 10)
	if chunks != nil {
		t.Error("expected a nil chunk channel on parse error")
	}
	if err := <-errCh; err == nil {
		t.Fatal("expected a parse error on errCh")
	}
	if _, ok := <-errCh; ok {
		t.Error("expected errCh to be closed after the parse error")
	}
}

func TestExplainRendersTreeAndPoolCapacity(t *testing.T) {
	e := newTestEngine(newFakeRemote())
	desc, err := e.Explain("SELECT name FROM account")
	if err != nil {
		t.Fatalf("Explain() error = %v", err)
	}
	if desc.Description == "" {
		t.Error("expected a non-empty plan description")
	}
	if desc.PoolCapacity != 4 {
		t.Errorf("PoolCapacity = %d, want 4", desc.PoolCapacity)
	}
}

func TestErrorCodeCancelled(t *testing.T) {
	if got := ErrorCode(context.Canceled); got != ErrorCodeCancelled {
		t.Errorf("ErrorCode(context.Canceled) = %q, want %q", got, ErrorCodeCancelled)
	}
}

func TestErrorCodeRemoteErrorFallback(t *testing.T) {
	if got := ErrorCode(errors.New("boom")); got != ErrorCodeRemoteError {
		t.Errorf("ErrorCode(unknown) = %q, want %q", got, ErrorCodeRemoteError)
	}
}

func TestErrorCodeAggregateLimitExceeded(t *testing.T) {
	err := &remote.AggregateLimitExceeded{}
	if got := ErrorCode(err); got != ErrorCodeAggregateLimitExceeded {
		t.Errorf("ErrorCode() = %q, want %q", got, ErrorCodeAggregateLimitExceeded)
	}
}

func TestErrorCodeMemoryLimitExceeded(t *testing.T) {
	err := &planexec.ErrMemoryLimitExceeded{Limit: 100}
	if got := ErrorCode(err); got != ErrorCodeMemoryLimitExceeded {
		t.Errorf("ErrorCode() = %q, want %q", got, ErrorCodeMemoryLimitExceeded)
	}
}
