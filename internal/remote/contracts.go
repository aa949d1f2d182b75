// Package remote declares the collaborator contracts the core pipeline calls
// out to (§6 "Remote executor contracts consumed by the core"), plus a TDS
// implementation of QueryExecutor backed by the real wire protocol driver.
package remote

import (
	"context"
	"strings"
	"time"

	"github.com/ppds-sdk/sqlengine/internal/sqltypes"
)

// FetchResult is what a FetchXML query call returns.
type FetchResult struct {
	Records           []*sqltypes.QueryRow
	EntityLogicalName string
	MoreRecords       bool
	PagingCookie      string
	PageNumber        int32
	TotalCount        int64 // -1 when include_count was false
}

// TimeRange is an inclusive/exclusive UTC range, used for min/max createdon
// and for AdaptiveAggregateScan bisection.
type TimeRange struct {
	Min time.Time
	Max time.Time
}

// TdsResult is what the TDS read endpoint returns for a passthrough SELECT.
type TdsResult struct {
	Records           []*sqltypes.QueryRow
	EntityLogicalName string
}

// BulkResult is the outcome of one create_multiple/update_multiple/
// delete_multiple call.
type BulkResult struct {
	SuccessCount int
	FailureCount int
	Errors       []error
}

// QueryExecutor is the remote query surface (§6): FetchXML execution, total
// record count, createdon min/max, and TDS passthrough.
type QueryExecutor interface {
	FetchXml(ctx context.Context, xml string, pageNumber int32, pagingCookie string, includeCount bool) (*FetchResult, error)
	TotalRecordCount(ctx context.Context, entity string) (int64, error)
	MinMaxCreatedOn(ctx context.Context, entity string) (TimeRange, error)
}

// TdsExecutor is the TDS read-endpoint surface.
type TdsExecutor interface {
	TdsExecuteSql(ctx context.Context, sql string, maxRows int64) (*TdsResult, error)
}

// BulkExecutor is the remote write surface DmlExecute/bulkexec dispatch to.
type BulkExecutor interface {
	CreateMultiple(ctx context.Context, entity string, records []*sqltypes.QueryRow) (*BulkResult, error)
	UpdateMultiple(ctx context.Context, entity string, records []*sqltypes.QueryRow) (*BulkResult, error)
	DeleteMultiple(ctx context.Context, entity string, ids []sqltypes.Guid) (*BulkResult, error)
}

// MetadataExecutor backs the Semantic Validator's catalog.
type MetadataExecutor interface {
	Entities(ctx context.Context) ([]string, error)
	Attributes(ctx context.Context, entity string) ([]string, error)
}

// ThrottledError signals a per-request throttle response; any collaborator
// implementation returns it (not wrapped) instead of a result to trigger
// bulkexec's retry-with-backoff path (§4.9).
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string { return "remote throttled the request" }

// AggregateLimitExceeded is the typed error for the remote's 50,000-row
// aggregate cap (§4.5.1, §7).
type AggregateLimitExceeded struct {
	Range TimeRange
}

func (e *AggregateLimitExceeded) Error() string {
	return "remote aggregate operation exceeded the maximum record limit of 50000"
}

// IsAggregateLimitExceeded reports whether err (or any error it wraps, by
// message-chain inspection the way the teacher's error classification does)
// indicates the remote 50k aggregate cap. Matches the three message
// fragments named in §4.5.1.
func IsAggregateLimitExceeded(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := err.(*AggregateLimitExceeded); ok {
		return true
	}
	msg := err.Error()
	for _, frag := range []string{"AggregateQueryRecordLimit", "aggregate operation exceeded", "maximum record limit of 50000"} {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}
