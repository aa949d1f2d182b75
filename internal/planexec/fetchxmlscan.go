package planexec

import (
	"fmt"
	"io"

	"github.com/ppds-sdk/sqlengine/internal/planctx"
	"github.com/ppds-sdk/sqlengine/internal/remote"
	"github.com/ppds-sdk/sqlengine/internal/sqltypes"
)

// FetchXmlScan executes a FetchXML query, either paging automatically until
// exhaustion/max_rows or serving a single caller-specified page (§4.5.1).
type FetchXmlScan struct {
	FetchXml          string
	AutoPage          bool
	MaxRows           int64
	InitialPageNumber int32
	InitialCookie     string
	// IncludeCount requests the total record count on the first page (§6
	// "include_count"); ignored by FetchXml once paging is past page one.
	IncludeCount bool
	// ParentIdColumn names the primary-key column used to detect a parent
	// straddling a page boundary when the query has link-entities; "" when
	// the query has no joins and straddling cannot occur.
	ParentIdColumn string

	buffer       []*sqltypes.QueryRow
	bufIdx       int
	pageNumber   int32
	cookie       string
	moreRecords  bool
	started      bool
	done         bool
	rowsEmitted  int64
	lastParentID string
}

// NewFetchXmlScan constructs a scan ready for its first Next call.
func NewFetchXmlScan(fetchXml string, autoPage bool, maxRows int64, initialPage int32, initialCookie string) *FetchXmlScan {
	return &FetchXmlScan{
		FetchXml:          fetchXml,
		AutoPage:          autoPage,
		MaxRows:           maxRows,
		InitialPageNumber: initialPage,
		InitialCookie:     initialCookie,
		pageNumber:        initialPage,
		cookie:            initialCookie,
	}
}

// ShouldMergeWithPreviousPage reports whether firstParentID matches the
// last parent id emitted on the prior page — the caller's signal to fold
// a straddling link-entity child set into the previous parent rather than
// emit a duplicate top-level row (§4.5.1).
func (s *FetchXmlScan) ShouldMergeWithPreviousPage(firstParentID string) bool {
	return s.lastParentID != "" && s.lastParentID == firstParentID
}

func (s *FetchXmlScan) fetchNextPage(ctx *planctx.Context) error {
	if !s.AutoPage && s.started {
		s.done = true
		return nil
	}
	result, err := ctx.Query.FetchXml(ctx.Go, s.FetchXml, s.pageNumber, s.cookie, s.IncludeCount && s.pageNumber == s.InitialPageNumber)
	if err != nil {
		if remote.IsAggregateLimitExceeded(err) {
			return &remote.AggregateLimitExceeded{}
		}
		return err
	}
	s.started = true
	s.buffer = result.Records
	s.bufIdx = 0
	s.moreRecords = result.MoreRecords
	s.cookie = result.PagingCookie
	s.pageNumber++
	ctx.Stats.RecordPage(result.PagingCookie, result.MoreRecords, s.pageNumber, result.TotalCount)
	if s.ParentIdColumn != "" && len(result.Records) > 0 {
		if v, ok := result.Records[len(result.Records)-1].Get(s.ParentIdColumn); ok {
			s.lastParentID = v.String()
		}
	}
	if !s.moreRecords {
		s.done = true
	}
	return nil
}

// Next implements Node.
func (s *FetchXmlScan) Next(ctx *planctx.Context) (*sqltypes.QueryRow, error) {
	if ctx.Cancelled() {
		return nil, ctx.Go.Err()
	}
	if s.MaxRows > 0 && s.rowsEmitted >= s.MaxRows {
		return nil, io.EOF
	}
	for s.bufIdx >= len(s.buffer) {
		if s.done && s.started {
			return nil, io.EOF
		}
		if err := s.fetchNextPage(ctx); err != nil {
			return nil, err
		}
		if len(s.buffer) == 0 && s.done {
			return nil, io.EOF
		}
	}
	row := s.buffer[s.bufIdx]
	s.bufIdx++
	s.rowsEmitted++
	ctx.Stats.AddRows(1)
	return row, nil
}

// Describe implements Node.
func (s *FetchXmlScan) Describe(indent string) string {
	mode := "single-page"
	if s.AutoPage {
		mode = "auto-page"
	}
	return fmt.Sprintf("%sFetchXmlScan(%s, max_rows=%d)", indent, mode, s.MaxRows)
}
