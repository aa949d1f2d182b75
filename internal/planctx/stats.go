package planctx

import "sync/atomic"

// Statistics holds the execution counters of §3: rows_read, pages_fetched,
// last paging state, and a suppression flag set under parallel execution to
// avoid racing writes to the paging fields.
type Statistics struct {
	RowsRead           int64
	PagesFetched       int64
	LastPagingCookie   string
	LastMoreRecords    bool
	LastPageNumber     int32
	LastTotalCount     int64
	SuppressPagingMeta int32 // 0/1, accessed atomically
}

// NewStatistics returns a zeroed Statistics.
func NewStatistics() *Statistics { return &Statistics{} }

// AddRows increments the row counter atomically — single-writer under
// non-parallel plans, but safe if a node is ever shared.
func (s *Statistics) AddRows(n int64) {
	atomic.AddInt64(&s.RowsRead, n)
}

// AddPage records one remote page fetch.
func (s *Statistics) AddPage() {
	atomic.AddInt64(&s.PagesFetched, 1)
}

// SuppressPaging marks paging metadata as unreliable — set by
// ParallelPartition before fanning out, per §4.5.3.
func (s *Statistics) SuppressPaging() {
	atomic.StoreInt32(&s.SuppressPagingMeta, 1)
}

// IsPagingSuppressed reports whether paging metadata writes should be skipped.
func (s *Statistics) IsPagingSuppressed() bool {
	return atomic.LoadInt32(&s.SuppressPagingMeta) == 1
}

// RecordPage updates the paging fields, a no-op when suppressed.
func (s *Statistics) RecordPage(cookie string, more bool, pageNumber int32, totalCount int64) {
	if s.IsPagingSuppressed() {
		return
	}
	s.LastPagingCookie = cookie
	s.LastMoreRecords = more
	s.LastPageNumber = pageNumber
	s.LastTotalCount = totalCount
	s.AddPage()
}
