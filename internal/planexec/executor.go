package planexec

import (
	"io"

	"github.com/ppds-sdk/sqlengine/internal/planctx"
	"github.com/ppds-sdk/sqlengine/internal/sqltypes"
)

// ColumnKind classifies an output column for the caller's benefit, inferred
// from the first row carrying the column (§4.6).
type ColumnKind string

const (
	ColumnLookup    ColumnKind = "Lookup"
	ColumnOptionSet ColumnKind = "OptionSet"
	ColumnBoolean   ColumnKind = "Boolean"
	ColumnUnknown   ColumnKind = "Unknown"
)

// InferColumnKind classifies one value's flags per §4.6: "is_lookup →
// Lookup; is_option_set → OptionSet; is_boolean → Boolean; else Unknown".
func InferColumnKind(v sqltypes.QueryValue) ColumnKind {
	switch {
	case v.Flags.IsLookup:
		return ColumnLookup
	case v.Flags.IsOptionSet:
		return ColumnOptionSet
	case v.Flags.IsBoolean:
		return ColumnBoolean
	default:
		return ColumnUnknown
	}
}

// Chunk is one batch from the streaming executor: up to N rows, with
// IsComplete marking the final chunk. The first chunk additionally carries
// the inferred columns and the transpiled FetchXML for caller inspection.
type Chunk struct {
	Rows        []*sqltypes.QueryRow
	IsComplete  bool
	Columns     map[string]ColumnKind // set only on the first chunk
	FetchXml    string                // set only on the first chunk
}

// Executor walks a root Node, forwarding rows and propagating cancellation
// (§4.6).
type Executor struct {
	// FetchXml is attached to the first streaming chunk for caller
	// inspection; set by the plan builder when the root ultimately wraps a
	// FetchXmlScan, empty otherwise (TDS passthrough, DML, scripts).
	FetchXml string
}

// NewExecutor builds an Executor reporting fetchXml on the first streaming
// chunk (empty string when the plan has none, e.g. TdsScan/DmlExecute).
func NewExecutor(fetchXml string) *Executor {
	return &Executor{FetchXml: fetchXml}
}

// Run drains root fully into a slice, the non-streaming entry point.
func (e *Executor) Run(ctx *planctx.Context, root Node) ([]*sqltypes.QueryRow, error) {
	return collectAll(ctx, root)
}

// RunStreaming yields chunks of up to chunkSize rows. The returned channel
// is closed after the final chunk or on error; errCh carries at most one
// error.
func (e *Executor) RunStreaming(ctx *planctx.Context, root Node, chunkSize int) (<-chan Chunk, <-chan error) {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	chunks := make(chan Chunk)
	errCh := make(chan error, 1)

	go func() {
		defer close(chunks)
		first := true
		buf := make([]*sqltypes.QueryRow, 0, chunkSize)
		columns := map[string]ColumnKind{}

		flush := func(complete bool) bool {
			chunk := Chunk{Rows: buf, IsComplete: complete}
			if first {
				chunk.Columns = columns
				chunk.FetchXml = e.FetchXml
				first = false
			}
			select {
			case chunks <- chunk:
				return true
			case <-ctx.Go.Done():
				return false
			}
		}

		for {
			if ctx.Cancelled() {
				errCh <- ctx.Go.Err()
				return
			}
			row, err := root.Next(ctx)
			if err != nil {
				if err != io.EOF {
					errCh <- err
					return
				}
				flush(true)
				return
			}
			for _, col := range row.Columns {
				if _, seen := columns[col]; !seen {
					if v, ok := row.Get(col); ok {
						columns[col] = InferColumnKind(v)
					}
				}
			}
			buf = append(buf, row)
			if len(buf) >= chunkSize {
				if !flush(false) {
					return
				}
				buf = make([]*sqltypes.QueryRow, 0, chunkSize)
			}
		}
	}()

	return chunks, errCh
}
