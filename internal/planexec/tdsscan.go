package planexec

import (
	"io"

	"github.com/ppds-sdk/sqlengine/internal/planctx"
	"github.com/ppds-sdk/sqlengine/internal/sqltypes"
)

// TdsScan sends the original SQL to the TDS executor and passes rows
// through unchanged, client-side clamping at MaxRows (§4.5.12).
type TdsScan struct {
	Sql     string
	MaxRows int64

	rows    []*sqltypes.QueryRow
	idx     int
	started bool
}

// NewTdsScan builds a TDS passthrough scan.
func NewTdsScan(sql string, maxRows int64) *TdsScan {
	return &TdsScan{Sql: sql, MaxRows: maxRows}
}

// Next implements Node.
func (t *TdsScan) Next(ctx *planctx.Context) (*sqltypes.QueryRow, error) {
	if !t.started {
		result, err := ctx.Tds.TdsExecuteSql(ctx.Go, t.Sql, t.MaxRows)
		if err != nil {
			return nil, err
		}
		rows := result.Records
		if t.MaxRows > 0 && int64(len(rows)) > t.MaxRows {
			rows = rows[:t.MaxRows]
		}
		t.rows = rows
		t.started = true
	}
	if t.idx >= len(t.rows) {
		return nil, io.EOF
	}
	row := t.rows[t.idx]
	t.idx++
	return row, nil
}

// Describe implements Node.
func (t *TdsScan) Describe(indent string) string {
	return indent + "TdsScan(max_rows=" + itoa(t.MaxRows) + ")"
}
