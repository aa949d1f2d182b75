package output

import (
	"fmt"
	"strings"

	"github.com/ppds-sdk/sqlengine/internal/sqltypes"
)

func columnHeader(rows []*sqltypes.QueryRow) []string {
	if len(rows) == 0 {
		return nil
	}
	return rows[0].Columns
}

func cellText(v sqltypes.QueryValue) string {
	if v.IsNull() {
		return "NULL"
	}
	if v.Formatted != "" {
		return v.Formatted
	}
	return v.String()
}

// renderRowsPlain renders rows as a left-aligned column table, one result
// row per line, each column padded to its widest observed cell.
func renderRowsPlain(rows []*sqltypes.QueryRow) string {
	cols := columnHeader(rows)
	if len(cols) == 0 {
		return "(no rows)"
	}

	widths := make([]int, len(cols))
	for i, c := range cols {
		widths[i] = len(c)
	}
	cellRows := make([][]string, len(rows))
	for i, row := range rows {
		cells := make([]string, len(cols))
		for j, c := range cols {
			v, _ := row.Get(c)
			cells[j] = cellText(v)
			if len(cells[j]) > widths[j] {
				widths[j] = len(cells[j])
			}
		}
		cellRows[i] = cells
	}

	var b strings.Builder
	writeRow := func(cells []string) {
		for i, cell := range cells {
			if i > 0 {
				b.WriteString("  ")
			}
			fmt.Fprintf(&b, "%-*s", widths[i], cell)
		}
		b.WriteByte('\n')
	}
	writeRow(cols)
	for i := range cols {
		if i > 0 {
			b.WriteString("  ")
		}
		b.WriteString(strings.Repeat("-", widths[i]))
	}
	b.WriteByte('\n')
	for _, cells := range cellRows {
		writeRow(cells)
	}
	return strings.TrimRight(b.String(), "\n")
}

func rowsToMaps(rows []*sqltypes.QueryRow) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		m := make(map[string]any, len(row.Columns))
		for _, c := range row.Columns {
			v := row.Values[c]
			if v.IsNull() {
				m[c] = nil
				continue
			}
			m[c] = v.Raw
		}
		out[i] = m
	}
	return out
}
