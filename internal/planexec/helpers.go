package planexec

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ppds-sdk/sqlengine/internal/sqltypes"
)

// Field/name separators for composite row keys (§4.5.7 "Distinct"):
// 0x1F between columns, 0x1E between name and value, 0x00 sentinel for null.
const (
	unitSeparator  = "\x1F"
	nameValueSep   = "\x1E"
	nullSentinel   = "\x00"
)

// rowKey builds the composite key Distinct/ClientAggregate/ClientWindow use
// to identify a row's (name, value) tuple across the named columns, in the
// order given.
func rowKey(row *sqltypes.QueryRow, columns []string) string {
	var b strings.Builder
	for i, col := range columns {
		if i > 0 {
			b.WriteString(unitSeparator)
		}
		b.WriteString(col)
		b.WriteString(nameValueSep)
		if v, ok := row.Get(col); ok && !v.IsNull() {
			b.WriteString(v.String())
		} else {
			b.WriteString(nullSentinel)
		}
	}
	return b.String()
}

// groupKey is rowKey specialized for GROUP BY / partition keys.
func groupKey(row *sqltypes.QueryRow, columns []string) string {
	return rowKey(row, columns)
}

// toFloat coerces a value to float64 for arithmetic folding, treating
// unparseable strings as an error the caller should skip.
func toFloat(v sqltypes.QueryValue) (float64, error) {
	switch t := v.Raw.(type) {
	case int64:
		return float64(t), nil
	case int:
		return float64(t), nil
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("planexec: cannot convert %q to a number", t)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("planexec: cannot convert %T to a number", t)
	}
}

// compareValues implements the three-way comparison ClientWindow's ORDER BY
// and MergeAggregate's MIN/MAX use: numeric if both sides are numeric,
// DateTime if both are time.Time, otherwise case-insensitive string. Nulls
// sort last; ok is false only when both are null (no ordering to report).
func compareValues(a, b sqltypes.QueryValue) (int, bool) {
	if a.IsNull() && b.IsNull() {
		return 0, false
	}
	if a.IsNull() {
		return 1, true
	}
	if b.IsNull() {
		return -1, true
	}
	if at, ok := a.Raw.(time.Time); ok {
		if bt, ok := b.Raw.(time.Time); ok {
			switch {
			case at.Before(bt):
				return -1, true
			case at.After(bt):
				return 1, true
			default:
				return 0, true
			}
		}
	}
	af, aerr := toFloat(a)
	bf, berr := toFloat(b)
	if aerr == nil && berr == nil {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	return strings.Compare(strings.ToLower(a.String()), strings.ToLower(b.String())), true
}

func joinStrings(ss []string) string {
	return strings.Join(ss, ",")
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
