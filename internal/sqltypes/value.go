package sqltypes

import (
	"fmt"
	"strings"
	"time"
)

// FieldFlag marks the special interpretations a raw value can carry, per
// spec §3 "QueryValue carries ... a flag set {is_lookup, is_option_set, is_boolean}".
type FieldFlag struct {
	IsLookup    bool
	IsOptionSet bool
	IsBoolean   bool
}

// LookupTarget identifies the entity+id a lookup column points at.
type LookupTarget struct {
	EntityLogicalName string
	ID                Guid
}

// QueryValue is the raw value of a column plus optional display/lookup metadata.
type QueryValue struct {
	Raw       any
	Formatted string // formatted display string from the remote's formatted-value sidecar; "" if none
	Lookup    *LookupTarget
	Flags     FieldFlag
}

// IsNull reports whether the underlying value is SQL NULL.
func (v QueryValue) IsNull() bool {
	return v.Raw == nil
}

// String renders the value for display or for use as a Distinct/window
// partition key component. Mirrors SQL CAST(x AS nvarchar) semantics closely
// enough for key-building and debug output; not used for arithmetic.
func (v QueryValue) String() string {
	if v.IsNull() {
		return ""
	}
	switch t := v.Raw.(type) {
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

// QueryRow is one result row: the entity it came from, plus an ordered
// column→value mapping (order preserved for projection/output).
type QueryRow struct {
	EntityLogicalName string
	Columns           []string // preserves output order
	Values            map[string]QueryValue
}

// NewQueryRow builds an empty row for the given entity.
func NewQueryRow(entity string) *QueryRow {
	return &QueryRow{EntityLogicalName: entity, Values: map[string]QueryValue{}}
}

// Set assigns a column value, appending to Columns the first time the name
// is seen so iteration order matches assignment order.
func (r *QueryRow) Set(name string, v QueryValue) {
	if _, exists := r.Values[name]; !exists {
		r.Columns = append(r.Columns, name)
	}
	r.Values[name] = v
}

// Get looks up a column, falling back to a case-insensitive match the way
// Project's rename/copy step does for source columns.
func (r *QueryRow) Get(name string) (QueryValue, bool) {
	if v, ok := r.Values[name]; ok {
		return v, true
	}
	for k, v := range r.Values {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return QueryValue{}, false
}

// Clone makes a shallow copy safe to hand to a second consumer (used by
// ClientWindow, which must retain rows past their forwarding point, and by
// the result expander, which must not mutate its input rows).
func (r *QueryRow) Clone() *QueryRow {
	cols := make([]string, len(r.Columns))
	copy(cols, r.Columns)
	vals := make(map[string]QueryValue, len(r.Values))
	for k, v := range r.Values {
		vals[k] = v
	}
	return &QueryRow{EntityLogicalName: r.EntityLogicalName, Columns: cols, Values: vals}
}

// VirtualColumn maps an output `*name` column back to its base column (§3
// "Virtual columns"). Whether the base was also explicitly requested needs
// no flag of its own: the expander decides that by checking whether the
// base column is present on the row, since the generator only ever emits
// the base attribute into FetchXML when the caller asked for it directly.
type VirtualColumn struct {
	BaseName string
}

// VirtualColumns is the {output_name → VirtualColumn} mapping built by the
// FetchXML generator during lowering.
type VirtualColumns map[string]VirtualColumn
