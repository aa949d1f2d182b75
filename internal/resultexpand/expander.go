// Package resultexpand implements the Result Expander (C10, §4.10): given a
// finished result set and the virtual-column map the FetchXML generator
// built while lowering the query, it synthesizes the `*name` sidecar columns
// Dataverse callers expect for lookups, option-sets, and booleans.
package resultexpand

import "github.com/ppds-sdk/sqlengine/internal/sqltypes"

// Expand returns rows with every lookup/option-set/boolean column expanded
// into a formatted-label sidecar (§4.10). Input rows are not mutated; Expand
// clones each one before editing it.
//
// virtuals is nil or empty for aggregate results (the FetchXML generator
// never populates it when the query has aggregates). With no virtuals no
// slot is rewritten in place, but every flagged column still gets a sidecar;
// unflagged columns pass through unchanged.
func Expand(rows []*sqltypes.QueryRow, virtuals sqltypes.VirtualColumns) []*sqltypes.QueryRow {
	if len(rows) == 0 {
		return rows
	}

	out := make([]*sqltypes.QueryRow, len(rows))
	for i, row := range rows {
		out[i] = expandRow(row, virtuals)
	}
	return out
}

// expandRow rewrites the name-requested slots in place and appends an
// auto-expanded sidecar for every remaining flagged column that wasn't
// explicitly routed through the virtual-column map.
func expandRow(row *sqltypes.QueryRow, virtuals sqltypes.VirtualColumns) *sqltypes.QueryRow {
	out := row.Clone()

	// columns is a snapshot: expandRow appends sidecars to out.Columns as it
	// goes, and must not walk into the slots it just added.
	columns := make([]string, len(out.Columns))
	copy(columns, out.Columns)

	for _, name := range columns {
		v := out.Values[name]
		if !isExpandable(v) {
			continue
		}

		if _, ok := virtuals["*"+name]; ok {
			// This slot was explicitly requested as "*name"; it was fetched
			// holding the raw base value under the output alias, so swap in
			// the formatted label. If the base was also requested plainly,
			// that separate column falls through below and is left alone
			// (its own "*name" entry doesn't exist, and a sidecar for it
			// would collide with this slot, which the existence check skips).
			out.Set(name, sqltypes.QueryValue{Raw: v.Formatted, Formatted: v.Formatted})
			continue
		}

		sidecar := name + "name"
		if _, exists := out.Values[sidecar]; exists {
			continue // user already queried the name column directly
		}
		out.Set(sidecar, sqltypes.QueryValue{Raw: v.Formatted, Formatted: v.Formatted})
	}

	return out
}

func isExpandable(v sqltypes.QueryValue) bool {
	return v.Flags.IsLookup || v.Flags.IsOptionSet || v.Flags.IsBoolean
}
