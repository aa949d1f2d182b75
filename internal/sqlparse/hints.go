package sqlparse

import (
	"strconv"
	"strings"

	"github.com/ppds-sdk/sqlengine/internal/sqlast"
)

// parseHints parses a trailing `OPTION(...)` comment clause, per §6
// "Query-hint surface". Unknown hints are silently ignored (kept out of the
// returned slice) rather than rejected, matching the spec's "silently
// ignored" rule.
func parseHints(body string) []sqlast.Hint {
	var hints []sqlast.Hint
	for _, raw := range splitTopLevelCommas(body) {
		item := strings.TrimSpace(raw)
		if item == "" {
			continue
		}
		upper := strings.ToUpper(item)
		switch {
		case upper == "USE_TDS":
			hints = append(hints, sqlast.Hint{Name: "USE_TDS"})
		case upper == "BYPASS_PLUGINS":
			hints = append(hints, sqlast.Hint{Name: "BYPASS_PLUGINS"})
		case upper == "BYPASS_FLOWS":
			hints = append(hints, sqlast.Hint{Name: "BYPASS_FLOWS"})
		case upper == "NOLOCK":
			hints = append(hints, sqlast.Hint{Name: "NOLOCK"})
		case upper == "HASH GROUP":
			hints = append(hints, sqlast.Hint{Name: "HASH GROUP"})
		case strings.HasPrefix(upper, "BATCH_SIZE"):
			if n, ok := trailingInt(item); ok {
				hints = append(hints, sqlast.Hint{Name: "BATCH_SIZE", Arg: n})
			}
		case strings.HasPrefix(upper, "MAXDOP"):
			if n, ok := trailingInt(item); ok {
				hints = append(hints, sqlast.Hint{Name: "MAXDOP", Arg: n})
			}
		case strings.HasPrefix(upper, "MAX_ROWS"):
			if n, ok := trailingInt(item); ok {
				hints = append(hints, sqlast.Hint{Name: "MAX_ROWS", Arg: n})
			}
			// default: unknown hint, silently ignored.
		}
	}
	return hints
}

// trailingInt extracts the integer argument from a hint like "MAXDOP 4" or
// "MAXDOP(4)".
func trailingInt(item string) (int64, bool) {
	item = strings.NewReplacer("(", " ", ")", " ").Replace(item)
	fields := strings.Fields(item)
	if len(fields) < 2 {
		return 0, false
	}
	n, err := strconv.ParseInt(fields[len(fields)-1], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func splitTopLevelCommas(s string) []string {
	var parts []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}

// HintValue looks up the first hint with the given name.
func HintValue(hints []sqlast.Hint, name string) (sqlast.Hint, bool) {
	for _, h := range hints {
		if h.Name == name {
			return h, true
		}
	}
	return sqlast.Hint{}, false
}
