package output

import (
	"fmt"
	"io"

	"github.com/ppds-sdk/sqlengine/internal/engine"
)

// PlainRenderer produces unformatted text output safe for piping.
type PlainRenderer struct {
	w io.Writer
}

func (r *PlainRenderer) RenderResult(result *engine.Result) {
	fmt.Fprintf(r.w, "=== ppdsql — Query Result ===\n\n")
	fmt.Fprintf(r.w, "SQL: %s\n\n", result.OriginalSQL)

	if v := result.DmlSafety; v != nil {
		fmt.Fprintf(r.w, "--- DML Safety ---\n")
		switch {
		case v.IsBlocked:
			fmt.Fprintf(r.w, "BLOCKED: %s\n", v.BlockReason)
		case v.RequiresConfirmation:
			fmt.Fprintf(r.w, "Requires confirmation before executing.\n")
		case v.IsDryRun:
			fmt.Fprintf(r.w, "Dry run — no changes were applied.\n")
		default:
			fmt.Fprintf(r.w, "Cleared to execute.\n")
		}
		fmt.Fprintf(r.w, "Row cap: %d\n\n", v.RowCap)
	}

	if result.TranspiledFetchXml != "" {
		fmt.Fprintf(r.w, "--- FetchXML ---\n%s\n\n", result.TranspiledFetchXml)
	}

	fmt.Fprintf(r.w, "--- Rows (%d) ---\n%s\n", len(result.Rows), renderRowsPlain(result.Rows))
}

func (r *PlainRenderer) RenderPlan(desc *engine.PlanDescription) {
	fmt.Fprintf(r.w, "=== Query Plan ===\n\n")
	fmt.Fprintf(r.w, "%s\n\n", desc.Description)
	fmt.Fprintf(r.w, "Pool capacity:         %d\n", desc.PoolCapacity)
	fmt.Fprintf(r.w, "Effective parallelism: %d\n", desc.EffectiveParallelism)
}

func (r *PlainRenderer) RenderError(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(r.w, "ERROR [%s]: %s\n", engine.ErrorCode(err), err.Error())
}
