package output

import (
	"fmt"
	"io"

	"github.com/ppds-sdk/sqlengine/internal/engine"
)

// MarkdownRenderer produces markdown output for documentation/tickets. Not
// named among §6's formats, but adapted from the teacher's renderer as a
// bonus mode `config.EngineOptions.OutputFormat` also accepts.
type MarkdownRenderer struct {
	w io.Writer
}

func (r *MarkdownRenderer) RenderResult(result *engine.Result) {
	fmt.Fprintf(r.w, "# ppdsql — Query Result\n\n")
	fmt.Fprintf(r.w, "**SQL:** `%s`\n\n", result.OriginalSQL)

	if v := result.DmlSafety; v != nil {
		fmt.Fprintf(r.w, "## DML Safety\n\n")
		switch {
		case v.IsBlocked:
			fmt.Fprintf(r.w, "- **Blocked:** %s\n", v.BlockReason)
		case v.RequiresConfirmation:
			fmt.Fprintf(r.w, "- Requires confirmation before executing.\n")
		case v.IsDryRun:
			fmt.Fprintf(r.w, "- Dry run — no changes were applied.\n")
		default:
			fmt.Fprintf(r.w, "- Cleared to execute.\n")
		}
		fmt.Fprintf(r.w, "- Row cap: %d\n\n", v.RowCap)
	}

	if result.TranspiledFetchXml != "" {
		fmt.Fprintf(r.w, "## FetchXML\n\n```xml\n%s\n```\n\n", result.TranspiledFetchXml)
	}

	fmt.Fprintf(r.w, "## Rows (%d)\n\n```\n%s\n```\n", len(result.Rows), renderRowsPlain(result.Rows))
}

func (r *MarkdownRenderer) RenderPlan(desc *engine.PlanDescription) {
	fmt.Fprintf(r.w, "# Query Plan\n\n```\n%s\n```\n\n", desc.Description)
	fmt.Fprintf(r.w, "| Property | Value |\n|---|---|\n")
	fmt.Fprintf(r.w, "| Pool capacity | %d |\n", desc.PoolCapacity)
	fmt.Fprintf(r.w, "| Effective parallelism | %d |\n", desc.EffectiveParallelism)
}

func (r *MarkdownRenderer) RenderError(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(r.w, "## ❌ Error: %s\n\n%s\n", engine.ErrorCode(err), err.Error())
}
