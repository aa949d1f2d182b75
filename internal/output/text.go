package output

import (
	"fmt"
	"io"

	"github.com/ppds-sdk/sqlengine/internal/dmlguard"
	"github.com/ppds-sdk/sqlengine/internal/engine"
)

// TextRenderer produces Lip Gloss styled terminal output.
type TextRenderer struct {
	w io.Writer
}

func (r *TextRenderer) RenderResult(result *engine.Result) {
	width := 78
	fmt.Fprintln(r.w)

	header := TitleStyle.Render("ppdsql — Query Result")
	meta := r.labelValue("SQL:", result.OriginalSQL)
	metaBox := BoxStyle.Width(width).Render(header + "\n" + meta)
	fmt.Fprintln(r.w, metaBox)

	if result.DmlSafety != nil {
		r.renderSafetyBanner(result.DmlSafety, width)
	}

	if result.TranspiledFetchXml != "" {
		title := TitleStyle.Render("FetchXML")
		xmlBox := BoxStyle.Width(width).Render(title + "\n" + CodeStyle.Render(result.TranspiledFetchXml))
		fmt.Fprintln(r.w, xmlBox)
	}

	rowsTitle := TitleStyle.Render(fmt.Sprintf("Rows (%d)", len(result.Rows)))
	rowsBox := BoxStyle.Width(width).Render(rowsTitle + "\n" + renderRowsPlain(result.Rows))
	fmt.Fprintln(r.w, rowsBox)
	fmt.Fprintln(r.w)
}

func (r *TextRenderer) renderSafetyBanner(v *dmlguard.Verdict, width int) {
	var icon, label string
	var style = WarningBoxStyle
	switch {
	case v.IsBlocked:
		icon, label, style = IconDanger, "Blocked: "+v.BlockReason, DangerBoxStyle
	case v.RequiresConfirmation:
		icon, label = IconWarning, "Requires confirmation before executing"
	case v.IsDryRun:
		icon, label, style = IconInfo, "Dry run — no changes were applied", InfoBoxStyle
	default:
		icon, label, style = IconSafe, "Cleared to execute", SafeBoxStyle
	}
	title := TitleStyle.Render("DML Safety")
	content := fmt.Sprintf("%s\n%s %s\n%s", title, icon, label, r.labelValue("Row cap:", fmt.Sprintf("%d", v.RowCap)))
	fmt.Fprintln(r.w, style.Width(width).Render(content))
}

func (r *TextRenderer) RenderPlan(desc *engine.PlanDescription) {
	width := 78
	fmt.Fprintln(r.w)
	title := TitleStyle.Render("Query Plan")
	body := CodeStyle.Render(desc.Description)
	footer := r.labelValue("Pool capacity:", fmt.Sprintf("%d", desc.PoolCapacity)) + "\n" +
		r.labelValue("Effective parallelism:", fmt.Sprintf("%d", desc.EffectiveParallelism))
	planBox := BoxStyle.Width(width).Render(title + "\n" + body + "\n\n" + footer)
	fmt.Fprintln(r.w, planBox)
	fmt.Fprintln(r.w)
}

func (r *TextRenderer) RenderError(err error) {
	if err == nil {
		return
	}
	title := DangerText.Render(IconDanger + " " + engine.ErrorCode(err))
	content := title + "\n" + err.Error()
	fmt.Fprintln(r.w, DangerBoxStyle.Width(78).Render(content))
}

func (r *TextRenderer) labelValue(label, value string) string {
	return LabelStyle.Render(label) + " " + ValueStyle.Render(value)
}
