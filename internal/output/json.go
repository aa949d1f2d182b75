package output

import (
	"encoding/json"
	"io"

	"github.com/ppds-sdk/sqlengine/internal/engine"
)

// JSONRenderer produces machine-readable JSON output, mirroring §6's
// execute/explain return shapes.
type JSONRenderer struct {
	w io.Writer
}

type jsonDmlSafety struct {
	IsBlocked            bool   `json:"is_blocked"`
	BlockReason          string `json:"block_reason,omitempty"`
	ErrorCode            string `json:"error_code,omitempty"`
	RequiresConfirmation bool   `json:"requires_confirmation"`
	RequiresPreview      bool   `json:"requires_preview"`
	RowCap               int64  `json:"row_cap"`
	IsDryRun             bool   `json:"is_dry_run"`
}

type jsonResult struct {
	OriginalSQL        string           `json:"original_sql"`
	TranspiledFetchXml string           `json:"transpiled_fetchxml,omitempty"`
	Rows               []map[string]any `json:"rows"`
	DmlSafety          *jsonDmlSafety   `json:"dml_safety,omitempty"`
}

func (r *JSONRenderer) RenderResult(result *engine.Result) {
	out := jsonResult{
		OriginalSQL:        result.OriginalSQL,
		TranspiledFetchXml: result.TranspiledFetchXml,
		Rows:               rowsToMaps(result.Rows),
	}
	if v := result.DmlSafety; v != nil {
		out.DmlSafety = &jsonDmlSafety{
			IsBlocked:            v.IsBlocked,
			BlockReason:          v.BlockReason,
			ErrorCode:            v.ErrorCode,
			RequiresConfirmation: v.RequiresConfirmation,
			RequiresPreview:      v.RequiresPreview,
			RowCap:               v.RowCap,
			IsDryRun:             v.IsDryRun,
		}
	}
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
}

type jsonPlan struct {
	Description          string `json:"description"`
	PoolCapacity          int    `json:"pool_capacity"`
	EffectiveParallelism int    `json:"effective_parallelism"`
}

func (r *JSONRenderer) RenderPlan(desc *engine.PlanDescription) {
	out := jsonPlan{
		Description:          desc.Description,
		PoolCapacity:         desc.PoolCapacity,
		EffectiveParallelism: desc.EffectiveParallelism,
	}
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
}

func (r *JSONRenderer) RenderError(err error) {
	if err == nil {
		return
	}
	out := map[string]string{
		"error_code": engine.ErrorCode(err),
		"message":    err.Error(),
	}
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
}
