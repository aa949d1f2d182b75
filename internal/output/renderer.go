package output

import (
	"io"

	"github.com/ppds-sdk/sqlengine/internal/engine"
)

// Renderer defines the output interface (SPEC_FULL.md "Output rendering").
type Renderer interface {
	RenderResult(result *engine.Result)
	RenderPlan(desc *engine.PlanDescription)
	RenderError(err error)
}

// NewRenderer creates a renderer for the given format. Unrecognized formats
// fall back to text, same as the teacher's NewRenderer.
func NewRenderer(format string, w io.Writer) Renderer {
	switch format {
	case "json":
		return &JSONRenderer{w: w}
	case "markdown":
		return &MarkdownRenderer{w: w}
	case "plain":
		return &PlainRenderer{w: w}
	default:
		return &TextRenderer{w: w}
	}
}
