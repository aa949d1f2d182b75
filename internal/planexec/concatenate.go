package planexec

import (
	"io"

	"github.com/ppds-sdk/sqlengine/internal/planctx"
	"github.com/ppds-sdk/sqlengine/internal/sqltypes"
)

// Concatenate yields all rows from its first child, then the second, and
// so on (§4.5.8) — the UNION ALL plan shape.
type Concatenate struct {
	Children []Node
	idx      int
}

// NewConcatenate wraps children in sequential order.
func NewConcatenate(children []Node) *Concatenate {
	return &Concatenate{Children: children}
}

// Next implements Node.
func (c *Concatenate) Next(ctx *planctx.Context) (*sqltypes.QueryRow, error) {
	for c.idx < len(c.Children) {
		if ctx.Cancelled() {
			return nil, ctx.Go.Err()
		}
		row, err := c.Children[c.idx].Next(ctx)
		if err == nil {
			return row, nil
		}
		if err != io.EOF {
			return nil, err
		}
		c.idx++
	}
	return nil, io.EOF
}

// Describe implements Node.
func (c *Concatenate) Describe(indent string) string {
	s := indent + "Concatenate()"
	for _, child := range c.Children {
		s += "\n" + child.Describe(indent+"  ")
	}
	return s
}
