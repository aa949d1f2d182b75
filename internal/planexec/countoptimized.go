package planexec

import (
	"io"

	"github.com/ppds-sdk/sqlengine/internal/planctx"
	"github.com/ppds-sdk/sqlengine/internal/sqltypes"
)

// CountOptimized tries the remote's dedicated total-record-count call
// before falling back to an aggregate FetchXML scan (§4.5.11).
type CountOptimized struct {
	Entity   string
	Alias    string
	Fallback Node // optional aggregate-FetchXML scan child

	emitted bool
	row     *sqltypes.QueryRow
	resolved bool
}

// NewCountOptimized builds the node; fallback may be nil if the caller has
// no aggregate scan to fall back to.
func NewCountOptimized(entity, alias string, fallback Node) *CountOptimized {
	return &CountOptimized{Entity: entity, Alias: alias, Fallback: fallback}
}

func (c *CountOptimized) resolve(ctx *planctx.Context) error {
	n, err := ctx.Query.TotalRecordCount(ctx.Go, c.Entity)
	if err == nil {
		out := sqltypes.NewQueryRow(c.Entity)
		out.Set(c.Alias, sqltypes.QueryValue{Raw: n})
		c.row = out
		c.resolved = true
		return nil
	}
	if ctx.Cancelled() {
		return ctx.Go.Err()
	}
	if c.Fallback == nil {
		return err
	}
	row, ferr := c.Fallback.Next(ctx)
	if ferr != nil {
		return ferr
	}
	c.row = row
	c.resolved = true
	return nil
}

// Next implements Node.
func (c *CountOptimized) Next(ctx *planctx.Context) (*sqltypes.QueryRow, error) {
	if c.emitted {
		return nil, io.EOF
	}
	if !c.resolved {
		if err := c.resolve(ctx); err != nil {
			return nil, err
		}
	}
	c.emitted = true
	return c.row, nil
}

// Describe implements Node.
func (c *CountOptimized) Describe(indent string) string {
	return indent + "CountOptimized(" + c.Entity + ")"
}
