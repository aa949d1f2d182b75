package fetchxml

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/ppds-sdk/sqlengine/internal/sqltypes"
)

// Generate lowers spec into a FetchXML document, the virtual-column output
// mapping built along the way, and the entity logical name (§4.3). The
// caller (plan builder) is expected to have already rejected anything the
// FetchXML grammar can't express — Generate does not validate the
// statement, only renders it.
func Generate(spec QuerySpecification) (string, sqltypes.VirtualColumns, string, error) {
	if spec.Entity == "" {
		return "", nil, "", fmt.Errorf("fetchxml: query specification has no entity")
	}

	virtuals := sqltypes.VirtualColumns{}
	var b strings.Builder
	b.WriteString(`<fetch`)

	// top/paging are mutually exclusive on the wire; Top wins and is folded
	// into count, capped at the remote page maximum.
	if spec.Top > 0 {
		count := spec.Top
		if count > remotePageMax {
			count = remotePageMax
		}
		fmt.Fprintf(&b, ` count="%d"`, count)
	} else if spec.PageSize > 0 {
		pageSize := spec.PageSize
		if pageSize > remotePageMax {
			pageSize = remotePageMax
		}
		fmt.Fprintf(&b, ` count="%d"`, pageSize)
		if spec.PageNumber > 0 {
			fmt.Fprintf(&b, ` page="%d"`, spec.PageNumber)
		}
		if spec.PagingCookie != "" {
			fmt.Fprintf(&b, ` paging-cookie="%s"`, escapeAttr(spec.PagingCookie))
		}
	}
	if spec.Distinct {
		b.WriteString(` distinct="true"`)
	}
	if len(spec.Aggregates) > 0 {
		b.WriteString(` aggregate="true"`)
	}
	b.WriteString(">\n")

	fmt.Fprintf(&b, `  <entity name="%s">`, escapeAttr(spec.Entity))
	b.WriteString("\n")

	writeColumns(&b, spec.Entity, spec.Columns, spec.AllColumns, virtuals)
	writeAggregates(&b, spec.Aggregates)

	if spec.Filter != nil {
		writeFilter(&b, *spec.Filter, 2)
	}

	for _, link := range spec.Links {
		if err := writeLink(&b, link, virtuals); err != nil {
			return "", nil, "", err
		}
	}

	for _, o := range spec.Order {
		writeOrder(&b, o)
	}

	b.WriteString("  </entity>\n</fetch>")

	return b.String(), virtuals, spec.Entity, nil
}

func writeColumns(b *strings.Builder, entity string, cols []ColumnSpec, all bool, virtuals sqltypes.VirtualColumns) {
	if all {
		b.WriteString("    <all-attributes />\n")
		return
	}
	for _, c := range cols {
		b.WriteString("    <attribute name=\"" + escapeAttr(c.Name) + "\"")
		if c.Alias != "" {
			b.WriteString(" alias=\"" + escapeAttr(c.Alias) + "\"")
		}
		b.WriteString(" />\n")
		if c.Virtual {
			outputName := c.Alias
			if outputName == "" {
				outputName = c.Name
			}
			virtuals["*"+outputName] = sqltypes.VirtualColumn{BaseName: c.Name}
		}
	}
}

func writeAggregates(b *strings.Builder, aggs []AggregateSpec) {
	for _, a := range aggs {
		b.WriteString("    <attribute")
		if a.Attribute != "" {
			b.WriteString(" name=\"" + escapeAttr(a.Attribute) + "\"")
		} else {
			b.WriteString(" name=\"" + escapeAttr(a.Alias) + "\"")
		}
		b.WriteString(" aggregate=\"" + escapeAttr(a.Aggregate) + "\"")
		if a.Alias != "" {
			b.WriteString(" alias=\"" + escapeAttr(a.Alias) + "\"")
		}
		if a.GroupBy {
			b.WriteString(" groupby=\"true\"")
			if a.DateGroup != "" {
				b.WriteString(" dategroupby=\"" + escapeAttr(a.DateGroup) + "\"")
			}
		}
		b.WriteString(" />\n")
	}
}

func writeFilter(b *strings.Builder, f Filter, indent int) {
	pad := strings.Repeat("  ", indent)
	fmt.Fprintf(b, "%s<filter type=\"%s\">\n", pad, f.Type)
	for _, c := range f.Conditions {
		writeCondition(b, c, indent+1)
	}
	for _, nested := range f.Nested {
		writeFilter(b, nested, indent+1)
	}
	fmt.Fprintf(b, "%s</filter>\n", pad)
}

func writeCondition(b *strings.Builder, c Condition, indent int) {
	pad := strings.Repeat("  ", indent)
	if len(c.Values) > 0 {
		fmt.Fprintf(b, "%s<condition attribute=\"%s\" operator=\"%s\">\n", pad, escapeAttr(c.Attribute), c.Operator)
		for _, v := range c.Values {
			fmt.Fprintf(b, "%s  <value>%s</value>\n", pad, escapeText(v))
		}
		fmt.Fprintf(b, "%s</condition>\n", pad)
		return
	}
	if c.Operator == OpNull || c.Operator == OpNotNull {
		fmt.Fprintf(b, "%s<condition attribute=\"%s\" operator=\"%s\" />\n", pad, escapeAttr(c.Attribute), c.Operator)
		return
	}
	fmt.Fprintf(b, "%s<condition attribute=\"%s\" operator=\"%s\" value=\"%s\" />\n", pad, escapeAttr(c.Attribute), c.Operator, escapeAttr(c.Value))
}

func writeOrder(b *strings.Builder, o OrderSpec) {
	attr := o.Attribute
	if attr == "" {
		attr = o.Alias
	}
	b.WriteString("    <order attribute=\"" + escapeAttr(attr) + "\"")
	if o.Descending {
		b.WriteString(" descending=\"true\"")
	}
	b.WriteString(" />\n")
}

func writeLink(b *strings.Builder, link LinkEntity, virtuals sqltypes.VirtualColumns) error {
	b.WriteString("    <link-entity name=\"" + escapeAttr(link.Name) + "\"")
	b.WriteString(" from=\"" + escapeAttr(link.From) + "\"")
	b.WriteString(" to=\"" + escapeAttr(link.To) + "\"")
	linkType := link.LinkType
	if linkType == "" {
		linkType = "inner"
	}
	b.WriteString(" link-type=\"" + escapeAttr(linkType) + "\"")
	if link.Alias != "" {
		b.WriteString(" alias=\"" + escapeAttr(link.Alias) + "\"")
	}
	b.WriteString(">\n")

	if link.AllColumns {
		b.WriteString("      <all-attributes />\n")
	} else {
		for _, c := range link.Columns {
			b.WriteString("      <attribute name=\"" + escapeAttr(c.Name) + "\"")
			if c.Alias != "" {
				b.WriteString(" alias=\"" + escapeAttr(c.Alias) + "\"")
			}
			b.WriteString(" />\n")
		}
	}
	if link.Filter != nil {
		writeFilter(b, *link.Filter, 3)
	}
	b.WriteString("    </link-entity>\n")
	return nil
}

func escapeAttr(s string) string {
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

func escapeText(s string) string {
	return escapeAttr(s)
}
