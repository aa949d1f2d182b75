package planbuild

import (
	"github.com/ppds-sdk/sqlengine/internal/fetchxml"
	"github.com/ppds-sdk/sqlengine/internal/planexec"
	"github.com/ppds-sdk/sqlengine/internal/sqlast"
)

// primaryKeyColumn follows Dataverse's convention of an entity's id column
// being its logical name plus "id" (accountid, contactid, ...).
func primaryKeyColumn(entity string) string {
	return entity + "id"
}

func (b *Builder) buildInsert(ins *sqlast.Insert) (*Result, error) {
	if ins.Select != nil {
		srcResult, err := b.buildScanPipeline(ins.Select)
		if err != nil {
			return nil, err
		}
		node := planexec.NewDmlExecute(planexec.DmlInsertSelect, ins.Table)
		node.Columns = ins.Columns
		node.Source = srcResult.Root
		node.RowCap = b.opts.DmlRowCap
		return &Result{Root: node, EntityLogicalName: ins.Table, DmlRowCap: b.opts.DmlRowCap}, nil
	}

	node := planexec.NewDmlExecute(planexec.DmlInsertValues, ins.Table)
	node.Columns = ins.Columns
	node.Values = ins.Values
	node.RowCap = b.opts.DmlRowCap
	return &Result{Root: node, EntityLogicalName: ins.Table, DmlRowCap: b.opts.DmlRowCap}, nil
}

func (b *Builder) buildUpdate(u *sqlast.Update) (*Result, error) {
	entity := u.Table
	pk := primaryKeyColumn(entity)

	cols := []string{pk}
	var setClauses []planexec.SetClauseExpr
	for _, set := range u.Set {
		cols = append(cols, referencedColumns(set.Value)...)
		setClauses = append(setClauses, planexec.SetClauseExpr{Column: set.Column, Value: set.Value})
	}
	if u.Where != nil {
		cols = append(cols, referencedColumns(u.Where)...)
	}

	spec := fetchxml.QuerySpecification{Entity: entity}
	for _, c := range dedupColumns(cols) {
		spec.Columns = append(spec.Columns, fetchxml.ColumnSpec{Name: c})
	}
	if u.Where != nil {
		if f, ok := convertFilter(u.Where); ok {
			spec.Filter = f
		}
	}
	xml, _, _, err := fetchxml.Generate(spec)
	if err != nil {
		return nil, err
	}

	var source planexec.Node = planexec.NewFetchXmlScan(xml, true, b.opts.DmlRowCap, 0, "")
	if u.Where != nil {
		if _, ok := convertFilter(u.Where); !ok {
			source = planexec.NewClientFilter(source, u.Where)
		}
	}

	node := planexec.NewDmlExecute(planexec.DmlUpdate, entity)
	node.Source = source
	node.SetClauses = setClauses
	node.PrimaryKeyCol = pk
	node.RowCap = b.opts.DmlRowCap
	return &Result{Root: node, FetchXml: xml, EntityLogicalName: entity, DmlRowCap: b.opts.DmlRowCap}, nil
}

func (b *Builder) buildDelete(d *sqlast.Delete) (*Result, error) {
	entity := d.Table
	pk := primaryKeyColumn(entity)

	spec := fetchxml.QuerySpecification{Entity: entity, Columns: []fetchxml.ColumnSpec{{Name: pk}}}
	if d.Where != nil {
		if f, ok := convertFilter(d.Where); ok {
			spec.Filter = f
		}
	}
	xml, _, _, err := fetchxml.Generate(spec)
	if err != nil {
		return nil, err
	}

	var source planexec.Node = planexec.NewFetchXmlScan(xml, true, b.opts.DmlRowCap, 0, "")
	if d.Where != nil {
		if _, ok := convertFilter(d.Where); !ok {
			source = planexec.NewClientFilter(source, d.Where)
		}
	}

	node := planexec.NewDmlExecute(planexec.DmlDelete, entity)
	node.Source = source
	node.PrimaryKeyCol = pk
	node.RowCap = b.opts.DmlRowCap
	return &Result{Root: node, FetchXml: xml, EntityLogicalName: entity, DmlRowCap: b.opts.DmlRowCap}, nil
}

func dedupColumns(cols []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range cols {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
