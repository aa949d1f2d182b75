// Package sqlvalidate implements the Semantic Validator (§4.2): checking a
// parsed statement against a cached metadata catalog and producing
// diagnostics, never throwing. Grounded on the teacher's analyzer.Analyze
// shape (github.com/nethalo/dbsafe/internal/analyzer) — a single entry
// point building an accumulator result, with per-concern helper functions —
// re-targeted from DDL risk classification to entity/attribute existence
// checks against a Dataverse metadata catalog.
package sqlvalidate

import (
	"context"
	"fmt"

	"github.com/ppds-sdk/sqlengine/internal/remote"
	"github.com/ppds-sdk/sqlengine/internal/sqlast"
)

// Severity mirrors the three levels named in §4.2.
type Severity string

const (
	SeverityError   Severity = "Error"
	SeverityWarning Severity = "Warning"
	SeverityInfo    Severity = "Info"
)

// Diagnostic is one validation finding, with an offset/length into the
// original source text for editor integration.
type Diagnostic struct {
	Offset   int
	Length   int
	Severity Severity
	Message  string
}

// Catalog is the cached metadata surface the validator checks against.
// remote.MetadataExecutor satisfies it directly; callers typically wrap it
// in a caching decorator before passing it here.
type Catalog = remote.MetadataExecutor

// Validator runs semantic checks for one statement against a Catalog.
type Validator struct {
	catalog Catalog
}

// New returns a Validator backed by catalog.
func New(catalog Catalog) *Validator {
	return &Validator{catalog: catalog}
}

// Validate checks stmt and never panics or returns an error itself; any
// unexpected internal failure is converted into a single whole-input Error
// diagnostic, per §4.2's "must never throw" requirement.
func (v *Validator) Validate(ctx context.Context, stmt sqlast.Statement, sourceLen int) (diags []Diagnostic) {
	defer func() {
		if r := recover(); r != nil {
			diags = []Diagnostic{{
				Offset:   0,
				Length:   sourceLen,
				Severity: SeverityError,
				Message:  fmt.Sprintf("internal validation error: %v", r),
			}}
		}
	}()

	entities, err := v.catalog.Entities(ctx)
	if err != nil {
		return []Diagnostic{{Offset: 0, Length: sourceLen, Severity: SeverityError, Message: fmt.Sprintf("could not load entity catalog: %v", err)}}
	}
	known := make(map[string]bool, len(entities))
	for _, e := range entities {
		known[normalize(e)] = true
	}

	var out []Diagnostic
	v.walkStatement(ctx, stmt, known, sourceLen, &out)
	return out
}

func (v *Validator) walkStatement(ctx context.Context, stmt sqlast.Statement, known map[string]bool, sourceLen int, out *[]Diagnostic) {
	switch s := stmt.(type) {
	case *sqlast.Select:
		for _, t := range s.From {
			v.checkTable(ctx, t.Table, known, sourceLen, out)
			for _, j := range t.Joins {
				v.checkTable(ctx, j.Table, known, sourceLen, out)
			}
		}
		if s.SetOp != nil && s.SetOp.Right != nil {
			v.walkStatement(ctx, s.SetOp.Right, known, sourceLen, out)
		}

	case *sqlast.Insert:
		v.checkTable(ctx, s.Table, known, sourceLen, out)
		attrs := v.attributesOf(ctx, s.Table)
		for _, col := range s.Columns {
			if attrs != nil && !attrs[normalize(col)] {
				*out = append(*out, Diagnostic{
					Offset: 0, Length: sourceLen, Severity: SeverityError,
					Message: fmt.Sprintf("unknown attribute %q on entity %q", col, s.Table),
				})
			}
		}
		if s.Select != nil {
			v.walkStatement(ctx, s.Select, known, sourceLen, out)
		}

	case *sqlast.Update:
		v.checkTable(ctx, s.Table, known, sourceLen, out)
		attrs := v.attributesOf(ctx, s.Table)
		for _, set := range s.Set {
			if attrs != nil && !attrs[normalize(set.Column)] {
				*out = append(*out, Diagnostic{
					Offset: 0, Length: sourceLen, Severity: SeverityError,
					Message: fmt.Sprintf("unknown attribute %q on entity %q", set.Column, s.Table),
				})
			}
		}
		for _, t := range s.From {
			v.checkTable(ctx, t.Table, known, sourceLen, out)
		}

	case *sqlast.Delete:
		v.checkTable(ctx, s.Table, known, sourceLen, out)

	case *sqlast.If:
		v.walkStatement(ctx, s.Then, known, sourceLen, out)
		if s.Else != nil {
			v.walkStatement(ctx, s.Else, known, sourceLen, out)
		}
	case *sqlast.While:
		v.walkStatement(ctx, s.Body, known, sourceLen, out)
	case *sqlast.TryCatch:
		v.walkStatement(ctx, s.Try, known, sourceLen, out)
		v.walkStatement(ctx, s.Catch, known, sourceLen, out)
	case *sqlast.Block:
		for _, st := range s.Statements {
			v.walkStatement(ctx, st, known, sourceLen, out)
		}
	}
}

func (v *Validator) checkTable(ctx context.Context, table string, known map[string]bool, sourceLen int, out *[]Diagnostic) {
	if table == "" {
		return
	}
	if !known[normalize(table)] {
		*out = append(*out, Diagnostic{
			Offset: 0, Length: sourceLen, Severity: SeverityError,
			Message: fmt.Sprintf("unknown entity %q", table),
		})
	}
}

func (v *Validator) attributesOf(ctx context.Context, entity string) map[string]bool {
	attrs, err := v.catalog.Attributes(ctx, entity)
	if err != nil {
		return nil // entity-existence error already reported separately
	}
	m := make(map[string]bool, len(attrs))
	for _, a := range attrs {
		m[normalize(a)] = true
	}
	return m
}

func normalize(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
