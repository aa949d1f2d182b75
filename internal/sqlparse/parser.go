package sqlparse

import (
	"strconv"
	"strings"

	"github.com/ppds-sdk/sqlengine/internal/sqlast"
)

// Parse lexes and parses src into a Script. Quoted identifiers are enabled
// by default (§4.1). `WITH name AS (...)` prefixes are flattened: each
// FROM-list entry or UPDATE/DELETE target that names a CTE is replaced by the
// CTE's base table, joins and WHERE (see flattenCTEs below), so the plan
// builder never sees a CTE node.
func Parse(src string) (*sqlast.Script, error) {
	toks := significantTokens(src)
	p := &parser{toks: toks}
	script := &sqlast.Script{}
	for !p.atEOF() {
		for p.at(";") {
			p.pos++
		}
		if p.atEOF() {
			break
		}
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		script.Statements = append(script.Statements, stmt)
		for p.at(";") {
			p.pos++
		}
	}
	return script, nil
}

// significantTokens lexes src and drops whitespace and comment tokens,
// keeping the lexer's EOF token at the end as a sentinel for lookahead safety.
func significantTokens(src string) []Token {
	all := Tokenize(src)
	out := make([]Token, 0, len(all))
	for _, t := range all {
		if t.Kind == kindWhitespace || t.Kind == KindComment {
			continue
		}
		out = append(out, t)
	}
	return out
}

type parser struct {
	toks []Token
	pos  int
}

func (p *parser) cur() Token {
	if p.pos >= len(p.toks) {
		return p.toks[len(p.toks)-1] // EOF sentinel
	}
	return p.toks[p.pos]
}

func (p *parser) atEOF() bool {
	return p.cur().Kind == kindEOF
}

// at reports whether the current token's text equals s, case-insensitively
// for keywords/identifiers.
func (p *parser) at(s string) bool {
	return strings.EqualFold(p.cur().Text, s)
}

func (p *parser) atKind(k TokenKind) bool {
	return p.cur().Kind == k
}

func (p *parser) advance() Token {
	t := p.cur()
	if p.pos < len(p.toks) {
		p.pos++
	}
	return t
}

func (p *parser) expect(s string) (Token, error) {
	if !p.at(s) {
		return Token{}, newParseError(p.cur(), "expected %q, found %q", s, p.cur().Text)
	}
	return p.advance(), nil
}

// --- statements ---

func (p *parser) parseStatement() (sqlast.Statement, error) {
	switch strings.ToUpper(p.cur().Text) {
	case "SELECT":
		return p.parseSelect()
	case "INSERT":
		return p.parseInsert()
	case "UPDATE":
		return p.parseUpdate()
	case "DELETE":
		return p.parseDelete()
	case "DECLARE":
		return p.parseDeclare()
	case "SET":
		return p.parseSetVariable()
	case "IF":
		return p.parseIf()
	case "WHILE":
		return p.parseWhile()
	case "BEGIN":
		return p.parseBeginBlock()
	case "WITH":
		return p.parseWith()
	default:
		return nil, newParseError(p.cur(), "unexpected token %q", p.cur().Text)
	}
}

// parseWith parses `WITH name AS (query) [, name2 AS (query2)]* <stmt>` and
// returns stmt with every reference to a CTE name replaced by that CTE's
// defining query, flattened inline. A CTE may reference an earlier CTE in
// the same WITH list; later ones are flattened against the accumulated map
// before being stored, so the final substitution into the outer statement
// never needs to recurse into a CTE body again.
func (p *parser) parseWith() (sqlast.Statement, error) {
	p.advance() // WITH
	ctes := map[string]*sqlast.Select{}
	for {
		nameTok := p.advance()
		name := unquoteIdent(nameTok)
		if _, err := p.expect("AS"); err != nil {
			return nil, err
		}
		if _, err := p.expect("("); err != nil {
			return nil, err
		}
		inner, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(")"); err != nil {
			return nil, err
		}
		sel := inner.(*sqlast.Select)
		flattenCTEs(sel, ctes)
		ctes[strings.ToLower(name)] = sel
		if p.at(",") {
			p.advance()
			continue
		}
		break
	}
	outer, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	flattenCTEs(outer, ctes)
	return outer, nil
}

func (p *parser) parseBeginBlock() (sqlast.Statement, error) {
	p.advance() // BEGIN
	if p.at("TRY") {
		p.advance()
		tryBody, err := p.parseStatementsUntil("END")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect("END"); err != nil {
			return nil, err
		}
		if _, err := p.expect("TRY"); err != nil {
			return nil, err
		}
		if _, err := p.expect("BEGIN"); err != nil {
			return nil, err
		}
		if _, err := p.expect("CATCH"); err != nil {
			return nil, err
		}
		catchBody, err := p.parseStatementsUntil("END")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect("END"); err != nil {
			return nil, err
		}
		if _, err := p.expect("CATCH"); err != nil {
			return nil, err
		}
		return &sqlast.TryCatch{
			Try:   &sqlast.Block{Statements: tryBody},
			Catch: &sqlast.Block{Statements: catchBody},
		}, nil
	}

	body, err := p.parseStatementsUntil("END")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect("END"); err != nil {
		return nil, err
	}
	return &sqlast.Block{Statements: body}, nil
}

// parseStatementsUntil parses statements until the current token is stop
// (not consumed), tolerating ';' separators between them.
func (p *parser) parseStatementsUntil(stop string) ([]sqlast.Statement, error) {
	var stmts []sqlast.Statement
	for !p.at(stop) && !p.atEOF() {
		for p.at(";") {
			p.advance()
		}
		if p.at(stop) || p.atEOF() {
			break
		}
		s, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
		for p.at(";") {
			p.advance()
		}
	}
	return stmts, nil
}

func (p *parser) parseDeclare() (sqlast.Statement, error) {
	p.advance() // DECLARE
	name := p.advance() // @var
	if name.Kind != KindVariable {
		return nil, newParseError(name, "expected variable name after DECLARE")
	}
	typeTok := p.advance()
	typ := typeTok.Text
	// Consume optional type arguments like DECIMAL(10,2)
	if p.at("(") {
		p.advance()
		for !p.at(")") && !p.atEOF() {
			p.advance()
		}
		p.expect(")")
	}
	decl := &sqlast.Declare{Name: name.Text, Type: typ}
	if p.at("=") {
		p.advance()
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		decl.Initial = v
	}
	return decl, nil
}

func (p *parser) parseSetVariable() (sqlast.Statement, error) {
	p.advance() // SET
	name := p.advance()
	if name.Kind != KindVariable {
		return nil, newParseError(name, "expected variable name after SET")
	}
	if _, err := p.expect("="); err != nil {
		return nil, err
	}
	v, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &sqlast.SetVariable{Name: name.Text, Value: v}, nil
}

func (p *parser) parseIf() (sqlast.Statement, error) {
	p.advance() // IF
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	then, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	n := &sqlast.If{Cond: cond, Then: then}
	for p.at(";") {
		p.advance()
	}
	if p.at("ELSE") {
		p.advance()
		elseStmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		n.Else = elseStmt
	}
	return n, nil
}

func (p *parser) parseWhile() (sqlast.Statement, error) {
	p.advance() // WHILE
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	body, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	return &sqlast.While{Cond: cond, Body: body}, nil
}

func (p *parser) parseInsert() (sqlast.Statement, error) {
	p.advance() // INSERT
	if p.at("INTO") {
		p.advance()
	}
	table, err := p.parseQualifiedName()
	if err != nil {
		return nil, err
	}
	ins := &sqlast.Insert{Table: table}
	if p.at("(") {
		p.advance()
		for !p.at(")") {
			col, err := p.parseQualifiedName()
			if err != nil {
				return nil, err
			}
			ins.Columns = append(ins.Columns, col)
			if p.at(",") {
				p.advance()
				continue
			}
			break
		}
		if _, err := p.expect(")"); err != nil {
			return nil, err
		}
	}

	if p.at("SELECT") {
		sel, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		ins.Select = sel.(*sqlast.Select)
		return ins, nil
	}

	if _, err := p.expect("VALUES"); err != nil {
		return nil, err
	}
	for {
		if _, err := p.expect("("); err != nil {
			return nil, err
		}
		var row []sqlast.Expr
		for !p.at(")") {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			row = append(row, e)
			if p.at(",") {
				p.advance()
				continue
			}
			break
		}
		if _, err := p.expect(")"); err != nil {
			return nil, err
		}
		ins.Values = append(ins.Values, row)
		if p.at(",") {
			p.advance()
			continue
		}
		break
	}
	return ins, nil
}

func (p *parser) parseUpdate() (sqlast.Statement, error) {
	p.advance() // UPDATE
	table, err := p.parseQualifiedName()
	if err != nil {
		return nil, err
	}
	upd := &sqlast.Update{Table: table}
	if p.atKind(KindIdentifier) && !p.at("SET") {
		upd.Alias = p.advance().Text
	}
	if _, err := p.expect("SET"); err != nil {
		return nil, err
	}
	for {
		col, err := p.parseQualifiedName()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect("="); err != nil {
			return nil, err
		}
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		upd.Set = append(upd.Set, sqlast.SetClause{Column: col, Value: v})
		if p.at(",") {
			p.advance()
			continue
		}
		break
	}
	if p.at("FROM") {
		p.advance()
		refs, err := p.parseFromList()
		if err != nil {
			return nil, err
		}
		upd.From = refs
	}
	if p.at("WHERE") {
		p.advance()
		w, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		upd.Where = w
	}
	return upd, nil
}

func (p *parser) parseDelete() (sqlast.Statement, error) {
	p.advance() // DELETE
	if p.at("FROM") {
		p.advance()
	}
	table, err := p.parseQualifiedName()
	if err != nil {
		return nil, err
	}
	del := &sqlast.Delete{Table: table}
	if p.atKind(KindIdentifier) && !p.at("WHERE") {
		del.Alias = p.advance().Text
	}
	if p.at("WHERE") {
		p.advance()
		w, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		del.Where = w
	}
	return del, nil
}

// --- SELECT ---

func (p *parser) parseSelect() (sqlast.Statement, error) {
	p.advance() // SELECT
	sel := &sqlast.Select{}

	if p.at("TOP") {
		p.advance()
		paren := p.at("(")
		if paren {
			p.advance()
		}
		n, err := p.expectInt()
		if err != nil {
			return nil, err
		}
		if paren {
			if _, err := p.expect(")"); err != nil {
				return nil, err
			}
		}
		sel.Top = &sqlast.TopClause{Count: n}
		if p.at("PERCENT") {
			p.advance()
			sel.Top.Percent = true
		}
	}

	if p.at("DISTINCT") {
		p.advance()
		sel.Distinct = true
	} else if p.at("ALL") {
		p.advance()
	}

	for {
		item, err := p.parseSelectItem()
		if err != nil {
			return nil, err
		}
		sel.SelectList = append(sel.SelectList, item)
		if p.at(",") {
			p.advance()
			continue
		}
		break
	}

	if p.at("FROM") {
		p.advance()
		refs, err := p.parseFromList()
		if err != nil {
			return nil, err
		}
		sel.From = refs
	}

	if p.at("WHERE") {
		p.advance()
		w, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		sel.Where = w
	}

	if p.at("GROUP") {
		p.advance()
		if _, err := p.expect("BY"); err != nil {
			return nil, err
		}
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			sel.GroupBy = append(sel.GroupBy, e)
			if p.at(",") {
				p.advance()
				continue
			}
			break
		}
	}

	if p.at("HAVING") {
		p.advance()
		h, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		sel.Having = h
	}

	if p.at("ORDER") {
		p.advance()
		if _, err := p.expect("BY"); err != nil {
			return nil, err
		}
		for {
			item, err := p.parseOrderItem()
			if err != nil {
				return nil, err
			}
			sel.OrderBy = append(sel.OrderBy, item)
			if p.at(",") {
				p.advance()
				continue
			}
			break
		}
	}

	if setOp, ok := p.trySetOpKeyword(); ok {
		right, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		sel.SetOp = &sqlast.SetOperator{Kind: setOp, Right: right.(*sqlast.Select)}
	}

	if p.at("OPTION") {
		p.advance()
		if _, err := p.expect("("); err != nil {
			return nil, err
		}
		start := p.pos
		depth := 1
		for depth > 0 && !p.atEOF() {
			if p.at("(") {
				depth++
			} else if p.at(")") {
				depth--
				if depth == 0 {
					break
				}
			}
			p.advance()
		}
		body := p.rawTextRange(start, p.pos)
		if _, err := p.expect(")"); err != nil {
			return nil, err
		}
		sel.Hints = parseHints(body)
	}

	return sel, nil
}

func (p *parser) trySetOpKeyword() (sqlast.SetOpKind, bool) {
	switch {
	case p.at("UNION"):
		p.advance()
		if p.at("ALL") {
			p.advance()
			return sqlast.SetOpUnionAll, true
		}
		return sqlast.SetOpUnion, true
	case p.at("INTERSECT"):
		p.advance()
		return sqlast.SetOpIntersect, true
	case p.at("EXCEPT"):
		p.advance()
		return sqlast.SetOpExcept, true
	}
	return "", false
}

// rawTextRange reconstructs source text for tokens [from, to) with single
// spaces between them — used for OPTION(...) bodies which are re-parsed as
// small comma lists rather than full expressions.
func (p *parser) rawTextRange(from, to int) string {
	var b strings.Builder
	for i := from; i < to && i < len(p.toks); i++ {
		if i > from {
			b.WriteByte(' ')
		}
		b.WriteString(p.toks[i].Text)
	}
	return b.String()
}

func (p *parser) parseSelectItem() (sqlast.SelectItem, error) {
	if p.at("*") {
		p.advance()
		return sqlast.SelectItem{IsStar: true}, nil
	}
	// alias.* lookahead: IDENT '.' '*'
	if p.atKind(KindIdentifier) && p.peekIs(1, ".") && p.peekIs(2, "*") {
		qual := p.advance().Text
		p.advance() // .
		p.advance() // *
		return sqlast.SelectItem{IsStar: true, StarQual: qual}, nil
	}
	e, err := p.parseExpr()
	if err != nil {
		return sqlast.SelectItem{}, err
	}
	item := sqlast.SelectItem{Expr: e}
	if p.at("AS") {
		p.advance()
		item.Alias = p.advance().Text
	} else if p.atKind(KindIdentifier) && !p.atClauseKeyword() {
		item.Alias = p.advance().Text
	}
	return item, nil
}

func (p *parser) atClauseKeyword() bool {
	switch strings.ToUpper(p.cur().Text) {
	case "FROM", "WHERE", "GROUP", "HAVING", "ORDER", "UNION", "INTERSECT", "EXCEPT", "OPTION":
		return true
	}
	return false
}

func (p *parser) peekIs(offset int, s string) bool {
	idx := p.pos + offset
	if idx >= len(p.toks) {
		return false
	}
	return strings.EqualFold(p.toks[idx].Text, s)
}

func (p *parser) parseFromList() ([]sqlast.TableRef, error) {
	var refs []sqlast.TableRef
	for {
		ref, err := p.parseTableRef()
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
		if p.at(",") {
			p.advance()
			continue
		}
		break
	}
	return refs, nil
}

func (p *parser) parseTableRef() (sqlast.TableRef, error) {
	name, err := p.parseQualifiedName()
	if err != nil {
		return sqlast.TableRef{}, err
	}
	ref := sqlast.TableRef{Table: name}
	if p.at("AS") {
		p.advance()
		ref.Alias = p.advance().Text
	} else if p.atKind(KindIdentifier) && !p.atJoinKeyword() && !p.atClauseKeyword() {
		ref.Alias = p.advance().Text
	}
	for p.atJoinKeyword() {
		j, err := p.parseJoin()
		if err != nil {
			return sqlast.TableRef{}, err
		}
		ref.Joins = append(ref.Joins, j)
	}
	return ref, nil
}

func (p *parser) atJoinKeyword() bool {
	u := strings.ToUpper(p.cur().Text)
	return u == "JOIN" || u == "INNER" || u == "LEFT" || u == "RIGHT"
}

func (p *parser) parseJoin() (sqlast.Join, error) {
	kind := sqlast.JoinInner
	switch strings.ToUpper(p.cur().Text) {
	case "INNER":
		p.advance()
	case "LEFT":
		p.advance()
		kind = sqlast.JoinLeft
		if p.at("OUTER") {
			p.advance()
		}
	case "RIGHT":
		p.advance()
		kind = sqlast.JoinLeft // treated as left-equivalent from the opposite side by the builder
		if p.at("OUTER") {
			p.advance()
		}
	}
	if _, err := p.expect("JOIN"); err != nil {
		return sqlast.Join{}, err
	}
	name, err := p.parseQualifiedName()
	if err != nil {
		return sqlast.Join{}, err
	}
	j := sqlast.Join{Kind: kind, Table: name}
	if p.at("AS") {
		p.advance()
		j.Alias = p.advance().Text
	} else if p.atKind(KindIdentifier) && !p.at("ON") {
		j.Alias = p.advance().Text
	}
	if _, err := p.expect("ON"); err != nil {
		return sqlast.Join{}, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return sqlast.Join{}, err
	}
	j.On = cond
	return j, nil
}

func (p *parser) parseOrderItem() (sqlast.OrderItem, error) {
	e, err := p.parseExpr()
	if err != nil {
		return sqlast.OrderItem{}, err
	}
	item := sqlast.OrderItem{Expr: e}
	if p.at("DESC") {
		p.advance()
		item.Desc = true
	} else if p.at("ASC") {
		p.advance()
	}
	return item, nil
}

// parseQualifiedName reads table.column / db.table style dotted names, plus
// bracket/double-quoted identifiers, returning the joined text unquoted.
func (p *parser) parseQualifiedName() (string, error) {
	first, err := p.parseNamePart()
	if err != nil {
		return "", err
	}
	name := first
	for p.at(".") {
		p.advance()
		part, err := p.parseNamePart()
		if err != nil {
			return "", err
		}
		name += "." + part
	}
	return name, nil
}

func (p *parser) parseNamePart() (string, error) {
	t := p.cur()
	if t.Kind != KindIdentifier && t.Kind != KindQuotedIdentifier && t.Kind != KindKeyword {
		return "", newParseError(t, "expected identifier, found %q", t.Text)
	}
	p.advance()
	return unquoteIdent(t), nil
}

func unquoteIdent(t Token) string {
	if t.Kind != KindQuotedIdentifier {
		return t.Text
	}
	s := t.Text
	if len(s) >= 2 {
		if s[0] == '[' && s[len(s)-1] == ']' {
			return s[1 : len(s)-1]
		}
		if s[0] == '"' && s[len(s)-1] == '"' {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// flattenCTEs rewrites stmt in place, substituting every FROM-list entry and
// UPDATE/DELETE target table that names a CTE with that CTE's underlying
// table, folding the CTE's own WHERE into the referencing statement's WHERE.
// A CTE named in a JOIN clause is not substituted. Only statement shapes that can carry a FROM list (or a bare target table) are
// walked; DECLARE/SET carry no table references.
func flattenCTEs(stmt sqlast.Statement, ctes map[string]*sqlast.Select) {
	switch s := stmt.(type) {
	case *sqlast.Select:
		flattenSelectCTEs(s, ctes)
	case *sqlast.Insert:
		if s.Select != nil {
			flattenSelectCTEs(s.Select, ctes)
		}
	case *sqlast.Update:
		s.From, s.Where = flattenFromList(s.From, s.Where, ctes)
		if cte, ok := ctes[strings.ToLower(s.Table)]; ok {
			s.Table, s.Where = spliceCTETable(cte, s.Where)
		}
	case *sqlast.Delete:
		if cte, ok := ctes[strings.ToLower(s.Table)]; ok {
			s.Table, s.Where = spliceCTETable(cte, s.Where)
		}
	case *sqlast.Block:
		for _, inner := range s.Statements {
			flattenCTEs(inner, ctes)
		}
	case *sqlast.If:
		flattenCTEs(s.Then, ctes)
		if s.Else != nil {
			flattenCTEs(s.Else, ctes)
		}
	case *sqlast.While:
		flattenCTEs(s.Body, ctes)
	case *sqlast.TryCatch:
		flattenCTEs(s.Try, ctes)
		flattenCTEs(s.Catch, ctes)
	}
}

func flattenSelectCTEs(sel *sqlast.Select, ctes map[string]*sqlast.Select) {
	sel.From, sel.Where = flattenFromList(sel.From, sel.Where, ctes)
	if sel.SetOp != nil {
		flattenSelectCTEs(sel.SetOp.Right, ctes)
	}
}

func flattenFromList(refs []sqlast.TableRef, where sqlast.Expr, ctes map[string]*sqlast.Select) ([]sqlast.TableRef, sqlast.Expr) {
	out := make([]sqlast.TableRef, 0, len(refs))
	for _, ref := range refs {
		cte, ok := ctes[strings.ToLower(ref.Table)]
		if !ok {
			out = append(out, ref)
			continue
		}
		newRef, cteWhere := substituteCTERef(ref, cte)
		out = append(out, newRef)
		where = andExpr(where, cteWhere)
	}
	return out, where
}

// substituteCTERef replaces a TableRef that names a CTE with a TableRef over
// the CTE's own base table, keeping the alias the outer query already uses
// to qualify it (falling back to the CTE name itself) so unrelated column
// references elsewhere in the statement keep resolving. The CTE's own joins
// are spliced in ahead of whatever joins the outer query hung off the CTE
// reference.
func substituteCTERef(ref sqlast.TableRef, cte *sqlast.Select) (sqlast.TableRef, sqlast.Expr) {
	if len(cte.From) == 0 {
		return ref, nil
	}
	base := cte.From[0]
	alias := ref.Alias
	if alias == "" {
		alias = ref.Table
	}
	joins := make([]sqlast.Join, 0, len(base.Joins)+len(ref.Joins))
	joins = append(joins, base.Joins...)
	joins = append(joins, ref.Joins...)
	newRef := sqlast.TableRef{Table: base.Table, Alias: alias, Joins: joins}
	return newRef, cte.Where
}

// spliceCTETable is substituteCTERef's single-table-target counterpart, for
// UPDATE/DELETE statements whose own target (not a FROM entry) names a CTE.
func spliceCTETable(cte *sqlast.Select, where sqlast.Expr) (string, sqlast.Expr) {
	if len(cte.From) == 0 {
		return "", where
	}
	return cte.From[0].Table, andExpr(where, cte.Where)
}

func andExpr(a, b sqlast.Expr) sqlast.Expr {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	default:
		return &sqlast.BinaryExpr{Op: sqlast.OpAnd, Left: a, Right: b}
	}
}

func (p *parser) expectInt() (int64, error) {
	t := p.cur()
	if t.Kind != KindNumericLiteral {
		return 0, newParseError(t, "expected integer, found %q", t.Text)
	}
	p.advance()
	n, err := strconv.ParseInt(t.Text, 10, 64)
	if err != nil {
		return 0, newParseError(t, "invalid integer %q", t.Text)
	}
	return n, nil
}
