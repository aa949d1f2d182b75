package sqlparse

import (
	"strconv"
	"strings"

	"github.com/ppds-sdk/sqlengine/internal/sqlast"
)

// parseExpr is the entry point for expression parsing: precedence-climbing
// descent OR > AND > NOT > comparison (incl. BETWEEN/IN/LIKE/IS) > additive >
// multiplicative > unary > primary.
func (p *parser) parseExpr() (sqlast.Expr, error) {
	return p.parseOr()
}

func (p *parser) parseOr() (sqlast.Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.at("OR") {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &sqlast.BinaryExpr{Op: sqlast.OpOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (sqlast.Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.at("AND") {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &sqlast.BinaryExpr{Op: sqlast.OpAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (sqlast.Expr, error) {
	if p.at("NOT") {
		p.advance()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &sqlast.UnaryExpr{Op: sqlast.OpNot, Operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (sqlast.Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}

	not := false
	if p.at("NOT") && (p.peekIs(1, "BETWEEN") || p.peekIs(1, "LIKE") || p.peekIs(1, "IN")) {
		p.advance()
		not = true
	}

	switch {
	case p.at("BETWEEN"):
		p.advance()
		low, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect("AND"); err != nil {
			return nil, err
		}
		high, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &sqlast.Between{Expr: left, Low: low, High: high, Not: not}, nil

	case p.at("LIKE"):
		p.advance()
		pattern, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &sqlast.Like{Expr: left, Pattern: pattern, Not: not}, nil

	case p.at("IN"):
		p.advance()
		if _, err := p.expect("("); err != nil {
			return nil, err
		}
		var list []sqlast.Expr
		for !p.at(")") {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			list = append(list, e)
			if p.at(",") {
				p.advance()
				continue
			}
			break
		}
		if _, err := p.expect(")"); err != nil {
			return nil, err
		}
		return &sqlast.In{Expr: left, List: list, Not: not}, nil

	case p.at("IS"):
		p.advance()
		isNot := false
		if p.at("NOT") {
			p.advance()
			isNot = true
		}
		if _, err := p.expect("NULL"); err != nil {
			return nil, err
		}
		return &sqlast.IsNull{Expr: left, Not: isNot}, nil
	}

	if op, ok := p.tryCompareOp(); ok {
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &sqlast.BinaryExpr{Op: op, Left: left, Right: right}, nil
	}

	return left, nil
}

func (p *parser) tryCompareOp() (sqlast.BinOp, bool) {
	switch p.cur().Text {
	case "=":
		p.advance()
		return sqlast.OpEq, true
	case "<>", "!=":
		p.advance()
		return sqlast.OpNeq, true
	case "<=":
		p.advance()
		return sqlast.OpLte, true
	case ">=":
		p.advance()
		return sqlast.OpGte, true
	case "<":
		p.advance()
		return sqlast.OpLt, true
	case ">":
		p.advance()
		return sqlast.OpGt, true
	}
	return "", false
}

func (p *parser) parseAdditive() (sqlast.Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		switch p.cur().Text {
		case "+":
			p.advance()
			right, err := p.parseMultiplicative()
			if err != nil {
				return nil, err
			}
			left = &sqlast.BinaryExpr{Op: sqlast.OpAdd, Left: left, Right: right}
			continue
		case "-":
			p.advance()
			right, err := p.parseMultiplicative()
			if err != nil {
				return nil, err
			}
			left = &sqlast.BinaryExpr{Op: sqlast.OpSub, Left: left, Right: right}
			continue
		case "||":
			p.advance()
			right, err := p.parseMultiplicative()
			if err != nil {
				return nil, err
			}
			left = &sqlast.BinaryExpr{Op: sqlast.OpConcat, Left: left, Right: right}
			continue
		}
		break
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (sqlast.Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.cur().Text {
		case "*":
			p.advance()
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			left = &sqlast.BinaryExpr{Op: sqlast.OpMul, Left: left, Right: right}
			continue
		case "/":
			p.advance()
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			left = &sqlast.BinaryExpr{Op: sqlast.OpDiv, Left: left, Right: right}
			continue
		case "%":
			p.advance()
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			left = &sqlast.BinaryExpr{Op: sqlast.OpMod, Left: left, Right: right}
			continue
		}
		break
	}
	return left, nil
}

func (p *parser) parseUnary() (sqlast.Expr, error) {
	if p.cur().Text == "-" {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &sqlast.UnaryExpr{Op: sqlast.OpNeg, Operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (sqlast.Expr, error) {
	t := p.cur()

	switch t.Kind {
	case KindNumericLiteral:
		p.advance()
		if strings.Contains(t.Text, ".") {
			f, err := strconv.ParseFloat(t.Text, 64)
			if err != nil {
				return nil, newParseError(t, "invalid numeric literal %q", t.Text)
			}
			return &sqlast.Literal{Value: f}, nil
		}
		n, err := strconv.ParseInt(t.Text, 10, 64)
		if err != nil {
			return nil, newParseError(t, "invalid numeric literal %q", t.Text)
		}
		return &sqlast.Literal{Value: n}, nil

	case KindStringLiteral:
		p.advance()
		return &sqlast.Literal{Value: unquoteString(t.Text)}, nil

	case KindVariable:
		p.advance()
		return &sqlast.VariableRef{Name: t.Text}, nil
	}

	switch strings.ToUpper(t.Text) {
	case "NULL":
		p.advance()
		return &sqlast.Literal{Value: nil}, nil
	case "TRUE":
		p.advance()
		return &sqlast.Literal{Value: true}, nil
	case "FALSE":
		p.advance()
		return &sqlast.Literal{Value: false}, nil
	case "CASE":
		return p.parseCase()
	case "(":
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(")"); err != nil {
			return nil, err
		}
		return e, nil
	case "COUNT", "SUM", "AVG", "MIN", "MAX", "STDEV", "VAR", "COUNTCOLUMN":
		return p.parseAggOrWindow(strings.ToUpper(t.Text))
	case "ROW_NUMBER", "RANK", "DENSE_RANK":
		return p.parseRankWindow(strings.ToUpper(t.Text))
	}

	if t.Kind == KindIdentifier || t.Kind == KindQuotedIdentifier || t.Kind == KindFunction {
		name, err := p.parseQualifiedName()
		if err != nil {
			return nil, err
		}
		if p.at("(") {
			return p.parseFuncCallTail(name)
		}
		parts := strings.SplitN(name, ".", 2)
		if len(parts) == 2 {
			return &sqlast.ColumnRef{Table: parts[0], Name: parts[1]}, nil
		}
		return &sqlast.ColumnRef{Name: name}, nil
	}

	return nil, newParseError(t, "unexpected token %q in expression", t.Text)
}

func (p *parser) parseFuncCallTail(name string) (sqlast.Expr, error) {
	p.advance() // (
	var args []sqlast.Expr
	for !p.at(")") {
		a, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		if p.at(",") {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(")"); err != nil {
		return nil, err
	}
	return &sqlast.FuncCall{Name: strings.ToUpper(name), Args: args}, nil
}

func (p *parser) parseAggOrWindow(name string) (sqlast.Expr, error) {
	p.advance() // consume function name
	if _, err := p.expect("("); err != nil {
		return nil, err
	}
	agg := &sqlast.AggFunc{Name: name}
	if p.at("DISTINCT") {
		p.advance()
		agg.Distinct = true
	}
	if p.at("*") {
		p.advance()
		agg.Star = true
	} else {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		agg.Arg = e
	}
	if _, err := p.expect(")"); err != nil {
		return nil, err
	}
	if p.at("OVER") {
		spec, err := p.parseOverClause()
		if err != nil {
			return nil, err
		}
		return &sqlast.WindowFunc{Name: name, Arg: agg.Arg, Star: agg.Star, Over: spec}, nil
	}
	return agg, nil
}

func (p *parser) parseRankWindow(name string) (sqlast.Expr, error) {
	p.advance() // consume function name
	if _, err := p.expect("("); err != nil {
		return nil, err
	}
	if _, err := p.expect(")"); err != nil {
		return nil, err
	}
	spec, err := p.parseOverClause()
	if err != nil {
		return nil, err
	}
	return &sqlast.WindowFunc{Name: name, Over: spec}, nil
}

func (p *parser) parseOverClause() (sqlast.WindowSpec, error) {
	if _, err := p.expect("OVER"); err != nil {
		return sqlast.WindowSpec{}, err
	}
	if _, err := p.expect("("); err != nil {
		return sqlast.WindowSpec{}, err
	}
	var spec sqlast.WindowSpec
	if p.at("PARTITION") {
		p.advance()
		if _, err := p.expect("BY"); err != nil {
			return spec, err
		}
		for {
			e, err := p.parseExpr()
			if err != nil {
				return spec, err
			}
			spec.PartitionBy = append(spec.PartitionBy, e)
			if p.at(",") {
				p.advance()
				continue
			}
			break
		}
	}
	if p.at("ORDER") {
		p.advance()
		if _, err := p.expect("BY"); err != nil {
			return spec, err
		}
		for {
			item, err := p.parseOrderItem()
			if err != nil {
				return spec, err
			}
			spec.OrderBy = append(spec.OrderBy, item)
			if p.at(",") {
				p.advance()
				continue
			}
			break
		}
	}
	if _, err := p.expect(")"); err != nil {
		return spec, err
	}
	return spec, nil
}

func (p *parser) parseCase() (sqlast.Expr, error) {
	p.advance() // CASE
	c := &sqlast.Case{}
	if !p.at("WHEN") {
		operand, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		c.Operand = operand
	}
	for p.at("WHEN") {
		p.advance()
		cond, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect("THEN"); err != nil {
			return nil, err
		}
		res, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		c.Whens = append(c.Whens, sqlast.CaseWhen{Cond: cond, Result: res})
	}
	if p.at("ELSE") {
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		c.Else = e
	}
	if _, err := p.expect("END"); err != nil {
		return nil, err
	}
	return c, nil
}

func unquoteString(lit string) string {
	s := lit
	if len(s) >= 2 && (s[0] == 'N' || s[0] == 'n') && s[1] == '\'' {
		s = s[1:]
	}
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		s = s[1 : len(s)-1]
	}
	return strings.ReplaceAll(s, "''", "'")
}
