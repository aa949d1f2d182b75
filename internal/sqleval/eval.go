// Package sqleval implements the scalar expression evaluator used by
// ClientFilter, Project, ClientAggregate, ClientWindow, and the scripting
// statements (IF/WHILE conditions, SET variable assignment) — spec §9
// "evaluate(expr, row) → value" and "evaluate_condition".
package sqleval

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ppds-sdk/sqlengine/internal/planctx"
	"github.com/ppds-sdk/sqlengine/internal/sqlast"
	"github.com/ppds-sdk/sqlengine/internal/sqltypes"
)

// Evaluator is the default, stateless implementation of planctx.Evaluator.
type Evaluator struct{}

// New returns the evaluator. It carries no state of its own; row data and
// variables come from the arguments and from ctx.Vars.
func New() *Evaluator { return &Evaluator{} }

var _ planctx.Evaluator = (*Evaluator)(nil)

// Evaluate computes expr against row, resolving @variables from ctx.Vars.
func (e *Evaluator) Evaluate(ctx *planctx.Context, expr sqlast.Expr, row *sqltypes.QueryRow) (sqltypes.QueryValue, error) {
	switch x := expr.(type) {
	case *sqlast.Literal:
		return sqltypes.QueryValue{Raw: x.Value}, nil

	case *sqlast.ColumnRef:
		if row == nil {
			return sqltypes.QueryValue{}, fmt.Errorf("sqleval: column %q referenced with no row in scope", x.Name)
		}
		if v, ok := row.Get(x.Name); ok {
			return v, nil
		}
		return sqltypes.QueryValue{}, fmt.Errorf("sqleval: column %q not found in row", x.Name)

	case *sqlast.VariableRef:
		if v, ok := ctx.Vars.Get(x.Name); ok {
			return v, nil
		}
		return sqltypes.QueryValue{}, nil

	case *sqlast.UnaryExpr:
		return e.evalUnary(ctx, x, row)

	case *sqlast.BinaryExpr:
		return e.evalBinary(ctx, x, row)

	case *sqlast.Between:
		return e.evalBetween(ctx, x, row)

	case *sqlast.Like:
		return e.evalLike(ctx, x, row)

	case *sqlast.In:
		return e.evalIn(ctx, x, row)

	case *sqlast.IsNull:
		v, err := e.Evaluate(ctx, x.Expr, row)
		if err != nil {
			return sqltypes.QueryValue{}, err
		}
		result := v.IsNull()
		if x.Not {
			result = !result
		}
		return sqltypes.QueryValue{Raw: result}, nil

	case *sqlast.Case:
		return e.evalCase(ctx, x, row)

	case *sqlast.FuncCall:
		return e.evalFunc(ctx, x, row)

	default:
		return sqltypes.QueryValue{}, fmt.Errorf("sqleval: aggregate/window expression cannot be evaluated row-wise: %T", expr)
	}
}

// EvaluateCondition evaluates expr and coerces the result to a SQL boolean,
// treating NULL as false the way WHERE/IF do.
func (e *Evaluator) EvaluateCondition(ctx *planctx.Context, expr sqlast.Expr, row *sqltypes.QueryRow) (bool, error) {
	v, err := e.Evaluate(ctx, expr, row)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

func truthy(v sqltypes.QueryValue) bool {
	if v.IsNull() {
		return false
	}
	switch t := v.Raw.(type) {
	case bool:
		return t
	case int64:
		return t != 0
	case float64:
		return t != 0
	default:
		return true
	}
}

func (e *Evaluator) evalUnary(ctx *planctx.Context, x *sqlast.UnaryExpr, row *sqltypes.QueryRow) (sqltypes.QueryValue, error) {
	v, err := e.Evaluate(ctx, x.Operand, row)
	if err != nil {
		return sqltypes.QueryValue{}, err
	}
	switch x.Op {
	case sqlast.OpNot:
		return sqltypes.QueryValue{Raw: !truthy(v)}, nil
	case sqlast.OpNeg:
		n, err := toFloat(v)
		if err != nil {
			return sqltypes.QueryValue{}, err
		}
		return sqltypes.QueryValue{Raw: -n}, nil
	}
	return sqltypes.QueryValue{}, fmt.Errorf("sqleval: unknown unary operator %q", x.Op)
}

func (e *Evaluator) evalBinary(ctx *planctx.Context, x *sqlast.BinaryExpr, row *sqltypes.QueryRow) (sqltypes.QueryValue, error) {
	// AND/OR short-circuit on NULL-as-false like WHERE clause evaluation.
	if x.Op == sqlast.OpAnd || x.Op == sqlast.OpOr {
		left, err := e.EvaluateCondition(ctx, x.Left, row)
		if err != nil {
			return sqltypes.QueryValue{}, err
		}
		if x.Op == sqlast.OpAnd && !left {
			return sqltypes.QueryValue{Raw: false}, nil
		}
		if x.Op == sqlast.OpOr && left {
			return sqltypes.QueryValue{Raw: true}, nil
		}
		right, err := e.EvaluateCondition(ctx, x.Right, row)
		if err != nil {
			return sqltypes.QueryValue{}, err
		}
		return sqltypes.QueryValue{Raw: right}, nil
	}

	left, err := e.Evaluate(ctx, x.Left, row)
	if err != nil {
		return sqltypes.QueryValue{}, err
	}
	right, err := e.Evaluate(ctx, x.Right, row)
	if err != nil {
		return sqltypes.QueryValue{}, err
	}

	if x.Op == sqlast.OpConcat {
		return sqltypes.QueryValue{Raw: left.String() + right.String()}, nil
	}

	switch x.Op {
	case sqlast.OpEq, sqlast.OpNeq, sqlast.OpLt, sqlast.OpLte, sqlast.OpGt, sqlast.OpGte:
		cmp, ok := compare(left, right)
		if !ok {
			return sqltypes.QueryValue{Raw: false}, nil
		}
		switch x.Op {
		case sqlast.OpEq:
			return sqltypes.QueryValue{Raw: cmp == 0}, nil
		case sqlast.OpNeq:
			return sqltypes.QueryValue{Raw: cmp != 0}, nil
		case sqlast.OpLt:
			return sqltypes.QueryValue{Raw: cmp < 0}, nil
		case sqlast.OpLte:
			return sqltypes.QueryValue{Raw: cmp <= 0}, nil
		case sqlast.OpGt:
			return sqltypes.QueryValue{Raw: cmp > 0}, nil
		case sqlast.OpGte:
			return sqltypes.QueryValue{Raw: cmp >= 0}, nil
		}
	}

	ln, lerr := toFloat(left)
	rn, rerr := toFloat(right)
	if lerr != nil || rerr != nil {
		return sqltypes.QueryValue{}, fmt.Errorf("sqleval: arithmetic on non-numeric operand")
	}
	switch x.Op {
	case sqlast.OpAdd:
		return sqltypes.QueryValue{Raw: ln + rn}, nil
	case sqlast.OpSub:
		return sqltypes.QueryValue{Raw: ln - rn}, nil
	case sqlast.OpMul:
		return sqltypes.QueryValue{Raw: ln * rn}, nil
	case sqlast.OpDiv:
		if rn == 0 {
			return sqltypes.QueryValue{}, fmt.Errorf("sqleval: division by zero")
		}
		return sqltypes.QueryValue{Raw: ln / rn}, nil
	case sqlast.OpMod:
		if rn == 0 {
			return sqltypes.QueryValue{}, fmt.Errorf("sqleval: modulo by zero")
		}
		return sqltypes.QueryValue{Raw: float64(int64(ln) % int64(rn))}, nil
	}
	return sqltypes.QueryValue{}, fmt.Errorf("sqleval: unknown binary operator %q", x.Op)
}

func (e *Evaluator) evalBetween(ctx *planctx.Context, x *sqlast.Between, row *sqltypes.QueryRow) (sqltypes.QueryValue, error) {
	v, err := e.Evaluate(ctx, x.Expr, row)
	if err != nil {
		return sqltypes.QueryValue{}, err
	}
	lo, err := e.Evaluate(ctx, x.Low, row)
	if err != nil {
		return sqltypes.QueryValue{}, err
	}
	hi, err := e.Evaluate(ctx, x.High, row)
	if err != nil {
		return sqltypes.QueryValue{}, err
	}
	loCmp, ok1 := compare(v, lo)
	hiCmp, ok2 := compare(v, hi)
	result := ok1 && ok2 && loCmp >= 0 && hiCmp <= 0
	if x.Not {
		result = !result
	}
	return sqltypes.QueryValue{Raw: result}, nil
}

func (e *Evaluator) evalLike(ctx *planctx.Context, x *sqlast.Like, row *sqltypes.QueryRow) (sqltypes.QueryValue, error) {
	v, err := e.Evaluate(ctx, x.Expr, row)
	if err != nil {
		return sqltypes.QueryValue{}, err
	}
	p, err := e.Evaluate(ctx, x.Pattern, row)
	if err != nil {
		return sqltypes.QueryValue{}, err
	}
	result := likeMatch(v.String(), p.String())
	if x.Not {
		result = !result
	}
	return sqltypes.QueryValue{Raw: result}, nil
}

// likeMatch implements T-SQL LIKE's %/_ wildcards over the two operands
// already rendered to string form.
func likeMatch(s, pattern string) bool {
	return likeMatchRunes([]rune(s), []rune(pattern))
}

func likeMatchRunes(s, p []rune) bool {
	if len(p) == 0 {
		return len(s) == 0
	}
	switch p[0] {
	case '%':
		for i := 0; i <= len(s); i++ {
			if likeMatchRunes(s[i:], p[1:]) {
				return true
			}
		}
		return false
	case '_':
		if len(s) == 0 {
			return false
		}
		return likeMatchRunes(s[1:], p[1:])
	default:
		if len(s) == 0 || s[0] != p[0] {
			return false
		}
		return likeMatchRunes(s[1:], p[1:])
	}
}

func (e *Evaluator) evalIn(ctx *planctx.Context, x *sqlast.In, row *sqltypes.QueryRow) (sqltypes.QueryValue, error) {
	v, err := e.Evaluate(ctx, x.Expr, row)
	if err != nil {
		return sqltypes.QueryValue{}, err
	}
	found := false
	for _, item := range x.List {
		iv, err := e.Evaluate(ctx, item, row)
		if err != nil {
			return sqltypes.QueryValue{}, err
		}
		if cmp, ok := compare(v, iv); ok && cmp == 0 {
			found = true
			break
		}
	}
	if x.Not {
		found = !found
	}
	return sqltypes.QueryValue{Raw: found}, nil
}

func (e *Evaluator) evalCase(ctx *planctx.Context, x *sqlast.Case, row *sqltypes.QueryRow) (sqltypes.QueryValue, error) {
	var operandVal sqltypes.QueryValue
	if x.Operand != nil {
		v, err := e.Evaluate(ctx, x.Operand, row)
		if err != nil {
			return sqltypes.QueryValue{}, err
		}
		operandVal = v
	}
	for _, w := range x.Whens {
		if x.Operand != nil {
			cv, err := e.Evaluate(ctx, w.Cond, row)
			if err != nil {
				return sqltypes.QueryValue{}, err
			}
			if cmp, ok := compare(operandVal, cv); ok && cmp == 0 {
				return e.Evaluate(ctx, w.Result, row)
			}
			continue
		}
		matched, err := e.EvaluateCondition(ctx, w.Cond, row)
		if err != nil {
			return sqltypes.QueryValue{}, err
		}
		if matched {
			return e.Evaluate(ctx, w.Result, row)
		}
	}
	if x.Else != nil {
		return e.Evaluate(ctx, x.Else, row)
	}
	return sqltypes.QueryValue{Raw: nil}, nil
}

func (e *Evaluator) evalFunc(ctx *planctx.Context, x *sqlast.FuncCall, row *sqltypes.QueryRow) (sqltypes.QueryValue, error) {
	args := make([]sqltypes.QueryValue, len(x.Args))
	for i, a := range x.Args {
		v, err := e.Evaluate(ctx, a, row)
		if err != nil {
			return sqltypes.QueryValue{}, err
		}
		args[i] = v
	}
	name := strings.ToUpper(x.Name)
	switch name {
	case "UPPER":
		return sqltypes.QueryValue{Raw: strings.ToUpper(args[0].String())}, nil
	case "LOWER":
		return sqltypes.QueryValue{Raw: strings.ToLower(args[0].String())}, nil
	case "LTRIM":
		return sqltypes.QueryValue{Raw: strings.TrimLeft(args[0].String(), " ")}, nil
	case "RTRIM":
		return sqltypes.QueryValue{Raw: strings.TrimRight(args[0].String(), " ")}, nil
	case "COALESCE":
		for _, a := range args {
			if !a.IsNull() {
				return a, nil
			}
		}
		return sqltypes.QueryValue{Raw: nil}, nil
	case "ISNULL":
		if len(args) == 2 && args[0].IsNull() {
			return args[1], nil
		}
		return args[0], nil
	case "GETDATE", "GETUTCDATE":
		return sqltypes.QueryValue{Raw: timeNow()}, nil
	case "LEN":
		return sqltypes.QueryValue{Raw: int64(len([]rune(args[0].String())))}, nil
	case "CAST", "CONVERT":
		if len(args) == 0 {
			return sqltypes.QueryValue{Raw: nil}, nil
		}
		return args[0], nil
	default:
		return sqltypes.QueryValue{}, fmt.Errorf("sqleval: unsupported function %s", x.Name)
	}
}

// timeNow is isolated so a future clock injection point doesn't have to
// touch every caller.
func timeNow() time.Time { return time.Now().UTC() }

func toFloat(v sqltypes.QueryValue) (float64, error) {
	if v.IsNull() {
		return 0, fmt.Errorf("sqleval: NULL operand in arithmetic")
	}
	switch t := v.Raw.(type) {
	case int64:
		return float64(t), nil
	case int:
		return float64(t), nil
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("sqleval: cannot convert %q to a number", t)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("sqleval: cannot convert %T to a number", t)
	}
}

// compare orders two values, returning ok=false when they aren't
// comparable (type mismatch other than the numeric/time special-cases
// below, or either side NULL).
func compare(a, b sqltypes.QueryValue) (int, bool) {
	if a.IsNull() || b.IsNull() {
		return 0, false
	}
	switch av := a.Raw.(type) {
	case string:
		if bv, ok := b.Raw.(string); ok {
			return strings.Compare(av, bv), true
		}
	case time.Time:
		if bv, ok := b.Raw.(time.Time); ok {
			switch {
			case av.Before(bv):
				return -1, true
			case av.After(bv):
				return 1, true
			default:
				return 0, true
			}
		}
	case bool:
		if bv, ok := b.Raw.(bool); ok {
			if av == bv {
				return 0, true
			}
			if !av {
				return -1, true
			}
			return 1, true
		}
	}
	af, aerr := toFloat(a)
	bf, berr := toFloat(b)
	if aerr != nil || berr != nil {
		return 0, false
	}
	switch {
	case af < bf:
		return -1, true
	case af > bf:
		return 1, true
	default:
		return 0, true
	}
}
