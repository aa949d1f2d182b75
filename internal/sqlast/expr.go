package sqlast

// Expr is the closed set of expression kinds. Aggregate and window
// expressions never nest inside each other in a valid query (§3 invariant).
// Neither the parser nor the type system checks this: the parser accepts an
// aggregate or window call as the argument of another.
type Expr interface {
	exprNode()
}

// ColumnRef is a (possibly table-qualified) column reference.
type ColumnRef struct {
	Table string // "" when unqualified; must then resolve uniquely in FROM scope
	Name  string
}

func (*ColumnRef) exprNode() {}

// Literal is a constant: string, number, bool, or nil for SQL NULL.
type Literal struct {
	Value any
}

func (*Literal) exprNode() {}

// VariableRef is `@name` or a `@@...` pseudo-variable.
type VariableRef struct {
	Name string
}

func (*VariableRef) exprNode() {}

// BinaryExpr is `left Op right`.
type BinaryExpr struct {
	Op    BinOp
	Left  Expr
	Right Expr
}

func (*BinaryExpr) exprNode() {}

type BinOp string

const (
	OpAdd    BinOp = "+"
	OpSub    BinOp = "-"
	OpMul    BinOp = "*"
	OpDiv    BinOp = "/"
	OpMod    BinOp = "%"
	OpEq     BinOp = "="
	OpNeq    BinOp = "<>"
	OpLt     BinOp = "<"
	OpLte    BinOp = "<="
	OpGt     BinOp = ">"
	OpGte    BinOp = ">="
	OpAnd    BinOp = "AND"
	OpOr     BinOp = "OR"
	OpConcat BinOp = "||"
)

// UnaryExpr is `Op operand`.
type UnaryExpr struct {
	Op      UnOp
	Operand Expr
}

func (*UnaryExpr) exprNode() {}

type UnOp string

const (
	OpNot UnOp = "NOT"
	OpNeg UnOp = "-"
)

// Between is `expr [NOT] BETWEEN low AND high`.
type Between struct {
	Expr Expr
	Low  Expr
	High Expr
	Not  bool
}

func (*Between) exprNode() {}

// Like is `expr [NOT] LIKE pattern`.
type Like struct {
	Expr    Expr
	Pattern Expr
	Not     bool
}

func (*Like) exprNode() {}

// In is `expr [NOT] IN (list...)`.
type In struct {
	Expr Expr
	List []Expr
	Not  bool
}

func (*In) exprNode() {}

// IsNull is `expr IS [NOT] NULL`.
type IsNull struct {
	Expr Expr
	Not  bool
}

func (*IsNull) exprNode() {}

// CaseWhen is one `WHEN cond THEN result` arm.
type CaseWhen struct {
	Cond   Expr
	Result Expr
}

// Case is a CASE expression, simple (Operand != nil) or searched (Operand == nil).
type Case struct {
	Operand Expr // non-nil for `CASE operand WHEN ...`
	Whens   []CaseWhen
	Else    Expr // nil when no ELSE
}

func (*Case) exprNode() {}

// FuncCall is a scalar function call: UPPER(x), COALESCE(a,b), GETDATE(), etc.
type FuncCall struct {
	Name string
	Args []Expr
}

func (*FuncCall) exprNode() {}

// AggFunc is an aggregate function call: COUNT, SUM, AVG, MIN, MAX, STDEV, VAR,
// COUNT(DISTINCT ...).
type AggFunc struct {
	Name     string // uppercased: COUNT, SUM, AVG, MIN, MAX, STDEV, VAR, COUNTCOLUMN
	Arg      Expr   // nil for COUNT(*)
	Distinct bool
	Star     bool // true for COUNT(*)
}

func (*AggFunc) exprNode() {}

// WindowSpec is the `OVER (PARTITION BY ... ORDER BY ...)` clause.
type WindowSpec struct {
	PartitionBy []Expr
	OrderBy     []OrderItem
}

// WindowFunc is `Func(arg) OVER (...)`: ROW_NUMBER, RANK, DENSE_RANK, or an
// aggregate used as a window function.
type WindowFunc struct {
	Name string // ROW_NUMBER, RANK, DENSE_RANK, SUM, COUNT, AVG, MIN, MAX
	Arg  Expr   // nil for ROW_NUMBER/RANK/DENSE_RANK and COUNT(*)
	Star bool
	Over WindowSpec
}

func (*WindowFunc) exprNode() {}
