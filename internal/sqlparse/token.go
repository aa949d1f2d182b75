package sqlparse

// TokenKind classifies a lexical token, per spec §4.1.
type TokenKind string

const (
	KindKeyword         TokenKind = "Keyword"
	KindIdentifier      TokenKind = "Identifier"
	KindQuotedIdentifier TokenKind = "QuotedIdentifier"
	KindFunction        TokenKind = "Function"
	KindStringLiteral   TokenKind = "StringLiteral"
	KindNumericLiteral  TokenKind = "NumericLiteral"
	KindComment         TokenKind = "Comment"
	KindOperator        TokenKind = "Operator"
	KindPunctuation     TokenKind = "Punctuation"
	KindVariable        TokenKind = "Variable"
	KindError           TokenKind = "Error"
	kindWhitespace      TokenKind = "Whitespace" // filtered before reaching highlight output
	kindEOF             TokenKind = "EOF"        // filtered before reaching highlight output
)

// Token is one lexed unit, carrying source position for highlighting and for
// ParseError reporting.
type Token struct {
	Kind   TokenKind
	Text   string
	Offset int // byte offset into the source
	Length int
	Line   int
	Column int
}

var keywords = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "GROUP": true, "BY": true,
	"HAVING": true, "ORDER": true, "TOP": true, "DISTINCT": true, "AS": true,
	"JOIN": true, "INNER": true, "LEFT": true, "RIGHT": true, "OUTER": true, "ON": true,
	"UNION": true, "ALL": true, "INTERSECT": true, "EXCEPT": true,
	"INSERT": true, "INTO": true, "VALUES": true, "UPDATE": true, "SET": true,
	"DELETE": true, "DECLARE": true, "IF": true, "ELSE": true, "WHILE": true,
	"BEGIN": true, "END": true, "TRY": true, "CATCH": true, "RETURN": true,
	"BREAK": true, "CONTINUE": true,
	"AND": true, "OR": true, "NOT": true, "NULL": true, "IS": true, "IN": true,
	"LIKE": true, "BETWEEN": true, "CASE": true, "WHEN": true, "THEN": true,
	"ASC": true, "DESC": true, "OVER": true, "PARTITION": true,
	"OPTION": true, "TRUE": true, "FALSE": true, "EXISTS": true,
}

var builtinFuncs = map[string]bool{
	"COUNT": true, "SUM": true, "AVG": true, "MIN": true, "MAX": true,
	"STDEV": true, "VAR": true, "COUNTCOLUMN": true,
	"ROW_NUMBER": true, "RANK": true, "DENSE_RANK": true,
	"UPPER": true, "LOWER": true, "COALESCE": true, "GETDATE": true,
	"CAST": true, "CONVERT": true, "ISNULL": true, "LEN": true, "SUBSTRING": true,
}

func lookupKeyword(upper string) bool  { return keywords[upper] }
func lookupFunction(upper string) bool { return builtinFuncs[upper] }
