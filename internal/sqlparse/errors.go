package sqlparse

import "fmt"

// ParseError is a syntax failure from the lexer or parser (§4.1, §7 "ParseError").
type ParseError struct {
	Line    int
	Column  int
	Offset  int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at line %d, column %d: %s", e.Line, e.Column, e.Message)
}

func newParseError(tok Token, format string, args ...any) *ParseError {
	return &ParseError{
		Line:    tok.Line,
		Column:  tok.Column,
		Offset:  tok.Offset,
		Message: fmt.Sprintf(format, args...),
	}
}
