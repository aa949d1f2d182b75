// Package planctx holds the execution-time context threaded through every
// plan node: variable scope, statistics, and the collaborators a node calls
// out to (remote executor, bulk executor, expression evaluator).
package planctx

import (
	"sync"

	"github.com/ppds-sdk/sqlengine/internal/sqltypes"
)

// Variable is one declared script variable: its static type name and
// current value.
type Variable struct {
	Type  string
	Value sqltypes.QueryValue
}

// frame is one lexical scope level (script top level, or one BEGIN...END/
// CATCH nesting).
type frame struct {
	vars map[string]*Variable
}

// VariableScope is a stack of declared-name frames (§3 "Variable scope").
// Declare adds to the current frame; Set mutates an existing declaration by
// walking outward through enclosing frames; block enter/leave push/pop a
// frame.
type VariableScope struct {
	mu     sync.Mutex
	frames []*frame
}

// NewVariableScope creates a scope with a single top-level frame.
func NewVariableScope() *VariableScope {
	return &VariableScope{frames: []*frame{{vars: map[string]*Variable{}}}}
}

// Push adds a new frame (BEGIN...END / CATCH entry).
func (s *VariableScope) Push() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, &frame{vars: map[string]*Variable{}})
}

// Pop removes the innermost frame.
func (s *VariableScope) Pop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) > 1 {
		s.frames = s.frames[:len(s.frames)-1]
	}
}

// Declare adds a variable to the current (innermost) frame.
func (s *VariableScope) Declare(name, typ string, initial sqltypes.QueryValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames[len(s.frames)-1].vars[name] = &Variable{Type: typ, Value: initial}
}

// Set mutates an existing declaration, searching from innermost to outermost
// frame. Returns false if the name was never declared.
func (s *VariableScope) Set(name string, v sqltypes.QueryValue) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.frames) - 1; i >= 0; i-- {
		if variable, ok := s.frames[i].vars[name]; ok {
			variable.Value = v
			return true
		}
	}
	return false
}

// Get looks up a variable's current value, searching innermost to outermost.
func (s *VariableScope) Get(name string) (sqltypes.QueryValue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.frames) - 1; i >= 0; i-- {
		if variable, ok := s.frames[i].vars[name]; ok {
			return variable.Value, true
		}
	}
	return sqltypes.QueryValue{}, false
}

// Error pseudo-variable names populated on entering a CATCH body (§3).
const (
	ErrMessage  = "@@ERROR_MESSAGE"
	ErrNumber   = "@@ERROR_NUMBER"
	ErrSeverity = "@@ERROR_SEVERITY"
	ErrState    = "@@ERROR_STATE"
)

// SetCatchError populates the @@ERROR_* pseudo-variables for a CATCH block,
// per §4.5.14 TryCatch semantics.
func (s *VariableScope) SetCatchError(message string, number int) {
	s.Declare(ErrMessage, "nvarchar", sqltypes.QueryValue{Raw: message})
	s.Declare(ErrNumber, "int", sqltypes.QueryValue{Raw: int64(number)})
	s.Declare(ErrSeverity, "int", sqltypes.QueryValue{Raw: int64(16)})
	s.Declare(ErrState, "int", sqltypes.QueryValue{Raw: int64(1)})
}
