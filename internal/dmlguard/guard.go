// Package dmlguard implements the DML Safety Guard (C7, §4.7): it runs
// between parse and plan and decides whether a DML statement may proceed,
// needs confirmation, needs a preview, or is blocked outright. Grounded on
// the teacher's internal/analyzer risk/warning accumulation pattern (a
// Result struct built up in stages, "most restrictive wins" recursion over
// nested constructs) — generalized here from DDL algorithm classification
// into DML block/confirm/preview verdicts.
package dmlguard

import (
	"fmt"
	"math"
	"strings"

	"github.com/ppds-sdk/sqlengine/internal/sqlast"
)

// ProtectionLevel mirrors a Dataverse environment's protection setting.
type ProtectionLevel string

const (
	ProtectionDevelopment ProtectionLevel = "Development"
	ProtectionTest        ProtectionLevel = "Test"
	ProtectionProduction  ProtectionLevel = "Production"
)

// CrossEnvPolicy governs DML that reads from one environment and writes to
// another.
type CrossEnvPolicy string

const (
	CrossEnvAllow    CrossEnvPolicy = "Allow"
	CrossEnvPrompt   CrossEnvPolicy = "Prompt"
	CrossEnvReadOnly CrossEnvPolicy = "ReadOnly"
)

const defaultRowCap int64 = 10000

// Options carries the per-call knobs a caller supplies alongside the
// statement (§4.7 "DmlSafetyOptions").
type Options struct {
	IsConfirmed    bool
	IsDryRun       bool
	NoLimit        bool
	RowCapOverride int64 // 0 means "unset", falls back to defaultRowCap
}

// Settings carries the environment's standing DML policy
// ("QuerySafetySettings").
type Settings struct {
	PreventUpdateWithoutWhere bool
	PreventDeleteWithoutWhere bool
	CrossEnvPolicy            CrossEnvPolicy
}

// Verdict is the guard's decision (§4.7 "Result").
type Verdict struct {
	IsBlocked            bool
	BlockReason          string
	ErrorCode            string
	RequiresConfirmation bool
	RequiresPreview      bool
	RowCap               int64
	IsDryRun             bool
}

// severity ranks verdicts so recursion over BEGIN...END/IF bodies can keep
// the most restrictive one: blocked outranks confirm+preview, which
// outranks confirm alone, which outranks a clean pass.
func (v Verdict) severity() int {
	switch {
	case v.IsBlocked:
		return 3
	case v.RequiresConfirmation && v.RequiresPreview:
		return 2
	case v.RequiresConfirmation:
		return 1
	default:
		return 0
	}
}

// merge combines two verdicts evaluated over sibling or alternative
// statements (a Block's statement list, an IF's two branches) into the
// single most-restrictive outcome, carrying along whichever side set the
// tighter row cap.
func merge(a, b Verdict) Verdict {
	out := a
	if b.severity() > a.severity() {
		out = b
	} else if b.severity() == a.severity() {
		out.RequiresConfirmation = a.RequiresConfirmation || b.RequiresConfirmation
		out.RequiresPreview = a.RequiresPreview || b.RequiresPreview
	}
	if b.RowCap < out.RowCap {
		out.RowCap = b.RowCap
	}
	return out
}

// Evaluate runs the guard over stmt (§4.7 rules 1-3, 5). Cross-environment
// DML is handled by the separate EvaluateCrossEnvironment entry point (rule
// 4), since it needs both a source and a target environment.
func Evaluate(stmt sqlast.Statement, opts Options, settings Settings, level ProtectionLevel) Verdict {
	v := evaluateStatic(stmt, settings)

	// Rule 2: row cap and the baseline confirmation requirement.
	v.RowCap = rowCap(opts)
	v.RequiresConfirmation = v.RequiresConfirmation || !opts.IsConfirmed

	// Rule 3: protection-level overlay.
	switch {
	case level == ProtectionProduction && !opts.IsConfirmed:
		v.RequiresConfirmation = true
		v.RequiresPreview = true
	case level == ProtectionDevelopment && opts.IsConfirmed:
		v.RequiresConfirmation = false
	}

	// Rule 5: dry run plans but never executes; it does not relax or
	// tighten any of the above.
	v.IsDryRun = opts.IsDryRun
	return v
}

func rowCap(opts Options) int64 {
	if opts.NoLimit {
		return math.MaxInt64
	}
	if opts.RowCapOverride > 0 {
		return opts.RowCapOverride
	}
	return defaultRowCap
}

// evaluateStatic applies rule 1 only: the per-statement-shape checks, with
// BEGIN...END/IF/WHILE/TRY...CATCH bodies recursed and merged.
func evaluateStatic(stmt sqlast.Statement, settings Settings) Verdict {
	switch s := stmt.(type) {
	case *sqlast.Select:
		return Verdict{} // SELECT is never blocked

	case *sqlast.Insert:
		return Verdict{} // row-cap check only, applied uniformly in rule 2

	case *sqlast.Update:
		return missingWhereVerdict(s.Where != nil, settings.PreventUpdateWithoutWhere, s.Table, "UPDATE")

	case *sqlast.Delete:
		return missingWhereVerdict(s.Where != nil, settings.PreventDeleteWithoutWhere, s.Table, "DELETE")

	case *sqlast.Block:
		var v Verdict
		for _, inner := range s.Statements {
			v = merge(v, evaluateStatic(inner, settings))
		}
		return v

	case *sqlast.If:
		v := evaluateStatic(s.Then, settings)
		if s.Else != nil {
			v = merge(v, evaluateStatic(s.Else, settings))
		}
		return v

	case *sqlast.While:
		return evaluateStatic(s.Body, settings)

	case *sqlast.TryCatch:
		return merge(evaluateStatic(s.Try, settings), evaluateStatic(s.Catch, settings))

	default:
		return Verdict{} // DECLARE/SET carry no DML risk of their own
	}
}

func missingWhereVerdict(hasWhere bool, preventFlag bool, table, verb string) Verdict {
	if hasWhere {
		return Verdict{}
	}
	if preventFlag {
		return Verdict{
			IsBlocked:   true,
			BlockReason: fmt.Sprintf("%s without WHERE is not allowed. Use 'ppds truncate %s' for bulk deletion.", verb, table),
			ErrorCode:   "DML_NO_WHERE_CLAUSE",
		}
	}
	return Verdict{RequiresConfirmation: true}
}

// EvaluateCrossEnvironment is §4.7 rule 4's separate entry point for DML
// that reads from one environment and writes to another.
func EvaluateCrossEnvironment(stmt sqlast.Statement, settings Settings, targetLevel ProtectionLevel, sourceEnv, targetEnv string) Verdict {
	if _, ok := stmt.(*sqlast.Select); ok {
		return Verdict{}
	}

	switch settings.CrossEnvPolicy {
	case CrossEnvReadOnly:
		return Verdict{
			IsBlocked: true,
			BlockReason: fmt.Sprintf(
				"cross-environment DML from %s to %s is blocked by a ReadOnly policy", sourceEnv, targetEnv),
			ErrorCode: "DML_CROSS_ENV_READONLY",
		}
	case CrossEnvPrompt:
		return Verdict{RequiresConfirmation: true}
	case CrossEnvAllow:
		if targetLevel == ProtectionProduction {
			return Verdict{RequiresConfirmation: true}
		}
		return Verdict{}
	default:
		return Verdict{RequiresConfirmation: true}
	}
}

// normalizeEnvType exists so DetectProtectionLevel's comparison is
// case-insensitive against whatever casing Dataverse's WhoAmI/environment
// metadata response uses.
func normalizeEnvType(envType string) string {
	return strings.ToLower(strings.TrimSpace(envType))
}
