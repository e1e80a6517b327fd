// SPDX-License-Identifier: MIT

// Package solver implements spec.md §4.6: operating the SMT backend in
// unsat-core mode, with single-model, sample-N, and approximate-match
// minimization modes layered on top of one satisfiability primitive.
package solver

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/kbuildcfg/kbuildcfg/internal/cmdexec"
	"github.com/kbuildcfg/kbuildcfg/internal/kbuildmodel"
)

// SMTTool is the external SMT backend binary name (spec.md §1 treats the
// solver itself as an out-of-scope external collaborator).
const SMTTool = "z3"

// CheckResult is one satisfiability check's outcome.
type CheckResult struct {
	SAT       bool
	Model     *kbuildmodel.Model
	UnsatCore []kbuildmodel.Formula
}

// Backend runs one satisfiability check. Hard constraints are asserted
// unconditionally; when the check fails, the unsat core may name hard
// constraints and assumptions alike.
type Backend interface {
	Check(ctx context.Context, hard []kbuildmodel.Formula, assumptions []kbuildmodel.Formula, seed *int64) (CheckResult, error)
}

// Z3Backend drives the z3 SMT solver as a one-shot subprocess per check,
// matching the request/response subprocess idiom used for every other
// external tool this repository shells out to: a full SMT-LIB2 script on
// stdin, the result parsed back off stdout.
type Z3Backend struct {
	Runner cmdexec.Runner
}

// NewZ3Backend returns a Backend backed by the z3 binary found on PATH.
func NewZ3Backend(runner cmdexec.Runner) *Z3Backend {
	return &Z3Backend{Runner: runner}
}

func (b *Z3Backend) Check(ctx context.Context, hard []kbuildmodel.Formula, assumptions []kbuildmodel.Formula, seed *int64) (CheckResult, error) {
	script, labels := buildScript(hard, assumptions, seed)

	out, err := b.Runner.Run(ctx, SMTTool, []string{"-in"}, []byte(script))
	if err != nil {
		return CheckResult{}, fmt.Errorf("z3 check failed: %w", err)
	}

	return parseResponse(out, labels)
}

// buildScript renders a one-shot SMT-LIB2 script in which every hard
// constraint and every assumption is asserted under a unique :named label
// (h<i> and a<i>), so an UNSAT result's core can be mapped back to the
// original Formula.
func buildScript(hard, assumptions []kbuildmodel.Formula, seed *int64) (string, map[string]kbuildmodel.Formula) {
	var sb strings.Builder
	sb.WriteString("(set-option :produce-unsat-cores true)\n")
	if seed != nil {
		sb.WriteString(fmt.Sprintf("(set-option :random-seed %d)\n", *seed))
	}

	boolVars, stringVars := collectVarKinds(append(append([]kbuildmodel.Formula{}, hard...), assumptions...))
	for _, v := range boolVars {
		sb.WriteString(fmt.Sprintf("(declare-const %s Bool)\n", v))
	}
	for _, v := range stringVars {
		sb.WriteString(fmt.Sprintf("(declare-const %s String)\n", v))
	}

	labels := make(map[string]kbuildmodel.Formula, len(hard)+len(assumptions))
	for i, f := range hard {
		label := fmt.Sprintf("h%d", i)
		labels[label] = f
		sb.WriteString(fmt.Sprintf("(assert (! %s :named %s))\n", rewriteEq(f).SMTLIB(), label))
	}

	for i, f := range assumptions {
		label := fmt.Sprintf("a%d", i)
		labels[label] = f
		sb.WriteString(fmt.Sprintf("(assert (! %s :named %s))\n", rewriteEq(f).SMTLIB(), label))
	}

	sb.WriteString("(check-sat)\n")
	sb.WriteString("(get-model)\n")
	sb.WriteString("(get-unsat-core)\n")
	return sb.String(), labels
}

// rewriteEq quotes an Eq formula's literal as an SMT-LIB2 string constant;
// kbuildmodel.Formula.SMTLIB renders it bare since that form round-trips
// through the formula store's own cache untouched.
func rewriteEq(f kbuildmodel.Formula) kbuildmodel.Formula {
	switch f.Kind {
	case kbuildmodel.FormulaEq:
		return kbuildmodel.Eq(f.Var, strconv.Quote(f.Literal))
	case kbuildmodel.FormulaNot:
		if f.Operand != nil {
			inner := rewriteEq(*f.Operand)
			return kbuildmodel.Not(inner)
		}
		return f
	case kbuildmodel.FormulaAnd:
		return kbuildmodel.And(rewriteAll(f.Operands)...)
	case kbuildmodel.FormulaOr:
		return kbuildmodel.Or(rewriteAll(f.Operands)...)
	default:
		return f
	}
}

func rewriteAll(fs []kbuildmodel.Formula) []kbuildmodel.Formula {
	out := make([]kbuildmodel.Formula, len(fs))
	for i, f := range fs {
		out[i] = rewriteEq(f)
	}
	return out
}

// collectVarKinds partitions every free variable across formulas into
// Boolean-sorted (bare var/not occurrences) and String-sorted (Eq
// left-hand sides) declarations, deduplicated and declaration-ordered.
func collectVarKinds(formulas []kbuildmodel.Formula) (boolVars, stringVars []string) {
	boolSeen := make(map[string]bool)
	stringSeen := make(map[string]bool)
	var walk func(f kbuildmodel.Formula)
	walk = func(f kbuildmodel.Formula) {
		switch f.Kind {
		case kbuildmodel.FormulaVar:
			if !boolSeen[f.Var] {
				boolSeen[f.Var] = true
				boolVars = append(boolVars, f.Var)
			}
		case kbuildmodel.FormulaEq:
			if !stringSeen[f.Var] {
				stringSeen[f.Var] = true
				stringVars = append(stringVars, f.Var)
			}
		case kbuildmodel.FormulaNot:
			if f.Operand != nil {
				walk(*f.Operand)
			}
		case kbuildmodel.FormulaAnd, kbuildmodel.FormulaOr:
			for _, o := range f.Operands {
				walk(o)
			}
		}
	}
	for _, f := range formulas {
		walk(f)
	}
	return boolVars, stringVars
}

// parseResponse reads z3's (check-sat)/(get-model)/(get-unsat-core) reply
// in order: sat/unsat, then either the model s-expression or the core's
// label list.
func parseResponse(out []byte, labels map[string]kbuildmodel.Formula) (CheckResult, error) {
	text := strings.TrimSpace(string(out))
	lines := strings.SplitN(text, "\n", 2)
	if len(lines) == 0 {
		return CheckResult{}, fmt.Errorf("empty z3 response")
	}
	status := strings.TrimSpace(lines[0])

	switch status {
	case "sat":
		model, err := parseModel(lines[1])
		if err != nil {
			return CheckResult{}, err
		}
		return CheckResult{SAT: true, Model: model}, nil
	case "unsat":
		var rest string
		if len(lines) > 1 {
			rest = lines[1]
		}
		core := parseUnsatCore(rest, labels)
		return CheckResult{SAT: false, UnsatCore: core}, nil
	default:
		return CheckResult{}, fmt.Errorf("unexpected z3 status %q", status)
	}
}

func parseModel(s string) (*kbuildmodel.Model, error) {
	m := kbuildmodel.NewModel()
	toks := tokenizeSExpr(s)
	i := 0
	for i < len(toks) {
		if toks[i] != "define-fun" {
			i++
			continue
		}
		// define-fun NAME () SORT VALUE; tokenizeSExpr drops the "()",
		// leaving define-fun, NAME, SORT, VALUE.
		if i+3 >= len(toks) {
			break
		}
		name := toks[i+1]
		sort := toks[i+2]
		value := toks[i+3]
		switch sort {
		case "Bool":
			m.Set(name, kbuildmodel.BoolValue(value == "true"))
		case "String":
			m.Set(name, kbuildmodel.StringValue(strings.Trim(value, "\"")))
		}
		i += 4
	}
	return m, nil
}

func parseUnsatCore(s string, labels map[string]kbuildmodel.Formula) []kbuildmodel.Formula {
	var core []kbuildmodel.Formula
	for _, tok := range tokenizeSExpr(s) {
		if f, ok := labels[tok]; ok {
			core = append(core, f)
		}
	}
	return core
}

// tokenizeSExpr splits an s-expression into its atoms, treating
// parentheses as separators (they are not emitted as tokens) and quoted
// strings as single tokens.
func tokenizeSExpr(s string) []string {
	var toks []string
	var buf bytes.Buffer
	inQuote := false
	flush := func() {
		if buf.Len() > 0 {
			toks = append(toks, buf.String())
			buf.Reset()
		}
	}
	for _, r := range s {
		switch {
		case inQuote:
			buf.WriteRune(r)
			if r == '"' {
				inQuote = false
			}
		case r == '"':
			flush()
			buf.WriteRune(r)
			inQuote = true
		case r == '(' || r == ')':
			flush()
		case r == ' ' || r == '\n' || r == '\t' || r == '\r':
			flush()
		default:
			buf.WriteRune(r)
		}
	}
	flush()
	return toks
}
