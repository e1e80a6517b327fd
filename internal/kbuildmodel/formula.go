// SPDX-License-Identifier: MIT

package kbuildmodel

import "fmt"

// FormulaKind tags the variant held by a Formula node, per spec.md §9's
// design note that a tagged-variant AST ({var, not, and, or, eq(var,
// literal)}) suffices in place of the source's dynamically typed tree.
type FormulaKind int

const (
	FormulaTrue FormulaKind = iota
	FormulaVar
	FormulaNot
	FormulaAnd
	FormulaOr
	FormulaEq
)

// Formula is a propositional formula over CONFIG_* and selected non-Boolean
// symbols (e.g. BITS=32). It is the parsed counterpart of the opaque
// SMT-LIB2 strings the formula store serves at its boundary. Kbuild
// formulas are parsed when looked up through the store; Kconfig clauses
// are parsed when their bundle is loaded.
type Formula struct {
	Kind     FormulaKind
	Var      string    // FormulaVar, FormulaEq
	Literal  string    // FormulaEq: the right-hand-side literal, e.g. "32"
	Operands []Formula // FormulaAnd, FormulaOr
	Operand  *Formula  // FormulaNot
}

// True is the formula that places no constraint on any model.
var True = Formula{Kind: FormulaTrue}

// Var returns a bare Boolean-variable formula.
func Var(name string) Formula { return Formula{Kind: FormulaVar, Var: name} }

// Not negates f.
func Not(f Formula) Formula { return Formula{Kind: FormulaNot, Operand: &f} }

// And conjoins operands. A single operand or zero operands collapse to
// that operand or True, respectively, so callers don't need to special-case
// short lists.
func And(operands ...Formula) Formula {
	switch len(operands) {
	case 0:
		return True
	case 1:
		return operands[0]
	default:
		return Formula{Kind: FormulaAnd, Operands: operands}
	}
}

// Or disjoins operands.
func Or(operands ...Formula) Formula {
	switch len(operands) {
	case 0:
		return True
	case 1:
		return operands[0]
	default:
		return Formula{Kind: FormulaOr, Operands: operands}
	}
}

// Eq asserts that variable name equals literal, e.g. BITS=32.
func Eq(name, literal string) Formula {
	return Formula{Kind: FormulaEq, Var: name, Literal: literal}
}

// FreeVars appends every Boolean variable occurring in f to out and returns
// the extended slice. Eq nodes contribute their variable name too, since
// the composer (spec.md §4.5 step 2) must know every symbol a Kbuild
// formula references regardless of its kind.
func (f Formula) FreeVars(out []string) []string {
	switch f.Kind {
	case FormulaVar, FormulaEq:
		return append(out, f.Var)
	case FormulaNot:
		if f.Operand != nil {
			return f.Operand.FreeVars(out)
		}
		return out
	case FormulaAnd, FormulaOr:
		for _, o := range f.Operands {
			out = o.FreeVars(out)
		}
		return out
	default:
		return out
	}
}

// SMTLIB renders f as an SMT-LIB2 term.
func (f Formula) SMTLIB() string {
	switch f.Kind {
	case FormulaTrue:
		return "true"
	case FormulaVar:
		return f.Var
	case FormulaNot:
		if f.Operand == nil {
			return "true"
		}
		return fmt.Sprintf("(not %s)", f.Operand.SMTLIB())
	case FormulaAnd:
		return joinTerms("and", f.Operands)
	case FormulaOr:
		return joinTerms("or", f.Operands)
	case FormulaEq:
		return fmt.Sprintf("(= %s %s)", f.Var, f.Literal)
	default:
		return "true"
	}
}

func joinTerms(op string, operands []Formula) string {
	s := "(" + op
	for _, o := range operands {
		s += " " + o.SMTLIB()
	}
	return s + ")"
}
