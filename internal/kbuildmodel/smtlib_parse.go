// SPDX-License-Identifier: MIT

package kbuildmodel

import (
	"fmt"
	"strings"
)

// ParseSMTLIB parses the small subset of SMT-LIB2 s-expressions this system
// actually emits and consumes: bare identifiers, "true"/"false", "(not X)",
// "(and X Y ...)", "(or X Y ...)", and "(= VAR LITERAL)". It is the
// deserialization half of the formula store's "store opaque strings at the
// boundary, parse on demand" design (spec.md §9).
func ParseSMTLIB(s string) (Formula, error) {
	toks := tokenize(s)
	if len(toks) == 0 {
		return True, nil
	}
	f, rest, err := parseExpr(toks)
	if err != nil {
		return Formula{}, err
	}
	if len(rest) != 0 {
		return Formula{}, fmt.Errorf("trailing tokens after formula: %v", rest)
	}
	return f, nil
}

func tokenize(s string) []string {
	var toks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		switch r {
		case '(', ')':
			flush()
			toks = append(toks, string(r))
		case ' ', '\t', '\n', '\r':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return toks
}

func parseExpr(toks []string) (Formula, []string, error) {
	if len(toks) == 0 {
		return Formula{}, nil, fmt.Errorf("unexpected end of formula")
	}

	head := toks[0]
	if head != "(" {
		return atomFormula(head), toks[1:], nil
	}

	rest := toks[1:]
	if len(rest) == 0 {
		return Formula{}, nil, fmt.Errorf("unterminated '('")
	}
	op := rest[0]
	rest = rest[1:]

	switch op {
	case "not":
		operand, rest2, err := parseExpr(rest)
		if err != nil {
			return Formula{}, nil, err
		}
		rest2, err = expect(rest2, ")")
		if err != nil {
			return Formula{}, nil, err
		}
		return Not(operand), rest2, nil
	case "and", "or":
		var operands []Formula
		for len(rest) > 0 && rest[0] != ")" {
			var f Formula
			var err error
			f, rest, err = parseExpr(rest)
			if err != nil {
				return Formula{}, nil, err
			}
			operands = append(operands, f)
		}
		rest, err := expect(rest, ")")
		if err != nil {
			return Formula{}, nil, err
		}
		if op == "and" {
			return And(operands...), rest, nil
		}
		return Or(operands...), rest, nil
	case "=":
		if len(rest) < 2 {
			return Formula{}, nil, fmt.Errorf("malformed '=' expression")
		}
		name, literal := rest[0], rest[1]
		rest = rest[2:]
		rest, err := expect(rest, ")")
		if err != nil {
			return Formula{}, nil, err
		}
		return Eq(name, literal), rest, nil
	default:
		return Formula{}, nil, fmt.Errorf("unsupported SMT-LIB2 operator %q", op)
	}
}

func atomFormula(tok string) Formula {
	switch tok {
	case "true":
		return True
	case "false":
		return Not(True)
	default:
		return Var(tok)
	}
}

func expect(toks []string, want string) ([]string, error) {
	if len(toks) == 0 || toks[0] != want {
		return nil, fmt.Errorf("expected %q", want)
	}
	return toks[1:], nil
}
