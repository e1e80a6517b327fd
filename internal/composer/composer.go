// SPDX-License-Identifier: MIT

// Package composer implements spec.md §4.5: building the full flat
// constraint list for one (compilation-unit-set, architecture) attempt
// out of Kbuild chain formulas, Kconfig clauses, the architecture
// profile, user constraints, and the CONFIG_BROKEN guard.
package composer

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/kbuildcfg/kbuildcfg/internal/archprofile"
	"github.com/kbuildcfg/kbuildcfg/internal/formulastore"
	"github.com/kbuildcfg/kbuildcfg/internal/kbuildmodel"
	"github.com/kbuildcfg/kbuildcfg/internal/kconfigextract"
	"github.com/kbuildcfg/kbuildcfg/internal/pathresolve"
)

// FormulaSource is the subset of formulastore.Store the composer needs:
// looking up a memoized key's parsed formula.
type FormulaSource interface {
	Formula(key kbuildmodel.Key) (kbuildmodel.Formula, error)
}

// AdHocConstraint is one line from the ad-hoc constraints file: NAME
// (positive) or !NAME (negative). Per spec.md §9's open question, the
// source's ad-hoc constraint accumulator is treated as a set everywhere,
// so duplicates collapse silently here too.
type AdHocConstraint struct {
	Name     string
	Positive bool
}

// Input gathers everything the composer needs for one attempt.
type Input struct {
	Store             FormulaSource
	CUs               []pathresolve.Resolved
	Extract           *kconfigextract.Extract // nil: types unknown
	Kconfig           formulastore.ClauseBundle
	AdHoc             []AdHocConstraint
	Defines           []string
	Undefines         []string
	ArchProfile       archprofile.Profile
	AllowConfigBroken bool
}

// Output is the composed constraint set plus the bookkeeping the solver
// driver (approximate mode) and the emitter need downstream.
type Output struct {
	Constraints []kbuildmodel.Formula

	// UserConstraintNames is the privileged name set from steps 4-5 (ad-hoc
	// file entries plus --define/--undefine), used by approximate mode's
	// unsat-core minimizer to identify immovable assumptions.
	UserConstraintNames map[string]bool

	// UserSpecifiedOptionNames is the same set, handed to the emitter so
	// has_def_nonbool options the user explicitly touched are still
	// rendered instead of skipped (spec.md §4.7).
	UserSpecifiedOptionNames map[string]bool
}

const brokenOption = "CONFIG_BROKEN"

// Compose builds the flat constraint list for in, following spec.md §4.5
// steps 1 through 7 in order.
func Compose(in Input) (Output, error) {
	out := Output{
		UserConstraintNames:      make(map[string]bool),
		UserSpecifiedOptionNames: make(map[string]bool),
	}

	// Step 1: Kbuild chain constraints, cumulative across CUs.
	var kbuildFreeVars []string
	for _, cu := range in.CUs {
		f, err := in.Store.Formula(cu.Key)
		if err != nil {
			return Output{}, err
		}
		out.Constraints = append(out.Constraints, f)
		kbuildFreeVars = f.FreeVars(kbuildFreeVars)

		for _, ancestor := range cu.Ancestors {
			af, err := in.Store.Formula(ancestor)
			if err != nil {
				return Output{}, err
			}
			out.Constraints = append(out.Constraints, af)
			kbuildFreeVars = af.FreeVars(kbuildFreeVars)
		}
	}

	// Step 2: variables referenced by Kbuild but absent from this arch's
	// Kconfig types cannot be set — negate them. Skipped entirely when
	// types are unknown.
	if in.Extract != nil {
		seen := make(map[string]bool, len(kbuildFreeVars))
		for _, v := range kbuildFreeVars {
			if seen[v] {
				continue
			}
			seen[v] = true
			if _, known := in.Extract.Types[v]; !known {
				out.Constraints = append(out.Constraints, kbuildmodel.Not(kbuildmodel.Var(v)))
			}
		}
	}

	// Step 3: every Kconfig clause from the selected bundle.
	out.Constraints = append(out.Constraints, in.Kconfig.AllClauses()...)

	// Step 4: ad-hoc file literals.
	for _, c := range in.AdHoc {
		if c.Positive {
			out.Constraints = append(out.Constraints, kbuildmodel.Var(c.Name))
		} else {
			out.Constraints = append(out.Constraints, kbuildmodel.Not(kbuildmodel.Var(c.Name)))
		}
		out.UserConstraintNames[c.Name] = true
		out.UserSpecifiedOptionNames[c.Name] = true
	}

	// Step 5: --define / --undefine.
	for _, name := range in.Defines {
		out.Constraints = append(out.Constraints, kbuildmodel.Var(name))
		out.UserConstraintNames[name] = true
		out.UserSpecifiedOptionNames[name] = true
	}
	for _, name := range in.Undefines {
		out.Constraints = append(out.Constraints, kbuildmodel.Not(kbuildmodel.Var(name)))
		out.UserConstraintNames[name] = true
		out.UserSpecifiedOptionNames[name] = true
	}

	// Step 6: architecture profile literals.
	out.Constraints = append(out.Constraints, in.ArchProfile.Literals()...)

	// Step 7: CONFIG_BROKEN guard.
	if !in.AllowConfigBroken {
		out.Constraints = append(out.Constraints, kbuildmodel.Not(kbuildmodel.Var(brokenOption)))
	}

	return out, nil
}

// LoadAdHocConstraints reads an ad-hoc constraints file: one token per
// line, "NAME" forces on, "!NAME" forces off, blank lines ignored. A
// missing file is not an error; it yields an empty constraint list.
func LoadAdHocConstraints(path string) ([]AdHocConstraint, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path) // #nosec G304 -- path is a caller-supplied CLI flag, not untrusted request input
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open ad-hoc constraints file %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	seen := make(map[string]bool)
	var out []AdHocConstraint
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		positive := true
		name := line
		if strings.HasPrefix(line, "!") {
			positive = false
			name = strings.TrimPrefix(line, "!")
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, AdHocConstraint{Name: name, Positive: positive})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan ad-hoc constraints file %s: %w", path, err)
	}
	return out, nil
}
