// SPDX-License-Identifier: MIT

package solver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kbuildcfg/kbuildcfg/internal/kbuildmodel"
)

const brokenOption = "CONFIG_BROKEN"

// Driver operates a Backend through the three modes of spec.md §4.6.
type Driver struct {
	Backend Backend
	Logger  *slog.Logger
}

// NewDriver returns a Driver over backend, defaulting to slog.Default()
// when logger is nil.
func NewDriver(backend Backend, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{Backend: backend, Logger: logger}
}

// ErrConfigBroken is returned by Single when ¬CONFIG_BROKEN itself
// appears in the unsat core: the CU is inherently broken for this
// architecture, not merely under-constrained.
var ErrConfigBroken = fmt.Errorf("%s appears in unsat core: compilation unit is inherently broken", brokenOption)

// Single checks satisfiability of every hard constraint and extracts one
// model on SAT (spec.md §4.6 "Single").
func (d *Driver) Single(ctx context.Context, constraints []kbuildmodel.Formula) (*kbuildmodel.Model, []kbuildmodel.Formula, error) {
	res, err := d.Backend.Check(ctx, constraints, nil, nil)
	if err != nil {
		return nil, nil, err
	}
	if res.SAT {
		return res.Model, nil, nil
	}
	if coreContainsNegated(res.UnsatCore, brokenOption) {
		return nil, res.UnsatCore, kbuildmodel.NewExitError(kbuildmodel.ExitConfigBroken, "%w", ErrConfigBroken)
	}
	return nil, res.UnsatCore, nil
}

// SampleN issues n independent satisfiability checks, returning one model
// per SAT result in order (spec.md §4.6 "Sample N"). n must be >= 2; the
// random seed, when supplied, is pinned once for every check in the run.
func (d *Driver) SampleN(ctx context.Context, constraints []kbuildmodel.Formula, n int, seed *int64) ([]*kbuildmodel.Model, error) {
	if n < 2 {
		return nil, fmt.Errorf("sample count must be >= 2, got %d", n)
	}
	models := make([]*kbuildmodel.Model, 0, n)
	for i := 0; i < n; i++ {
		res, err := d.Backend.Check(ctx, constraints, nil, seed)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i+1, err)
		}
		if !res.SAT {
			return nil, kbuildmodel.NewExitError(kbuildmodel.ExitNoSatisfyingConfig, "sample %d: constraints unsatisfiable", i+1)
		}
		models = append(models, res.Model)
	}
	return models, nil
}

// Approximate finds the model nearest to referenceAssumptions that still
// satisfies the hard constraints, dropping movable assumptions out of the
// unsat core one round at a time until SAT or no further progress is
// possible (spec.md §4.6 "Approximate").
//
// userConstraintNames names the privileged set from the constraint
// composer's steps 4-5: an assumption whose name is in this set is
// immovable and is never dropped, even if the core names it.
func (d *Driver) Approximate(ctx context.Context, constraints []kbuildmodel.Formula, referenceAssumptions []kbuildmodel.Formula, userConstraintNames map[string]bool) (*kbuildmodel.Model, error) {
	assumptions := append([]kbuildmodel.Formula{}, referenceAssumptions...)

	for {
		res, err := d.Backend.Check(ctx, constraints, assumptions, nil)
		if err != nil {
			return nil, err
		}
		if res.SAT {
			return res.Model, nil
		}

		movable, immovable := partitionCore(res.UnsatCore, userConstraintNames)
		if len(movable) == 0 {
			return nil, kbuildmodel.NewExitError(kbuildmodel.ExitNoSatisfyingConfig,
				"approximate match failed: unsat core contains only immovable user constraints (%s)", namesOf(immovable))
		}

		next := dropAssumptions(assumptions, movable)
		if len(next) == len(assumptions) {
			return nil, kbuildmodel.NewExitError(kbuildmodel.ExitNoSatisfyingConfig,
				"approximate match failed: no progress dropping assumptions from unsat core")
		}
		d.Logger.Debug("approximate match dropping assumptions", "dropped", namesOf(movable), "remaining", len(next))
		assumptions = next
	}
}

// partitionCore splits core into the assumptions that may be dropped and
// those that are immovable because their underlying variable name is in
// userConstraintNames.
func partitionCore(core []kbuildmodel.Formula, userConstraintNames map[string]bool) (movable, immovable []kbuildmodel.Formula) {
	for _, f := range core {
		if userConstraintNames[assumptionName(f)] {
			immovable = append(immovable, f)
		} else {
			movable = append(movable, f)
		}
	}
	return movable, immovable
}

// dropAssumptions returns assumptions with every formula whose SMT-LIB2
// rendering matches one in drop removed.
func dropAssumptions(assumptions, drop []kbuildmodel.Formula) []kbuildmodel.Formula {
	dropSet := make(map[string]bool, len(drop))
	for _, f := range drop {
		dropSet[f.SMTLIB()] = true
	}
	out := make([]kbuildmodel.Formula, 0, len(assumptions))
	for _, f := range assumptions {
		if !dropSet[f.SMTLIB()] {
			out = append(out, f)
		}
	}
	return out
}

// assumptionName extracts the underlying CONFIG_* variable name from a
// (possibly negated) bare-variable assumption literal.
func assumptionName(f kbuildmodel.Formula) string {
	if f.Kind == kbuildmodel.FormulaNot && f.Operand != nil {
		return assumptionName(*f.Operand)
	}
	return f.Var
}

func namesOf(fs []kbuildmodel.Formula) string {
	names := make([]string, len(fs))
	for i, f := range fs {
		names[i] = assumptionName(f)
	}
	return strings.Join(names, ", ")
}

// coreContainsNegated reports whether core contains the literal ¬name.
func coreContainsNegated(core []kbuildmodel.Formula, name string) bool {
	for _, f := range core {
		if f.Kind == kbuildmodel.FormulaNot && f.Operand != nil && f.Operand.Kind == kbuildmodel.FormulaVar && f.Operand.Var == name {
			return true
		}
	}
	return false
}
