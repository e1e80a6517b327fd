// SPDX-License-Identifier: MIT

// Package emitter implements spec.md §4.7: rendering a solved model to
// ".config" syntax, and the inverse operation the solver driver's
// approximate mode needs — reading a reference ".config" back into
// assumption literals.
package emitter

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/kbuildcfg/kbuildcfg/internal/archprofile"
	"github.com/kbuildcfg/kbuildcfg/internal/kbuildmodel"
	"github.com/kbuildcfg/kbuildcfg/internal/kconfigextract"
)

var configNamePattern = regexp.MustCompile(`^CONFIG_[A-Za-z0-9_]+$`)

// Options controls how Emit renders a model.
type Options struct {
	// Extract carries option types, visibility, and has-non-Boolean-default
	// information. Nil means every CONFIG_* type is unknown.
	Extract *kconfigextract.Extract

	// UserSpecifiedOptionNames is the constraint composer's privileged set
	// (spec.md §4.5 steps 4-5): a has_def_nonbool option in this set is
	// still rendered instead of left to the Kconfig default.
	UserSpecifiedOptionNames map[string]bool

	// ModulesMode renders tristate true assignments as "=m" instead of
	// "=y".
	ModulesMode bool
}

// Emit writes m's CONFIG_* assignments to w in the model's own iteration
// order, following spec.md §4.7's per-entry rendering table.
func Emit(w io.Writer, m *kbuildmodel.Model, opts Options, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	for _, name := range m.Names() {
		if !configNamePattern.MatchString(name) {
			continue
		}
		if opts.Extract != nil && opts.Extract.Visible != nil && !opts.Extract.Visible[name] {
			continue
		}

		v, _ := m.Get(name)
		var line string
		var skip bool

		if v.Kind == kbuildmodel.ValueBool && v.Bool {
			line, skip = renderTrue(name, opts, logger)
		} else {
			line, skip = renderFalse(name, opts, logger)
		}
		if skip {
			continue
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	return nil
}

func renderTrue(name string, opts Options, logger *slog.Logger) (line string, skip bool) {
	if opts.Extract == nil {
		return name + "=y", false
	}

	if opts.Extract.HasDefNonBool[name] && !opts.UserSpecifiedOptionNames[name] {
		return "", true
	}

	typ, known := opts.Extract.Types[name]
	if !known {
		if archprofile.IsArchDefiningOption(name) {
			return name + "=y", false
		}
		logger.Warn("skipping option unknown to this architecture", "option", name)
		return "", true
	}

	switch typ {
	case kconfigextract.TypeBool:
		return name + "=y", false
	case kconfigextract.TypeTristate:
		if opts.ModulesMode {
			return name + "=m", false
		}
		return name + "=y", false
	case kconfigextract.TypeString:
		return name + "=", false
	case kconfigextract.TypeNumber:
		return name + "=0", false
	case kconfigextract.TypeHex:
		return name + "=0x0", false
	default:
		logger.Warn("skipping option with unrecognized type", "option", name, "type", typ)
		return "", true
	}
}

func renderFalse(name string, opts Options, logger *slog.Logger) (line string, skip bool) {
	if opts.Extract == nil {
		return fmt.Sprintf("# %s is not set", name), false
	}
	if _, known := opts.Extract.Types[name]; known {
		return fmt.Sprintf("# %s is not set", name), false
	}
	if archprofile.IsArchDefiningOption(name) {
		return fmt.Sprintf("# %s is not set", name), false
	}
	logger.Warn("skipping option unknown to this architecture", "option", name)
	return "", true
}

// ReferenceLiteral is one assumption extracted from a reference .config
// file, for the solver driver's approximate mode.
type ReferenceLiteral struct {
	Name     string
	Positive bool
}

// ParseReferenceConfig reads a .config file and extracts its literals per
// spec.md §4.6: "CONFIG_X=y" or "CONFIG_X=m" become +CONFIG_X, and
// "# CONFIG_X is not set" becomes -CONFIG_X. Every other line is ignored.
func ParseReferenceConfig(r io.Reader) ([]ReferenceLiteral, error) {
	var out []ReferenceLiteral
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if name, ok := strings.CutPrefix(line, "# "); ok {
			if rest, ok := strings.CutSuffix(name, " is not set"); ok && configNamePattern.MatchString(rest) {
				out = append(out, ReferenceLiteral{Name: rest, Positive: false})
			}
			continue
		}

		name, value, found := strings.Cut(line, "=")
		if !found || !configNamePattern.MatchString(name) {
			continue
		}
		if value == "y" || value == "m" {
			out = append(out, ReferenceLiteral{Name: name, Positive: true})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan reference config: %w", err)
	}
	return out, nil
}

// AsAssumptions renders reference literals as Formula assumptions for
// solver.Driver.Approximate.
func AsAssumptions(literals []ReferenceLiteral) []kbuildmodel.Formula {
	out := make([]kbuildmodel.Formula, len(literals))
	for i, l := range literals {
		if l.Positive {
			out[i] = kbuildmodel.Var(l.Name)
		} else {
			out[i] = kbuildmodel.Not(kbuildmodel.Var(l.Name))
		}
	}
	return out
}
