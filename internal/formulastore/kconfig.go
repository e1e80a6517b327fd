// SPDX-License-Identifier: MIT

package formulastore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/kbuildcfg/kbuildcfg/internal/archprofile"
	"github.com/kbuildcfg/kbuildcfg/internal/kbuildmodel"
)

// ErrKconfigBundleNotFound is returned by LoadKconfigFor when the bundle
// file for the requested architecture does not exist.
var ErrKconfigBundleNotFound = errors.New("Kconfig bundle file not found")

// ClauseBundle maps option name to its set of parsed Kconfig clauses
// (spec.md §3 "Kconfig clause bundle").
type ClauseBundle map[string][]kbuildmodel.Formula

// kconfigBundleFile is the on-disk schema: option name to a list of raw
// SMT-LIB2 clause strings (spec.md §6).
type kconfigBundleFile map[string][]string

// LoadKconfigFor resolves the per-architecture Kconfig bundle path (or
// uses explicitPath if non-empty, for an explicit --kconfig-bundle
// override) and parses every clause with the SMT-LIB2 parser.
func (s *Store) LoadKconfigFor(formulasRoot, arch, explicitPath string) (ClauseBundle, error) {
	path := explicitPath
	if path == "" {
		path = archprofile.KconfigPath(formulasRoot, arch)
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path derived from formulas-root/arch or explicit flag
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrKconfigBundleNotFound, path)
		}
		return nil, fmt.Errorf("failed to read Kconfig bundle %s: %w", path, err)
	}

	var raw kconfigBundleFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse Kconfig bundle %s: %w", path, err)
	}

	bundle := make(ClauseBundle, len(raw))
	for option, clauses := range raw {
		parsed := make([]kbuildmodel.Formula, 0, len(clauses))
		for _, c := range clauses {
			f, err := kbuildmodel.ParseSMTLIB(c)
			if err != nil {
				return nil, fmt.Errorf("failed to parse Kconfig clause for %s in %s: %w", option, path, err)
			}
			parsed = append(parsed, f)
		}
		bundle[option] = parsed
	}
	return bundle, nil
}

// AllClauses flattens bundle into one conjunction-ready list, in
// deterministic option-name order (spec.md §4.5 step 3 iterates every
// clause of every option; order doesn't affect satisfiability, but stable
// ordering keeps --show-unsat-core output reproducible).
func (b ClauseBundle) AllClauses() []kbuildmodel.Formula {
	options := make([]string, 0, len(b))
	for opt := range b {
		options = append(options, opt)
	}
	sort.Strings(options)

	var out []kbuildmodel.Formula
	for _, opt := range options {
		out = append(out, b[opt]...)
	}
	return out
}
