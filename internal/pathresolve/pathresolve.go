// SPDX-License-Identifier: MIT

// Package pathresolve implements spec.md §4.2: mapping a user-supplied
// compilation-unit string to exactly one canonical Kbuild key, and
// enumerating its ancestor-directory keys.
package pathresolve

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/kbuildcfg/kbuildcfg/internal/kbuildmodel"
)

// KeyStore is the subset of formulastore.Store this package needs: key
// membership and enumeration over every memoized Kbuild key.
type KeyStore interface {
	Has(key kbuildmodel.Key) bool
	AllKeys() []kbuildmodel.Key
}

// Resolved is one CU's resolution result.
type Resolved struct {
	CU        kbuildmodel.CU
	Key       kbuildmodel.Key
	Ancestors []kbuildmodel.Key
}

// Resolve maps a user-supplied CU path to its canonical Kbuild key and
// ancestor chain, per spec.md §4.2's four-step contract.
func Resolve(store KeyStore, logger *slog.Logger, cwd, rawPath string) (Resolved, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Step 1: force extension to .o.
	cu, changed := kbuildmodel.Normalize(rawPath)
	if changed {
		logger.Warn("forced compilation-unit path to .o extension", "input", rawPath, "normalized", string(cu))
	}
	p := string(cu)

	// Step 2: direct key hit.
	direct := kbuildmodel.Key(p)
	if store.Has(direct) {
		return Resolved{CU: cu, Key: direct, Ancestors: direct.AncestorChain()}, nil
	}

	// Step 3: canonical-path matching across every stored key.
	wantCanon, err := canonicalize(p, cwd)
	if err != nil {
		return Resolved{}, fmt.Errorf("failed to canonicalize %s: %w", p, err)
	}

	var matches []kbuildmodel.Key
	for _, key := range store.AllKeys() {
		keyCanon, err := canonicalize(string(key), cwd)
		if err != nil {
			continue // unresolvable store key; not a valid match candidate
		}
		if keyCanon == wantCanon {
			matches = append(matches, key)
		}
	}

	switch len(matches) {
	case 0:
		return Resolved{}, kbuildmodel.NewExitError(kbuildmodel.ExitNoFormulaForCU,
			"no Kbuild key matches compilation unit %s", p)
	case 1:
		return Resolved{CU: cu, Key: matches[0], Ancestors: matches[0].AncestorChain()}, nil
	default:
		return Resolved{}, kbuildmodel.NewExitError(kbuildmodel.ExitAmbiguousCU,
			"ambiguous compilation unit %s matches multiple Kbuild keys: %s", p, joinKeys(matches))
	}
}

// canonicalize produces an absolute-then-cwd-relative form of key,
// preserving a trailing slash (spec.md §4.2 step 3).
func canonicalize(key, cwd string) (string, error) {
	trailingSlash := strings.HasSuffix(key, "/")

	abs := key
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(cwd, abs)
	}
	abs = filepath.Clean(abs)

	rel, err := filepath.Rel(cwd, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if trailingSlash && !strings.HasSuffix(rel, "/") {
		rel += "/"
	}
	return rel, nil
}

func joinKeys(keys []kbuildmodel.Key) string {
	strs := make([]string, len(keys))
	for i, k := range keys {
		strs[i] = string(k)
	}
	return strings.Join(strs, ", ")
}
