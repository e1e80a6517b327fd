// SPDX-License-Identifier: MIT

// Package formulastore implements spec.md §4.1: an on-disk/in-memory
// cache of Kbuild presence-condition formulas and Kconfig clause bundles,
// keyed by Kbuild key and option name, materialized on demand via the
// external Kbuild extractor when a requested entry is absent.
//
// Formula-store entries are created on first access, memoized for the
// process lifetime, and persisted back to the cache file before exit
// (spec.md §3 "Lifecycles").
package formulastore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kbuildcfg/kbuildcfg/internal/atomicfile"
	"github.com/kbuildcfg/kbuildcfg/internal/cmdexec"
	"github.com/kbuildcfg/kbuildcfg/internal/kbuildmodel"
)

// KbuildExtractorTool is the external collaborator named in spec.md §1
// that turns a Kbuild/Makefile fragment into presence-condition formulas.
const KbuildExtractorTool = "kmax"

// Store serves Kbuild presence-condition formulas and Kconfig clause
// bundles, regenerating missing Kbuild entries via KbuildExtractorTool.
type Store struct {
	kbuild map[kbuildmodel.Key]string // opaque SMT-LIB2 strings, parsed lazily
	dirty  bool

	logger *slog.Logger
	runner cmdexec.Runner
}

// New returns an empty Store. Use LoadKbuildFormulas to seed it from a
// cache file.
func New(logger *slog.Logger, runner cmdexec.Runner) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kbuild: make(map[kbuildmodel.Key]string), logger: logger, runner: runner}
}

// kbuildCacheFile is the on-disk schema for the Kbuild formula cache: a
// flat key→SMT-LIB2-string mapping (spec.md §6 "Input files").
type kbuildCacheFile map[string]string

// LoadKbuildFormulas loads a persisted key→formula mapping from path. A
// missing file is not an error: it leaves the store empty, per spec.md
// §4.1 ("If absent, return an empty mapping").
func (s *Store) LoadKbuildFormulas(path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- path is the formulas-root cache file, admin-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read Kbuild formula cache %s: %w", path, err)
	}

	var raw kbuildCacheFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse Kbuild formula cache %s: %w", path, err)
	}
	for k, v := range raw {
		s.kbuild[kbuildmodel.Key(k)] = v
	}
	return nil
}

// Has reports whether key already has a memoized formula.
func (s *Store) Has(key kbuildmodel.Key) bool {
	_, ok := s.kbuild[key]
	return ok
}

// Formula returns key's parsed formula, or kbuildmodel.True if key has no
// entry (an absent ancestor is semantically unconstrained, spec.md §3).
func (s *Store) Formula(key kbuildmodel.Key) (kbuildmodel.Formula, error) {
	raw, ok := s.kbuild[key]
	if !ok {
		return kbuildmodel.True, nil
	}
	f, err := kbuildmodel.ParseSMTLIB(raw)
	if err != nil {
		return kbuildmodel.Formula{}, fmt.Errorf("failed to parse Kbuild formula for %s: %w", key, err)
	}
	return f, nil
}

// EnsureFor guarantees that cuKey and every key in ancestors has an entry
// in the store, regenerating missing entries from srctree via the Kbuild
// extractor (spec.md §4.1). Keys whose directory has neither a Kbuild nor
// a Makefile are logged as a warning and left unconstrained (true).
func (s *Store) EnsureFor(ctx context.Context, srctree string, cuKey kbuildmodel.Key, ancestors []kbuildmodel.Key) error {
	needed := append([]kbuildmodel.Key{cuKey}, ancestors...)

	regeneratedDirs := make(map[string]bool)
	for _, key := range needed {
		if s.Has(key) {
			continue
		}
		dir := dirOf(key)
		if regeneratedDirs[dir] {
			continue
		}
		regeneratedDirs[dir] = true

		if err := s.regenerateDir(ctx, srctree, dir); err != nil {
			return err
		}
	}

	if !s.Has(cuKey) {
		return kbuildmodel.NewExitError(kbuildmodel.ExitNoFormulaForCU,
			"no Kbuild formula found for %s after regeneration", cuKey)
	}
	return nil
}

// dirOf returns the directory a key belongs to: itself (sans trailing
// slash) if key is already a directory key, otherwise its parent.
func dirOf(key kbuildmodel.Key) string {
	s := string(key)
	if key.IsDir() {
		return s[:len(s)-1]
	}
	return filepath.Dir(s)
}

// regenerateDir invokes the Kbuild extractor over dir and merges its
// output into the store, if dir has a Kbuild or Makefile file at all.
func (s *Store) regenerateDir(ctx context.Context, srctree, dir string) error {
	kbuildPath := filepath.Join(srctree, dir, "Kbuild")
	makefilePath := filepath.Join(srctree, dir, "Makefile")

	if !fileExists(kbuildPath) && !fileExists(makefilePath) {
		s.logger.Warn("no Kbuild or Makefile found; treating as unconstrained", "dir", dir)
		return nil
	}

	args := []string{fmt.Sprintf("--srctree=%s", srctree), fmt.Sprintf("--src=%s", dir)}
	out, err := s.runner.Run(ctx, KbuildExtractorTool, args, nil)
	if err != nil {
		return fmt.Errorf("%s failed for %s: %w", KbuildExtractorTool, dir, err)
	}

	var raw kbuildCacheFile
	if err := json.Unmarshal(out, &raw); err != nil {
		return fmt.Errorf("failed to parse %s output for %s: %w", KbuildExtractorTool, dir, err)
	}
	for k, v := range raw {
		s.kbuild[kbuildmodel.Key(k)] = v
	}
	s.dirty = true
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Persist writes the store back to path if it has been mutated since
// load, using the atomic temp-file-then-rename protocol (spec.md §5).
func (s *Store) Persist(path string) error {
	if !s.dirty {
		return nil
	}
	raw := make(kbuildCacheFile, len(s.kbuild))
	for k, v := range s.kbuild {
		raw[string(k)] = v
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal Kbuild formula cache: %w", err)
	}
	if err := atomicfile.Write(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to persist Kbuild formula cache to %s: %w", path, err)
	}
	s.dirty = false
	return nil
}

// AllKeys returns every key currently memoized, for --view-kbuild and
// path-resolver candidate enumeration.
func (s *Store) AllKeys() []kbuildmodel.Key {
	keys := make([]kbuildmodel.Key, 0, len(s.kbuild))
	for k := range s.kbuild {
		keys = append(keys, k)
	}
	return keys
}
