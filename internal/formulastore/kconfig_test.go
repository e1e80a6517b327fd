// SPDX-License-Identifier: MIT

package formulastore

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kbuildcfg/kbuildcfg/internal/kbuildmodel"
)

func TestLoadKconfigForParsesClauses(t *testing.T) {
	dir := t.TempDir()
	bundleDir := filepath.Join(dir, "kclause", "x86_64")
	if err := os.MkdirAll(bundleDir, 0o755); err != nil {
		t.Fatal(err)
	}
	data, _ := json.Marshal(map[string][]string{
		"CONFIG_X86": {"true", "(not CONFIG_X86_32)"},
	})
	if err := os.WriteFile(filepath.Join(bundleDir, "kclause"), data, 0o644); err != nil {
		t.Fatal(err)
	}

	s := New(nil, &fakeRunner{})
	bundle, err := s.LoadKconfigFor(dir, "x86_64", "")
	if err != nil {
		t.Fatalf("LoadKconfigFor() error = %v", err)
	}
	if len(bundle["CONFIG_X86"]) != 2 {
		t.Errorf("expected 2 clauses, got %d", len(bundle["CONFIG_X86"]))
	}
}

func TestLoadKconfigForMissingBundle(t *testing.T) {
	s := New(nil, &fakeRunner{})
	_, err := s.LoadKconfigFor(t.TempDir(), "x86_64", "")
	if !errors.Is(err, ErrKconfigBundleNotFound) {
		t.Errorf("expected ErrKconfigBundleNotFound, got %v", err)
	}
}

func TestAllClausesIsDeterministicallyOrdered(t *testing.T) {
	bundle := ClauseBundle{
		"CONFIG_Z": {kbuildmodel.True},
		"CONFIG_A": {kbuildmodel.True},
	}
	clauses := bundle.AllClauses()
	if len(clauses) != 2 {
		t.Fatalf("expected 2 clauses, got %d", len(clauses))
	}
	// Re-running must produce the same order (sorted by option name).
	clauses2 := bundle.AllClauses()
	for i := range clauses {
		if clauses[i].SMTLIB() != clauses2[i].SMTLIB() {
			t.Errorf("AllClauses() not deterministic at index %d", i)
		}
	}
}
