// SPDX-License-Identifier: MIT

package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kbuildcfg/kbuildcfg/internal/archprofile"
	"github.com/kbuildcfg/kbuildcfg/internal/formulastore"
	"github.com/kbuildcfg/kbuildcfg/internal/kbuildmodel"
	"github.com/kbuildcfg/kbuildcfg/internal/pathresolve"
	"github.com/kbuildcfg/kbuildcfg/internal/solver"
)

// unusedRunner fails the test if invoked; every test below pre-populates
// whatever on-disk state the orchestrator would otherwise regenerate via
// an external tool, so no test should ever reach it.
type unusedRunner struct{ t *testing.T }

func (r unusedRunner) Run(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error) {
	r.t.Fatalf("unexpected external tool invocation: %s %v", name, args)
	return nil, nil
}

// fakeBackend is a scripted solver.Backend whose satFn decides
// satisfiability from the hard constraint list handed to Check.
type fakeBackend struct {
	satFn func(hard []kbuildmodel.Formula) bool
}

func (b fakeBackend) Check(ctx context.Context, hard []kbuildmodel.Formula, assumptions []kbuildmodel.Formula, seed *int64) (solver.CheckResult, error) {
	if b.satFn(hard) {
		return solver.CheckResult{SAT: true, Model: kbuildmodel.NewModel()}, nil
	}
	return solver.CheckResult{SAT: false, UnsatCore: hard}, nil
}

func alwaysSAT(hard []kbuildmodel.Formula) bool { return true }
func alwaysUNSAT(hard []kbuildmodel.Formula) bool { return false }

func writeKbuildCache(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	data, err := json.Marshal(entries)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeKconfigBundle(t *testing.T, formulasRoot, arch string, entries map[string][]string) {
	t.Helper()
	path := archprofile.KconfigPath(formulasRoot, arch)
	data, err := json.Marshal(entries)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeKconfigExtract(t *testing.T, formulasRoot, arch, content string) {
	t.Helper()
	path := archprofile.KconfigExtractPath(formulasRoot, arch)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestOrchestrator(t *testing.T, backend solver.Backend, cfg Config) *Orchestrator {
	t.Helper()
	store := formulastore.New(nil, unusedRunner{t})
	drv := solver.NewDriver(backend, nil)
	return New(cfg, store, drv, unusedRunner{t}, nil, t.TempDir())
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	var exitErr *kbuildmodel.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("error %v does not wrap *kbuildmodel.ExitError", err)
	}
	return exitErr.Code
}

func TestValidateRejectsConflictingFlags(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"explicit bundle with arch", Config{KconfigBundlePath: "x", Archs: []string{"x86_64"}}},
		{"approximate with sample", Config{ReferenceConfigPath: "ref", SampleN: 3}},
		{"sample below 2", Config{SampleN: 1}},
		{"report-all with sample", Config{ReportAll: true, SampleN: 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newTestOrchestrator(t, fakeBackend{satFn: alwaysSAT}, tt.cfg)
			if _, err := o.Run(context.Background()); err == nil {
				t.Errorf("Run() with %+v: expected a validation error", tt.cfg)
			} else if code := exitCode(t, err); code != kbuildmodel.ExitInvalidFlags {
				t.Errorf("exit code = %d, want ExitInvalidFlags", code)
			}
		})
	}
}

func TestBuildArchListDefaultsToPriorityList(t *testing.T) {
	o := newTestOrchestrator(t, fakeBackend{satFn: alwaysSAT}, Config{})
	archs, err := o.buildArchList(nil)
	if err != nil {
		t.Fatalf("buildArchList() error = %v", err)
	}
	if len(archs) != len(archprofile.PriorityList) || archs[0] != archprofile.PriorityList[0] {
		t.Errorf("buildArchList() = %v, want %v", archs, archprofile.PriorityList)
	}
}

func TestBuildArchListExplicitArchWithoutTryAll(t *testing.T) {
	o := newTestOrchestrator(t, fakeBackend{satFn: alwaysSAT}, Config{Archs: []string{"powerpc"}})
	archs, err := o.buildArchList(nil)
	if err != nil {
		t.Fatalf("buildArchList() error = %v", err)
	}
	if len(archs) != 1 || archs[0] != "powerpc" {
		t.Errorf("buildArchList() = %v, want [powerpc]", archs)
	}
}

func TestBuildArchListExplicitBundleForcesNullArch(t *testing.T) {
	o := newTestOrchestrator(t, fakeBackend{satFn: alwaysSAT}, Config{KconfigBundlePath: "/explicit/bundle"})
	archs, err := o.buildArchList(nil)
	if err != nil {
		t.Fatalf("buildArchList() error = %v", err)
	}
	if len(archs) != 1 || archs[0] != "" {
		t.Errorf("buildArchList() = %v, want one empty-string arch", archs)
	}
}

func TestBuildArchListSampleModeRequiresSingleArchWithoutCU(t *testing.T) {
	o := newTestOrchestrator(t, fakeBackend{satFn: alwaysSAT}, Config{SampleN: 2})
	_, err := o.buildArchList(nil)
	if err == nil {
		t.Fatal("buildArchList() expected an error")
	}
	if code := exitCode(t, err); code != kbuildmodel.ExitMultipleArchsNoCU {
		t.Errorf("exit code = %d, want ExitMultipleArchsNoCU", code)
	}
}

func archDirResolved(cu string) []pathresolve.Resolved {
	return []pathresolve.Resolved{{CU: kbuildmodel.CU(cu), Key: kbuildmodel.Key(cu)}}
}

func TestBuildArchListNarrowsByArchDirCU(t *testing.T) {
	o := newTestOrchestrator(t, fakeBackend{satFn: alwaysSAT}, Config{Archs: []string{"x86_64", "powerpc"}})
	archs, err := o.buildArchList(archDirResolved("arch/x86/kernel/foo.o"))
	if err != nil {
		t.Fatalf("buildArchList() error = %v", err)
	}
	if len(archs) != 1 || archs[0] != "x86_64" {
		t.Errorf("buildArchList() = %v, want [x86_64]", archs)
	}
}

func TestBuildArchListEmptyIntersectionIsFatal(t *testing.T) {
	o := newTestOrchestrator(t, fakeBackend{satFn: alwaysSAT}, Config{Archs: []string{"powerpc"}})
	_, err := o.buildArchList(archDirResolved("arch/x86/kernel/foo.o"))
	if err == nil {
		t.Fatal("buildArchList() expected an error")
	}
	if code := exitCode(t, err); code != kbuildmodel.ExitCUArchNotCandidate {
		t.Errorf("exit code = %d, want ExitCUArchNotCandidate", code)
	}
}

func TestRunSingleArchSAT(t *testing.T) {
	root := t.TempDir()
	writeKconfigBundle(t, root, "x86_64", map[string][]string{"CONFIG_FOO": {"CONFIG_FOO"}})
	writeKconfigExtract(t, root, "x86_64", "config CONFIG_FOO bool\nprompt CONFIG_FOO\n")
	writeKbuildCache(t, filepath.Join(root, "kmax"), map[string]string{"kernel/kcmp.o": "true"})

	cfg := Config{
		FormulasRoot: root,
		CUs:          []string{"kernel/kcmp.o"},
		Archs:        []string{"x86_64"},
		OutputPath:   filepath.Join(t.TempDir(), ".config"),
	}
	o := newTestOrchestrator(t, fakeBackend{satFn: alwaysSAT}, cfg)

	result, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.ChosenArch != "x86_64" {
		t.Errorf("ChosenArch = %q, want x86_64", result.ChosenArch)
	}
	if _, err := os.Stat(cfg.OutputPath); err != nil {
		t.Errorf("expected output file at %s: %v", cfg.OutputPath, err)
	}
}

func TestRunConfigBrokenIsFatal(t *testing.T) {
	root := t.TempDir()
	writeKconfigBundle(t, root, "x86_64", map[string][]string{})
	writeKconfigExtract(t, root, "x86_64", "")
	writeKbuildCache(t, filepath.Join(root, "kmax"), map[string]string{"kernel/kcmp.o": "true"})

	cfg := Config{
		FormulasRoot: root,
		CUs:          []string{"kernel/kcmp.o"},
		Archs:        []string{"x86_64"},
		OutputPath:   filepath.Join(t.TempDir(), ".config"),
	}
	// With AllowConfigBroken left false, composer step 7 always appends
	// ¬CONFIG_BROKEN; an UNSAT backend that echoes the hard constraints
	// back as its core naturally contains it.
	o := newTestOrchestrator(t, fakeBackend{satFn: alwaysUNSAT}, cfg)

	_, err := o.Run(context.Background())
	if err == nil {
		t.Fatal("Run() expected an error")
	}
	if code := exitCode(t, err); code != kbuildmodel.ExitConfigBroken {
		t.Errorf("exit code = %d, want ExitConfigBroken", code)
	}
}

func TestRunUnsatMovesToNextArch(t *testing.T) {
	root := t.TempDir()
	for _, arch := range []string{"x86_64", "powerpc"} {
		writeKconfigBundle(t, root, arch, map[string][]string{})
		writeKconfigExtract(t, root, arch, "")
	}
	writeKbuildCache(t, filepath.Join(root, "kmax"), map[string]string{"kernel/kcmp.o": "true"})

	cfg := Config{
		FormulasRoot:      root,
		CUs:               []string{"kernel/kcmp.o"},
		Archs:             []string{"x86_64", "powerpc"},
		AllowConfigBroken: true, // suppresses the CONFIG_BROKEN guard so UNSAT is plain, non-fatal UNSAT
		OutputPath:        filepath.Join(t.TempDir(), ".config"),
	}
	calls := 0
	backend := fakeBackend{satFn: func(hard []kbuildmodel.Formula) bool {
		calls++
		return calls > 1 // first arch UNSAT, second arch SAT
	}}
	o := newTestOrchestrator(t, backend, cfg)

	result, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.ChosenArch != "powerpc" {
		t.Errorf("ChosenArch = %q, want powerpc (x86_64 should have been skipped as UNSAT)", result.ChosenArch)
	}
}

func TestRunReportAllCollectsEverySatisfyingArch(t *testing.T) {
	root := t.TempDir()
	for _, arch := range []string{"x86_64", "i386"} {
		writeKconfigBundle(t, root, arch, map[string][]string{})
		writeKconfigExtract(t, root, arch, "")
	}
	writeKbuildCache(t, filepath.Join(root, "kmax"), map[string]string{"kernel/kcmp.o": "true"})

	cfg := Config{
		FormulasRoot: root,
		CUs:          []string{"kernel/kcmp.o"},
		Archs:        []string{"x86_64", "i386"},
		ReportAll:    true,
		OutputPath:   filepath.Join(t.TempDir(), ".config"),
	}
	o := newTestOrchestrator(t, fakeBackend{satFn: alwaysSAT}, cfg)

	result, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.SATArches) != 2 {
		t.Fatalf("SATArches = %v, want 2 entries", result.SATArches)
	}
	for _, arch := range []string{"x86_64", "i386"} {
		path := cfg.OutputPath + "." + arch
		if _, err := os.Stat(path); err != nil {
			t.Errorf("expected per-arch output file %s: %v", path, err)
		}
	}
}

func TestRunReportAllAllUnsatIsNoSatisfyingConfig(t *testing.T) {
	root := t.TempDir()
	for _, arch := range []string{"x86_64", "i386"} {
		writeKconfigBundle(t, root, arch, map[string][]string{})
		writeKconfigExtract(t, root, arch, "")
	}
	writeKbuildCache(t, filepath.Join(root, "kmax"), map[string]string{"kernel/kcmp.o": "true"})

	cfg := Config{
		FormulasRoot:      root,
		CUs:               []string{"kernel/kcmp.o"},
		Archs:             []string{"x86_64", "i386"},
		ReportAll:         true,
		AllowConfigBroken: true,
		OutputPath:        filepath.Join(t.TempDir(), ".config"),
	}
	o := newTestOrchestrator(t, fakeBackend{satFn: alwaysUNSAT}, cfg)

	_, err := o.Run(context.Background())
	if err == nil {
		t.Fatal("Run() expected an error")
	}
	if code := exitCode(t, err); code != kbuildmodel.ExitNoSatisfyingConfig {
		t.Errorf("exit code = %d, want ExitNoSatisfyingConfig", code)
	}
}

func TestRunSampleNWritesOneFilePerSample(t *testing.T) {
	root := t.TempDir()
	writeKconfigBundle(t, root, "x86_64", map[string][]string{})
	writeKconfigExtract(t, root, "x86_64", "")
	writeKbuildCache(t, filepath.Join(root, "kmax"), map[string]string{"kernel/kcmp.o": "true"})

	outDir := t.TempDir()
	cfg := Config{
		FormulasRoot: root,
		CUs:          []string{"kernel/kcmp.o"},
		Archs:        []string{"x86_64"},
		SampleN:      3,
		SamplePrefix: filepath.Join(outDir, "sample"),
	}
	o := newTestOrchestrator(t, fakeBackend{satFn: alwaysSAT}, cfg)

	result, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.SampleFiles) != 3 {
		t.Fatalf("SampleFiles = %v, want 3 entries", result.SampleFiles)
	}
	for _, f := range result.SampleFiles {
		if _, err := os.Stat(f); err != nil {
			t.Errorf("expected sample file %s: %v", f, err)
		}
	}
}
