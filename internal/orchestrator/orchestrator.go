// SPDX-License-Identifier: MIT

// Package orchestrator implements spec.md §4.8: the top-level per-
// architecture try-loop, on-demand Kconfig bundle generation, and the
// single-run / report-all / sample termination policies.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/kbuildcfg/kbuildcfg/internal/archprofile"
	"github.com/kbuildcfg/kbuildcfg/internal/atomicfile"
	"github.com/kbuildcfg/kbuildcfg/internal/cmdexec"
	"github.com/kbuildcfg/kbuildcfg/internal/composer"
	"github.com/kbuildcfg/kbuildcfg/internal/emitter"
	"github.com/kbuildcfg/kbuildcfg/internal/formulastore"
	"github.com/kbuildcfg/kbuildcfg/internal/kbuildmodel"
	"github.com/kbuildcfg/kbuildcfg/internal/kconfigextract"
	"github.com/kbuildcfg/kbuildcfg/internal/pathresolve"
	"github.com/kbuildcfg/kbuildcfg/internal/solver"
)

const (
	kconfigExtractTool = "kconfig_extract"
	kclauseTool        = "kclause"
)

// Config is the full set of orchestrator inputs, one per spec.md §6 CLI
// flag (minus flags cmd/kbuildcfg handles entirely itself, such as
// --version).
type Config struct {
	FormulasRoot         string
	Srctree              string
	KbuildPath           string // override; default <FormulasRoot>/kmax
	KconfigBundlePath    string // explicit override; non-empty selects the null-arch mode
	KconfigExtractPath   string // override for the (sole) selected architecture
	AdHocConstraintsPath string
	CUs                  []string
	Archs                []string
	TryAll               bool
	ReportAll            bool
	OutputPath           string
	ReferenceConfigPath  string
	ModulesMode          bool
	ShowUnsatCore        bool
	Defines              []string
	Undefines            []string
	AllowConfigBroken    bool
	AllowNonVisibles     bool
	SampleN              int
	SamplePrefix         string
	RandomSeed           *int64
}

// Result is what the orchestrator reports back to cmd/kbuildcfg for
// stdout/exit-code handling.
type Result struct {
	ChosenArch  string   // single-run / sample mode
	SATArches   []string // report-all mode
	SampleFiles []string // sample mode
}

// Orchestrator drives one invocation end to end.
type Orchestrator struct {
	Config Config
	Store  *formulastore.Store
	Solver *solver.Driver
	Runner cmdexec.Runner
	Logger *slog.Logger
	Cwd    string
}

// New returns an Orchestrator ready to Run.
func New(cfg Config, store *formulastore.Store, drv *solver.Driver, runner cmdexec.Runner, logger *slog.Logger, cwd string) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{Config: cfg, Store: store, Solver: drv, Runner: runner, Logger: logger, Cwd: cwd}
}

// Run executes the full control flow and returns the outcome, or an error;
// failures with a stable exit code are (or wrap) a *kbuildmodel.ExitError.
func (o *Orchestrator) Run(ctx context.Context) (result *Result, err error) {
	if err := o.validate(); err != nil {
		return nil, err
	}

	kbuildPath := o.Config.KbuildPath
	if kbuildPath == "" {
		kbuildPath = filepath.Join(o.Config.FormulasRoot, "kmax")
	}
	if err := o.Store.LoadKbuildFormulas(kbuildPath); err != nil {
		return nil, err
	}
	// Every newly regenerated Kbuild formula is memoized in-process only;
	// write it back to the cache file on the way out regardless of
	// outcome, so a failed or UNSAT run still pays forward its work.
	defer func() {
		if persistErr := o.Store.Persist(kbuildPath); persistErr != nil && err == nil {
			err = persistErr
		}
	}()

	resolved, err := o.resolveCUs()
	if err != nil {
		return nil, err
	}

	for _, r := range resolved {
		if err := o.Store.EnsureFor(ctx, o.Config.Srctree, r.Key, r.Ancestors); err != nil {
			return nil, err
		}
	}

	adHoc, err := composer.LoadAdHocConstraints(o.Config.AdHocConstraintsPath)
	if err != nil {
		return nil, err
	}

	var referenceAssumptions []kbuildmodel.Formula
	if o.Config.ReferenceConfigPath != "" {
		referenceAssumptions, err = loadReferenceAssumptions(o.Config.ReferenceConfigPath)
		if err != nil {
			return nil, err
		}
	}

	archs, err := o.buildArchList(resolved)
	if err != nil {
		return nil, err
	}

	if o.Config.ReportAll {
		return o.runReportAll(ctx, archs, resolved, adHoc, referenceAssumptions)
	}

	for _, arch := range archs {
		extract, bundle, err := o.prepareArch(ctx, arch)
		if err != nil {
			return nil, err
		}

		in := composer.Input{
			Store:             o.Store,
			CUs:               resolved,
			Extract:           extract,
			Kconfig:           bundle,
			AdHoc:             adHoc,
			Defines:           o.Config.Defines,
			Undefines:         o.Config.Undefines,
			ArchProfile:       archProfileFor(arch, o.Config.KconfigBundlePath != ""),
			AllowConfigBroken: o.Config.AllowConfigBroken,
		}
		composed, err := composer.Compose(in)
		if err != nil {
			return nil, err
		}
		if extract != nil && o.Config.AllowNonVisibles {
			extract.AllowNonVisibles()
		}

		emitOpts := emitter.Options{
			Extract:                  extract,
			UserSpecifiedOptionNames: composed.UserSpecifiedOptionNames,
			ModulesMode:              o.Config.ModulesMode,
		}

		switch {
		case o.Config.SampleN > 0:
			models, err := o.Solver.SampleN(ctx, composed.Constraints, o.Config.SampleN, o.Config.RandomSeed)
			if err != nil {
				// A first-sample UNSAT is fatal within sample mode (spec.md
				// §4.6): there is no "try the next arch" fallback once a
				// target architecture has been committed to for sampling.
				return nil, err
			}
			files, err := o.writeSamples(models, emitOpts)
			if err != nil {
				return nil, err
			}
			return &Result{ChosenArch: arch, SampleFiles: files}, nil

		case o.Config.ReferenceConfigPath != "":
			model, err := o.Solver.Approximate(ctx, composed.Constraints, referenceAssumptions, composed.UserConstraintNames)
			if err != nil {
				return nil, err
			}
			if err := o.writeOutput(model, emitOpts); err != nil {
				return nil, err
			}
			return &Result{ChosenArch: arch}, nil

		default:
			model, core, err := o.Solver.Single(ctx, composed.Constraints)
			if err != nil {
				return nil, err // includes ExitConfigBroken: fatal immediately
			}
			if model == nil {
				if o.Config.ShowUnsatCore {
					o.logUnsatCore(arch, core)
				}
				continue
			}
			if err := o.writeOutput(model, emitOpts); err != nil {
				return nil, err
			}
			return &Result{ChosenArch: arch}, nil
		}
	}

	return nil, kbuildmodel.NewExitError(kbuildmodel.ExitNoSatisfyingConfig, "no architecture produced a satisfying configuration")
}

// runReportAll checks every candidate architecture in turn and returns
// the union of architectures that produced a satisfying configuration,
// each written to its own <output>.<arch> file (output defaulting to
// .config). Unlike the
// single-run policy, UNSAT on one architecture never short-circuits the
// others; every architecture still gets its own on-demand Kconfig bundle
// regeneration and solver check. The core stays single-threaded and
// synchronous here exactly as it does for the single-run and --sample
// policies (spec.md §5): no state crosses architecture iterations, so a
// sequential loop never needs to guard against two iterations touching
// the same on-disk Kconfig bundle (the um/um32 aliasing case).
func (o *Orchestrator) runReportAll(ctx context.Context, archs []string, resolved []pathresolve.Resolved, adHoc []composer.AdHocConstraint, referenceAssumptions []kbuildmodel.Formula) (*Result, error) {
	var satArches []string

	for _, arch := range archs {
		extract, bundle, err := o.prepareArch(ctx, arch)
		if err != nil {
			return nil, err
		}

		in := composer.Input{
			Store:             o.Store,
			CUs:               resolved,
			Extract:           extract,
			Kconfig:           bundle,
			AdHoc:             adHoc,
			Defines:           o.Config.Defines,
			Undefines:         o.Config.Undefines,
			ArchProfile:       archProfileFor(arch, o.Config.KconfigBundlePath != ""),
			AllowConfigBroken: o.Config.AllowConfigBroken,
		}
		composed, err := composer.Compose(in)
		if err != nil {
			return nil, err
		}
		if extract != nil && o.Config.AllowNonVisibles {
			extract.AllowNonVisibles()
		}
		emitOpts := emitter.Options{
			Extract:                  extract,
			UserSpecifiedOptionNames: composed.UserSpecifiedOptionNames,
			ModulesMode:              o.Config.ModulesMode,
		}

		var model *kbuildmodel.Model
		if o.Config.ReferenceConfigPath != "" {
			model, err = o.Solver.Approximate(ctx, composed.Constraints, referenceAssumptions, composed.UserConstraintNames)
			if err != nil {
				return nil, err
			}
		} else {
			var core []kbuildmodel.Formula
			model, core, err = o.Solver.Single(ctx, composed.Constraints)
			if err != nil {
				return nil, err // includes ExitConfigBroken: fatal immediately
			}
			if model == nil {
				if o.Config.ShowUnsatCore {
					o.logUnsatCore(arch, core)
				}
				continue
			}
		}

		if err := o.writeOutputNamed(model, emitOpts, arch); err != nil {
			return nil, err
		}
		satArches = append(satArches, arch)
	}

	if len(satArches) == 0 {
		return nil, kbuildmodel.NewExitError(kbuildmodel.ExitNoSatisfyingConfig, "no architecture produced a satisfying configuration")
	}
	return &Result{SATArches: satArches}, nil
}

func (o *Orchestrator) validate() error {
	cfg := o.Config
	if cfg.KconfigBundlePath != "" && len(cfg.Archs) > 0 {
		return kbuildmodel.NewExitError(kbuildmodel.ExitInvalidFlags, "an explicit Kconfig bundle file cannot be combined with --arch")
	}
	if cfg.ReferenceConfigPath != "" && cfg.SampleN > 0 {
		return kbuildmodel.NewExitError(kbuildmodel.ExitInvalidFlags, "approximate mode and --sample are mutually exclusive")
	}
	if cfg.SampleN > 0 && cfg.SampleN < 2 {
		return kbuildmodel.NewExitError(kbuildmodel.ExitInvalidFlags, "--sample requires N >= 2")
	}
	if cfg.ReportAll && cfg.SampleN > 0 {
		return kbuildmodel.NewExitError(kbuildmodel.ExitInvalidFlags, "--report-all and --sample are mutually exclusive")
	}
	return nil
}

func (o *Orchestrator) resolveCUs() ([]pathresolve.Resolved, error) {
	out := make([]pathresolve.Resolved, 0, len(o.Config.CUs))
	for _, raw := range o.Config.CUs {
		r, err := pathresolve.Resolve(o.Store, o.Logger, o.Cwd, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// buildArchList implements spec.md §4.8's four-step architecture list
// construction.
func (o *Orchestrator) buildArchList(resolved []pathresolve.Resolved) ([]string, error) {
	cfg := o.Config

	if cfg.KconfigBundlePath != "" {
		return []string{""}, nil
	}

	var archs []string
	tryAll := cfg.TryAll
	if len(cfg.Archs) == 0 {
		archs = append(archs, archprofile.PriorityList...)
		tryAll = true
	} else {
		archs = append(archs, cfg.Archs...)
		if tryAll {
			present := make(map[string]bool, len(archs))
			for _, a := range archs {
				present[a] = true
			}
			for _, a := range archprofile.Architectures {
				if !present[a] {
					archs = append(archs, a)
				}
			}
		}
	}

	if (cfg.SampleN > 0 || cfg.ReferenceConfigPath != "") && len(resolved) == 0 && len(archs) > 1 {
		return nil, kbuildmodel.NewExitError(kbuildmodel.ExitMultipleArchsNoCU,
			"sample/approximate mode requires a single target architecture when no compilation unit is given")
	}

	for _, r := range resolved {
		if !strings.HasPrefix(string(r.CU), "arch/") {
			continue
		}
		narrowed := archprofile.CandidatesForCU(r.CU, archs)
		if len(narrowed) == 0 {
			return nil, kbuildmodel.NewExitError(kbuildmodel.ExitCUArchNotCandidate,
				"compilation unit %s has no matching architecture among %s", r.CU, strings.Join(archs, ", "))
		}
		archs = narrowed
	}

	return archs, nil
}

func archProfileFor(arch string, explicitBundle bool) archprofile.Profile {
	if explicitBundle {
		return archprofile.Profile{}
	}
	return archprofile.For(arch)
}

// prepareArch ensures the Kconfig bundle (and, best-effort, the extract)
// exist for arch, regenerating them on demand, then loads both.
func (o *Orchestrator) prepareArch(ctx context.Context, arch string) (*kconfigextract.Extract, formulastore.ClauseBundle, error) {
	if err := o.ensureKconfigBundle(ctx, arch); err != nil {
		return nil, nil, err
	}

	extractPath := o.Config.KconfigExtractPath
	if extractPath == "" {
		extractPath = archprofile.KconfigExtractPath(o.Config.FormulasRoot, arch)
	}
	extract, err := kconfigextract.Load(extractPath)
	if err != nil {
		return nil, nil, err
	}

	bundle, err := o.Store.LoadKconfigFor(o.Config.FormulasRoot, arch, o.Config.KconfigBundlePath)
	if err != nil {
		return nil, nil, err
	}
	return extract, bundle, nil
}

// ensureKconfigBundle regenerates the per-architecture Kconfig extract and
// clause bundle files via external tools when absent, writing through
// *.pending temp files renamed on success (spec.md §4.8, §5). The core is
// single-threaded and synchronous (spec.md §5): callers never run two
// architectures' regeneration concurrently, so no locking is needed here,
// even though "um"/"um32" alias to the same underlying "x86_64"/"i386"
// Kconfig directory (archprofile.kconfigDir).
func (o *Orchestrator) ensureKconfigBundle(ctx context.Context, arch string) error {
	if o.Config.KconfigBundlePath != "" {
		if !fileExists(o.Config.KconfigBundlePath) {
			return kbuildmodel.NewExitError(kbuildmodel.ExitKconfigBundleNotFound, "Kconfig bundle file not found: %s", o.Config.KconfigBundlePath)
		}
		return nil
	}

	bundlePath := archprofile.KconfigPath(o.Config.FormulasRoot, arch)

	extractPath := o.Config.KconfigExtractPath
	if extractPath == "" {
		extractPath = archprofile.KconfigExtractPath(o.Config.FormulasRoot, arch)
	}
	if !fileExists(extractPath) {
		out, err := o.Runner.Run(ctx, kconfigExtractTool, []string{"--arch=" + arch}, nil)
		if err != nil {
			return fmt.Errorf("failed to regenerate Kconfig extract for %s: %w", arch, err)
		}
		if err := writePending(extractPath, out); err != nil {
			return err
		}
	}

	if !fileExists(bundlePath) {
		out, err := o.Runner.Run(ctx, kclauseTool, []string{"--arch=" + arch, "--extract=" + extractPath}, nil)
		if err != nil {
			return fmt.Errorf("failed to regenerate Kconfig bundle for %s: %w", arch, err)
		}
		if err := writePending(bundlePath, out); err != nil {
			return err
		}
	}

	if !fileExists(bundlePath) {
		return kbuildmodel.NewExitError(kbuildmodel.ExitNoKconfigBundles, "no Kconfig bundle available for architecture %s", arch)
	}
	return nil
}

func writePending(finalPath string, data []byte) error {
	pending, err := atomicfile.WritePending(finalPath, data, 0o644)
	if err != nil {
		return fmt.Errorf("failed to stage %s: %w", finalPath, err)
	}
	if err := atomicfile.Commit(pending, finalPath); err != nil {
		return fmt.Errorf("failed to commit %s: %w", finalPath, err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (o *Orchestrator) writeOutput(model *kbuildmodel.Model, opts emitter.Options) error {
	var sb strings.Builder
	if err := emitter.Emit(&sb, model, opts, o.Logger); err != nil {
		return err
	}
	out := o.Config.OutputPath
	if out == "" {
		out = ".config"
	}
	if err := atomicfile.Write(out, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	return nil
}

// writeOutputNamed writes model to <OutputPath-or-".config">.<arch>, the
// per-architecture naming report-all mode uses so several satisfied
// architectures don't clobber one another's output file.
func (o *Orchestrator) writeOutputNamed(model *kbuildmodel.Model, opts emitter.Options, arch string) error {
	var sb strings.Builder
	if err := emitter.Emit(&sb, model, opts, o.Logger); err != nil {
		return err
	}
	base := o.Config.OutputPath
	if base == "" {
		base = ".config"
	}
	out := base + "." + arch
	if err := atomicfile.Write(out, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	return nil
}

func (o *Orchestrator) writeSamples(models []*kbuildmodel.Model, opts emitter.Options) ([]string, error) {
	prefix := o.Config.SamplePrefix
	if prefix == "" {
		prefix = "sample"
	}
	files := make([]string, 0, len(models))
	for i, m := range models {
		var sb strings.Builder
		if err := emitter.Emit(&sb, m, opts, o.Logger); err != nil {
			return nil, err
		}
		path := fmt.Sprintf("%s%d", prefix, i+1)
		if err := atomicfile.Write(path, []byte(sb.String()), 0o644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", path, err)
		}
		files = append(files, path)
	}
	return files, nil
}

func (o *Orchestrator) logUnsatCore(arch string, core []kbuildmodel.Formula) {
	terms := make([]string, len(core))
	for i, f := range core {
		terms[i] = f.SMTLIB()
	}
	o.Logger.Warn("architecture unsatisfiable", "arch", arch, "unsat_core", strings.Join(terms, ", "))
}

func loadReferenceAssumptions(path string) ([]kbuildmodel.Formula, error) {
	f, err := os.Open(path) // #nosec G304 -- path is a caller-supplied CLI flag
	if err != nil {
		return nil, fmt.Errorf("failed to open reference config %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	literals, err := emitter.ParseReferenceConfig(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse reference config %s: %w", path, err)
	}
	return emitter.AsAssumptions(literals), nil
}
