// SPDX-License-Identifier: MIT

// Command kbuildcfg synthesizes a satisfying kernel ".config" for one or
// more compilation units, composing Kbuild presence conditions, Kconfig
// clauses, and an architecture profile into a single constraint problem
// handed to an SMT backend.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/kbuildcfg/kbuildcfg/internal/archprofile"
	"github.com/kbuildcfg/kbuildcfg/internal/cmdexec"
	"github.com/kbuildcfg/kbuildcfg/internal/defaults"
	"github.com/kbuildcfg/kbuildcfg/internal/formulastore"
	"github.com/kbuildcfg/kbuildcfg/internal/kbuildmodel"
	"github.com/kbuildcfg/kbuildcfg/internal/menu"
	"github.com/kbuildcfg/kbuildcfg/internal/orchestrator"
	"github.com/kbuildcfg/kbuildcfg/internal/pathresolve"
	"github.com/kbuildcfg/kbuildcfg/internal/solver"
)

// Version information (set via ldflags during build).
var (
	Version   = "dev"
	GitCommit = "none"
	BuildDate = "unknown"
)

const (
	exitSuccess = kbuildmodel.ExitSuccess
	exitError   = 1 // fallback for errors that carry no *ExitError
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(codeFor(err))
	}
	os.Exit(exitSuccess)
}

// codeFor maps err to the stable process exit code it carries: an
// *ExitError's own code, ExitSubprocessFailure for a *cmdexec.ToolError,
// and exitError for anything else.
func codeFor(err error) int {
	var exitErr *kbuildmodel.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	var toolErr *cmdexec.ToolError
	if errors.As(err, &toolErr) {
		return kbuildmodel.ExitSubprocessFailure
	}
	return exitError
}

// run is the main entry point, extracted for testability.
func run(args []string) error {
	if len(args) == 0 {
		return runHelp()
	}

	switch args[0] {
	case "help", "--help", "-h":
		return runHelp()
	case "version", "--version":
		return runVersion()
	case "wizard":
		return runWizard(args[1:])
	case "cache":
		return runCache(args[1:])
	default:
		return runSolve(args)
	}
}

func runHelp() error {
	fmt.Printf(`kbuildcfg v%s

USAGE:
    kbuildcfg [CU...] [FLAGS]
    kbuildcfg wizard
    kbuildcfg cache stat <formulas-root>
    kbuildcfg version

Given zero or more compilation-unit paths, synthesizes a kernel .config
satisfying the Kbuild presence conditions, Kconfig clauses, and one
architecture's profile.

FLAGS:
    --formulas-root PATH     Root of the memoized formula cache (required)
    --srctree PATH           Kernel source tree, for on-demand regeneration
    --kbuild-path PATH       Override the Kbuild formula cache file
    --kconfig-bundle PATH    Explicit Kconfig bundle file (cannot be combined with --arch)
    --kconfig-extract PATH   Explicit Kconfig extract file
    --ad-hoc PATH            Ad-hoc constraints file
    --arch TAG               Target architecture (repeatable)
    --all                    Also try every architecture not named by --arch
    --report-all             Check every candidate architecture, not just the first SAT
    --output PATH            Output .config path (default: .config)
    --reference-config PATH  Approximate-match a reference .config
    --modules                Render tristate options as "=m" instead of "=y"
    --show-unsat-core        Log the unsat core of every UNSAT architecture
    --define NAME             Force NAME on (repeatable)
    --undefine NAME           Force NAME off (repeatable)
    --allow-config-broken    Do not forbid CONFIG_BROKEN
    --allow-non-visibles     Emit options Kconfig marks non-visible
    --view-kbuild            Print each CU's Kbuild chain formulas and exit
    --json                   With --view-kbuild, emit structured JSON
    --sample N               Emit N independent satisfying configurations
    --sample-prefix PREFIX   Output file prefix for --sample (default: sample)
    --random-seed N          Pin the solver's random seed
    --config PATH            Defaults file (default: kbuildcfg.yaml if present)
    --verbose, -v            Log at debug level

EXIT CODES:
    0 success, 3 no formula for CU, 4 ambiguous CU, 5 view-kbuild without CU,
    6 Kconfig bundle not found, 7 no Kconfig bundles available, 8 multiple
    archs without a target CU, 9 CU's arch not a candidate, 10 CONFIG_BROKEN,
    11 no satisfying configuration, 12 invalid flags, 13 subprocess failure.
`, Version)
	return nil
}

func runVersion() error {
	fmt.Printf("kbuildcfg\n")
	fmt.Printf("  Version:    %s\n", Version)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
	fmt.Printf("  Built:      %s\n", BuildDate)
	return nil
}

// flagSet is the parsed result of runSolve's manual flag scan.
type flagSet struct {
	cus                  []string
	formulasRoot         string
	srctree              string
	kbuildPath           string
	kconfigBundlePath    string
	kconfigExtractPath   string
	adHocPath            string
	archs                []string
	tryAll               bool
	reportAll            bool
	outputPath           string
	referenceConfigPath  string
	modulesMode          bool
	showUnsatCore        bool
	defines              []string
	undefines            []string
	allowConfigBroken    bool
	allowNonVisibles     bool
	viewKbuild           bool
	jsonOutput           bool
	sampleN              int
	samplePrefix         string
	randomSeed           *int64
	configPath           string
	verbose              bool
}

// parseFlags scans args in the teacher's dual-form style: "--flag=value"
// or "--flag value", plus bare boolean switches.
func parseFlags(args []string) (flagSet, error) {
	var fs flagSet

	next := func(i int) (string, int, error) {
		if i+1 >= len(args) {
			return "", i, fmt.Errorf("%s requires a value", args[i])
		}
		return args[i+1], i + 1, nil
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		var value string
		var hasInline bool
		if strings.HasPrefix(arg, "--") {
			if eq := strings.Index(arg, "="); eq >= 0 {
				value = arg[eq+1:]
				arg = arg[:eq]
				hasInline = true
			}
		}

		getValue := func() (string, error) {
			if hasInline {
				return value, nil
			}
			v, ni, err := next(i)
			if err != nil {
				return "", err
			}
			i = ni
			return v, nil
		}

		switch arg {
		case "--formulas-root":
			v, err := getValue()
			if err != nil {
				return fs, err
			}
			fs.formulasRoot = v
		case "--srctree":
			v, err := getValue()
			if err != nil {
				return fs, err
			}
			fs.srctree = v
		case "--kbuild-path":
			v, err := getValue()
			if err != nil {
				return fs, err
			}
			fs.kbuildPath = v
		case "--kconfig-bundle":
			v, err := getValue()
			if err != nil {
				return fs, err
			}
			fs.kconfigBundlePath = v
		case "--kconfig-extract":
			v, err := getValue()
			if err != nil {
				return fs, err
			}
			fs.kconfigExtractPath = v
		case "--ad-hoc":
			v, err := getValue()
			if err != nil {
				return fs, err
			}
			fs.adHocPath = v
		case "--arch":
			v, err := getValue()
			if err != nil {
				return fs, err
			}
			fs.archs = append(fs.archs, v)
		case "--all":
			fs.tryAll = true
		case "--report-all":
			fs.reportAll = true
		case "--output":
			v, err := getValue()
			if err != nil {
				return fs, err
			}
			fs.outputPath = v
		case "--reference-config":
			v, err := getValue()
			if err != nil {
				return fs, err
			}
			fs.referenceConfigPath = v
		case "--modules":
			fs.modulesMode = true
		case "--show-unsat-core":
			fs.showUnsatCore = true
		case "--define":
			v, err := getValue()
			if err != nil {
				return fs, err
			}
			fs.defines = append(fs.defines, v)
		case "--undefine":
			v, err := getValue()
			if err != nil {
				return fs, err
			}
			fs.undefines = append(fs.undefines, v)
		case "--allow-config-broken":
			fs.allowConfigBroken = true
		case "--allow-non-visibles":
			fs.allowNonVisibles = true
		case "--view-kbuild":
			fs.viewKbuild = true
		case "--json":
			fs.jsonOutput = true
		case "--sample":
			v, err := getValue()
			if err != nil {
				return fs, err
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				return fs, fmt.Errorf("--sample requires an integer: %w", err)
			}
			fs.sampleN = n
		case "--sample-prefix":
			v, err := getValue()
			if err != nil {
				return fs, err
			}
			fs.samplePrefix = v
		case "--random-seed":
			v, err := getValue()
			if err != nil {
				return fs, err
			}
			seed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fs, fmt.Errorf("--random-seed requires an integer: %w", err)
			}
			fs.randomSeed = &seed
		case "--config":
			v, err := getValue()
			if err != nil {
				return fs, err
			}
			fs.configPath = v
		case "--verbose", "-v":
			fs.verbose = true
		default:
			if strings.HasPrefix(arg, "-") {
				return fs, fmt.Errorf("unknown flag: %s", arg)
			}
			fs.cus = append(fs.cus, args[i])
		}
	}
	return fs, nil
}

func runSolve(args []string) error {
	fs, err := parseFlags(args)
	if err != nil {
		return kbuildmodel.NewExitError(kbuildmodel.ExitInvalidFlags, "%w", err)
	}

	if fs.viewKbuild {
		return runViewKbuild(fs)
	}

	level := slog.LevelInfo
	if fs.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := resolveDefaults(fs)
	if err != nil {
		return err
	}

	runner := cmdexec.ExecRunner{}
	store := formulastore.New(logger, runner)
	drv := solver.NewDriver(solver.NewZ3Backend(runner), logger)

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	o := orchestrator.New(cfg, store, drv, runner, logger, cwd)
	ctx := context.Background()
	result, err := o.Run(ctx)
	if err != nil {
		return err
	}

	switch {
	case len(result.SampleFiles) > 0:
		fmt.Printf("arch=%s samples=%s\n", result.ChosenArch, strings.Join(result.SampleFiles, ", "))
	case len(result.SATArches) > 0:
		fmt.Printf("satisfying architectures: %s\n", strings.Join(result.SATArches, ", "))
	default:
		fmt.Printf("arch=%s\n", result.ChosenArch)
	}
	return nil
}

// resolveDefaults loads the optional defaults file, then layers fs's
// explicit flags over it (CLI always wins, per the ambient config stack's
// precedence order).
func resolveDefaults(fs flagSet) (orchestrator.Config, error) {
	configPath := fs.configPath
	if configPath == "" {
		if _, err := os.Stat("kbuildcfg.yaml"); err == nil {
			configPath = "kbuildcfg.yaml"
		}
	}
	d, err := defaults.Load(configPath)
	if err != nil {
		return orchestrator.Config{}, err
	}

	cfg := orchestrator.Config{
		FormulasRoot:         firstNonEmpty(fs.formulasRoot, d.FormulasRoot),
		Srctree:              firstNonEmpty(fs.srctree, d.Srctree),
		KbuildPath:           fs.kbuildPath,
		KconfigBundlePath:    fs.kconfigBundlePath,
		KconfigExtractPath:   fs.kconfigExtractPath,
		AdHocConstraintsPath: fs.adHocPath,
		CUs:                  fs.cus,
		Archs:                firstNonEmptySlice(fs.archs, d.Archs),
		TryAll:               fs.tryAll,
		ReportAll:            fs.reportAll,
		OutputPath:           firstNonEmpty(fs.outputPath, d.OutputPath),
		ReferenceConfigPath:  fs.referenceConfigPath,
		ModulesMode:          fs.modulesMode || d.ModulesMode,
		ShowUnsatCore:        fs.showUnsatCore,
		Defines:              fs.defines,
		Undefines:            fs.undefines,
		AllowConfigBroken:    fs.allowConfigBroken || d.AllowConfigBroken,
		AllowNonVisibles:     fs.allowNonVisibles || d.AllowNonVisibles,
		SampleN:              fs.sampleN,
		SamplePrefix:         fs.samplePrefix,
		RandomSeed:           fs.randomSeed,
	}
	if cfg.FormulasRoot == "" {
		return orchestrator.Config{}, kbuildmodel.NewExitError(kbuildmodel.ExitInvalidFlags, "--formulas-root is required")
	}
	return cfg, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func firstNonEmptySlice(a, b []string) []string {
	if len(a) > 0 {
		return a
	}
	return b
}

// viewKbuildEntry is one CU's ancestor-chain dump, in both the plain-text
// and --json renderings.
type viewKbuildEntry struct {
	CU    string      `json:"cu"`
	Key   string      `json:"key"`
	Chain []chainLink `json:"chain"`
}

type chainLink struct {
	Key     string `json:"key"`
	Formula string `json:"formula"`
}

// runViewKbuild implements the --view-kbuild supplement: for each resolved
// CU, print its own formula and every ancestor's formula as SMT-LIB2 text.
// A CU-less invocation has nothing to show, so it exits ExitViewKbuildNoCU.
func runViewKbuild(fs flagSet) error {
	if len(fs.cus) == 0 {
		return kbuildmodel.NewExitError(kbuildmodel.ExitViewKbuildNoCU, "--view-kbuild requires at least one compilation unit")
	}
	if fs.formulasRoot == "" {
		return kbuildmodel.NewExitError(kbuildmodel.ExitInvalidFlags, "--formulas-root is required")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	runner := cmdexec.ExecRunner{}
	store := formulastore.New(logger, runner)

	kbuildPath := fs.kbuildPath
	if kbuildPath == "" {
		kbuildPath = filepath.Join(fs.formulasRoot, "kmax")
	}
	if err := store.LoadKbuildFormulas(kbuildPath); err != nil {
		return err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	var entries []viewKbuildEntry
	for _, raw := range fs.cus {
		r, err := pathresolve.Resolve(store, logger, cwd, raw)
		if err != nil {
			return err
		}

		entry := viewKbuildEntry{CU: string(r.CU), Key: string(r.Key)}
		keys := append([]kbuildmodel.Key{r.Key}, r.Ancestors...)
		for _, k := range keys {
			f, err := store.Formula(k)
			if err != nil {
				return err
			}
			entry.Chain = append(entry.Chain, chainLink{Key: string(k), Formula: f.SMTLIB()})
		}
		entries = append(entries, entry)
	}

	if fs.jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	for _, e := range entries {
		fmt.Printf("CU %s (key %s):\n", e.CU, e.Key)
		for _, link := range e.Chain {
			fmt.Printf("  %s: %s\n", link.Key, link.Formula)
		}
	}
	return nil
}

// runWizard offers an interactive flow, built on internal/menu's huh
// wrappers, that assembles the same flag set runSolve parses from argv —
// the way cmd/lyrebird's runSetup walks a user through a sequence of
// prompts instead of requiring every flag up front.
func runWizard(args []string) error {
	cuInput := menu.Input(os.Stdin, os.Stdout, "Compilation units (space-separated, blank for none)")

	archIdx := menu.Select(os.Stdin, os.Stdout, "Primary architecture", archprofile.PriorityList)
	if archIdx < 0 {
		return fmt.Errorf("wizard cancelled: no architecture selected")
	}
	primaryArch := archprofile.PriorityList[archIdx]

	tryAll := menu.Confirm(os.Stdin, os.Stdout, fmt.Sprintf("Also try every other architecture if %s fails?", primaryArch))
	allowBroken := menu.Confirm(os.Stdin, os.Stdout, "Allow CONFIG_BROKEN?")

	wizardArgs := append([]string{}, strings.Fields(cuInput)...)
	wizardArgs = append(wizardArgs, "--arch", primaryArch)
	if tryAll {
		wizardArgs = append(wizardArgs, "--all")
	}
	if allowBroken {
		wizardArgs = append(wizardArgs, "--allow-config-broken")
	}
	wizardArgs = append(wizardArgs, args...)
	return runSolve(wizardArgs)
}

// runCache implements the read-only "cache stat" inspection subcommand:
// how many memoized Kbuild keys and Kconfig bundles per architecture, with
// no solve performed.
func runCache(args []string) error {
	if len(args) == 0 || args[0] != "stat" {
		return kbuildmodel.NewExitError(kbuildmodel.ExitInvalidFlags, "usage: kbuildcfg cache stat <formulas-root>")
	}
	args = args[1:]
	if len(args) == 0 {
		return kbuildmodel.NewExitError(kbuildmodel.ExitInvalidFlags, "cache stat requires a formulas-root argument")
	}
	formulasRoot := args[0]

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	store := formulastore.New(logger, cmdexec.ExecRunner{})

	kbuildPath := filepath.Join(formulasRoot, "kmax")
	kbuildInfo, statErr := os.Stat(kbuildPath)
	if err := store.LoadKbuildFormulas(kbuildPath); err != nil {
		return err
	}

	fmt.Printf("formulas root: %s\n", formulasRoot)
	if statErr == nil {
		fmt.Printf("Kbuild cache:  %d keys (%s)\n", len(store.AllKeys()), humanize.Bytes(uint64(kbuildInfo.Size())))
	} else {
		fmt.Printf("Kbuild cache:  %d keys (no cache file yet)\n", len(store.AllKeys()))
	}

	fmt.Println("Kconfig bundles:")
	for _, arch := range archprofile.Architectures {
		path := archprofile.KconfigPath(formulasRoot, arch)
		info, err := os.Stat(path)
		if err != nil {
			fmt.Printf("  %-8s not generated\n", arch)
			continue
		}
		bundle, err := store.LoadKconfigFor(formulasRoot, arch, "")
		if err != nil {
			fmt.Printf("  %-8s present (%s), failed to parse: %v\n", arch, humanize.Bytes(uint64(info.Size())), err)
			continue
		}
		fmt.Printf("  %-8s %d options (%s)\n", arch, len(bundle), humanize.Bytes(uint64(info.Size())))
	}
	return nil
}
