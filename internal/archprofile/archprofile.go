// SPDX-License-Identifier: MIT

// Package archprofile produces the hard-coded per-architecture constraint
// bundle described in spec.md §4.3: the literals that pin the logical
// model to one architecture, plus the disabling set for every other
// architecture. The canonical architecture table is modeled as an
// immutable, package-level value initialized once and passed to callers
// explicitly (spec.md §9's replacement for "global architectures data"),
// never mutated after init.
package archprofile

import (
	"fmt"
	"path"
	"strings"

	"github.com/kbuildcfg/kbuildcfg/internal/kbuildmodel"
)

// PriorityList is the default architecture try-order used when the user
// supplies no --arch flags (spec.md §4.8 step 2).
var PriorityList = []string{
	"x86_64", "i386", "arm", "arm64", "sparc64", "sparc", "powerpc", "mips",
}

// Architectures is the canonical declaration-order set of every
// architecture this tool has a hard-coded profile for, used by "--all" to
// append unspecified architectures (spec.md §4.8 step 3).
var Architectures = append(append([]string{}, PriorityList...), "sh", "sh64", "um", "um32")

// knownArchDefiningOptions is every CONFIG_* option this tool knows selects
// some architecture. It is the "arch-defining options set" of spec.md §3,
// used both to build the "disabled" complement for a chosen arch and, for
// unrecognized tags, as the disable-everything-known set.
var knownArchDefiningOptions = []string{
	"CONFIG_X86", "CONFIG_X86_64", "CONFIG_X86_32",
	"CONFIG_PPC",
	"CONFIG_SUPERH", "CONFIG_SUPERH32", "CONFIG_SUPERH64",
	"CONFIG_SPARC", "CONFIG_SPARC32", "CONFIG_SPARC64",
	"CONFIG_ARM", "CONFIG_ARM64",
	"CONFIG_MIPS",
	"CONFIG_UML",
}

// IsArchDefiningOption reports whether name is one of the hard-coded
// options this tool treats as selecting some architecture (spec.md §3's
// arch-defining options set), used by the emitter to decide whether an
// option absent from a Kconfig extract's type map is merely unknown to
// this build (skip with a warning) or a genuine arch-selection symbol.
func IsArchDefiningOption(name string) bool {
	for _, opt := range knownArchDefiningOptions {
		if opt == name {
			return true
		}
	}
	return false
}

// Profile is the literal bundle that pins the model to one architecture.
type Profile struct {
	Arch     string
	Positive []string          // e.g. ["CONFIG_X86", "CONFIG_X86_64"]
	Negative []string          // e.g. ["CONFIG_X86_32"]
	NonBool  map[string]string // e.g. {"BITS": "64"}
	Disabled []string          // every arch-defining option outside this arch's own family
}

// Literals renders the profile as a flat formula list: Positive as bare
// variables, Negative and Disabled as negations, NonBool as Eq nodes.
func (p Profile) Literals() []kbuildmodel.Formula {
	out := make([]kbuildmodel.Formula, 0, len(p.Positive)+len(p.Negative)+len(p.Disabled)+len(p.NonBool))
	for _, v := range p.Positive {
		out = append(out, kbuildmodel.Var(v))
	}
	for _, v := range p.Negative {
		out = append(out, kbuildmodel.Not(kbuildmodel.Var(v)))
	}
	for _, v := range p.Disabled {
		out = append(out, kbuildmodel.Not(kbuildmodel.Var(v)))
	}
	for name, lit := range p.NonBool {
		out = append(out, kbuildmodel.Eq(name, lit))
	}
	return out
}

// For builds the profile for architecture tag. Unknown tags fall back to
// the generic rule: +CONFIG_<UPPERCASE(X)>, disable every known
// arch-defining option.
func For(arch string) Profile {
	switch arch {
	case "x86_64":
		return ownFamily("x86_64", []string{"CONFIG_X86", "CONFIG_X86_64"}, []string{"CONFIG_X86_32"},
			map[string]string{"BITS": "64"}, []string{"CONFIG_X86", "CONFIG_X86_64", "CONFIG_X86_32"})
	case "i386":
		return ownFamily("i386", []string{"CONFIG_X86", "CONFIG_X86_32"}, []string{"CONFIG_X86_64"},
			map[string]string{"BITS": "32"}, []string{"CONFIG_X86", "CONFIG_X86_64", "CONFIG_X86_32"})
	case "powerpc":
		// PPC32/PPC64 remain free: only CONFIG_PPC is pinned.
		return ownFamily("powerpc", []string{"CONFIG_PPC"}, nil, nil, []string{"CONFIG_PPC"})
	case "sh":
		return ownFamily("sh", []string{"CONFIG_SUPERH", "CONFIG_SUPERH32"}, []string{"CONFIG_SUPERH64"},
			map[string]string{"BITS": "32"}, []string{"CONFIG_SUPERH", "CONFIG_SUPERH32", "CONFIG_SUPERH64"})
	case "sh64":
		return ownFamily("sh64", []string{"CONFIG_SUPERH", "CONFIG_SUPERH64"}, []string{"CONFIG_SUPERH32"},
			map[string]string{"BITS": "64"}, []string{"CONFIG_SUPERH", "CONFIG_SUPERH32", "CONFIG_SUPERH64"})
	case "sparc":
		return ownFamily("sparc", []string{"CONFIG_SPARC", "CONFIG_SPARC32"}, []string{"CONFIG_SPARC64"},
			map[string]string{"BITS": "32"}, []string{"CONFIG_SPARC", "CONFIG_SPARC32", "CONFIG_SPARC64"})
	case "sparc64":
		return ownFamily("sparc64", []string{"CONFIG_SPARC", "CONFIG_SPARC64"}, []string{"CONFIG_SPARC32"},
			map[string]string{"BITS": "64"}, []string{"CONFIG_SPARC", "CONFIG_SPARC32", "CONFIG_SPARC64"})
	case "um":
		return ownFamily("um", []string{"CONFIG_UML", "CONFIG_X86", "CONFIG_X86_64"}, []string{"CONFIG_X86_32"},
			map[string]string{"BITS": "64"}, []string{"CONFIG_UML", "CONFIG_X86", "CONFIG_X86_64", "CONFIG_X86_32"})
	case "um32":
		return ownFamily("um32", []string{"CONFIG_UML", "CONFIG_X86", "CONFIG_X86_32"}, []string{"CONFIG_X86_64"},
			map[string]string{"BITS": "32"}, []string{"CONFIG_UML", "CONFIG_X86", "CONFIG_X86_64", "CONFIG_X86_32"})
	default:
		opt := fmt.Sprintf("CONFIG_%s", strings.ToUpper(arch))
		return ownFamily(arch, []string{opt}, nil, nil, []string{opt})
	}
}

// ownFamily builds a Profile, computing Disabled as every known
// arch-defining option outside ownOptions.
func ownFamily(arch string, positive, negative []string, nonBool map[string]string, ownOptions []string) Profile {
	own := make(map[string]bool, len(ownOptions))
	for _, o := range ownOptions {
		own[o] = true
	}

	var disabled []string
	for _, opt := range knownArchDefiningOptions {
		if !own[opt] {
			disabled = append(disabled, opt)
		}
	}

	return Profile{
		Arch:     arch,
		Positive: positive,
		Negative: negative,
		NonBool:  nonBool,
		Disabled: disabled,
	}
}

// archDirAliases maps an arch/ subdirectory name to the architecture tags
// whose CUs live under it, overriding the generic "lowercase(arch) == dir
// name" rule (spec.md §4.3).
var archDirAliases = map[string][]string{
	"um":  {"um", "um32"},
	"x86": {"x86_64", "i386"},
}

// CandidatesForCU narrows archs to the architectures whose CU-directory
// matches cu, when cu begins with "arch/". For CUs outside arch/, archs is
// returned unchanged.
func CandidatesForCU(cu kbuildmodel.CU, archs []string) []string {
	p := string(cu)
	if !strings.HasPrefix(p, "arch/") {
		return archs
	}
	rest := strings.TrimPrefix(p, "arch/")
	dir := rest
	if idx := strings.Index(rest, "/"); idx >= 0 {
		dir = rest[:idx]
	}
	dir = path.Clean(dir)

	if aliases, ok := archDirAliases[dir]; ok {
		return intersect(archs, aliases)
	}
	return intersect(archs, []string{dir})
}

func intersect(a, b []string) []string {
	set := make(map[string]bool, len(b))
	for _, x := range b {
		set[x] = true
	}
	var out []string
	for _, x := range a {
		if set[x] {
			out = append(out, x)
		}
	}
	return out
}

// KconfigPath returns the per-architecture Kconfig bundle file path under
// formulasRoot, aliasing UML variants to their underlying x86 subdirectory
// (spec.md §4.3).
func KconfigPath(formulasRoot, arch string) string {
	return path.Join(formulasRoot, "kclause", kconfigDir(arch), "kclause")
}

// KconfigExtractPath returns the per-architecture Kconfig extract file path.
func KconfigExtractPath(formulasRoot, arch string) string {
	return path.Join(formulasRoot, "kclause", kconfigDir(arch), "kconfig_extract")
}

func kconfigDir(arch string) string {
	switch arch {
	case "um":
		return "x86_64"
	case "um32":
		return "i386"
	default:
		return arch
	}
}
