// SPDX-License-Identifier: MIT

package emitter

import (
	"strings"
	"testing"

	"github.com/kbuildcfg/kbuildcfg/internal/kbuildmodel"
	"github.com/kbuildcfg/kbuildcfg/internal/kconfigextract"
)

func TestEmitUnknownTypesAlwaysEmitsYOrNotSet(t *testing.T) {
	m := kbuildmodel.NewModel()
	m.Set("CONFIG_A", kbuildmodel.BoolValue(true))
	m.Set("CONFIG_B", kbuildmodel.BoolValue(false))

	var sb strings.Builder
	if err := Emit(&sb, m, Options{}, nil); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	got := sb.String()
	if !strings.Contains(got, "CONFIG_A=y\n") {
		t.Errorf("expected CONFIG_A=y, got %q", got)
	}
	if !strings.Contains(got, "# CONFIG_B is not set\n") {
		t.Errorf("expected CONFIG_B not-set line, got %q", got)
	}
}

func TestEmitSkipsNonConfigEntries(t *testing.T) {
	m := kbuildmodel.NewModel()
	m.Set("BITS", kbuildmodel.StringValue("64"))

	var sb strings.Builder
	if err := Emit(&sb, m, Options{}, nil); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if sb.String() != "" {
		t.Errorf("expected no output for non-CONFIG_* entry, got %q", sb.String())
	}
}

func TestEmitRespectsVisibleSet(t *testing.T) {
	m := kbuildmodel.NewModel()
	m.Set("CONFIG_HIDDEN", kbuildmodel.BoolValue(true))
	extract := &kconfigextract.Extract{
		Types:   map[string]kconfigextract.OptionType{"CONFIG_HIDDEN": kconfigextract.TypeBool},
		Visible: map[string]bool{}, // known but empty: nothing is visible
	}

	var sb strings.Builder
	if err := Emit(&sb, m, Options{Extract: extract}, nil); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if sb.String() != "" {
		t.Errorf("expected invisible option to be skipped, got %q", sb.String())
	}
}

func TestEmitSkipsHasDefNonBoolUnlessUserSpecified(t *testing.T) {
	extract := &kconfigextract.Extract{
		Types:         map[string]kconfigextract.OptionType{"CONFIG_D": kconfigextract.TypeString},
		HasDefNonBool: map[string]bool{"CONFIG_D": true},
	}

	m := kbuildmodel.NewModel()
	m.Set("CONFIG_D", kbuildmodel.BoolValue(true))

	var sb strings.Builder
	if err := Emit(&sb, m, Options{Extract: extract}, nil); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if sb.String() != "" {
		t.Errorf("expected has_def_nonbool option to be skipped, got %q", sb.String())
	}

	sb.Reset()
	opts := Options{Extract: extract, UserSpecifiedOptionNames: map[string]bool{"CONFIG_D": true}}
	if err := Emit(&sb, m, opts, nil); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if !strings.Contains(sb.String(), "CONFIG_D=") {
		t.Errorf("expected CONFIG_D to be rendered once user-specified, got %q", sb.String())
	}
}

func TestEmitRendersEachType(t *testing.T) {
	extract := &kconfigextract.Extract{Types: map[string]kconfigextract.OptionType{
		"CONFIG_BOOL":     kconfigextract.TypeBool,
		"CONFIG_TRISTATE": kconfigextract.TypeTristate,
		"CONFIG_STRING":   kconfigextract.TypeString,
		"CONFIG_NUMBER":   kconfigextract.TypeNumber,
		"CONFIG_HEX":      kconfigextract.TypeHex,
	}}

	m := kbuildmodel.NewModel()
	for name := range extract.Types {
		m.Set(name, kbuildmodel.BoolValue(true))
	}

	var sb strings.Builder
	if err := Emit(&sb, m, Options{Extract: extract}, nil); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	got := sb.String()
	for _, want := range []string{"CONFIG_BOOL=y", "CONFIG_TRISTATE=y", "CONFIG_STRING=", "CONFIG_NUMBER=0", "CONFIG_HEX=0x0"} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in output, got %q", want, got)
		}
	}
}

func TestEmitModulesModeRendersTristateAsM(t *testing.T) {
	extract := &kconfigextract.Extract{Types: map[string]kconfigextract.OptionType{"CONFIG_T": kconfigextract.TypeTristate}}
	m := kbuildmodel.NewModel()
	m.Set("CONFIG_T", kbuildmodel.BoolValue(true))

	var sb strings.Builder
	if err := Emit(&sb, m, Options{Extract: extract, ModulesMode: true}, nil); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if !strings.Contains(sb.String(), "CONFIG_T=m") {
		t.Errorf("expected CONFIG_T=m in modules mode, got %q", sb.String())
	}
}

func TestEmitSkipsUnknownNonArchDefiningOption(t *testing.T) {
	extract := &kconfigextract.Extract{Types: map[string]kconfigextract.OptionType{}}
	m := kbuildmodel.NewModel()
	m.Set("CONFIG_NOT_IN_EXTRACT", kbuildmodel.BoolValue(true))

	var sb strings.Builder
	if err := Emit(&sb, m, Options{Extract: extract}, nil); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if sb.String() != "" {
		t.Errorf("expected unknown non-arch-defining option to be skipped, got %q", sb.String())
	}
}

func TestEmitPreservesModelOrder(t *testing.T) {
	m := kbuildmodel.NewModel()
	m.Set("CONFIG_Z", kbuildmodel.BoolValue(true))
	m.Set("CONFIG_A", kbuildmodel.BoolValue(true))

	var sb strings.Builder
	if err := Emit(&sb, m, Options{}, nil); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(sb.String()), "\n")
	if len(lines) != 2 || lines[0] != "CONFIG_Z=y" || lines[1] != "CONFIG_A=y" {
		t.Errorf("expected model insertion order preserved, got %v", lines)
	}
}

func TestParseReferenceConfigExtractsLiterals(t *testing.T) {
	input := `CONFIG_A=y
CONFIG_B=m
# CONFIG_C is not set
CONFIG_D=some_string
not a config line
`
	literals, err := ParseReferenceConfig(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseReferenceConfig() error = %v", err)
	}
	want := []ReferenceLiteral{
		{Name: "CONFIG_A", Positive: true},
		{Name: "CONFIG_B", Positive: true},
		{Name: "CONFIG_C", Positive: false},
	}
	if len(literals) != len(want) {
		t.Fatalf("literals = %v, want %v", literals, want)
	}
	for i := range want {
		if literals[i] != want[i] {
			t.Errorf("literals[%d] = %v, want %v", i, literals[i], want[i])
		}
	}
}

func TestAsAssumptionsRendersPolarity(t *testing.T) {
	literals := []ReferenceLiteral{{Name: "CONFIG_A", Positive: true}, {Name: "CONFIG_B", Positive: false}}
	formulas := AsAssumptions(literals)
	if formulas[0].SMTLIB() != "CONFIG_A" {
		t.Errorf("formulas[0] = %s, want CONFIG_A", formulas[0].SMTLIB())
	}
	if formulas[1].SMTLIB() != "(not CONFIG_B)" {
		t.Errorf("formulas[1] = %s, want (not CONFIG_B)", formulas[1].SMTLIB())
	}
}
