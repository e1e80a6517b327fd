// SPDX-License-Identifier: MIT

package kbuildmodel

import (
	"errors"
	"reflect"
	"testing"
)

func TestKeyAncestorChain(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want []Key
	}{
		{"top-level CU", "kcmp.o", nil},
		{"nested CU", Key("kernel/sched/kcmp.o"), []Key{"kernel/", "kernel/sched/"}},
		{"directory key", Key("kernel/sched/"), []Key{"kernel/"}},
		{"single-level CU", Key("kcmp.o"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.key.AncestorChain()
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("AncestorChain() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKeyIsDir(t *testing.T) {
	if !Key("kernel/").IsDir() {
		t.Errorf("%q should be a directory key", "kernel/")
	}
	if Key("kernel/kcmp.o").IsDir() {
		t.Errorf("%q should not be a directory key", "kernel/kcmp.o")
	}
}

func TestNormalizeForcesObjectExtension(t *testing.T) {
	tests := []struct {
		in          string
		want        CU
		wantChanged bool
	}{
		{"kernel/kcmp.o", "kernel/kcmp.o", false},
		{"kernel/kcmp.c", "kernel/kcmp.o", true},
		{"kernel/kcmp", "kernel/kcmp.o", true},
	}
	for _, tt := range tests {
		cu, changed := Normalize(tt.in)
		if cu != tt.want || changed != tt.wantChanged {
			t.Errorf("Normalize(%q) = (%q, %v), want (%q, %v)", tt.in, cu, changed, tt.want, tt.wantChanged)
		}
	}
}

func TestFormulaSMTLIBRoundTrip(t *testing.T) {
	f := And(Var("CONFIG_B"), Not(Eq("CONFIG_A", "y")))
	s := f.SMTLIB()

	parsed, err := ParseSMTLIB(s)
	if err != nil {
		t.Fatalf("ParseSMTLIB(%q) error = %v", s, err)
	}
	if got := parsed.SMTLIB(); got != s {
		t.Errorf("round-trip mismatch: got %q, want %q", got, s)
	}
}

func TestFormulaFreeVars(t *testing.T) {
	f := And(Var("CONFIG_B"), Or(Not(Var("CONFIG_A")), Eq("BITS", "32")))
	got := f.FreeVars(nil)
	want := []string{"CONFIG_B", "CONFIG_A", "BITS"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FreeVars() = %v, want %v", got, want)
	}
}

func TestParseSMTLIBTrue(t *testing.T) {
	f, err := ParseSMTLIB("true")
	if err != nil {
		t.Fatalf("ParseSMTLIB(true) error = %v", err)
	}
	if f.Kind != FormulaTrue {
		t.Errorf("ParseSMTLIB(true) kind = %v, want FormulaTrue", f.Kind)
	}
}

func TestParseSMTLIBRejectsUnknownOperator(t *testing.T) {
	if _, err := ParseSMTLIB("(xor CONFIG_A CONFIG_B)"); err == nil {
		t.Errorf("expected error for unsupported operator")
	}
}

func TestModelPreservesInsertionOrder(t *testing.T) {
	m := NewModel()
	m.Set("CONFIG_B", BoolValue(true))
	m.Set("CONFIG_A", BoolValue(false))
	m.Set("CONFIG_B", BoolValue(false)) // overwrite, must not move in order

	want := []string{"CONFIG_B", "CONFIG_A"}
	if got := m.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
	if m.BoolTrue("CONFIG_B") {
		t.Errorf("CONFIG_B should have been overwritten to false")
	}
}

func TestExitErrorUnwrap(t *testing.T) {
	err := NewExitError(ExitAmbiguousCU, "multiple matches for %s", "kcmp.o")
	var ee *ExitError
	if !errors.As(err, &ee) {
		t.Fatalf("expected *ExitError")
	}
	if ee.Code != ExitAmbiguousCU {
		t.Errorf("Code = %d, want %d", ee.Code, ExitAmbiguousCU)
	}
}
