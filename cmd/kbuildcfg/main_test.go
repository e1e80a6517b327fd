// SPDX-License-Identifier: MIT

package main

import (
	"strings"
	"testing"

	"github.com/kbuildcfg/kbuildcfg/internal/kbuildmodel"
)

func TestRun(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
		errMsg  string
	}{
		{
			name:    "no arguments shows help",
			args:    []string{},
			wantErr: false,
		},
		{
			name:    "help command",
			args:    []string{"help"},
			wantErr: false,
		},
		{
			name:    "version command",
			args:    []string{"version"},
			wantErr: false,
		},
		{
			name:    "missing formulas-root is an invalid flag error",
			args:    []string{"kernel/kcmp.o"},
			wantErr: true,
			errMsg:  "--formulas-root is required",
		},
		{
			name:    "view-kbuild without a CU is a view-kbuild usage error",
			args:    []string{"--view-kbuild", "--formulas-root", "/tmp/formulas"},
			wantErr: true,
			errMsg:  "at least one compilation unit",
		},
		{
			name:    "unknown flag",
			args:    []string{"--nonsense"},
			wantErr: true,
			errMsg:  "unknown flag",
		},
		{
			name:    "cache stat missing formulas-root argument",
			args:    []string{"cache", "stat"},
			wantErr: true,
			errMsg:  "requires a formulas-root argument",
		},
		{
			name:    "cache subcommand with unknown verb",
			args:    []string{"cache", "bogus"},
			wantErr: true,
			errMsg:  "usage: kbuildcfg cache stat",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(tt.args)
			if tt.wantErr && err == nil {
				t.Fatalf("run(%v) expected error, got nil", tt.args)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("run(%v) unexpected error: %v", tt.args, err)
			}
			if tt.errMsg != "" && (err == nil || !strings.Contains(err.Error(), tt.errMsg)) {
				t.Errorf("run(%v) error = %v, want substring %q", tt.args, err, tt.errMsg)
			}
		})
	}
}

func TestParseFlagsDualForm(t *testing.T) {
	fs, err := parseFlags([]string{
		"--formulas-root=/opt/formulas",
		"--arch", "x86_64",
		"--arch=i386",
		"--sample", "3",
		"--modules",
		"kernel/kcmp.o",
	})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if fs.formulasRoot != "/opt/formulas" {
		t.Errorf("formulasRoot = %q, want /opt/formulas", fs.formulasRoot)
	}
	if len(fs.archs) != 2 || fs.archs[0] != "x86_64" || fs.archs[1] != "i386" {
		t.Errorf("archs = %v, want [x86_64 i386]", fs.archs)
	}
	if fs.sampleN != 3 {
		t.Errorf("sampleN = %d, want 3", fs.sampleN)
	}
	if !fs.modulesMode {
		t.Errorf("expected modulesMode true")
	}
	if len(fs.cus) != 1 || fs.cus[0] != "kernel/kcmp.o" {
		t.Errorf("cus = %v, want [kernel/kcmp.o]", fs.cus)
	}
}

func TestParseFlagsMissingValueErrors(t *testing.T) {
	if _, err := parseFlags([]string{"--formulas-root"}); err == nil {
		t.Errorf("expected error for --formulas-root without a value")
	}
}

func TestParseFlagsInvalidSampleIsError(t *testing.T) {
	if _, err := parseFlags([]string{"--sample", "not-a-number"}); err == nil {
		t.Errorf("expected error for non-integer --sample")
	}
}

func TestCodeForMapsExitError(t *testing.T) {
	err := kbuildmodel.NewExitError(kbuildmodel.ExitInvalidFlags, "bad flags")
	if got := codeFor(err); got != kbuildmodel.ExitInvalidFlags {
		t.Errorf("codeFor() = %d, want %d", got, kbuildmodel.ExitInvalidFlags)
	}
}

func TestCodeForFallsBackForPlainErrors(t *testing.T) {
	if got := codeFor(strErr("boom")); got != exitError {
		t.Errorf("codeFor() = %d, want %d", got, exitError)
	}
}

type strErr string

func (e strErr) Error() string { return string(e) }
