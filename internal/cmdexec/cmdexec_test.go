// SPDX-License-Identifier: MIT

package cmdexec

import (
	"context"
	"strings"
	"testing"
)

func TestExecRunnerCapturesStdout(t *testing.T) {
	r := ExecRunner{}
	out, err := r.Run(context.Background(), "echo", []string{"-n", "hello"}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if string(out) != "hello" {
		t.Errorf("stdout = %q, want %q", out, "hello")
	}
}

func TestExecRunnerPipesStdin(t *testing.T) {
	r := ExecRunner{}
	out, err := r.Run(context.Background(), "cat", nil, []byte("piped"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if string(out) != "piped" {
		t.Errorf("stdout = %q, want %q", out, "piped")
	}
}

func TestExecRunnerWrapsFailureWithStderr(t *testing.T) {
	r := ExecRunner{}
	_, err := r.Run(context.Background(), "sh", []string{"-c", "echo boom >&2; exit 1"}, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("error %q should contain captured stderr", err)
	}
}

func TestLookPathMissingTool(t *testing.T) {
	if _, err := LookPath("kbuildcfg-definitely-not-a-real-binary"); err == nil {
		t.Errorf("expected error for missing binary")
	}
}
