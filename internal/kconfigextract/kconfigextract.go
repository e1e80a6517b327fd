// SPDX-License-Identifier: MIT

// Package kconfigextract parses the Kconfig extract descriptor named in
// spec.md §4.4: a whitespace-tokenized, line-oriented text file carrying
// option type, visibility, and non-Boolean-default information derived
// from the Kconfig specification by an external (out-of-scope) parser.
package kconfigextract

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// OptionType is one of the five Kconfig option types spec.md §3 names.
type OptionType string

const (
	TypeBool     OptionType = "bool"
	TypeTristate OptionType = "tristate"
	TypeString   OptionType = "string"
	TypeNumber   OptionType = "number"
	TypeHex      OptionType = "hex"
)

// Extract holds the three derived structures spec.md §3 defines: option
// types, the visible-option set, and the has-non-Boolean-default set.
type Extract struct {
	Types         map[string]OptionType
	Visible       map[string]bool
	HasDefNonBool map[string]bool
}

// Parse reads a Kconfig extract file. Verbs recognized by first-token
// dispatch: "config NAME TYPE" populates Types, "prompt NAME" populates
// Visible, "def_nonbool NAME" populates HasDefNonBool. Unrecognized verbs
// and malformed lines are skipped silently, matching an external tool's
// output format evolving underneath a best-effort consumer.
func Parse(r io.Reader) (*Extract, error) {
	e := &Extract{
		Types:         make(map[string]OptionType),
		Visible:       make(map[string]bool),
		HasDefNonBool: make(map[string]bool),
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)

		switch fields[0] {
		case "config":
			if len(fields) < 3 {
				continue
			}
			e.Types[fields[1]] = OptionType(fields[2])
		case "prompt":
			if len(fields) < 2 {
				continue
			}
			e.Visible[fields[1]] = true
		case "def_nonbool":
			if len(fields) < 2 {
				continue
			}
			e.HasDefNonBool[fields[1]] = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan Kconfig extract: %w", err)
	}
	return e, nil
}

// Load parses the extract file at path. A missing file is not an error:
// it returns (nil, nil), matching spec.md §4.4's "if the extract is
// absent, all three outputs are undefined" and letting the emitter degrade
// per §4.7.
func Load(path string) (*Extract, error) {
	f, err := os.Open(path) // #nosec G304 -- path is derived from formulas-root/arch, not request input
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open Kconfig extract %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	e, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Kconfig extract %s: %w", path, err)
	}
	return e, nil
}

// AllowNonVisibles nullifies the Visible set so visibility filtering is
// disabled downstream, per the caller-requested "allow non-visible
// options" mode in spec.md §4.4.
func (e *Extract) AllowNonVisibles() {
	if e == nil {
		return
	}
	e.Visible = nil
}
