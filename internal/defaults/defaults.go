// SPDX-License-Identifier: MIT

// Package defaults loads the optional kbuildcfg.yaml defaults file that
// seeds CLI flags a user did not pass explicitly. Precedence, highest
// first: CLI flags, environment variables prefixed KBUILDCFG_, the YAML
// file, built-in zero values.
package defaults

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the environment variable prefix layered over the YAML
// defaults file.
const EnvPrefix = "KBUILDCFG"

// Defaults mirrors the subset of cmd/kbuildcfg's flags that are sensible
// to pin in a project-local config file.
type Defaults struct {
	FormulasRoot      string   `yaml:"formulas_root" koanf:"formulas_root"`
	Srctree           string   `yaml:"srctree" koanf:"srctree"`
	Archs             []string `yaml:"archs" koanf:"archs"`
	OutputPath        string   `yaml:"output" koanf:"output"`
	ModulesMode       bool     `yaml:"modules_mode" koanf:"modules_mode"`
	AllowConfigBroken bool     `yaml:"allow_config_broken" koanf:"allow_config_broken"`
	AllowNonVisibles  bool     `yaml:"allow_non_visibles" koanf:"allow_non_visibles"`
}

// Load reads path (if it exists) and overlays KBUILDCFG_* environment
// variables on top, returning the merged Defaults. A missing file is not
// an error: env vars and zero values still apply.
func Load(path string) (Defaults, error) {
	k := koanf.New(".")

	if path != "" {
		if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return Defaults{}, fmt.Errorf("failed to load defaults file %s: %w", path, err)
			}
		}
	}

	envProvider := env.Provider(".", env.Opt{
		Prefix: EnvPrefix + "_",
		TransformFunc: func(k, v string) (string, any) {
			k = strings.TrimPrefix(k, EnvPrefix+"_")
			return strings.ToLower(k), v
		},
	})
	if err := k.Load(envProvider, nil); err != nil {
		return Defaults{}, fmt.Errorf("failed to load %s_* environment variables: %w", EnvPrefix, err)
	}

	var d Defaults
	if err := k.Unmarshal("", &d); err != nil {
		return Defaults{}, fmt.Errorf("failed to unmarshal defaults: %w", err)
	}
	return d, nil
}
