// Copyright 2026 bfind Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads per-user defaults for bfind.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Settings are the defaults applied before the command line is parsed;
// arguments always win.
type Settings struct {
	// OptLevel is the default optimization level (0-4).
	OptLevel *int `yaml:"optlevel,omitempty"`
	// Color is "auto", "always" or "never".
	Color string `yaml:"color,omitempty"`
	// Follow is the default symlink policy: "never" (-P), "roots" (-H)
	// or "always" (-L).
	Follow string `yaml:"follow,omitempty"`
}

// Dir returns the config directory path.
// Uses BFIND_CONFIG_DIR if set, otherwise defaults to ~/.bfind.
// This is computed dynamically to support test isolation.
func Dir() string {
	if dir := os.Getenv("BFIND_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".bfind")
}

// Path returns the settings file path.
func Path() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Load reads the settings file.  A missing file yields zero settings, not
// an error.
func Load() (*Settings, error) {
	data, err := os.ReadFile(Path())
	if err != nil {
		if os.IsNotExist(err) {
			return &Settings{}, nil
		}
		return nil, err
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", Path(), err)
	}

	if s.OptLevel != nil && (*s.OptLevel < 0 || *s.OptLevel > 4) {
		return nil, fmt.Errorf("%s: optlevel %d out of range", Path(), *s.OptLevel)
	}

	return &s, nil
}

// Save writes the settings file, creating the config directory if needed.
func Save(s *Settings) error {
	if err := os.MkdirAll(Dir(), 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(Path(), data, 0o644)
}
