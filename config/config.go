// Copyright (c) 2020 Siemens AG
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
// the Software, and to permit persons to whom the Software is furnished to do so,
// subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
// FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
// COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
// IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
// CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
//
// Author(s): Jonas Plum

// Package config reads and writes the casestore configuration file.
package config

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// DefaultFile is the name of the configuration file below the user config
// folder.
const DefaultFile = "casestore.toml"

// Config is the configuration of the casestore command.
type Config struct {
	CasesDir      string        `toml:"cases_dir"`
	LockTimeout   Duration      `toml:"lock_timeout"`
	VerifyWorkers int           `toml:"verify_workers"`
	LogLevel      string        `toml:"log_level"`
	LogFormat     string        `toml:"log_format"` // "text" or "json"
	Archive       ArchiveConfig `toml:"archive"`
}

// ArchiveConfig configures the encryption of case archives.
type ArchiveConfig struct {
	Recipients   []string `toml:"recipients"`    // age public keys, archives are plain if empty
	IdentityFile string   `toml:"identity_file"` // age identities used by restore
}

// Duration is a time.Duration written as a string like "5s".
type Duration struct {
	time.Duration
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	casesDir := "cases"
	if dir, err := os.UserHomeDir(); err == nil {
		casesDir = filepath.Join(dir, "casestore", "cases")
	}
	return &Config{
		CasesDir:      casesDir,
		LockTimeout:   Duration{5 * time.Second},
		VerifyWorkers: 4,
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

// DefaultPath returns the location of the configuration file.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return DefaultFile
	}
	return filepath.Join(dir, "casestore", DefaultFile)
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from r. Missing fields keep their defaults.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	cfg := Default()
	if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}
	return cfg, nil
}

// Write encodes a Config to w.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	return errors.Wrap(toml.NewEncoder(w).Encode(cfg), "failed to encode config")
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open config file")
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config from %s", path)
	}
	return cfg, nil
}

// Load reads the file at path, or returns the defaults if it does not exist.
func Load(path string) (*Config, error) {
	cfg, err := ReadFromFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Init writes cfg to a new file at path. An existing file is not replaced.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return errors.Errorf("config file already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return errors.Wrap(err, "failed to create config file")
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return errors.Wrapf(err, "writing config to %s", path)
	}
	return nil
}
