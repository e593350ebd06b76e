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

package config

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		CasesDir:      "/srv/cases",
		LockTimeout:   Duration{2 * time.Second},
		VerifyWorkers: 8,
		LogLevel:      "debug",
		LogFormat:     "json",
		Archive: ArchiveConfig{
			Recipients:   []string{"age1ql3z7hjy54pw3hyww5ayyfg7zqgvc7w3j2elw8zmrj2kg5sfn9aqmcac8p"},
			IdentityFile: "/home/examiner/.config/casestore/identity.txt",
		},
	}

	var buf bytes.Buffer
	m := &Manager{}
	require.NoError(t, m.Write(&buf, original))
	assert.Contains(t, buf.String(), `lock_timeout = "2s"`)

	got, err := m.Read(&buf)
	require.NoError(t, err)
	if diff := cmp.Diff(original, got); diff != "" {
		t.Errorf("Read() mismatch (-want +got):\n%s", diff)
	}
}

func TestManager_Read_Defaults(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    func(*Config)
		wantErr bool
	}{
		{"empty", "", func(*Config) {}, false},
		{"partial", `cases_dir = "/tmp/cases"`, func(c *Config) { c.CasesDir = "/tmp/cases" }, false},
		{"timeout", `lock_timeout = "250ms"`, func(c *Config) { c.LockTimeout = Duration{250 * time.Millisecond} }, false},
		{"invalid timeout", `lock_timeout = "soon"`, nil, true},
		{"invalid toml", `cases_dir = `, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := (&Manager{}).Read(strings.NewReader(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			want := Default()
			tt.want(want)
			assert.Equal(t, want, got)
		})
	}
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", DefaultFile)
	cfg := Default()
	cfg.CasesDir = "/data/cases"

	require.NoError(t, Init(path, cfg))
	got, err := ReadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/cases", got.CasesDir)

	assert.Error(t, Init(path, Default()), "existing config must not be replaced")
}

func TestLoad(t *testing.T) {
	got, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), got)
}
