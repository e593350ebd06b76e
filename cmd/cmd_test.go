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

package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forensicanalysis/casestore"
)

func setup(t *testing.T) []string {
	dir := t.TempDir()
	return []string{"--config", filepath.Join(dir, "casestore.toml"), "--cases-dir", filepath.Join(dir, "cases")}
}

func run(t *testing.T, global []string, args ...string) (string, error) {
	root := Root()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append(args, global...))
	err := root.Execute()
	return out.String(), err
}

func TestCaseLifecycle(t *testing.T) {
	global := setup(t)

	out, err := run(t, global, "case", "create", "--examiner", "A. Perez", "--description", "incident")
	require.NoError(t, err)
	c := &casestore.Case{}
	require.NoError(t, json.Unmarshal([]byte(out), c))
	assert.Equal(t, "CASO-001", c.ID)
	assert.Equal(t, casestore.StatusActive, c.Status)

	_, err = run(t, global, "case", "create", "--examiner", "A. Perez", "CASO-001")
	assert.ErrorIs(t, err, casestore.ErrDuplicateCase)

	out, err = run(t, global, "case", "update", "--status", "closed", "CASO-001")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), c))
	assert.Equal(t, casestore.StatusClosed, c.Status)

	out, err = run(t, global, "case", "list")
	require.NoError(t, err)
	var cases []*casestore.Case
	require.NoError(t, json.Unmarshal([]byte(out), &cases))
	assert.Len(t, cases, 1)

	out, err = run(t, global, "case", "delete", "--yes", "CASO-001")
	require.NoError(t, err)
	assert.Equal(t, "deleted CASO-001\n", out)

	_, err = run(t, global, "case", "get", "CASO-001")
	assert.ErrorIs(t, err, casestore.ErrNotFound)
}

func TestEvidenceAndCustody(t *testing.T) {
	global := setup(t)
	_, err := run(t, global, "case", "create", "--examiner", "A. Perez", "CASO-001")
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "systeminfo.txt")
	require.NoError(t, os.WriteFile(src, []byte("hostname: SYS-1\n"), 0600))

	out, err := run(t, global, "evidence", "add", "--type", "system_info", "--copy", "-m", "host=SYS-1", "CASO-001", src)
	require.NoError(t, err)
	record := &casestore.EvidenceRecord{}
	require.NoError(t, json.Unmarshal([]byte(out), record))
	assert.Equal(t, "EVD-000001", record.ID)
	assert.Equal(t, casestore.EvidenceAcquired, record.Status)
	assert.True(t, strings.HasPrefix(record.SourceRef, "evidence/"))
	assert.Equal(t, "SYS-1", record.Metadata["host"])

	_, err = run(t, global, "analysis", "add", "--type", "network", "--tool", "netstat", "-e", "GHOST-1", "CASO-001")
	assert.ErrorIs(t, err, casestore.ErrDanglingReference)

	_, err = run(t, global, "analysis", "add", "--type", "network", "--tool", "netstat", "-e", "EVD-000001", "CASO-001")
	require.NoError(t, err)

	_, err = run(t, global, "custody", "add", "--handler", "B. Ruiz", "CASO-001", "EVD-000001", "transferred")
	require.NoError(t, err)

	out, err = run(t, global, "custody", "history", "CASO-001", "EVD-000001")
	require.NoError(t, err)
	var entries []*casestore.CustodyEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "collected", entries[0].Action)
	assert.Equal(t, "transferred", entries[1].Action)

	out, err = run(t, global, "custody", "verify", "CASO-001")
	require.NoError(t, err)
	assert.Equal(t, "chain of custody is intact\n", out)

	out, err = run(t, global, "verify", "CASO-001")
	require.NoError(t, err)
	report := &casestore.VerificationReport{}
	require.NoError(t, json.Unmarshal([]byte(out), report))
	assert.Equal(t, 1, report.Count(casestore.VerifyOK))

	out, err = run(t, global, "evidence", "list", "--csv", "CASO-001")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "evidence_id,"), out)
	assert.Contains(t, out, "metadata.host")
}

func TestCustodyExportCheck(t *testing.T) {
	global := setup(t)
	_, err := run(t, global, "case", "create", "--examiner", "A. Perez", "CASO-001")
	require.NoError(t, err)
	_, err = run(t, global, "evidence", "add", "--type", "processes", "CASO-001")
	require.NoError(t, err)

	for _, format := range casestore.Formats {
		t.Run(format, func(t *testing.T) {
			out, err := run(t, global, "custody", "export", "--format", format, "CASO-001")
			require.NoError(t, err)

			export := filepath.Join(t.TempDir(), "custody."+format)
			require.NoError(t, os.WriteFile(export, []byte(out), 0600))

			out, err = run(t, global, "custody", "check", export)
			require.NoError(t, err)
			assert.Equal(t, "chain of custody is intact\n", out)
		})
	}
}

func TestArchiveCommands(t *testing.T) {
	global := setup(t)
	_, err := run(t, global, "case", "create", "--examiner", "A. Perez", "CASO-001")
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "ps.txt")
	require.NoError(t, os.WriteFile(src, []byte("PID 1 init\n"), 0600))
	_, err = run(t, global, "evidence", "add", "--type", "processes", "--copy", "CASO-001", src)
	require.NoError(t, err)

	dst := filepath.Join(t.TempDir(), "CASO-001.sqlar")
	_, err = run(t, global, "case", "archive", "CASO-001", dst)
	require.NoError(t, err)

	out, err := run(t, global, "archive", "ls", dst)
	require.NoError(t, err)
	assert.Contains(t, out, "/CASO-001/case.db\t")
	assert.Contains(t, out, "/CASO-001/evidence\n")

	folder := t.TempDir()
	_, err = run(t, global, "archive", "unpack", "--mode", "basename", dst, folder)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(folder, "case.db"))

	_, err = run(t, global, "case", "delete", "--yes", "CASO-001")
	require.NoError(t, err)
	out, err = run(t, global, "case", "restore", dst)
	require.NoError(t, err)
	c := &casestore.Case{}
	require.NoError(t, json.Unmarshal([]byte(out), c))
	assert.Equal(t, "CASO-001", c.ID)
}

func TestNormalizeFilePath(t *testing.T) {
	x32 := strings.Repeat("x", 32)
	longFileName := strings.Repeat("long_file_name_", 8)

	pathTests := []struct {
		name              string
		srcPath           string
		normalizedSrcPath string
	}{
		{"Windows path", `/C/Users/user/NTUSER.DAT`, `C_Users_user_NTUSER.DAT`},
		{"Linux path", `/home/username/.bash_history`, `home_username_.bash_history`},
		{
			"Long path",
			`/C/Users/user/AppData/Local/Google/Chrome/User Data/Default/Extensions/` + x32 + `/1.11_1/_metadata/folder_` + x32 + `/` + longFileName + `.json`,
			`AppD_Loca_Goog_Chro_User_Defa_Exte_xxxx_1.11__met_fold_long.json`,
		},
	}

	for _, pt := range pathTests {
		t.Run(pt.name, func(t *testing.T) {
			got := normalizeFilePath(pt.srcPath)

			if got != pt.normalizedSrcPath {
				t.Fatalf("need %v, got %v", pt.normalizedSrcPath, got)
			}
		})
	}
}

func Test_last(t *testing.T) {
	type args struct {
		s string
		n int
	}
	tests := []struct {
		name string
		args args
		want string
	}{
		{"long", args{"abcdef", 2}, "ef"},
		{"short", args{"abc", 4}, "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := last(tt.args.s, tt.args.n); got != tt.want {
				t.Errorf("last() = %v, want %v", got, tt.want)
			}
		})
	}
}

func Test_splitExt(t *testing.T) {
	tests := []struct {
		name     string
		filePath string
		wantName string
		wantExt  string
	}{
		{"ext", "report.pdf", "report", ".pdf"},
		{"no ext", "NTUSER", "NTUSER", ""},
		{"dot file", ".bash_history", "", ".bash_history"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, ext := splitExt(tt.filePath)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantExt, ext)
		})
	}
}
