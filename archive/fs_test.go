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

package archive

import (
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"
	"time"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var bigContent = strings.Repeat("test", 1000)

func dummyFS(t *testing.T) (*FS, string) {
	name := filepath.Join(t.TempDir(), "test.sqlar")
	fs, err := Create(name)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { fs.Close() })

	// create file
	if err := afero.WriteFile(fs, "/myfile1.txt", []byte(bigContent), 0666); err != nil {
		t.Fatal(err)
	}

	// create directories
	if err := fs.MkdirAll("/dir/subdir", 0755); err != nil {
		t.Fatal(err)
	}

	// create 2. file
	if err := afero.WriteFile(fs, "/dir/subdir/myfile2.txt", []byte("test2"), 0640); err != nil {
		t.Fatal(err)
	}
	return fs, name
}

func TestFS_Chmod(t *testing.T) {
	type args struct {
		name string
		mode os.FileMode
	}
	tests := []struct {
		name     string
		args     args
		wantMode os.FileMode
		wantErr  bool
	}{
		{"set mode", args{name: "/myfile1.txt", mode: 0}, 0, false},
		{"dir keeps type", args{name: "/dir", mode: 0700}, os.ModeDir | 0700, false},
		{"missing", args{name: "/none", mode: 0700}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs, _ := dummyFS(t)

			if err := fs.Chmod(tt.args.name, tt.args.mode); (err != nil) != tt.wantErr {
				t.Fatalf("Chmod() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			info, err := fs.Stat(tt.args.name)
			require.NoError(t, err)
			if info.Mode() != tt.wantMode {
				t.Errorf("Chmod() error = got %v, want %v", info.Mode(), tt.wantMode)
			}
		})
	}
}

func TestFS_Chtimes(t *testing.T) {
	myTime := time.Date(2019, 11, 21, 10, 0, 0, 0, time.UTC)
	fs, _ := dummyFS(t)

	require.NoError(t, fs.Chtimes("/myfile1.txt", myTime, myTime))
	info, err := fs.Stat("/myfile1.txt")
	require.NoError(t, err)
	if info.ModTime().Unix() != myTime.Unix() {
		t.Errorf("Chtimes() error = got %v, want %v", info.ModTime(), myTime)
	}
}

func TestFS_CreateAndRead(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"compressible", "/big.txt", bigContent},
		{"incompressible", "/small.txt", "x"},
		{"empty", "/empty.txt", ""},
		{"nested", "/dir/subdir/new.txt", "nested"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs, _ := dummyFS(t)

			f, err := fs.Create(tt.file)
			require.NoError(t, err)
			_, err = f.WriteString(tt.content)
			require.NoError(t, err)
			require.NoError(t, f.Close())

			got, err := afero.ReadFile(fs, tt.file)
			require.NoError(t, err)
			assert.Equal(t, tt.content, string(got))

			info, err := fs.Stat(tt.file)
			require.NoError(t, err)
			assert.Equal(t, int64(len(tt.content)), info.Size())
			assert.False(t, info.IsDir())
		})
	}
}

func TestFS_SqlarCompatible(t *testing.T) {
	fs, name := dummyFS(t)
	require.NoError(t, fs.Close())

	conn, err := sqlite.OpenConn(name, sqlite.SQLITE_OPEN_READONLY)
	require.NoError(t, err)
	defer conn.Close()

	type row struct {
		mode   int64
		sz     int64
		stored int64
	}
	rows := map[string]row{}
	err = sqlitex.Exec(conn, "SELECT name, mode, sz, COALESCE(length(data), -1) FROM sqlar", func(stmt *sqlite.Stmt) error {
		rows[stmt.ColumnText(0)] = row{stmt.ColumnInt64(1), stmt.ColumnInt64(2), stmt.ColumnInt64(3)}
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, row{0o100666, 4000, rows["myfile1.txt"].stored}, rows["myfile1.txt"])
	assert.Less(t, rows["myfile1.txt"].stored, int64(4000), "compressed")
	assert.Equal(t, row{0o040755, 0, -1}, rows["dir"])
	assert.Equal(t, row{0o100640, 5, 5}, rows["dir/subdir/myfile2.txt"])
}

func TestFS_CloseTwice(t *testing.T) {
	fs, name := dummyFS(t)
	require.NoError(t, fs.Close())
	require.NoError(t, fs.Close())

	ro, err := Open(name)
	require.NoError(t, err)
	require.NoError(t, ro.Close())
	assert.NoError(t, ro.Close())
}

func TestFS_Mkdir(t *testing.T) {
	fs, _ := dummyFS(t)

	require.NoError(t, fs.Mkdir("/mydir", 0700))
	info, err := fs.Stat("/mydir")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	err = fs.Mkdir("/mydir", 0700)
	assert.True(t, os.IsExist(err), "Mkdir() error = %v", err)

	err = fs.MkdirAll("/myfile1.txt/sub", 0700)
	assert.Error(t, err)
}

func TestFS_Readdir(t *testing.T) {
	fs, _ := dummyFS(t)
	require.NoError(t, afero.WriteFile(fs, "/dir/a.txt", []byte("a"), 0640))
	require.NoError(t, afero.WriteFile(fs, "/dir0.txt", []byte("0"), 0640))

	tests := []struct {
		name string
		dir  string
		want []string
	}{
		{"root", "/", []string{"dir", "dir0.txt", "myfile1.txt"}},
		{"dir", "/dir", []string{"a.txt", "subdir"}},
		{"subdir", "dir/subdir", []string{"myfile2.txt"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			names, err := afero.ReadDir(fs, tt.dir)
			require.NoError(t, err)
			var got []string
			for _, info := range names {
				got = append(got, info.Name())
			}
			sort.Strings(got)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ReadDir() = %v, want %v", got, tt.want)
			}
		})
	}

	f, err := fs.Open("/dir")
	require.NoError(t, err)
	defer f.Close()
	first, err := f.Readdirnames(1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, first)
	second, err := f.Readdirnames(5)
	require.NoError(t, err)
	assert.Equal(t, []string{"subdir"}, second)
	_, err = f.Readdirnames(1)
	assert.Error(t, err)
}

func TestFS_RemoveAndRename(t *testing.T) {
	fs, _ := dummyFS(t)

	require.NoError(t, fs.Rename("/dir", "/moved"))
	got, err := afero.ReadFile(fs, "/moved/subdir/myfile2.txt")
	require.NoError(t, err)
	assert.Equal(t, "test2", string(got))
	exists, err := afero.Exists(fs, "/dir/subdir")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, fs.Remove("/myfile1.txt"))
	_, err = fs.Stat("/myfile1.txt")
	assert.True(t, os.IsNotExist(err), "Stat() error = %v", err)

	require.NoError(t, fs.RemoveAll("/moved"))
	infos, err := afero.ReadDir(fs, "/")
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestOpen_ReadOnly(t *testing.T) {
	fs, name := dummyFS(t)
	require.NoError(t, fs.Close())

	ro, err := Open(name)
	require.NoError(t, err)
	defer ro.Close()

	got, err := afero.ReadFile(ro, "/myfile1.txt")
	require.NoError(t, err)
	assert.Equal(t, bigContent, string(got))

	assert.Equal(t, ErrReadOnly, ro.Mkdir("/x", 0755))
	assert.Equal(t, ErrReadOnly, ro.Remove("/myfile1.txt"))
	_, err = ro.Create("/new.txt")
	assert.Equal(t, ErrReadOnly, err)

	other := filepath.Join(t.TempDir(), "plain.db")
	conn, err := sqlite.OpenConn(other, 0)
	require.NoError(t, err)
	require.NoError(t, sqlitex.ExecTransient(conn, "CREATE TABLE t (x INT)", nil))
	require.NoError(t, conn.Close())
	_, err = Open(other)
	assert.Error(t, err)
}

func Test_normalizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/", ""},
		{"", ""},
		{"/a/b/", "a/b"},
		{"a//b/../c", "a/c"},
		{"/../a", "a"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeFilename(tt.in))
		})
	}
}
