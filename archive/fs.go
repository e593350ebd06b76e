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

// Package archive reads and writes SQLite archives (sqlar), the single file
// format cases are archived in. An archive is exposed as an afero.Fs, so
// cases can be packed and unpacked with the usual filesystem helpers.
package archive

import (
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// ErrNotImplemented is returned for random access file operations.
var ErrNotImplemented = errors.New("not implemented")

// ErrReadOnly is returned when an opened archive is modified.
var ErrReadOnly = errors.New("archive is read only")

const table = `CREATE TABLE IF NOT EXISTS sqlar(
  name TEXT PRIMARY KEY,  -- name of the file
  mode INT,               -- access permissions
  mtime INT,              -- last modification time
  sz INT,                 -- original file size
  data BLOB               -- compressed content
);`

// unix file type bits as stored by the sqlite3 command line tool
const (
	modeType = 0o170000
	modeDir  = 0o040000
	modeFile = 0o100000
)

// defaultSpool is the size up to which members are compressed in memory.
const defaultSpool = 4 << 20

// FS is an afero.Fs backed by a sqlar table. It is not safe for concurrent
// use.
type FS struct {
	conn     *sqlite.Conn
	readOnly bool
	spoolDir string
	spool    int64
	closed   bool
}

var _ afero.Fs = (*FS)(nil)

// Create creates a new archive at url. An existing archive is extended.
func Create(url string) (*FS, error) {
	conn, err := sqlite.OpenConn(url, 0)
	if err != nil {
		return nil, err
	}
	// archives are single files
	err = sqlitex.ExecTransient(conn, "PRAGMA journal_mode=DELETE", nil)
	if err == nil {
		err = sqlitex.ExecTransient(conn, table, nil)
	}
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &FS{conn: conn, spool: defaultSpool, spoolDir: filepath.Dir(url)}, nil
}

// Open opens an existing archive read only.
func Open(url string) (*FS, error) {
	conn, err := sqlite.OpenConn(url, sqlite.SQLITE_OPEN_READONLY)
	if err != nil {
		return nil, err
	}
	if err := sqlitex.ExecTransient(conn, "SELECT name FROM sqlar LIMIT 1", nil); err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "%s is not an archive", url)
	}
	return &FS{conn: conn, readOnly: true}, nil
}

// SetSpool sets the size up to which members are buffered in memory and the
// folder larger members are buffered in.
func (fs *FS) SetSpool(size int64, dir string) {
	fs.spool = size
	fs.spoolDir = dir
}

func (fs *FS) Chmod(name string, mode os.FileMode) error {
	if fs.readOnly {
		return ErrReadOnly
	}
	name = normalizeFilename(name)
	if _, err := fs.Stat(name); err != nil {
		return err
	}
	return sqlitex.Exec(fs.conn, "UPDATE sqlar SET mode = (mode & ?) | ? WHERE name = ?", nil,
		int64(modeType), int64(mode.Perm()), name)
}

// Chown is a no-op, archives do not store owners.
func (fs *FS) Chown(name string, uid, gid int) error {
	_, err := fs.Stat(name)
	return err
}

func (fs *FS) Chtimes(name string, atime time.Time, mtime time.Time) error {
	if fs.readOnly {
		return ErrReadOnly
	}
	name = normalizeFilename(name)
	if _, err := fs.Stat(name); err != nil {
		return err
	}
	return sqlitex.Exec(fs.conn, "UPDATE sqlar SET mtime = ? WHERE name = ?", nil, mtime.Unix(), name)
}

func (fs *FS) Create(name string) (afero.File, error) {
	return fs.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
}

func (fs *FS) Mkdir(name string, perm os.FileMode) error {
	if fs.readOnly {
		return ErrReadOnly
	}
	name = normalizeFilename(name)
	if _, err := fs.Stat(name); err == nil {
		return &os.PathError{Op: "mkdir", Path: name, Err: os.ErrExist}
	}
	return sqlitex.Exec(fs.conn, `INSERT INTO sqlar (name, mode, mtime, sz, data) VALUES (?, ?, ?, 0, NULL)`, nil,
		name, toUnixMode(perm|os.ModeDir), time.Now().Unix())
}

func (fs *FS) MkdirAll(p string, perm os.FileMode) error {
	p = normalizeFilename(p)
	all := ""
	for _, part := range strings.Split(p, "/") {
		if part == "" {
			continue
		}
		all = path.Join(all, part)
		info, err := fs.Stat(all)
		if err == nil {
			if !info.IsDir() {
				return &os.PathError{Op: "mkdir", Path: all, Err: errors.New("not a directory")}
			}
			continue
		}
		if err := fs.Mkdir(all, perm); err != nil {
			return err
		}
	}
	return nil
}

func (fs *FS) Name() string {
	return "SQLiteArchive"
}

func (fs *FS) Open(name string) (afero.File, error) {
	return fs.OpenFile(name, os.O_RDONLY, 0)
}

func (fs *FS) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	name = normalizeFilename(name)

	if flag&(os.O_RDWR|os.O_WRONLY|os.O_CREATE) != 0 {
		if fs.readOnly {
			return nil, ErrReadOnly
		}
		if flag&os.O_CREATE == 0 {
			return nil, ErrNotImplemented
		}
		if name == "" {
			return nil, &os.PathError{Op: "open", Path: "/", Err: os.ErrExist}
		}
		if info, err := fs.Stat(name); err == nil && (info.IsDir() || flag&os.O_EXCL != 0) {
			return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrExist}
		}
		id, err := fs.createFile(name, perm)
		if err != nil {
			return nil, err
		}
		return newWriteItem(fs, id, name, perm)
	}

	if name == "" {
		children, err := fs.selectChildren(name)
		if err != nil {
			return nil, err
		}
		return newReadItem(fs, 0, name, rootInfo(), 0, children)
	}

	var found bool
	var id, stored int64
	var info *Info
	err := sqlitex.Exec(fs.conn, `SELECT rowid, mode, mtime, sz, COALESCE(length(data), 0) FROM sqlar WHERE name = ?`,
		func(stmt *sqlite.Stmt) error {
			found = true
			id = stmt.ColumnInt64(0)
			info = newInfo(name, stmt.ColumnInt64(1), stmt.ColumnInt64(2), stmt.ColumnInt64(3))
			stored = stmt.ColumnInt64(4)
			return nil
		}, name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrNotExist}
	}

	var children []os.FileInfo
	if info.IsDir() {
		children, err = fs.selectChildren(name)
		if err != nil {
			return nil, err
		}
	}
	return newReadItem(fs, id, name, info, stored, children)
}

// selectChildren returns the direct children of a folder sorted by name.
func (fs *FS) selectChildren(name string) ([]os.FileInfo, error) {
	query := "SELECT name, mode, mtime, sz FROM sqlar"
	var args []interface{}
	prefix := ""
	if name != "" {
		prefix = name + "/"
		query += " WHERE name >= ? AND name < ?"
		args = append(args, prefix, name+"0")
	}
	query += " ORDER BY name"

	children := []os.FileInfo{}
	err := sqlitex.Exec(fs.conn, query, func(stmt *sqlite.Stmt) error {
		rest := strings.TrimPrefix(stmt.ColumnText(0), prefix)
		if rest == "" || strings.Contains(rest, "/") {
			return nil
		}
		children = append(children, newInfo(rest, stmt.ColumnInt64(1), stmt.ColumnInt64(2), stmt.ColumnInt64(3)))
		return nil
	}, args...)
	return children, err
}

func (fs *FS) createFile(name string, perm os.FileMode) (int64, error) {
	if err := fs.Remove(name); err != nil && !os.IsNotExist(err) {
		return 0, err
	}
	err := sqlitex.Exec(fs.conn, `INSERT INTO sqlar (name, mode, mtime, sz, data) VALUES (?, ?, ?, 0, zeroblob(0))`, nil,
		name, toUnixMode(perm), time.Now().Unix())
	if err != nil {
		return 0, errors.Wrapf(err, "failed to create %s", name)
	}
	return fs.conn.LastInsertRowID(), nil
}

func (fs *FS) Remove(name string) error {
	if fs.readOnly {
		return ErrReadOnly
	}
	name = normalizeFilename(name)
	if _, err := fs.Stat(name); err != nil {
		return err
	}
	return sqlitex.Exec(fs.conn, "DELETE FROM sqlar WHERE name = ?", nil, name)
}

func (fs *FS) RemoveAll(p string) error {
	if fs.readOnly {
		return ErrReadOnly
	}
	p = normalizeFilename(p)
	if p == "" {
		return sqlitex.Exec(fs.conn, "DELETE FROM sqlar", nil)
	}
	return sqlitex.Exec(fs.conn, "DELETE FROM sqlar WHERE name = ? OR (name >= ? AND name < ?)", nil,
		p, p+"/", p+"0")
}

func (fs *FS) Rename(oldname, newname string) error {
	if fs.readOnly {
		return ErrReadOnly
	}
	oldname = normalizeFilename(oldname)
	newname = normalizeFilename(newname)
	if _, err := fs.Stat(oldname); err != nil {
		return err
	}
	if _, err := fs.Stat(newname); err == nil {
		return &os.PathError{Op: "rename", Path: newname, Err: os.ErrExist}
	}
	return sqlitex.Exec(fs.conn,
		"UPDATE sqlar SET name = ? || substr(name, ?) WHERE name = ? OR (name >= ? AND name < ?)", nil,
		newname, int64(len(oldname)+1), oldname, oldname+"/", oldname+"0")
}

func (fs *FS) Stat(name string) (os.FileInfo, error) {
	name = normalizeFilename(name)
	if name == "" {
		return rootInfo(), nil
	}

	var info *Info
	err := sqlitex.Exec(fs.conn, "SELECT mode, mtime, sz FROM sqlar WHERE name = ?", func(stmt *sqlite.Stmt) error {
		info = newInfo(name, stmt.ColumnInt64(0), stmt.ColumnInt64(1), stmt.ColumnInt64(2))
		return nil
	}, name)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, &os.PathError{Op: "stat", Path: name, Err: os.ErrNotExist}
	}
	return info, nil
}

// Close closes the underlying database. Closing twice is a no-op.
func (fs *FS) Close() error {
	if fs.closed {
		return nil
	}
	fs.closed = true
	return fs.conn.Close()
}

// Info describes an archive member.
type Info struct {
	sz    int64
	mtime time.Time
	mode  os.FileMode
	name  string
}

func newInfo(name string, mode, mtime, size int64) *Info {
	return &Info{
		name:  path.Base(name),
		sz:    size,
		mode:  fromUnixMode(mode),
		mtime: time.Unix(mtime, 0),
	}
}

func rootInfo() *Info {
	return &Info{name: "/", mode: os.ModeDir | 0755}
}

func (i *Info) Name() string       { return i.name }
func (i *Info) Size() int64        { return i.sz }
func (i *Info) Mode() os.FileMode  { return i.mode }
func (i *Info) ModTime() time.Time { return i.mtime }
func (i *Info) IsDir() bool        { return i.mode.IsDir() }
func (i *Info) Sys() interface{}   { return nil }

func toUnixMode(mode os.FileMode) int64 {
	if mode.IsDir() {
		return modeDir | int64(mode.Perm())
	}
	return modeFile | int64(mode.Perm())
}

func fromUnixMode(mode int64) os.FileMode {
	m := os.FileMode(mode & 0o777)
	if mode&modeType == modeDir {
		m |= os.ModeDir
	}
	return m
}

// normalizeFilename returns the sqlar name of a path: slash separated,
// relative and cleaned. The root is "".
func normalizeFilename(name string) string {
	name = path.Clean("/" + filepath.ToSlash(name))
	return strings.TrimPrefix(name, "/")
}
