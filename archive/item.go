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
	"compress/zlib"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"crawshaw.io/sqlite/sqlitex"

	"github.com/forensicanalysis/casestore/archive/spooled"
)

type item struct {
	fs   *FS
	path string
	id   int64

	// reader item
	reader   io.Reader
	info     os.FileInfo
	data     io.Closer
	children []os.FileInfo
	offset   int

	// writer item
	perm       os.FileMode
	raw        *spooled.TemporaryFile
	compressed *spooled.TemporaryFile
	zw         *zlib.Writer
	writer     io.Writer
	closed     bool
}

func newWriteItem(fs *FS, id int64, name string, perm os.FileMode) (*item, error) {
	i := &item{fs: fs, id: id, path: name, perm: perm}
	i.raw, _ = spooled.New(fs.spool, fs.spoolDir)
	i.compressed, _ = spooled.New(fs.spool, fs.spoolDir)
	i.zw = zlib.NewWriter(i.compressed)
	i.writer = io.MultiWriter(i.raw, i.zw)
	return i, nil
}

// newReadItem opens the blob of a member. Content is zlib compressed unless
// the stored size equals the original size.
func newReadItem(fs *FS, id int64, name string, info os.FileInfo, stored int64, children []os.FileInfo) (*item, error) {
	i := &item{fs: fs, id: id, path: name, info: info, children: children}
	if info.IsDir() {
		return i, nil
	}
	if info.Size() == 0 || stored == 0 {
		i.reader = strings.NewReader("")
		return i, nil
	}

	blob, err := fs.conn.OpenBlob("", "sqlar", "data", id, false)
	if err != nil {
		return nil, err
	}
	i.data = blob
	if stored == info.Size() {
		i.reader = blob
		return i, nil
	}
	zr, err := zlib.NewReader(blob)
	if err != nil {
		blob.Close()
		return nil, err
	}
	i.reader = zr
	return i, nil
}

func (i *item) Name() string {
	return path.Base(i.path)
}

func (i *item) Read(p []byte) (n int, err error) {
	if i.reader == nil {
		return 0, &os.PathError{Op: "read", Path: i.path, Err: ErrNotImplemented}
	}
	return i.reader.Read(p)
}

func (i *item) ReadAt(p []byte, off int64) (n int, err error) {
	return 0, ErrNotImplemented
}

func (i *item) Seek(offset int64, whence int) (int64, error) {
	return 0, ErrNotImplemented
}

func (i *item) Readdir(count int) ([]os.FileInfo, error) {
	rest := i.children[i.offset:]
	if count <= 0 {
		i.offset = len(i.children)
		return rest, nil
	}
	if len(rest) == 0 {
		return nil, io.EOF
	}
	if count > len(rest) {
		count = len(rest)
	}
	i.offset += count
	return rest[:count], nil
}

func (i *item) Readdirnames(n int) ([]string, error) {
	infos, err := i.Readdir(n)
	names := make([]string, len(infos))
	for c, info := range infos {
		names[c] = info.Name()
	}
	return names, err
}

func (i *item) Stat() (os.FileInfo, error) {
	if i.writer != nil {
		return &Info{name: i.Name(), sz: i.raw.Size(), mode: i.perm, mtime: time.Now()}, nil
	}
	return i.info, nil
}

func (i *item) Write(p []byte) (n int, err error) {
	if i.writer == nil || i.closed {
		return 0, &os.PathError{Op: "write", Path: i.path, Err: os.ErrClosed}
	}
	return i.writer.Write(p)
}

func (i *item) WriteAt(p []byte, off int64) (n int, err error) {
	return 0, ErrNotImplemented
}

func (i *item) WriteString(s string) (ret int, err error) {
	return i.Write([]byte(s))
}

// Close stores written content. Like the sqlite3 tool, content that does not
// shrink is stored uncompressed.
func (i *item) Close() error {
	if i.writer == nil {
		if i.data != nil {
			return i.data.Close()
		}
		return nil
	}
	if i.closed {
		return nil
	}
	i.closed = true
	defer i.raw.Close()
	defer i.compressed.Close()

	if err := i.zw.Close(); err != nil {
		return err
	}

	size := i.raw.Size()
	content, stored := io.Reader(i.compressed), i.compressed.Size()
	if stored >= size {
		content, stored = i.raw, size
	}

	err := sqlitex.Exec(i.fs.conn, "UPDATE sqlar SET sz = ?, data = zeroblob(?) WHERE rowid = ?", nil,
		size, stored, i.id)
	if err != nil {
		return err
	}
	if stored == 0 {
		return nil
	}

	blob, err := i.fs.conn.OpenBlob("", "sqlar", "data", i.id, true)
	if err != nil {
		return err
	}
	if _, err := io.Copy(blob, content); err != nil {
		blob.Close()
		return err
	}
	return blob.Close()
}

func (i *item) Truncate(size int64) error {
	return ErrNotImplemented
}

func (i *item) Sync() error {
	return nil
}
