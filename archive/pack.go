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
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// Pack copies the tree below root of src into the archive, below prefix.
// skip may exclude paths, given relative to root.
func Pack(dst *FS, prefix string, src afero.Fs, root string, skip func(rel string) bool) error {
	if err := dst.MkdirAll(prefix, 0755); err != nil {
		return err
	}
	return afero.Walk(src, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if skip != nil && skip(rel) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		name := path.Join(prefix, rel)

		if info.IsDir() {
			if err := dst.MkdirAll(name, info.Mode().Perm()); err != nil {
				return err
			}
			return dst.Chtimes(name, info.ModTime(), info.ModTime())
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		if err := copyFile(dst, name, src, p, info.Mode().Perm()); err != nil {
			return errors.Wrapf(err, "packing %s", rel)
		}
		return dst.Chtimes(name, info.ModTime(), info.ModTime())
	})
}

// Unpack copies the tree below prefix of the archive to root in dst. rename
// may redirect files, it gets and returns paths relative to prefix.
func Unpack(dst afero.Fs, root string, src *FS, prefix string, rename func(rel string) string) error {
	prefix = normalizeFilename(prefix)
	return afero.Walk(src, "/"+prefix, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(normalizeFilename(p), prefix), "/")
		if rel == "" {
			return dst.MkdirAll(root, 0750)
		}
		if strings.HasPrefix(rel, "../") || rel == ".." {
			return errors.Errorf("invalid member %s", p)
		}
		if info.IsDir() {
			return dst.MkdirAll(filepath.Join(root, filepath.FromSlash(rel)), 0750)
		}
		if rename != nil {
			rel = rename(rel)
		}
		name := filepath.Join(root, filepath.FromSlash(rel))
		if err := dst.MkdirAll(filepath.Dir(name), 0750); err != nil {
			return err
		}
		if err := copyFile(dst, name, src, p, 0640); err != nil {
			return errors.Wrapf(err, "unpacking %s", rel)
		}
		return dst.Chtimes(name, info.ModTime(), info.ModTime())
	})
}

func copyFile(dst afero.Fs, dstName string, src afero.Fs, srcName string, perm os.FileMode) error {
	in, err := src.Open(srcName)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := dst.OpenFile(dstName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
