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

package casestore

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
	"filippo.io/age"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/forensicanalysis/casestore/archive"
)

// ArchiveCase packs a consistent snapshot of the case database and all
// partitions into a single sqlar file at dst and marks the case archived.
// With recipients the archive is age encrypted.
func (s *Store) ArchiveCase(ctx context.Context, id, dst string, recipients ...age.Recipient) (*Case, error) {
	if err := validateID("case id", id); err != nil {
		return nil, err
	}
	if _, err := os.Stat(dst); err == nil {
		return nil, errors.Wrapf(ErrInvalidInput, "%s already exists", dst)
	}

	lock := s.locks.get(id)
	if err := lock.acquire(ctx, s.lockTimeout); err != nil {
		return nil, errors.Wrapf(err, "case %s", id)
	}
	defer lock.release()

	tmp, err := os.MkdirTemp(filepath.Dir(dst), ".casestore-archive-")
	if err != nil {
		return nil, storageError(err, "could not create temporary folder")
	}
	defer os.RemoveAll(tmp)

	snapshot := filepath.Join(tmp, dbName)
	err = s.withConn(ctx, id, func(conn *sqlite.Conn) error {
		return sqlitex.ExecTransient(conn, "VACUUM INTO ?", nil, snapshot)
	})
	if err != nil {
		return nil, err
	}

	packed := filepath.Join(tmp, "case.sqlar")
	if err := s.pack(id, snapshot, packed, tmp); err != nil {
		return nil, storageError(err, "could not pack case")
	}

	if len(recipients) > 0 {
		if err := encryptFile(packed, dst+partialSuffix, recipients); err != nil {
			os.Remove(dst + partialSuffix)
			return nil, err
		}
	} else if err := os.Rename(packed, dst+partialSuffix); err != nil {
		return nil, storageError(err, "could not write archive")
	}
	if err := os.Rename(dst+partialSuffix, dst); err != nil {
		return nil, storageError(err, "could not publish archive")
	}

	var c *Case
	err = s.withConn(ctx, id, func(conn *sqlite.Conn) (err error) {
		defer sqlitex.Save(conn)(&err)
		c, err = selectCase(conn, id)
		if err != nil {
			return err
		}
		c, err = applyUpdate(c, CaseUpdate{Status: StatusArchived}, s.clock.Now().UTC())
		if err != nil {
			return err
		}
		return updateCase(conn, c)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("case archived", "case", id, "archive", dst, "encrypted", len(recipients) > 0)
	return c, nil
}

func (s *Store) pack(id, snapshot, dst, spoolDir string) error {
	fs, err := archive.Create(dst)
	if err != nil {
		return err
	}
	fs.SetSpool(4<<20, spoolDir)

	err = archive.Pack(fs, id, s.fs, id, func(rel string) bool {
		return strings.HasPrefix(rel, dbName) || strings.HasPrefix(path.Base(rel), ".")
	})
	if err == nil {
		err = archive.Pack(fs, id, afero.NewBasePathFs(afero.NewOsFs(), filepath.Dir(snapshot)), "/",
			func(rel string) bool { return rel != dbName })
	}
	if cerr := fs.Close(); err == nil {
		err = cerr
	}
	return err
}

// RestoreCase unpacks an archive written by ArchiveCase into the store. The
// case must not exist. Encrypted archives need a matching identity.
func (s *Store) RestoreCase(ctx context.Context, src string, identities ...age.Identity) (*Case, error) {
	tmp, err := os.MkdirTemp(s.root, restorePrefix)
	if err != nil {
		return nil, storageError(err, "could not create temporary folder")
	}
	defer os.RemoveAll(tmp)

	plain, err := decryptFile(src, filepath.Join(tmp, "case.sqlar"), identities)
	if err != nil {
		return nil, err
	}

	fs, err := archive.Open(plain)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidInput, err.Error())
	}
	defer fs.Close()

	id, err := archivedCaseID(fs)
	if err != nil {
		return nil, err
	}

	lock := s.locks.get(id)
	if err := lock.acquire(ctx, s.lockTimeout); err != nil {
		return nil, errors.Wrapf(err, "case %s", id)
	}
	defer lock.release()

	if err := s.fs.Mkdir(id, 0750); err != nil {
		if os.IsExist(err) {
			return nil, errors.Wrapf(ErrDuplicateCase, "case %s", id)
		}
		return nil, storageError(err, "could not create case folder")
	}
	done := false
	defer func() {
		if !done {
			if err := s.fs.RemoveAll(id); err != nil {
				s.logger.Warn("could not clean up case folder", "case", id, "error", err)
			}
		}
	}()

	err = archive.Unpack(s.fs, id, fs, id, func(rel string) string {
		if rel == dbName {
			return dbName + partialSuffix
		}
		return rel
	})
	if err != nil {
		return nil, storageError(err, "could not unpack case")
	}

	c, err := checkRestored(filepath.Join(s.root, id, dbName+partialSuffix), id)
	if err != nil {
		return nil, err
	}
	if err := s.fs.Rename(path.Join(id, dbName+partialSuffix), path.Join(id, dbName)); err != nil {
		return nil, storageError(err, "could not publish case database")
	}
	if err := s.setupPartitions(id); err != nil {
		return nil, err
	}
	done = true

	s.logger.Info("case restored", "case", id, "archive", src)
	return c, nil
}

// archivedCaseID returns the single top level folder of an archive.
func archivedCaseID(fs *archive.FS) (string, error) {
	root, err := fs.Open("/")
	if err != nil {
		return "", errors.Wrap(ErrInvalidInput, err.Error())
	}
	defer root.Close()
	infos, err := root.Readdir(-1)
	if err != nil {
		return "", errors.Wrap(ErrInvalidInput, err.Error())
	}
	if len(infos) != 1 || !infos[0].IsDir() {
		return "", errors.Wrap(ErrInvalidInput, "archive must contain exactly one case")
	}
	id := infos[0].Name()
	if err := validateID("case id", id); err != nil {
		return "", err
	}
	if _, err := fs.Stat(path.Join(id, dbName)); err != nil {
		return "", errors.Wrapf(ErrInvalidInput, "archive has no %s", dbName)
	}
	return id, nil
}

func checkRestored(name, id string) (*Case, error) {
	conn, err := sqlite.OpenConn(name, 0)
	if err != nil {
		return nil, storageError(err, "could not open restored database")
	}
	defer conn.Close()
	if err := checkSchema(conn); err != nil {
		return nil, storageError(err, "restored database")
	}
	c, err := selectCase(conn, id)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidInput, err.Error())
	}
	return c, nil
}

func encryptFile(src, dst string, recipients []age.Recipient) error {
	in, err := os.Open(src)
	if err != nil {
		return storageError(err, "could not read archive")
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return storageError(err, "could not write archive")
	}
	if err := archive.Encrypt(out, in, recipients...); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// decryptFile returns src if it is a plain archive, or the name of its
// decrypted copy at dst.
func decryptFile(src, dst string, identities []age.Identity) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.Wrapf(ErrNotFound, "archive %s", src)
		}
		return "", storageError(err, "could not read archive")
	}
	defer in.Close()

	encrypted, r, err := archive.IsEncrypted(in)
	if err != nil {
		return "", storageError(err, "could not read archive")
	}
	if !encrypted {
		return src, nil
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return "", storageError(err, "could not decrypt archive")
	}
	if err := archive.Decrypt(out, r, identities...); err != nil {
		out.Close()
		return "", errors.Wrap(ErrInvalidInput, err.Error())
	}
	return dst, out.Close()
}
