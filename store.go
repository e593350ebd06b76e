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
	"sort"
	"strings"
	"sync"
	"time"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
	"github.com/google/uuid"
	"github.com/imdario/mergo"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// Partitions every case folder contains.
var Partitions = []string{"evidence", "analysis", "reports", "exports"}

const (
	tombstonePrefix    = ".deleted-"
	restorePrefix      = ".restore-"
	partialSuffix      = ".partial"
	defaultLockTimeout = 5 * time.Second
	defaultPoolSize    = 4
	defaultWorkers     = 4
	timeFormat         = "2006-01-02T15:04:05.000000000Z07:00"
)

// The Store is the central storage for forensic cases. Every case lives in
// its own folder below the store root and owns its manifest and chain of
// custody. All mutations of a case are serialised by a per case lock, while
// different cases can be changed in parallel.
type Store struct {
	root    string
	fs      afero.Fs
	content afero.Fs

	locks   *lockMap
	handles *handleMap
	openMu  sync.Mutex

	clock       Clock
	logger      Logger
	lockTimeout time.Duration
	poolSize    int
	workers     int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger, the default discards everything.
func WithLogger(logger Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock replaces the wall clock.
func WithClock(clock Clock) Option {
	return func(s *Store) { s.clock = clock }
}

// WithLockTimeout bounds how long mutations wait for the case lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithContentFs sets the filesystem evidence and report references are
// resolved in. Relative references are resolved against the case folder.
func WithContentFs(fs afero.Fs) Option {
	return func(s *Store) { s.content = fs }
}

// WithWorkers sets the number of files hashed in parallel by VerifyCase.
func WithWorkers(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithPoolSize sets the number of sqlite connections per open case.
func WithPoolSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.poolSize = n
		}
	}
}

// Open opens the casestore at root, creating the folder if needed. Leftovers
// of interrupted deletions are removed.
func Open(root string, opts ...Option) (*Store, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, storageError(err, "could not create casestore")
	}

	s := &Store{
		root:        root,
		fs:          afero.NewBasePathFs(afero.NewOsFs(), root),
		content:     afero.NewOsFs(),
		locks:       newLockMap(),
		handles:     newHandleMap(),
		clock:       systemClock{},
		logger:      NopLogger{},
		lockTimeout: defaultLockTimeout,
		poolSize:    defaultPoolSize,
		workers:     defaultWorkers,
	}
	for _, opt := range opts {
		opt(s)
	}

	infos, err := afero.ReadDir(s.fs, "/")
	if err != nil {
		return nil, storageError(err, "could not read casestore")
	}
	for _, info := range infos {
		if strings.HasPrefix(info.Name(), tombstonePrefix) || strings.HasPrefix(info.Name(), restorePrefix) {
			s.logger.Info("removing leftover of deleted case", "path", info.Name())
			if err := s.fs.RemoveAll(info.Name()); err != nil {
				s.logger.Warn("could not remove deleted case", "path", info.Name(), "error", err)
			}
		}
	}
	return s, nil
}

// Root returns the folder of the casestore.
func (s *Store) Root() string {
	return s.root
}

// CaseDir returns the folder of a case.
func (s *Store) CaseDir(caseID string) string {
	return filepath.Join(s.root, caseID)
}

// Close closes all open case databases.
func (s *Store) Close() error {
	var firstErr error
	for id, h := range s.handles.all() {
		h.life.Lock()
		if !h.closed {
			h.closed = true
			if err := h.pool.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		h.life.Unlock()
		s.handles.remove(id)
	}
	return firstErr
}

// handle returns the open database of a case, opening it on first use.
func (s *Store) handle(ctx context.Context, caseID string) (*caseHandle, error) {
	if h, ok := s.handles.get(caseID); ok {
		return h, nil
	}

	s.openMu.Lock()
	defer s.openMu.Unlock()
	if h, ok := s.handles.get(caseID); ok {
		return h, nil
	}

	if _, err := s.fs.Stat(path.Join(caseID, dbName)); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotFound, "case %s", caseID)
		}
		return nil, storageError(err, "could not stat case")
	}

	pool, err := sqlitex.Open(filepath.Join(s.root, caseID, dbName), 0, s.poolSize)
	if err != nil {
		return nil, storageError(err, "could not open case database")
	}
	conn := pool.Get(ctx)
	if conn == nil {
		pool.Close()
		return nil, errors.Wrap(ErrBusy, "no database connection")
	}
	err = checkSchema(conn)
	pool.Put(conn)
	if err != nil {
		pool.Close()
		return nil, storageError(err, caseID)
	}

	h := &caseHandle{pool: pool}
	s.handles.Lock()
	s.handles.handles[caseID] = h
	s.handles.Unlock()
	return h, nil
}

func (s *Store) withConn(ctx context.Context, caseID string, fn func(conn *sqlite.Conn) error) error {
	h, err := s.handle(ctx, caseID)
	if err != nil {
		return err
	}

	h.life.RLock()
	defer h.life.RUnlock()
	if h.closed {
		return errors.Wrapf(ErrNotFound, "case %s", caseID)
	}

	conn := h.pool.Get(ctx)
	if conn == nil {
		return errors.Wrap(ErrBusy, "no database connection")
	}
	defer h.pool.Put(conn)
	conn.SetBusyTimeout(s.lockTimeout)

	return storageError(fn(conn), "case "+caseID)
}

// write runs fn under the case lock inside a single savepoint. Either all
// changes of fn are committed or none.
func (s *Store) write(ctx context.Context, caseID string, fn func(conn *sqlite.Conn) error) error {
	if err := validateID("case id", caseID); err != nil {
		return err
	}
	lock := s.locks.get(caseID)
	if err := lock.acquire(ctx, s.lockTimeout); err != nil {
		return errors.Wrapf(err, "case %s", caseID)
	}
	defer lock.release()

	return s.withConn(ctx, caseID, func(conn *sqlite.Conn) (err error) {
		defer sqlitex.Save(conn)(&err)
		return fn(conn)
	})
}

// read runs fn in a read transaction, so all queries see the same snapshot.
func (s *Store) read(ctx context.Context, caseID string, fn func(conn *sqlite.Conn) error) error {
	if err := validateID("case id", caseID); err != nil {
		return err
	}
	return s.withConn(ctx, caseID, func(conn *sqlite.Conn) (err error) {
		defer sqlitex.Save(conn)(&err)
		return fn(conn)
	})
}

/* ################################
#   Cases
################################ */

// CreateCase creates the case folder with its partitions and database.
func (s *Store) CreateCase(ctx context.Context, id, examiner, organization, description, timezone string) (*Case, error) {
	c, err := NewCase(id, examiner, organization, description, timezone)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	c.UUID = uuid.NewString()
	c.CreatedAt = now
	c.UpdatedAt = now

	if err := s.createCase(ctx, c, nil); err != nil {
		return nil, err
	}
	s.logger.Info("case created", "case", id, "examiner", examiner)
	return c, nil
}

// createCase reserves the case folder, builds the database under a
// temporary name and publishes it once complete. fill may add records in the
// same transaction as the case record.
func (s *Store) createCase(ctx context.Context, c *Case, fill func(conn *sqlite.Conn) error) error {
	id := c.ID
	lock := s.locks.get(id)
	if err := lock.acquire(ctx, s.lockTimeout); err != nil {
		return errors.Wrapf(err, "case %s", id)
	}
	defer lock.release()

	if err := s.fs.Mkdir(id, 0750); err != nil {
		if os.IsExist(err) {
			return errors.Wrapf(ErrDuplicateCase, "case %s", id)
		}
		return storageError(err, "could not create case folder")
	}
	done := false
	defer func() {
		if !done {
			if err := s.fs.RemoveAll(id); err != nil {
				s.logger.Warn("could not clean up case folder", "case", id, "error", err)
			}
		}
	}()

	partial := filepath.Join(s.root, id, dbName+partialSuffix)
	conn, err := sqlite.OpenConn(partial, 0)
	if err != nil {
		return storageError(err, "could not create case database")
	}
	err = initSchema(conn)
	if err == nil {
		err = populate(conn, c, fill)
	}
	if cerr := conn.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return storageError(err, "could not initialise case database")
	}
	if err := s.fs.Rename(path.Join(id, dbName+partialSuffix), path.Join(id, dbName)); err != nil {
		return storageError(err, "could not publish case database")
	}

	if err := s.setupPartitions(id); err != nil {
		return err
	}
	done = true
	return nil
}

func populate(conn *sqlite.Conn, c *Case, fill func(conn *sqlite.Conn) error) (err error) {
	defer sqlitex.Save(conn)(&err)
	if err = insertCase(conn, c); err != nil {
		return err
	}
	if fill != nil {
		return fill(conn)
	}
	return nil
}

// GetCase returns a case record.
func (s *Store) GetCase(ctx context.Context, id string) (c *Case, err error) {
	err = s.read(ctx, id, func(conn *sqlite.Conn) error {
		c, err = selectCase(conn, id)
		return err
	})
	return c, err
}

// ListCases returns all cases ordered by creation time.
func (s *Store) ListCases(ctx context.Context) ([]*Case, error) {
	infos, err := afero.ReadDir(s.fs, "/")
	if err != nil {
		return nil, storageError(err, "could not read casestore")
	}

	cases := []*Case{}
	for _, info := range infos {
		if !info.IsDir() || strings.HasPrefix(info.Name(), ".") || validateID("case id", info.Name()) != nil {
			continue
		}
		c, err := s.GetCase(ctx, info.Name())
		if errors.Is(err, ErrNotFound) {
			// created or deleted concurrently
			continue
		}
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}

	sort.SliceStable(cases, func(i, j int) bool {
		if cases[i].CreatedAt.Equal(cases[j].CreatedAt) {
			return cases[i].ID < cases[j].ID
		}
		return cases[i].CreatedAt.Before(cases[j].CreatedAt)
	})
	return cases, nil
}

// UpdateCase changes the supplied fields of a case.
func (s *Store) UpdateCase(ctx context.Context, id string, update CaseUpdate) (c *Case, err error) {
	if update.Status != "" && !update.Status.valid() {
		return nil, errors.Wrapf(ErrInvalidInput, "unknown status %q", update.Status)
	}
	if update.Timezone != "" {
		if _, err := time.LoadLocation(update.Timezone); err != nil {
			return nil, errors.Wrapf(ErrInvalidInput, "unknown timezone %q", update.Timezone)
		}
	}

	err = s.write(ctx, id, func(conn *sqlite.Conn) error {
		c, err = selectCase(conn, id)
		if err != nil {
			return err
		}
		c, err = applyUpdate(c, update, s.clock.Now().UTC())
		if err != nil {
			return err
		}
		return updateCase(conn, c)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("case updated", "case", id, "status", c.Status)
	return c, nil
}

func applyUpdate(c *Case, update CaseUpdate, now time.Time) (*Case, error) {
	current := CaseUpdate{
		Examiner:     c.Examiner,
		Organization: c.Organization,
		Description:  c.Description,
		Timezone:     c.Timezone,
		Status:       c.Status,
	}
	if err := mergo.Merge(&current, update, mergo.WithOverride); err != nil {
		return nil, err
	}

	updated := *c
	updated.Examiner = current.Examiner
	updated.Organization = current.Organization
	updated.Description = current.Description
	updated.Timezone = current.Timezone
	updated.Status = current.Status
	updated.UpdatedAt = now
	if updated.Status == StatusArchived && updated.ArchivedAt.IsZero() {
		updated.ArchivedAt = now
	}
	return &updated, nil
}

// DeleteCase removes a case with all its records and files. Without confirm
// nothing happens and false is returned.
func (s *Store) DeleteCase(ctx context.Context, id string, confirm bool) (bool, error) {
	if !confirm {
		return false, nil
	}
	if err := validateID("case id", id); err != nil {
		return false, err
	}

	lock := s.locks.get(id)
	if err := lock.acquire(ctx, s.lockTimeout); err != nil {
		return false, errors.Wrapf(err, "case %s", id)
	}
	defer lock.release()

	h, err := s.handle(ctx, id)
	if err != nil {
		return false, err
	}

	// wait for running reads, later ones see the closed handle
	h.life.Lock()
	if !h.closed {
		h.closed = true
		err = h.pool.Close()
	}
	h.life.Unlock()
	if err != nil {
		s.logger.Warn("could not close case database", "case", id, "error", err)
	}

	// no reader may reopen the database until it is renamed away
	s.openMu.Lock()
	s.handles.remove(id)
	tombstone := tombstonePrefix + id + "-" + uuid.NewString()
	err = s.fs.Rename(id, tombstone)
	s.openMu.Unlock()
	if err != nil {
		return false, storageError(err, "could not delete case")
	}
	if err := s.fs.RemoveAll(tombstone); err != nil {
		s.logger.Warn("could not remove deleted case", "case", id, "error", err)
	}

	s.logger.Info("case deleted", "case", id)
	return true, nil
}

// SetupCaseStructure makes sure all partitions of a case exist.
func (s *Store) SetupCaseStructure(ctx context.Context, id string) error {
	return s.write(ctx, id, func(conn *sqlite.Conn) error {
		return s.setupPartitions(id)
	})
}

func (s *Store) setupPartitions(id string) error {
	for _, partition := range Partitions {
		if err := s.fs.MkdirAll(path.Join(id, partition), 0750); err != nil {
			return storageError(err, "could not create "+partition)
		}
	}
	return nil
}

// resolve maps a content reference to a path in the content filesystem.
func (s *Store) resolve(caseID, ref string) string {
	if filepath.IsAbs(ref) || strings.HasPrefix(ref, "/") {
		return ref
	}
	return filepath.Join(s.root, caseID, filepath.FromSlash(ref))
}

/* ################################
#   case_info table
################################ */

func insertCase(conn *sqlite.Conn, c *Case) error {
	return sqlitex.Exec(conn, `INSERT INTO case_info
		(case_id, uuid, examiner, organization, description, timezone, status, schema_version, created_at, updated_at, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, nil,
		c.ID, c.UUID, c.Examiner, c.Organization, c.Description, c.Timezone, string(c.Status),
		c.SchemaVersion, formatTime(c.CreatedAt), formatTime(c.UpdatedAt), formatTime(c.ArchivedAt))
}

func updateCase(conn *sqlite.Conn, c *Case) error {
	return sqlitex.Exec(conn, `UPDATE case_info SET
		examiner = ?, organization = ?, description = ?, timezone = ?, status = ?, updated_at = ?, archived_at = ?
		WHERE case_id = ?`, nil,
		c.Examiner, c.Organization, c.Description, c.Timezone, string(c.Status),
		formatTime(c.UpdatedAt), formatTime(c.ArchivedAt), c.ID)
}

func selectCase(conn *sqlite.Conn, id string) (*Case, error) {
	var c *Case
	err := sqlitex.Exec(conn, `SELECT case_id, uuid, examiner, organization, description, timezone,
		status, schema_version, created_at, updated_at, archived_at FROM case_info`,
		func(stmt *sqlite.Stmt) error {
			c = &Case{
				ID:            stmt.GetText("case_id"),
				UUID:          stmt.GetText("uuid"),
				Examiner:      stmt.GetText("examiner"),
				Organization:  stmt.GetText("organization"),
				Description:   stmt.GetText("description"),
				Timezone:      stmt.GetText("timezone"),
				Status:        Status(stmt.GetText("status")),
				SchemaVersion: stmt.GetText("schema_version"),
				CreatedAt:     parseTime(stmt.GetText("created_at")),
				UpdatedAt:     parseTime(stmt.GetText("updated_at")),
				ArchivedAt:    parseTime(stmt.GetText("archived_at")),
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	if c == nil || c.ID != id {
		return nil, errors.Wrapf(ErrNotFound, "case %s", id)
	}
	return c, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
