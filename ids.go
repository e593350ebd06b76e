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
	"fmt"
	"math"
	"regexp"
	"strconv"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var idPrefixes = map[Kind]string{
	KindEvidence: "EVD",
	KindAnalysis: "ANL",
	KindReport:   "RPT",
}

const caseIDPrefix = "CASO-"

var caseSequence = regexp.MustCompile(`^CASO-(\d+)$`)

// NewID allocates the next identifier of kind for a case. Identifiers are
// the kind prefix and a zero padded counter, e.g. EVD-000001.
func (s *Store) NewID(ctx context.Context, kind Kind, caseID string) (id string, err error) {
	err = s.write(ctx, caseID, func(conn *sqlite.Conn) error {
		id, err = nextID(conn, kind)
		return err
	})
	return id, err
}

// nextID must run inside the case lock and a savepoint. Counters skip
// identifiers that were registered by hand.
func nextID(conn *sqlite.Conn, kind Kind) (string, error) {
	prefix, ok := idPrefixes[kind]
	if !ok {
		return "", errors.Wrapf(ErrInvalidInput, "unknown kind %q", kind)
	}

	var value int64
	err := sqlitex.Exec(conn, "SELECT value FROM sequences WHERE kind = ?", func(stmt *sqlite.Stmt) error {
		value = stmt.ColumnInt64(0)
		return nil
	}, string(kind))
	if err != nil {
		return "", err
	}

	var id string
	for {
		if value == math.MaxInt64 {
			return "", errors.Errorf("%s sequence exhausted", kind)
		}
		value++
		id = fmt.Sprintf("%s-%06d", prefix, value)
		taken, err := recordKind(conn, id)
		if err != nil {
			return "", err
		}
		if taken == "" {
			break
		}
	}

	err = sqlitex.Exec(conn,
		"INSERT INTO sequences (kind, value) VALUES (?, ?) ON CONFLICT(kind) DO UPDATE SET value = excluded.value",
		nil, string(kind), value)
	return id, err
}

// recordKind returns the kind of a registered identifier or "" if the
// identifier is unknown.
func recordKind(conn *sqlite.Conn, id string) (Kind, error) {
	var kind Kind
	err := sqlitex.Exec(conn, "SELECT kind FROM records WHERE id = ?", func(stmt *sqlite.Stmt) error {
		kind = Kind(stmt.ColumnText(0))
		return nil
	}, id)
	return kind, err
}

func newEntryID() (string, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return "custody-entry--" + u.String(), nil
}

// NextCaseID proposes the case id following the highest CASO-NNN case. The
// proposal is advisory, CreateCase still rejects duplicates.
func (s *Store) NextCaseID(ctx context.Context) (string, error) {
	cases, err := s.ListCases(ctx)
	if err != nil {
		return "", err
	}
	var highest int64
	for _, c := range cases {
		m := caseSequence.FindStringSubmatch(c.ID)
		if m == nil {
			continue
		}
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err == nil && n > highest {
			highest = n
		}
	}
	return fmt.Sprintf("%s%03d", caseIDPrefix, highest+1), nil
}
