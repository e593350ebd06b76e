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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
	"github.com/pkg/errors"
)

// GenesisHash is the previous hash of the first custody entry of a case.
var GenesisHash = strings.Repeat("0", 64)

// AddEntry appends a custody entry for a registered evidence, analysis or
// report identifier.
func (l *Ledger) AddEntry(ctx context.Context, refID, action, handler, notes string) (entry *CustodyEntry, err error) {
	if err := required("reference", refID); err != nil {
		return nil, err
	}
	action = normalize(action)
	if err := required("action", action); err != nil {
		return nil, err
	}
	if err := required("handler", handler); err != nil {
		return nil, err
	}

	err = l.store.write(ctx, l.caseID, func(conn *sqlite.Conn) error {
		kind, err := recordKind(conn, refID)
		if err != nil {
			return err
		}
		if kind == "" {
			return errors.Wrapf(ErrDanglingReference, "%s is not registered in case %s", refID, l.caseID)
		}
		entry, err = appendCustody(conn, l.caseID, refID, kind, action, handler, notes, l.store.clock.Now().UTC())
		return err
	})
	if err != nil {
		return nil, err
	}
	l.store.logger.Info("custody entry added", "case", l.caseID, "ref", refID, "action", action, "seq", entry.Seq)
	return entry, nil
}

// ChainHistory returns all custody entries of the case ordered by sequence.
func (l *Ledger) ChainHistory(ctx context.Context) (entries []*CustodyEntry, err error) {
	err = l.store.read(ctx, l.caseID, func(conn *sqlite.Conn) error {
		entries, err = selectCustody(conn, "")
		return err
	})
	return entries, err
}

// EvidenceHistory returns the custody entries of one identifier ordered by
// sequence.
func (l *Ledger) EvidenceHistory(ctx context.Context, refID string) (entries []*CustodyEntry, err error) {
	err = l.store.read(ctx, l.caseID, func(conn *sqlite.Conn) error {
		kind, err := recordKind(conn, refID)
		if err != nil {
			return err
		}
		if kind == "" {
			return errors.Wrapf(ErrNotFound, "%s in case %s", refID, l.caseID)
		}
		entries, err = selectCustody(conn, refID)
		return err
	})
	return entries, err
}

// VerifyChain recomputes sequence numbers and hashes of the custody log and
// returns every inconsistency found. An intact chain yields no problems.
func (l *Ledger) VerifyChain(ctx context.Context) ([]string, error) {
	entries, err := l.ChainHistory(ctx)
	if err != nil {
		return nil, err
	}
	return ValidateChain(entries), nil
}

// ValidateChain checks that entries are numbered 1..n without gaps, that
// timestamps never decrease and that every entry hash and link is intact.
func ValidateChain(entries []*CustodyEntry) []string {
	var problems []string
	prev := GenesisHash
	var last time.Time
	for i, entry := range entries {
		if want := int64(i + 1); entry.Seq != want {
			problems = append(problems, fmt.Sprintf("entry %s: sequence %d, expected %d", entry.ID, entry.Seq, want))
		}
		if entry.PrevHash != prev {
			problems = append(problems, fmt.Sprintf("entry %d: previous hash does not link to entry %d", entry.Seq, entry.Seq-1))
		}
		hash, err := entryHash(entry)
		if err != nil {
			problems = append(problems, fmt.Sprintf("entry %d: %s", entry.Seq, err))
		} else if hash != entry.Hash {
			problems = append(problems, fmt.Sprintf("entry %d: hash mismatch", entry.Seq))
		}
		if entry.Timestamp.Before(last) {
			problems = append(problems, fmt.Sprintf("entry %d: timestamp before previous entry", entry.Seq))
		}
		prev = entry.Hash
		last = entry.Timestamp
	}
	return problems
}

// appendCustody must run inside the case lock and the savepoint of the
// registration it belongs to.
func appendCustody(conn *sqlite.Conn, caseID, refID string, refKind Kind, action, handler, notes string, now time.Time) (*CustodyEntry, error) {
	if handler == "" {
		err := sqlitex.Exec(conn, "SELECT examiner FROM case_info", func(stmt *sqlite.Stmt) error {
			handler = stmt.ColumnText(0)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	var seq int64
	prev := GenesisHash
	var last time.Time
	err := sqlitex.Exec(conn, "SELECT seq, hash, timestamp FROM custody ORDER BY seq DESC LIMIT 1", func(stmt *sqlite.Stmt) error {
		seq = stmt.ColumnInt64(0)
		prev = stmt.ColumnText(1)
		last = parseTime(stmt.ColumnText(2))
		return nil
	})
	if err != nil {
		return nil, err
	}

	// clocks may go backwards, the log may not
	if now.Before(last) {
		now = last
	}

	id, err := newEntryID()
	if err != nil {
		return nil, err
	}
	entry := &CustodyEntry{
		Seq:       seq + 1,
		ID:        id,
		CaseID:    caseID,
		RefID:     refID,
		RefKind:   refKind,
		Action:    action,
		Handler:   handler,
		Notes:     notes,
		Timestamp: now.UTC(),
		PrevHash:  prev,
	}
	entry.Hash, err = entryHash(entry)
	if err != nil {
		return nil, err
	}

	err = insertCustody(conn, entry)
	return entry, err
}

func insertCustody(conn *sqlite.Conn, entry *CustodyEntry) error {
	return sqlitex.Exec(conn, `INSERT INTO custody
		(seq, id, ref_id, ref_kind, action, handler, notes, timestamp, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, nil,
		entry.Seq, entry.ID, entry.RefID, string(entry.RefKind), entry.Action, entry.Handler,
		entry.Notes, formatTime(entry.Timestamp), entry.PrevHash, entry.Hash)
}

// entryHash is the hex SHA-256 of the entry's JSON form without its own hash.
func entryHash(entry *CustodyEntry) (string, error) {
	e := *entry
	e.Hash = ""
	e.Timestamp = e.Timestamp.UTC()
	b, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func selectCustody(conn *sqlite.Conn, refID string) ([]*CustodyEntry, error) {
	var caseID string
	err := sqlitex.Exec(conn, "SELECT case_id FROM case_info", func(stmt *sqlite.Stmt) error {
		caseID = stmt.ColumnText(0)
		return nil
	})
	if err != nil {
		return nil, err
	}

	query := "SELECT seq, id, ref_id, ref_kind, action, handler, notes, timestamp, prev_hash, hash FROM custody"
	var args []interface{}
	if refID != "" {
		query += " WHERE ref_id = ?"
		args = append(args, refID)
	}
	query += " ORDER BY seq"

	entries := []*CustodyEntry{}
	err = sqlitex.Exec(conn, query, func(stmt *sqlite.Stmt) error {
		entries = append(entries, &CustodyEntry{
			Seq:       stmt.GetInt64("seq"),
			ID:        stmt.GetText("id"),
			CaseID:    caseID,
			RefID:     stmt.GetText("ref_id"),
			RefKind:   Kind(stmt.GetText("ref_kind")),
			Action:    stmt.GetText("action"),
			Handler:   stmt.GetText("handler"),
			Notes:     stmt.GetText("notes"),
			Timestamp: parseTime(stmt.GetText("timestamp")),
			PrevHash:  stmt.GetText("prev_hash"),
			Hash:      stmt.GetText("hash"),
		})
		return nil
	}, args...)
	return entries, err
}
