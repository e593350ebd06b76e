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
	"io"
	"strings"
	"time"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// A Ledger is the manifest and chain of custody of a single case.
type Ledger struct {
	store  *Store
	caseID string
}

// Ledger returns the ledger of a case. The case is not checked until the
// first operation.
func (s *Store) Ledger(caseID string) *Ledger {
	return &Ledger{store: s, caseID: caseID}
}

// CaseID returns the case the ledger belongs to.
func (l *Ledger) CaseID() string {
	return l.caseID
}

// RegisterOption adds optional information to a registration.
type RegisterOption func(*registration)

type registration struct {
	handler  string
	notes    string
	metadata map[string]interface{}
}

// WithHandler names the person recorded in the custody entry. It defaults to
// the examiner of the case.
func WithHandler(handler string) RegisterOption {
	return func(r *registration) { r.handler = handler }
}

// WithNotes sets the notes of the custody entry.
func WithNotes(notes string) RegisterOption {
	return func(r *registration) { r.notes = notes }
}

// WithMetadata attaches free form metadata to the registered record.
func WithMetadata(metadata map[string]interface{}) RegisterOption {
	return func(r *registration) { r.metadata = normalizeMetadata(metadata) }
}

func newRegistration(opts []RegisterOption) *registration {
	r := &registration{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

/* ################################
#   Register
################################ */

// RegisterEvidence adds an evidence record and its "collected" custody
// entry. The checksum is computed from sourceRef; if it cannot be read the
// record is stored without checksum and marked unverified.
func (l *Ledger) RegisterEvidence(ctx context.Context, id, evidenceType, sourceRef, description string, opts ...RegisterOption) (*EvidenceRecord, error) {
	rec, err := NewEvidence(id, evidenceType, sourceRef, description)
	if err != nil {
		return nil, err
	}
	reg := newRegistration(opts)
	rec.Metadata = reg.metadata

	if sourceRef != "" {
		sum, size, err := hashFile(l.store.content, l.store.resolve(l.caseID, sourceRef))
		if err != nil {
			l.store.logger.Warn("evidence is not readable, registering unverified",
				"case", l.caseID, "source", sourceRef, "error", err)
		} else {
			rec.Checksum = sum
			rec.HashAlgorithm = hashAlgorithm
			rec.Size = size
			rec.Status = EvidenceAcquired
		}
	}

	err = l.store.write(ctx, l.caseID, func(conn *sqlite.Conn) error {
		now := l.store.clock.Now().UTC()
		if err := claimID(conn, &rec.ID, KindEvidence); err != nil {
			return err
		}
		rec.RegisteredAt = now

		metadata, err := marshalMetadata(rec.Metadata)
		if err != nil {
			return err
		}
		err = sqlitex.Exec(conn, `INSERT INTO evidence
			(id, type, source_ref, description, registered_at, checksum, hash_algorithm, size, status, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, nil,
			rec.ID, rec.Type, rec.SourceRef, rec.Description, formatTime(rec.RegisteredAt),
			nullable(rec.Checksum), rec.HashAlgorithm, rec.Size, rec.Status, metadata)
		if err != nil {
			return err
		}

		_, err = appendCustody(conn, l.caseID, rec.ID, KindEvidence, ActionCollected, reg.handler, reg.notes, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.store.logger.Info("evidence registered", "case", l.caseID, "evidence", rec.ID, "status", rec.Status)
	return rec, nil
}

// RegisterAnalysis adds an analysis record over existing evidence and its
// "analyzed" custody entry.
func (l *Ledger) RegisterAnalysis(ctx context.Context, id, analysisType string, evidenceIDs []string, toolName, toolVersion, outputRef, description string, opts ...RegisterOption) (*AnalysisRecord, error) {
	rec, err := NewAnalysis(id, analysisType, evidenceIDs, toolName, toolVersion, outputRef, description)
	if err != nil {
		return nil, err
	}
	reg := newRegistration(opts)
	rec.Metadata = reg.metadata

	err = l.store.write(ctx, l.caseID, func(conn *sqlite.Conn) error {
		now := l.store.clock.Now().UTC()
		for _, evidenceID := range rec.EvidenceIDs {
			kind, err := recordKind(conn, evidenceID)
			if err != nil {
				return err
			}
			if kind != KindEvidence {
				return errors.Wrapf(ErrDanglingReference, "evidence %s", evidenceID)
			}
		}
		if err := claimID(conn, &rec.ID, KindAnalysis); err != nil {
			return err
		}
		rec.CreatedAt = now

		metadata, err := marshalMetadata(rec.Metadata)
		if err != nil {
			return err
		}
		err = sqlitex.Exec(conn, `INSERT INTO analyses
			(id, type, tool_name, tool_version, output_ref, description, created_at, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, nil,
			rec.ID, rec.Type, rec.ToolName, rec.ToolVersion, rec.OutputRef, rec.Description,
			formatTime(rec.CreatedAt), metadata)
		if err != nil {
			return err
		}
		for i, evidenceID := range rec.EvidenceIDs {
			err = sqlitex.Exec(conn, `INSERT INTO analysis_evidence (analysis_id, evidence_id, position) VALUES (?, ?, ?)`,
				nil, rec.ID, evidenceID, int64(i))
			if err != nil {
				return err
			}
		}

		notes := reg.notes
		if notes == "" {
			notes = "evidence: " + strings.Join(rec.EvidenceIDs, ", ")
		}
		_, err = appendCustody(conn, l.caseID, rec.ID, KindAnalysis, ActionAnalyzed, reg.handler, notes, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.store.logger.Info("analysis registered", "case", l.caseID, "analysis", rec.ID, "tool", rec.ToolName)
	return rec, nil
}

// RegisterReport adds a report record and its "report_generated" custody
// entry. Size and page estimate are derived from outputRef when readable.
func (l *Ledger) RegisterReport(ctx context.Context, id, reportType, format, outputRef, examiner, description string, opts ...RegisterOption) (*ReportRecord, error) {
	rec, err := NewReport(id, reportType, format, outputRef, examiner, description)
	if err != nil {
		return nil, err
	}
	reg := newRegistration(opts)
	rec.Metadata = reg.metadata
	if reg.handler == "" {
		reg.handler = examiner
	}

	if outputRef != "" {
		info, err := l.store.content.Stat(l.store.resolve(l.caseID, outputRef))
		if err == nil && !info.IsDir() {
			rec.Size = info.Size()
		}
	}
	rec.EstimatedPages = estimatePages(rec.Format, rec.Size)

	err = l.store.write(ctx, l.caseID, func(conn *sqlite.Conn) error {
		now := l.store.clock.Now().UTC()
		if err := claimID(conn, &rec.ID, KindReport); err != nil {
			return err
		}
		rec.GeneratedAt = now

		metadata, err := marshalMetadata(rec.Metadata)
		if err != nil {
			return err
		}
		err = sqlitex.Exec(conn, `INSERT INTO reports
			(id, type, format, output_ref, examiner, description, generated_at, size, estimated_pages, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, nil,
			rec.ID, rec.Type, rec.Format, rec.OutputRef, rec.Examiner, rec.Description,
			formatTime(rec.GeneratedAt), rec.Size, rec.EstimatedPages, metadata)
		if err != nil {
			return err
		}

		_, err = appendCustody(conn, l.caseID, rec.ID, KindReport, ActionReportGenerated, reg.handler, reg.notes, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.store.logger.Info("report registered", "case", l.caseID, "report", rec.ID, "format", rec.Format)
	return rec, nil
}

// claimID allocates an id if none is given and reserves it in the records
// registry.
func claimID(conn *sqlite.Conn, id *string, kind Kind) error {
	if *id == "" {
		next, err := nextID(conn, kind)
		if err != nil {
			return err
		}
		*id = next
	}

	taken, err := recordKind(conn, *id)
	if err != nil {
		return err
	}
	if taken != "" {
		return errors.Wrapf(ErrDuplicateID, "%s %s is already registered as %s", kind, *id, taken)
	}

	err = insertRecord(conn, *id, kind)
	if isConstraint(err) {
		return errors.Wrapf(ErrDuplicateID, "%s %s", kind, *id)
	}
	return err
}

/* ################################
#   Read
################################ */

// Evidences returns all evidence records in registration order.
func (l *Ledger) Evidences(ctx context.Context) (records []*EvidenceRecord, err error) {
	err = l.store.read(ctx, l.caseID, func(conn *sqlite.Conn) error {
		records, err = selectEvidences(conn, "")
		return err
	})
	return records, err
}

// Evidence returns a single evidence record.
func (l *Ledger) Evidence(ctx context.Context, id string) (record *EvidenceRecord, err error) {
	err = l.store.read(ctx, l.caseID, func(conn *sqlite.Conn) error {
		records, err := selectEvidences(conn, id)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return errors.Wrapf(ErrNotFound, "evidence %s", id)
		}
		record = records[0]
		return nil
	})
	return record, err
}

// Analyses returns all analysis records in registration order.
func (l *Ledger) Analyses(ctx context.Context) (records []*AnalysisRecord, err error) {
	err = l.store.read(ctx, l.caseID, func(conn *sqlite.Conn) error {
		records, err = selectAnalyses(conn)
		return err
	})
	return records, err
}

// Reports returns all report records in registration order.
func (l *Ledger) Reports(ctx context.Context) (records []*ReportRecord, err error) {
	err = l.store.read(ctx, l.caseID, func(conn *sqlite.Conn) error {
		records, err = selectReports(conn)
		return err
	})
	return records, err
}

// Summary counts the records of the case and reports the latest timestamp
// per record kind.
func (l *Ledger) Summary(ctx context.Context) (*Summary, error) {
	summary := &Summary{CaseID: l.caseID, EvidenceByType: map[string]int64{}}
	err := l.store.read(ctx, l.caseID, func(conn *sqlite.Conn) error {
		counts := []struct {
			query string
			count *int64
			last  *time.Time
		}{
			{"SELECT COUNT(*), COALESCE(MAX(registered_at), '') FROM evidence", &summary.Evidences, &summary.LastEvidence},
			{"SELECT COUNT(*), COALESCE(MAX(created_at), '') FROM analyses", &summary.Analyses, &summary.LastAnalysis},
			{"SELECT COUNT(*), COALESCE(MAX(generated_at), '') FROM reports", &summary.Reports, &summary.LastReport},
			{"SELECT COUNT(*), COALESCE(MAX(timestamp), '') FROM custody", &summary.CustodyEntries, &summary.LastCustody},
		}
		for _, c := range counts {
			c := c
			err := sqlitex.Exec(conn, c.query, func(stmt *sqlite.Stmt) error {
				*c.count = stmt.ColumnInt64(0)
				*c.last = parseTime(stmt.ColumnText(1))
				return nil
			})
			if err != nil {
				return err
			}
		}

		return sqlitex.Exec(conn, "SELECT type, status, COUNT(*) FROM evidence GROUP BY type, status",
			func(stmt *sqlite.Stmt) error {
				n := stmt.ColumnInt64(2)
				summary.EvidenceByType[stmt.ColumnText(0)] += n
				if stmt.ColumnText(1) == EvidenceUnverified {
					summary.Unverified += n
				}
				return nil
			})
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

func selectEvidences(conn *sqlite.Conn, id string) ([]*EvidenceRecord, error) {
	query := `SELECT id, type, source_ref, description, registered_at, COALESCE(checksum, '') AS checksum,
		hash_algorithm, size, status, metadata FROM evidence`
	var args []interface{}
	if id != "" {
		query += " WHERE id = ?"
		args = append(args, id)
	}
	query += " ORDER BY seq"

	records := []*EvidenceRecord{}
	err := sqlitex.Exec(conn, query, func(stmt *sqlite.Stmt) error {
		metadata, err := unmarshalMetadata(stmt.GetText("metadata"))
		if err != nil {
			return err
		}
		records = append(records, &EvidenceRecord{
			ID:            stmt.GetText("id"),
			Type:          stmt.GetText("type"),
			SourceRef:     stmt.GetText("source_ref"),
			Description:   stmt.GetText("description"),
			RegisteredAt:  parseTime(stmt.GetText("registered_at")),
			Checksum:      stmt.GetText("checksum"),
			HashAlgorithm: stmt.GetText("hash_algorithm"),
			Size:          stmt.GetInt64("size"),
			Status:        stmt.GetText("status"),
			Metadata:      metadata,
		})
		return nil
	}, args...)
	return records, err
}

func selectAnalyses(conn *sqlite.Conn) ([]*AnalysisRecord, error) {
	evidenceIDs := map[string][]string{}
	err := sqlitex.Exec(conn, "SELECT analysis_id, evidence_id FROM analysis_evidence ORDER BY analysis_id, position",
		func(stmt *sqlite.Stmt) error {
			analysisID := stmt.ColumnText(0)
			evidenceIDs[analysisID] = append(evidenceIDs[analysisID], stmt.ColumnText(1))
			return nil
		})
	if err != nil {
		return nil, err
	}

	records := []*AnalysisRecord{}
	err = sqlitex.Exec(conn, `SELECT id, type, tool_name, tool_version, output_ref, description, created_at, metadata
		FROM analyses ORDER BY seq`, func(stmt *sqlite.Stmt) error {
		metadata, err := unmarshalMetadata(stmt.GetText("metadata"))
		if err != nil {
			return err
		}
		id := stmt.GetText("id")
		records = append(records, &AnalysisRecord{
			ID:          id,
			Type:        stmt.GetText("type"),
			EvidenceIDs: evidenceIDs[id],
			ToolName:    stmt.GetText("tool_name"),
			ToolVersion: stmt.GetText("tool_version"),
			OutputRef:   stmt.GetText("output_ref"),
			Description: stmt.GetText("description"),
			CreatedAt:   parseTime(stmt.GetText("created_at")),
			Metadata:    metadata,
		})
		return nil
	})
	return records, err
}

func selectReports(conn *sqlite.Conn) ([]*ReportRecord, error) {
	records := []*ReportRecord{}
	err := sqlitex.Exec(conn, `SELECT id, type, format, output_ref, examiner, description, generated_at,
		size, estimated_pages, metadata FROM reports ORDER BY seq`, func(stmt *sqlite.Stmt) error {
		metadata, err := unmarshalMetadata(stmt.GetText("metadata"))
		if err != nil {
			return err
		}
		records = append(records, &ReportRecord{
			ID:             stmt.GetText("id"),
			Type:           stmt.GetText("type"),
			Format:         stmt.GetText("format"),
			OutputRef:      stmt.GetText("output_ref"),
			Examiner:       stmt.GetText("examiner"),
			Description:    stmt.GetText("description"),
			GeneratedAt:    parseTime(stmt.GetText("generated_at")),
			Size:           stmt.GetInt64("size"),
			EstimatedPages: stmt.GetInt64("estimated_pages"),
			Metadata:       metadata,
		})
		return nil
	})
	return records, err
}

/* ################################
#   Helper
################################ */

// hashFile returns the hex SHA-256 and the size of a file.
func hashFile(fs afero.Fs, name string) (string, int64, error) {
	f, err := fs.Open(name)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", 0, err
	}
	if info.IsDir() {
		return "", 0, errors.Errorf("%s is a directory", name)
	}

	h := sha256.New()
	size, err := io.CopyBuffer(h, f, make([]byte, 1<<20))
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

func insertRecord(conn *sqlite.Conn, id string, kind Kind) error {
	return sqlitex.Exec(conn, "INSERT INTO records (id, kind) VALUES (?, ?)", nil, id, string(kind))
}

func execInsert(conn *sqlite.Conn, query string, args ...interface{}) error {
	return sqlitex.Exec(conn, query, nil, args...)
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func marshalMetadata(metadata map[string]interface{}) (string, error) {
	if len(metadata) == 0 {
		return "", nil
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return "", errors.Wrap(ErrInvalidInput, "metadata is not serialisable: "+err.Error())
	}
	return string(b), nil
}

func unmarshalMetadata(s string) (map[string]interface{}, error) {
	if s == "" {
		return nil, nil
	}
	metadata := map[string]interface{}{}
	if err := json.Unmarshal([]byte(s), &metadata); err != nil {
		return nil, err
	}
	return metadata, nil
}
