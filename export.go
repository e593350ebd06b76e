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
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"reflect"
	"strconv"
	"strings"
	"time"

	"crawshaw.io/sqlite"
	"github.com/fatih/structs"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"github.com/forensicanalysis/casestore/flatten"
)

// Export formats of the chain of custody.
const (
	FormatJSON  = "json"
	FormatJSONL = "jsonl"
	FormatCSV   = "csv"
	FormatYAML  = "yaml"
)

// Formats lists the supported export formats.
var Formats = []string{FormatJSON, FormatJSONL, FormatCSV, FormatYAML}

const exportVersion = 1

type chainDocument struct {
	FormatVersion int             `json:"format_version" yaml:"format_version"`
	CaseID        string          `json:"case_id" yaml:"case_id"`
	ExportedAt    time.Time       `json:"exported_at" yaml:"exported_at"`
	Entries       []*CustodyEntry `json:"entries" yaml:"entries"`
}

// Export serialises the chain of custody. It does not change the case.
func (l *Ledger) Export(ctx context.Context, format string) ([]byte, error) {
	entries, err := l.ChainHistory(ctx)
	if err != nil {
		return nil, err
	}

	doc := chainDocument{
		FormatVersion: exportVersion,
		CaseID:        l.caseID,
		ExportedAt:    l.store.clock.Now().UTC(),
		Entries:       entries,
	}

	switch strings.ToLower(format) {
	case FormatJSON:
		return json.MarshalIndent(doc, "", "  ")
	case FormatJSONL:
		buf := &bytes.Buffer{}
		encoder := json.NewEncoder(buf)
		for _, entry := range entries {
			if err := encoder.Encode(entry); err != nil {
				return nil, err
			}
		}
		return buf.Bytes(), nil
	case FormatCSV:
		items := make([]interface{}, len(entries))
		for i, entry := range entries {
			items[i] = entry
		}
		buf := &bytes.Buffer{}
		if err := writeTable(buf, CustodyEntry{}, items); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case FormatYAML:
		return yaml.Marshal(doc)
	}
	return nil, errors.Wrapf(ErrInvalidInput, "unknown export format %q", format)
}

// ParseChain reads custody entries written by Export.
func ParseChain(format string, data []byte) ([]*CustodyEntry, error) {
	switch strings.ToLower(format) {
	case FormatJSON:
		if !gjson.ValidBytes(data) {
			return nil, errors.Wrap(ErrInvalidInput, "invalid json")
		}
		if v := gjson.GetBytes(data, "format_version"); v.Int() != exportVersion {
			return nil, errors.Wrapf(ErrInvalidInput, "unsupported format version %s", v.Raw)
		}
		entries := []*CustodyEntry{}
		raw := gjson.GetBytes(data, "entries")
		if !raw.Exists() || raw.Type == gjson.Null {
			return entries, nil
		}
		if err := json.Unmarshal([]byte(raw.Raw), &entries); err != nil {
			return nil, errors.Wrap(ErrInvalidInput, err.Error())
		}
		return entries, nil
	case FormatJSONL:
		entries := []*CustodyEntry{}
		scanner := bufio.NewScanner(bytes.NewReader(data))
		scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
		for line := 1; scanner.Scan(); line++ {
			if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
				continue
			}
			if !gjson.ValidBytes(scanner.Bytes()) {
				return nil, errors.Wrapf(ErrInvalidInput, "line %d is not valid json", line)
			}
			entry := &CustodyEntry{}
			if err := json.Unmarshal(scanner.Bytes(), entry); err != nil {
				return nil, errors.Wrapf(ErrInvalidInput, "line %d: %s", line, err)
			}
			entries = append(entries, entry)
		}
		return entries, scanner.Err()
	case FormatCSV:
		return parseChainCSV(data)
	case FormatYAML:
		doc := chainDocument{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, errors.Wrap(ErrInvalidInput, err.Error())
		}
		if doc.FormatVersion != exportVersion {
			return nil, errors.Wrapf(ErrInvalidInput, "unsupported format version %d", doc.FormatVersion)
		}
		if doc.Entries == nil {
			doc.Entries = []*CustodyEntry{}
		}
		return doc.Entries, nil
	}
	return nil, errors.Wrapf(ErrInvalidInput, "unknown export format %q", format)
}

func parseChainCSV(data []byte) ([]*CustodyEntry, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrap(ErrInvalidInput, err.Error())
	}
	entries := []*CustodyEntry{}
	if len(rows) == 0 {
		return entries, nil
	}

	header := rows[0]
	for i, row := range rows[1:] {
		flat := map[string]interface{}{}
		for c, column := range header {
			if c < len(row) && row[c] != "" {
				flat[column] = row[c]
			}
		}
		nested, err := flatten.Unflatten(flat)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidInput, "row %d: %s", i+1, err)
		}
		if seq, ok := nested["seq"].(string); ok {
			n, err := strconv.ParseInt(seq, 10, 64)
			if err != nil {
				return nil, errors.Wrapf(ErrInvalidInput, "row %d: invalid seq %q", i+1, seq)
			}
			nested["seq"] = n
		}
		b, err := json.Marshal(nested)
		if err != nil {
			return nil, err
		}
		entry := &CustodyEntry{}
		if err := json.Unmarshal(b, entry); err != nil {
			return nil, errors.Wrapf(ErrInvalidInput, "row %d: %s", i+1, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ExportManifestCSV writes the records of one kind as a table. Metadata is
// flattened into dotted columns.
func (l *Ledger) ExportManifestCSV(ctx context.Context, kind Kind, w io.Writer) error {
	var items []interface{}
	var template interface{}
	switch kind {
	case KindEvidence:
		records, err := l.Evidences(ctx)
		if err != nil {
			return err
		}
		template = EvidenceRecord{}
		for _, r := range records {
			items = append(items, r)
		}
	case KindAnalysis:
		records, err := l.Analyses(ctx)
		if err != nil {
			return err
		}
		template = AnalysisRecord{}
		for _, r := range records {
			items = append(items, r)
		}
	case KindReport:
		records, err := l.Reports(ctx)
		if err != nil {
			return err
		}
		template = ReportRecord{}
		for _, r := range records {
			items = append(items, r)
		}
	default:
		return errors.Wrapf(ErrInvalidInput, "unknown kind %q", kind)
	}
	return writeTable(w, template, items)
}

// writeTable writes structs as csv. Columns follow the field order of
// template, flattened nested values are appended in sorted order.
func writeTable(w io.Writer, template interface{}, items []interface{}) error {
	var fixed []string
	for _, field := range structs.Fields(template) {
		name := strings.Split(field.Tag("structs"), ",")[0]
		if name == "" || name == "-" || field.Kind() == reflect.Map {
			continue
		}
		fixed = append(fixed, name)
	}

	rows := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		m := structs.Map(item)
		for key, value := range m {
			if ids, ok := value.([]string); ok {
				m[key] = strings.Join(ids, ";")
			}
		}
		flat, err := flatten.Flatten(m)
		if err != nil {
			return err
		}
		rows = append(rows, flat)
	}

	columns := flatten.Columns(fixed, rows)
	writer := csv.NewWriter(w)
	if err := writer.Write(columns); err != nil {
		return err
	}
	for _, row := range rows {
		record := make([]string, len(columns))
		for i, column := range columns {
			record[i] = cell(row[column])
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func cell(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case time.Time:
		return formatTime(v)
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprint(value)
}

/* ################################
#   Case bundle
################################ */

// Bundle is the complete content of a case as one document.
type Bundle struct {
	FormatVersion int               `json:"format_version"`
	Case          *Case             `json:"case"`
	Evidences     []*EvidenceRecord `json:"evidences"`
	Analyses      []*AnalysisRecord `json:"analyses"`
	Reports       []*ReportRecord   `json:"reports"`
	Custody       []*CustodyEntry   `json:"custody"`
}

// ExportCase writes a consistent snapshot of a case as json.
func (s *Store) ExportCase(ctx context.Context, caseID string, w io.Writer) error {
	bundle := &Bundle{FormatVersion: exportVersion}
	err := s.read(ctx, caseID, func(conn *sqlite.Conn) (err error) {
		if bundle.Case, err = selectCase(conn, caseID); err != nil {
			return err
		}
		if bundle.Evidences, err = selectEvidences(conn, ""); err != nil {
			return err
		}
		if bundle.Analyses, err = selectAnalyses(conn); err != nil {
			return err
		}
		if bundle.Reports, err = selectReports(conn); err != nil {
			return err
		}
		bundle.Custody, err = selectCustody(conn, "")
		return err
	})
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(bundle)
}

// ImportCase creates a case from a bundle written by ExportCase. The bundle
// is checked for duplicate ids, dangling references and a broken custody
// chain before anything is written.
func (s *Store) ImportCase(ctx context.Context, r io.Reader) (*Case, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(data) {
		return nil, errors.Wrap(ErrInvalidInput, "invalid json")
	}
	if v := gjson.GetBytes(data, "format_version"); v.Int() != exportVersion {
		return nil, errors.Wrapf(ErrInvalidInput, "unsupported format version %s", v.Raw)
	}
	if err := validateID("case id", gjson.GetBytes(data, "case.case_id").String()); err != nil {
		return nil, err
	}

	bundle := &Bundle{}
	if err := json.Unmarshal(data, bundle); err != nil {
		return nil, errors.Wrap(ErrInvalidInput, err.Error())
	}
	if err := checkBundle(bundle); err != nil {
		return nil, err
	}
	c := bundle.Case
	if c.UUID == "" {
		c.UUID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.clock.Now().UTC()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	if c.SchemaVersion == "" {
		c.SchemaVersion = SchemaVersion
	}

	err = s.createCase(ctx, bundle.Case, func(conn *sqlite.Conn) error {
		return insertBundle(conn, bundle)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("case imported", "case", bundle.Case.ID, "evidences", len(bundle.Evidences),
		"custody", len(bundle.Custody))
	return bundle.Case, nil
}

func checkBundle(bundle *Bundle) error {
	c := bundle.Case
	if c == nil {
		return errors.Wrap(ErrInvalidInput, "bundle has no case")
	}
	if _, err := NewCase(c.ID, c.Examiner, c.Organization, c.Description, c.Timezone); err != nil {
		return err
	}
	if !c.Status.valid() {
		return errors.Wrapf(ErrInvalidInput, "unknown status %q", c.Status)
	}

	kinds := map[string]Kind{}
	claim := func(id string, kind Kind) error {
		if err := validateID(string(kind)+" id", id); err != nil {
			return err
		}
		if _, ok := kinds[id]; ok {
			return errors.Wrapf(ErrDuplicateID, "%s %s", kind, id)
		}
		kinds[id] = kind
		return nil
	}
	for _, e := range bundle.Evidences {
		if err := claim(e.ID, KindEvidence); err != nil {
			return err
		}
	}
	for _, a := range bundle.Analyses {
		for _, evidenceID := range a.EvidenceIDs {
			if kinds[evidenceID] != KindEvidence {
				return errors.Wrapf(ErrDanglingReference, "analysis %s references %s", a.ID, evidenceID)
			}
		}
		if err := claim(a.ID, KindAnalysis); err != nil {
			return err
		}
	}
	for _, r := range bundle.Reports {
		if err := claim(r.ID, KindReport); err != nil {
			return err
		}
	}
	for _, entry := range bundle.Custody {
		kind, ok := kinds[entry.RefID]
		if !ok {
			return errors.Wrapf(ErrDanglingReference, "custody entry %d references %s", entry.Seq, entry.RefID)
		}
		if entry.RefKind != kind {
			return errors.Wrapf(ErrInvalidInput, "custody entry %d references %s %s as %s", entry.Seq, kind, entry.RefID, entry.RefKind)
		}
		if entry.CaseID != c.ID {
			return errors.Wrapf(ErrInvalidInput, "custody entry %d belongs to case %s", entry.Seq, entry.CaseID)
		}
	}
	if problems := ValidateChain(bundle.Custody); len(problems) > 0 {
		return errors.Wrapf(ErrInvalidInput, "custody chain is broken: %s", strings.Join(problems, "; "))
	}
	return nil
}

func insertBundle(conn *sqlite.Conn, bundle *Bundle) error {
	for _, e := range bundle.Evidences {
		metadata, err := marshalMetadata(e.Metadata)
		if err != nil {
			return err
		}
		if err := insertRecord(conn, e.ID, KindEvidence); err != nil {
			return err
		}
		err = execInsert(conn, `INSERT INTO evidence
			(id, type, source_ref, description, registered_at, checksum, hash_algorithm, size, status, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.Type, e.SourceRef, e.Description, formatTime(e.RegisteredAt),
			nullable(e.Checksum), e.HashAlgorithm, e.Size, e.Status, metadata)
		if err != nil {
			return err
		}
	}
	for _, a := range bundle.Analyses {
		metadata, err := marshalMetadata(a.Metadata)
		if err != nil {
			return err
		}
		if err := insertRecord(conn, a.ID, KindAnalysis); err != nil {
			return err
		}
		err = execInsert(conn, `INSERT INTO analyses
			(id, type, tool_name, tool_version, output_ref, description, created_at, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.Type, a.ToolName, a.ToolVersion, a.OutputRef, a.Description, formatTime(a.CreatedAt), metadata)
		if err != nil {
			return err
		}
		for i, evidenceID := range a.EvidenceIDs {
			err = execInsert(conn, `INSERT INTO analysis_evidence (analysis_id, evidence_id, position) VALUES (?, ?, ?)`,
				a.ID, evidenceID, int64(i))
			if err != nil {
				return err
			}
		}
	}
	for _, r := range bundle.Reports {
		metadata, err := marshalMetadata(r.Metadata)
		if err != nil {
			return err
		}
		if err := insertRecord(conn, r.ID, KindReport); err != nil {
			return err
		}
		err = execInsert(conn, `INSERT INTO reports
			(id, type, format, output_ref, examiner, description, generated_at, size, estimated_pages, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.Type, r.Format, r.OutputRef, r.Examiner, r.Description,
			formatTime(r.GeneratedAt), r.Size, r.EstimatedPages, metadata)
		if err != nil {
			return err
		}
	}
	for _, entry := range bundle.Custody {
		if err := insertCustody(conn, entry); err != nil {
			return err
		}
	}
	return nil
}

// SaveExport writes data to the exports partition of the case and returns
// the path relative to the case folder.
func (l *Ledger) SaveExport(ctx context.Context, name string, data []byte) (string, error) {
	if err := validateID("export name", name); err != nil {
		return "", err
	}
	rel := path.Join("exports", name)
	err := l.store.write(ctx, l.caseID, func(conn *sqlite.Conn) error {
		if err := l.store.fs.MkdirAll(path.Join(l.caseID, "exports"), 0750); err != nil {
			return err
		}
		return afero.WriteFile(l.store.fs, path.Join(l.caseID, rel), data, 0640)
	})
	if err != nil {
		return "", err
	}
	l.store.logger.Info("export saved", "case", l.caseID, "path", rel)
	return rel, nil
}
