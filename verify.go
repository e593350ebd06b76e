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
	"time"

	"github.com/forensicanalysis/fsdoublestar"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// Verification results of a single evidence item.
const (
	VerifyOK         = "ok"
	VerifyMismatch   = "mismatch"
	VerifyMissing    = "missing"
	VerifyUnverified = "unverified"
)

// VerificationReport lists the integrity state of every evidence record.
type VerificationReport struct {
	CaseID     string        `json:"case_id"`
	VerifiedAt time.Time     `json:"verified_at"`
	Items      []*ItemResult `json:"items"`
	Untracked  []string      `json:"untracked,omitempty"`
}

// ItemResult is the verification result of one evidence record.
type ItemResult struct {
	EvidenceID   string `json:"evidence_id"`
	SourceRef    string `json:"source_ref,omitempty"`
	Status       string `json:"status"`
	Expected     string `json:"expected,omitempty"`
	Actual       string `json:"actual,omitempty"`
	ExpectedSize int64  `json:"expected_size"`
	ActualSize   int64  `json:"actual_size"`
	Error        string `json:"error,omitempty"`
}

// OK is true if every checksummed item matched. Unverified items and
// untracked files do not fail a report.
func (r *VerificationReport) OK() bool {
	for _, item := range r.Items {
		if item.Status == VerifyMismatch || item.Status == VerifyMissing {
			return false
		}
	}
	return true
}

// Count returns the number of items with the given status.
func (r *VerificationReport) Count(status string) int {
	n := 0
	for _, item := range r.Items {
		if item.Status == status {
			n++
		}
	}
	return n
}

// VerifyCase recomputes the checksums of all evidence of a case. Failing
// files are reported in the result, only an unreadable case is an error.
// The ledger is not changed.
func (s *Store) VerifyCase(ctx context.Context, caseID string) (*VerificationReport, error) {
	records, err := s.Ledger(caseID).Evidences(ctx)
	if err != nil {
		return nil, err
	}

	report := &VerificationReport{
		CaseID:     caseID,
		VerifiedAt: s.clock.Now().UTC(),
		Items:      make([]*ItemResult, len(records)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, record := range records {
		i, record := i, record
		item := &ItemResult{
			EvidenceID:   record.ID,
			SourceRef:    record.SourceRef,
			Expected:     record.Checksum,
			ExpectedSize: record.Size,
		}
		report.Items[i] = item
		if record.Checksum == "" || record.SourceRef == "" {
			item.Status = VerifyUnverified
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s.verifyItem(caseID, item)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report.Untracked, err = s.untracked(caseID, records)
	if err != nil {
		return nil, storageError(err, "could not list evidence partition")
	}

	s.logger.Info("case verified", "case", caseID, "items", len(report.Items),
		"mismatch", report.Count(VerifyMismatch), "missing", report.Count(VerifyMissing),
		"untracked", len(report.Untracked))
	return report, nil
}

func (s *Store) verifyItem(caseID string, item *ItemResult) {
	sum, size, err := hashFile(s.content, s.resolve(caseID, item.SourceRef))
	switch {
	case os.IsNotExist(err):
		item.Status = VerifyMissing
	case err != nil:
		item.Status = VerifyMissing
		item.Error = err.Error()
	default:
		item.Actual = sum
		item.ActualSize = size
		item.Status = VerifyOK
		if sum != item.Expected || (item.ExpectedSize != 0 && size != item.ExpectedSize) {
			item.Status = VerifyMismatch
		}
	}
}

// untracked lists files in the evidence partition that no record refers to.
// Paths are relative to the case folder.
func (s *Store) untracked(caseID string, records []*EvidenceRecord) ([]string, error) {
	partition := path.Join(caseID, "evidence")
	if _, err := s.fs.Stat(partition); os.IsNotExist(err) {
		return nil, nil
	}

	tracked := map[string]bool{}
	for _, record := range records {
		if record.SourceRef != "" {
			tracked[filepath.Clean(s.resolve(caseID, record.SourceRef))] = true
		}
	}

	evidenceFs := afero.NewIOFS(afero.NewBasePathFs(s.fs, partition))
	matches, err := fsdoublestar.Glob(evidenceFs, "**")
	if err != nil {
		return nil, err
	}

	var untracked []string
	for _, match := range matches {
		match = strings.TrimPrefix(match, "/")
		if match == "" || match == "." {
			continue
		}
		info, err := s.fs.Stat(path.Join(partition, match))
		if err != nil || info.IsDir() {
			continue
		}
		name := filepath.Join(s.root, caseID, "evidence", filepath.FromSlash(match))
		if !tracked[name] {
			untracked = append(untracked, path.Join("evidence", match))
		}
	}
	sort.Strings(untracked)
	return untracked, nil
}
