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
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/stoewer/go-strcase"
)

// SchemaVersion is the version string stored in every case record.
const SchemaVersion = "1.0"

// Status of a case.
type Status string

// Case states.
const (
	StatusActive   Status = "active"
	StatusClosed   Status = "closed"
	StatusArchived Status = "archived"
)

func (s Status) valid() bool {
	switch s {
	case StatusActive, StatusClosed, StatusArchived:
		return true
	}
	return false
}

// Kind of a manifest record.
type Kind string

// Manifest record kinds.
const (
	KindEvidence Kind = "evidence"
	KindAnalysis Kind = "analysis"
	KindReport   Kind = "report"
)

// Evidence states.
const (
	EvidenceAcquired   = "acquired"
	EvidenceUnverified = "unverified"
)

// Recommended custody actions.
const (
	ActionCollected       = "collected"
	ActionAnalyzed        = "analyzed"
	ActionReportGenerated = "report_generated"
	ActionExported        = "exported"
	ActionTransferred     = "transferred"
	ActionDeleted         = "deleted"
	ActionArchived        = "archived"
)

// Common evidence types.
const (
	EvidenceSystemInfo  = "system_info"
	EvidenceProcesses   = "processes"
	EvidenceNetwork     = "network"
	EvidenceTempFiles   = "temp_files"
	EvidenceEnvironment = "environment"
)

const hashAlgorithm = "sha256"

// Case is the root record of an investigation.
type Case struct {
	ID            string    `json:"case_id" yaml:"case_id" structs:"case_id"`
	UUID          string    `json:"uuid" yaml:"uuid" structs:"uuid"`
	Examiner      string    `json:"examiner" yaml:"examiner" structs:"examiner"`
	Organization  string    `json:"organization,omitempty" yaml:"organization,omitempty" structs:"organization"`
	Description   string    `json:"description,omitempty" yaml:"description,omitempty" structs:"description"`
	Timezone      string    `json:"timezone" yaml:"timezone" structs:"timezone"`
	Status        Status    `json:"status" yaml:"status" structs:"status"`
	SchemaVersion string    `json:"schema_version" yaml:"schema_version" structs:"schema_version"`
	CreatedAt     time.Time `json:"created_at" yaml:"created_at" structs:"created_at,omitnested"`
	UpdatedAt     time.Time `json:"updated_at" yaml:"updated_at" structs:"updated_at,omitnested"`
	ArchivedAt    time.Time `json:"archived_at,omitempty" yaml:"archived_at,omitempty" structs:"archived_at,omitnested"`
}

// CaseUpdate holds the fields update_case may change. Empty fields are left
// untouched.
type CaseUpdate struct {
	Examiner     string
	Organization string
	Description  string
	Timezone     string
	Status       Status
}

// EvidenceRecord describes a registered piece of evidence.
type EvidenceRecord struct {
	ID            string                 `json:"evidence_id" yaml:"evidence_id" structs:"evidence_id"`
	Type          string                 `json:"type" yaml:"type" structs:"type"`
	SourceRef     string                 `json:"source_ref,omitempty" yaml:"source_ref,omitempty" structs:"source_ref"`
	Description   string                 `json:"description,omitempty" yaml:"description,omitempty" structs:"description"`
	RegisteredAt  time.Time              `json:"registered_at" yaml:"registered_at" structs:"registered_at,omitnested"`
	Checksum      string                 `json:"checksum,omitempty" yaml:"checksum,omitempty" structs:"checksum"`
	HashAlgorithm string                 `json:"hash_algorithm,omitempty" yaml:"hash_algorithm,omitempty" structs:"hash_algorithm"`
	Size          int64                  `json:"size" yaml:"size" structs:"size"`
	Status        string                 `json:"status" yaml:"status" structs:"status"`
	Metadata      map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty" structs:"metadata,omitempty"`
}

// AnalysisRecord describes an analysis run over registered evidence.
type AnalysisRecord struct {
	ID          string                 `json:"analysis_id" yaml:"analysis_id" structs:"analysis_id"`
	Type        string                 `json:"type" yaml:"type" structs:"type"`
	EvidenceIDs []string               `json:"evidence_ids" yaml:"evidence_ids" structs:"evidence_ids"`
	ToolName    string                 `json:"tool_name" yaml:"tool_name" structs:"tool_name"`
	ToolVersion string                 `json:"tool_version,omitempty" yaml:"tool_version,omitempty" structs:"tool_version"`
	OutputRef   string                 `json:"output_ref,omitempty" yaml:"output_ref,omitempty" structs:"output_ref"`
	Description string                 `json:"description,omitempty" yaml:"description,omitempty" structs:"description"`
	CreatedAt   time.Time              `json:"created_at" yaml:"created_at" structs:"created_at,omitnested"`
	Metadata    map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty" structs:"metadata,omitempty"`
}

// ReportRecord describes a generated report.
type ReportRecord struct {
	ID             string                 `json:"report_id" yaml:"report_id" structs:"report_id"`
	Type           string                 `json:"type" yaml:"type" structs:"type"`
	Format         string                 `json:"format" yaml:"format" structs:"format"`
	OutputRef      string                 `json:"output_ref,omitempty" yaml:"output_ref,omitempty" structs:"output_ref"`
	Examiner       string                 `json:"examiner" yaml:"examiner" structs:"examiner"`
	Description    string                 `json:"description,omitempty" yaml:"description,omitempty" structs:"description"`
	GeneratedAt    time.Time              `json:"generated_at" yaml:"generated_at" structs:"generated_at,omitnested"`
	Size           int64                  `json:"size" yaml:"size" structs:"size"`
	EstimatedPages int64                  `json:"estimated_pages" yaml:"estimated_pages" structs:"estimated_pages"`
	Metadata       map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty" structs:"metadata,omitempty"`
}

// CustodyEntry is one immutable event in the chain of custody of a case.
// Fields are declared in hashing order.
type CustodyEntry struct {
	Seq       int64     `json:"seq" yaml:"seq" structs:"seq"`
	ID        string    `json:"entry_id" yaml:"entry_id" structs:"entry_id"`
	CaseID    string    `json:"case_id" yaml:"case_id" structs:"case_id"`
	RefID     string    `json:"ref_id" yaml:"ref_id" structs:"ref_id"`
	RefKind   Kind      `json:"ref_kind" yaml:"ref_kind" structs:"ref_kind"`
	Action    string    `json:"action" yaml:"action" structs:"action"`
	Handler   string    `json:"handler" yaml:"handler" structs:"handler"`
	Notes     string    `json:"notes,omitempty" yaml:"notes,omitempty" structs:"notes"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp" structs:"timestamp,omitnested"`
	PrevHash  string    `json:"prev_hash" yaml:"prev_hash" structs:"prev_hash"`
	Hash      string    `json:"hash" yaml:"hash" structs:"hash"`
}

// Summary aggregates the manifest of a case.
type Summary struct {
	CaseID         string           `json:"case_id"`
	Evidences      int64            `json:"evidences"`
	Analyses       int64            `json:"analyses"`
	Reports        int64            `json:"reports"`
	CustodyEntries int64            `json:"custody_entries"`
	Unverified     int64            `json:"unverified"`
	EvidenceByType map[string]int64 `json:"evidence_by_type"`
	LastEvidence   time.Time        `json:"last_evidence,omitempty"`
	LastAnalysis   time.Time        `json:"last_analysis,omitempty"`
	LastReport     time.Time        `json:"last_report,omitempty"`
	LastCustody    time.Time        `json:"last_custody,omitempty"`
}

var safeID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

const maxIDLength = 128

func validateID(what, id string) error {
	if id == "" {
		return errors.Wrapf(ErrInvalidInput, "%s is empty", what)
	}
	if len(id) > maxIDLength || !safeID.MatchString(id) || strings.Contains(id, "..") {
		return errors.Wrapf(ErrInvalidInput, "%s %q contains unsafe characters", what, id)
	}
	return nil
}

func required(what, value string) error {
	if strings.TrimSpace(value) == "" {
		return errors.Wrapf(ErrInvalidInput, "%s is required", what)
	}
	return nil
}

// normalize turns user supplied tags like "Report Generated" into
// "report_generated".
func normalize(s string) string {
	return strcase.SnakeCase(strings.TrimSpace(s))
}

// NewCase builds a validated case record.
func NewCase(id, examiner, organization, description, timezone string) (*Case, error) {
	if err := validateID("case id", id); err != nil {
		return nil, err
	}
	if err := required("examiner", examiner); err != nil {
		return nil, err
	}
	if timezone == "" {
		timezone = "UTC"
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return nil, errors.Wrapf(ErrInvalidInput, "unknown timezone %q", timezone)
	}
	return &Case{
		ID:            id,
		Examiner:      examiner,
		Organization:  organization,
		Description:   description,
		Timezone:      timezone,
		Status:        StatusActive,
		SchemaVersion: SchemaVersion,
	}, nil
}

// NewEvidence builds a validated evidence record. An empty id is allowed and
// replaced by a generated one on registration.
func NewEvidence(id, evidenceType, sourceRef, description string) (*EvidenceRecord, error) {
	if id != "" {
		if err := validateID("evidence id", id); err != nil {
			return nil, err
		}
	}
	evidenceType = normalize(evidenceType)
	if err := required("evidence type", evidenceType); err != nil {
		return nil, err
	}
	return &EvidenceRecord{
		ID:          id,
		Type:        evidenceType,
		SourceRef:   sourceRef,
		Description: description,
		Status:      EvidenceUnverified,
	}, nil
}

// NewAnalysis builds a validated analysis record.
func NewAnalysis(id, analysisType string, evidenceIDs []string, toolName, toolVersion, outputRef, description string) (*AnalysisRecord, error) {
	if id != "" {
		if err := validateID("analysis id", id); err != nil {
			return nil, err
		}
	}
	analysisType = normalize(analysisType)
	if err := required("analysis type", analysisType); err != nil {
		return nil, err
	}
	if err := required("tool name", toolName); err != nil {
		return nil, err
	}
	if len(evidenceIDs) == 0 {
		return nil, errors.Wrap(ErrInvalidInput, "analysis requires at least one evidence id")
	}
	seen := map[string]bool{}
	var ids []string
	for _, evidenceID := range evidenceIDs {
		if err := validateID("evidence id", evidenceID); err != nil {
			return nil, err
		}
		if !seen[evidenceID] {
			seen[evidenceID] = true
			ids = append(ids, evidenceID)
		}
	}
	return &AnalysisRecord{
		ID:          id,
		Type:        analysisType,
		EvidenceIDs: ids,
		ToolName:    toolName,
		ToolVersion: toolVersion,
		OutputRef:   outputRef,
		Description: description,
	}, nil
}

// NewReport builds a validated report record.
func NewReport(id, reportType, format, outputRef, examiner, description string) (*ReportRecord, error) {
	if id != "" {
		if err := validateID("report id", id); err != nil {
			return nil, err
		}
	}
	reportType = normalize(reportType)
	if err := required("report type", reportType); err != nil {
		return nil, err
	}
	format = strings.ToLower(strings.TrimSpace(format))
	if err := required("report format", format); err != nil {
		return nil, err
	}
	if err := required("examiner", examiner); err != nil {
		return nil, err
	}
	return &ReportRecord{
		ID:          id,
		Type:        reportType,
		Format:      format,
		OutputRef:   outputRef,
		Examiner:    examiner,
		Description: description,
	}, nil
}

// estimatePages follows the usual sizes of rendered reports.
func estimatePages(format string, size int64) int64 {
	if size <= 0 {
		return 0
	}
	var perPage int64
	switch format {
	case "pdf":
		perPage = 50 * 1024
	case "html", "markdown", "md":
		perPage = 5 * 1024
	default:
		return 1
	}
	if pages := size / perPage; pages > 1 {
		return pages
	}
	return 1
}
