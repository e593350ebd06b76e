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

// Package casestore keeps forensic cases, the manifest of evidence, analyses
// and reports registered for them and the chain of custody that ties every
// registered item to the people who handled it.
//
// # The casestore format
//
// The casestore format implements the following conventions:
//   - A casestore is a folder containing one folder per case, named by the case id.
//   - A case folder contains a case.db file and the partitions evidence, analysis, reports and exports.
//   - The case.db file is a sqlite database holding the case record, the manifest and the custody log.
//   - Manifest identifiers are unique within a case across evidence, analyses and reports.
//   - Custody entries are numbered without gaps and hash chained, the first entry chains from 64 zeros.
//   - Checksums are SHA-256 over the referenced content at registration time.
//
// # Structure
//
// An example directory structure for a casestore:
//
//	cases/
//	├── CASO-001
//	│   ├── analysis
//	│   ├── evidence
//	│   │   └── system_info.json
//	│   ├── exports
//	│   ├── reports
//	│   └── case.db
//	└── CASO-002
//	    └── ...
package casestore
