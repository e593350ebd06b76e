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
	"fmt"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
)

const casestoreVersion = 1
const caseApplicationID = 1668248436

const dbName = "case.db"

const schema = `
CREATE TABLE case_info (
  case_id TEXT PRIMARY KEY,
  uuid TEXT NOT NULL,
  examiner TEXT NOT NULL,
  organization TEXT NOT NULL DEFAULT '',
  description TEXT NOT NULL DEFAULT '',
  timezone TEXT NOT NULL,
  status TEXT NOT NULL,
  schema_version TEXT NOT NULL,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  archived_at TEXT NOT NULL DEFAULT ''
);

CREATE TABLE records (
  id TEXT PRIMARY KEY,
  kind TEXT NOT NULL
);

CREATE TABLE sequences (
  kind TEXT PRIMARY KEY,
  value INTEGER NOT NULL
);

CREATE TABLE evidence (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  id TEXT NOT NULL UNIQUE REFERENCES records(id),
  type TEXT NOT NULL,
  source_ref TEXT NOT NULL DEFAULT '',
  description TEXT NOT NULL DEFAULT '',
  registered_at TEXT NOT NULL,
  checksum TEXT,
  hash_algorithm TEXT NOT NULL DEFAULT '',
  size INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL,
  metadata TEXT NOT NULL DEFAULT ''
);

CREATE TABLE analyses (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  id TEXT NOT NULL UNIQUE REFERENCES records(id),
  type TEXT NOT NULL,
  tool_name TEXT NOT NULL,
  tool_version TEXT NOT NULL DEFAULT '',
  output_ref TEXT NOT NULL DEFAULT '',
  description TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL,
  metadata TEXT NOT NULL DEFAULT ''
);

CREATE TABLE analysis_evidence (
  analysis_id TEXT NOT NULL REFERENCES analyses(id),
  evidence_id TEXT NOT NULL REFERENCES evidence(id),
  position INTEGER NOT NULL,
  PRIMARY KEY (analysis_id, evidence_id)
);

CREATE TABLE reports (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  id TEXT NOT NULL UNIQUE REFERENCES records(id),
  type TEXT NOT NULL,
  format TEXT NOT NULL,
  output_ref TEXT NOT NULL DEFAULT '',
  examiner TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  generated_at TEXT NOT NULL,
  size INTEGER NOT NULL DEFAULT 0,
  estimated_pages INTEGER NOT NULL DEFAULT 0,
  metadata TEXT NOT NULL DEFAULT ''
);

CREATE TABLE custody (
  seq INTEGER PRIMARY KEY,
  id TEXT NOT NULL UNIQUE,
  ref_id TEXT NOT NULL REFERENCES records(id),
  ref_kind TEXT NOT NULL,
  action TEXT NOT NULL,
  handler TEXT NOT NULL,
  notes TEXT NOT NULL DEFAULT '',
  timestamp TEXT NOT NULL,
  prev_hash TEXT NOT NULL,
  hash TEXT NOT NULL
);

CREATE INDEX custody_ref ON custody(ref_id, seq);
`

func pragma(conn *sqlite.Conn, name string) (int64, error) {
	stmt, err := conn.Prepare("PRAGMA " + name)
	if err != nil {
		return 0, err
	}
	_, err = stmt.Step()
	if err != nil {
		return 0, err
	}
	i := stmt.GetInt64(name)
	return i, stmt.Reset()
}

func setPragma(conn *sqlite.Conn, name string, i int64) error {
	return sqlitex.ExecTransient(conn, "PRAGMA "+name+" = "+fmt.Sprint(i), nil)
}

// initSchema creates the tables of a fresh case database.
func initSchema(conn *sqlite.Conn) (err error) {
	defer sqlitex.Save(conn)(&err)

	if err = setPragma(conn, "application_id", caseApplicationID); err != nil {
		return err
	}
	if err = setPragma(conn, "user_version", casestoreVersion); err != nil {
		return err
	}
	return sqlitex.ExecScript(conn, schema)
}

// checkSchema rejects databases that are not case databases of this version.
func checkSchema(conn *sqlite.Conn) error {
	applicationID, err := pragma(conn, "application_id")
	if err != nil {
		return err
	}
	if applicationID != caseApplicationID {
		msg := "wrong file format (application_id is %d, requires %d)"
		return fmt.Errorf(msg, applicationID, caseApplicationID)
	}

	version, err := pragma(conn, "user_version")
	if err != nil {
		return err
	}
	if version != casestoreVersion {
		msg := "wrong file format (user_version is %d, requires %d)"
		return fmt.Errorf(msg, version, casestoreVersion)
	}
	return nil
}
