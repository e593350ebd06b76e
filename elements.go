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
	"encoding/json"
	"path"
	"strings"

	"github.com/google/uuid"
)

// stixNamespace is the namespace of deterministic STIX cyber observable ids.
var stixNamespace = uuid.MustParse("00abedb4-aa42-466c-9c01-fed23315a9b7")

// STIXBundle implements a STIX 2.1 Bundle.
type STIXBundle struct {
	Type    string            `json:"type"`
	ID      string            `json:"id"`
	Objects []json.RawMessage `json:"objects"`
}

// NewSTIXBundle creates an empty STIX 2.1 Bundle.
func NewSTIXBundle() *STIXBundle {
	return &STIXBundle{Type: "bundle", ID: "bundle--" + uuid.NewString(), Objects: []json.RawMessage{}}
}

// File implements a STIX 2.1 File Object.
type File struct {
	Type        string            `json:"type"`
	SpecVersion string            `json:"spec_version"`
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Hashes      map[string]string `json:"hashes,omitempty"`
	Size        int64             `json:"size,omitempty"`
}

// NewFile creates the STIX 2.1 File Object of an evidence record. The id is
// derived from the hash, or from the name if there is none.
func NewFile(record *EvidenceRecord) (*File, error) {
	name := record.ID
	if record.SourceRef != "" {
		name = path.Base(strings.ReplaceAll(record.SourceRef, "\\", "/"))
	}
	f := &File{Type: "file", SpecVersion: "2.1", Name: name}

	contributing := map[string]interface{}{"name": name}
	if record.Checksum != "" {
		f.Hashes = map[string]string{"SHA-256": record.Checksum}
		f.Size = record.Size
		contributing = map[string]interface{}{"hashes": f.Hashes}
	}
	seed, err := json.Marshal(contributing)
	if err != nil {
		return nil, err
	}
	f.ID = "file--" + uuid.NewSHA1(stixNamespace, seed).String()
	return f, nil
}
