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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/qri-io/jsonschema"
	"github.com/tidwall/gjson"

	"github.com/forensicanalysis/stixgo"
)

const discriminator = "type"

var schemaOnce sync.Once

func setupSchemaValidation() {
	schemaOnce.Do(func() {
		registry := jsonschema.GetSchemaRegistry()
		for _, content := range stixgo.FS {
			// convert to draft/2019-09
			content = bytes.Replace(content, []byte(`"definitions"`), []byte(`"$defs"`), -1)
			content = bytes.Replace(content, []byte(`"#/definitions/`), []byte(`"#/$defs/`), -1)
			content = bytes.Replace(content,
				[]byte(`"$schema": "http://json-schema.org/draft-07/schema#",`),
				[]byte(`"$schema": "https://json-schema.org/draft/2019-09/schema#",`),
				-1,
			)

			schema := &jsonschema.Schema{}
			if err := json.Unmarshal(content, schema); err != nil {
				panic(err)
			}

			id := string(*schema.JSONProp("$id").(*jsonschema.ID))
			schema.Resolve(nil, id)
			registry.Register(schema)
		}
	})
}

// validateSchema checks a STIX object against the schema of its type.
// Objects without a known schema pass.
func validateSchema(ctx context.Context, object []byte) (flaws []string, err error) {
	setupSchemaValidation()

	objectType := gjson.GetBytes(object, discriminator)
	if !objectType.Exists() {
		return []string{"object needs to have a type"}, nil
	}

	schema := jsonschema.GetSchemaRegistry().GetKnown(fmt.Sprintf(
		"http://raw.githubusercontent.com/oasis-open/cti-stix2-json-schemas/stix2.1/schemas/observables/%s.json",
		objectType.String(),
	))
	if schema == nil {
		return nil, nil
	}

	errs, err := schema.ValidateBytes(ctx, object)
	if err != nil {
		return nil, err
	}
	for _, verr := range errs {
		flaws = append(flaws, fmt.Sprintf("failed to validate %s: %s", gjson.GetBytes(object, "id"), verr))
	}
	return flaws, nil
}

// ExportSTIX writes the evidence of the case as a STIX 2.1 bundle of file
// observables. Every object is validated before it is written.
func (l *Ledger) ExportSTIX(ctx context.Context) ([]byte, error) {
	records, err := l.Evidences(ctx)
	if err != nil {
		return nil, err
	}

	bundle := NewSTIXBundle()
	var flaws []string
	for _, record := range records {
		file, err := NewFile(record)
		if err != nil {
			return nil, err
		}
		object, err := json.Marshal(file)
		if err != nil {
			return nil, err
		}
		objectFlaws, err := validateSchema(ctx, object)
		if err != nil {
			return nil, err
		}
		flaws = append(flaws, objectFlaws...)
		bundle.Objects = append(bundle.Objects, object)
	}
	if len(flaws) > 0 {
		return nil, errors.Wrap(ErrInvalidInput, strings.Join(flaws, "; "))
	}
	return json.MarshalIndent(bundle, "", "  ")
}
