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
	"crawshaw.io/sqlite"
	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned if a case or manifest record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateCase is returned if a case with the same id already exists.
	ErrDuplicateCase = errors.New("case already exists")
	// ErrDuplicateID is returned if a manifest identifier is already taken in a case.
	ErrDuplicateID = errors.New("duplicate id")
	// ErrDanglingReference is returned if a record or custody entry references
	// an identifier the manifest does not know.
	ErrDanglingReference = errors.New("dangling reference")
	// ErrInvalidInput is returned for malformed identifiers and missing fields.
	ErrInvalidInput = errors.New("invalid input")
	// ErrBusy is returned if the case lock could not be acquired in time.
	ErrBusy = errors.New("case is busy")
	// ErrStorageFailure wraps failures of the underlying database or filesystem.
	ErrStorageFailure = errors.New("storage failure")
)

// kindError carries a sentinel kind next to the underlying cause, so both
// errors.Is(err, ErrStorageFailure) and the original message survive.
type kindError struct {
	kind  error
	cause error
}

func (e *kindError) Error() string {
	return e.kind.Error() + ": " + e.cause.Error()
}

func (e *kindError) Is(target error) bool {
	return target == e.kind
}

func (e *kindError) Unwrap() error {
	return e.cause
}

func storageError(err error, msg string) error {
	if err == nil {
		return nil
	}
	if isKnown(err) {
		return errors.Wrap(err, msg)
	}
	return errors.Wrap(&kindError{kind: ErrStorageFailure, cause: err}, msg)
}

func isKnown(err error) bool {
	for _, kind := range []error{
		ErrNotFound, ErrDuplicateCase, ErrDuplicateID, ErrDanglingReference,
		ErrInvalidInput, ErrBusy, ErrStorageFailure,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

func isConstraint(err error) bool {
	switch sqlite.ErrCode(err) {
	case sqlite.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}
