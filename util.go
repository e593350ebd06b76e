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
	"reflect"
	"strings"
)

// hashNames keep their spelling when metadata keys are normalised.
var hashNames = map[string]bool{
	"MD5":        true,
	"SHA-1":      true,
	"SHA-256":    true,
	"SHA-512":    true,
	"SHA3-256":   true,
	"SSDEEP":     true,
	"TLSH":       true,
	"WHIRLPOOL":  true,
	"RIPEMD-160": true,
}

// lower converts metadata keys to snake_case and drops empty values. The
// input is not modified.
func lower(f interface{}) interface{} {
	switch f := f.(type) {
	case []interface{}:
		l := make([]interface{}, len(f))
		for i := range f {
			l[i] = lower(f[i])
		}
		return l
	case map[string]interface{}:
		lf := make(map[string]interface{}, len(f))
		for k, v := range f {
			if isEmptyValue(reflect.ValueOf(v)) {
				continue
			}
			if !hashNames[k] {
				// dots separate flattened columns
				k = strings.ReplaceAll(normalize(k), ".", "_")
			}
			lf[k] = lower(v)
		}
		return lf
	default:
		return f
	}
}

// normalizeMetadata returns the metadata with normalised keys or nil if
// nothing remains.
func normalizeMetadata(metadata map[string]interface{}) map[string]interface{} {
	if len(metadata) == 0 {
		return nil
	}
	m := lower(metadata).(map[string]interface{})
	if len(m) == 0 {
		return nil
	}
	return m
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Invalid:
		return true
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Interface, reflect.Ptr:
		return v.IsNil()
	}
	return false
}
