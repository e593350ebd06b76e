// Copyright (c) 2019 Nguyễn Quốc Đính
// Copyright (c) 2019 Siemens AG
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
// Author(s): Nguyễn Quốc Đính, Jonas Plum
//

// Package flatten turns nested records into single level maps with dotted
// keys and back. It is used to write records as table rows.
package flatten

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/imdario/mergo"
)

// Delimiter separates the path segments of a flattened key.
const Delimiter = "."

// Flatten returns a map one level deep, e.g. {"a": {"b": 1}} becomes
// {"a.b": 1}. Slices are indexed by position. Nil values are dropped.
func Flatten(nested map[string]interface{}) (map[string]interface{}, error) {
	flat := map[string]interface{}{}
	if err := flattenInto(flat, "", nested); err != nil {
		return nil, err
	}
	return flat, nil
}

func flattenInto(flat map[string]interface{}, prefix string, value interface{}) error {
	if value == nil {
		return nil
	}

	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("cannot flatten map with %s keys", v.Type().Key())
		}
		for _, k := range v.MapKeys() {
			if strings.Contains(k.String(), Delimiter) {
				return fmt.Errorf("key %q must not contain %q", k.String(), Delimiter)
			}
			if err := flattenInto(flat, join(prefix, k.String()), v.MapIndex(k).Interface()); err != nil {
				return err
			}
		}
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			flat[prefix] = value
			return nil
		}
		for i := 0; i < v.Len(); i++ {
			if err := flattenInto(flat, join(prefix, strconv.Itoa(i)), v.Index(i).Interface()); err != nil {
				return err
			}
		}
	default:
		flat[prefix] = value
	}
	return nil
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + Delimiter + key
}

// Unflatten reverses Flatten. Maps whose keys are exactly 0..n-1 become
// slices again.
func Unflatten(flat map[string]interface{}) (map[string]interface{}, error) {
	nested := map[string]interface{}{}
	for key, value := range flat {
		segments := strings.Split(key, Delimiter)
		var branch interface{} = value
		for i := len(segments) - 1; i >= 0; i-- {
			branch = map[string]interface{}{segments[i]: branch}
		}
		if err := mergo.Merge(&nested, branch.(map[string]interface{})); err != nil {
			return nil, err
		}
	}

	for key, value := range nested {
		nested[key] = restoreLists(value)
	}
	return nested, nil
}

func restoreLists(value interface{}) interface{} {
	m, ok := value.(map[string]interface{})
	if !ok {
		return value
	}
	for key, child := range m {
		m[key] = restoreLists(child)
	}

	list := make([]interface{}, len(m))
	for key, child := range m {
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(m) || strconv.Itoa(i) != key {
			return m
		}
		list[i] = child
	}
	if len(list) == 0 {
		return m
	}
	return list
}

// Columns returns the keys of all rows, fixed columns first in the given
// order, the remaining keys sorted.
func Columns(fixed []string, rows []map[string]interface{}) []string {
	seen := map[string]bool{}
	columns := make([]string, 0, len(fixed))
	for _, column := range fixed {
		if !seen[column] {
			seen[column] = true
			columns = append(columns, column)
		}
	}

	var extra []string
	for _, row := range rows {
		for key := range row {
			if !seen[key] {
				seen[key] = true
				extra = append(extra, key)
			}
		}
	}
	sort.Strings(extra)
	return append(columns, extra...)
}
