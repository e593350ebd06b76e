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

package spooled

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemporaryFile_Close(t1 *testing.T) {
	tests := []struct {
		name  string
		write int
	}{
		{"close memory", 1},
		{"close rolled over", 100},
	}
	for _, tt := range tests {
		t1.Run(tt.name, func(t1 *testing.T) {
			t, _ := New(10, t1.TempDir())
			_, err := t.Write(bytes.Repeat([]byte("a"), tt.write))
			require.NoError(t1, err)

			var name string
			if t.tempFile != nil {
				name = t.tempFile.Name()
			}
			assert.NoError(t1, t.Close())
			if name != "" {
				_, err := os.Stat(name)
				assert.True(t1, os.IsNotExist(err), "temporary file should be removed")
			}
		})
	}
}

func TestTemporaryFile_Read(t1 *testing.T) {
	tests := []struct {
		name    string
		maxSize int64
	}{
		{"memory", 1000},
		{"rolled over", 10},
	}
	for _, tt := range tests {
		t1.Run(tt.name, func(t1 *testing.T) {
			t, teardown := New(tt.maxSize, t1.TempDir())
			defer teardown()

			want := bytes.Repeat([]byte("abcd"), 100)
			_, err := t.Write(want[:200])
			require.NoError(t1, err)
			_, err = t.Write(want[200:])
			require.NoError(t1, err)

			got, err := io.ReadAll(t)
			require.NoError(t1, err)
			assert.Equal(t1, want, got)

			_, err = t.Write([]byte("x"))
			assert.Error(t1, err)
		})
	}
}

func TestTemporaryFile_Rollover(t1 *testing.T) {
	t, teardown := New(10, t1.TempDir())
	defer teardown()

	_, err := t.Write([]byte("abc"))
	require.NoError(t1, err)
	require.NoError(t1, t.Rollover())
	assert.True(t1, t.rolledOver)
	require.NoError(t1, t.Rollover())

	got, err := io.ReadAll(t)
	require.NoError(t1, err)
	assert.Equal(t1, "abc", string(got))
}

func TestTemporaryFile_Write(t1 *testing.T) {
	type args struct {
		p []byte
	}
	tests := []struct {
		name           string
		args           args
		wantN          int
		wantRolledOver bool
	}{
		{"small write", args{[]byte("abc")}, 3, false},
		{"large write", args{bytes.Repeat([]byte("abc"), 10)}, 30, true},
	}
	for _, tt := range tests {
		t1.Run(tt.name, func(t1 *testing.T) {
			t, teardown := New(10, t1.TempDir())
			defer teardown()

			gotN, err := t.Write(tt.args.p)
			require.NoError(t1, err)
			assert.Equal(t1, tt.wantN, gotN)
			assert.Equal(t1, tt.wantRolledOver, t.rolledOver)
			assert.Equal(t1, int64(tt.wantN), t.Size())
		})
	}
}
