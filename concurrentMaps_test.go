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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_caseLock_acquire(t *testing.T) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name    string
		ctx     context.Context
		held    bool
		wantErr error
	}{
		{"free", context.Background(), false, nil},
		{"held", context.Background(), true, ErrBusy},
		{"canceled", canceled, true, ErrBusy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := make(caseLock, 1)
			if tt.held {
				require.NoError(t, l.acquire(context.Background(), time.Second))
			}
			err := l.acquire(tt.ctx, 20*time.Millisecond)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "acquire() error = %v, want %v", err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			l.release()
		})
	}
}

func Test_lockMap_get(t *testing.T) {
	lm := newLockMap()
	a := lm.get("CASO-001")
	assert.Equal(t, a, lm.get("CASO-001"))
	assert.NotEqual(t, a, lm.get("CASO-002"))
	assert.Len(t, lm.locks, 2)
}

func Test_handleMap(t *testing.T) {
	hm := newHandleMap()
	_, ok := hm.get("CASO-001")
	assert.False(t, ok)

	h := &caseHandle{}
	hm.handles["CASO-001"] = h
	got, ok := hm.get("CASO-001")
	assert.True(t, ok)
	assert.Same(t, h, got)

	all := hm.all()
	hm.remove("CASO-001")
	assert.Len(t, all, 1)
	assert.Empty(t, hm.all())
}
