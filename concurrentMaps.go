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
	"sync"
	"time"

	"crawshaw.io/sqlite/sqlitex"
	"github.com/pkg/errors"
)

// caseLock serialises all mutations of one case. It is a one slot channel so
// acquisition can give up after a timeout.
type caseLock chan struct{}

func (l caseLock) acquire(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case l <- struct{}{}:
		return nil
	case <-timer.C:
		return errors.Wrapf(ErrBusy, "waited %s", timeout)
	case <-ctx.Done():
		return errors.Wrap(ErrBusy, ctx.Err().Error())
	}
}

func (l caseLock) release() {
	<-l
}

type lockMap struct {
	sync.RWMutex
	locks map[string]caseLock
}

func newLockMap() *lockMap {
	return &lockMap{locks: map[string]caseLock{}}
}

func (lm *lockMap) get(caseID string) caseLock {
	lm.RLock()
	l, ok := lm.locks[caseID]
	lm.RUnlock()
	if ok {
		return l
	}

	lm.Lock()
	defer lm.Unlock()
	if l, ok = lm.locks[caseID]; !ok {
		l = make(caseLock, 1)
		lm.locks[caseID] = l
	}
	return l
}

// caseHandle is an open case database. Readers hold life for reading while
// they use the pool, deletion holds it for writing to close the pool.
type caseHandle struct {
	life   sync.RWMutex
	pool   *sqlitex.Pool
	closed bool
}

type handleMap struct {
	sync.RWMutex
	handles map[string]*caseHandle
}

func newHandleMap() *handleMap {
	return &handleMap{handles: map[string]*caseHandle{}}
}

func (hm *handleMap) get(caseID string) (*caseHandle, bool) {
	hm.RLock()
	defer hm.RUnlock()
	h, ok := hm.handles[caseID]
	return h, ok
}

func (hm *handleMap) remove(caseID string) {
	hm.Lock()
	delete(hm.handles, caseID)
	hm.Unlock()
}

func (hm *handleMap) all() map[string]*caseHandle {
	hm.RLock()
	defer hm.RUnlock()
	handles := make(map[string]*caseHandle, len(hm.handles))
	for id, h := range hm.handles {
		handles[id] = h
	}
	return handles
}
