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
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClock is a settable clock.
type testClock struct {
	sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.Lock()
	defer c.Unlock()
	return c.now
}

func (c *testClock) Add(d time.Duration) {
	c.Lock()
	c.now = c.now.Add(d)
	c.Unlock()
}

func setup(t *testing.T, opts ...Option) (*Store, *testClock) {
	t.Helper()
	clock := newTestClock()
	store, err := Open(filepath.Join(t.TempDir(), "cases"), append([]Option{WithClock(clock)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, clock
}

func createCase(t *testing.T, store *Store, id string) *Case {
	t.Helper()
	c, err := store.CreateCase(context.Background(), id, "A. Perez", "CERT", "host SYS-1 compromised", "Europe/Madrid")
	require.NoError(t, err)
	return c
}

func TestStore_CreateCase(t *testing.T) {
	store, clock := setup(t)
	ctx := context.Background()

	c := createCase(t, store, "CASO-001")
	want := &Case{
		ID:            "CASO-001",
		Examiner:      "A. Perez",
		Organization:  "CERT",
		Description:   "host SYS-1 compromised",
		Timezone:      "Europe/Madrid",
		Status:        StatusActive,
		SchemaVersion: SchemaVersion,
		CreatedAt:     clock.Now(),
		UpdatedAt:     clock.Now(),
	}
	if diff := cmp.Diff(want, c, cmpopts.IgnoreFields(Case{}, "UUID")); diff != "" {
		t.Errorf("CreateCase() mismatch (-want +got):\n%s", diff)
	}
	assert.NotEmpty(t, c.UUID)

	got, err := store.GetCase(ctx, "CASO-001")
	require.NoError(t, err)
	if diff := cmp.Diff(c, got); diff != "" {
		t.Errorf("GetCase() mismatch (-want +got):\n%s", diff)
	}

	for _, partition := range Partitions {
		assert.DirExists(t, filepath.Join(store.CaseDir("CASO-001"), partition))
	}
	assert.FileExists(t, filepath.Join(store.CaseDir("CASO-001"), dbName))
	assert.NoFileExists(t, filepath.Join(store.CaseDir("CASO-001"), dbName+partialSuffix))
}

func TestStore_CreateCaseErrors(t *testing.T) {
	store, _ := setup(t)
	createCase(t, store, "CASO-001")

	tests := []struct {
		name     string
		id       string
		examiner string
		timezone string
		wantErr  error
	}{
		{"duplicate", "CASO-001", "A. Perez", "", ErrDuplicateCase},
		{"empty id", "", "A. Perez", "", ErrInvalidInput},
		{"path id", "../CASO-002", "A. Perez", "", ErrInvalidInput},
		{"no examiner", "CASO-002", "  ", "", ErrInvalidInput},
		{"timezone", "CASO-002", "A. Perez", "Mars/Olympus", ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.CreateCase(context.Background(), tt.id, tt.examiner, "", "", tt.timezone)
			assert.True(t, errors.Is(err, tt.wantErr), "CreateCase() error = %v, want %v", err, tt.wantErr)
		})
	}

	_, err := os.Stat(store.CaseDir("CASO-002"))
	assert.True(t, os.IsNotExist(err), "failed creations must not leave a folder")
}

func TestStore_GetCaseNotFound(t *testing.T) {
	store, _ := setup(t)
	_, err := store.GetCase(context.Background(), "CASO-404")
	assert.True(t, errors.Is(err, ErrNotFound), "GetCase() error = %v", err)
}

func TestStore_ListCases(t *testing.T) {
	store, clock := setup(t)
	ctx := context.Background()

	cases, err := store.ListCases(ctx)
	require.NoError(t, err)
	assert.Empty(t, cases)

	for _, id := range []string{"CASO-002", "CASO-001", "CASO-010"} {
		createCase(t, store, id)
		clock.Add(time.Minute)
	}
	require.NoError(t, os.MkdirAll(filepath.Join(store.Root(), "not-a-case"), 0750))

	cases, err = store.ListCases(ctx)
	require.NoError(t, err)
	var ids []string
	for _, c := range cases {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"CASO-002", "CASO-001", "CASO-010"}, ids)

	next, err := store.NextCaseID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "CASO-011", next)
}

func TestStore_UpdateCase(t *testing.T) {
	store, clock := setup(t)
	ctx := context.Background()
	created := createCase(t, store, "CASO-001")
	clock.Add(time.Hour)

	tests := []struct {
		name    string
		update  CaseUpdate
		check   func(t *testing.T, c *Case)
		wantErr error
	}{
		{"description only", CaseUpdate{Description: "lateral movement"}, func(t *testing.T, c *Case) {
			assert.Equal(t, "lateral movement", c.Description)
			assert.Equal(t, "A. Perez", c.Examiner)
			assert.Equal(t, StatusActive, c.Status)
		}, nil},
		{"close", CaseUpdate{Status: StatusClosed}, func(t *testing.T, c *Case) {
			assert.Equal(t, StatusClosed, c.Status)
			assert.True(t, c.ArchivedAt.IsZero())
		}, nil},
		{"archive", CaseUpdate{Status: StatusArchived}, func(t *testing.T, c *Case) {
			assert.Equal(t, clock.Now(), c.ArchivedAt)
		}, nil},
		{"unknown status", CaseUpdate{Status: "paused"}, nil, ErrInvalidInput},
		{"unknown timezone", CaseUpdate{Timezone: "Nowhere"}, nil, ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := store.UpdateCase(ctx, "CASO-001", tt.update)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "UpdateCase() error = %v, want %v", err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, c)
			assert.Equal(t, created.CreatedAt, c.CreatedAt)
			assert.Equal(t, clock.Now(), c.UpdatedAt)
		})
	}

	_, err := store.UpdateCase(ctx, "CASO-404", CaseUpdate{Description: "x"})
	assert.True(t, errors.Is(err, ErrNotFound), "UpdateCase() error = %v", err)
}

func TestStore_DeleteCase(t *testing.T) {
	store, _ := setup(t)
	ctx := context.Background()
	createCase(t, store, "CASO-001")
	ledger := store.Ledger("CASO-001")
	_, err := ledger.RegisterEvidence(ctx, "", EvidenceProcesses, "", "")
	require.NoError(t, err)

	deleted, err := store.DeleteCase(ctx, "CASO-001", false)
	require.NoError(t, err)
	assert.False(t, deleted)
	_, err = store.GetCase(ctx, "CASO-001")
	require.NoError(t, err)

	deleted, err = store.DeleteCase(ctx, "CASO-001", true)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.NoDirExists(t, store.CaseDir("CASO-001"))

	_, err = store.GetCase(ctx, "CASO-001")
	assert.True(t, errors.Is(err, ErrNotFound), "GetCase() error = %v", err)
	_, err = ledger.Evidences(ctx)
	assert.True(t, errors.Is(err, ErrNotFound), "Evidences() error = %v", err)

	_, err = store.DeleteCase(ctx, "CASO-001", true)
	assert.True(t, errors.Is(err, ErrNotFound), "DeleteCase() error = %v", err)

	// the id can be used again and starts empty
	createCase(t, store, "CASO-001")
	records, err := ledger.Evidences(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestStore_DeleteCaseRacingReaders(t *testing.T) {
	store, _ := setup(t)
	ctx := context.Background()

	for round := 0; round < 20; round++ {
		createCase(t, store, "CASO-001")

		stop := make(chan struct{})
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-stop:
						return
					default:
					}
					_, err := store.GetCase(ctx, "CASO-001")
					if err != nil && !errors.Is(err, ErrNotFound) {
						t.Errorf("GetCase() error = %v", err)
						return
					}
				}
			}()
		}

		deleted, err := store.DeleteCase(ctx, "CASO-001", true)
		require.NoError(t, err)
		require.True(t, deleted)

		// readers that raced the delete must not have reopened the case
		_, err = store.GetCase(ctx, "CASO-001")
		close(stop)
		wg.Wait()
		require.True(t, errors.Is(err, ErrNotFound), "round %d: GetCase() error = %v", round, err)
		_, ok := store.handles.get("CASO-001")
		require.False(t, ok, "round %d: deleted case still has an open database", round)
	}
}

func TestOpen_RemovesLeftovers(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{tombstonePrefix + "CASO-001-x", restorePrefix + "123"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, name, "evidence"), 0750))
	}

	store, err := Open(root)
	require.NoError(t, err)
	defer store.Close()

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_SetupCaseStructure(t *testing.T) {
	store, _ := setup(t)
	ctx := context.Background()
	createCase(t, store, "CASO-001")
	evidence := filepath.Join(store.CaseDir("CASO-001"), "evidence", "ps.txt")
	require.NoError(t, os.WriteFile(evidence, []byte("PID 1"), 0600))
	require.NoError(t, os.RemoveAll(filepath.Join(store.CaseDir("CASO-001"), "reports")))

	for i := 0; i < 2; i++ {
		require.NoError(t, store.SetupCaseStructure(ctx, "CASO-001"))
		for _, partition := range Partitions {
			assert.DirExists(t, filepath.Join(store.CaseDir("CASO-001"), partition))
		}
		assert.FileExists(t, evidence)
	}

	err := store.SetupCaseStructure(ctx, "CASO-404")
	assert.True(t, errors.Is(err, ErrNotFound), "SetupCaseStructure() error = %v", err)
}

func TestStore_Busy(t *testing.T) {
	store, _ := setup(t, WithLockTimeout(50*time.Millisecond))
	ctx := context.Background()
	createCase(t, store, "CASO-001")
	createCase(t, store, "CASO-002")

	lock := store.locks.get("CASO-001")
	require.NoError(t, lock.acquire(ctx, time.Second))

	start := time.Now()
	_, err := store.Ledger("CASO-001").RegisterEvidence(ctx, "", EvidenceNetwork, "", "")
	assert.True(t, errors.Is(err, ErrBusy), "RegisterEvidence() error = %v", err)
	assert.Less(t, time.Since(start), 5*time.Second)

	// reads and other cases are not blocked
	_, err = store.GetCase(ctx, "CASO-001")
	require.NoError(t, err)
	_, err = store.Ledger("CASO-002").RegisterEvidence(ctx, "", EvidenceNetwork, "", "")
	require.NoError(t, err)

	lock.release()
	_, err = store.Ledger("CASO-001").RegisterEvidence(ctx, "", EvidenceNetwork, "", "")
	require.NoError(t, err)
}

func TestStore_ConcurrentRegistrations(t *testing.T) {
	store, _ := setup(t)
	ctx := context.Background()
	createCase(t, store, "CASO-001")
	ledger := store.Ledger("CASO-001")

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := ledger.RegisterEvidence(ctx, "", EvidenceTempFiles, "", fmt.Sprintf("file %d", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	records, err := ledger.Evidences(ctx)
	require.NoError(t, err)
	require.Len(t, records, n)
	ids := map[string]bool{}
	for _, record := range records {
		ids[record.ID] = true
	}
	assert.Len(t, ids, n)

	entries, err := ledger.ChainHistory(ctx)
	require.NoError(t, err)
	require.Len(t, entries, n)
	for i, entry := range entries {
		assert.Equal(t, int64(i+1), entry.Seq)
	}
	assert.Empty(t, ValidateChain(entries))
}

func TestStore_NewID(t *testing.T) {
	store, _ := setup(t)
	ctx := context.Background()
	createCase(t, store, "CASO-001")

	_, err := store.Ledger("CASO-001").RegisterEvidence(ctx, "EVD-000002", EvidenceNetwork, "", "")
	require.NoError(t, err)

	tests := []struct {
		kind    Kind
		want    string
		wantErr error
	}{
		{KindEvidence, "EVD-000001", nil},
		{KindEvidence, "EVD-000003", nil},
		{KindAnalysis, "ANL-000001", nil},
		{KindReport, "RPT-000001", nil},
		{"note", "", ErrInvalidInput},
	}
	for _, tt := range tests {
		got, err := store.NewID(ctx, tt.kind, "CASO-001")
		if tt.wantErr != nil {
			assert.True(t, errors.Is(err, tt.wantErr), "NewID(%s) error = %v", tt.kind, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
