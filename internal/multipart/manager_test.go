package multipart_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"ossgate/internal/errs"
	"ossgate/internal/multipart"
	"ossgate/internal/storage"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, opts ...storage.MemoryOption) (*multipart.Manager, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore(append([]storage.MemoryOption{storage.WithBaseURL("https://bucket.example.com")}, opts...)...)
	return multipart.NewManager(store), store
}

func uploadParts(t *testing.T, m *multipart.Manager, key string, uploadID string, chunks map[int]string) map[int]multipart.Part {
	t.Helper()
	parts := make(map[int]multipart.Part, len(chunks))
	for n, chunk := range chunks {
		p, err := m.UploadPart(t.Context(), key, uploadID, n, []byte(chunk))
		require.NoErrorf(t, err, "UploadPart %d error", n)
		require.Equal(t, n, p.PartNumber)
		parts[n] = p
	}
	return parts
}

func TestMultipartAssemblesInPartNumberOrder(t *testing.T) {
	t.Parallel()

	m, store := newTestManager(t)
	const key = "videos/clip.mp4"

	uploadID, err := m.Initiate(t.Context(), key)
	require.NoError(t, err, "Initiate error")
	require.NotEmpty(t, uploadID)

	// Parts uploaded out of order and concurrently.
	chunks := map[int]string{3: "three", 1: "one-", 2: "two-"}
	results := make(chan multipart.Part, len(chunks))
	var wg sync.WaitGroup
	for n, chunk := range chunks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := m.UploadPart(t.Context(), key, uploadID, n, []byte(chunk))
			if err == nil {
				results <- p
			}
		}()
	}
	wg.Wait()
	close(results)

	var parts []multipart.Part
	for p := range results {
		parts = append(parts, p)
	}
	require.Len(t, parts, 3, "all concurrent uploads should succeed")
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })

	res, err := m.Complete(t.Context(), key, uploadID, parts)
	require.NoError(t, err, "Complete error")
	require.Equal(t, multipart.CompleteResult{
		Status: http.StatusOK,
		Name:   key,
		URL:    "https://bucket.example.com/videos/clip.mp4",
	}, res)

	got, err := store.GetObject(t.Context(), key)
	require.NoError(t, err)
	require.Equal(t, "one-two-three", string(got))
}

func TestMultipartReuploadLastWriteWins(t *testing.T) {
	t.Parallel()

	m, store := newTestManager(t)
	const key = "docs/a.txt"

	uploadID, err := m.Initiate(t.Context(), key)
	require.NoError(t, err)

	_, err = m.UploadPart(t.Context(), key, uploadID, 1, []byte("first"))
	require.NoError(t, err)
	latest, err := m.UploadPart(t.Context(), key, uploadID, 1, []byte("second"))
	require.NoError(t, err)

	_, err = m.Complete(t.Context(), key, uploadID, []multipart.Part{latest})
	require.NoError(t, err)

	got, err := store.GetObject(t.Context(), key)
	require.NoError(t, err)
	require.Equal(t, "second", string(got))
}

func TestMultipartCompleteIsNotIdempotent(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t)
	const key = "a.bin"

	uploadID, err := m.Initiate(t.Context(), key)
	require.NoError(t, err)
	parts := uploadParts(t, m, key, uploadID, map[int]string{1: "x"})

	_, err = m.Complete(t.Context(), key, uploadID, []multipart.Part{parts[1]})
	require.NoError(t, err)

	_, err = m.Complete(t.Context(), key, uploadID, []multipart.Part{parts[1]})
	require.Error(t, err)
	require.True(t, errs.IsUpstream(err), "expected upstream error, got %v", err)
	require.ErrorIs(t, err, storage.ErrNoSuchUpload)
}

func TestMultipartCompleteRejectsEtagMismatch(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t)
	const key = "a.bin"

	uploadID, err := m.Initiate(t.Context(), key)
	require.NoError(t, err)
	uploadParts(t, m, key, uploadID, map[int]string{1: "x"})

	_, err = m.Complete(t.Context(), key, uploadID, []multipart.Part{{PartNumber: 1, ETag: "bogus"}})
	require.True(t, errs.IsUpstream(err), "expected upstream error, got %v", err)

	_, err = m.Complete(t.Context(), key, uploadID, []multipart.Part{{PartNumber: 2, ETag: "missing"}})
	require.True(t, errs.IsUpstream(err), "missing part: %v", err)
}

func TestMultipartCompleteRejectsSmallNonFinalPart(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, storage.WithMinPartSize(5))
	const key = "a.bin"

	uploadID, err := m.Initiate(t.Context(), key)
	require.NoError(t, err)
	parts := uploadParts(t, m, key, uploadID, map[int]string{1: "ab", 2: "cd"})

	_, err = m.Complete(t.Context(), key, uploadID, []multipart.Part{parts[1], parts[2]})
	require.True(t, errs.IsUpstream(err), "expected upstream error, got %v", err)
	require.ErrorIs(t, err, storage.ErrEntityTooSmall)
}

func TestMultipartLocalValidation(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t)
	ctx := t.Context()

	tests := []struct {
		name string
		call func() error
	}{
		{name: "initiate empty key", call: func() error {
			_, err := m.Initiate(ctx, "")
			return err
		}},
		{name: "initiate prefix key", call: func() error {
			_, err := m.Initiate(ctx, "dir/")
			return err
		}},
		{name: "part number zero", call: func() error {
			_, err := m.UploadPart(ctx, "k", "u", 0, []byte("x"))
			return err
		}},
		{name: "part number too large", call: func() error {
			_, err := m.UploadPart(ctx, "k", "u", multipart.MaxPartNumber+1, []byte("x"))
			return err
		}},
		{name: "empty part", call: func() error {
			_, err := m.UploadPart(ctx, "k", "u", 1, nil)
			return err
		}},
		{name: "missing upload id", call: func() error {
			_, err := m.UploadPart(ctx, "k", "", 1, []byte("x"))
			return err
		}},
		{name: "empty manifest", call: func() error {
			_, err := m.Complete(ctx, "k", "u", nil)
			return err
		}},
		{name: "missing etag", call: func() error {
			_, err := m.Complete(ctx, "k", "u", []multipart.Part{{PartNumber: 1}})
			return err
		}},
		{name: "duplicate part", call: func() error {
			_, err := m.Complete(ctx, "k", "u", []multipart.Part{{PartNumber: 1, ETag: "a"}, {PartNumber: 1, ETag: "a"}})
			return err
		}},
		{name: "descending parts", call: func() error {
			_, err := m.Complete(ctx, "k", "u", []multipart.Part{{PartNumber: 2, ETag: "a"}, {PartNumber: 1, ETag: "b"}})
			return err
		}},
		{name: "abort missing upload id", call: func() error {
			_, err := m.Abort(ctx, "k", "")
			return err
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.call()
			require.Error(t, err)
			require.True(t, errs.IsInvalidInput(err), "expected invalid input, got %v", err)
		})
	}
}

func TestMultipartUploadPartUnknownUpload(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t)
	_, err := m.UploadPart(t.Context(), "k", "does-not-exist", 1, []byte("x"))
	require.True(t, errs.IsUpstream(err), "expected upstream error, got %v", err)
}

func TestMultipartAbort(t *testing.T) {
	t.Parallel()

	m, store := newTestManager(t)
	const key = "a.bin"

	uploadID, err := m.Initiate(t.Context(), key)
	require.NoError(t, err)
	parts := uploadParts(t, m, key, uploadID, map[int]string{1: "x", 2: "y"})

	res, err := m.Abort(t.Context(), key, uploadID)
	require.NoError(t, err, "Abort error")
	require.False(t, res.AlreadyGone)

	_, err = store.GetObject(t.Context(), key)
	require.ErrorIs(t, err, storage.ErrNoSuchKey, "no object after abort")

	_, err = m.Complete(t.Context(), key, uploadID, []multipart.Part{parts[1], parts[2]})
	require.True(t, errs.IsUpstream(err), "complete after abort: %v", err)

	// Aborting again is soft.
	res, err = m.Abort(t.Context(), key, uploadID)
	require.NoError(t, err, "second Abort error")
	require.True(t, res.AlreadyGone)
}

func TestListUnfinishedPaginates(t *testing.T) {
	t.Parallel()

	for _, pageSize := range []int{1, 2, 7, 1000} {
		t.Run(fmt.Sprintf("page size %d", pageSize), func(t *testing.T) {
			t.Parallel()

			m, _ := newTestManager(t, storage.WithPageSize(pageSize))
			want := map[string]string{}
			for i := range 13 {
				key := fmt.Sprintf("batch/file-%d.bin", i%5)
				id, err := m.Initiate(t.Context(), key)
				require.NoError(t, err)
				want[id] = key
			}
			_, err := m.Initiate(t.Context(), "elsewhere/file.bin")
			require.NoError(t, err)

			uploads, err := m.ListUnfinished(t.Context(), "batch/")
			require.NoError(t, err, "ListUnfinished error")

			got := map[string]string{}
			for _, u := range uploads {
				_, dup := got[u.UploadID]
				require.Falsef(t, dup, "upload %s returned twice", u.UploadID)
				got[u.UploadID] = u.ObjectKey
				require.False(t, u.Initiated.IsZero())
			}
			require.Equal(t, want, got)
		})
	}
}

func TestListUnfinishedRunawayIsUpstream(t *testing.T) {
	t.Parallel()

	store := &stuckListing{MemoryStore: storage.NewMemoryStore()}
	m := multipart.NewManager(store, multipart.WithMaxListPages(3))

	_, err := m.ListUnfinished(t.Context(), "")
	require.ErrorIs(t, err, storage.ErrPaginationRunaway)
	require.True(t, errs.IsUpstream(err))
}

type stuckListing struct {
	*storage.MemoryStore
	calls int
}

func (s *stuckListing) ListMultipartUploads(context.Context, storage.ListUploadsInput) (storage.ListUploadsPage, error) {
	s.calls++
	return storage.ListUploadsPage{IsTruncated: true, NextKeyMarker: fmt.Sprint("k", s.calls)}, nil
}

// flakyAbortStore fails aborts for selected upload IDs.
type flakyAbortStore struct {
	*storage.MemoryStore
	fail     map[string]bool
	attempts atomic.Int32
}

func (s *flakyAbortStore) AbortMultipart(ctx context.Context, key string, uploadID string) error {
	s.attempts.Add(1)
	if s.fail[uploadID] {
		return errors.New("store unavailable")
	}
	return s.MemoryStore.AbortMultipart(ctx, key, uploadID)
}

func TestAbortAllForKeyExactMatch(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t)
	ctx := t.Context()

	var ids []string
	for range 3 {
		id, err := m.Initiate(ctx, "movie.mp4")
		require.NoError(t, err)
		ids = append(ids, id)
	}
	other, err := m.Initiate(ctx, "movie.mp4.bak")
	require.NoError(t, err)

	results, err := m.AbortAllForKey(ctx, "movie.mp4")
	require.NoError(t, err, "AbortAllForKey error")
	require.Len(t, results, 3)

	var aborted []string
	for _, r := range results {
		require.Equal(t, "movie.mp4", r.ObjectKey)
		require.Empty(t, r.Error)
		aborted = append(aborted, r.UploadID)
	}
	require.ElementsMatch(t, ids, aborted)

	remaining, err := m.ListUnfinished(ctx, "")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, other, remaining[0].UploadID)
}

func TestAbortAllForKeyCollectsFailures(t *testing.T) {
	t.Parallel()

	store := &flakyAbortStore{MemoryStore: storage.NewMemoryStore(), fail: map[string]bool{}}
	m := multipart.NewManager(store, multipart.WithAbortConcurrency(2))
	ctx := t.Context()

	var ids []string
	for range 5 {
		id, err := m.Initiate(ctx, "big.iso")
		require.NoError(t, err)
		ids = append(ids, id)
	}
	store.fail[ids[0]] = true
	store.fail[ids[3]] = true

	results, err := m.AbortAllForKey(ctx, "big.iso")
	require.Error(t, err, "expected aggregated error")
	require.True(t, errs.IsUpstream(err), "aggregate wraps upstream errors: %v", err)
	require.Equal(t, int32(5), store.attempts.Load(), "every upload gets an attempt")
	require.Len(t, results, 5)

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			require.True(t, store.fail[r.UploadID])
			require.NotEmpty(t, r.Error)
		}
	}
	require.Equal(t, 2, failed)
}

func TestAbortAllForKeyNoPending(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t)
	results, err := m.AbortAllForKey(t.Context(), "nothing.bin")
	require.NoError(t, err)
	require.Empty(t, results)
}
