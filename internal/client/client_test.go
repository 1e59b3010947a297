package client_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"ossgate/internal/auth"
	"ossgate/internal/client"
	"ossgate/internal/core"
	"ossgate/internal/storage"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newServer(t *testing.T, store storage.ObjectStore) *httptest.Server {
	t.Helper()

	srv, err := core.NewServer(core.NewConfig(
		core.WithStore(store),
		core.WithAuthEngine(auth.NewBasicAuthEngine("user", "pass")),
	))
	require.NoError(t, err)

	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)
	return httpSrv
}

func TestUploadMultipart(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore(storage.WithBaseURL("https://bucket.example.com"))
	srv := newServer(t, store)
	c := client.New(srv.URL, client.WithBasicAuth("user", "pass"), client.WithPartSize(4), client.WithConcurrency(2))

	content := "the quick brown fox jumps over the lazy dog"
	res, err := c.UploadMultipart(t.Context(), "texts/fox.txt", strings.NewReader(content), int64(len(content)))
	require.NoError(t, err, "UploadMultipart error")
	require.Equal(t, http.StatusOK, res.Status)
	require.Equal(t, "texts/fox.txt", res.Name)
	require.Equal(t, "https://bucket.example.com/texts/fox.txt", res.URL)

	got, err := store.GetObject(t.Context(), "texts/fox.txt")
	require.NoError(t, err)
	require.Equal(t, content, string(got))

	pending, err := c.Pending(t.Context(), "texts/")
	require.NoError(t, err)
	require.Empty(t, pending)
}

// partFailingStore rejects one part number.
type partFailingStore struct {
	*storage.MemoryStore
	failPart int
}

func (s *partFailingStore) UploadPart(ctx context.Context, key string, uploadID string, partNumber int, r io.Reader, size int64) (storage.Part, error) {
	if partNumber == s.failPart {
		return storage.Part{}, errors.New("disk full")
	}
	return s.MemoryStore.UploadPart(ctx, key, uploadID, partNumber, r, size)
}

func TestUploadMultipartAbortsOnFailure(t *testing.T) {
	t.Parallel()

	store := &partFailingStore{MemoryStore: storage.NewMemoryStore(), failPart: 3}
	srv := newServer(t, store)
	c := client.New(srv.URL, client.WithBasicAuth("user", "pass"), client.WithPartSize(2))

	_, err := c.UploadMultipart(t.Context(), "data/blob.bin", strings.NewReader("0123456789"), 10)
	require.Error(t, err)

	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusInternalServerError, apiErr.Code)

	pending, err := c.Pending(t.Context(), "data/")
	require.NoError(t, err)
	require.Empty(t, pending, "failed uploads are aborted")
}

func TestClientErrors(t *testing.T) {
	t.Parallel()

	srv := newServer(t, storage.NewMemoryStore())

	anonymous := client.New(srv.URL)
	_, err := anonymous.Initiate(t.Context(), "a.txt")
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusUnauthorized, apiErr.Code)

	c := client.New(srv.URL, client.WithBasicAuth("user", "pass"))
	_, err = c.UploadMultipart(t.Context(), "a.txt", strings.NewReader(""), 0)
	require.Error(t, err, "empty payloads are refused locally")

	err = c.Abort(t.Context(), "a.txt", "")
	require.NoError(t, err, "bulk abort with nothing pending succeeds")
}
