package errs_test

import (
	"errors"
	"fmt"
	"net/http"
	"ossgate/internal/errs"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "invalid", err: errs.Invalid("copy", "", "source key is required"), want: http.StatusBadRequest},
		{name: "not found", err: errs.NotFound("get", "a.txt", cause), want: http.StatusNotFound},
		{name: "upstream", err: errs.Upstream("initiate", "a.bin", cause), want: http.StatusInternalServerError},
		{name: "unauthorized", err: errs.Unauthorized("auth", "missing token"), want: http.StatusUnauthorized},
		{name: "plain", err: cause, want: http.StatusInternalServerError},
		{name: "wrapped", err: fmt.Errorf("handler: %w", errs.Invalid("x", "", "bad")), want: http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, errs.HTTPStatus(tc.err))
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := errs.Upstream("abort", "video.mp4", cause)

	require.ErrorIs(t, err, cause)
	require.True(t, errs.IsUpstream(err))
	require.False(t, errs.IsNotFound(err))
	require.Equal(t, "abort video.mp4: boom", err.Error())
}

func TestClientMessage(t *testing.T) {
	t.Parallel()

	require.Equal(t, "dir is required", errs.ClientMessage(errs.Invalid("list", "", "dir is required")))
	require.Equal(t, "get a.txt: gone", errs.ClientMessage(errs.NotFound("get", "a.txt", errors.New("gone"))))
	require.Equal(t, "plain", errs.ClientMessage(errors.New("plain")))
}
