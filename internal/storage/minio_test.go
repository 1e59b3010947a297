package storage

import (
	"errors"
	"net/http"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/require"
)

func TestTranslateMinioError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code string
		want error
	}{
		{code: "NoSuchKey", want: ErrNoSuchKey},
		{code: "NoSuchUpload", want: ErrNoSuchUpload},
		{code: "InvalidPart", want: ErrInvalidPart},
		{code: "InvalidPartOrder", want: ErrInvalidPartOrder},
		{code: "EntityTooSmall", want: ErrEntityTooSmall},
	}

	for _, tc := range tests {
		t.Run(tc.code, func(t *testing.T) {
			t.Parallel()

			resp := minio.ErrorResponse{Code: tc.code, StatusCode: http.StatusBadRequest}
			err := translateMinioError(resp)
			require.ErrorIs(t, err, tc.want)

			var got minio.ErrorResponse
			require.True(t, errors.As(err, &got), "original error kept in chain")
			require.Equal(t, tc.code, got.Code)
		})
	}

	plain := errors.New("connection refused")
	require.Equal(t, plain, translateMinioError(plain))
	require.NoError(t, translateMinioError(nil))
}

func TestNewMinioStoreObjectURL(t *testing.T) {
	t.Parallel()

	s, err := NewMinioStore(MinioConfig{
		Endpoint:        "localhost:9000",
		Bucket:          "uploads",
		AccessKeyID:     "minioadmin",
		SecretAccessKey: "minioadmin",
	})
	require.NoError(t, err, "NewMinioStore error")
	require.Equal(t, "http://localhost:9000/uploads/dir/a.txt", s.ObjectURL("dir/a.txt"))

	s, err = NewMinioStore(MinioConfig{
		Endpoint:  "localhost:9000",
		Bucket:    "uploads",
		PublicURL: "https://cdn.example.com",
	})
	require.NoError(t, err, "NewMinioStore error")
	require.Equal(t, "https://cdn.example.com/dir/a.txt", s.ObjectURL("dir/a.txt"))
}
