package keys_test

import (
	"ossgate/internal/errs"
	"ossgate/internal/keys"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func fixedNamer() keys.Namer {
	return keys.Namer{NewID: func() string { return "0b7e1e55-1c1c-4f2e-9a0e-4d2b8f0f6a11" }}
}

func TestDeriveKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  keys.Request
		want string
	}{
		{
			name: "original name verbatim",
			req:  keys.Request{Directory: "uploads", OriginalName: "Report Final.PDF", MIMEType: "application/pdf", UseOriginalName: true},
			want: "uploads/Report Final.PDF",
		},
		{
			name: "explicit name gets extension",
			req:  keys.Request{Directory: "uploads", ExplicitName: "avatar", MIMEType: "image/png"},
			want: "uploads/avatar.png",
		},
		{
			name: "generated name",
			req:  keys.Request{Directory: "uploads", MIMEType: "video/mp4"},
			want: "uploads/0b7e1e55-1c1c-4f2e-9a0e-4d2b8f0f6a11.mp4",
		},
		{
			name: "unknown mime falls back to bin",
			req:  keys.Request{Directory: "uploads", ExplicitName: "blob", MIMEType: "application/x-made-up"},
			want: "uploads/blob.bin",
		},
		{
			name: "empty mime falls back to bin",
			req:  keys.Request{Directory: "uploads", ExplicitName: "blob"},
			want: "uploads/blob.bin",
		},
		{
			name: "trailing slashes collapse",
			req:  keys.Request{Directory: "a/b//", ExplicitName: "x", MIMEType: "application/pdf"},
			want: "a/b/x.pdf",
		},
		{
			name: "parameters ignored",
			req:  keys.Request{Directory: "d", ExplicitName: "x", MIMEType: "image/png; foo=bar"},
			want: "d/x.png",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := fixedNamer().DeriveKey(tc.req)
			require.NoError(t, err, "DeriveKey error")
			require.Equal(t, tc.want, got)
			require.NotContains(t, got, "//")
		})
	}
}

func TestDeriveKeyRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  keys.Request
	}{
		{name: "empty directory", req: keys.Request{ExplicitName: "x"}},
		{name: "slash only directory", req: keys.Request{Directory: "///", ExplicitName: "x"}},
		{name: "missing original name", req: keys.Request{Directory: "d", UseOriginalName: true}},
		{name: "control character", req: keys.Request{Directory: "d", OriginalName: "a\nb", UseOriginalName: true}},
		{name: "too long", req: keys.Request{Directory: "d", OriginalName: strings.Repeat("a", keys.MaxKeyLength), UseOriginalName: true}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := fixedNamer().DeriveKey(tc.req)
			require.Error(t, err)
			require.True(t, errs.IsInvalidInput(err), "expected invalid input, got %v", err)
		})
	}
}

func TestDeriveKeyGeneratesUniqueNames(t *testing.T) {
	t.Parallel()

	namer := keys.NewNamer()
	a, err := namer.DeriveKey(keys.Request{Directory: "d", MIMEType: "image/png"})
	require.NoError(t, err)
	b, err := namer.DeriveKey(keys.Request{Directory: "d", MIMEType: "image/png"})
	require.NoError(t, err)
	require.NotEqual(t, a, b)
	require.True(t, strings.HasSuffix(a, ".png"))
}

func TestDetectMIME(t *testing.T) {
	t.Parallel()

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	require.Equal(t, "image/png", keys.DetectMIME(png))
}

func TestIsPrefix(t *testing.T) {
	t.Parallel()

	require.True(t, keys.IsPrefix("dir/"))
	require.False(t, keys.IsPrefix("dir/file"))
}
