package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseSettingsFromEnvironment(t *testing.T) {
	t.Setenv("OSS_BACKEND", "memory")
	t.Setenv("OSS_BUCKET", "media")
	t.Setenv("OSS_SIGNED_URL_TTL", "15m")
	t.Setenv("OSS_SECURE", "true")

	s, err := parseSettings([]string{"-listen", ":9999"})
	require.NoError(t, err)
	require.Equal(t, "memory", s.Backend)
	require.Equal(t, "media", s.Bucket)
	require.Equal(t, 15*time.Minute, s.SignedURLTTL)
	require.True(t, s.Secure)
	require.Equal(t, ":9999", s.Listen, "flags override the environment")
}

func TestParseSettingsRejectsBadDuration(t *testing.T) {
	t.Setenv("OSS_SIGNED_URL_TTL", "forever")

	_, err := parseSettings(nil)
	require.Error(t, err)
}

func TestOpenStore(t *testing.T) {
	store, err := openStore(t.Context(), settings{Backend: "memory", PublicHost: "https://cdn.example.com"})
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/a/b.txt", store.ObjectURL("a/b.txt"))

	_, err = openStore(t.Context(), settings{Backend: "ftp"})
	require.Error(t, err)
}

func TestNewAuthenticator(t *testing.T) {
	_, err := newAuthenticator(settings{})
	require.Error(t, err, "refuses to start without any credentials")

	engine, err := newAuthenticator(settings{TokenSecret: "s", BasicUser: "u", BasicPassword: "p"})
	require.NoError(t, err)
	require.NotNil(t, engine)
}
