package core

import (
	"ossgate/internal/auth"
	"ossgate/internal/keys"
	"ossgate/internal/policy"
	"ossgate/internal/storage"
	"time"
)

const (
	DefaultMaxFiles      = 5
	DefaultMaxUploadSize = 10 * 1024 * 1024
	DefaultMaxPartSize   = 64 * 1024 * 1024
)

type Config struct {
	Store         storage.ObjectStore
	Authenticator auth.AuthEngine

	// Issuer signs direct upload policies. Without one, /getOssSignature
	// responds with an error.
	Issuer *policy.Issuer

	Namer         *keys.Namer
	SignedURLTTL  time.Duration
	MaxListPages  int
	MaxFiles      int
	MaxUploadSize int64
	MaxPartSize   int64
}

type ConfigOption func(*Config)

func WithStore(store storage.ObjectStore) ConfigOption {
	return func(cfg *Config) {
		cfg.Store = store
	}
}

func WithAuthEngine(authenticator auth.AuthEngine) ConfigOption {
	return func(cfg *Config) {
		cfg.Authenticator = authenticator
	}
}

func WithPolicyIssuer(issuer *policy.Issuer) ConfigOption {
	return func(cfg *Config) {
		cfg.Issuer = issuer
	}
}

func WithNamer(namer keys.Namer) ConfigOption {
	return func(cfg *Config) {
		cfg.Namer = &namer
	}
}

func WithSignedURLTTL(ttl time.Duration) ConfigOption {
	return func(cfg *Config) {
		cfg.SignedURLTTL = ttl
	}
}

func WithMaxListPages(n int) ConfigOption {
	return func(cfg *Config) {
		cfg.MaxListPages = n
	}
}

// WithUploadLimits bounds /uploadFiles and /streamUploadFiles.
func WithUploadLimits(maxFiles int, maxFileSize int64) ConfigOption {
	return func(cfg *Config) {
		cfg.MaxFiles = maxFiles
		cfg.MaxUploadSize = maxFileSize
	}
}

func WithMaxPartSize(n int64) ConfigOption {
	return func(cfg *Config) {
		cfg.MaxPartSize = n
	}
}

func NewConfig(opts ...ConfigOption) Config {
	cfg := Config{
		SignedURLTTL:  time.Hour,
		MaxListPages:  storage.DefaultMaxPages,
		MaxFiles:      DefaultMaxFiles,
		MaxUploadSize: DefaultMaxUploadSize,
		MaxPartSize:   DefaultMaxPartSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
