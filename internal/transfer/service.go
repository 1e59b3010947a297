// Package transfer implements whole-object operations: single and
// streaming puts, reads, overwrites, copies, directory listings and bulk
// deletes.
package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"ossgate/internal/errs"
	"ossgate/internal/keys"
	"ossgate/internal/storage"
	"strings"
	"time"
)

const (
	// DefaultSignedURLTTL is how long listing URLs stay valid.
	DefaultSignedURLTTL = time.Hour

	DefaultDeleteConcurrency = 4
)

// FileUpload describes where and under which name an uploaded file lands.
type FileUpload struct {
	Directory       string
	FileName        string
	OriginalName    string
	ContentType     string
	UseOriginalName bool
}

type PutResult struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

type CopyResult struct {
	Status int    `json:"ossStatus"`
	URL    string `json:"url"`
}

type FileEntry struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
	URL          string    `json:"url"`
}

type Service struct {
	store             storage.ObjectStore
	namer             keys.Namer
	signedURLTTL      time.Duration
	maxListPages      int
	deleteConcurrency int
}

type Option func(*Service)

func WithNamer(namer keys.Namer) Option {
	return func(s *Service) {
		s.namer = namer
	}
}

func WithSignedURLTTL(ttl time.Duration) Option {
	return func(s *Service) {
		s.signedURLTTL = ttl
	}
}

func WithMaxListPages(n int) Option {
	return func(s *Service) {
		s.maxListPages = n
	}
}

func WithDeleteConcurrency(n int) Option {
	return func(s *Service) {
		s.deleteConcurrency = n
	}
}

func NewService(store storage.ObjectStore, opts ...Option) *Service {
	s := &Service{
		store:             store,
		namer:             keys.NewNamer(),
		signedURLTTL:      DefaultSignedURLTTL,
		maxListPages:      storage.DefaultMaxPages,
		deleteConcurrency: DefaultDeleteConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func upstream(op string, key string, err error) error {
	if errors.Is(err, storage.ErrNoSuchKey) {
		return errs.NotFound(op, key, err)
	}
	return errs.Upstream(op, key, err)
}

// DeriveKey resolves the destination key of an upload, defaulting the
// directory to keys.DefaultDirectory.
func (s *Service) DeriveKey(f FileUpload) (string, error) {
	dir := f.Directory
	if dir == "" {
		dir = keys.DefaultDirectory
	}
	return s.namer.DeriveKey(keys.Request{
		Directory:       dir,
		ExplicitName:    f.FileName,
		OriginalName:    f.OriginalName,
		MIMEType:        f.ContentType,
		UseOriginalName: f.UseOriginalName,
	})
}

// PutWhole stores a fully buffered payload and returns the object's URL.
func (s *Service) PutWhole(ctx context.Context, data []byte, key string, contentType string) (string, error) {
	if err := keys.Validate(key); err != nil {
		return "", err
	}

	if _, err := s.store.PutObject(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return "", upstream("put", key, err)
	}

	slog.Debug("Object stored", "object_key", key, "size", len(data))
	return s.store.ObjectURL(key), nil
}

// PutStream hands r to the store without buffering it here. size may be
// negative when the length is unknown.
func (s *Service) PutStream(ctx context.Context, r io.Reader, size int64, key string, contentType string) (PutResult, error) {
	if err := keys.Validate(key); err != nil {
		return PutResult{}, err
	}

	info, err := s.store.PutObject(ctx, key, r, size, contentType)
	if err != nil {
		return PutResult{}, upstream("put stream", key, err)
	}

	slog.Debug("Object streamed", "object_key", key, "size", info.Size)
	return PutResult{URL: s.store.ObjectURL(key), Name: key}, nil
}

// Upload derives the key for f and stores data under it. A missing or
// generic content type is replaced by one sniffed from data.
func (s *Service) Upload(ctx context.Context, f FileUpload, data []byte) (PutResult, error) {
	if f.ContentType == "" || f.ContentType == "application/octet-stream" {
		f.ContentType = keys.DetectMIME(data)
	}

	key, err := s.DeriveKey(f)
	if err != nil {
		return PutResult{}, err
	}
	url, err := s.PutWhole(ctx, data, key, f.ContentType)
	if err != nil {
		return PutResult{}, err
	}
	return PutResult{URL: url, Name: key}, nil
}

// UploadStream derives the key for f and streams r under it.
func (s *Service) UploadStream(ctx context.Context, f FileUpload, r io.Reader, size int64) (PutResult, error) {
	key, err := s.DeriveKey(f)
	if err != nil {
		return PutResult{}, err
	}
	return s.PutStream(ctx, r, size, key, f.ContentType)
}

func (s *Service) GetContent(ctx context.Context, key string) ([]byte, error) {
	if err := keys.Validate(key); err != nil {
		return nil, err
	}

	data, err := s.store.GetObject(ctx, key)
	if err != nil {
		return nil, upstream("get", key, err)
	}
	return data, nil
}

// UpdateContent replaces the whole object at key.
func (s *Service) UpdateContent(ctx context.Context, key string, data []byte) (PutResult, error) {
	if err := keys.Validate(key); err != nil {
		return PutResult{}, err
	}
	if len(data) == 0 {
		return PutResult{}, errs.Invalid("update", key, "content is required")
	}

	url, err := s.PutWhole(ctx, data, key, "")
	if err != nil {
		return PutResult{}, err
	}
	return PutResult{URL: url, Name: key}, nil
}

func (s *Service) Copy(ctx context.Context, sourceKey string, targetKey string) (CopyResult, error) {
	if sourceKey == "" || targetKey == "" {
		return CopyResult{}, errs.Invalid("copy", "", "source and target keys are required")
	}
	if err := keys.Validate(targetKey); err != nil {
		return CopyResult{}, err
	}

	if _, err := s.store.CopyObject(ctx, sourceKey, targetKey); err != nil {
		return CopyResult{}, upstream("copy", sourceKey, err)
	}

	slog.Info("Object copied", "source_key", sourceKey, "target_key", targetKey)
	return CopyResult{Status: http.StatusOK, URL: s.store.ObjectURL(targetKey)}, nil
}

// ListByPrefix lists the objects directly under directory. Nested
// directories are not descended into. Each entry carries a signed, time
// limited read URL.
func (s *Service) ListByPrefix(ctx context.Context, directory string) ([]FileEntry, error) {
	if directory == "" {
		return nil, errs.Invalid("list", "", "directory is required")
	}

	prefix := directory
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	entries := []FileEntry{}
	err := storage.ListAllObjects(ctx, s.store, storage.ListObjectsInput{
		Prefix:    prefix,
		Delimiter: "/",
		MaxKeys:   storage.MaxKeysPerPage,
	}, s.maxListPages, func(page storage.ListObjectsPage) error {
		for _, obj := range page.Objects {
			signed, err := s.store.PresignGet(ctx, obj.Key, s.signedURLTTL)
			if err != nil {
				return err
			}
			entries = append(entries, FileEntry{
				Name:         obj.Key,
				Size:         obj.Size,
				LastModified: obj.LastModified,
				URL:          signed,
			})
		}
		return nil
	})
	if err != nil {
		return nil, errs.Upstream("list", prefix, err)
	}
	return entries, nil
}
