// Package multipart drives the multipart upload lifecycle against an
// object store: initiate, upload parts, then complete or abort.
//
// The Manager keeps no session state of its own. The store is the only
// record of pending uploads, which is why listing and bulk abort go
// through the store's multipart listing.
package multipart

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"ossgate/internal/errs"
	"ossgate/internal/keys"
	"ossgate/internal/storage"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

const (
	MaxPartNumber = 10000

	// DefaultAbortConcurrency bounds the fan-out of AbortAllForKey.
	DefaultAbortConcurrency = 8
)

type Upload struct {
	ObjectKey string    `json:"objectKey"`
	UploadID  string    `json:"uploadId"`
	Initiated time.Time `json:"initiated"`
}

type Part struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
	Size       int64  `json:"size,omitempty"`
}

type CompleteResult struct {
	Status int    `json:"ossStatus"`
	Name   string `json:"name"`
	URL    string `json:"url"`
}

// AbortResult is the outcome of aborting one upload.
type AbortResult struct {
	ObjectKey string `json:"objectKey"`
	UploadID  string `json:"uploadId"`

	// AlreadyGone is set when the store no longer knew the upload.
	AlreadyGone bool   `json:"alreadyGone,omitempty"`
	Error       string `json:"error,omitempty"`

	Err error `json:"-"`
}

type Manager struct {
	store            storage.ObjectStore
	maxListPages     int
	abortConcurrency int
}

type Option func(*Manager)

// WithMaxListPages caps how many listing pages ListUnfinished follows.
func WithMaxListPages(n int) Option {
	return func(m *Manager) {
		m.maxListPages = n
	}
}

func WithAbortConcurrency(n int) Option {
	return func(m *Manager) {
		m.abortConcurrency = n
	}
}

func NewManager(store storage.ObjectStore, opts ...Option) *Manager {
	m := &Manager{
		store:            store,
		maxListPages:     storage.DefaultMaxPages,
		abortConcurrency: DefaultAbortConcurrency,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func validateObjectKey(op string, objectKey string) error {
	if err := keys.Validate(objectKey); err != nil {
		return err
	}
	if keys.IsPrefix(objectKey) {
		return errs.Invalid(op, objectKey, "object key must not end with '/'")
	}
	return nil
}

func validateSession(op string, objectKey string, uploadID string) error {
	if err := validateObjectKey(op, objectKey); err != nil {
		return err
	}
	if uploadID == "" {
		return errs.Invalid(op, objectKey, "upload id is required")
	}
	return nil
}

func upstream(op string, key string, err error) error {
	if errors.Is(err, storage.ErrNoSuchKey) {
		return errs.NotFound(op, key, err)
	}
	return errs.Upstream(op, key, err)
}

// Initiate opens a multipart upload for objectKey and returns its upload ID.
func (m *Manager) Initiate(ctx context.Context, objectKey string) (string, error) {
	if err := validateObjectKey("initiate", objectKey); err != nil {
		return "", err
	}

	uploadID, err := m.store.InitiateMultipart(ctx, objectKey, "")
	if err != nil {
		return "", upstream("initiate", objectKey, err)
	}

	slog.Info("Multipart upload initiated", "object_key", objectKey, "upload_id", uploadID)
	return uploadID, nil
}

// UploadPart stores one part. Calls for different part numbers of the
// same upload may run concurrently. Uploading a part number again
// replaces the earlier part.
func (m *Manager) UploadPart(ctx context.Context, objectKey string, uploadID string, partNumber int, data []byte) (Part, error) {
	if err := validateSession("upload part", objectKey, uploadID); err != nil {
		return Part{}, err
	}
	if partNumber < 1 || partNumber > MaxPartNumber {
		return Part{}, errs.Invalid("upload part", objectKey, fmt.Sprintf("part number must be between 1 and %d", MaxPartNumber))
	}
	if len(data) == 0 {
		return Part{}, errs.Invalid("upload part", objectKey, "part content is empty")
	}

	part, err := m.store.UploadPart(ctx, objectKey, uploadID, partNumber, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Part{}, upstream("upload part", objectKey, err)
	}

	slog.Debug("Multipart part uploaded",
		"object_key", objectKey,
		"upload_id", uploadID,
		"part_number", partNumber,
		"size", len(data),
	)
	return Part{PartNumber: part.PartNumber, ETag: part.ETag, Size: part.Size}, nil
}

// Complete assembles parts, which must be listed in strictly ascending
// part number order. It is not idempotent: a completed upload ID is
// unknown to the store afterwards.
func (m *Manager) Complete(ctx context.Context, objectKey string, uploadID string, parts []Part) (CompleteResult, error) {
	if err := validateSession("complete", objectKey, uploadID); err != nil {
		return CompleteResult{}, err
	}
	if len(parts) == 0 {
		return CompleteResult{}, errs.Invalid("complete", objectKey, "parts list is empty")
	}

	manifest := make([]storage.Part, 0, len(parts))
	for i, p := range parts {
		switch {
		case p.PartNumber < 1 || p.PartNumber > MaxPartNumber:
			return CompleteResult{}, errs.Invalid("complete", objectKey, fmt.Sprintf("invalid part number %d", p.PartNumber))
		case p.ETag == "":
			return CompleteResult{}, errs.Invalid("complete", objectKey, fmt.Sprintf("part %d has no etag", p.PartNumber))
		case i > 0 && p.PartNumber <= parts[i-1].PartNumber:
			return CompleteResult{}, errs.Invalid("complete", objectKey, "parts must be in strictly ascending part number order")
		}
		manifest = append(manifest, storage.Part{PartNumber: p.PartNumber, ETag: p.ETag})
	}

	if _, err := m.store.CompleteMultipart(ctx, objectKey, uploadID, manifest); err != nil {
		return CompleteResult{}, upstream("complete", objectKey, err)
	}

	slog.Info("Multipart upload completed", "object_key", objectKey, "upload_id", uploadID, "parts", len(parts))
	return CompleteResult{
		Status: http.StatusOK,
		Name:   objectKey,
		URL:    m.store.ObjectURL(objectKey),
	}, nil
}

// Abort discards an upload and its parts. An upload the store no longer
// knows is reported as AlreadyGone rather than as an error.
func (m *Manager) Abort(ctx context.Context, objectKey string, uploadID string) (AbortResult, error) {
	if err := validateSession("abort", objectKey, uploadID); err != nil {
		return AbortResult{}, err
	}
	return m.abort(ctx, objectKey, uploadID)
}

func (m *Manager) abort(ctx context.Context, objectKey string, uploadID string) (AbortResult, error) {
	result := AbortResult{ObjectKey: objectKey, UploadID: uploadID}

	err := m.store.AbortMultipart(ctx, objectKey, uploadID)
	switch {
	case errors.Is(err, storage.ErrNoSuchUpload):
		slog.Debug("Multipart upload already gone", "object_key", objectKey, "upload_id", uploadID)
		result.AlreadyGone = true
	case err != nil:
		err = upstream("abort", objectKey, err)
		result.Err = err
		result.Error = err.Error()
		return result, err
	default:
		slog.Info("Multipart upload aborted", "object_key", objectKey, "upload_id", uploadID)
	}
	return result, nil
}

// AbortAllForKey aborts every pending upload whose destination is exactly
// objectKey. Every upload gets an attempt; one failure does not cancel the
// others. The returned error aggregates all failures.
func (m *Manager) AbortAllForKey(ctx context.Context, objectKey string) ([]AbortResult, error) {
	if err := validateObjectKey("abort all", objectKey); err != nil {
		return nil, err
	}

	pending, err := m.ListUnfinished(ctx, objectKey)
	if err != nil {
		return nil, err
	}

	var targets []Upload
	for _, u := range pending {
		// The listing prefix also matches longer keys.
		if u.ObjectKey == objectKey {
			targets = append(targets, u)
		}
	}

	results := make([]AbortResult, len(targets))

	var (
		mu     sync.Mutex
		merr   *multierror.Error
		failed int
		eg     errgroup.Group
	)
	if m.abortConcurrency > 0 {
		eg.SetLimit(m.abortConcurrency)
	}

	for i, u := range targets {
		eg.Go(func() error {
			res, err := m.abort(ctx, u.ObjectKey, u.UploadID)
			results[i] = res
			if err != nil {
				mu.Lock()
				merr = multierror.Append(merr, err)
				failed++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = eg.Wait()

	slog.Info("Aborted pending multipart uploads", "object_key", objectKey, "count", len(targets), "failed", failed)
	return results, merr.ErrorOrNil()
}

// ListUnfinished returns every pending upload under prefix, following the
// store's pagination to the end.
func (m *Manager) ListUnfinished(ctx context.Context, prefix string) ([]Upload, error) {
	found, err := storage.ListAllUploads(ctx, m.store, storage.ListUploadsInput{
		Prefix:     prefix,
		MaxUploads: storage.MaxKeysPerPage,
	}, m.maxListPages)
	if err != nil {
		return nil, errs.Upstream("list unfinished", prefix, err)
	}

	uploads := make([]Upload, 0, len(found))
	for _, u := range found {
		uploads = append(uploads, Upload{ObjectKey: u.Key, UploadID: u.UploadID, Initiated: u.Initiated})
	}
	return uploads, nil
}
