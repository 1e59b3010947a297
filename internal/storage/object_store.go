package storage

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"time"
)

// MaxKeysPerPage is the largest page size object stores accept for object
// listings, multipart listings and batch deletes.
const MaxKeysPerPage = 1000

var (
	ErrNoSuchKey        = errors.New("storage: no such key")
	ErrNoSuchUpload     = errors.New("storage: no such upload")
	ErrInvalidPart      = errors.New("storage: invalid part")
	ErrInvalidPartOrder = errors.New("storage: invalid part order")
	ErrEntityTooSmall   = errors.New("storage: part too small")
)

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}

type ListObjectsInput struct {
	Prefix            string
	Delimiter         string
	ContinuationToken string
	MaxKeys           int
}

type ListObjectsPage struct {
	Objects               []ObjectInfo
	CommonPrefixes        []string
	IsTruncated           bool
	NextContinuationToken string
}

// Part identifies one uploaded part of a multipart upload.
type Part struct {
	PartNumber int
	ETag       string
	Size       int64
}

// MultipartUpload is a pending multipart upload as reported by the store.
type MultipartUpload struct {
	Key       string
	UploadID  string
	Initiated time.Time
}

type ListUploadsInput struct {
	Prefix         string
	KeyMarker      string
	UploadIDMarker string
	MaxUploads     int
}

type ListUploadsPage struct {
	Uploads            []MultipartUpload
	IsTruncated        bool
	NextKeyMarker      string
	NextUploadIDMarker string
}

type DeleteError struct {
	Key string
	Err error
}

type DeleteResult struct {
	Deleted []string
	Errors  []DeleteError
}

// ObjectStore is the contract the upload and transfer services consume. A
// single ObjectStore is bound to one bucket. Implementations translate
// their SDK errors so that callers can match them with errors.Is against
// the sentinels of this package.
type ObjectStore interface {
	// PutObject stores the contents of r under key. A negative size means
	// the length is unknown.
	PutObject(ctx context.Context, key string, r io.Reader, size int64, contentType string) (ObjectInfo, error)

	// GetObject returns the full payload of key, or ErrNoSuchKey.
	GetObject(ctx context.Context, key string) ([]byte, error)

	CopyObject(ctx context.Context, sourceKey string, targetKey string) (ObjectInfo, error)

	// ListObjects returns a single page of objects.
	ListObjects(ctx context.Context, in ListObjectsInput) (ListObjectsPage, error)

	// DeleteObjects removes up to MaxKeysPerPage keys in one request.
	DeleteObjects(ctx context.Context, keys []string) (DeleteResult, error)

	// PresignGet returns a URL granting read access to key until expires
	// has elapsed.
	PresignGet(ctx context.Context, key string, expires time.Duration) (string, error)

	// ObjectURL returns the unsigned address of key.
	ObjectURL(key string) string

	InitiateMultipart(ctx context.Context, key string, contentType string) (string, error)
	UploadPart(ctx context.Context, key string, uploadID string, partNumber int, r io.Reader, size int64) (Part, error)
	CompleteMultipart(ctx context.Context, key string, uploadID string, parts []Part) (ObjectInfo, error)
	AbortMultipart(ctx context.Context, key string, uploadID string) error

	// ListMultipartUploads returns a single page of pending uploads ordered
	// by key and upload ID.
	ListMultipartUploads(ctx context.Context, in ListUploadsInput) (ListUploadsPage, error)
}

// JoinURL appends the path escaped key to base.
func JoinURL(base string, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.TrimRight(base, "/") + "/" + strings.Join(segments, "/")
}

// TrimETag strips the surrounding quotes stores put around ETag values.
func TrimETag(etag string) string {
	return strings.Trim(etag, "\"")
}

func clampPageSize(n int) int {
	if n <= 0 || n > MaxKeysPerPage {
		return MaxKeysPerPage
	}
	return n
}
