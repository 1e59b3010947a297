package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryObject struct {
	data         []byte
	etag         string
	contentType  string
	lastModified time.Time
}

type memoryUpload struct {
	key         string
	contentType string
	initiated   time.Time
	parts       map[int]memoryObject
}

// MemoryStore is an in-process ObjectStore. It follows the S3 rules for
// listing order, pagination and multipart completion closely enough to
// stand in for a real bucket in development and tests.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]memoryObject
	uploads map[string]*memoryUpload

	baseURL     string
	pageSize    int
	minPartSize int64
	now         func() time.Time
}

type MemoryOption func(*MemoryStore)

// WithBaseURL sets the address ObjectURL and PresignGet build on.
func WithBaseURL(base string) MemoryOption {
	return func(s *MemoryStore) {
		s.baseURL = base
	}
}

// WithPageSize caps every listing page regardless of the requested size.
func WithPageSize(n int) MemoryOption {
	return func(s *MemoryStore) {
		s.pageSize = n
	}
}

// WithMinPartSize rejects non-final parts smaller than n bytes at
// completion time, as S3 does with 5 MiB.
func WithMinPartSize(n int64) MemoryOption {
	return func(s *MemoryStore) {
		s.minPartSize = n
	}
}

func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		objects:  make(map[string]memoryObject),
		uploads:  make(map[string]*memoryUpload),
		baseURL:  "http://localhost/memory",
		pageSize: MaxKeysPerPage,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func md5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func (s *MemoryStore) pageLimit(requested int) int {
	n := clampPageSize(requested)
	if s.pageSize > 0 && s.pageSize < n {
		n = s.pageSize
	}
	return n
}

func (s *MemoryStore) PutObject(ctx context.Context, key string, r io.Reader, size int64, contentType string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("reading object payload: %w", err)
	}
	if size >= 0 && int64(len(data)) != size {
		return ObjectInfo{}, fmt.Errorf("payload length %d does not match declared size %d", len(data), size)
	}

	obj := memoryObject{
		data:         data,
		etag:         md5Hex(data),
		contentType:  contentType,
		lastModified: s.now().UTC(),
	}

	s.mu.Lock()
	s.objects[key] = obj
	s.mu.Unlock()

	return obj.info(key), nil
}

func (o memoryObject) info(key string) ObjectInfo {
	return ObjectInfo{
		Key:          key,
		Size:         int64(len(o.data)),
		ETag:         o.etag,
		ContentType:  o.contentType,
		LastModified: o.lastModified,
	}
}

func (s *MemoryStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchKey, key)
	}
	return bytes.Clone(obj.data), nil
}

func (s *MemoryStore) CopyObject(ctx context.Context, sourceKey string, targetKey string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[sourceKey]
	if !ok {
		return ObjectInfo{}, fmt.Errorf("%w: %s", ErrNoSuchKey, sourceKey)
	}
	obj.data = bytes.Clone(obj.data)
	obj.lastModified = s.now().UTC()
	s.objects[targetKey] = obj
	return obj.info(targetKey), nil
}

// ListObjects groups keys sharing the next delimiter after the prefix into
// CommonPrefixes. Objects and prefixes both count towards the page size.
// The continuation token is the last key or prefix returned.
func (s *MemoryStore) ListObjects(ctx context.Context, in ListObjectsInput) (ListObjectsPage, error) {
	if err := ctx.Err(); err != nil {
		return ListObjectsPage{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		if strings.HasPrefix(key, in.Prefix) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)

	var (
		page    ListObjectsPage
		seen    = make(map[string]struct{})
		limit   = s.pageLimit(in.MaxKeys)
		emitted int
		last    string
		token   = in.ContinuationToken
	)

	for _, key := range keys {
		if token != "" {
			if key <= token {
				continue
			}
			if in.Delimiter != "" && strings.HasSuffix(token, in.Delimiter) && strings.HasPrefix(key, token) {
				continue
			}
		}

		entry := key
		isPrefix := false
		if in.Delimiter != "" {
			rel := strings.TrimPrefix(key, in.Prefix)
			if idx := strings.Index(rel, in.Delimiter); idx != -1 {
				entry = in.Prefix + rel[:idx+len(in.Delimiter)]
				isPrefix = true
			}
		}

		if isPrefix {
			if _, ok := seen[entry]; ok {
				continue
			}
		}

		if emitted == limit {
			page.IsTruncated = true
			page.NextContinuationToken = last
			break
		}

		if isPrefix {
			seen[entry] = struct{}{}
			page.CommonPrefixes = append(page.CommonPrefixes, entry)
		} else {
			page.Objects = append(page.Objects, s.objects[key].info(key))
		}
		emitted++
		last = entry
	}

	return page, nil
}

func (s *MemoryStore) DeleteObjects(ctx context.Context, keys []string) (DeleteResult, error) {
	if err := ctx.Err(); err != nil {
		return DeleteResult{}, err
	}
	if len(keys) > MaxKeysPerPage {
		return DeleteResult{}, fmt.Errorf("delete batch of %d keys exceeds %d", len(keys), MaxKeysPerPage)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Deleting an absent key succeeds, as with S3.
	result := DeleteResult{Deleted: make([]string, 0, len(keys))}
	for _, key := range keys {
		delete(s.objects, key)
		result.Deleted = append(result.Deleted, key)
	}
	return result, nil
}

func (s *MemoryStore) PresignGet(ctx context.Context, key string, expires time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("Expires", strconv.FormatInt(s.now().Add(expires).Unix(), 10))
	q.Set("Signature", md5Hex([]byte(key+q.Get("Expires"))))
	return s.ObjectURL(key) + "?" + q.Encode(), nil
}

func (s *MemoryStore) ObjectURL(key string) string {
	return JoinURL(s.baseURL, key)
}

func (s *MemoryStore) InitiateMultipart(ctx context.Context, key string, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	uploadID := uuid.NewString()

	s.mu.Lock()
	s.uploads[uploadID] = &memoryUpload{
		key:         key,
		contentType: contentType,
		initiated:   s.now().UTC(),
		parts:       make(map[int]memoryObject),
	}
	s.mu.Unlock()

	return uploadID, nil
}

func (s *MemoryStore) lookupUpload(key string, uploadID string) (*memoryUpload, error) {
	upload, ok := s.uploads[uploadID]
	if !ok || upload.key != key {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchUpload, uploadID)
	}
	return upload, nil
}

func (s *MemoryStore) UploadPart(ctx context.Context, key string, uploadID string, partNumber int, r io.Reader, size int64) (Part, error) {
	if err := ctx.Err(); err != nil {
		return Part{}, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return Part{}, fmt.Errorf("reading part payload: %w", err)
	}
	if size >= 0 && int64(len(data)) != size {
		return Part{}, fmt.Errorf("part length %d does not match declared size %d", len(data), size)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	upload, err := s.lookupUpload(key, uploadID)
	if err != nil {
		return Part{}, err
	}

	part := memoryObject{data: data, etag: md5Hex(data), lastModified: s.now().UTC()}
	upload.parts[partNumber] = part

	return Part{PartNumber: partNumber, ETag: part.etag, Size: int64(len(data))}, nil
}

// CompleteMultipart assembles the listed parts. The resulting ETag follows
// the S3 convention of hashing the concatenated part digests.
func (s *MemoryStore) CompleteMultipart(ctx context.Context, key string, uploadID string, parts []Part) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	upload, err := s.lookupUpload(key, uploadID)
	if err != nil {
		return ObjectInfo{}, err
	}
	if len(parts) == 0 {
		return ObjectInfo{}, fmt.Errorf("%w: no parts listed", ErrInvalidPart)
	}

	var (
		payload bytes.Buffer
		digests []byte
	)
	for i := 1; i < len(parts); i++ {
		if parts[i].PartNumber <= parts[i-1].PartNumber {
			return ObjectInfo{}, fmt.Errorf("%w: part %d follows part %d", ErrInvalidPartOrder, parts[i].PartNumber, parts[i-1].PartNumber)
		}
	}

	for i, p := range parts {
		stored, ok := upload.parts[p.PartNumber]
		if !ok || stored.etag != TrimETag(p.ETag) {
			return ObjectInfo{}, fmt.Errorf("%w: part %d", ErrInvalidPart, p.PartNumber)
		}
		if i < len(parts)-1 && int64(len(stored.data)) < s.minPartSize {
			return ObjectInfo{}, fmt.Errorf("%w: part %d is %d bytes", ErrEntityTooSmall, p.PartNumber, len(stored.data))
		}

		payload.Write(stored.data)
		sum, _ := hex.DecodeString(stored.etag)
		digests = append(digests, sum...)
	}

	obj := memoryObject{
		data:         payload.Bytes(),
		etag:         fmt.Sprintf("%s-%d", md5Hex(digests), len(parts)),
		contentType:  upload.contentType,
		lastModified: s.now().UTC(),
	}
	s.objects[key] = obj
	delete(s.uploads, uploadID)

	return obj.info(key), nil
}

func (s *MemoryStore) AbortMultipart(ctx context.Context, key string, uploadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.lookupUpload(key, uploadID); err != nil {
		return err
	}
	delete(s.uploads, uploadID)
	return nil
}

func (s *MemoryStore) ListMultipartUploads(ctx context.Context, in ListUploadsInput) (ListUploadsPage, error) {
	if err := ctx.Err(); err != nil {
		return ListUploadsPage{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]MultipartUpload, 0, len(s.uploads))
	for id, u := range s.uploads {
		if !strings.HasPrefix(u.key, in.Prefix) {
			continue
		}
		all = append(all, MultipartUpload{Key: u.key, UploadID: id, Initiated: u.initiated})
	}
	slices.SortFunc(all, func(a, b MultipartUpload) int {
		if c := strings.Compare(a.Key, b.Key); c != 0 {
			return c
		}
		return strings.Compare(a.UploadID, b.UploadID)
	})

	var page ListUploadsPage
	limit := s.pageLimit(in.MaxUploads)
	for _, u := range all {
		if in.KeyMarker != "" {
			if u.Key < in.KeyMarker {
				continue
			}
			if u.Key == in.KeyMarker && (in.UploadIDMarker == "" || u.UploadID <= in.UploadIDMarker) {
				continue
			}
		}

		if len(page.Uploads) == limit {
			last := page.Uploads[len(page.Uploads)-1]
			page.IsTruncated = true
			page.NextKeyMarker = last.Key
			page.NextUploadIDMarker = last.UploadID
			break
		}
		page.Uploads = append(page.Uploads, u)
	}

	return page, nil
}
