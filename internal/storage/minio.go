package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioConfig struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Secure          bool

	// PublicURL is the base used for unsigned object URLs. When empty the
	// endpoint and bucket are used.
	PublicURL string
}

// MinioStore is an ObjectStore backed by the minio-go Core API, which
// exposes the multipart primitives directly.
type MinioStore struct {
	core      *minio.Core
	bucket    string
	publicURL string
}

func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	core, err := minio.NewCore(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}

	publicURL := cfg.PublicURL
	if publicURL == "" {
		publicURL = JoinURL(core.EndpointURL().String(), cfg.Bucket)
	}

	return &MinioStore{core: core, bucket: cfg.Bucket, publicURL: publicURL}, nil
}

// translateMinioError maps S3 error codes onto the package sentinels.
func translateMinioError(err error) error {
	if err == nil {
		return nil
	}

	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey":
		return fmt.Errorf("%w: %w", ErrNoSuchKey, err)
	case "NoSuchUpload":
		return fmt.Errorf("%w: %w", ErrNoSuchUpload, err)
	case "InvalidPart":
		return fmt.Errorf("%w: %w", ErrInvalidPart, err)
	case "InvalidPartOrder":
		return fmt.Errorf("%w: %w", ErrInvalidPartOrder, err)
	case "EntityTooSmall":
		return fmt.Errorf("%w: %w", ErrEntityTooSmall, err)
	default:
		return err
	}
}

func (s *MinioStore) PutObject(ctx context.Context, key string, r io.Reader, size int64, contentType string) (ObjectInfo, error) {
	info, err := s.core.Client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return ObjectInfo{}, translateMinioError(err)
	}

	return ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		ETag:         TrimETag(info.ETag),
		ContentType:  contentType,
		LastModified: info.LastModified,
	}, nil
}

func (s *MinioStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.core.Client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateMinioError(err)
	}
	defer obj.Close()

	// The request is only sent on first read, so a missing key surfaces here.
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, translateMinioError(err)
	}
	return data, nil
}

func (s *MinioStore) CopyObject(ctx context.Context, sourceKey string, targetKey string) (ObjectInfo, error) {
	info, err := s.core.Client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: targetKey},
		minio.CopySrcOptions{Bucket: s.bucket, Object: sourceKey},
	)
	if err != nil {
		return ObjectInfo{}, translateMinioError(err)
	}

	return ObjectInfo{
		Key:          targetKey,
		Size:         info.Size,
		ETag:         TrimETag(info.ETag),
		LastModified: info.LastModified,
	}, nil
}

func (s *MinioStore) ListObjects(ctx context.Context, in ListObjectsInput) (ListObjectsPage, error) {
	if err := ctx.Err(); err != nil {
		return ListObjectsPage{}, err
	}

	res, err := s.core.ListObjectsV2(s.bucket, in.Prefix, "", in.ContinuationToken, in.Delimiter, clampPageSize(in.MaxKeys))
	if err != nil {
		return ListObjectsPage{}, translateMinioError(err)
	}

	page := ListObjectsPage{
		IsTruncated:           res.IsTruncated,
		NextContinuationToken: res.NextContinuationToken,
	}
	for _, obj := range res.Contents {
		page.Objects = append(page.Objects, ObjectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			ETag:         TrimETag(obj.ETag),
			ContentType:  obj.ContentType,
			LastModified: obj.LastModified,
		})
	}
	for _, cp := range res.CommonPrefixes {
		page.CommonPrefixes = append(page.CommonPrefixes, cp.Prefix)
	}
	return page, nil
}

func (s *MinioStore) DeleteObjects(ctx context.Context, keys []string) (DeleteResult, error) {
	if len(keys) > MaxKeysPerPage {
		return DeleteResult{}, fmt.Errorf("delete batch of %d keys exceeds %d", len(keys), MaxKeysPerPage)
	}

	objects := make(chan minio.ObjectInfo, len(keys))
	for _, key := range keys {
		objects <- minio.ObjectInfo{Key: key}
	}
	close(objects)

	failed := make(map[string]struct{})
	var result DeleteResult
	for rerr := range s.core.Client.RemoveObjects(ctx, s.bucket, objects, minio.RemoveObjectsOptions{}) {
		failed[rerr.ObjectName] = struct{}{}
		result.Errors = append(result.Errors, DeleteError{Key: rerr.ObjectName, Err: translateMinioError(rerr.Err)})
	}

	for _, key := range keys {
		if _, ok := failed[key]; !ok {
			result.Deleted = append(result.Deleted, key)
		}
	}
	return result, nil
}

func (s *MinioStore) PresignGet(ctx context.Context, key string, expires time.Duration) (string, error) {
	u, err := s.core.Client.PresignedGetObject(ctx, s.bucket, key, expires, nil)
	if err != nil {
		return "", translateMinioError(err)
	}
	return u.String(), nil
}

func (s *MinioStore) ObjectURL(key string) string {
	return JoinURL(s.publicURL, key)
}

func (s *MinioStore) InitiateMultipart(ctx context.Context, key string, contentType string) (string, error) {
	uploadID, err := s.core.NewMultipartUpload(ctx, s.bucket, key, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", translateMinioError(err)
	}
	return uploadID, nil
}

func (s *MinioStore) UploadPart(ctx context.Context, key string, uploadID string, partNumber int, r io.Reader, size int64) (Part, error) {
	part, err := s.core.PutObjectPart(ctx, s.bucket, key, uploadID, partNumber, r, size, minio.PutObjectPartOptions{})
	if err != nil {
		return Part{}, translateMinioError(err)
	}
	return Part{PartNumber: part.PartNumber, ETag: TrimETag(part.ETag), Size: part.Size}, nil
}

func (s *MinioStore) CompleteMultipart(ctx context.Context, key string, uploadID string, parts []Part) (ObjectInfo, error) {
	completeParts := make([]minio.CompletePart, 0, len(parts))
	for _, p := range parts {
		completeParts = append(completeParts, minio.CompletePart{PartNumber: p.PartNumber, ETag: p.ETag})
	}

	info, err := s.core.CompleteMultipartUpload(ctx, s.bucket, key, uploadID, completeParts, minio.PutObjectOptions{})
	if err != nil {
		return ObjectInfo{}, translateMinioError(err)
	}

	return ObjectInfo{
		Key:          key,
		Size:         info.Size,
		ETag:         TrimETag(info.ETag),
		LastModified: info.LastModified,
	}, nil
}

func (s *MinioStore) AbortMultipart(ctx context.Context, key string, uploadID string) error {
	return translateMinioError(s.core.AbortMultipartUpload(ctx, s.bucket, key, uploadID))
}

func (s *MinioStore) ListMultipartUploads(ctx context.Context, in ListUploadsInput) (ListUploadsPage, error) {
	res, err := s.core.ListMultipartUploads(ctx, s.bucket, in.Prefix, in.KeyMarker, in.UploadIDMarker, "", clampPageSize(in.MaxUploads))
	if err != nil {
		return ListUploadsPage{}, translateMinioError(err)
	}

	page := ListUploadsPage{
		IsTruncated:        res.IsTruncated,
		NextKeyMarker:      res.NextKeyMarker,
		NextUploadIDMarker: res.NextUploadIDMarker,
	}
	for _, u := range res.Uploads {
		page.Uploads = append(page.Uploads, MultipartUpload{Key: u.Key, UploadID: u.UploadID, Initiated: u.Initiated})
	}
	return page, nil
}
