package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3API is the subset of the AWS S3 client S3Store calls.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	ListMultipartUploads(ctx context.Context, params *s3.ListMultipartUploadsInput, optFns ...func(*s3.Options)) (*s3.ListMultipartUploadsOutput, error)
}

// Presigner is the subset of s3.PresignClient S3Store calls.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string

	// UsePathStyle is required by most S3 compatible stores other than AWS.
	UsePathStyle bool

	PublicURL string
}

// S3Store is an ObjectStore backed by the AWS SDK.
type S3Store struct {
	client    S3API
	presigner Presigner
	bucket    string
	publicURL string
}

func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	publicURL := cfg.PublicURL
	if publicURL == "" {
		switch {
		case cfg.Endpoint != "" && cfg.UsePathStyle:
			publicURL = JoinURL(cfg.Endpoint, cfg.Bucket)
		case cfg.Endpoint != "":
			publicURL = cfg.Endpoint
		default:
			publicURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
		}
	}

	return NewS3StoreWithClient(client, s3.NewPresignClient(client), cfg.Bucket, publicURL), nil
}

func NewS3StoreWithClient(client S3API, presigner Presigner, bucket string, publicURL string) *S3Store {
	return &S3Store{client: client, presigner: presigner, bucket: bucket, publicURL: publicURL}
}

func translateS3Error(err error) error {
	if err == nil {
		return nil
	}

	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return fmt.Errorf("%w: %w", ErrNoSuchKey, err)
	}
	var noSuchUpload *types.NoSuchUpload
	if errors.As(err, &noSuchUpload) {
		return fmt.Errorf("%w: %w", ErrNoSuchUpload, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%w: %w", ErrNoSuchKey, err)
		case "NoSuchUpload":
			return fmt.Errorf("%w: %w", ErrNoSuchUpload, err)
		case "InvalidPart":
			return fmt.Errorf("%w: %w", ErrInvalidPart, err)
		case "InvalidPartOrder":
			return fmt.Errorf("%w: %w", ErrInvalidPartOrder, err)
		case "EntityTooSmall":
			return fmt.Errorf("%w: %w", ErrEntityTooSmall, err)
		}
	}
	return err
}

// seekableBody returns a body with a known length. The SDK has to hash
// the payload for signing, so readers of unknown length are buffered.
func seekableBody(r io.Reader, size int64) (io.Reader, int64, error) {
	if size >= 0 {
		return r, size, nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, fmt.Errorf("buffering payload: %w", err)
	}
	return bytes.NewReader(data), int64(len(data)), nil
}

func (s *S3Store) PutObject(ctx context.Context, key string, r io.Reader, size int64, contentType string) (ObjectInfo, error) {
	body, length, err := seekableBody(r, size)
	if err != nil {
		return ObjectInfo{}, err
	}

	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(length),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}

	out, err := s.client.PutObject(ctx, in)
	if err != nil {
		return ObjectInfo{}, translateS3Error(err)
	}

	return ObjectInfo{
		Key:         key,
		Size:        length,
		ETag:        TrimETag(aws.ToString(out.ETag)),
		ContentType: contentType,
	}, nil
}

func (s *S3Store) GetObject(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, translateS3Error(err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading object body: %w", err)
	}
	return data, nil
}

func (s *S3Store) CopyObject(ctx context.Context, sourceKey string, targetKey string) (ObjectInfo, error) {
	out, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(targetKey),
		CopySource: aws.String(JoinURL(s.bucket, sourceKey)),
	})
	if err != nil {
		return ObjectInfo{}, translateS3Error(err)
	}

	info := ObjectInfo{Key: targetKey}
	if out.CopyObjectResult != nil {
		info.ETag = TrimETag(aws.ToString(out.CopyObjectResult.ETag))
		info.LastModified = aws.ToTime(out.CopyObjectResult.LastModified)
	}
	return info, nil
}

func (s *S3Store) ListObjects(ctx context.Context, in ListObjectsInput) (ListObjectsPage, error) {
	params := &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(in.Prefix),
		MaxKeys: aws.Int32(int32(clampPageSize(in.MaxKeys))),
	}
	if in.Delimiter != "" {
		params.Delimiter = aws.String(in.Delimiter)
	}
	if in.ContinuationToken != "" {
		params.ContinuationToken = aws.String(in.ContinuationToken)
	}

	out, err := s.client.ListObjectsV2(ctx, params)
	if err != nil {
		return ListObjectsPage{}, translateS3Error(err)
	}

	page := ListObjectsPage{
		IsTruncated:           aws.ToBool(out.IsTruncated),
		NextContinuationToken: aws.ToString(out.NextContinuationToken),
	}
	for _, obj := range out.Contents {
		page.Objects = append(page.Objects, ObjectInfo{
			Key:          aws.ToString(obj.Key),
			Size:         aws.ToInt64(obj.Size),
			ETag:         TrimETag(aws.ToString(obj.ETag)),
			LastModified: aws.ToTime(obj.LastModified),
		})
	}
	for _, cp := range out.CommonPrefixes {
		page.CommonPrefixes = append(page.CommonPrefixes, aws.ToString(cp.Prefix))
	}
	return page, nil
}

func (s *S3Store) DeleteObjects(ctx context.Context, keys []string) (DeleteResult, error) {
	if len(keys) > MaxKeysPerPage {
		return DeleteResult{}, fmt.Errorf("delete batch of %d keys exceeds %d", len(keys), MaxKeysPerPage)
	}

	ids := make([]types.ObjectIdentifier, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, types.ObjectIdentifier{Key: aws.String(key)})
	}

	out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.bucket),
		Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(false)},
	})
	if err != nil {
		return DeleteResult{}, translateS3Error(err)
	}

	var result DeleteResult
	for _, d := range out.Deleted {
		result.Deleted = append(result.Deleted, aws.ToString(d.Key))
	}
	for _, e := range out.Errors {
		result.Errors = append(result.Errors, DeleteError{
			Key: aws.ToString(e.Key),
			Err: fmt.Errorf("%s: %s", aws.ToString(e.Code), aws.ToString(e.Message)),
		})
	}
	return result, nil
}

func (s *S3Store) PresignGet(ctx context.Context, key string, expires time.Duration) (string, error) {
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return "", translateS3Error(err)
	}
	return req.URL, nil
}

func (s *S3Store) ObjectURL(key string) string {
	return JoinURL(s.publicURL, key)
}

func (s *S3Store) InitiateMultipart(ctx context.Context, key string, contentType string) (string, error) {
	in := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}

	out, err := s.client.CreateMultipartUpload(ctx, in)
	if err != nil {
		return "", translateS3Error(err)
	}
	return aws.ToString(out.UploadId), nil
}

func (s *S3Store) UploadPart(ctx context.Context, key string, uploadID string, partNumber int, r io.Reader, size int64) (Part, error) {
	body, length, err := seekableBody(r, size)
	if err != nil {
		return Part{}, err
	}

	out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(int32(partNumber)),
		Body:          body,
		ContentLength: aws.Int64(length),
	})
	if err != nil {
		return Part{}, translateS3Error(err)
	}
	return Part{PartNumber: partNumber, ETag: TrimETag(aws.ToString(out.ETag)), Size: length}, nil
}

func (s *S3Store) CompleteMultipart(ctx context.Context, key string, uploadID string, parts []Part) (ObjectInfo, error) {
	completed := make([]types.CompletedPart, 0, len(parts))
	for _, p := range parts {
		completed = append(completed, types.CompletedPart{
			PartNumber: aws.Int32(int32(p.PartNumber)),
			ETag:       aws.String(p.ETag),
		})
	}

	out, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return ObjectInfo{}, translateS3Error(err)
	}
	return ObjectInfo{Key: key, ETag: TrimETag(aws.ToString(out.ETag))}, nil
}

func (s *S3Store) AbortMultipart(ctx context.Context, key string, uploadID string) error {
	_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	return translateS3Error(err)
}

func (s *S3Store) ListMultipartUploads(ctx context.Context, in ListUploadsInput) (ListUploadsPage, error) {
	params := &s3.ListMultipartUploadsInput{
		Bucket:     aws.String(s.bucket),
		MaxUploads: aws.Int32(int32(clampPageSize(in.MaxUploads))),
	}
	if in.Prefix != "" {
		params.Prefix = aws.String(in.Prefix)
	}
	if in.KeyMarker != "" {
		params.KeyMarker = aws.String(in.KeyMarker)
	}
	if in.UploadIDMarker != "" {
		params.UploadIdMarker = aws.String(in.UploadIDMarker)
	}

	out, err := s.client.ListMultipartUploads(ctx, params)
	if err != nil {
		return ListUploadsPage{}, translateS3Error(err)
	}

	page := ListUploadsPage{
		IsTruncated:        aws.ToBool(out.IsTruncated),
		NextKeyMarker:      aws.ToString(out.NextKeyMarker),
		NextUploadIDMarker: aws.ToString(out.NextUploadIdMarker),
	}
	for _, u := range out.Uploads {
		page.Uploads = append(page.Uploads, MultipartUpload{
			Key:       aws.ToString(u.Key),
			UploadID:  aws.ToString(u.UploadId),
			Initiated: aws.ToTime(u.Initiated),
		})
	}
	return page, nil
}
