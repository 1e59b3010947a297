// Package client talks to an ossgate server over HTTP. Its main job is the
// browser side of a chunked upload: split a file into parts, send them
// concurrently and complete the upload, aborting it if anything fails.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	form "mime/multipart"
	"net/http"
	"net/url"
	"ossgate/internal/multipart"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultPartSize matches the smallest non-final part most stores accept.
	DefaultPartSize    = 5 * 1024 * 1024
	DefaultConcurrency = 4
)

// APIError is a non-200 envelope returned by the server.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ossgate: %d %s", e.Code, e.Message)
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type Client struct {
	baseURL     string
	httpClient  *http.Client
	partSize    int64
	concurrency int
	authorize   func(*http.Request)
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithPartSize(n int64) Option {
	return func(c *Client) {
		c.partSize = n
	}
}

func WithConcurrency(n int) Option {
	return func(c *Client) {
		c.concurrency = n
	}
}

func WithBasicAuth(username string, password string) Option {
	return func(c *Client) {
		c.authorize = func(r *http.Request) { r.SetBasicAuth(username, password) }
	}
}

func WithBearerToken(token string) Option {
	return func(c *Client) {
		c.authorize = func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  http.DefaultClient,
		partSize:    DefaultPartSize,
		concurrency: DefaultConcurrency,
		authorize:   func(*http.Request) {},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(req *http.Request, out any) error {
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decoding %s response: %w", req.URL.Path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{Code: resp.StatusCode, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) Initiate(ctx context.Context, objectKey string) (string, error) {
	var out struct {
		UploadID string `json:"uploadId"`
	}
	if err := c.postJSON(ctx, "/multipart-init", map[string]string{"objectKey": objectKey}, &out); err != nil {
		return "", err
	}
	return out.UploadID, nil
}

func (c *Client) UploadPart(ctx context.Context, objectKey string, uploadID string, partNumber int, data []byte) (multipart.Part, error) {
	var buf bytes.Buffer
	w := form.NewWriter(&buf)
	fields := map[string]string{
		"objectKey":  objectKey,
		"uploadId":   uploadID,
		"partNumber": strconv.Itoa(partNumber),
	}
	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return multipart.Part{}, err
		}
	}
	fw, err := w.CreateFormFile("file", fmt.Sprintf("part-%05d", partNumber))
	if err != nil {
		return multipart.Part{}, err
	}
	if _, err := fw.Write(data); err != nil {
		return multipart.Part{}, err
	}
	if err := w.Close(); err != nil {
		return multipart.Part{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/multipart-upload-part", &buf)
	if err != nil {
		return multipart.Part{}, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var out multipart.Part
	if err := c.do(req, &out); err != nil {
		return multipart.Part{}, err
	}
	out.Size = int64(len(data))
	return out, nil
}

func (c *Client) Complete(ctx context.Context, objectKey string, uploadID string, parts []multipart.Part) (multipart.CompleteResult, error) {
	manifest := make([]map[string]any, 0, len(parts))
	for _, p := range parts {
		manifest = append(manifest, map[string]any{"partNumber": p.PartNumber, "etag": p.ETag})
	}

	var out multipart.CompleteResult
	err := c.postJSON(ctx, "/multipart-complete", map[string]any{
		"objectKey": objectKey,
		"uploadId":  uploadID,
		"parts":     manifest,
	}, &out)
	return out, err
}

// Abort discards one upload, or every pending upload for objectKey when
// uploadID is empty.
func (c *Client) Abort(ctx context.Context, objectKey string, uploadID string) error {
	body := map[string]string{"objectKey": objectKey}
	if uploadID != "" {
		body["uploadId"] = uploadID
	}
	return c.postJSON(ctx, "/multipart-abort", body, nil)
}

func (c *Client) Pending(ctx context.Context, prefix string) ([]multipart.Upload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/get-pending-multipart?prefix="+url.QueryEscape(prefix), nil)
	if err != nil {
		return nil, err
	}

	var out struct {
		Uploads []multipart.Upload `json:"uploads"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out.Uploads, nil
}

// UploadMultipart sends size bytes of r to objectKey in parts of the
// configured size. On failure the upload is aborted so no parts linger in
// the store.
func (c *Client) UploadMultipart(ctx context.Context, objectKey string, r io.ReaderAt, size int64) (multipart.CompleteResult, error) {
	if size <= 0 {
		return multipart.CompleteResult{}, fmt.Errorf("nothing to upload for %q", objectKey)
	}
	partSize := c.partSize
	if partSize <= 0 {
		partSize = DefaultPartSize
	}
	count := int((size + partSize - 1) / partSize)
	if count > multipart.MaxPartNumber {
		return multipart.CompleteResult{}, fmt.Errorf("%d bytes need %d parts, more than %d", size, count, multipart.MaxPartNumber)
	}

	uploadID, err := c.Initiate(ctx, objectKey)
	if err != nil {
		return multipart.CompleteResult{}, fmt.Errorf("initiating %q: %w", objectKey, err)
	}

	parts := make([]multipart.Part, count)

	eg, egCtx := errgroup.WithContext(ctx)
	if c.concurrency > 0 {
		eg.SetLimit(c.concurrency)
	}
	for i := range count {
		eg.Go(func() error {
			offset := int64(i) * partSize
			data := make([]byte, min(partSize, size-offset))
			if _, err := r.ReadAt(data, offset); err != nil && err != io.EOF {
				return fmt.Errorf("reading part %d: %w", i+1, err)
			}

			part, err := c.UploadPart(egCtx, objectKey, uploadID, i+1, data)
			if err != nil {
				return fmt.Errorf("uploading part %d: %w", i+1, err)
			}
			parts[i] = part
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		c.abortQuietly(ctx, objectKey, uploadID)
		return multipart.CompleteResult{}, err
	}

	res, err := c.Complete(ctx, objectKey, uploadID, parts)
	if err != nil {
		c.abortQuietly(ctx, objectKey, uploadID)
		return multipart.CompleteResult{}, fmt.Errorf("completing %q: %w", objectKey, err)
	}
	return res, nil
}

func (c *Client) abortQuietly(ctx context.Context, objectKey string, uploadID string) {
	_ = c.Abort(context.WithoutCancel(ctx), objectKey, uploadID)
}
