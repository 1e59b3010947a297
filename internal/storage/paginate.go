package storage

import (
	"context"
	"errors"
	"fmt"
)

// DefaultMaxPages bounds every listing loop. At 1000 entries per page it
// allows ten million entries before the loop is treated as runaway.
const DefaultMaxPages = 10000

// ErrPaginationRunaway is returned when a store keeps reporting truncated
// pages beyond the page cap or without advancing its markers.
var ErrPaginationRunaway = errors.New("storage: pagination did not terminate")

// ListAllObjects calls fn for every page under in.Prefix, following
// continuation tokens until the store reports no further pages.
func ListAllObjects(ctx context.Context, store ObjectStore, in ListObjectsInput, maxPages int, fn func(ListObjectsPage) error) error {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	for pages := 1; ; pages++ {
		page, err := store.ListObjects(ctx, in)
		if err != nil {
			return err
		}
		if err := fn(page); err != nil {
			return err
		}
		if !page.IsTruncated {
			return nil
		}

		if page.NextContinuationToken == "" || page.NextContinuationToken == in.ContinuationToken {
			return fmt.Errorf("%w: continuation token %q did not advance", ErrPaginationRunaway, page.NextContinuationToken)
		}
		if pages >= maxPages {
			return fmt.Errorf("%w: more than %d pages under prefix %q", ErrPaginationRunaway, maxPages, in.Prefix)
		}
		in.ContinuationToken = page.NextContinuationToken
	}
}

// ListAllUploads returns every pending multipart upload under in.Prefix,
// following key and upload ID markers across pages.
func ListAllUploads(ctx context.Context, store ObjectStore, in ListUploadsInput, maxPages int) ([]MultipartUpload, error) {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	var uploads []MultipartUpload
	for pages := 1; ; pages++ {
		page, err := store.ListMultipartUploads(ctx, in)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, page.Uploads...)
		if !page.IsTruncated {
			return uploads, nil
		}

		if page.NextKeyMarker == "" && page.NextUploadIDMarker == "" {
			return nil, fmt.Errorf("%w: truncated page without markers", ErrPaginationRunaway)
		}
		if page.NextKeyMarker == in.KeyMarker && page.NextUploadIDMarker == in.UploadIDMarker {
			return nil, fmt.Errorf("%w: markers %q/%q did not advance", ErrPaginationRunaway, page.NextKeyMarker, page.NextUploadIDMarker)
		}
		if pages >= maxPages {
			return nil, fmt.Errorf("%w: more than %d pages under prefix %q", ErrPaginationRunaway, maxPages, in.Prefix)
		}
		in.KeyMarker = page.NextKeyMarker
		in.UploadIDMarker = page.NextUploadIDMarker
	}
}
