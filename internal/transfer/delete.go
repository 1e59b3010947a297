package transfer

import (
	"context"
	"log/slog"
	"ossgate/internal/errs"
	"ossgate/internal/keys"
	"ossgate/internal/storage"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

type DeleteResult struct {
	Deleted      []string `json:"deleted"`
	DeletedCount int      `json:"deletedCount"`
}

// ExpandPaths resolves paths into object keys. A path ending in "/" stands
// for every object under it. Keys are returned once each, in the order
// first seen.
func (s *Service) ExpandPaths(ctx context.Context, paths []string) ([]string, error) {
	var (
		expanded []string
		seen     = make(map[string]struct{})
	)
	add := func(key string) {
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		expanded = append(expanded, key)
	}

	for _, p := range paths {
		if p == "" {
			return nil, errs.Invalid("delete", "", "paths must not contain empty entries")
		}
		if !keys.IsPrefix(p) {
			add(p)
			continue
		}

		err := storage.ListAllObjects(ctx, s.store, storage.ListObjectsInput{
			Prefix:  p,
			MaxKeys: storage.MaxKeysPerPage,
		}, s.maxListPages, func(page storage.ListObjectsPage) error {
			for _, obj := range page.Objects {
				add(obj.Key)
			}
			return nil
		})
		if err != nil {
			return nil, errs.Upstream("delete", p, err)
		}
	}
	return expanded, nil
}

// DeleteMany expands paths and deletes the resulting keys in batches the
// store accepts. Batches run concurrently and a failed batch does not stop
// the others. Keys that were deleted are reported even when an error is
// returned.
func (s *Service) DeleteMany(ctx context.Context, paths []string) (DeleteResult, error) {
	targets, err := s.ExpandPaths(ctx, paths)
	if err != nil {
		return DeleteResult{}, err
	}
	if len(targets) == 0 {
		return DeleteResult{}, errs.Invalid("delete", "", "no files to delete")
	}

	var batches [][]string
	for start := 0; start < len(targets); start += storage.MaxKeysPerPage {
		end := min(start+storage.MaxKeysPerPage, len(targets))
		batches = append(batches, targets[start:end])
	}

	deleted := make([][]string, len(batches))

	var (
		mu   sync.Mutex
		merr *multierror.Error
		eg   errgroup.Group
	)
	if s.deleteConcurrency > 0 {
		eg.SetLimit(s.deleteConcurrency)
	}

	for i, batch := range batches {
		eg.Go(func() error {
			res, err := s.store.DeleteObjects(ctx, batch)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				merr = multierror.Append(merr, errs.Upstream("delete", batch[0], err))
				return nil
			}
			for _, failed := range res.Errors {
				merr = multierror.Append(merr, errs.Upstream("delete", failed.Key, failed.Err))
			}
			deleted[i] = res.Deleted
			return nil
		})
	}
	_ = eg.Wait()

	result := DeleteResult{Deleted: []string{}}
	for _, batch := range deleted {
		result.Deleted = append(result.Deleted, batch...)
	}
	result.DeletedCount = len(result.Deleted)

	slog.Info("Deleted objects", "requested", len(targets), "deleted", result.DeletedCount, "batches", len(batches))
	return result, merr.ErrorOrNil()
}
