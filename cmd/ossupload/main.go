package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"ossgate/internal/client"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
)

// getenv returns the value of the environment variable named by key or
// fallback if the variable is not present.
func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ossupload", flag.ContinueOnError)
	server := fs.String("server", getenv("OSSGATE_URL", "http://localhost:8080"), "ossgate base URL")
	dir := fs.String("dir", "temp", "destination directory")
	key := fs.String("key", "", "destination object key, defaults to dir/<file name>")
	partSize := fs.Int64("part-size", client.DefaultPartSize, "bytes per part")
	concurrency := fs.Int("concurrency", client.DefaultConcurrency, "parts in flight")
	abort := fs.Bool("abort", false, "abort every pending upload for -key instead of uploading")

	if err := fs.Parse(args); err != nil {
		return err
	}

	opts := []client.Option{client.WithPartSize(*partSize), client.WithConcurrency(*concurrency)}
	if token := getenv("OSSGATE_TOKEN", ""); token != "" {
		opts = append(opts, client.WithBearerToken(token))
	} else {
		opts = append(opts, client.WithBasicAuth(getenv("OSSGATE_USER", ""), getenv("OSSGATE_PASSWORD", "")))
	}
	c := client.New(*server, opts...)

	if *abort {
		if *key == "" {
			return errors.New("-abort needs -key")
		}
		if err := c.Abort(ctx, *key, ""); err != nil {
			return fmt.Errorf("failed to abort uploads for %q: %w", *key, err)
		}
		slog.Info("Pending uploads aborted", "object_key", *key)
		return nil
	}

	if fs.NArg() != 1 {
		return errors.New("usage: ossupload [flags] FILE")
	}
	path := fs.Arg(0)

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	objectKey := *key
	if objectKey == "" {
		objectKey = *dir + "/" + filepath.Base(path)
	}

	start := time.Now()
	res, err := c.UploadMultipart(ctx, objectKey, f, info.Size())
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", path, err)
	}

	slog.Info("Upload complete", "object_key", res.Name, "url", res.URL, "size", info.Size(), "elapsed", time.Since(start))
	return nil
}

func main() {
	handler := log.NewWithOptions(os.Stderr, log.Options{
		Level:           log.InfoLevel,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
	})
	slog.SetDefault(slog.New(handler))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := Run(ctx, os.Args[1:]); err != nil {
		slog.Error("ossupload failed", "error", err)
		os.Exit(1)
	}
}
