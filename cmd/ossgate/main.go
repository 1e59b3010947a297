package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"ossgate/internal/auth"
	"ossgate/internal/core"
	"ossgate/internal/policy"
	"ossgate/internal/storage"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

// getenv returns the value of the environment variable named by key or
// fallback if the variable is not present.
func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

type settings struct {
	Backend         string
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Secure          bool
	PublicHost      string
	SignedURLTTL    time.Duration
	Listen          string
	TokenSecret     string
	BasicUser       string
	BasicPassword   string
}

func parseSettings(args []string) (settings, error) {
	var s settings

	fs := flag.NewFlagSet("ossgate", flag.ContinueOnError)
	fs.StringVar(&s.Backend, "backend", getenv("OSS_BACKEND", "minio"), "object store backend: minio, s3 or memory")
	fs.StringVar(&s.Endpoint, "endpoint", getenv("OSS_ENDPOINT", "localhost:9000"), "object store endpoint")
	fs.StringVar(&s.Region, "region", getenv("OSS_REGION", "us-east-1"), "object store region")
	fs.StringVar(&s.Bucket, "bucket", getenv("OSS_BUCKET", "ossgate"), "bucket holding all objects")
	fs.StringVar(&s.AccessKeyID, "access-key", getenv("OSS_ACCESS_KEY_ID", "minioadmin"), "object store access key")
	fs.StringVar(&s.SecretAccessKey, "secret-key", getenv("OSS_ACCESS_KEY_SECRET", "minioadmin"), "object store secret key")
	fs.StringVar(&s.PublicHost, "public-host", getenv("OSS_PUBLIC_HOST", ""), "base URL clients use to reach objects")
	fs.StringVar(&s.Listen, "listen", getenv("OSS_LISTEN", ":8080"), "HTTP listen address")
	fs.StringVar(&s.TokenSecret, "token-secret", getenv("TOKEN_SECRET", ""), "HS256 secret for bearer tokens")
	fs.StringVar(&s.BasicUser, "basic-user", getenv("OSS_BASIC_USER", ""), "username accepted with basic auth")
	fs.StringVar(&s.BasicPassword, "basic-password", getenv("OSS_BASIC_PASSWORD", ""), "password accepted with basic auth")

	secure, err := strconv.ParseBool(getenv("OSS_SECURE", "false"))
	if err != nil {
		return s, fmt.Errorf("invalid OSS_SECURE: %w", err)
	}
	fs.BoolVar(&s.Secure, "secure", secure, "use TLS towards the object store")

	ttl, err := time.ParseDuration(getenv("OSS_SIGNED_URL_TTL", "1h"))
	if err != nil {
		return s, fmt.Errorf("invalid OSS_SIGNED_URL_TTL: %w", err)
	}
	fs.DurationVar(&s.SignedURLTTL, "signed-url-ttl", ttl, "validity of signed read URLs")

	if err := fs.Parse(args); err != nil {
		return s, err
	}
	return s, nil
}

func openStore(ctx context.Context, s settings) (storage.ObjectStore, error) {
	switch strings.ToLower(s.Backend) {
	case "minio":
		return storage.NewMinioStore(storage.MinioConfig{
			Endpoint:        s.Endpoint,
			Region:          s.Region,
			Bucket:          s.Bucket,
			AccessKeyID:     s.AccessKeyID,
			SecretAccessKey: s.SecretAccessKey,
			Secure:          s.Secure,
			PublicURL:       s.PublicHost,
		})
	case "s3":
		endpoint := s.Endpoint
		if endpoint != "" && !strings.Contains(endpoint, "://") {
			scheme := "http://"
			if s.Secure {
				scheme = "https://"
			}
			endpoint = scheme + endpoint
		}
		return storage.NewS3Store(ctx, storage.S3Config{
			Endpoint:        endpoint,
			Region:          s.Region,
			Bucket:          s.Bucket,
			AccessKeyID:     s.AccessKeyID,
			SecretAccessKey: s.SecretAccessKey,
			UsePathStyle:    true,
			PublicURL:       s.PublicHost,
		})
	case "memory":
		var opts []storage.MemoryOption
		if s.PublicHost != "" {
			opts = append(opts, storage.WithBaseURL(s.PublicHost))
		}
		return storage.NewMemoryStore(opts...), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", s.Backend)
	}
}

func newAuthenticator(s settings) (auth.AuthEngine, error) {
	var engines []auth.AuthEngine
	if s.TokenSecret != "" {
		engines = append(engines, auth.NewBearerAuthEngine(s.TokenSecret))
	}
	if s.BasicUser != "" {
		engines = append(engines, auth.NewBasicAuthEngine(s.BasicUser, s.BasicPassword))
	}
	if len(engines) == 0 {
		return nil, errors.New("no authentication configured: set TOKEN_SECRET or OSS_BASIC_USER")
	}
	return auth.NewCompoundAuthEngine(engines...), nil
}

func Run(ctx context.Context, args []string) error {

	s, err := parseSettings(args)
	if err != nil {
		return err
	}

	handler := log.NewWithOptions(os.Stdout, log.Options{
		Level:           log.DebugLevel,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    true,
	})

	slog.SetDefault(slog.New(handler))
	gin.SetMode(gin.ReleaseMode)

	store, err := openStore(ctx, s)
	if err != nil {
		return fmt.Errorf("failed to open object store: %w", err)
	}

	authenticator, err := newAuthenticator(s)
	if err != nil {
		return err
	}

	host := s.PublicHost
	if host == "" {
		host = strings.TrimSuffix(store.ObjectURL(""), "/")
	}

	cfg := core.NewConfig(
		core.WithStore(store),
		core.WithAuthEngine(authenticator),
		core.WithPolicyIssuer(policy.NewIssuer(s.AccessKeyID, s.SecretAccessKey, host)),
		core.WithSignedURLTTL(s.SignedURLTTL),
	)

	server, err := core.NewServer(cfg)
	if err != nil {
		return fmt.Errorf("failed to create ossgate server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              s.Listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 20 * time.Second,
		// Part uploads are large; bound reads but give bodies room.
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	eg.Go(func() error {
		slog.Info("Starting ossgate HTTP server", "listen", s.Listen, "backend", s.Backend, "bucket", s.Bucket)
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	return eg.Wait()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx, os.Args[1:]); err != nil {
		slog.Error("ossgate exited with error", "error", err)
		os.Exit(1)
	}
}
