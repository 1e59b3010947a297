package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"ossgate/internal/auth"
	"ossgate/internal/errs"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// ResponseWriterWrapper is a wrapper around the default http.ResponseWriter.
// It intercepts the WriteHeader call and saves the response status code.
type ResponseWriterWrapper struct {
	http.ResponseWriter
	WrittenResponseCode int
}

// WriteHeader intercepts the status code and stores it, then calls the original WriteHeader.
func (w *ResponseWriterWrapper) WriteHeader(statusCode int) {
	w.WrittenResponseCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *ResponseWriterWrapper) Write(b []byte) (int, error) {
	if w.WrittenResponseCode == 0 {
		w.WrittenResponseCode = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

type LogEntry struct {
	IP         string
	UserID     string
	Method     string
	URL        string
	Proto      string
	DurationMS float64
	StatusCode int
}

func (e LogEntry) User() slog.Attr {
	return slog.Group("user", "ip", e.IP, "id", e.UserID)
}

func (e LogEntry) Request() slog.Attr {
	return slog.Group("request",
		"proto", e.Proto,
		"method", e.Method,
		"url", e.URL,
		"duration_ms", e.DurationMS,
		"status_code", e.StatusCode,
	)
}

// requestIdentity is filled in by RequireAuthentication so LogRequest,
// which runs outside the router, can report who made the request.
type requestIdentity struct {
	userID string
}

type identityKey struct{}

// LogRequest is middleware that logs incoming HTTP requests.
func LogRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		entry := LogEntry{
			IP:     r.RemoteAddr,
			Method: r.Method,
			URL:    r.URL.Path,
			Proto:  r.Proto,
		}

		identity := &requestIdentity{}
		r = r.WithContext(context.WithValue(r.Context(), identityKey{}, identity))

		writer := ResponseWriterWrapper{ResponseWriter: w}

		start := time.Now()
		next.ServeHTTP(&writer, r)
		elapsed := time.Since(start).Nanoseconds()

		entry.DurationMS = float64(elapsed) / float64(time.Millisecond)
		entry.StatusCode = writer.WrittenResponseCode
		entry.UserID = identity.userID

		switch {
		case writer.WrittenResponseCode >= 500:
			slog.Error("Request", entry.User(), entry.Request())
		case writer.WrittenResponseCode >= 400:
			slog.Warn("Request", entry.User(), entry.Request())
		default:
			slog.Info("Request", entry.User(), entry.Request())
		}
	})
}

// RequireAuthentication rejects requests the configured AuthEngine does not
// accept with a 401 envelope. Accepted users are stored on the request
// context.
func (s *Server) RequireAuthentication() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		user, err := s.config.Authenticator.AuthenticateRequest(ctx, c.Request)
		switch {
		case err != nil:
			slog.Debug("Rejected credentials", "error", err)
			respondError(c, errs.Unauthorized("authenticate", "invalid credentials"))
			return
		case user == nil:
			respondError(c, errs.Unauthorized("authenticate", "authentication required"))
			return
		}

		if identity, ok := ctx.Value(identityKey{}).(*requestIdentity); ok {
			identity.userID = user.ID
		}

		c.Request = c.Request.WithContext(auth.WithUser(ctx, user))
		c.Next()
	}
}

// formOverhead allows for multipart boundaries and the text fields sent
// next to the files.
const formOverhead = 64 * 1024

// LimitBody rejects request bodies larger than limit plus formOverhead.
// Bodies of unknown length are cut off by http.MaxBytesReader while the
// form is parsed.
func LimitBody(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit <= 0 {
			c.Next()
			return
		}
		ceiling := limit + formOverhead

		if c.Request.ContentLength > ceiling {
			respondError(c, errs.Invalid("read body", "", fmt.Sprintf("request body exceeds %d bytes", ceiling)))
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, ceiling)
		c.Next()
	}
}

func SlashFix(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Replace all occurrences of "//" with "/" in the URL path
		r.URL.Path = strings.ReplaceAll(r.URL.Path, "//", "/")

		if r.URL.Path != "/" && strings.HasSuffix(r.URL.Path, "/") {
			r.URL.Path = strings.TrimSuffix(r.URL.Path, "/")
		}

		next.ServeHTTP(w, r)
	})
}

func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					// we don't recover http.ErrAbortHandler so the response
					// to the client is aborted, this should not be logged
					panic(rvr)
				}

				slog.Error("Internal Error in HTTP handler", "error", rvr)
				writeEnvelope(w, http.StatusInternalServerError, "internal server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}
