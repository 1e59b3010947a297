// Package keys derives object keys for uploaded files.
package keys

import (
	"mime"
	"ossgate/internal/errs"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

const (
	// DefaultDirectory is used by the upload endpoints when the client
	// does not name one.
	DefaultDirectory = "temp"

	// FallbackExtension is used for MIME types without a known extension.
	FallbackExtension = "bin"

	MaxKeyLength = 1024
)

// Request describes a file whose key is being derived.
type Request struct {
	Directory       string
	ExplicitName    string
	OriginalName    string
	MIMEType        string
	UseOriginalName bool
}

// Namer derives object keys. The zero value generates random UUID names.
type Namer struct {
	NewID func() string
}

func NewNamer() Namer {
	return Namer{NewID: uuid.NewString}
}

func (n Namer) newID() string {
	if n.NewID == nil {
		return uuid.NewString()
	}
	return n.NewID()
}

// DeriveKey builds directory + "/" + name, where name is the original file
// name verbatim, the explicit name plus an extension, or a fresh UUID plus
// an extension, in that order of preference.
func (n Namer) DeriveKey(req Request) (string, error) {
	dir := strings.TrimRight(req.Directory, "/")
	if dir == "" {
		return "", errs.Invalid("derive key", "", "directory is required")
	}

	var name string
	switch {
	case req.UseOriginalName:
		if req.OriginalName == "" {
			return "", errs.Invalid("derive key", "", "original file name is required")
		}
		name = req.OriginalName
	case req.ExplicitName != "":
		name = req.ExplicitName + "." + ExtensionFor(req.MIMEType)
	default:
		name = n.newID() + "." + ExtensionFor(req.MIMEType)
	}

	key := dir + "/" + name
	if err := Validate(key); err != nil {
		return "", err
	}
	return key, nil
}

// ExtensionFor returns the canonical extension for a MIME type, without
// the leading dot. Parameters such as charset are ignored.
func ExtensionFor(mimeType string) string {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return FallbackExtension
	}

	mt := mimetype.Lookup(mediaType)
	if mt == nil || mt.Extension() == "" {
		return FallbackExtension
	}
	return strings.TrimPrefix(mt.Extension(), ".")
}

// DetectMIME sniffs the content type of data.
func DetectMIME(data []byte) string {
	return mimetype.Detect(data).String()
}

// Validate enforces basic S3 object key constraints: non-empty, at most
// 1024 bytes, no control characters.
func Validate(key string) error {
	if key == "" {
		return errs.Invalid("validate key", "", "object key is required")
	}
	if len(key) > MaxKeyLength {
		return errs.Invalid("validate key", "", "object key exceeds 1024 bytes")
	}
	if strings.ContainsFunc(key, func(c rune) bool {
		return c < 0x20 || c == 0x7f
	}) {
		return errs.Invalid("validate key", key, "object key contains control characters")
	}
	return nil
}

// IsPrefix reports whether key addresses a directory rather than an object.
func IsPrefix(key string) bool {
	return strings.HasSuffix(key, "/")
}
