// Package policy issues signed, time-boxed policies that let a browser
// upload one object straight to the object store with a form POST.
package policy

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"ossgate/internal/errs"
	"path"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultObjectKey     = "temp/unknown.bin"
	DefaultExpireSeconds = 300
	DefaultMaxUploadSize = 10 * 1024 * 1024

	// ExpirationLayout is the ISO-8601 form the store expects.
	ExpirationLayout = "2006-01-02T15:04:05.000Z"
)

// Condition is one policy condition, e.g. ["content-length-range", 0, 1024].
type Condition []any

// Document is the policy the store verifies against the signature.
type Document struct {
	Expiration string      `json:"expiration"`
	Conditions []Condition `json:"conditions"`
}

type Request struct {
	ObjectKey       string
	UseOriginalName bool

	// ExpireSeconds of zero selects DefaultExpireSeconds.
	ExpireSeconds int

	// Conditions replace the default size condition. The key prefix and
	// success status conditions are always appended.
	Conditions []Condition
}

// Signed is returned to clients that then POST the form fields directly
// to Host.
type Signed struct {
	AccessKeyID string `json:"accessKeyId"`
	Policy      string `json:"policy"`
	Signature   string `json:"signature"`
	Dir         string `json:"dir"`
	Host        string `json:"host"`
	Expire      int64  `json:"expire"`
	Key         string `json:"key"`
}

type Issuer struct {
	accessKeyID string
	secret      []byte
	host        string
	now         func() time.Time
	newID       func() string
}

type Option func(*Issuer)

func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(i *Issuer) {
		i.newID = newID
	}
}

func NewIssuer(accessKeyID string, secret string, host string, opts ...Option) *Issuer {
	i := &Issuer{
		accessKeyID: accessKeyID,
		secret:      []byte(secret),
		host:        host,
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// DefaultConditions limits uploads to 10 MiB.
func DefaultConditions() []Condition {
	return []Condition{{"content-length-range", 0, DefaultMaxUploadSize}}
}

func (i *Issuer) Issue(req Request) (Signed, error) {
	objectKey := req.ObjectKey
	if objectKey == "" {
		objectKey = DefaultObjectKey
	}

	expireSeconds := req.ExpireSeconds
	switch {
	case expireSeconds < 0:
		return Signed{}, errs.Invalid("issue policy", objectKey, "expire time must not be negative")
	case expireSeconds == 0:
		expireSeconds = DefaultExpireSeconds
	}

	conditions := req.Conditions
	if len(conditions) == 0 {
		conditions = DefaultConditions()
	}
	for _, c := range conditions {
		if len(c) == 0 {
			return Signed{}, errs.Invalid("issue policy", objectKey, "policy conditions must not be empty")
		}
	}

	dir := path.Dir(objectKey)

	// Copy so the caller's slice is never extended in place.
	all := make([]Condition, 0, len(conditions)+2)
	all = append(all, conditions...)
	all = append(all,
		Condition{"starts-with", "$key", dir},
		Condition{"eq", "$success_action_status", "200"},
	)

	now := i.now().UTC()
	expiresAt := now.Add(time.Duration(expireSeconds) * time.Second)

	doc := Document{
		Expiration: expiresAt.Format(ExpirationLayout),
		Conditions: all,
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return Signed{}, fmt.Errorf("encoding policy: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(raw)

	key := objectKey
	if !req.UseOriginalName {
		key = dir + "/" + i.newID() + path.Ext(objectKey)
	}

	return Signed{
		AccessKeyID: i.accessKeyID,
		Policy:      encoded,
		Signature:   i.Sign(encoded),
		Dir:         dir,
		Host:        i.host,
		Expire:      now.Unix() + int64(expireSeconds),
		Key:         key,
	}, nil
}

// Sign returns the base64 HMAC-SHA1 of an encoded policy.
func (i *Issuer) Sign(encodedPolicy string) string {
	mac := hmac.New(sha1.New, i.secret)
	mac.Write([]byte(encodedPolicy))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Decode parses an encoded policy back into its document.
func Decode(encodedPolicy string) (Document, error) {
	raw, err := base64.StdEncoding.DecodeString(encodedPolicy)
	if err != nil {
		return Document{}, fmt.Errorf("decoding policy: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("parsing policy: %w", err)
	}
	return doc, nil
}
