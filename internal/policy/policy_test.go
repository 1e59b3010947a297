package policy_test

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"ossgate/internal/errs"
	"ossgate/internal/policy"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	testAccessKeyID = "LTAI-test"
	testSecret      = "s3cr3t"
	testHost        = "https://bucket.oss-cn-hangzhou.aliyuncs.com"
)

var issuedAt = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestIssuer() *policy.Issuer {
	return policy.NewIssuer(testAccessKeyID, testSecret, testHost,
		policy.WithClock(func() time.Time { return issuedAt }),
		policy.WithIDGenerator(func() string { return "fixed-id" }),
	)
}

func TestIssueDefaults(t *testing.T) {
	t.Parallel()

	signed, err := newTestIssuer().Issue(policy.Request{})
	require.NoError(t, err, "Issue error")

	require.Equal(t, testAccessKeyID, signed.AccessKeyID)
	require.Equal(t, testHost, signed.Host)
	require.Equal(t, "temp", signed.Dir)
	require.Equal(t, "temp/fixed-id.bin", signed.Key)
	require.Equal(t, issuedAt.Unix()+policy.DefaultExpireSeconds, signed.Expire)

	doc, err := policy.Decode(signed.Policy)
	require.NoError(t, err, "Decode error")
	require.Equal(t, "2024-03-01T12:05:00.000Z", doc.Expiration)
	require.Len(t, doc.Conditions, 3)

	// JSON numbers decode as float64.
	require.Equal(t, policy.Condition{"content-length-range", float64(0), float64(policy.DefaultMaxUploadSize)}, doc.Conditions[0])
	require.Equal(t, policy.Condition{"starts-with", "$key", "temp"}, doc.Conditions[1])
	require.Equal(t, policy.Condition{"eq", "$success_action_status", "200"}, doc.Conditions[2])
}

func TestIssueSignature(t *testing.T) {
	t.Parallel()

	signed, err := newTestIssuer().Issue(policy.Request{ObjectKey: "images/cat.png"})
	require.NoError(t, err)

	mac := hmac.New(sha1.New, []byte(testSecret))
	mac.Write([]byte(signed.Policy))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	require.Equal(t, want, signed.Signature)
	require.NotContains(t, signed.Policy, testSecret)
}

func TestIssueOriginalNameAndExpiry(t *testing.T) {
	t.Parallel()

	signed, err := newTestIssuer().Issue(policy.Request{
		ObjectKey:       "images/2024/cat.png",
		UseOriginalName: true,
		ExpireSeconds:   600,
	})
	require.NoError(t, err)
	require.Equal(t, "images/2024/cat.png", signed.Key)
	require.Equal(t, "images/2024", signed.Dir)

	require.LessOrEqual(t, signed.Expire-issuedAt.Unix(), int64(600))

	doc, err := policy.Decode(signed.Policy)
	require.NoError(t, err)
	require.Contains(t, doc.Conditions, policy.Condition{"starts-with", "$key", "images/2024"})
}

func TestIssueCustomConditionsKeepMandatory(t *testing.T) {
	t.Parallel()

	custom := []policy.Condition{{"content-length-range", 0, 1024}, {"eq", "$content-type", "image/png"}}
	signed, err := newTestIssuer().Issue(policy.Request{ObjectKey: "a/b.png", Conditions: custom})
	require.NoError(t, err)
	require.Len(t, custom, 2, "caller slice must not grow")

	doc, err := policy.Decode(signed.Policy)
	require.NoError(t, err)
	require.Len(t, doc.Conditions, 4)
	require.Equal(t, policy.Condition{"eq", "$content-type", "image/png"}, doc.Conditions[1])
	require.Equal(t, policy.Condition{"starts-with", "$key", "a"}, doc.Conditions[2])
	require.Equal(t, policy.Condition{"eq", "$success_action_status", "200"}, doc.Conditions[3])
}

func TestIssueRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	_, err := newTestIssuer().Issue(policy.Request{ExpireSeconds: -1})
	require.True(t, errs.IsInvalidInput(err), "negative expiry: %v", err)

	_, err = newTestIssuer().Issue(policy.Request{Conditions: []policy.Condition{{}}})
	require.True(t, errs.IsInvalidInput(err), "empty condition: %v", err)
}
