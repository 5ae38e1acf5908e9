// Package crypto signs requests sent to venue REST APIs.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Header names carried by every signed request.
const (
	HeaderKey        = "X-API-KEY"
	HeaderTimestamp  = "X-API-TIMESTAMP"
	HeaderPassphrase = "X-API-PASSPHRASE"
	HeaderSignature  = "X-API-SIGNATURE"
)

// ErrBadSignature is returned by Verify.
var ErrBadSignature = errors.New("crypto: bad signature")

// HMACAuth holds venue API credentials. Secret may be base64-encoded; when it
// does not decode it is used as raw bytes.
type HMACAuth struct {
	Key        string
	Secret     string
	Passphrase string
}

// Headers returns the auth headers for a request signed now.
//
// The signature is base64(HMAC-SHA256(secret, timestamp+method+path+body))
// with the timestamp in Unix milliseconds. path includes the query string.
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().UnixMilli())
}

// HeadersAt is Headers with a caller-supplied timestamp.
func (h *HMACAuth) HeadersAt(method, path, body string, unixMillis int64) map[string]string {
	ts := strconv.FormatInt(unixMillis, 10)
	headers := map[string]string{
		HeaderKey:       h.Key,
		HeaderTimestamp: ts,
		HeaderSignature: h.sign(ts, method, path, body),
	}
	if h.Passphrase != "" {
		headers[HeaderPassphrase] = h.Passphrase
	}
	return headers
}

// Verify checks the signature headers of a received request. maxSkew bounds
// the accepted clock difference; zero disables the check.
func (h *HMACAuth) Verify(header http.Header, method, path, body string, maxSkew time.Duration) error {
	if header.Get(HeaderKey) != h.Key {
		return fmt.Errorf("%w: unknown key", ErrBadSignature)
	}
	ts := header.Get(HeaderTimestamp)
	millis, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: timestamp %q", ErrBadSignature, ts)
	}
	if maxSkew > 0 {
		skew := time.Since(time.UnixMilli(millis))
		if skew < -maxSkew || skew > maxSkew {
			return fmt.Errorf("%w: timestamp skew %s", ErrBadSignature, skew)
		}
	}
	want := h.sign(ts, method, path, body)
	if !hmac.Equal([]byte(want), []byte(header.Get(HeaderSignature))) {
		return ErrBadSignature
	}
	return nil
}

func (h *HMACAuth) sign(ts, method, path, body string) string {
	key, err := base64.StdEncoding.DecodeString(h.Secret)
	if err != nil {
		key = []byte(h.Secret)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(ts + method + path + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
