// Package crypto provides HMAC request authentication and encrypted secret
// storage for terminal API credentials.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// HMACAuth holds the credentials for HMAC-authenticated requests against a
// terminal bridge endpoint.
type HMACAuth struct {
	Key    string // API key identifying this orchestrator to the terminal
	Secret string // shared secret
}

// Headers returns the HTTP headers for a signed terminal request. The
// signature is HMAC-SHA256(secret, timestamp+method+path+body) encoded as
// base64.
//
// Returned header keys:
//   - X-Bridge-Api-Key
//   - X-Bridge-Timestamp
//   - X-Bridge-Signature
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp
// (useful for deterministic testing).
func (h *HMACAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)

	message := ts + method + path + body
	sig := hmacSHA256Base64([]byte(h.Secret), message)

	return map[string]string{
		"X-Bridge-Api-Key":   h.Key,
		"X-Bridge-Timestamp": ts,
		"X-Bridge-Signature": sig,
	}
}

// Verify checks a signature produced by HeadersAt against the same inputs.
// Terminal agents use the identical scheme, so this doubles as the reference
// implementation for their side of the contract.
func (h *HMACAuth) Verify(method, path, body, timestamp, signature string) bool {
	message := timestamp + method + path + body
	expected := hmacSHA256Base64([]byte(h.Secret), message)
	return hmac.Equal([]byte(expected), []byte(signature))
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

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
