// Package download implements the signed download link issuer for demo
// attachments: HMAC-signed expiring URLs, strict filename hygiene, and a
// fixed-window rate limit on the serving endpoint.
package download

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Signer issues and verifies expiring download signatures.
type Signer struct {
	secret []byte
}

// NewSigner creates a signer over the shared secret.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

// canonical is the exact byte string the signature covers.
func canonical(slug, filename string, expiry int64) string {
	return fmt.Sprintf("GET|/download/%s/%s|%d", slug, filename, expiry)
}

func (s *Signer) mac(slug, filename string, expiry int64) []byte {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(canonical(slug, filename, expiry)))
	return h.Sum(nil)
}

// Sign returns the hex signature for a download grant expiring at the
// given unix-seconds instant.
func (s *Signer) Sign(slug, filename string, expiry time.Time) string {
	return hex.EncodeToString(s.mac(slug, filename, expiry.Unix()))
}

// SignedURL builds the full download path with exp and sig parameters.
func (s *Signer) SignedURL(slug, filename string, expiry time.Time) string {
	q := url.Values{}
	q.Set("exp", strconv.FormatInt(expiry.Unix(), 10))
	q.Set("sig", s.Sign(slug, filename, expiry))
	return fmt.Sprintf("/download/%s/%s?%s", url.PathEscape(slug), url.PathEscape(filename), q.Encode())
}

// Verify recomputes the signature and compares in constant time,
// rejecting on length mismatch before comparing bytes.
func (s *Signer) Verify(slug, filename string, expiry int64, sigHex string) bool {
	want := s.mac(slug, filename, expiry)
	got, err := hex.DecodeString(sigHex)
	if err != nil || len(got) != len(want) {
		return false
	}
	return hmac.Equal(got, want)
}
