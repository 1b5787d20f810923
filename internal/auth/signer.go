// Package auth implements the legacy S3 header signature ("AWS" scheme):
// an HMAC-SHA1 over a canonical string built from the method, a few content
// headers, the x-amz-* headers and the bucket/key resource.
package auth

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"sort"
	"strings"
)

const (
	// scheme is the Authorization header scheme for this signature version.
	scheme = "AWS"

	// amzPrefix selects the headers that are folded into the canonical string.
	amzPrefix = "x-amz-"

	// HeaderAuthorization is the header the signature is written to.
	HeaderAuthorization = "Authorization"
	// HeaderContentMD5 is the base64 MD5 of the request body.
	HeaderContentMD5 = "Content-MD5"
	// HeaderContentType is the body media type.
	HeaderContentType = "Content-Type"
	// HeaderDate is the request timestamp.
	HeaderDate = "Date"
)

// HeaderReader is the read-only view of a request's headers that signature
// computation and verification need. Lookups must be case-insensitive.
type HeaderReader interface {
	Get(name string) string
	Names() []string
}

// Headers is a HeaderReader that Sign can add Authorization to. Set must
// store the name as given.
type Headers interface {
	HeaderReader
	Set(name, value string)
}

// Signer computes request signatures for one access key / secret key pair.
// A zero or wrong key pair still produces a well-formed signature; the
// remote service is the one that rejects it.
type Signer struct {
	AccessKey string
	SecretKey string
}

// NewSigner returns a Signer for the given key pair.
func NewSigner(accessKey, secretKey string) *Signer {
	return &Signer{AccessKey: accessKey, SecretKey: secretKey}
}

// AmzHeaders returns the canonicalized x-amz-* block: every header whose
// name starts with "x-amz-" (any case), sorted by lowercased name, each
// rendered as "name:value\n". Values are used exactly as supplied.
func AmzHeaders(h HeaderReader) string {
	type entry struct {
		name  string
		value string
	}
	var entries []entry
	for _, name := range h.Names() {
		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, amzPrefix) {
			entries = append(entries, entry{name: lower, value: h.Get(name)})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].name < entries[j].name
	})

	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(e.name)
		sb.WriteByte(':')
		sb.WriteString(e.value)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// CanonicalResource returns "/bucket/key". An empty key yields "/bucket/".
func CanonicalResource(bucket, key string) string {
	return "/" + bucket + "/" + key
}

// StringToSign builds the exact byte sequence that is signed. Absent
// Content-MD5, Content-Type or Date headers contribute an empty line.
func StringToSign(method, bucket, key string, h HeaderReader) string {
	var sb strings.Builder
	sb.WriteString(method)
	sb.WriteByte('\n')
	sb.WriteString(h.Get(HeaderContentMD5))
	sb.WriteByte('\n')
	sb.WriteString(h.Get(HeaderContentType))
	sb.WriteByte('\n')
	sb.WriteString(h.Get(HeaderDate))
	sb.WriteByte('\n')
	sb.WriteString(AmzHeaders(h))
	sb.WriteString(CanonicalResource(bucket, key))
	return sb.String()
}

// Signature returns base64(HMAC-SHA1(secretKey, stringToSign)).
func (s *Signer) Signature(stringToSign string) string {
	return base64.StdEncoding.EncodeToString(hmacSHA1([]byte(s.SecretKey), stringToSign))
}

// Authorization returns the full Authorization header value for the request.
func (s *Signer) Authorization(method, bucket, key string, h HeaderReader) string {
	return scheme + " " + s.AccessKey + ":" + s.Signature(StringToSign(method, bucket, key, h))
}

// Sign adds the Authorization header to h. It must be the last header
// mutation: the signature covers exactly the headers present now.
func (s *Signer) Sign(method, bucket, key string, h Headers) {
	h.Set(HeaderAuthorization, s.Authorization(method, bucket, key, h))
}

// Verify recomputes the signature of a received request and compares it to
// the Authorization header it carries. Used by servers and tests.
func (s *Signer) Verify(method, bucket, key string, h HeaderReader) bool {
	got := h.Get(HeaderAuthorization)
	accessKey, sig, ok := ParseAuthorization(got)
	if !ok || accessKey != s.AccessKey {
		return false
	}
	want := s.Signature(StringToSign(method, bucket, key, withoutAuthorization{h}))
	return subtle.ConstantTimeCompare([]byte(want), []byte(sig)) == 1
}

// ParseAuthorization splits "AWS <accessKey>:<signature>".
func ParseAuthorization(header string) (accessKey, signature string, ok bool) {
	rest, found := strings.CutPrefix(header, scheme+" ")
	if !found {
		return "", "", false
	}
	accessKey, signature, ok = strings.Cut(rest, ":")
	if !ok || accessKey == "" || signature == "" {
		return "", "", false
	}
	return accessKey, signature, true
}

// withoutAuthorization hides the Authorization header from the canonical
// string builder.
type withoutAuthorization struct {
	HeaderReader
}

func (w withoutAuthorization) Get(name string) string {
	if strings.EqualFold(name, HeaderAuthorization) {
		return ""
	}
	return w.HeaderReader.Get(name)
}

// hmacSHA1 computes HMAC-SHA1 of the data using the given key.
func hmacSHA1(key []byte, data string) []byte {
	h := hmac.New(sha1.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}
