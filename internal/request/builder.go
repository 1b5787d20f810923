package request

import (
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	"golang.org/x/net/http/httpguts"

	"github.com/BobDickinson/corona-s3/internal/auth"
)

// dateFormat is RFC 1123 with a literal GMT zone, the form S3 expects in Date.
const dateFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// Operation describes one operation before it is assembled.
type Operation struct {
	Method string
	Bucket string
	// Host is the virtual host, "<bucket>.<endpoint>[:port]".
	Host string
	// Key is the unencoded object key; empty for bucket-level requests.
	Key string
	// Query is an encoded query string starting with '?', or empty.
	Query string
	// Body is sent as-is. A non-nil empty slice is a zero-length body.
	Body []byte
	// Header holds caller headers, applied over the computed defaults.
	Header map[string]string
}

// Builder turns Operations into signed Requests.
type Builder struct {
	Signer *auth.Signer
	// Clock defaults to time.Now.
	Clock func() time.Time
	// Proxy is attached to every request built.
	Proxy string
}

// Build assembles and signs a request. Defaults are computed first (Date,
// and for a body Content-Length and Content-MD5), then caller headers are
// merged over them, then the result is signed. Nothing touches the headers
// after signing.
func (b *Builder) Build(op Operation) (*Request, error) {
	now := time.Now
	if b.Clock != nil {
		now = b.Clock
	}

	var h Header
	h.Set(auth.HeaderDate, now().UTC().Format(dateFormat))
	if op.Body != nil {
		sum := md5.Sum(op.Body)
		h.Set("Content-Length", strconv.Itoa(len(op.Body)))
		h.Set(auth.HeaderContentMD5, base64.StdEncoding.EncodeToString(sum[:]))
	}
	// Names are merged in sorted order, so of two spellings of one header
	// the lowercase one ("content-type" after "Content-Type") wins.
	for _, name := range slices.Sorted(maps.Keys(op.Header)) {
		value := op.Header[name]
		if !httpguts.ValidHeaderFieldName(name) {
			return nil, fmt.Errorf("invalid header name %q", name)
		}
		if !httpguts.ValidHeaderFieldValue(value) {
			return nil, fmt.Errorf("invalid value for header %q", name)
		}
		h.Set(name, value)
	}

	encodedKey := auth.URIEncode(op.Key, false)
	if b.Signer != nil {
		b.Signer.Sign(op.Method, op.Bucket, encodedKey, &h)
	}

	var body []byte
	if op.Body != nil {
		body = append([]byte{}, op.Body...)
	}

	return &Request{
		method: op.Method,
		host:   op.Host,
		bucket: op.Bucket,
		key:    op.Key,
		target: "/" + encodedKey + op.Query,
		header: h,
		body:   body,
		proxy:  b.Proxy,
	}, nil
}
