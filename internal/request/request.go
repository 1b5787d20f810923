// Package request assembles signed S3 requests. A Request is immutable once
// built: every accessor hands out a copy, so nothing can touch the header set
// the signature covers.
package request

// Request is one fully assembled and signed HTTP request.
type Request struct {
	method string
	host   string
	bucket string
	key    string
	target string
	header Header
	body   []byte
	proxy  string
}

// Method returns the HTTP method.
func (r *Request) Method() string { return r.method }

// Host returns the virtual host the request is addressed to, with port if any.
func (r *Request) Host() string { return r.host }

// Bucket returns the bucket name the request was signed for.
func (r *Request) Bucket() string { return r.bucket }

// Key returns the unencoded object key, "" for bucket-level requests.
func (r *Request) Key() string { return r.key }

// Target returns the origin-form request target: encoded path plus query.
func (r *Request) Target() string { return r.target }

// URL returns the absolute http URL of the request.
func (r *Request) URL() string { return "http://" + r.host + r.target }

// Proxy returns the forward proxy address, "" for a direct connection.
func (r *Request) Proxy() string { return r.proxy }

// Header returns a copy of the signed headers.
func (r *Request) Header() Header { return r.header.Clone() }

// HasBody reports whether the request carries a body (possibly empty).
func (r *Request) HasBody() bool { return r.body != nil }

// Body returns a copy of the body, nil if the request has none.
func (r *Request) Body() []byte {
	if r.body == nil {
		return nil
	}
	return append([]byte{}, r.body...)
}

// String returns "METHOD URL" for logs.
func (r *Request) String() string {
	return r.method + " " + r.URL()
}
