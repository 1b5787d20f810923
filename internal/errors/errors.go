// Package errors defines the error types used by the corona-s3 client: network
// failures that prevent any HTTP exchange, and S3 error documents returned by
// the service.
package errors

import (
	"encoding/xml"
	"fmt"
	"net/http"
)

// TransportError is a network-level failure: no HTTP response was obtained.
type TransportError struct {
	// Op is the stage that failed ("dial", "write", "read", "parse").
	Op string
	// Addr is the remote address the client was talking to.
	Addr string
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface for TransportError.
func (e *TransportError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// S3Error represents an S3 API error with a machine-readable code,
// human-readable message and HTTP status code.
type S3Error struct {
	// Code is the S3 error code (e.g., "NoSuchBucket", "AccessDenied").
	Code string
	// Message is a human-readable description of the error.
	Message string
	// HTTPStatus is the HTTP status code of the response (e.g., 404, 403).
	HTTPStatus int
	// RequestID is the x-amz-request-id reported by the service, if any.
	RequestID string
	// Resource is the bucket or object the error refers to, if reported.
	Resource string
}

// Error implements the error interface for S3Error.
func (e *S3Error) Error() string {
	return fmt.Sprintf("S3Error %s (%d): %s", e.Code, e.HTTPStatus, e.Message)
}

// Is matches another *S3Error by code, so errors.Is(err, ErrNoSuchKey) works
// on errors decoded from a response.
func (e *S3Error) Is(target error) bool {
	t, ok := target.(*S3Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// errorDocument is the XML body S3 sends with non-2xx responses.
type errorDocument struct {
	XMLName   xml.Name `xml:"Error"`
	Code      string   `xml:"Code"`
	Message   string   `xml:"Message"`
	Resource  string   `xml:"Resource"`
	RequestID string   `xml:"RequestId"`
}

// ParseErrorResponse decodes an S3 error document. When the body is empty or
// not an error document (HEAD responses carry no body), the code falls back
// to the status text.
func ParseErrorResponse(status int, body []byte) *S3Error {
	e := &S3Error{HTTPStatus: status}
	var doc errorDocument
	if len(body) > 0 && xml.Unmarshal(body, &doc) == nil && doc.Code != "" {
		e.Code = doc.Code
		e.Message = doc.Message
		e.Resource = doc.Resource
		e.RequestID = doc.RequestID
		return e
	}
	e.Code = http.StatusText(status)
	if e.Code == "" {
		e.Code = fmt.Sprintf("HTTP%d", status)
	}
	e.Message = e.Code
	return e
}

// Pre-defined S3 errors for the conditions the test endpoint reports.
var (
	// ErrAccessDenied is returned when the caller lacks permission.
	ErrAccessDenied = &S3Error{
		Code:       "AccessDenied",
		Message:    "Access Denied",
		HTTPStatus: 403,
	}

	// ErrNoSuchBucket is returned when the specified bucket does not exist.
	ErrNoSuchBucket = &S3Error{
		Code:       "NoSuchBucket",
		Message:    "The specified bucket does not exist",
		HTTPStatus: 404,
	}

	// ErrNoSuchKey is returned when the specified object key does not exist.
	ErrNoSuchKey = &S3Error{
		Code:       "NoSuchKey",
		Message:    "The specified key does not exist",
		HTTPStatus: 404,
	}

	// ErrSignatureDoesNotMatch is returned when the request signature is invalid.
	ErrSignatureDoesNotMatch = &S3Error{
		Code:       "SignatureDoesNotMatch",
		Message:    "The request signature we calculated does not match the signature you provided",
		HTTPStatus: 403,
	}

	// ErrBadDigest is returned when the Content-MD5 does not match the body.
	ErrBadDigest = &S3Error{
		Code:       "BadDigest",
		Message:    "The Content-MD5 you specified did not match what we received",
		HTTPStatus: 400,
	}

	// ErrInvalidDigest is returned when the Content-MD5 is not valid base64.
	ErrInvalidDigest = &S3Error{
		Code:       "InvalidDigest",
		Message:    "The Content-MD5 you specified is not valid",
		HTTPStatus: 400,
	}

	// ErrInvalidArgument is returned for a malformed query parameter.
	ErrInvalidArgument = &S3Error{
		Code:       "InvalidArgument",
		Message:    "Invalid Argument",
		HTTPStatus: 400,
	}

	// ErrMissingContentLength is returned when a PUT carries no Content-Length.
	ErrMissingContentLength = &S3Error{
		Code:       "MissingContentLength",
		Message:    "You must provide the Content-Length HTTP header",
		HTTPStatus: 411,
	}

	// ErrPreconditionFailed is returned when a conditional header check fails.
	ErrPreconditionFailed = &S3Error{
		Code:       "PreconditionFailed",
		Message:    "At least one of the preconditions you specified did not hold",
		HTTPStatus: 412,
	}

	// ErrMethodNotAllowed is returned when the HTTP method is not allowed.
	ErrMethodNotAllowed = &S3Error{
		Code:       "MethodNotAllowed",
		Message:    "The specified method is not allowed against this resource",
		HTTPStatus: 405,
	}

	// ErrInternalError is returned for unexpected server errors.
	ErrInternalError = &S3Error{
		Code:       "InternalError",
		Message:    "We encountered an internal error. Please try again.",
		HTTPStatus: 500,
	}
)
