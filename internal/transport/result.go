package transport

import (
	"net/http"

	s3err "github.com/BobDickinson/corona-s3/internal/errors"
	"github.com/BobDickinson/corona-s3/internal/request"
	"github.com/BobDickinson/corona-s3/internal/xmlutil"
)

// Response is a completed HTTP exchange.
type Response struct {
	// StatusCode is the numeric status, e.g. 200.
	StatusCode int
	// Status is the status line after the protocol, e.g. "200 OK".
	Status string
	Proto  string
	Header http.Header
	Body   []byte
}

// Result is either *Success or *Failure.
type Result interface {
	// Request returns the request that produced the result.
	Request() *request.Request
	isResult()
}

// Success means an HTTP response was received. The status may be anything,
// including 4xx and 5xx; interpreting it is up to the caller.
type Success struct {
	Req      *request.Request
	Response *Response
	// Listing is the normalized listing document for list operations with a
	// 2xx response, Absent otherwise.
	Listing xmlutil.Value
}

// Request returns the request that produced the response.
func (s *Success) Request() *request.Request { return s.Req }

// OK reports whether the status code is 2xx.
func (s *Success) OK() bool {
	return s.Response.StatusCode >= 200 && s.Response.StatusCode < 300
}

// Err decodes the S3 error document of a non-2xx response. It returns nil
// for 2xx.
func (s *Success) Err() *s3err.S3Error {
	if s.OK() {
		return nil
	}
	e := s3err.ParseErrorResponse(s.Response.StatusCode, s.Response.Body)
	if e.RequestID == "" {
		e.RequestID = s.Response.Header.Get("x-amz-request-id")
	}
	return e
}

func (*Success) isResult() {}

// Failure means no HTTP response was obtained.
type Failure struct {
	Req *request.Request
	// Message is a diagnostic for logs and users.
	Message string
	// Err is the cause, usually an *errors.TransportError.
	Err error
}

// Request returns the request that failed.
func (f *Failure) Request() *request.Request { return f.Req }

// Error lets a Failure be returned or wrapped as an error.
func (f *Failure) Error() string { return f.Message }

// Unwrap returns the cause.
func (f *Failure) Unwrap() error { return f.Err }

func (*Failure) isResult() {}

// Callback receives the result of an asynchronous exchange.
type Callback func(Result)
