package fakes3

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	s3err "github.com/BobDickinson/corona-s3/internal/errors"
	"github.com/BobDickinson/corona-s3/internal/metrics"
	"github.com/BobDickinson/corona-s3/internal/uid"
	"github.com/BobDickinson/corona-s3/internal/xmlutil"
)

type ctxKey int

const bucketKey ctxKey = iota

// bucketFrom returns the bucket name and store resolved for the request.
func bucketFrom(ctx context.Context) (string, *store) {
	b, _ := ctx.Value(bucketKey).(bucketRef)
	return b.name, b.store
}

type bucketRef struct {
	name  string
	store *store
}

// commonHeaders injects x-amz-request-id, x-amz-id-2, Date and Server on
// every response.
func commonHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uid.RequestID()
		w.Header().Set("x-amz-request-id", requestID)
		w.Header().Set("x-amz-id-2", requestID)
		w.Header().Set("Date", xmlutil.FormatTimeHTTP(time.Now()))
		w.Header().Set("Server", "corona-s3-fake")
		next.ServeHTTP(w, r)
	})
}

// responseRecorder captures the status code and bytes written for metrics.
type responseRecorder struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
	wroteHeader  bool
}

func (rr *responseRecorder) WriteHeader(code int) {
	if !rr.wroteHeader {
		rr.statusCode = code
		rr.wroteHeader = true
	}
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	if !rr.wroteHeader {
		rr.statusCode = http.StatusOK
		rr.wroteHeader = true
	}
	n, err := rr.ResponseWriter.Write(b)
	rr.bytesWritten += n
	return n, err
}

// metricsMiddleware counts requests, both in the Server and in the
// FakeRequestsTotal collector, and logs each one at debug level.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rec, r)

		metrics.FakeRequestsTotal.WithLabelValues(
			r.Method, metrics.NormalizePath(r.URL.Path), strconv.Itoa(rec.statusCode),
		).Inc()
		s.logger.Debug("fake request",
			"method", r.Method,
			"host", r.Host,
			"path", r.URL.Path,
			"status", rec.statusCode,
			"bytes", rec.bytesWritten,
			"duration", time.Since(start),
		)
	})
}

// hold delays the request by the configured delay, or until the client
// goes away.
func (s *Server) hold(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if d := time.Duration(s.delay.Load()); d > 0 {
			t := time.NewTimer(d)
			select {
			case <-t.C:
			case <-r.Context().Done():
				t.Stop()
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// serviceHost sends requests addressed to the bare domain to the service
// routes.
func (s *Server) serviceHost(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		if strings.EqualFold(host, s.domain) {
			s.service.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// resolveBucket maps the Host header to a bucket: "photos.<domain>[:port]"
// is bucket "photos".
func (s *Server) resolveBucket(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name, ok := bucketFromHost(r.Host, s.domain)
		if !ok {
			xmlutil.RenderError(w, r, s3err.ErrNoSuchBucket, r.Host)
			return
		}
		st := s.bucket(name)
		if st == nil {
			xmlutil.RenderError(w, r, s3err.ErrNoSuchBucket, name)
			return
		}
		ctx := context.WithValue(r.Context(), bucketKey, bucketRef{name: name, store: st})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bucketFromHost(host, domain string) (string, bool) {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	name, ok := strings.CutSuffix(strings.ToLower(host), "."+strings.ToLower(domain))
	if !ok || name == "" {
		return "", false
	}
	return name, true
}

// authenticate checks the Authorization header against the configured
// credentials. The signed key is the path exactly as it came over the wire.
func (s *Server) authenticate(next http.Handler) http.Handler {
	if s.signer == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			xmlutil.WriteErrorResponse(w, r, s3err.ErrAccessDenied)
			return
		}
		bucket, _ := bucketFrom(r.Context())
		key := strings.TrimPrefix(r.URL.EscapedPath(), "/")
		if !s.signer.Verify(r.Method, bucket, key, signedHeaders(r.Header)) {
			xmlutil.WriteErrorResponse(w, r, s3err.ErrSignatureDoesNotMatch)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// signedHeaders adapts http.Header to auth.HeaderReader.
type signedHeaders http.Header

func (h signedHeaders) Get(name string) string { return http.Header(h).Get(name) }

func (h signedHeaders) Names() []string {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	return names
}
