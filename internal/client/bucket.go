package client

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/BobDickinson/corona-s3/internal/auth"
	"github.com/BobDickinson/corona-s3/internal/metrics"
	"github.com/BobDickinson/corona-s3/internal/request"
	"github.com/BobDickinson/corona-s3/internal/uid"
	"github.com/BobDickinson/corona-s3/internal/xmlutil"
)

// Operation names used in logs and metrics.
const (
	OpList        = "list"
	OpHead        = "head"
	OpGet         = "get"
	OpGetToFile   = "get_to_file"
	OpPut         = "put"
	OpPutFromFile = "put_from_file"
	OpDelete      = "delete"
)

// Bucket performs operations on one bucket.
//
// Every operation takes a trailing Callback. With a nil callback the call
// blocks and returns the Result; ctx cancels it. With a callback the call
// returns at once with a Task, and the callback runs inside a later tick of
// the client's scheduler. ctx is not consulted for asynchronous calls; use
// Task.Cancel.
//
// A Success carries any HTTP status, 4xx and 5xx included. A Failure means
// no response was obtained.
type Bucket struct {
	client *Client
	name   string
	host   string
}

// Name returns the bucket name.
func (b *Bucket) Name() string {
	return b.name
}

// Host returns the virtual host, "<bucket>.<endpoint>".
func (b *Bucket) Host() string {
	return b.host
}

// URL returns the unsigned URL of key.
func (b *Bucket) URL(key string) string {
	return "http://" + b.host + "/" + auth.URIEncode(key, false)
}

// List requests a page of the bucket listing. For a 2xx response the
// normalized document is in Success.Listing, with Contents and
// CommonPrefixes always sequences. A 2xx body that is not a listing turns
// into a Failure.
func (b *Bucket) List(ctx context.Context, q request.ListQuery, cb Callback) (Result, *Task) {
	ro := request.Operation{Method: http.MethodGet, Query: q.Encode()}
	return b.do(ctx, OpList, ro, decodeListing, cb)
}

// Head requests the headers of key.
func (b *Bucket) Head(ctx context.Context, key string, header map[string]string, cb Callback) (Result, *Task) {
	ro := request.Operation{Method: http.MethodHead, Key: key, Header: header}
	return b.do(ctx, OpHead, ro, nil, cb)
}

// Get requests the contents of key.
func (b *Bucket) Get(ctx context.Context, key string, header map[string]string, cb Callback) (Result, *Task) {
	ro := request.Operation{Method: http.MethodGet, Key: key, Header: header}
	return b.do(ctx, OpGet, ro, nil, cb)
}

// GetToFile gets key and, for a 2xx response, writes the body to path. The
// file is replaced atomically; other statuses leave it untouched. A failed
// write turns the result into a Failure.
func (b *Bucket) GetToFile(ctx context.Context, key string, header map[string]string, path string, cb Callback) (Result, *Task) {
	ro := request.Operation{Method: http.MethodGet, Key: key, Header: header}
	save := func(res Result) Result {
		s, ok := res.(*Success)
		if !ok || !s.OK() {
			return res
		}
		if err := writeFileAtomic(path, s.Response.Body); err != nil {
			return &Failure{Req: s.Req, Message: fmt.Sprintf("writing %s: %v", path, err), Err: err}
		}
		return res
	}
	return b.do(ctx, OpGetToFile, ro, save, cb)
}

// Put stores data under key. Content-Length and Content-MD5 are computed
// from data.
func (b *Bucket) Put(ctx context.Context, key string, data []byte, header map[string]string, cb Callback) (Result, *Task) {
	if data == nil {
		data = []byte{}
	}
	ro := request.Operation{Method: http.MethodPut, Key: key, Body: data, Header: header}
	return b.do(ctx, OpPut, ro, nil, cb)
}

// PutFromFile reads path and stores its contents under key. If the file
// cannot be read the result is a Failure with a nil Request and nothing is
// sent.
func (b *Bucket) PutFromFile(ctx context.Context, key, path string, header map[string]string, cb Callback) (Result, *Task) {
	data, err := os.ReadFile(path)
	if err != nil {
		res := &Failure{Message: fmt.Sprintf("reading %s: %v", path, err), Err: err}
		return b.finish(OpPutFromFile, key, res, cb)
	}
	ro := request.Operation{Method: http.MethodPut, Key: key, Body: data, Header: header}
	return b.do(ctx, OpPutFromFile, ro, nil, cb)
}

// Delete removes key.
func (b *Bucket) Delete(ctx context.Context, key string, cb Callback) (Result, *Task) {
	ro := request.Operation{Method: http.MethodDelete, Key: key}
	return b.do(ctx, OpDelete, ro, nil, cb)
}

// do builds ro for this bucket and runs it. post, if set, rewrites the
// transport's result before it is reported.
func (b *Bucket) do(ctx context.Context, op string, ro request.Operation, post func(Result) Result, cb Callback) (Result, *Task) {
	ro.Bucket = b.name
	ro.Host = b.host
	req, err := b.client.builder.Build(ro)
	if err != nil {
		res := &Failure{Message: fmt.Sprintf("building request: %v", err), Err: err}
		return b.finish(op, ro.Key, res, cb)
	}

	report := func(res Result) Result {
		if post != nil {
			res = post(res)
		}
		b.observe(op, ro.Key, res)
		return res
	}

	if cb == nil {
		return report(b.client.transport.Do(ctx, req)), nil
	}
	return nil, b.client.transport.Start(req, func(res Result) {
		cb(report(res))
	})
}

// finish reports a result decided without network activity.
func (b *Bucket) finish(op, key string, res Result, cb Callback) (Result, *Task) {
	if cb == nil {
		b.observe(op, key, res)
		return res, nil
	}
	return nil, b.client.transport.Deliver(res, func(res Result) {
		b.observe(op, key, res)
		cb(res)
	})
}

func (b *Bucket) observe(op, key string, res Result) {
	log := b.client.logger.With("op", op, "bucket", b.name, "key", key)
	switch r := res.(type) {
	case *Success:
		metrics.OperationsTotal.WithLabelValues(op, metrics.StatusClass(r.Response.StatusCode)).Inc()
		log.Debug("operation complete", "status", r.Response.StatusCode)
	case *Failure:
		metrics.OperationsTotal.WithLabelValues(op, metrics.OutcomeFailure).Inc()
		log.Warn("operation failed", "error", r.Message)
	}
}

// decodeListing fills Success.Listing for 2xx list responses.
func decodeListing(res Result) Result {
	s, ok := res.(*Success)
	if !ok || !s.OK() {
		return res
	}
	listing, err := xmlutil.DecodeListing(s.Response.Body)
	if err != nil {
		return &Failure{Req: s.Req, Message: "malformed listing", Err: err}
	}
	s.Listing = listing
	return s
}

// writeFileAtomic writes data to a temp file next to path, syncs it and
// renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tmpPath := tempPath(path)
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// tempPath returns a unique hidden path in the directory of path.
func tempPath(path string) string {
	return filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp-"+uid.New())
}
