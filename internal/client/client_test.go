package client

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BobDickinson/corona-s3/internal/config"
	"github.com/BobDickinson/corona-s3/internal/fakes3"
	"github.com/BobDickinson/corona-s3/internal/request"
	"github.com/BobDickinson/corona-s3/internal/transport"
	"github.com/BobDickinson/corona-s3/internal/xmlutil"
)

const (
	testAccessKey = "AKIDEXAMPLE"
	testSecretKey = "wJalrXUtnFEMI/K7MDENG/bPxRfiCYEXAMPLEKEY"
	testDomain    = "s3.test"
	testBucket    = "photos"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig points a client at 127.0.0.1:port, reaching the bucket host
// through a static host mapping.
func testConfig(port string) config.Config {
	cfg := config.Default()
	cfg.Credentials.AccessKey = testAccessKey
	cfg.Credentials.SecretKey = testSecretKey
	cfg.Endpoint = testDomain + ":" + port
	cfg.Transport.SliceMS = 20
	cfg.Transport.StaticHosts = map[string]string{testBucket + "." + testDomain: "127.0.0.1"}
	return cfg
}

func startFake(t *testing.T) (*fakes3.Server, string) {
	t.Helper()
	srv := fakes3.New(
		fakes3.WithDomain(testDomain),
		fakes3.WithCredentials(testAccessKey, testSecretKey),
		fakes3.WithLogger(quietLogger()),
	)
	srv.CreateBucket(testBucket)
	addr, err := srv.Start("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })

	_, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	return srv, port
}

func newTestBucket(t *testing.T) (*fakes3.Server, *Client, *Bucket) {
	t.Helper()
	srv, port := startFake(t)
	c := New(testConfig(port), WithLogger(quietLogger()))
	return srv, c, c.Bucket(testBucket)
}

func requireSuccess(t *testing.T, res Result) *Success {
	t.Helper()
	s, ok := res.(*Success)
	require.Truef(t, ok, "expected *Success, got %#v", res)
	return s
}

func requireFailure(t *testing.T, res Result) *Failure {
	t.Helper()
	f, ok := res.(*Failure)
	require.Truef(t, ok, "expected *Failure, got %#v", res)
	return f
}

// tickUntil drives the client's scheduler until done is closed.
func tickUntil(t *testing.T, c *Client, done <-chan struct{}) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		select {
		case <-done:
			return
		default:
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for callback")
		}
		if c.Scheduler().Len() == 0 {
			time.Sleep(time.Millisecond)
			continue
		}
		c.Scheduler().Tick()
	}
}

func TestBucketAccessors(t *testing.T) {
	cfg := config.Default()
	b := New(cfg, WithLogger(quietLogger())).Bucket("photos")

	assert.Equal(t, "photos", b.Name())
	assert.Equal(t, "photos.s3.amazonaws.com", b.Host())
	assert.Equal(t, "http://photos.s3.amazonaws.com/my%20cat/1.jpg", b.URL("my cat/1.jpg"))
}

func TestPutGetHeadDelete(t *testing.T) {
	srv, _, b := newTestBucket(t)
	ctx := context.Background()
	key := "albums/summer 2024/beach+sun.jpg"
	data := []byte("not really a jpeg")

	res, task := b.Put(ctx, key, data, map[string]string{
		"Content-Type":      "image/jpeg",
		"x-amz-meta-camera": "pinhole",
	}, nil)
	assert.Nil(t, task)
	put := requireSuccess(t, res)
	require.True(t, put.OK(), "put status %d: %s", put.Response.StatusCode, put.Response.Body)

	obj, ok := srv.Object(testBucket, key)
	require.True(t, ok)
	assert.Equal(t, data, obj.Data)
	assert.Equal(t, "image/jpeg", obj.ContentType)
	assert.Equal(t, put.Response.Header.Get("ETag"), obj.ETag)

	get := requireSuccess(t, first(b.Get(ctx, key, nil, nil)))
	require.True(t, get.OK())
	assert.Equal(t, data, get.Response.Body)
	assert.True(t, get.Listing.IsAbsent())

	head := requireSuccess(t, first(b.Head(ctx, key, nil, nil)))
	assert.Equal(t, http.StatusOK, head.Response.StatusCode)
	assert.Empty(t, head.Response.Body)
	assert.Equal(t, "pinhole", head.Response.Header.Get("x-amz-meta-camera"))
	assert.Equal(t, "17", head.Response.Header.Get("Content-Length"))

	del := requireSuccess(t, first(b.Delete(ctx, key, nil)))
	assert.Equal(t, http.StatusNoContent, del.Response.StatusCode)
	assert.Equal(t, 0, srv.Len(testBucket))
}

func first(res Result, _ *Task) Result { return res }

func TestRepeatedGetIsByteIdentical(t *testing.T) {
	srv, _, b := newTestBucket(t)
	payload := bytes.Repeat([]byte("0123456789abcdef"), 4096)
	srv.PutObject(testBucket, "big.bin", payload, "")

	var bodies [][]byte
	for i := 0; i < 3; i++ {
		get := requireSuccess(t, first(b.Get(context.Background(), "big.bin", nil, nil)))
		require.True(t, get.OK())
		bodies = append(bodies, get.Response.Body)
	}
	assert.Equal(t, payload, bodies[0])
	assert.Equal(t, bodies[0], bodies[1])
	assert.Equal(t, bodies[1], bodies[2])
}

func TestNonSuccessStatusIsSuccessResult(t *testing.T) {
	_, _, b := newTestBucket(t)

	get := requireSuccess(t, first(b.Get(context.Background(), "missing", nil, nil)))
	assert.False(t, get.OK())
	assert.Equal(t, http.StatusNotFound, get.Response.StatusCode)

	s3Err := get.Err()
	require.NotNil(t, s3Err)
	assert.Equal(t, "NoSuchKey", s3Err.Code)
	assert.NotEmpty(t, s3Err.RequestID)
}

func TestWrongCredentialsAreRejectedRemotely(t *testing.T) {
	_, port := startFake(t)
	cfg := testConfig(port)
	cfg.Credentials.SecretKey = "not-the-secret"
	b := New(cfg, WithLogger(quietLogger())).Bucket(testBucket)

	res := requireSuccess(t, first(b.List(context.Background(), request.ListQuery{}, nil)))
	assert.Equal(t, http.StatusForbidden, res.Response.StatusCode)
	assert.Equal(t, "SignatureDoesNotMatch", res.Err().Code)
	assert.True(t, res.Listing.IsAbsent())
}

func TestList(t *testing.T) {
	srv, _, b := newTestBucket(t)
	for _, k := range []string{"readme.txt", "2024/a.jpg", "2024/b.jpg", "2025/c.jpg"} {
		srv.PutObject(testBucket, k, []byte(k), "")
	}
	ctx := context.Background()

	t.Run("delimiter", func(t *testing.T) {
		res := requireSuccess(t, first(b.List(ctx, request.ListQuery{Delimiter: "/"}, nil)))
		require.True(t, res.OK())

		contents := res.Listing.Get("Contents")
		require.Equal(t, xmlutil.Sequence, contents.Kind())
		require.Equal(t, 1, contents.Len())
		assert.Equal(t, "readme.txt", contents.Index(0).Get("Key").Text())

		prefixes := res.Listing.Get("CommonPrefixes")
		require.Equal(t, 2, prefixes.Len())
		assert.Equal(t, "2024/", prefixes.Index(0).Get("Prefix").Text())
		assert.Equal(t, "2025/", prefixes.Index(1).Get("Prefix").Text())
	})

	t.Run("prefix", func(t *testing.T) {
		res := requireSuccess(t, first(b.List(ctx, request.ListQuery{Prefix: "2024/"}, nil)))
		assert.Equal(t, 2, res.Listing.Get("Contents").Len())
		assert.True(t, res.Listing.Get("CommonPrefixes").IsAbsent())
	})

	t.Run("paging", func(t *testing.T) {
		var keys []string
		q := request.ListQuery{MaxKeys: 3}
		for page := 0; page < 5; page++ {
			res := requireSuccess(t, first(b.List(ctx, q, nil)))
			require.True(t, res.OK())
			for _, item := range res.Listing.Get("Contents").Items() {
				keys = append(keys, item.Get("Key").Text())
			}
			if res.Listing.Get("IsTruncated").Text() != "true" {
				break
			}
			q.Marker = res.Listing.Get("NextMarker").Text()
		}
		assert.Equal(t, []string{"2024/a.jpg", "2024/b.jpg", "2025/c.jpg", "readme.txt"}, keys)
	})

	t.Run("empty bucket page", func(t *testing.T) {
		res := requireSuccess(t, first(b.List(ctx, request.ListQuery{Prefix: "none/"}, nil)))
		require.True(t, res.OK())
		assert.True(t, res.Listing.Get("Contents").IsAbsent())
		assert.Equal(t, "photos", res.Listing.Get("Name").Text())
	})
}

func TestListMalformedBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "<ListBucketResult><Contents>")
	}))
	defer ts.Close()
	_, port, err := net.SplitHostPort(ts.Listener.Addr().String())
	require.NoError(t, err)

	b := New(testConfig(port), WithLogger(quietLogger())).Bucket(testBucket)
	f := requireFailure(t, first(b.List(context.Background(), request.ListQuery{}, nil)))
	assert.Equal(t, "malformed listing", f.Message)
	assert.NotNil(t, f.Request())
}

func TestGetToFile(t *testing.T) {
	srv, _, b := newTestBucket(t)
	srv.PutObject(testBucket, "notes.txt", []byte("remember the milk"), "text/plain")
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")

	res := requireSuccess(t, first(b.GetToFile(ctx, "notes.txt", nil, path, nil)))
	require.True(t, res.OK())
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "remember the milk", string(got))

	res = requireSuccess(t, first(b.GetToFile(ctx, "missing.txt", nil, path, nil)))
	assert.Equal(t, http.StatusNotFound, res.Response.StatusCode)
	got, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "remember the milk", string(got), "non-2xx must leave the file alone")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")

	f := requireFailure(t, first(b.GetToFile(ctx, "notes.txt", nil, filepath.Join(dir, "no", "such", "dir"), nil)))
	assert.Contains(t, f.Message, "writing")
}

func TestPutFromFile(t *testing.T) {
	srv, _, b := newTestBucket(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "upload.txt")
	require.NoError(t, os.WriteFile(path, []byte("file contents"), 0o644))

	res := requireSuccess(t, first(b.PutFromFile(ctx, "upload.txt", path, nil, nil)))
	require.True(t, res.OK())
	obj, ok := srv.Object(testBucket, "upload.txt")
	require.True(t, ok)
	assert.Equal(t, "file contents", string(obj.Data))

	before := srv.Requests()
	f := requireFailure(t, first(b.PutFromFile(ctx, "x", filepath.Join(t.TempDir(), "missing"), nil, nil)))
	assert.Nil(t, f.Request())
	assert.ErrorIs(t, f, os.ErrNotExist)
	assert.Equal(t, before, srv.Requests(), "nothing is sent when the file cannot be read")
}

func TestPutEmptyObject(t *testing.T) {
	srv, _, b := newTestBucket(t)
	res := requireSuccess(t, first(b.Put(context.Background(), "empty", nil, nil, nil)))
	require.True(t, res.OK())
	obj, ok := srv.Object(testBucket, "empty")
	require.True(t, ok)
	assert.Empty(t, obj.Data)
}

func TestInvalidHeaderNeverSent(t *testing.T) {
	srv, _, b := newTestBucket(t)
	f := requireFailure(t, first(b.Get(context.Background(), "k", map[string]string{"bad name": "v"}, nil)))
	assert.Contains(t, f.Message, "building request")
	assert.Equal(t, int64(0), srv.Requests())
}

func TestBlockingContextCancel(t *testing.T) {
	srv, _, b := newTestBucket(t)
	srv.PutObject(testBucket, "slow", []byte("v"), "")
	srv.SetDelay(2 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	f := requireFailure(t, first(b.Get(ctx, "slow", nil, nil)))
	assert.Equal(t, "canceled", f.Message)
	assert.Less(t, time.Since(start), time.Second)
}

func TestAsyncOperations(t *testing.T) {
	srv, c, b := newTestBucket(t)
	srv.PutObject(testBucket, "a.txt", []byte("alpha"), "")

	done := make(chan struct{})
	var results []Result
	calls := 0
	cb := func(res Result) {
		calls++
		results = append(results, res)
		if calls == 3 {
			close(done)
		}
	}

	res, task1 := b.Get(context.Background(), "a.txt", nil, cb)
	assert.Nil(t, res)
	require.NotNil(t, task1)
	_, task2 := b.Put(context.Background(), "b.txt", []byte("beta"), nil, cb)
	_, task3 := b.List(context.Background(), request.ListQuery{}, cb)
	assert.Equal(t, transport.InFlight, task1.State())

	tickUntil(t, c, done)
	assert.Equal(t, 3, calls)
	for _, task := range []*Task{task1, task2, task3} {
		assert.Equal(t, transport.Completed, task.State())
	}
	assert.Equal(t, 0, c.Scheduler().Len())

	for _, res := range results {
		s := requireSuccess(t, res)
		assert.True(t, s.OK())
		if s.Request().Method() == http.MethodGet && s.Request().Key() == "a.txt" {
			assert.Equal(t, "alpha", string(s.Response.Body))
		}
		if s.Request().Key() == "" {
			assert.Equal(t, xmlutil.Map, s.Listing.Kind())
		}
	}
	_, ok := srv.Object(testBucket, "b.txt")
	assert.True(t, ok)
}

func TestAsyncCancelNeverCallsBack(t *testing.T) {
	srv, c, b := newTestBucket(t)
	srv.PutObject(testBucket, "slow", []byte("v"), "")
	srv.SetDelay(100 * time.Millisecond)

	called := false
	_, task := b.Get(context.Background(), "slow", nil, func(Result) { called = true })

	// Let the exchange get under way, then give up on it.
	c.Scheduler().Tick()
	assert.True(t, task.Cancel())
	assert.False(t, task.Cancel())
	assert.Equal(t, transport.Cancelled, task.State())
	assert.Equal(t, 0, c.Scheduler().Len())

	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) {
		c.Scheduler().Tick()
		time.Sleep(5 * time.Millisecond)
	}
	assert.False(t, called)
}

func TestAsyncPutFromFileMissing(t *testing.T) {
	srv, c, b := newTestBucket(t)

	done := make(chan struct{})
	calls := 0
	var got Result
	_, task := b.PutFromFile(context.Background(), "k", filepath.Join(t.TempDir(), "missing"), nil, func(res Result) {
		calls++
		got = res
		close(done)
	})
	require.NotNil(t, task)
	assert.Equal(t, 0, calls, "callback waits for the scheduler")

	tickUntil(t, c, done)
	assert.Equal(t, 1, calls)
	requireFailure(t, got)
	assert.Equal(t, int64(0), srv.Requests())
}

func TestSharedScheduler(t *testing.T) {
	srv, port := startFake(t)
	srv.PutObject(testBucket, "k", []byte("v"), "")

	c1 := New(testConfig(port), WithLogger(quietLogger()))
	c2 := New(testConfig(port), WithLogger(quietLogger()), WithScheduler(c1.Scheduler()))
	assert.Same(t, c1.Scheduler(), c2.Scheduler())

	done := make(chan struct{})
	remaining := 2
	cb := func(res Result) {
		requireSuccess(t, res)
		remaining--
		if remaining == 0 {
			close(done)
		}
	}
	c1.Bucket(testBucket).Get(context.Background(), "k", nil, cb)
	c2.Bucket(testBucket).Head(context.Background(), "k", nil, cb)
	assert.Equal(t, 2, c1.Scheduler().Len())

	tickUntil(t, c1, done)
}
