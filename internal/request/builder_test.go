package request

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BobDickinson/corona-s3/internal/auth"
)

var fixedTime = time.Date(2005, 11, 17, 18, 49, 58, 0, time.UTC)

func newTestBuilder() *Builder {
	return &Builder{
		Signer: auth.NewSigner("AKID", "secret"),
		Clock:  func() time.Time { return fixedTime },
	}
}

func TestBuildSetsDate(t *testing.T) {
	b := newTestBuilder()
	b.Clock = func() time.Time { return fixedTime.In(time.FixedZone("PST", -8*3600)) }

	req, err := b.Build(Operation{Method: "GET", Bucket: "b", Host: "b.s3.example.com", Key: "k"})
	require.NoError(t, err)

	h := req.Header()
	assert.Equal(t, "Thu, 17 Nov 2005 18:49:58 GMT", h.Get("Date"))
	assert.False(t, h.Has("Content-Length"))
	assert.False(t, h.Has("Content-MD5"))
	assert.False(t, req.HasBody())
}

func TestBuildBodyHeaders(t *testing.T) {
	req, err := newTestBuilder().Build(Operation{
		Method: "PUT", Bucket: "b", Host: "b.s3.example.com", Key: "k",
		Body: []byte("hello world"),
	})
	require.NoError(t, err)

	h := req.Header()
	assert.Equal(t, "11", h.Get("content-length"))
	assert.Equal(t, "XrY7u+Ae7tCTyyK7j1rNww==", h.Get("Content-MD5"))
	assert.Equal(t, []byte("hello world"), req.Body())
}

func TestBuildEmptyBody(t *testing.T) {
	req, err := newTestBuilder().Build(Operation{
		Method: "PUT", Bucket: "b", Host: "b.s3.example.com", Key: "k",
		Body: []byte{},
	})
	require.NoError(t, err)

	h := req.Header()
	assert.True(t, req.HasBody())
	assert.Equal(t, "0", h.Get("Content-Length"))
	assert.Equal(t, "1B2M2Y8AsgTpgAmY7PhCfg==", h.Get("Content-MD5"))
}

func TestBuildCallerHeadersOverride(t *testing.T) {
	req, err := newTestBuilder().Build(Operation{
		Method: "PUT", Bucket: "b", Host: "b.s3.example.com", Key: "k",
		Body: []byte("x"),
		Header: map[string]string{
			"date":         "Fri, 18 Nov 2005 00:00:00 GMT",
			"Content-Type": "text/plain",
			"If-Match":     `"abc"`,
		},
	})
	require.NoError(t, err)

	h := req.Header()
	assert.Equal(t, "Fri, 18 Nov 2005 00:00:00 GMT", h.Get("Date"))
	assert.Equal(t, "text/plain", h.Get("Content-Type"))
	assert.Equal(t, `"abc"`, h.Get("If-Match"))
	// Overriding replaces the spelling too.
	assert.Contains(t, h.Names(), "date")
	assert.NotContains(t, h.Names(), "Date")
}

func TestBuildCaseVariantHeadersAreDeterministic(t *testing.T) {
	for i := 0; i < 50; i++ {
		req, err := newTestBuilder().Build(Operation{
			Method: "PUT", Bucket: "b", Host: "b.s3.example.com", Key: "k",
			Body: []byte("x"),
			Header: map[string]string{
				"Content-Type": "text/plain",
				"content-type": "application/json",
				"CONTENT-TYPE": "image/png",
			},
		})
		require.NoError(t, err)

		h := req.Header()
		require.Equal(t, "application/json", h.Get("Content-Type"), "attempt %d", i)
		assert.Contains(t, h.Names(), "content-type")
		assert.NotContains(t, h.Names(), "Content-Type")
		assert.NotContains(t, h.Names(), "CONTENT-TYPE")
	}
}

func TestBuildSignsLast(t *testing.T) {
	b := newTestBuilder()
	req, err := b.Build(Operation{
		Method: "PUT", Bucket: "photos", Host: "photos.s3.example.com", Key: "2024/cat one.jpg",
		Body:   []byte("meow"),
		Header: map[string]string{"x-amz-meta-owner": "alice"},
	})
	require.NoError(t, err)

	h := req.Header()
	assert.True(t, b.Signer.Verify("PUT", "photos", "2024/cat%20one.jpg", &h))
	assert.Equal(t, "/2024/cat%20one.jpg", req.Target())
	assert.Equal(t, "http://photos.s3.example.com/2024/cat%20one.jpg", req.URL())
	assert.Equal(t, "2024/cat one.jpg", req.Key())
}

func TestRequestAccessorsReturnCopies(t *testing.T) {
	req, err := newTestBuilder().Build(Operation{
		Method: "PUT", Bucket: "b", Host: "b.s3.example.com", Key: "k",
		Body: []byte("abc"),
	})
	require.NoError(t, err)

	h := req.Header()
	h.Set("Authorization", "tampered")
	body := req.Body()
	body[0] = 'z'

	again := req.Header()
	assert.NotEqual(t, "tampered", again.Get("Authorization"))
	assert.Equal(t, []byte("abc"), req.Body())
}

func TestBuildRejectsInvalidHeaders(t *testing.T) {
	tests := map[string]map[string]string{
		"bad name":  {"Bad Name": "v"},
		"bad value": {"X-Thing": "line\r\nInjected: yes"},
	}
	for name, hdr := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := newTestBuilder().Build(Operation{Method: "GET", Bucket: "b", Host: "h", Header: hdr})
			assert.Error(t, err)
		})
	}
}

func TestBuildWithQueryAndProxy(t *testing.T) {
	b := newTestBuilder()
	b.Proxy = "proxy.local:3128"
	req, err := b.Build(Operation{
		Method: "GET", Bucket: "b", Host: "b.s3.example.com",
		Query: ListQuery{Prefix: "logs/"}.Encode(),
	})
	require.NoError(t, err)

	assert.Equal(t, "/?prefix=logs%2F", req.Target())
	assert.Equal(t, "proxy.local:3128", req.Proxy())

	h := req.Header()
	assert.True(t, b.Signer.Verify("GET", "b", "", &h))
}

func TestListQueryEncode(t *testing.T) {
	assert.Equal(t, "", ListQuery{}.Encode())
	assert.Equal(t, "?max-keys=10", ListQuery{MaxKeys: 10}.Encode())

	got := ListQuery{Delimiter: "/", Prefix: "a b&c", MaxKeys: 2, Marker: "x=y"}.Encode()
	require.Equal(t, byte('?'), got[0])
	assert.Contains(t, got, "delimiter=%2F")
	assert.Contains(t, got, "prefix=a%20b%26c")
	assert.Contains(t, got, "max-keys=2")
	assert.Contains(t, got, "marker=x%3Dy")
	assert.Equal(t, 3, countByte(got, '&'))
}

func countByte(s string, c byte) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			n++
		}
	}
	return n
}

func TestHeaderCaseInsensitive(t *testing.T) {
	var h Header
	h.Set("X-Amz-Meta-Color", "blue")
	assert.Equal(t, "blue", h.Get("x-amz-meta-color"))
	h.Set("x-amz-meta-color", "red")
	assert.Equal(t, 1, h.Len())
	assert.Equal(t, []string{"x-amz-meta-color"}, h.Names())
	h.Del("X-AMZ-META-COLOR")
	assert.Equal(t, 0, h.Len())
}
