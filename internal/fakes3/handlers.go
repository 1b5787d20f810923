package fakes3

import (
	"bytes"
	"crypto/md5"
	"encoding/base64"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	s3err "github.com/BobDickinson/corona-s3/internal/errors"
	"github.com/BobDickinson/corona-s3/internal/xmlutil"
)

const defaultContentType = "application/octet-stream"

// objectKey returns the decoded object key of the request.
func objectKey(r *http.Request) string {
	return strings.TrimPrefix(r.URL.Path, "/")
}

// listObjects handles GET / (ListObjects v1).
func (s *Server) listObjects(w http.ResponseWriter, r *http.Request) {
	name, st := bucketFrom(r.Context())
	q := r.URL.Query()

	params := listParams{
		Prefix:    q.Get("prefix"),
		Delimiter: q.Get("delimiter"),
		Marker:    q.Get("marker"),
		MaxKeys:   defaultMaxKeys,
	}
	if v := q.Get("max-keys"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidArgument)
			return
		}
		if n < defaultMaxKeys {
			params.MaxKeys = n
		}
	}

	res := st.list(params)
	doc := &xmlutil.ListBucketResult{
		Name:        name,
		Prefix:      params.Prefix,
		Marker:      params.Marker,
		MaxKeys:     params.MaxKeys,
		Delimiter:   params.Delimiter,
		IsTruncated: res.IsTruncated,
		NextMarker:  res.NextMarker,
	}
	owner := s.owner
	for _, obj := range res.Objects {
		doc.Contents = append(doc.Contents, xmlutil.Object{
			Key:          obj.Key,
			LastModified: xmlutil.FormatTimeS3(obj.LastModified),
			ETag:         obj.ETag,
			Size:         int64(len(obj.Data)),
			StorageClass: "STANDARD",
			Owner:        &owner,
		})
	}
	for _, p := range res.CommonPrefixes {
		doc.CommonPrefixes = append(doc.CommonPrefixes, xmlutil.CommonPrefix{Prefix: p})
	}
	xmlutil.RenderListObjects(w, doc)
}

// headBucket handles HEAD /.
func (s *Server) headBucket(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) getObject(w http.ResponseWriter, r *http.Request) {
	s.serveObject(w, r, true)
}

func (s *Server) headObject(w http.ResponseWriter, r *http.Request) {
	s.serveObject(w, r, false)
}

// serveObject writes the object's headers and, for GET, its data.
func (s *Server) serveObject(w http.ResponseWriter, r *http.Request, withBody bool) {
	_, st := bucketFrom(r.Context())
	key := objectKey(r)
	obj, ok := st.get(key)
	if !ok {
		xmlutil.RenderError(w, r, s3err.ErrNoSuchKey, key)
		return
	}

	if status, skip := checkConditionalHeaders(r, obj.ETag, obj.LastModified); skip {
		if status == http.StatusNotModified {
			w.Header().Set("ETag", obj.ETag)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		xmlutil.RenderError(w, r, s3err.ErrPreconditionFailed, key)
		return
	}

	h := w.Header()
	h.Set("Content-Type", obj.ContentType)
	h.Set("Content-Length", strconv.Itoa(len(obj.Data)))
	h.Set("ETag", obj.ETag)
	h.Set("Last-Modified", xmlutil.FormatTimeHTTP(obj.LastModified))
	h.Set("Accept-Ranges", "bytes")
	// User metadata goes out lowercase, as S3 sends it. Assigning the map
	// entry keeps Set from canonicalizing the name.
	for k, v := range obj.Meta {
		h[userMetaPrefix+k] = []string{v}
	}
	w.WriteHeader(http.StatusOK)
	if withBody {
		w.Write(obj.Data)
	}
}

// putObject stores the request body. Content-MD5, when sent, must match.
func (s *Server) putObject(w http.ResponseWriter, r *http.Request) {
	_, st := bucketFrom(r.Context())
	key := objectKey(r)

	if r.ContentLength < 0 {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrMissingContentLength)
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	if md5Header := r.Header.Get("Content-MD5"); md5Header != "" {
		want, err := base64.StdEncoding.DecodeString(md5Header)
		if err != nil || len(want) != md5.Size {
			xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidDigest)
			return
		}
		got := md5.Sum(data)
		if !bytes.Equal(got[:], want) {
			xmlutil.WriteErrorResponse(w, r, s3err.ErrBadDigest)
			return
		}
	}

	if existing, ok := st.get(key); ok {
		if status, skip := checkConditionalHeaders(r, existing.ETag, existing.LastModified); skip && status == http.StatusPreconditionFailed {
			xmlutil.RenderError(w, r, s3err.ErrPreconditionFailed, key)
			return
		}
	} else if r.Header.Get("If-Match") != "" {
		xmlutil.RenderError(w, r, s3err.ErrNoSuchKey, key)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultContentType
	}
	obj := Object{
		Key:          key,
		Data:         data,
		ETag:         computeETag(data),
		LastModified: s.clock().UTC(),
		ContentType:  contentType,
		Meta:         extractMeta(r.Header),
	}
	st.put(obj)

	w.Header().Set("ETag", obj.ETag)
	w.WriteHeader(http.StatusOK)
}

// deleteObject removes the key. Deleting a missing key still succeeds.
func (s *Server) deleteObject(w http.ResponseWriter, r *http.Request) {
	_, st := bucketFrom(r.Context())
	st.delete(objectKey(r))
	w.WriteHeader(http.StatusNoContent)
}

const userMetaPrefix = "x-amz-meta-"

// extractMeta collects x-amz-meta-* headers keyed by the lowercased suffix.
func extractMeta(h http.Header) map[string]string {
	var meta map[string]string
	for name, values := range h {
		suffix, ok := strings.CutPrefix(strings.ToLower(name), userMetaPrefix)
		if !ok || len(values) == 0 {
			continue
		}
		if meta == nil {
			meta = make(map[string]string)
		}
		meta[suffix] = strings.Join(values, ",")
	}
	return meta
}

// checkConditionalHeaders evaluates If-Match, If-Unmodified-Since,
// If-None-Match and If-Modified-Since in that order. When skip is true the
// caller answers with statusCode instead of the normal response.
func checkConditionalHeaders(r *http.Request, etag string, lastModified time.Time) (statusCode int, skip bool) {
	objectETag := strings.Trim(etag, `"`)
	readOnly := r.Method == http.MethodGet || r.Method == http.MethodHead

	ifMatch := r.Header.Get("If-Match")
	if ifMatch != "" && !etagListMatches(ifMatch, objectETag) {
		return http.StatusPreconditionFailed, true
	}

	if ifMatch == "" {
		if t, err := http.ParseTime(r.Header.Get("If-Unmodified-Since")); err == nil {
			if lastModified.Truncate(time.Second).After(t.Truncate(time.Second)) {
				return http.StatusPreconditionFailed, true
			}
		}
	}

	ifNoneMatch := r.Header.Get("If-None-Match")
	if ifNoneMatch != "" && etagListMatches(ifNoneMatch, objectETag) {
		if readOnly {
			return http.StatusNotModified, true
		}
		return http.StatusPreconditionFailed, true
	}

	if ifNoneMatch == "" && readOnly {
		if t, err := http.ParseTime(r.Header.Get("If-Modified-Since")); err == nil {
			if !lastModified.Truncate(time.Second).After(t.Truncate(time.Second)) {
				return http.StatusNotModified, true
			}
		}
	}

	return 0, false
}

// etagListMatches reports whether a comma-separated If-Match style list
// contains etag or "*".
func etagListMatches(list, etag string) bool {
	if strings.TrimSpace(list) == "*" {
		return true
	}
	for _, tag := range strings.Split(list, ",") {
		if strings.Trim(strings.TrimSpace(tag), `"`) == etag {
			return true
		}
	}
	return false
}
