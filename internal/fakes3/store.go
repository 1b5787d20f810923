package fakes3

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"
)

// defaultMaxKeys is the listing page size when max-keys is not given.
const defaultMaxKeys = 1000

// Object is one stored object.
type Object struct {
	Key          string
	Data         []byte
	ETag         string
	LastModified time.Time
	ContentType  string
	// Meta holds x-amz-meta-* values keyed by the lowercased suffix.
	Meta map[string]string
}

// listParams are the ListObjects (v1) query parameters.
type listParams struct {
	Prefix    string
	Delimiter string
	Marker    string
	MaxKeys   int
}

type listResult struct {
	Objects        []Object
	CommonPrefixes []string
	IsTruncated    bool
	NextMarker     string
}

// store is a flat in-memory key space for one bucket.
type store struct {
	mu      sync.RWMutex
	objects map[string]Object
}

func newStore() *store {
	return &store{objects: make(map[string]Object)}
}

func (s *store) put(obj Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[obj.Key] = obj
}

func (s *store) get(key string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	return obj, ok
}

// delete removes key and reports whether it existed.
func (s *store) delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	delete(s.objects, key)
	return ok
}

func (s *store) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// list returns keys after Marker that start with Prefix, in lexicographic
// order. With a Delimiter, keys sharing the part of the key up to the first
// delimiter after the prefix are rolled up into one common prefix, which
// counts once against MaxKeys.
func (s *store) list(p listParams) listResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		if strings.HasPrefix(k, p.Prefix) && k > p.Marker {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var res listResult
	var last string
	count := 0
	for _, k := range keys {
		prefix := ""
		if p.Delimiter != "" {
			rest := k[len(p.Prefix):]
			if idx := strings.Index(rest, p.Delimiter); idx >= 0 {
				prefix = p.Prefix + rest[:idx+len(p.Delimiter)]
			}
		}
		if prefix != "" && (prefix == last || prefix <= p.Marker) {
			continue
		}

		if count == p.MaxKeys {
			res.IsTruncated = true
			res.NextMarker = last
			break
		}
		count++

		if prefix != "" {
			res.CommonPrefixes = append(res.CommonPrefixes, prefix)
			last = prefix
			continue
		}
		res.Objects = append(res.Objects, s.objects[k])
		last = k
	}
	return res
}

// computeETag returns the quoted hex MD5 of data, the ETag of a
// single-part upload.
func computeETag(data []byte) string {
	sum := md5.Sum(data)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}
