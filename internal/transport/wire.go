package transport

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/BobDickinson/corona-s3/internal/request"
)

// encodeRequest renders req as HTTP/1.1 bytes, e.g.:
//
//	PUT /photos/cat.jpg HTTP/1.1\r\n
//	Host: bucket.s3.amazonaws.com\r\n
//	Date: Thu, 17 Nov 2005 18:49:58 GMT\r\n
//	Connection: close\r\n
//	\r\n
//	<body>
//
// Header names go out with the case they were set with. Through an HTTP
// proxy the target is in absolute form and extra carries proxy headers.
func encodeRequest(req *request.Request, absolute bool, extra []string) []byte {
	var b bytes.Buffer
	target := req.Target()
	if absolute {
		target = req.URL()
	}
	b.WriteString(req.Method())
	b.WriteByte(' ')
	b.WriteString(target)
	b.WriteString(" HTTP/1.1\r\n")

	b.WriteString("Host: ")
	b.WriteString(req.Host())
	b.WriteString("\r\n")

	h := req.Header()
	for _, name := range h.Names() {
		if strings.EqualFold(name, "Host") || strings.EqualFold(name, "Connection") {
			continue
		}
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(h.Get(name))
		b.WriteString("\r\n")
	}
	for _, line := range extra {
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	b.WriteString("Connection: close\r\n\r\n")
	b.Write(req.Body())
	return b.Bytes()
}

type framing int

const (
	frameNone framing = iota
	frameLength
	frameChunked
	frameClose
)

var errHeadersIncomplete = errors.New("connection closed before response headers were complete")

// responseReader accumulates raw response bytes and reports when a full
// response is present. The head is parsed once; the body is framed by
// Content-Length, chunked encoding, or connection close. Each feed only
// looks at bytes not examined before.
type responseReader struct {
	method string
	buf    []byte
	// scanned is how far buf has been searched for the end of the head.
	scanned int

	resp      *Response
	bodyStart int
	frame     framing
	length    int64
	chunks    chunkDecoder
}

func newResponseReader(method string) *responseReader {
	return &responseReader{method: method}
}

// feed appends p and returns the response once it is complete.
func (r *responseReader) feed(p []byte) (*Response, error) {
	r.buf = append(r.buf, p...)
	return r.check(false)
}

// eof is called when the peer closed the connection.
func (r *responseReader) eof() (*Response, error) {
	resp, err := r.check(true)
	if err != nil || resp != nil {
		return resp, err
	}
	if r.resp == nil {
		return nil, errHeadersIncomplete
	}
	if r.frame == frameChunked {
		return nil, fmt.Errorf("unexpected EOF after %d bytes of chunked response body", len(r.chunks.body))
	}
	return nil, fmt.Errorf("unexpected EOF reading %d bytes of response body", len(r.buf)-r.bodyStart)
}

func (r *responseReader) check(atEOF bool) (*Response, error) {
	for r.resp == nil {
		from := max(r.scanned-3, 0)
		i := bytes.Index(r.buf[from:], []byte("\r\n\r\n"))
		if i < 0 {
			r.scanned = len(r.buf)
			return nil, nil
		}
		end := from + i
		resp, err := parseHead(r.buf[:end+4])
		if err != nil {
			return nil, err
		}
		// Interim 1xx responses precede the real one on the same connection.
		if resp.StatusCode >= 100 && resp.StatusCode < 200 && resp.StatusCode != http.StatusSwitchingProtocols {
			r.buf = r.buf[end+4:]
			r.scanned = 0
			continue
		}
		if err := r.setFraming(resp); err != nil {
			return nil, err
		}
		r.resp = resp
		r.bodyStart = end + 4
	}

	body := r.buf[r.bodyStart:]
	switch r.frame {
	case frameNone:
		r.resp.Body = []byte{}
		return r.resp, nil
	case frameLength:
		if int64(len(body)) < r.length {
			return nil, nil
		}
		r.resp.Body = append([]byte{}, body[:r.length]...)
		return r.resp, nil
	case frameChunked:
		n, err := r.chunks.write(body)
		// Decoded bytes live in the decoder; only a partial line or CRLF stays.
		r.buf = r.buf[r.bodyStart+n:]
		r.bodyStart = 0
		if err != nil || !r.chunks.done() {
			return nil, err
		}
		r.resp.Body = r.chunks.result()
		return r.resp, nil
	default:
		if !atEOF {
			return nil, nil
		}
		r.resp.Body = append([]byte{}, body...)
		return r.resp, nil
	}
}

func (r *responseReader) setFraming(resp *Response) error {
	code := resp.StatusCode
	if r.method == http.MethodHead || code == http.StatusNoContent || code == http.StatusNotModified || code < 200 {
		r.frame = frameNone
		return nil
	}

	if te := resp.Header.Get("Transfer-Encoding"); te != "" {
		if !strings.EqualFold(strings.TrimSpace(te), "chunked") {
			return fmt.Errorf("unsupported transfer encoding %q", te)
		}
		r.frame = frameChunked
		return nil
	}

	contentLens := resp.Header["Content-Length"]
	if len(contentLens) > 1 {
		first := textproto.TrimString(contentLens[0])
		for _, cl := range contentLens[1:] {
			if first != textproto.TrimString(cl) {
				return fmt.Errorf("message cannot contain multiple Content-Length headers; got %q", contentLens)
			}
		}
	}
	if len(contentLens) > 0 {
		n, err := strconv.ParseUint(textproto.TrimString(contentLens[0]), 10, 63)
		if err != nil {
			return fmt.Errorf("bad Content-Length %q", contentLens[0])
		}
		r.frame = frameLength
		r.length = int64(n)
		return nil
	}

	r.frame = frameClose
	return nil
}

// parseHead parses a status line and MIME header block ending in CRLFCRLF.
func parseHead(head []byte) (*Response, error) {
	tp := textproto.NewReader(bufio.NewReader(bytes.NewReader(head)))

	line, err := tp.ReadLine()
	if err != nil {
		return nil, err
	}
	proto, status, ok := strings.Cut(line, " ")
	if !ok || !strings.HasPrefix(proto, "HTTP/") {
		return nil, fmt.Errorf("malformed HTTP response %q", line)
	}
	status = strings.TrimLeft(status, " ")

	statusCode, _, _ := strings.Cut(status, " ")
	if len(statusCode) != 3 {
		return nil, errors.New("malformed HTTP status code " + statusCode)
	}
	code, err := strconv.Atoi(statusCode)
	if err != nil || code < 0 {
		return nil, errors.New("malformed HTTP status code " + statusCode)
	}

	mimeHeader, err := tp.ReadMIMEHeader()
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: code,
		Status:     status,
		Proto:      proto,
		Header:     http.Header(mimeHeader),
	}, nil
}
