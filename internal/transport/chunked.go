package transport

import (
	"bytes"
	"errors"
)

var (
	errChunkSize      = errors.New("invalid byte in chunk length")
	errChunkTooLarge  = errors.New("http chunk length too large")
	errChunkMalformed = errors.New("malformed chunked encoding")
	errChunkLine      = errors.New("chunk header line too long")
)

// maxChunkLine bounds a chunk size line or trailer line, extensions included.
const maxChunkLine = 4096

var crlf = []byte("\r\n")

type chunkState int

const (
	chunkSizeLine chunkState = iota
	chunkData
	chunkDataEnd
	chunkTrailer
	chunkDone
)

// chunkDecoder decodes a chunked body as it arrives. Chunk extensions are
// ignored and trailers are discarded.
type chunkDecoder struct {
	state     chunkState
	remaining uint64
	body      []byte
}

// write consumes as much of b as it can and returns how many bytes it used.
// An incomplete size or trailer line is left unconsumed; the caller passes
// it again with more bytes appended.
func (d *chunkDecoder) write(b []byte) (int, error) {
	n := 0
	for n < len(b) && d.state != chunkDone {
		switch d.state {
		case chunkSizeLine:
			eol := bytes.Index(b[n:], crlf)
			if eol < 0 {
				if len(b)-n > maxChunkLine {
					return n, errChunkLine
				}
				return n, nil
			}
			size, err := parseChunkSize(b[n : n+eol])
			if err != nil {
				return n, err
			}
			n += eol + 2
			if size == 0 {
				d.state = chunkTrailer
			} else {
				d.remaining = size
				d.state = chunkData
			}
		case chunkData:
			take := len(b) - n
			if uint64(take) > d.remaining {
				take = int(d.remaining)
			}
			d.body = append(d.body, b[n:n+take]...)
			n += take
			d.remaining -= uint64(take)
			if d.remaining == 0 {
				d.state = chunkDataEnd
			}
		case chunkDataEnd:
			if len(b)-n < 2 {
				return n, nil
			}
			if b[n] != '\r' || b[n+1] != '\n' {
				return n, errChunkMalformed
			}
			n += 2
			d.state = chunkSizeLine
		case chunkTrailer:
			eol := bytes.Index(b[n:], crlf)
			if eol < 0 {
				if len(b)-n > maxChunkLine {
					return n, errChunkLine
				}
				return n, nil
			}
			n += eol + 2
			if eol == 0 {
				d.state = chunkDone
			}
		}
	}
	return n, nil
}

func (d *chunkDecoder) done() bool {
	return d.state == chunkDone
}

// result returns the decoded body, never nil.
func (d *chunkDecoder) result() []byte {
	if d.body == nil {
		return []byte{}
	}
	return d.body
}

func parseChunkSize(line []byte) (uint64, error) {
	if i := bytes.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	line = bytes.TrimRight(line, " \t")
	if len(line) == 0 {
		return 0, errChunkSize
	}
	if len(line) >= 16 {
		return 0, errChunkTooLarge
	}
	var n uint64
	for _, b := range line {
		switch {
		case '0' <= b && b <= '9':
			b = b - '0'
		case 'a' <= b && b <= 'f':
			b = b - 'a' + 10
		case 'A' <= b && b <= 'F':
			b = b - 'A' + 10
		default:
			return 0, errChunkSize
		}
		n <<= 4
		n |= uint64(b)
	}
	return n, nil
}
