package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"time"
)

const defaultReadChunk = 4096

// Tokenizer splits the byte source into newline-delimited lines. It owns the
// buffer of bytes read past the last delimiter; ReadExact drains that buffer
// before touching the source so no byte is dropped or seen twice.
type Tokenizer struct {
	src     ByteSource
	buf     []byte
	timeout time.Duration
	chunk   int
	maxLine int
	// err arrived with data that still held complete lines; it is returned
	// once those lines are consumed
	err error
}

// NewTokenizer returns a Tokenizer that waits at most timeout per source read.
// maxLine bounds the buffered partial line; zero selects DefaultMaxLineLength.
func NewTokenizer(src ByteSource, timeout time.Duration, maxLine int) *Tokenizer {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineLength
	}
	return &Tokenizer{
		src:     src,
		timeout: timeout,
		chunk:   defaultReadChunk,
		maxLine: maxLine,
	}
}

// Next returns the next line with its delimiter and trailing carriage returns
// stripped. ok is false when a read timed out before a delimiter arrived; the
// partial line stays buffered for the next call. Source errors are returned
// verbatim, after any complete lines that arrived in the same read.
func (t *Tokenizer) Next() (line string, ok bool, err error) {
	for {
		i := bytes.IndexByte(t.buf, '\n')
		if i >= 0 && i < t.maxLine {
			return t.take(i, i+1), true, nil
		}
		if len(t.buf) >= t.maxLine {
			// overlong line: flush exactly maxLine bytes so the split point
			// does not depend on how the reads were chunked
			return t.take(t.maxLine, t.maxLine), true, nil
		}
		if err := t.takeErr(); err != nil {
			return "", false, err
		}

		data, err := t.src.ReadUpTo(t.chunk, t.timeout)
		if len(data) > 0 {
			t.buf = append(t.buf, data...)
		}
		if err != nil {
			if bytes.IndexByte(t.buf, '\n') >= 0 || len(t.buf) >= t.maxLine {
				t.err = err
				continue
			}
			return "", false, err
		}
		if len(data) == 0 {
			return "", false, nil
		}
	}
}

func (t *Tokenizer) takeErr() error {
	err := t.err
	t.err = nil
	return err
}

// take removes buf[:consume] and returns buf[:end] decoded as text.
func (t *Tokenizer) take(end, consume int) string {
	raw := bytes.TrimRight(t.buf[:end], "\r")
	line := strings.ToValidUTF8(string(raw), "�")
	t.buf = append(t.buf[:0], t.buf[consume:]...)
	return line
}

// Buffered reports how many bytes are held past the last emitted line.
func (t *Tokenizer) Buffered() int {
	return len(t.buf)
}

// ReadExact reads n raw bytes, bypassing line splitting. Buffered bytes are
// consumed first. A short read returns the bytes obtained and
// io.ErrUnexpectedEOF.
func (t *Tokenizer) ReadExact(n int) ([]byte, error) {
	out := make([]byte, 0, n)
	take := min(n, len(t.buf))
	out = append(out, t.buf[:take]...)
	t.buf = append(t.buf[:0], t.buf[take:]...)
	if len(out) == n {
		return out, nil
	}
	if err := t.takeErr(); err != nil {
		if errors.Is(err, io.EOF) {
			// the payload is short; end of input still ends the stream
			t.err = err
			return out, io.ErrUnexpectedEOF
		}
		return out, err
	}

	rest, err := t.src.ReadExact(n - len(out))
	out = append(out, rest...)
	if err != nil {
		return out, err
	}
	if len(out) < n {
		return out, io.ErrUnexpectedEOF
	}
	return out, nil
}
