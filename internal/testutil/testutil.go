// Package testutil provides shared helpers for the debug handler and serial
// stream tests.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// NewLocalRequest creates a test HTTP request from the loopback address, which
// tsweb debug handlers require.
func NewLocalRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// SplitChunks cuts data into consecutive slices of at most size bytes, the
// way a serial port hands back a stream in arbitrary reads. A size of zero or
// less returns data as a single chunk.
func SplitChunks(data []byte, size int) [][]byte {
	if size <= 0 || size >= len(data) {
		return [][]byte{append([]byte(nil), data...)}
	}
	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for len(data) > 0 {
		n := min(size, len(data))
		chunks = append(chunks, append([]byte(nil), data[:n]...))
		data = data[n:]
	}
	return chunks
}

// Timeout is an empty chunk: a read that waited out its timeout and got
// nothing.
var Timeout = []byte{}
