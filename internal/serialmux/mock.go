package serialmux

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"
)

// ErrPortClosed is returned by MockPort operations after Close.
var ErrPortClosed = errors.New("serial port closed")

// MockPort implements TimeoutSerialPorter over an in-memory buffer. Reads honour
// the read timeout the way go.bug.st/serial does: a negative timeout blocks
// until data arrives, zero polls, and a read that times out returns (0, nil).
// It backs dev mode and the package tests.
type MockPort struct {
	mu   sync.Mutex
	cond *sync.Cond

	input   bytes.Buffer
	written bytes.Buffer
	eof     bool
	closed  bool

	// ReadError is returned by the next Read call if set.
	ReadError error
	// CloseError is returned by Close if set.
	CloseError error

	readTimeout time.Duration
	readCalls   int
}

// NewMockPort returns a port whose reads block until data is fed.
func NewMockPort() *MockPort {
	m := &MockPort{readTimeout: -1}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Feed appends device output for subsequent reads.
func (m *MockPort) Feed(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.input.Write(data)
	m.cond.Broadcast()
}

// EndInput marks the device output finished. Reads drain what is buffered,
// then return io.EOF.
func (m *MockPort) EndInput() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eof = true
	m.cond.Broadcast()
}

// Read implements io.Reader.
func (m *MockPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.readCalls++
	if m.closed {
		return 0, ErrPortClosed
	}
	if m.ReadError != nil {
		err := m.ReadError
		m.ReadError = nil
		return 0, err
	}

	if m.input.Len() == 0 && !m.eof && m.readTimeout != 0 {
		var timedOut bool
		if m.readTimeout > 0 {
			t := time.AfterFunc(m.readTimeout, func() {
				m.mu.Lock()
				timedOut = true
				m.cond.Broadcast()
				m.mu.Unlock()
			})
			defer t.Stop()
		}
		for m.input.Len() == 0 && !m.eof && !m.closed && !timedOut {
			m.cond.Wait()
		}
		if m.closed {
			return 0, ErrPortClosed
		}
	}

	if m.input.Len() == 0 {
		if m.eof {
			return 0, io.EOF
		}
		return 0, nil
	}
	return m.input.Read(p)
}

// Write records data sent to the device.
func (m *MockPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrPortClosed
	}
	return m.written.Write(p)
}

// Close marks the port closed and wakes blocked readers.
func (m *MockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cond.Broadcast()
	return m.CloseError
}

// SetReadTimeout implements TimeoutSerialPorter.
func (m *MockPort) SetReadTimeout(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrPortClosed
	}
	m.readTimeout = timeout
	return nil
}

// ReadTimeout returns the timeout most recently set.
func (m *MockPort) ReadTimeout() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readTimeout
}

// ReadCalls returns the number of Read calls made.
func (m *MockPort) ReadCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readCalls
}

// Closed reports whether Close was called.
func (m *MockPort) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Written returns a copy of everything written to the port.
func (m *MockPort) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return bytes.Clone(m.written.Bytes())
}

// MockOpener records Open calls and hands out a fixed port.
type MockOpener struct {
	mu sync.Mutex

	// Port is returned by Open.
	Port SerialPorter
	// Error is returned by Open if set.
	Error error

	calls []MockOpenCall
}

// MockOpenCall records details of an Open call.
type MockOpenCall struct {
	Path string
	Opts PortOptions
}

// Open satisfies Opener.
func (o *MockOpener) Open(path string, opts PortOptions) (SerialPorter, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, MockOpenCall{Path: path, Opts: opts})
	if o.Error != nil {
		return nil, o.Error
	}
	return o.Port, nil
}

// LastCall returns the most recent Open call, or nil if none.
func (o *MockOpener) LastCall() *MockOpenCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.calls) == 0 {
		return nil
	}
	c := o.calls[len(o.calls)-1]
	return &c
}
