package serialmux

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/fusion.capture/internal/monitoring"
	"github.com/banshee-data/fusion.capture/internal/protocol"
)

var _ protocol.ByteSource = (*Source)(nil)

// Source adapts a serial port to protocol.ByteSource. Every read is bounded by
// a timeout when the port supports one; a read that times out yields no bytes
// and no error.
type Source struct {
	port    SerialPorter
	timeout time.Duration

	mu      sync.Mutex
	applied time.Duration
	closed  bool
}

// NewSource wraps port. timeout bounds each read made by ReadExact.
func NewSource(port SerialPorter, timeout time.Duration) *Source {
	return &Source{port: port, timeout: timeout, applied: -1}
}

// ReadUpTo returns between 0 and n bytes, waiting at most timeout.
func (s *Source) ReadUpTo(n int, timeout time.Duration) ([]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	if err := s.setTimeout(timeout); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	k, err := s.port.Read(buf)
	monitoring.ObserveSerialRead(k)
	return buf[:k], err
}

// ReadExact blocks until n bytes arrive. A read that times out with nothing
// received ends the attempt: the bytes obtained so far are returned with
// io.ErrUnexpectedEOF.
func (s *Source) ReadExact(n int) ([]byte, error) {
	if err := s.setTimeout(s.timeout); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	got := 0
	for got < n {
		k, err := s.port.Read(out[got:])
		monitoring.ObserveSerialRead(k)
		got += k
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out[:got], io.ErrUnexpectedEOF
			}
			return out[:got], err
		}
		if k == 0 {
			return out[:got], io.ErrUnexpectedEOF
		}
	}
	return out, nil
}

// Close closes the underlying port. Subsequent calls are no-ops.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.port.Close()
}

func (s *Source) setTimeout(d time.Duration) error {
	tp, ok := s.port.(TimeoutSerialPorter)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if d == s.applied {
		return nil
	}
	if err := tp.SetReadTimeout(d); err != nil {
		return err
	}
	s.applied = d
	return nil
}
