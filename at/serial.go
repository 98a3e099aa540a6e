package at

import (
	"io"
	"log"
	"time"

	"github.com/warthog618/modem/trace"
	"go.bug.st/serial"
)

// SerialSource adapts a go.bug.st/serial port to the Source contract.
//
// Serial ports have no poll primitive, so readability is probed by a read
// bounded with SetReadTimeout; whatever arrives is kept until the next Read.
// A serial port always accepts writes.
type SerialSource struct {
	port    serial.Port
	rw      io.ReadWriter
	chunk   []byte
	pending []byte
}

// SerialOption configures a SerialSource.
type SerialOption func(*SerialSource)

// WithTrace logs every read and write on the port to l.
func WithTrace(l *log.Logger) SerialOption {
	return func(s *SerialSource) {
		s.rw = trace.New(s.port, trace.WithLogger(l))
	}
}

// NewSerialSource wraps an open serial port.
func NewSerialSource(port serial.Port, opts ...SerialOption) *SerialSource {
	s := &SerialSource{
		port:  port,
		rw:    port,
		chunk: make([]byte, 256),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SerialSource) Poll(events Event, timeout time.Duration) (Event, error) {
	var ready Event
	if events&EventWritable != 0 {
		ready |= EventWritable
	}
	if events&EventReadable == 0 {
		return ready, nil
	}
	if len(s.pending) > 0 {
		return ready | EventReadable, nil
	}

	if timeout < 0 {
		timeout = 0
	}
	if err := s.port.SetReadTimeout(timeout); err != nil {
		return ready, err
	}
	n, err := s.rw.Read(s.chunk)
	if n > 0 {
		s.pending = append(s.pending, s.chunk[:n]...)
		ready |= EventReadable
	}
	return ready, err
}

func (s *SerialSource) Read(p []byte) (int, error) {
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *SerialSource) Write(p []byte) (int, error) {
	return s.rw.Write(p)
}

// Close closes the underlying port.
func (s *SerialSource) Close() error {
	return s.port.Close()
}
