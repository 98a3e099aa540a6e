package at

import (
	"io"
	"sync"
	"time"
)

// StreamSource adapts a blocking io.ReadWriter (a TCP connection to a modem
// emulator, a pipe) to the Source contract. A reader goroutine owned by the
// StreamSource pulls chunks from the stream; Poll waits for the next chunk.
type StreamSource struct {
	rw      io.ReadWriter
	chunks  chan []byte
	pending []byte

	// done is closed by Close and releases a reader blocked on a full
	// chunks channel
	done      chan struct{}
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// NewStreamSource starts reading from rw. The reader goroutine exits when rw
// returns an error or the StreamSource is closed.
func NewStreamSource(rw io.ReadWriter) *StreamSource {
	s := &StreamSource{
		rw:     rw,
		chunks: make(chan []byte, 16),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *StreamSource) readLoop() {
	defer close(s.chunks)
	buf := make([]byte, 256)
	for {
		n, err := s.rw.Read(buf)
		if n > 0 {
			select {
			case s.chunks <- append([]byte(nil), buf[:n]...):
			case <-s.done:
				return
			}
		}
		if err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			return
		}
	}
}

func (s *StreamSource) Poll(events Event, timeout time.Duration) (Event, error) {
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

	if timeout <= 0 {
		select {
		case chunk, ok := <-s.chunks:
			return s.take(ready, chunk, ok)
		default:
			return ready, nil
		}
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case chunk, ok := <-s.chunks:
		return s.take(ready, chunk, ok)
	case <-t.C:
		return ready, nil
	}
}

func (s *StreamSource) take(ready Event, chunk []byte, ok bool) (Event, error) {
	if !ok {
		return ready, s.readErr()
	}
	s.pending = chunk
	return ready | EventReadable, nil
}

func (s *StreamSource) readErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		return io.EOF
	}
	return s.err
}

func (s *StreamSource) Read(p []byte) (int, error) {
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *StreamSource) Write(p []byte) (int, error) {
	return s.rw.Write(p)
}

// Close stops the reader goroutine and closes the stream when it implements
// io.Closer.
func (s *StreamSource) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	if c, ok := s.rw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
