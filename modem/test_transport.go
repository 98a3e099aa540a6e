package modem

import (
	"io"
	"strings"
	"sync"
	"time"

	"i4.energy/across/atengine/at"
)

// TestTransport is a scripted Transport for tests. Every command line
// written to it is looked up in its script and the matching reply is queued
// for reading, the way a real modem answers. Unsolicited data can be
// injected at any time with SendData.
//
// Poll blocks for up to its timeout until data is queued, like a real serial
// port would.
type TestTransport struct {
	mu       sync.Mutex
	script   map[string]string
	pending  []byte
	line     []byte
	commands []string
	closed   bool
	signal   chan struct{}
}

// NewTestTransport creates a new test transport for testing.
// Exported for use in tests.
func NewTestTransport() *TestTransport {
	return &TestTransport{
		script: make(map[string]string),
		signal: make(chan struct{}, 1),
	}
}

// Expect makes the transport answer cmd with reply. The command is given
// without its terminator; a message body is given without the trailing
// Ctrl-Z.
func (t *TestTransport) Expect(cmd, reply string) *TestTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.script[cmd] = reply
	return t
}

// ExpectInit scripts the initialization sequence of New for a modem with a
// ready SIM.
func (t *TestTransport) ExpectInit() *TestTransport {
	return t.
		Expect("AT+CMEE?", "\r\n+CMEE: 0\r\n\r\nOK\r\n").
		Expect(cmdEchoOff, "\r\nOK\r\n").
		Expect(cmdNumericErrors, "\r\nOK\r\n").
		Expect(cmdSimStatus, "\r\n+CPIN: READY\r\n\r\nOK\r\n").
		Expect(cmdTextMode, "\r\nOK\r\n").
		Expect(cmdMessageIndications, "\r\nOK\r\n")
}

// Commands returns the command lines written so far.
func (t *TestTransport) Commands() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.commands...)
}

// SendData queues data to be read by the transport.
// This simulates receiving data from the modem.
func (t *TestTransport) SendData(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.pending = append(t.pending, data...)
		t.notify()
	}
}

func (t *TestTransport) notify() {
	select {
	case t.signal <- struct{}{}:
	default:
	}
}

func (t *TestTransport) Poll(events at.Event, timeout time.Duration) (at.Event, error) {
	var ready at.Event
	if events&at.EventWritable != 0 {
		ready |= at.EventWritable
	}
	if events&at.EventReadable == 0 {
		return ready, nil
	}

	deadline := time.Now().Add(timeout)
	for {
		t.mu.Lock()
		n, closed := len(t.pending), t.closed
		t.mu.Unlock()
		switch {
		case n > 0:
			return ready | at.EventReadable, nil
		case closed:
			return ready, io.EOF
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			return ready, nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-t.signal:
		case <-timer.C:
		}
		timer.Stop()
	}
}

func (t *TestTransport) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}

func (t *TestTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, io.ErrClosedPipe
	}
	for _, c := range p {
		if c != '\r' && c != at.CtrlZ[0] {
			t.line = append(t.line, c)
			continue
		}
		cmd := strings.TrimSpace(string(t.line))
		t.line = t.line[:0]
		t.commands = append(t.commands, cmd)
		if reply, ok := t.script[cmd]; ok {
			t.pending = append(t.pending, reply...)
			t.notify()
		}
	}
	return len(p), nil
}

func (t *TestTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.notify()
	return nil
}
