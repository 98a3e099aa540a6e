package modem_test

import (
	"sync"
	"time"

	gomock "go.uber.org/mock/gomock"
	"i4.energy/across/atengine/at"
	"i4.energy/across/atengine/modem"
)

// MockSequenceBuilder scripts a MockTransport. Command lines must be written
// in the order they were added; each reply becomes readable once its
// command line is complete.
type MockSequenceBuilder struct {
	transport *modem.MockTransport
	calls     []any

	mu      sync.Mutex
	pending []byte
}

func NewMockSequence(transport *modem.MockTransport) *MockSequenceBuilder {
	return &MockSequenceBuilder{
		transport: transport,
		calls:     []any{},
	}
}

// Command expects a command written as the given parts, in the pieces the
// AT engine sends them, and queues reply after the last one.
func (b *MockSequenceBuilder) Command(reply string, parts ...string) *MockSequenceBuilder {
	for i, part := range parts {
		call := b.transport.EXPECT().Write([]byte(part))
		if i == len(parts)-1 {
			call = call.DoAndReturn(func(p []byte) (int, error) {
				b.queue(reply)
				return len(p), nil
			})
		} else {
			call = call.Return(len(part), nil)
		}
		b.calls = append(b.calls, call)
	}
	return b
}

func (b *MockSequenceBuilder) Sync() *MockSequenceBuilder {
	return b.Command("\r\n+CMEE: 0\r\n\r\nOK\r\n", "AT+CMEE?", "\r")
}

func (b *MockSequenceBuilder) EchoOff() *MockSequenceBuilder {
	return b.Command("\r\nOK\r\n", "ATE0", "\r")
}

func (b *MockSequenceBuilder) NumericErrors() *MockSequenceBuilder {
	return b.Command("\r\nOK\r\n", "AT+CMEE=1", "\r")
}

func (b *MockSequenceBuilder) SimPinRequired() *MockSequenceBuilder {
	return b.Command("\r\n+CPIN: SIM PIN\r\n\r\nOK\r\n", "AT+CPIN?", "\r")
}

func (b *MockSequenceBuilder) SimReady() *MockSequenceBuilder {
	return b.Command("\r\n+CPIN: READY\r\n\r\nOK\r\n", "AT+CPIN?", "\r")
}

func (b *MockSequenceBuilder) EnterPIN(pin string) *MockSequenceBuilder {
	return b.Command("\r\nOK\r\n", "AT+CPIN=", `"`+pin+`"`, "\r")
}

func (b *MockSequenceBuilder) SMSTextMode() *MockSequenceBuilder {
	return b.Command("\r\nOK\r\n", "AT+CMGF=1", "\r")
}

func (b *MockSequenceBuilder) MessageIndications() *MockSequenceBuilder {
	return b.Command("\r\nOK\r\n", "AT+CNMI=2,1,0,1,0", "\r")
}

// Build returns the ordered write expectations and lets the transport
// serve the queued replies through Poll and Read.
func (b *MockSequenceBuilder) Build() []any {
	b.transport.EXPECT().Poll(gomock.Any(), gomock.Any()).DoAndReturn(b.poll).AnyTimes()
	b.transport.EXPECT().Read(gomock.Any()).DoAndReturn(b.read).AnyTimes()
	return b.calls
}

func (b *MockSequenceBuilder) queue(reply string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, reply...)
}

func (b *MockSequenceBuilder) poll(events at.Event, _ time.Duration) (at.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ready := events & at.EventWritable
	if events&at.EventReadable != 0 && len(b.pending) > 0 {
		ready |= at.EventReadable
	}
	return ready, nil
}

func (b *MockSequenceBuilder) read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := copy(p, b.pending)
	b.pending = b.pending[n:]
	return n, nil
}

// initMockCalls scripts the initialization sequence for a ready SIM.
func initMockCalls(transport *modem.MockTransport) []any {
	return NewMockSequence(transport).
		Sync().
		EchoOff().
		NumericErrors().
		SimReady().
		SMSTextMode().
		MessageIndications().
		Build()
}
