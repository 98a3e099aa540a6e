package modem

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"

	"go.bug.st/serial"
	"i4.energy/across/atengine/at"
)

//go:generate go tool mockgen -source=transport.go -destination=mock_modem.go -package=modem

// DefaultBaudRate is used by SerialDialer when neither Mode nor BaudRate is
// set.
const DefaultBaudRate = 115200

// Transport represents an established byte channel to a GSM modem.
//
// A Transport is assumed to be already connected and ready for use. It
// provides the polled, non-blocking primitives the AT engine works on.
// Typical implementations include serial ports, TCP connections to
// emulators, or in-memory fakes used for testing.
type Transport interface {
	at.Source
	io.Closer
}

// Dialer opens a Transport to a GSM modem.
//
// Dialer abstracts how the modem connection is created (for example, via a
// serial port, TCP-based emulator, or test double) and is intended to be used
// during modem construction only. Once a Transport is obtained, the Dialer is
// no longer needed.
type Dialer interface {
	// Dial is responsible for creating and returning a connected Transport. It may
	// perform blocking operations and should respect cancellation and deadlines
	// provided by the context. Dial returns an error if the transport cannot be
	// established.
	Dial(ctx context.Context) (Transport, error)
}

// SerialDialer opens a GSM modem over a serial port using go.bug.st/serial.
type SerialDialer struct {
	// PortName is the device path, e.g. /dev/ttyUSB0 or COM3.
	PortName string
	// BaudRate is used when Mode is nil.
	BaudRate int
	// Mode overrides the complete line settings.
	Mode *serial.Mode
	// Trace logs all traffic on the port through the standard logger.
	Trace bool
}

func (d SerialDialer) Dial(ctx context.Context) (Transport, error) {
	if ctx == nil {
		return nil, errors.New("gsm: context is nil")
	}
	if d.PortName == "" {
		return nil, errors.New("gsm: serial port name is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode := d.Mode
	if mode == nil {
		mode = &serial.Mode{BaudRate: cmp.Or(d.BaudRate, DefaultBaudRate)}
	}
	port, err := serial.Open(d.PortName, mode)
	if err != nil {
		return nil, fmt.Errorf("gsm: open %s: %w", d.PortName, err)
	}

	var opts []at.SerialOption
	if d.Trace {
		opts = append(opts, at.WithTrace(log.Default()))
	}
	return at.NewSerialSource(port, opts...), nil
}

// StreamDialer connects to a modem emulator or a serial-over-IP bridge.
type StreamDialer struct {
	Network string
	Address string
}

func (d StreamDialer) Dial(ctx context.Context) (Transport, error) {
	if ctx == nil {
		return nil, errors.New("gsm: context is nil")
	}
	if d.Address == "" {
		return nil, errors.New("gsm: stream address is required")
	}

	var nd net.Dialer
	conn, err := nd.DialContext(ctx, cmp.Or(d.Network, "tcp"), d.Address)
	if err != nil {
		return nil, fmt.Errorf("gsm: dial %s: %w", d.Address, err)
	}
	return at.NewStreamSource(conn), nil
}
