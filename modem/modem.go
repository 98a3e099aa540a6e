package modem

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"i4.energy/across/atengine/at"
)

const (
	cmdEchoOff       = "ATE0"
	cmdNumericErrors = "AT+CMEE=1"
	cmdSimStatus     = "AT+CPIN?"
	cmdTextMode      = "AT+CMGF=1"
	// route +CMTI and +CDSI indications to the terminal
	cmdMessageIndications = "AT+CNMI=2,1,0,1,0"

	simReady = "READY"
	simPin   = "SIM PIN"
)

// Modem represents a GSM/3G/4G cellular modem that communicates via AT commands.
//
// Every operation runs as one transaction on a shared at.Handler. The handler
// lock serializes operations issued from different goroutines with the URC
// polling done by Loop, so a Modem is safe for concurrent use.
type Modem struct {
	// transport provides the physical connection to the modem (serial, TCP, etc.)
	transport Transport
	// handler is the AT engine bound to transport
	handler *at.Handler
	// config contains the modem configuration settings
	config Config
	log    *zap.Logger

	closed      atomic.Bool
	loopRunning atomic.Bool
	// done is closed by Close to stop Loop
	done chan struct{}

	// urcChan receives Unsolicited Result Codes from the modem
	urcChan chan string

	// charset is the character set last selected with AT+CSCS. Guarded by
	// the handler lock.
	charset string

	// sendMu serializes SendSMS so MinSendInterval can be honoured
	sendMu   sync.Mutex
	lastSend time.Time
}

// PollConfig defines configuration for polling operations like waiting for SIM readiness.
type PollConfig struct {
	// Interval is the time between polling attempts
	Interval time.Duration
	// Timeout is the maximum time to wait for the condition
	Timeout time.Duration
	// MaxRetries is the maximum number of polling attempts
	MaxRetries int
}

// New creates a new Modem instance with the given configuration.
// It establishes the transport connection, creates the AT engine on top of
// it and runs the initialization sequence: synchronization, echo off,
// numeric error codes, SIM unlock and SMS text mode.
//
// Returns an error if the transport connection or modem initialization
// fails.
func New(ctx context.Context, config Config) (*Modem, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.setDefaults()

	transport, err := config.Dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial modem: %w", err)
	}
	if transport == nil {
		return nil, ErrNotInitialized
	}

	m := &Modem{
		transport: transport,
		config:    config,
		log:       config.Logger.With(zap.String("component", "modem")),
		done:      make(chan struct{}),
		urcChan:   make(chan string, config.URCBuffer),
	}
	m.handler = at.New(transport, at.Config{
		BufferSize: config.BufferSize,
		Timeout:    config.ATTimeout,
		Debug:      config.Debug,
		Logger:     config.Logger.With(zap.String("component", "at")),
	})
	m.registerURCs()

	initCtx, cancel := context.WithTimeout(ctx, config.InitTimeout)
	defer cancel()

	if err := m.init(initCtx); err != nil {
		transport.Close()
		return nil, fmt.Errorf("initialize modem: %w", err)
	}

	m.log.Info("modem initialized")
	return m, nil
}

// Loop polls the modem for Unsolicited Result Codes while no command is
// running and forwards them to the URC channel. It must not be started
// more than once at a time.
//
// The Loop runs until the provided context is cancelled, the Modem is
// closed, or the transport fails.
//
// Usage:
//
//	modem, err := New(ctx, config)
//	if err != nil { return err }
//
//	go modem.Loop(ctx)
//
//	for urc := range modem.URC() { ... }
func (m *Modem) Loop(ctx context.Context) error {
	if m.handler == nil {
		return ErrNotInitialized
	}
	if !m.loopRunning.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer m.loopRunning.Store(false)

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.done:
			return ErrAlreadyClosed
		case <-ticker.C:
			if err := m.pollURCs(); err != nil {
				if m.closed.Load() {
					return ErrAlreadyClosed
				}
				return err
			}
		}
	}
}

// pollURCs runs one ProcessOOB round. A dead transport ends the loop; an
// error left behind by a failed command is cleared.
func (m *Modem) pollURCs() error {
	err := m.handler.ProcessOOB()
	if err == nil {
		return nil
	}
	var e *at.Error
	if errors.As(err, &e) && e.Cause != nil {
		return fmt.Errorf("read modem: %w", err)
	}

	h := m.handler
	h.Lock()
	defer h.Unlock()
	if h.LastError() != nil {
		m.log.Debug("clearing stale engine error", zap.Error(h.LastError()))
		h.ClearError()
		h.Flush()
	}
	return nil
}

// URC returns a read-only channel that receives Unsolicited Result Codes.
// These are asynchronous notifications from the modem (e.g., incoming SMS,
// network status changes, etc.). The channel is buffered, but may drop
// some URC if not consumed fast enough.
func (m *Modem) URC() <-chan string {
	return m.urcChan
}

func (m *Modem) registerURCs() {
	for _, prefix := range []string{at.UrcNewMsg, at.UrcMessageReport, at.UrcRegistration, at.UrcCall} {
		m.handler.SetURCHandler(prefix, m.forwardURC)
	}
}

func (m *Modem) forwardURC(p *at.Params) {
	line := p.Prefix()
	if raw := p.Raw(); raw != "" {
		line += " " + raw
	}
	select {
	case m.urcChan <- line:
	default:
		m.log.Warn("URC channel full, dropping", zap.String("urc", line))
	}
}

// Close shuts down the modem and releases all resources.
// It stops the event loop, closes the transport connection, and marks
// the modem as closed. After calling Close(), the modem cannot be reused.
func (m *Modem) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return ErrAlreadyClosed
	}
	close(m.done)

	if m.transport != nil {
		return m.transport.Close()
	}
	return nil
}

// init performs the initial setup sequence for the modem hardware.
// This method is called during New() and must complete successfully
// before the modem can be used.
func (m *Modem) init(ctx context.Context) error {
	// 1. Wake-up / sanity check, drops whatever the modem printed at boot
	err := m.do(ctx, m.config.ATTimeout, func(h *at.Handler) {
		h.Sync(boundTimeout(ctx, m.config.ATTimeout))
	})
	if err != nil {
		return fmt.Errorf("modem not responding: %w", err)
	}

	if err := m.expectOK(ctx, cmdEchoOff); err != nil {
		return fmt.Errorf("could not disable echo: %w", err)
	}

	if err := m.expectOK(ctx, cmdNumericErrors); err != nil {
		return fmt.Errorf("could not enable error codes: %w", err)
	}

	// 4. Check SIM status
	state, err := m.SIMState(ctx)
	if err != nil {
		return fmt.Errorf("query SIM status: %w", err)
	}

	switch state {
	case simReady:
		// OK

	case simPin:
		if m.config.SimPIN == "" {
			return ErrSIMPinRequired
		}
		if err := m.enterPIN(ctx, m.config.SimPIN); err != nil {
			return fmt.Errorf("enter SIM PIN: %w", err)
		}

		// Wait until SIM becomes ready
		if err := m.waitForSIMReady(ctx, PollConfig{}); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unsupported SIM state: %q", state)
	}

	// 5. Select SMS text mode
	if err := m.expectOK(ctx, cmdTextMode); err != nil {
		return fmt.Errorf("set SMS text mode: %w", err)
	}

	if err := m.expectOK(ctx, cmdMessageIndications); err != nil {
		m.log.Warn("new message indications not enabled", zap.Error(err))
	}
	return nil
}

// do runs fn as one transaction on the AT engine. It takes the handler
// lock, clears an error left behind by an earlier transaction, bounds the
// engine timeout by the deadline of ctx and returns the sticky error.
func (m *Modem) do(ctx context.Context, timeout time.Duration, fn func(h *at.Handler)) error {
	if m.closed.Load() {
		return ErrAlreadyClosed
	}
	if m.handler == nil {
		return ErrNotInitialized
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	h := m.handler
	h.Lock()
	if h.LastError() != nil {
		h.ClearError()
		h.Flush()
	}
	h.SetTimeout(boundTimeout(ctx, timeout), false)
	fn(h)
	return h.UnlockReturnError()
}

// boundTimeout shortens d to what is left before the deadline of ctx.
func boundTimeout(ctx context.Context, d time.Duration) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return d
	}
	return max(min(d, time.Until(deadline)), time.Millisecond)
}

// expectOK executes an AT command that answers with a bare final result.
func (m *Modem) expectOK(ctx context.Context, cmd string) error {
	return m.do(ctx, m.config.ATTimeout, func(h *at.Handler) {
		h.CmdStart(cmd)
		h.CmdStopReadResp()
	})
}

// Exec sends a raw command line and returns the lines of its response
// without the final result. URCs arriving meanwhile are dispatched as
// usual. A +CME or +CMS error is returned as an *at.Error carrying the
// device error code.
func (m *Modem) Exec(ctx context.Context, cmd string) ([]string, error) {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return nil, errors.New("exec: empty command")
	}

	var lines []string
	err := m.do(ctx, m.config.ATTimeout, func(h *at.Handler) {
		h.CmdStart(cmd)
		h.CmdStop()
		h.RespStart("")
		buf := make([]byte, at.DefaultBufferSize)
		for {
			n, err := h.ReadLine(buf)
			if err != nil || n < 0 {
				break
			}
			lines = append(lines, string(buf[:n]))
		}
		h.RespStop()
	})
	if err != nil {
		return lines, fmt.Errorf("exec %q: %w", cmd, err)
	}
	return lines, nil
}

// SIMState returns the SIM state reported by AT+CPIN?, e.g. READY or SIM PIN.
func (m *Modem) SIMState(ctx context.Context) (string, error) {
	var state string
	err := m.do(ctx, m.config.ATTimeout, func(h *at.Handler) {
		h.CmdStart(cmdSimStatus)
		h.CmdStop()
		h.RespStart("+CPIN:")
		buf := make([]byte, 32)
		if n, _ := h.ReadLine(buf); n > 0 {
			state = strings.TrimSpace(string(buf[:n]))
		}
		h.RespStop()
	})
	return state, err
}

func (m *Modem) enterPIN(ctx context.Context, pin string) error {
	return m.do(ctx, m.config.ATTimeout, func(h *at.Handler) {
		h.CmdStart("AT+CPIN=")
		h.WriteString(pin, true)
		h.CmdStopReadResp()
	})
}

// waitForSIMReady polls the SIM card status until it reports ready state.
// This is necessary after entering a SIM PIN, as the SIM card needs time
// to authenticate and become operational. Uses configurable polling interval
// and retry limits to avoid infinite waiting.
func (m *Modem) waitForSIMReady(ctx context.Context, config PollConfig) error {
	var (
		pollInterval = config.Interval
		timeout      = config.Timeout
		maxRetries   = config.MaxRetries
	)

	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxRetries <= 0 {
		maxRetries = int(timeout / pollInterval)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	retries := 0

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("SIM not ready: %w", ctx.Err())
		case <-ticker.C:
			retries++
			if retries > maxRetries {
				return fmt.Errorf("SIM not ready after %d retries", maxRetries)
			}
			state, err := m.SIMState(ctx)
			if err != nil {
				// Fail fast on critical errors
				if errors.Is(err, ErrAlreadyClosed) || errors.Is(err, ErrNotInitialized) {
					return fmt.Errorf("SIM status check failed: %w", err)
				}
				continue
			}
			if state == simReady {
				return nil
			}
		}
	}
}
