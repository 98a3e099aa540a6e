package at

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config configures a Handler. Zero values are replaced by defaults.
type Config struct {
	// BufferSize is the receive buffer capacity. It also bounds the length of
	// stop tags and URC prefixes.
	BufferSize int
	// Timeout bounds every blocking wait on the source.
	Timeout time.Duration
	// OOBTimeout bounds waits inside ProcessOOB.
	OOBTimeout time.Duration
	// Delimiter separates parameters, both when writing and reading.
	Delimiter byte
	// OutputDelimiter terminates a command line in CmdStop.
	OutputDelimiter string
	// SendDelay is the minimum gap between the end of a response and the
	// next command.
	SendDelay time.Duration
	// Debug enables traffic logging at debug level.
	Debug bool
	// Lock is the mutex taken by Lock and Unlock. Handlers that share a
	// modem link across logical command issuers may share one Lock.
	Lock *sync.Mutex
	// Logger receives diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger
}

func (c *Config) setDefaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.OOBTimeout <= 0 {
		c.OOBTimeout = DefaultOOBTimeout
	}
	if c.Delimiter == 0 {
		c.Delimiter = DefaultDelimiter
	}
	if c.OutputDelimiter == "" {
		c.OutputDelimiter = DefaultOutputDelimiter
	}
	if c.Lock == nil {
		c.Lock = new(sync.Mutex)
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Handler is an AT command engine bound to one Source.
//
// A Handler is not safe for concurrent use: callers serialize access with
// Lock and Unlock. URC handlers run inline on the goroutine that is reading.
type Handler struct {
	src   Source
	mu    *sync.Mutex
	log   *zap.Logger
	cfg   Config
	debug bool

	buf       []byte
	pos       int
	end       int
	lineStart bool

	timeout      time.Duration
	savedTimeout time.Duration
	hasSaved     bool

	err Error

	urcMu sync.Mutex
	urcs  atomic.Pointer[[]urcEntry]
	inURC bool

	frames      []frame
	rowPrefix   string
	infoPending bool
	terminal    StopKind

	delimiter    byte
	useDelimiter bool

	cmdParams int
	lastResp  time.Time
}

// New returns a Handler reading from and writing to src.
func New(src Source, cfg Config) *Handler {
	cfg.setDefaults()
	h := &Handler{
		src:          src,
		mu:           cfg.Lock,
		log:          cfg.Logger,
		cfg:          cfg,
		debug:        cfg.Debug,
		buf:          make([]byte, cfg.BufferSize),
		lineStart:    true,
		timeout:      cfg.Timeout,
		delimiter:    cfg.Delimiter,
		useDelimiter: true,
	}
	h.urcs.Store(&[]urcEntry{})
	return h
}

// Lock serializes access to the modem link. It is not re-entrant.
func (h *Handler) Lock() {
	h.mu.Lock()
}

// Unlock releases the lock taken by Lock.
func (h *Handler) Unlock() {
	h.mu.Unlock()
}

// UnlockReturnError releases the lock and returns the sticky error, which
// stays set.
func (h *Handler) UnlockReturnError() error {
	err := h.LastError()
	h.mu.Unlock()
	return err
}

// SetTimeout sets the timeout used by waits that begin after the call.
// With savePrevious the current value is kept for RestoreTimeout.
func (h *Handler) SetTimeout(d time.Duration, savePrevious bool) {
	if savePrevious {
		h.savedTimeout = h.timeout
		h.hasSaved = true
	}
	h.timeout = d
}

// RestoreTimeout brings back the value saved by SetTimeout. Without a saved
// value it does nothing.
func (h *Handler) RestoreTimeout() {
	if !h.hasSaved {
		return
	}
	h.timeout = h.savedTimeout
	h.hasSaved = false
}

// Timeout returns the current timeout.
func (h *Handler) Timeout() time.Duration {
	return h.timeout
}

// ClearError resets the sticky error. It is the only way out of the error
// state.
func (h *Handler) ClearError() {
	h.err = Error{}
}

// LastError returns the sticky error or nil. The returned value is an *Error
// matching ErrDevice or ErrUnsupported with errors.Is.
func (h *Handler) LastError() error {
	if h.err.Kind == KindOK {
		return nil
	}
	e := h.err
	return &e
}

// LastDeviceError returns the error reported by the modem in the last
// +CME ERROR, +CMS ERROR or ERROR final result, if any.
func (h *Handler) LastDeviceError() DeviceError {
	return h.err.Device
}

// Terminal reports what terminated the most recent response scope.
func (h *Handler) Terminal() StopKind {
	return h.terminal
}

// SetDebug toggles traffic logging.
func (h *Handler) SetDebug(on bool) {
	h.debug = on
}

// SetDelimiter changes the parameter delimiter.
func (h *Handler) SetDelimiter(c byte) {
	h.delimiter = c
}

// SetDefaultDelimiter restores the configured delimiter.
func (h *Handler) SetDefaultDelimiter() {
	h.delimiter = h.cfg.Delimiter
}

// UseDelimiter toggles splitting of fields on the delimiter. When off, a
// field runs to the end of the line or the stop tag.
func (h *Handler) UseDelimiter(on bool) {
	h.useDelimiter = on
}

// Flush discards buffered data and everything the source has ready.
func (h *Handler) Flush() {
	h.resetBuffer()
	if h.failed() {
		return
	}
	for range 64 {
		if h.fill(false) == 0 {
			break
		}
		h.resetBuffer()
	}
}

// Sync checks that the modem answers AT commands, trying up to three times
// with timeout as the per-attempt bound. The caller holds the lock. On
// failure the sticky error is left set.
func (h *Handler) Sync(timeout time.Duration) bool {
	h.SetTimeout(timeout, true)
	defer h.RestoreTimeout()

	for attempt := 1; attempt <= 3; attempt++ {
		h.ClearError()
		h.Flush()
		h.CmdStart("AT+CMEE?")
		h.CmdStop()
		h.RespStart("+CMEE:")
		h.ReadInt()
		h.RespStop()
		if h.LastError() == nil {
			return true
		}
		h.log.Debug("sync attempt failed", zap.Int("attempt", attempt), zap.Error(h.LastError()))
	}
	return false
}

func (h *Handler) failed() bool {
	return h.err.Kind != KindOK
}

// setError records the first error; later ones are dropped until
// ClearError.
func (h *Handler) setError(kind ErrorKind, reason string) {
	h.setErrorCause(kind, reason, nil)
}

func (h *Handler) setErrorCause(kind ErrorKind, reason string, cause error) {
	if h.failed() {
		return
	}
	h.err = Error{Kind: kind, Reason: reason, Cause: cause}
	h.log.Warn("at error", zap.Stringer("kind", kind), zap.String("reason", reason), zap.NamedError("cause", cause))
}

func (h *Handler) setDeviceError(t DeviceErrorType, code int) {
	if h.failed() {
		return
	}
	h.err = Error{Kind: KindDevice, Device: DeviceError{Type: t, Code: code}}
	h.log.Debug("device reported error", zap.Stringer("type", t), zap.Int("code", code))
}

func (h *Handler) traffic(dir string, p []byte) {
	if h.debug {
		h.log.Debug("at traffic", zap.String("dir", dir), zap.ByteString("data", p))
	}
}
