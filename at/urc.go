package at

import (
	"slices"

	"go.uber.org/zap"
)

// URCHandler is called inline, on the goroutine that is reading, when a
// line starting with its prefix is recognized. p reads the parameters that
// follow the prefix. A handler must not block and must not call the command
// path of the Handler that dispatched it.
type URCHandler func(p *Params)

type urcEntry struct {
	prefix string
	fn     URCHandler
}

// SetURCHandler registers fn for lines starting with prefix, replacing any
// handler registered for the same prefix. A nil fn removes the entry.
// It may be called from any goroutine, including from a URC handler.
func (h *Handler) SetURCHandler(prefix string, fn URCHandler) error {
	if prefix == "" || len(prefix) >= len(h.buf) {
		return ErrUnsupported
	}

	h.urcMu.Lock()
	defer h.urcMu.Unlock()

	cur := *h.urcs.Load()
	next := slices.Clone(cur)
	i := slices.IndexFunc(next, func(e urcEntry) bool { return e.prefix == prefix })
	switch {
	case fn == nil && i >= 0:
		next = slices.Delete(next, i, i+1)
	case fn == nil:
		return nil
	case i >= 0:
		next[i].fn = fn
	default:
		next = append(next, urcEntry{prefix: prefix, fn: fn})
	}
	h.urcs.Store(&next)
	return nil
}

// dispatchURC runs the handler of a URC line starting at the cursor, if
// any. The whole line is consumed before the handler is called.
func (h *Handler) dispatchURC() bool {
	if !h.lineStart {
		return false
	}
	for _, e := range *h.urcs.Load() {
		if !h.consume(e.prefix, true) {
			if h.failed() {
				return false
			}
			continue
		}
		line := h.takeLine()
		if h.failed() {
			return false
		}
		h.invokeURC(e, line)
		return true
	}
	return false
}

func (h *Handler) invokeURC(e urcEntry, line []byte) {
	h.log.Debug("dispatching urc", zap.String("prefix", e.prefix), zap.ByteString("line", line))
	h.inURC = true
	defer func() { h.inURC = false }()
	e.fn(newParams(e.prefix, line, h.delimiter))
}

// ProcessOOB pumps the source for URCs while no command is in flight. It
// takes the lock, dispatches every complete URC line that is ready and
// discards other lines. A trailing line that does not complete within the
// OOB timeout is dropped without leaving an error behind; a channel error
// stays sticky and is returned.
//
// If the sticky error is already set it is returned and nothing is read.
func (h *Handler) ProcessOOB() error {
	if h.inURC {
		return ErrReentrant
	}
	h.Lock()
	defer h.Unlock()

	if h.failed() {
		return h.LastError()
	}
	if len(h.frames) > 0 {
		return ErrUnsupported
	}

	prev := h.timeout
	h.timeout = h.cfg.OOBTimeout
	defer func() { h.timeout = prev }()

	if h.buffered() == 0 && h.fill(false) == 0 {
		return h.LastError()
	}

	for h.buffered() > 0 && !h.failed() {
		switch {
		case !h.lineStart:
			h.takeLine()
		case h.consume(CRLF, true):
		case h.dispatchURC():
		case h.failed():
		default:
			line := h.takeLine()
			h.log.Debug("discarding oob line", zap.ByteString("line", line))
		}
		if h.buffered() == 0 && !h.failed() {
			h.fill(false)
		}
	}

	switch {
	case h.err.Cause != nil:
		return h.LastError()
	case h.failed():
		h.log.Debug("dropping incomplete oob data", zap.Error(h.LastError()))
		h.resetBuffer()
		h.ClearError()
	}
	return nil
}
