package at

import (
	"strconv"
	"time"
)

// CmdStart begins a command line with cmd, for example "AT+CMGS=". When the
// sticky error is set nothing is written and the error is returned.
func (h *Handler) CmdStart(cmd string) error {
	if h.inURC {
		return ErrReentrant
	}
	if h.failed() {
		return h.LastError()
	}
	if h.cfg.SendDelay > 0 && !h.lastResp.IsZero() {
		if d := h.cfg.SendDelay - time.Since(h.lastResp); d > 0 {
			time.Sleep(d)
		}
	}
	h.cmdParams = 0
	h.send([]byte(cmd))
	return h.LastError()
}

// WriteInt appends an integer parameter.
func (h *Handler) WriteInt(v int) error {
	return h.writeParam(strconv.AppendInt(nil, int64(v), 10))
}

// WriteString appends a string parameter, in double quotes when quoted.
func (h *Handler) WriteString(s string, quoted bool) error {
	if !quoted {
		return h.writeParam([]byte(s))
	}
	p := make([]byte, 0, len(s)+2)
	p = append(p, '"')
	p = append(p, s...)
	p = append(p, '"')
	return h.writeParam(p)
}

// WriteBytes writes p as is, without a delimiter, and returns the number of
// bytes written or -1 with the sticky error.
func (h *Handler) WriteBytes(p []byte) (int, error) {
	if h.inURC {
		return -1, ErrReentrant
	}
	if h.failed() {
		return -1, h.LastError()
	}
	n := h.send(p)
	if h.failed() {
		return -1, h.LastError()
	}
	return n, nil
}

// CmdStop terminates the command line.
func (h *Handler) CmdStop() error {
	if h.inURC {
		return ErrReentrant
	}
	if h.failed() {
		return h.LastError()
	}
	h.send([]byte(h.cfg.OutputDelimiter))
	return h.LastError()
}

// CmdStopReadResp terminates the command line and consumes a response that
// carries no information, only the final result.
func (h *Handler) CmdStopReadResp() error {
	h.CmdStop()
	h.RespStart("")
	return h.RespStop()
}

func (h *Handler) writeParam(p []byte) error {
	if h.inURC {
		return ErrReentrant
	}
	if h.failed() {
		return h.LastError()
	}
	if h.cmdParams > 0 {
		h.send([]byte{h.delimiter})
	}
	h.cmdParams++
	h.send(p)
	return h.LastError()
}

// send writes all of p, waiting for the source to accept more for up to the
// current timeout in total. Whatever is left when the time runs out is
// abandoned and the sticky error is set.
func (h *Handler) send(p []byte) int {
	deadline := time.Now().Add(h.timeout)
	written := 0
	for written < len(p) && !h.failed() {
		ready, err := h.src.Poll(EventWritable, max(time.Until(deadline), 0))
		if err != nil {
			h.setErrorCause(KindDevice, "poll", err)
			break
		}
		if ready&EventWritable == 0 {
			h.setError(KindDevice, "timeout waiting to write")
			break
		}
		n, err := h.src.Write(p[written:])
		if n > 0 {
			h.traffic("tx", p[written:written+n])
			written += n
		}
		if err != nil {
			h.setErrorCause(KindDevice, "write", err)
			break
		}
		if n == 0 && !time.Now().Before(deadline) {
			h.setError(KindDevice, "timeout writing")
		}
	}
	return written
}
