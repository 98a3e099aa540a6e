package at

import "time"

func (h *Handler) buffered() int {
	return h.end - h.pos
}

func (h *Handler) resetBuffer() {
	h.pos, h.end = 0, 0
	h.lineStart = true
}

// compact moves unread bytes to the front of the buffer.
func (h *Handler) compact() {
	if h.pos == 0 {
		return
	}
	h.end = copy(h.buf, h.buf[h.pos:h.end])
	h.pos = 0
}

// fill appends whatever the source has ready and returns the count.
//
// With wait the source is polled for up to the current timeout and coming
// back empty is a device error; without wait it is only probed and 0 is a
// normal result. Nothing is read once the sticky error is set.
func (h *Handler) fill(wait bool) int {
	if h.failed() {
		return 0
	}
	h.compact()
	if h.end == len(h.buf) {
		h.setError(KindDevice, "receive buffer full")
		return 0
	}

	var timeout time.Duration
	if wait {
		timeout = h.timeout
	}
	ready, err := h.src.Poll(EventReadable, timeout)
	if err != nil {
		h.setErrorCause(KindDevice, "poll", err)
		return 0
	}
	if ready&EventReadable == 0 {
		if wait {
			h.setError(KindDevice, "timeout waiting for data")
		}
		return 0
	}

	n, err := h.src.Read(h.buf[h.end:])
	if n > 0 {
		h.traffic("rx", h.buf[h.end:h.end+n])
		h.end += n
	}
	if err != nil {
		h.setErrorCause(KindDevice, "read", err)
		return n
	}
	if n == 0 && wait {
		h.setError(KindDevice, "source readable but returned no data")
	}
	return n
}

// peek returns the byte under the cursor, waiting for data when the buffer
// is drained. It fails once the sticky error is set.
func (h *Handler) peek() (byte, bool) {
	if h.pos == h.end && h.fill(true) == 0 {
		return 0, false
	}
	return h.buf[h.pos], true
}

// peekBuffered is peek without waiting.
func (h *Handler) peekBuffered() (byte, bool) {
	if h.pos == h.end {
		return 0, false
	}
	return h.buf[h.pos], true
}

func (h *Handler) peekMode(wait bool) (byte, bool) {
	if wait {
		return h.peek()
	}
	return h.peekBuffered()
}

// advance consumes n buffered bytes.
func (h *Handler) advance(n int) {
	if n <= 0 {
		return
	}
	h.pos += n
	h.lineStart = h.buf[h.pos-1] == '\n'
}

// match reports whether lit is at the cursor without consuming it. When the
// buffered bytes are a proper prefix of lit it waits for more data (wait) or
// gives up; a possible prefix is never treated as a mismatch while data can
// still arrive.
func (h *Handler) match(lit string, wait bool) bool {
	for {
		n := min(h.buffered(), len(lit))
		if string(h.buf[h.pos:h.pos+n]) != lit[:n] {
			return false
		}
		if n == len(lit) {
			return true
		}
		if !wait || h.fill(true) == 0 {
			return false
		}
	}
}

// consume is match followed by advancing over lit.
func (h *Handler) consume(lit string, wait bool) bool {
	if !h.match(lit, wait) {
		return false
	}
	h.advance(len(lit))
	return true
}

// skipSpace drops a single space after a prefix. A prefix is always
// followed by at least a line end, so it waits for the next byte.
func (h *Handler) skipSpace() {
	if c, ok := h.peek(); ok && c == ' ' {
		h.advance(1)
	}
}

// takeLine consumes through the next CRLF and returns the line without it.
// Lines longer than the buffer are truncated.
func (h *Handler) takeLine() []byte {
	var line []byte
	for {
		c, ok := h.peek()
		if !ok {
			return line
		}
		if c == '\r' && h.consume(CRLF, true) {
			return line
		}
		if h.failed() {
			return line
		}
		if len(line) < len(h.buf) {
			line = append(line, c)
		}
		h.advance(1)
	}
}
