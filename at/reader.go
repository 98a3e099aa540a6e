package at

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// errEndOfScope reports that the current scope already met its stop tag.
// Readers turn it into a -1 result without an error.
var errEndOfScope = errors.New("end of scope")

// RespStart opens a response scope terminated by OK, ERROR, +CME ERROR or
// +CMS ERROR.
//
// With a prefix, lines that do not start with it are discarded until it is
// found; the prefix and one following space are consumed and the reader is
// positioned on the first information row. If the scope terminates before
// the prefix arrives the sticky error is set.
//
// Opening a scope while another one is open sets ErrUnsupported.
func (h *Handler) RespStart(prefix string) {
	if !h.openScope(prefix) {
		return
	}
	resp := h.top()
	if prefix == "" {
		if h.lineStart {
			h.nextLine("", resp)
		}
		return
	}
	switch h.nextLine(prefix, resp) {
	case lineData:
		h.push(frameInfo, CRLF)
		h.infoPending = true
	case lineStop:
		h.setError(KindDevice, "expected prefix "+strconv.Quote(prefix)+" never arrived")
	}
}

// RespStartStop opens a response scope that terminates as soon as prefix is
// found, such as the "> " prompt of AT+CMGS.
func (h *Handler) RespStartStop(prefix string) {
	if !h.openScope(prefix) {
		return
	}
	resp := h.top()
	switch h.nextLine(prefix, resp) {
	case lineData:
		h.stopFrame(resp, StopPrompt)
	case lineStop:
		h.setError(KindDevice, "expected prefix "+strconv.Quote(prefix)+" never arrived")
	}
}

// RespStartList opens a response scope for a list that may be empty. Rows
// starting with prefix are then found with InfoResp.
func (h *Handler) RespStartList(prefix string) {
	h.openScope(prefix)
}

func (h *Handler) openScope(prefix string) bool {
	if h.inURC || h.failed() {
		return false
	}
	if len(h.frames) > 0 {
		h.setError(KindUnsupported, "response scope already open")
		return false
	}
	// take what is already there
	h.fill(false)

	h.frames = append(h.frames[:0], frame{kind: frameResp})
	h.rowPrefix = prefix
	h.infoPending = false
	h.terminal = StopNotSet
	return !h.failed()
}

// RespStop consumes the rest of the response up to its stop tag,
// dispatching URCs on the way, and closes every open scope. It returns the
// sticky error, or ErrNoScope when no scope is open.
func (h *Handler) RespStop() error {
	if h.inURC {
		return ErrReentrant
	}
	if len(h.frames) == 0 {
		if h.failed() {
			return h.LastError()
		}
		return ErrNoScope
	}
	for len(h.frames) > 0 && !h.failed() {
		if f := h.top(); !f.found {
			h.drain(f)
		}
		h.pop()
	}
	h.frames = h.frames[:0]
	h.infoPending = false
	h.lastResp = time.Now()
	return h.LastError()
}

// InfoResp moves to the next information row of the response and reports
// whether there is one. It returns false once the stop tag is reached.
func (h *Handler) InfoResp() bool {
	if h.inURC || h.failed() || len(h.frames) == 0 {
		return false
	}
	if h.infoPending {
		h.infoPending = false
		return true
	}
	for len(h.frames) > 1 {
		if f := h.top(); !f.found {
			h.drain(f)
		}
		h.pop()
		if h.failed() {
			return false
		}
	}
	resp := h.top()
	if resp.found {
		return false
	}
	if h.nextLine(h.rowPrefix, resp) != lineData {
		return false
	}
	h.push(frameInfo, CRLF)
	return true
}

// InfoElem enters the next element of the current row that starts with
// marker, closing the previous element first. Elements opened with '(' end
// at ')', '[' at ']' and '{' at '}'; any other marker ends at itself.
func (h *Handler) InfoElem(marker byte) bool {
	if h.inURC || h.failed() {
		return false
	}
	f := h.top()
	if f == nil {
		return false
	}
	if f.kind == frameElem {
		if !f.found {
			h.drain(f)
		}
		h.pop()
		if h.failed() {
			return false
		}
		f = h.top()
		if c, ok := h.peek(); ok && c == h.delimiter {
			h.advance(1)
		}
	}
	if f.found {
		return false
	}
	c, ok := h.peek()
	if !ok || c != marker {
		return false
	}
	h.advance(1)
	h.push(frameElem, closingFor(marker))
	return true
}

func closingFor(marker byte) string {
	switch marker {
	case '(':
		return ")"
	case '[':
		return "]"
	case '{':
		return "}"
	}
	return string(marker)
}

// SetStopTag replaces the stop tag of the innermost open scope with lit.
func (h *Handler) SetStopTag(lit string) {
	f := h.top()
	if f == nil || h.failed() {
		return
	}
	if lit == "" || len(lit) >= len(h.buf) {
		h.setError(KindUnsupported, "stop tag does not fit the receive buffer")
		return
	}
	f.tag = lit
	f.found = false
}

// ReadInt reads a decimal field. An empty field, or a scope that already
// met its stop tag, yields -1 with a nil error. Malformed digits set the
// sticky error.
func (h *Handler) ReadInt() (int, error) {
	f, err := h.beginField(false)
	if err != nil {
		return fieldResult(err)
	}
	var digits []byte
	_, consumed := h.scanField(f, true, -1, func(c byte) {
		if len(digits) == 0 && c == ' ' {
			return
		}
		if len(digits) <= 20 {
			digits = append(digits, c)
		}
	})
	if h.failed() {
		return -1, h.LastError()
	}
	if !consumed && f != nil && f.found {
		return -1, nil
	}
	s := strings.TrimSpace(string(digits))
	if s == "" {
		return -1, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		h.setError(KindDevice, "malformed integer "+strconv.Quote(s))
		return -1, h.LastError()
	}
	return v, nil
}

// ReadString reads a field into buf and returns its length. A field that
// starts with a double quote runs to the closing quote; characters past
// len(buf) are dropped. An unquoted field runs to the delimiter, the end of
// line, the stop tag or len(buf) bytes, whichever comes first.
//
// Once the scope met its stop tag it returns -1, unless readEvenStopTag is
// set, in which case bytes already buffered may still be drained.
func (h *Handler) ReadString(buf []byte, readEvenStopTag bool) (int, error) {
	f, err := h.beginField(readEvenStopTag)
	if err != nil {
		return fieldResult(err)
	}
	wait := f == nil || !f.found
	n := 0
	_, consumed := h.scanField(f, wait, len(buf), func(c byte) {
		buf[n] = c
		n++
	})
	if h.failed() {
		return -1, h.LastError()
	}
	if !consumed && f != nil && f.found {
		return -1, nil
	}
	return n, nil
}

// ReadHexString reads a field of ASCII hex pairs and decodes them into buf.
// An odd trailing digit is decoded as a single nibble.
func (h *Handler) ReadHexString(buf []byte) (int, error) {
	f, err := h.beginField(false)
	if err != nil {
		return fieldResult(err)
	}
	var (
		n    int
		hi   byte
		half bool
		bad  bool
	)
	_, consumed := h.scanField(f, true, 2*len(buf), func(c byte) {
		v, ok := unhex(c)
		if !ok {
			bad = true
			return
		}
		if !half {
			hi, half = v, true
			return
		}
		buf[n] = hi<<4 | v
		n++
		half = false
	})
	if h.failed() {
		return -1, h.LastError()
	}
	if bad {
		h.setError(KindDevice, "malformed hex string")
		return -1, h.LastError()
	}
	if !consumed && f != nil && f.found {
		return -1, nil
	}
	if half && n < len(buf) {
		buf[n] = hi
		n++
	}
	return n, nil
}

// ReadLine reads the rest of the current line into buf, dropping what does
// not fit, and consumes the line end. Right after an information row it
// reads the line following the row verbatim, as text mode message bodies
// need. At a line start of a response scope empty lines and URCs are
// skipped first, and -1 is returned once the final result is reached.
func (h *Handler) ReadLine(buf []byte) (int, error) {
	if h.inURC {
		return -1, ErrReentrant
	}
	if h.failed() {
		return -1, h.LastError()
	}
	if f := h.top(); f != nil {
		switch {
		case f.kind != frameResp:
			// a row in progress or just completed: the line ends it
			if !f.found {
				defer h.closeRow()
			} else {
				h.closeRow()
			}
		case f.found:
			return -1, nil
		case h.lineStart:
			if h.nextLine("", f) != lineData {
				return -1, h.LastError()
			}
		}
	}
	line := h.takeLine()
	if h.failed() {
		return -1, h.LastError()
	}
	return copy(buf, line), nil
}

// closeRow drops the row and element frames above the response frame.
func (h *Handler) closeRow() {
	if len(h.frames) > 1 {
		h.frames = h.frames[:1]
	}
	h.infoPending = false
}

// ReadBytes reads exactly len(buf) raw bytes, ignoring delimiters and stop
// tags. It either fills buf or fails with the sticky error. buf may be larger
// than the receive buffer; the read refills it as often as needed.
func (h *Handler) ReadBytes(buf []byte) (int, error) {
	if h.inURC {
		return -1, ErrReentrant
	}
	if h.failed() {
		return -1, h.LastError()
	}
	read := 0
	for read < len(buf) {
		if h.buffered() == 0 && h.fill(true) == 0 {
			return -1, h.LastError()
		}
		n := copy(buf[read:], h.buf[h.pos:h.end])
		h.advance(n)
		read += n
	}
	return read, nil
}

// SkipParam skips count fields. With charCount > 0 it skips up to
// count*charCount raw bytes instead, for fields that may contain the
// delimiter but whose length is only bounded; the skip ends early at the
// stop tag or the end of the line. Skipping in a finished scope is not an
// error.
func (h *Handler) SkipParam(count, charCount int) error {
	if h.inURC {
		return ErrReentrant
	}
	if h.failed() {
		return h.LastError()
	}
	if charCount > 0 {
		f, err := h.beginField(false)
		if err != nil {
			if err == errEndOfScope {
				return nil
			}
			return err
		}
		// delimiters are content here; the stop tag and the line end are not
		for left := count * charCount; left > 0 && !h.failed(); left-- {
			if h.matchStop(f, true) {
				break
			}
			c, ok := h.peek()
			if !ok {
				break
			}
			if c == '\r' || c == '\n' {
				h.endLine(f, true)
				break
			}
			h.advance(1)
		}
		return h.LastError()
	}
	for range count {
		f, err := h.beginField(false)
		if err != nil {
			if err == errEndOfScope {
				return nil
			}
			return err
		}
		h.scanField(f, true, -1, nil)
		if h.failed() {
			return h.LastError()
		}
	}
	return nil
}

// beginField checks whether a field can be read in the current scope and,
// at the start of a line of a response scope, skips empty lines and URCs.
// A nil frame means no scope is open; fields then end at the delimiter or
// the end of line only.
func (h *Handler) beginField(readEvenStopTag bool) (*frame, error) {
	if h.inURC {
		return nil, ErrReentrant
	}
	if h.failed() {
		return nil, h.LastError()
	}
	f := h.top()
	if f == nil {
		return nil, nil
	}
	if f.found {
		if readEvenStopTag {
			return f, nil
		}
		return nil, errEndOfScope
	}
	if f.kind == frameResp && h.lineStart {
		switch h.nextLine("", f) {
		case lineStop:
			if h.failed() {
				return nil, h.LastError()
			}
			return nil, errEndOfScope
		case lineFail:
			return nil, h.LastError()
		}
	}
	return f, nil
}

func fieldResult(err error) (int, error) {
	if err == errEndOfScope {
		return -1, nil
	}
	return -1, err
}

// scanField consumes one field of scope f and hands its content bytes to
// emit, at most limit of them when limit >= 0. It reports how many bytes
// were emitted and whether anything was consumed. Without wait only
// buffered bytes are looked at.
func (h *Handler) scanField(f *frame, wait bool, limit int, emit func(byte)) (n int, consumed bool) {
	var quoted, escaped, started bool
	for !h.failed() {
		if !quoted && limit >= 0 && n >= limit {
			if c, ok := h.peekBuffered(); ok && h.useDelimiter && c == h.delimiter {
				h.advance(1)
			}
			return n, consumed
		}
		if !quoted && h.matchStop(f, wait) {
			return n, consumed
		}
		c, ok := h.peekMode(wait)
		if !ok {
			break
		}
		switch {
		case quoted:
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				h.advance(1)
				h.endQuoted(f, wait)
				return n, true
			case c == '\r' || c == '\n':
				// unterminated quote
				return n, consumed
			}
			if emit != nil && (limit < 0 || n < limit) {
				emit(c)
				n++
			}
			h.advance(1)
			consumed = true
		case c == '"' && !started:
			quoted, started, consumed = true, true, true
			h.advance(1)
		case h.useDelimiter && c == h.delimiter:
			h.advance(1)
			return n, true
		case c == '\r' || c == '\n':
			h.endLine(f, wait)
			return n, consumed
		default:
			if emit != nil {
				emit(c)
			}
			n++
			started, consumed = true, true
			h.advance(1)
		}
	}
	return n, consumed
}

// endQuoted finishes a field after its closing quote: the stop tag, the
// delimiter or the end of line that follows it is consumed.
func (h *Handler) endQuoted(f *frame, wait bool) {
	if h.matchStop(f, wait) || h.failed() {
		return
	}
	c, ok := h.peekMode(wait)
	switch {
	case !ok:
	case h.useDelimiter && c == h.delimiter:
		h.advance(1)
	case c == '\r' || c == '\n':
		h.endLine(f, wait)
	}
}

// endLine consumes a line end that terminates a field. In an information
// row or element the line end belongs to the stop tag and is left alone.
func (h *Handler) endLine(f *frame, wait bool) {
	if f != nil && f.kind != frameResp {
		return
	}
	if !h.consume(CRLF, wait) && !h.failed() {
		h.advance(1)
	}
}
