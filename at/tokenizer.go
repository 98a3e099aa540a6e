package at

import (
	"strconv"
	"strings"

	"go.uber.org/zap"
)

type frameKind int

const (
	frameResp frameKind = iota // response scope, ends at OK/ERROR or a custom tag
	frameInfo                  // information row, ends at CRLF
	frameElem                  // bracketed element inside a row
)

// frame is one open scope. An empty tag on a response frame stands for the
// canonical OK/ERROR/+CME ERROR/+CMS ERROR family.
type frame struct {
	kind  frameKind
	tag   string
	found bool
}

func (h *Handler) top() *frame {
	if len(h.frames) == 0 {
		return nil
	}
	return &h.frames[len(h.frames)-1]
}

func (h *Handler) push(kind frameKind, tag string) {
	h.frames = append(h.frames, frame{kind: kind, tag: tag})
}

func (h *Handler) pop() {
	if len(h.frames) > 0 {
		h.frames = h.frames[:len(h.frames)-1]
	}
}

func (h *Handler) stopFrame(f *frame, kind StopKind) {
	f.found = true
	if f.kind == frameResp {
		h.terminal = kind
	}
}

// matchStop consumes the stop tag of f if it is at the cursor. OK and custom
// tags match anywhere; the error family only at line starts. An error final
// result records the device error and sets the sticky error.
func (h *Handler) matchStop(f *frame, wait bool) bool {
	if f == nil || f.found {
		return false
	}
	if f.tag != "" {
		if !h.consume(f.tag, wait) {
			return false
		}
		h.stopFrame(f, StopFound)
		return true
	}

	if h.consume(tagOK, wait) {
		h.stopFrame(f, StopOK)
		return true
	}
	if !h.lineStart || h.failed() {
		return false
	}
	switch {
	case h.consume(tagError, wait):
		h.stopFrame(f, StopError)
		h.setDeviceError(DeviceErrGeneric, -1)
	case h.consume(tagCmeError, wait):
		h.stopFrame(f, StopCmeError)
		h.setDeviceError(DeviceErrCME, h.errorCode())
	case h.consume(tagCmsError, wait):
		h.stopFrame(f, StopCmsError)
		h.setDeviceError(DeviceErrCMS, h.errorCode())
	default:
		return false
	}
	return true
}

// errorCode reads the rest of a +CME/+CMS ERROR line. Verbose error text
// (AT+CMEE=2) yields -1.
func (h *Handler) errorCode() int {
	line := strings.TrimSpace(string(h.takeLine()))
	code, err := strconv.Atoi(line)
	if err != nil {
		return -1
	}
	return code
}

type scanState int

const (
	stateScanning scanState = iota
	stateMatchingURC
	stateMatchingTag
	stateDone
)

type lineKind int

const (
	lineData lineKind = iota // a data line starts at the cursor
	lineStop                 // the response frame terminated
	lineFail                 // sticky error
)

// nextLine advances over empty lines, URC lines and, when prefix is set,
// lines that do not start with prefix. It stops at a data line, consuming
// prefix and one following space, or at the stop tag of resp.
func (h *Handler) nextLine(prefix string, resp *frame) lineKind {
	state := stateScanning
	result := lineFail
	for state != stateDone {
		if h.failed() {
			return lineFail
		}
		switch state {
		case stateScanning:
			if h.consume(CRLF, true) {
				continue
			}
			state = stateMatchingURC

		case stateMatchingURC:
			if h.dispatchURC() {
				state = stateScanning
				continue
			}
			state = stateMatchingTag

		case stateMatchingTag:
			switch {
			case h.matchStop(resp, true):
				result, state = lineStop, stateDone
			case h.failed():
				state = stateDone
			case prefix == "":
				result, state = lineData, stateDone
			case h.consume(prefix, true):
				if !strings.HasSuffix(prefix, " ") {
					h.skipSpace()
				}
				result, state = lineData, stateDone
			case h.failed():
				state = stateDone
			default:
				garbage := h.takeLine()
				h.log.Debug("discarding line", zap.String("expected", prefix), zap.ByteString("line", garbage))
				state = stateScanning
			}
		}
	}
	if h.failed() {
		return lineFail
	}
	return result
}

// drain consumes the rest of scope f up to and including its stop tag.
// Response frames dispatch URCs found at line starts on the way.
func (h *Handler) drain(f *frame) {
	for !f.found && !h.failed() {
		switch f.kind {
		case frameResp:
			if h.lineStart {
				if h.consume(CRLF, true) || h.dispatchURC() {
					continue
				}
			}
			if h.matchStop(f, true) {
				return
			}
		case frameInfo, frameElem:
			if h.matchStop(f, true) {
				return
			}
			// an element never spans lines
			if c, ok := h.peek(); ok && f.kind == frameElem && c == '\r' {
				f.found = true
				return
			}
		}
		if _, ok := h.peek(); !ok {
			return
		}
		h.advance(1)
	}
}
