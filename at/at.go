// Package at implements a client side AT command engine on top of a
// polled, half-duplex byte channel to a cellular modem.
//
// A Handler issues textual commands, reads line and tag delimited
// responses field by field and recognizes unsolicited result codes (URCs)
// that the modem may interleave with the response to the command in flight.
// Errors are sticky: once an operation fails every following read or write
// on the same Handler fails fast until ClearError is called.
//
// A typical transaction:
//
//	h.Lock()
//	h.ClearError()
//	h.CmdStart("AT+CSQ")
//	h.CmdStop()
//	h.RespStart("+CSQ:")
//	rssi, _ := h.ReadInt()
//	ber, _ := h.ReadInt()
//	h.RespStop()
//	err := h.UnlockReturnError()
package at

import "time"

const (
	// Terminal Control
	CRLF   = "\r\n"
	Prompt = "> "
	CtrlZ  = "\x1a"

	// Response Codes
	OK       = "OK"
	ERROR    = "ERROR"
	CmeError = "+CME ERROR:"
	CmsError = "+CMS ERROR:"

	// URCs (Unsolicited Result Codes)
	UrcNewMsg        = "+CMTI:"
	UrcMessageReport = "+CDSI:"
	UrcRegistration  = "+CREG:"
	UrcCall          = "RING"
)

// Wire literals of the canonical stop tags.
const (
	tagOK       = OK + CRLF
	tagError    = ERROR + CRLF
	tagCmeError = CmeError + " "
	tagCmsError = CmsError + " "
)

const (
	// DefaultTimeout bounds every blocking wait unless changed with
	// SetTimeout.
	DefaultTimeout = 8 * time.Second
	// DefaultOOBTimeout bounds waits while pumping URCs in ProcessOOB.
	DefaultOOBTimeout = 100 * time.Millisecond
	// DefaultBufferSize is the receive buffer capacity.
	DefaultBufferSize = 512
	// DefaultDelimiter separates parameters within a line.
	DefaultDelimiter = ','
	// DefaultOutputDelimiter terminates an outgoing command line.
	DefaultOutputDelimiter = "\r"
)

// StopKind identifies what terminated a response scope.
type StopKind int

const (
	StopNotSet   StopKind = iota // scope still open or never opened
	StopFound                    // a custom tag set with SetStopTag
	StopOK                       // OK
	StopError                    // ERROR
	StopPrompt                   // scope opened with RespStartStop
	StopCmeError                 // +CME ERROR: <n>
	StopCmsError                 // +CMS ERROR: <n>
)

func (k StopKind) String() string {
	switch k {
	case StopFound:
		return "found"
	case StopOK:
		return "ok"
	case StopError:
		return "error"
	case StopPrompt:
		return "prompt"
	case StopCmeError:
		return "cme-error"
	case StopCmsError:
		return "cms-error"
	default:
		return "not-set"
	}
}
