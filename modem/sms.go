package modem

import (
	"context"
	"errors"
	"fmt"
	"time"

	"i4.energy/across/atengine/at"
)

const (
	charsetIRA  = "IRA"
	charsetUCS2 = "UCS2"
)

// SMS represents a text message stored on the modem.
type SMS struct {
	Index  int
	Status string // "REC UNREAD", "REC READ", "STO UNSENT", "STO SENT"
	Sender string
	Time   string
	Text   string
}

// SendSMS sends a text message to the specified recipient and returns the
// message reference assigned by the network.
//
// The message is sent in text mode (not PDU mode). Plain ASCII text goes
// out in the IRA character set, anything else as UCS2. The recipient should
// be in international format (e.g., "+1234567890").
//
// This method blocks until the message is accepted by the network or an error
// occurs. Network delivery (to the final recipient) happens asynchronously.
// Consecutive calls are spaced by at least MinSendInterval.
func (m *Modem) SendSMS(ctx context.Context, recipient, message string) (int, error) {
	if recipient == "" {
		return -1, errors.New("send SMS: recipient is required")
	}

	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	if wait := m.config.MinSendInterval - time.Since(m.lastSend); !m.lastSend.IsZero() && wait > 0 {
		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-time.After(wait):
		}
	}

	charset, to, body := charsetIRA, recipient, message
	if !isASCII(message) {
		charset = charsetUCS2
		to = at.UCS2HexString(recipient)
		body = at.UCS2HexString(message)
	}

	ref := -1
	err := m.do(ctx, m.config.ATTimeout, func(h *at.Handler) {
		m.useCharset(h, charset)

		h.CmdStart("AT+CMGS=")
		h.WriteString(to, true)
		h.CmdStop()

		// the body may only follow the prompt
		h.RespStartStop(at.Prompt)
		if h.RespStop() != nil {
			return
		}
		h.WriteBytes([]byte(body + at.CtrlZ))

		h.SetTimeout(boundTimeout(ctx, m.config.SendTimeout), true)
		defer h.RestoreTimeout()

		h.RespStart("+CMGS:")
		ref, _ = h.ReadInt()
		h.RespStop()
	})
	m.lastSend = time.Now()
	if err != nil {
		return -1, fmt.Errorf("send SMS: %w", err)
	}
	return ref, nil
}

// ListSMS returns the stored messages with the given status, e.g. "ALL"
// or "REC UNREAD". Sender and text are read in UCS2 and decoded.
func (m *Modem) ListSMS(ctx context.Context, status string) ([]SMS, error) {
	var list []SMS
	err := m.do(ctx, m.config.ATTimeout, func(h *at.Handler) {
		m.useCharset(h, charsetUCS2)

		h.CmdStart("AT+CMGL=")
		h.WriteString(status, true)
		h.CmdStop()

		buf := make([]byte, 4*at.DefaultBufferSize)
		h.RespStartList("+CMGL:")
		for h.InfoResp() {
			var s SMS
			s.Index, _ = h.ReadInt()
			s.Status = readString(h, buf)
			s.Sender = decodeText(readString(h, buf))
			h.SkipParam(1, 0) // alpha
			s.Time = readString(h, buf)
			h.SkipParam(2, 0) // tooa and length, present with AT+CSDH=1
			if n, _ := h.ReadLine(buf); n > 0 {
				s.Text = decodeText(string(buf[:n]))
			}
			list = append(list, s)
		}
		h.RespStop()
	})
	if err != nil {
		return nil, fmt.Errorf("list SMS: %w", err)
	}
	return list, nil
}

// DeleteSMS removes the message stored at index.
func (m *Modem) DeleteSMS(ctx context.Context, index int) error {
	err := m.do(ctx, m.config.ATTimeout, func(h *at.Handler) {
		h.CmdStart("AT+CMGD=")
		h.WriteInt(index)
		h.CmdStopReadResp()
	})
	if err != nil {
		return fmt.Errorf("delete SMS %d: %w", index, err)
	}
	return nil
}

// useCharset selects the TE character set and the matching data coding
// scheme, unless they are already selected. The handler lock is held.
func (m *Modem) useCharset(h *at.Handler, charset string) {
	if m.charset == charset {
		return
	}
	dcs := 0
	if charset == charsetUCS2 {
		dcs = 8
	}

	h.CmdStart("AT+CSCS=")
	h.WriteString(charset, true)
	h.CmdStopReadResp()

	h.CmdStart("AT+CSMP=")
	for _, v := range []int{17, 167, 0, dcs} {
		h.WriteInt(v)
	}
	h.CmdStopReadResp()

	if h.LastError() == nil {
		m.charset = charset
	}
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// decodeText decodes a UCS2 hex string, returning s unchanged when it is
// not one.
func decodeText(s string) string {
	if s == "" || len(s)%4 != 0 {
		return s
	}
	text, err := at.DecodeUCS2Hex(s)
	if err != nil {
		return s
	}
	return text
}
