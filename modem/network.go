package modem

import (
	"context"
	"fmt"

	"i4.energy/across/atengine/at"
)

// Operator is one entry of the AT+COPS=? network scan.
type Operator struct {
	// Status is 0 unknown, 1 available, 2 current, 3 forbidden.
	Status  int
	Long    string
	Short   string
	Numeric string
	// AccessTech is the radio access technology, -1 when not reported.
	AccessTech int
}

// SignalQuality returns the received signal strength indication and the
// bit error rate reported by AT+CSQ. 99 means not known.
func (m *Modem) SignalQuality(ctx context.Context) (rssi, ber int, err error) {
	rssi, ber = -1, -1
	err = m.do(ctx, m.config.ATTimeout, func(h *at.Handler) {
		h.CmdStart("AT+CSQ")
		h.CmdStop()
		h.RespStart("+CSQ:")
		rssi, _ = h.ReadInt()
		ber, _ = h.ReadInt()
		h.RespStop()
	})
	if err != nil {
		return -1, -1, fmt.Errorf("signal quality: %w", err)
	}
	if rssi < 0 || ber < 0 {
		return -1, -1, fmt.Errorf("signal quality: %w", ErrUnexpectedResponse)
	}
	return rssi, ber, nil
}

// Operators scans for networks with AT+COPS=?. The scan can take minutes;
// it is bounded by ScanTimeout and the deadline of ctx.
func (m *Modem) Operators(ctx context.Context) ([]Operator, error) {
	var ops []Operator
	err := m.do(ctx, m.config.ATTimeout, func(h *at.Handler) {
		m.useCharset(h, charsetIRA)
		h.CmdStart("AT+COPS=?")
		h.CmdStop()

		h.SetTimeout(boundTimeout(ctx, m.config.ScanTimeout), true)
		defer h.RestoreTimeout()

		buf := make([]byte, 64)
		h.RespStart("+COPS:")
		for h.InfoElem('(') {
			var op Operator
			op.Status, _ = h.ReadInt()
			op.Long = readString(h, buf)
			op.Short = readString(h, buf)
			op.Numeric = readString(h, buf)
			op.AccessTech, _ = h.ReadInt()
			ops = append(ops, op)
		}
		h.RespStop()
	})
	if err != nil {
		return nil, fmt.Errorf("operator scan: %w", err)
	}
	return ops, nil
}

// readString reads a string parameter, empty when absent.
func readString(h *at.Handler, buf []byte) string {
	n, _ := h.ReadString(buf, false)
	if n <= 0 {
		return ""
	}
	return string(buf[:n])
}
