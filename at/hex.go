package at

import (
	"encoding/hex"
	"strings"

	"github.com/warthog618/sms/encoding/ucs2"
)

const hexDigits = "0123456789ABCDEF"

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// HexToByte decodes two ASCII hex digits.
func HexToByte(hi, lo byte) (byte, bool) {
	h, ok1 := unhex(hi)
	l, ok2 := unhex(lo)
	return h<<4 | l, ok1 && ok2
}

// CharStrToHexStr encodes src as upper case ASCII hex. With omitLeadingZero
// a first byte below 0x10 is written as a single digit.
func CharStrToHexStr(src []byte, omitLeadingZero bool) string {
	var b strings.Builder
	b.Grow(2 * len(src))
	for i, c := range src {
		if i > 0 || !omitLeadingZero || c >= 0x10 {
			b.WriteByte(hexDigits[c>>4])
		}
		b.WriteByte(hexDigits[c&0x0f])
	}
	return b.String()
}

// HexStrToCharStr decodes ASCII hex. An odd length is taken to be a string
// whose leading zero was omitted.
func HexStrToCharStr(s string) ([]byte, error) {
	if len(s)%2 == 1 {
		s = "0" + s
	}
	out, err := hex.DecodeString(s)
	if err != nil {
		return nil, ErrDevice
	}
	return out, nil
}

// UCS2HexString encodes s as the hex form of big endian UCS-2, the text
// representation used with AT+CSCS="UCS2".
func UCS2HexString(s string) string {
	return strings.ToUpper(hex.EncodeToString(ucs2.Encode([]rune(s))))
}

// DecodeUCS2Hex reverses UCS2HexString.
func DecodeUCS2Hex(s string) (string, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return "", ErrDevice
	}
	runes, err := ucs2.Decode(raw)
	if err != nil {
		return "", err
	}
	return string(runes), nil
}
