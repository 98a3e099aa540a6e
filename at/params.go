package at

import (
	"strconv"
	"strings"
)

// Params reads the delimiter separated parameters of a URC line that has
// already been taken off the channel.
type Params struct {
	prefix string
	line   []byte
	pos    int
	delim  byte
}

func newParams(prefix string, line []byte, delim byte) *Params {
	p := &Params{prefix: prefix, line: line, delim: delim}
	if len(line) > 0 && line[0] == ' ' {
		p.pos = 1
	}
	return p
}

// Prefix returns the registered prefix that matched.
func (p *Params) Prefix() string {
	return p.prefix
}

// Raw returns the whole line after the prefix.
func (p *Params) Raw() string {
	return strings.TrimPrefix(string(p.line), " ")
}

// More reports whether unread parameters remain.
func (p *Params) More() bool {
	return p.pos < len(p.line)
}

// next returns the next field with surrounding quotes removed.
func (p *Params) next() []byte {
	start := p.pos
	quoted := false
	for p.pos < len(p.line) {
		c := p.line[p.pos]
		if c == '"' {
			quoted = !quoted
		} else if c == p.delim && !quoted {
			break
		}
		p.pos++
	}
	field := p.line[start:p.pos]
	if p.pos < len(p.line) {
		p.pos++
	}
	if len(field) >= 2 && field[0] == '"' && field[len(field)-1] == '"' {
		field = field[1 : len(field)-1]
	}
	return field
}

// Int parses the next parameter. An empty parameter yields -1 and no error.
func (p *Params) Int() (int, error) {
	field := strings.TrimSpace(string(p.next()))
	if field == "" {
		return -1, nil
	}
	v, err := strconv.Atoi(field)
	if err != nil {
		return -1, ErrDevice
	}
	return v, nil
}

// Text returns the next parameter as text.
func (p *Params) Text() string {
	return string(p.next())
}

// Hex decodes the next parameter from ASCII hex.
func (p *Params) Hex() ([]byte, error) {
	return HexStrToCharStr(string(p.next()))
}

// Skip drops the next n parameters.
func (p *Params) Skip(n int) {
	for range n {
		p.next()
	}
}
