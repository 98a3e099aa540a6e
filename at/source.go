package at

import "time"

//go:generate go tool mockgen -source=source.go -destination=mock_source.go -package=at

// Event is a readiness mask reported by Source.Poll.
type Event uint8

const (
	EventReadable Event = 1 << iota
	EventWritable
)

// Source is the byte channel to the modem.
//
// Poll waits at most timeout for any of the requested events and reports
// the ones that are ready; a zero timeout only probes. Read and Write never
// block: Read returns what is available and Write what the channel accepted.
// Implementations include serial ports (SerialSource), generic streams such
// as TCP connections to modem emulators (StreamSource) and test doubles.
type Source interface {
	Poll(events Event, timeout time.Duration) (Event, error)
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
}
