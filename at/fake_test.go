package at_test

import (
	"bytes"
	"strings"
	"time"

	"i4.energy/across/atengine/at"
)

// fakeSource serves data in chunks of at most chunk bytes and never blocks:
// Poll reports readable only while data is left, so a wait for more data
// fails immediately, as if the timeout elapsed.
type fakeSource struct {
	data       []byte
	chunk      int
	writeLimit int
	written    bytes.Buffer
	polls      int
	reads      int
	pollErr    error
	// replies maps a complete command line to the data queued after it.
	replies map[string]string
	line    bytes.Buffer
}

func newFake(data string, chunk int) *fakeSource {
	return &fakeSource{data: []byte(data), chunk: chunk}
}

func (f *fakeSource) feed(s string) {
	f.data = append(f.data, s...)
}

func (f *fakeSource) Poll(events at.Event, timeout time.Duration) (at.Event, error) {
	f.polls++
	if f.pollErr != nil {
		return 0, f.pollErr
	}
	var ready at.Event
	if events&at.EventWritable != 0 {
		ready |= at.EventWritable
	}
	if events&at.EventReadable != 0 && len(f.data) > 0 {
		ready |= at.EventReadable
	}
	return ready, nil
}

func (f *fakeSource) Read(p []byte) (int, error) {
	f.reads++
	n := len(f.data)
	if f.chunk > 0 && n > f.chunk {
		n = f.chunk
	}
	n = copy(p, f.data[:n])
	f.data = f.data[n:]
	return n, nil
}

func (f *fakeSource) Write(p []byte) (int, error) {
	n := len(p)
	if f.writeLimit > 0 && n > f.writeLimit {
		n = f.writeLimit
	}
	f.written.Write(p[:n])
	for _, c := range p[:n] {
		f.line.WriteByte(c)
		if c == '\r' {
			cmd := strings.TrimSuffix(f.line.String(), "\r")
			f.line.Reset()
			if reply, ok := f.replies[cmd]; ok {
				f.feed(reply)
			}
		}
	}
	return n, nil
}

func newHandler(src at.Source) *at.Handler {
	return at.New(src, at.Config{Timeout: 50 * time.Millisecond})
}

// chunkSizes returns every chunk size from 1 to n plus 0 (everything at once).
func chunkSizes(n int) []int {
	sizes := []int{0}
	for i := 1; i <= n; i++ {
		sizes = append(sizes, i)
	}
	return sizes
}
