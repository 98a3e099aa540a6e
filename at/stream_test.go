package at_test

import (
	"bufio"
	"net"
	"runtime"
	"testing"
	"time"

	"i4.energy/across/atengine/at"
)

func TestStreamSource(t *testing.T) {
	t.Run("Command and response over a pipe", func(t *testing.T) {
		local, remote := net.Pipe()
		src := at.NewStreamSource(local)
		defer src.Close()

		go func() {
			r := bufio.NewReader(remote)
			cmd, err := r.ReadString('\r')
			if err != nil || cmd != "AT+CSQ\r" {
				remote.Close()
				return
			}
			remote.Write([]byte("\r\n+CSQ: 17,99\r\n\r\nOK\r\n"))
		}()

		h := at.New(src, at.Config{Timeout: time.Second})
		h.CmdStart("AT+CSQ")
		h.CmdStop()
		h.RespStart("+CSQ:")
		rssi, _ := h.ReadInt()
		ber, _ := h.ReadInt()
		if err := h.RespStop(); err != nil {
			t.Fatalf("unexpected error from RespStop(): %v", err)
		}
		if rssi != 17 || ber != 99 {
			t.Errorf("expected 17,99, got %d,%d", rssi, ber)
		}
	})

	t.Run("Probe without data", func(t *testing.T) {
		local, remote := net.Pipe()
		defer remote.Close()
		src := at.NewStreamSource(local)
		defer src.Close()

		ready, err := src.Poll(at.EventReadable|at.EventWritable, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ready != at.EventWritable {
			t.Errorf("expected only writable, got %v", ready)
		}
	})

	t.Run("Closed stream reports an error", func(t *testing.T) {
		local, remote := net.Pipe()
		src := at.NewStreamSource(local)
		defer src.Close()
		remote.Close()

		if _, err := src.Poll(at.EventReadable, time.Second); err == nil {
			t.Error("expected an error after the peer closed")
		}
	})

	t.Run("Close releases a reader with unread chunks", func(t *testing.T) {
		before := runtime.NumGoroutine()

		for range 5 {
			local, remote := net.Pipe()
			src := at.NewStreamSource(local)

			written := make(chan struct{})
			go func() {
				defer close(written)
				for range 40 {
					if _, err := remote.Write([]byte("+CMTI: \"SM\",1\r\n")); err != nil {
						return
					}
				}
			}()

			// let the reader fill its queue and block
			time.Sleep(20 * time.Millisecond)
			src.Close()
			remote.Close()
			<-written
		}

		deadline := time.Now().Add(2 * time.Second)
		for runtime.NumGoroutine() > before {
			if time.Now().After(deadline) {
				t.Fatalf("reader goroutines still running: before=%d after=%d", before, runtime.NumGoroutine())
			}
			time.Sleep(5 * time.Millisecond)
		}
	})
}
