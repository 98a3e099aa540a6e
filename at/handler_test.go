package at_test

import (
	"errors"
	"io"
	"testing"
	"time"

	"go.uber.org/mock/gomock"
	"i4.energy/across/atengine/at"
)

func TestStickyError(t *testing.T) {
	t.Run("Timeout does not touch the channel again", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		src := at.NewMockSource(ctrl)
		src.EXPECT().Poll(at.EventReadable, gomock.Any()).Return(at.Event(0), nil).Times(1)

		h := newHandler(src)
		buf := make([]byte, 1)

		n, err := h.ReadBytes(buf)
		if n != -1 || !errors.Is(err, at.ErrDevice) {
			t.Errorf("expected -1 and ErrDevice, got %d, %v", n, err)
		}
		n, err = h.ReadBytes(buf)
		if n != -1 || !errors.Is(err, at.ErrDevice) {
			t.Errorf("expected -1 and ErrDevice on the second call, got %d, %v", n, err)
		}
	})

	t.Run("Writes are skipped while the error is set", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		src := at.NewMockSource(ctrl)
		src.EXPECT().Poll(at.EventReadable, gomock.Any()).Return(at.Event(0), nil)

		h := newHandler(src)
		h.ReadInt()

		if err := h.CmdStart("AT+CSQ"); !errors.Is(err, at.ErrDevice) {
			t.Errorf("expected ErrDevice from CmdStart(), got %v", err)
		}
		if err := h.WriteInt(1); !errors.Is(err, at.ErrDevice) {
			t.Errorf("expected ErrDevice from WriteInt(), got %v", err)
		}
		if err := h.CmdStop(); !errors.Is(err, at.ErrDevice) {
			t.Errorf("expected ErrDevice from CmdStop(), got %v", err)
		}
	})

	t.Run("First error wins", func(t *testing.T) {
		h := newHandler(newFake("\r\n+CME ERROR: 3\r\n", 0))

		h.RespStart("")
		h.RespStart("")
		var e *at.Error
		if !errors.As(h.LastError(), &e) {
			t.Fatalf("expected *at.Error, got %v", h.LastError())
		}
		if e.Kind != at.KindDevice || e.Device.Code != 3 {
			t.Errorf("expected the CME error to stay, got %v", e)
		}
	})

	t.Run("Channel error is kept as the cause", func(t *testing.T) {
		src := newFake("", 0)
		src.pollErr = io.ErrClosedPipe
		h := newHandler(src)

		h.RespStart("")
		if !errors.Is(h.LastError(), io.ErrClosedPipe) {
			t.Errorf("expected io.ErrClosedPipe in the chain, got %v", h.LastError())
		}
		if !errors.Is(h.LastError(), at.ErrDevice) {
			t.Errorf("expected ErrDevice in the chain, got %v", h.LastError())
		}
	})
}

func TestClearError(t *testing.T) {
	src := newFake("", 0)
	h := newHandler(src)

	h.RespStart("")
	if h.LastError() == nil {
		t.Fatal("expected a timeout error")
	}
	h.RespStop()

	h.ClearError()
	h.ClearError()
	if h.LastError() != nil {
		t.Fatalf("expected no error after ClearError(), got %v", h.LastError())
	}
	if h.LastDeviceError() != (at.DeviceError{}) {
		t.Errorf("expected no device error, got %+v", h.LastDeviceError())
	}

	src.feed("+CSQ: 9,99\r\n\r\nOK\r\n")
	h.RespStart("+CSQ:")
	v, err := h.ReadInt()
	if err != nil || v != 9 {
		t.Errorf("expected 9 and no error, got %d, %v", v, err)
	}
	if err := h.RespStop(); err != nil {
		t.Errorf("unexpected error from RespStop(): %v", err)
	}
}

func TestTimeout(t *testing.T) {
	t.Run("Save and restore", func(t *testing.T) {
		h := newHandler(newFake("", 0))

		h.SetTimeout(time.Second, true)
		if h.Timeout() != time.Second {
			t.Errorf("expected 1s, got %v", h.Timeout())
		}
		h.RestoreTimeout()
		if h.Timeout() != 50*time.Millisecond {
			t.Errorf("expected 50ms, got %v", h.Timeout())
		}
		h.RestoreTimeout()
		if h.Timeout() != 50*time.Millisecond {
			t.Errorf("second RestoreTimeout() must be a no-op, got %v", h.Timeout())
		}
	})

	t.Run("Set without saving", func(t *testing.T) {
		h := newHandler(newFake("", 0))

		h.SetTimeout(2*time.Second, false)
		h.RestoreTimeout()
		if h.Timeout() != 2*time.Second {
			t.Errorf("expected 2s, got %v", h.Timeout())
		}
	})

	t.Run("Poll gets the current timeout", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		src := at.NewMockSource(ctrl)
		gomock.InOrder(
			src.EXPECT().Poll(at.EventReadable, time.Duration(0)).Return(at.Event(0), nil),
			src.EXPECT().Poll(at.EventReadable, 3*time.Second).Return(at.Event(0), nil),
		)

		h := newHandler(src)
		h.SetTimeout(3*time.Second, true)
		h.RespStart("")
	})
}

func TestSync(t *testing.T) {
	t.Run("Modem answers", func(t *testing.T) {
		src := newFake("", 0)
		src.replies = map[string]string{
			"AT+CMEE?": "\r\n+CMEE: 1\r\n\r\nOK\r\n",
		}
		h := newHandler(src)

		h.Lock()
		ok := h.Sync(time.Second)
		err := h.UnlockReturnError()
		if !ok || err != nil {
			t.Errorf("expected Sync() to succeed, got %v, %v", ok, err)
		}
		if h.Timeout() != 50*time.Millisecond {
			t.Errorf("expected the timeout to be restored, got %v", h.Timeout())
		}
	})

	t.Run("Stale data is flushed first", func(t *testing.T) {
		src := newFake("garbage from an earlier command\r\nOK\r\n", 0)
		src.replies = map[string]string{
			"AT+CMEE?": "\r\n+CMEE: 2\r\n\r\nOK\r\n",
		}
		h := newHandler(src)

		if !h.Sync(time.Second) {
			t.Errorf("expected Sync() to succeed, got %v", h.LastError())
		}
	})

	t.Run("Silent modem", func(t *testing.T) {
		src := newFake("", 0)
		h := newHandler(src)

		if h.Sync(10 * time.Millisecond) {
			t.Error("expected Sync() to fail")
		}
		if !errors.Is(h.LastError(), at.ErrDevice) {
			t.Errorf("expected ErrDevice, got %v", h.LastError())
		}
		if got := src.written.String(); got != "AT+CMEE?\rAT+CMEE?\rAT+CMEE?\r" {
			t.Errorf("expected three attempts, got %q", got)
		}
	})
}

func TestFlush(t *testing.T) {
	src := newFake("leftover\r\n", 3)
	h := newHandler(src)

	h.Flush()
	if len(src.data) != 0 {
		t.Errorf("expected the source to be drained, %q left", src.data)
	}
	src.feed("OK\r\n")
	h.RespStart("")
	if err := h.RespStop(); err != nil {
		t.Errorf("unexpected error from RespStop(): %v", err)
	}
}

func TestErrorString(t *testing.T) {
	tests := []struct {
		name     string
		err      at.Error
		expected string
	}{
		{
			name:     "Timeout",
			err:      at.Error{Kind: at.KindDevice, Reason: "timeout waiting for data"},
			expected: "at: device error: timeout waiting for data",
		},
		{
			name:     "CME error",
			err:      at.Error{Kind: at.KindDevice, Device: at.DeviceError{Type: at.DeviceErrCME, Code: 10}},
			expected: "at: device error: +CME ERROR 10",
		},
		{
			name:     "Unsupported with cause",
			err:      at.Error{Kind: at.KindUnsupported, Reason: "poll", Cause: io.EOF},
			expected: "at: unsupported operation: poll: EOF",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}
