package modem_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"i4.energy/across/atengine/modem"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestConfig(t *testing.T) {
	t.Run("ErrNoDialer when no dialer provided", func(t *testing.T) {
		_, err := modem.NewConfigBuilder().Build()

		if err != modem.ErrNoDialer {
			t.Errorf("expected ErrNoDialer, got: %v", err)
		}
	})

	t.Run("Defaults", func(t *testing.T) {
		config, err := modem.NewConfigBuilder().
			WithDialer(modem.SerialDialer{PortName: "/dev/ttyUSB0"}).
			Build()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if config.ATTimeout != 5*time.Second {
			t.Errorf("expected ATTimeout 5s, got %v", config.ATTimeout)
		}
		if config.MinSendInterval != 2*time.Second {
			t.Errorf("expected MinSendInterval 2s, got %v", config.MinSendInterval)
		}
		if config.PollInterval != 200*time.Millisecond {
			t.Errorf("expected PollInterval 200ms, got %v", config.PollInterval)
		}
		if config.URCBuffer != 100 {
			t.Errorf("expected URCBuffer 100, got %d", config.URCBuffer)
		}
		if config.Logger == nil {
			t.Error("expected a default logger")
		}
	})

	t.Run("Builder values win over defaults", func(t *testing.T) {
		config, err := modem.NewConfigBuilder().
			WithDialer(modem.SerialDialer{PortName: "/dev/ttyUSB0"}).
			WithATTimeout(time.Second).
			WithSendTimeout(2 * time.Minute).
			WithSimPIN("0000").
			Build()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if config.ATTimeout != time.Second || config.SendTimeout != 2*time.Minute || config.SimPIN != "0000" {
			t.Errorf("builder values lost: %+v", config)
		}
	})
}

func TestLoadConfigFile(t *testing.T) {
	t.Run("Serial modem", func(t *testing.T) {
		path := writeConfig(t, `
[http]
addr = ":8080"

[modem]
port = " /dev/ttyUSB2 "
baud_rate = 9600
sim_pin = "1234"
trace = true
at_timeout = "3s"
min_send_interval = "500ms"
`)
		fc, err := modem.LoadConfigFile(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if fc.Port != "/dev/ttyUSB2" || fc.BaudRate != 9600 || fc.SimPIN != "1234" || !fc.Trace {
			t.Errorf("unexpected file config: %+v", fc)
		}
		if fc.ATTimeout != 3*time.Second || fc.MinSendInterval != 500*time.Millisecond {
			t.Errorf("unexpected durations: %+v", fc)
		}
		if fc.SendTimeout != 0 {
			t.Errorf("absent duration should stay zero, got %v", fc.SendTimeout)
		}

		d, ok := fc.Dialer().(modem.SerialDialer)
		if !ok {
			t.Fatalf("expected SerialDialer, got %T", fc.Dialer())
		}
		if d.PortName != "/dev/ttyUSB2" || d.BaudRate != 9600 || !d.Trace {
			t.Errorf("unexpected dialer: %+v", d)
		}

		config, err := fc.Apply(modem.NewConfigBuilder()).Build()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if config.ATTimeout != 3*time.Second || config.SimPIN != "1234" {
			t.Errorf("file settings not applied: %+v", config)
		}
		if config.SendTimeout != time.Minute {
			t.Errorf("expected default SendTimeout, got %v", config.SendTimeout)
		}
	})

	t.Run("Emulator address", func(t *testing.T) {
		path := writeConfig(t, "[modem]\naddress = \"127.0.0.1:7000\"\n")
		fc, err := modem.LoadConfigFile(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if d, ok := fc.Dialer().(modem.StreamDialer); !ok || d.Address != "127.0.0.1:7000" {
			t.Errorf("expected StreamDialer for 127.0.0.1:7000, got %#v", fc.Dialer())
		}
	})

	t.Run("No modem table leaves the builder without dialer", func(t *testing.T) {
		path := writeConfig(t, "[http]\naddr = \":8080\"\n")
		fc, err := modem.LoadConfigFile(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := fc.Apply(modem.NewConfigBuilder()).Build(); err != modem.ErrNoDialer {
			t.Errorf("expected ErrNoDialer, got: %v", err)
		}
	})

	t.Run("Invalid duration", func(t *testing.T) {
		path := writeConfig(t, "[modem]\nport = \"/dev/ttyUSB0\"\nsend_timeout = \"soon\"\n")
		_, err := modem.LoadConfigFile(path)
		if err == nil || !strings.Contains(err.Error(), "modem.send_timeout") {
			t.Errorf("expected an error naming modem.send_timeout, got: %v", err)
		}
	})

	t.Run("Missing file", func(t *testing.T) {
		_, err := modem.LoadConfigFile(filepath.Join(t.TempDir(), "absent.toml"))
		if err == nil {
			t.Error("expected an error for a missing file")
		}
	})

	t.Run("Malformed TOML", func(t *testing.T) {
		path := writeConfig(t, "[modem\nport = ")
		if _, err := modem.LoadConfigFile(path); err == nil {
			t.Error("expected a parse error")
		}
	})
}
