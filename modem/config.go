package modem

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
)

// Config holds the settings of a Modem. Use NewConfigBuilder to create one.
type Config struct {
	Dialer Dialer
	SimPIN string
	// MinSendInterval is the minimum time between two SendSMS calls.
	MinSendInterval time.Duration
	// ATTimeout bounds every wait for modem data during a command.
	ATTimeout time.Duration
	// InitTimeout bounds the whole initialization sequence in New.
	InitTimeout time.Duration
	// SendTimeout bounds the network confirmation of AT+CMGS.
	SendTimeout time.Duration
	// ScanTimeout bounds the operator scan of AT+COPS=?.
	ScanTimeout time.Duration
	// PollInterval is the URC polling period of Loop.
	PollInterval time.Duration
	// URCBuffer is the capacity of the channel returned by URC.
	URCBuffer int
	// BufferSize is the receive buffer size of the AT engine.
	BufferSize int
	// Debug logs all AT traffic at debug level.
	Debug  bool
	Logger *zap.Logger
}

func (c *Config) validate() error {
	if c.Dialer == nil {
		return ErrNoDialer
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.MinSendInterval == 0 {
		c.MinSendInterval = time.Minute / 30
	}
	if c.ATTimeout == 0 {
		c.ATTimeout = 5 * time.Second
	}
	if c.InitTimeout == 0 {
		c.InitTimeout = 30 * time.Second
	}
	if c.SendTimeout == 0 {
		c.SendTimeout = time.Minute
	}
	if c.ScanTimeout == 0 {
		c.ScanTimeout = 3 * time.Minute
	}
	if c.PollInterval == 0 {
		c.PollInterval = 200 * time.Millisecond
	}
	if c.URCBuffer == 0 {
		c.URCBuffer = 100
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// ConfigBuilder builds a validated Config.
type ConfigBuilder struct {
	config Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.Dialer = d
	return b
}

func (b *ConfigBuilder) WithSimPIN(pin string) *ConfigBuilder {
	b.config.SimPIN = pin
	return b
}

func (b *ConfigBuilder) WithMinSendInterval(d time.Duration) *ConfigBuilder {
	b.config.MinSendInterval = d
	return b
}

func (b *ConfigBuilder) WithATTimeout(d time.Duration) *ConfigBuilder {
	b.config.ATTimeout = d
	return b
}

func (b *ConfigBuilder) WithInitTimeout(d time.Duration) *ConfigBuilder {
	b.config.InitTimeout = d
	return b
}

func (b *ConfigBuilder) WithSendTimeout(d time.Duration) *ConfigBuilder {
	b.config.SendTimeout = d
	return b
}

func (b *ConfigBuilder) WithPollInterval(d time.Duration) *ConfigBuilder {
	b.config.PollInterval = d
	return b
}

func (b *ConfigBuilder) WithLogger(l *zap.Logger) *ConfigBuilder {
	b.config.Logger = l
	return b
}

func (b *ConfigBuilder) WithDebug(on bool) *ConfigBuilder {
	b.config.Debug = on
	return b
}

// Build applies defaults and validates the configuration.
func (b *ConfigBuilder) Build() (Config, error) {
	c := b.config
	c.setDefaults()
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// FileConfig is the [modem] table of a TOML configuration file. Fields not
// present in the file are left zero.
type FileConfig struct {
	Port            string
	BaudRate        int
	Address         string
	SimPIN          string
	Trace           bool
	Debug           bool
	ATTimeout       time.Duration
	InitTimeout     time.Duration
	SendTimeout     time.Duration
	MinSendInterval time.Duration
	PollInterval    time.Duration
}

type fileDoc struct {
	Modem struct {
		Port            string `toml:"port"`
		BaudRate        int    `toml:"baud_rate"`
		Address         string `toml:"address"`
		SimPIN          string `toml:"sim_pin"`
		Trace           bool   `toml:"trace"`
		Debug           bool   `toml:"debug"`
		ATTimeout       string `toml:"at_timeout"`
		InitTimeout     string `toml:"init_timeout"`
		SendTimeout     string `toml:"send_timeout"`
		MinSendInterval string `toml:"min_send_interval"`
		PollInterval    string `toml:"poll_interval"`
	} `toml:"modem"`
}

// LoadConfigFile reads the [modem] table of the TOML file at path.
// Durations are written as Go duration strings, e.g. at_timeout = "5s".
func LoadConfigFile(path string) (FileConfig, error) {
	var doc fileDoc
	meta, err := toml.DecodeFile(path, &doc)
	if err != nil {
		return FileConfig{}, fmt.Errorf("load modem config: %w", err)
	}

	raw := doc.Modem
	fc := FileConfig{
		Port:     strings.TrimSpace(raw.Port),
		BaudRate: raw.BaudRate,
		Address:  strings.TrimSpace(raw.Address),
		SimPIN:   raw.SimPIN,
		Trace:    raw.Trace,
		Debug:    raw.Debug,
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"at_timeout", raw.ATTimeout, &fc.ATTimeout},
		{"init_timeout", raw.InitTimeout, &fc.InitTimeout},
		{"send_timeout", raw.SendTimeout, &fc.SendTimeout},
		{"min_send_interval", raw.MinSendInterval, &fc.MinSendInterval},
		{"poll_interval", raw.PollInterval, &fc.PollInterval},
	}
	for _, d := range durations {
		if !meta.IsDefined("modem", d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return FileConfig{}, fmt.Errorf("parse modem.%s: %w", d.key, err)
		}
		*d.dst = v
	}
	return fc, nil
}

// Dialer returns a StreamDialer when an address is configured and a
// SerialDialer otherwise.
func (fc FileConfig) Dialer() Dialer {
	if fc.Address != "" {
		return StreamDialer{Address: fc.Address}
	}
	return SerialDialer{PortName: fc.Port, BaudRate: fc.BaudRate, Trace: fc.Trace}
}

// Apply copies the settings present in the file onto b.
func (fc FileConfig) Apply(b *ConfigBuilder) *ConfigBuilder {
	if fc.Port != "" || fc.Address != "" {
		b.WithDialer(fc.Dialer())
	}
	if fc.SimPIN != "" {
		b.WithSimPIN(fc.SimPIN)
	}
	if fc.Debug {
		b.WithDebug(true)
	}
	if fc.ATTimeout > 0 {
		b.WithATTimeout(fc.ATTimeout)
	}
	if fc.InitTimeout > 0 {
		b.WithInitTimeout(fc.InitTimeout)
	}
	if fc.SendTimeout > 0 {
		b.WithSendTimeout(fc.SendTimeout)
	}
	if fc.MinSendInterval > 0 {
		b.WithMinSendInterval(fc.MinSendInterval)
	}
	if fc.PollInterval > 0 {
		b.WithPollInterval(fc.PollInterval)
	}
	return b
}
