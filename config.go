package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"i4.energy/across/atengine/modem"
)

// Config holds the application configuration
type Config struct {
	// BindAddress is the address the server listens on (e.g. "0.0.0.0:8080")
	BindAddress string
	// SerialPort is the path to the modem's serial port (e.g. "/dev/ttyUSB0")
	SerialPort string
	// BaudRate is the baud rate for serial communication with the modem (e.g. 115200)
	BaudRate int
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string
	// SimPIN is the SIM card PIN code
	SimPIN string
	// HTTPToken, when set, is required as "Authorization: Bearer <token>"
	HTTPToken string
	// Modem holds the [modem] table of the configuration file
	Modem modem.FileConfig
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "0.0.0.0:8080"
		c.SerialPort = "/dev/ttyUSB0"
		c.BaudRate = modem.DefaultBaudRate
		c.LogLevel = "info"
		return nil
	}
}

// WithFile loads a TOML configuration file. The [http] table configures the
// gateway, the [modem] table the modem. Keys absent from the file keep their
// current value. An empty path is ignored.
func WithFile(path string) ConfigOption {
	return func(c *Config) error {
		if path == "" {
			return nil
		}

		var doc struct {
			HTTP struct {
				BindAddress string `toml:"bind_address"`
				Token       string `toml:"token"`
				LogLevel    string `toml:"log_level"`
			} `toml:"http"`
		}
		meta, err := toml.DecodeFile(path, &doc)
		if err != nil {
			return fmt.Errorf("load config %s: %w", path, err)
		}
		if meta.IsDefined("http", "bind_address") {
			c.BindAddress = doc.HTTP.BindAddress
		}
		if meta.IsDefined("http", "token") {
			c.HTTPToken = doc.HTTP.Token
		}
		if meta.IsDefined("http", "log_level") {
			c.LogLevel = doc.HTTP.LogLevel
		}

		fc, err := modem.LoadConfigFile(path)
		if err != nil {
			return err
		}
		c.Modem = fc
		if fc.Port != "" {
			c.SerialPort = fc.Port
		}
		if fc.BaudRate > 0 {
			c.BaudRate = fc.BaudRate
		}
		if fc.SimPIN != "" {
			c.SimPIN = fc.SimPIN
		}
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		if addr := os.Getenv("BIND_ADDRESS"); addr != "" {
			c.BindAddress = addr
		}

		if serial := os.Getenv("SERIAL_PORT"); serial != "" {
			c.SerialPort = serial
		}

		if baud := os.Getenv("BAUD_RATE"); baud != "" {
			b, err := strconv.Atoi(baud)
			if err != nil {
				return fmt.Errorf("BAUD_RATE: %w", err)
			}
			c.BaudRate = b
		}

		if level := os.Getenv("LOG_LEVEL"); level != "" {
			c.LogLevel = level
		}

		if simPIN := os.Getenv("SIM_PIN"); simPIN != "" {
			c.SimPIN = simPIN
		}

		if token := os.Getenv("HTTP_TOKEN"); token != "" {
			c.HTTPToken = token
		}

		return nil
	}
}

// registerFlags defines the command-line flags read by WithFlags.
func registerFlags(fSet *flag.FlagSet) {
	fSet.String("config", "", "Path to a TOML configuration file")
	fSet.String("serial-port", "/dev/ttyUSB0", "Serial port to connect to the modem")
	fSet.Int("baud-rate", modem.DefaultBaudRate, "Baud rate for serial communication")
	fSet.String("bind-address", "0.0.0.0:8080", "Bind address for the HTTP server")
	fSet.String("log-level", "info", "Log level (debug, info, warn, error)")
	fSet.String("sim-pin", "", "SIM card PIN code (if required)")
	fSet.String("http-token", "", "Bearer token required by the HTTP API")
}

// WithFlags loads configuration from command-line flags that were set
// explicitly
func WithFlags(fSet *flag.FlagSet) ConfigOption {
	return func(c *Config) error {
		var err error
		fSet.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "bind-address":
				c.BindAddress = f.Value.String()
			case "serial-port":
				c.SerialPort = f.Value.String()
			case "baud-rate":
				b, convErr := strconv.Atoi(f.Value.String())
				if convErr != nil {
					err = fmt.Errorf("-baud-rate: %w", convErr)
					return
				}
				c.BaudRate = b
			case "log-level":
				c.LogLevel = f.Value.String()
			case "sim-pin":
				c.SimPIN = f.Value.String()
			case "http-token":
				c.HTTPToken = f.Value.String()
			}
		})
		return err
	}
}
