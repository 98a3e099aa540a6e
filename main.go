package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"i4.energy/across/atengine/modem"
)

func main() {
	registerFlags(flag.CommandLine)
	flag.Parse()

	config, err := LoadConfig(
		WithDefaults(),
		WithFile(flag.Lookup("config").Value.String()),
		WithEnv(),
		WithFlags(flag.CommandLine),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(config.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	mc, err := modemConfig(config, logger)
	if err != nil {
		logger.Fatal("Failed to create modem config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m, err := modem.New(ctx, mc)
	if err != nil {
		logger.Fatal("Failed to create modem", zap.Error(err))
	}

	logger.Info("Starting SMS Gateway", zap.String("serial_port", config.SerialPort))

	urcs := NewURCBus()
	go urcs.Run(ctx, m.URC())
	go func() {
		if err := m.Loop(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, modem.ErrAlreadyClosed) {
			logger.Error("Modem loop stopped", zap.Error(err))
			stop()
		}
	}()

	httpServer := &http.Server{
		Addr: config.BindAddress,
		Handler: &Server{
			Logger: logger.With(zap.String("component", "server")),
			Modem:  m,
			URCs:   urcs,
			Token:  config.HTTPToken,
		},
	}

	// Start HTTP server in a goroutine
	go func() {
		logger.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("Closing HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to gracefully shutdown server", zap.Error(err))
	}

	logger.Info("Closing modem connection")
	if err := m.Close(); err != nil {
		logger.Error("Failed to close modem", zap.Error(err))
	}
}

// newLogger builds a JSON production logger, or a console development
// logger for the debug level.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	if level == "debug" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = lvl
	return cfg.Build()
}

// modemConfig builds the modem configuration from the gateway settings.
func modemConfig(config *Config, logger *zap.Logger) (modem.Config, error) {
	b := config.Modem.Apply(modem.NewConfigBuilder()).
		WithSimPIN(config.SimPIN).
		WithLogger(logger).
		WithDebug(config.Modem.Debug || config.LogLevel == "debug")

	if config.Modem.Address != "" {
		b.WithDialer(modem.StreamDialer{Address: config.Modem.Address})
	} else {
		b.WithDialer(modem.SerialDialer{
			PortName: config.SerialPort,
			BaudRate: config.BaudRate,
			Trace:    config.Modem.Trace,
		})
	}
	return b.Build()
}
