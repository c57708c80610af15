// blk-reconnect exercises a BLE peripheral that reboots between its
// application and OTA bootloader images (like the SiLabs apploader),
// verifying that mode detection and reconnection stay in sync across
// the endless disconnect/reconnect churn.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chaz8081/blk-reconnect/internal/ble"
	"github.com/chaz8081/blk-reconnect/internal/config"
	"github.com/chaz8081/blk-reconnect/internal/cycle"
)

func main() {
	var (
		configPath string
		device     string
		reliable   bool
		cycles     int
	)
	flag.StringVar(&configPath, "config", "", "path to config file (default: ~/.config/blk-reconnect/config.yaml)")
	flag.StringVar(&device, "device", "", "device to connect to (address or advertised name)")
	flag.StringVar(&device, "d", "", "shorthand for -device")
	flag.BoolVar(&reliable, "reliable", false, "use acknowledged writes, slower, but more reliable")
	flag.IntVar(&cycles, "cycles", 0, "stop after this many mode transitions (0 = run forever)")
	flag.Parse()

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// Flags override the config file.
	if device != "" {
		cfg.Device = device
	}
	if reliable {
		cfg.Reliable = true
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config validation: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cycler := cycle.New(ble.NewStackAdapter(), cfg.Device, cycle.Options{
		ReliableWrites:    cfg.Reliable,
		ReconnectInterval: time.Duration(cfg.ReconnectInterval),
		SettleDelay:       time.Duration(cfg.SettleDelay),
		MaxCycles:         cycles,
	})

	slog.Info("starting", "device", cfg.Device, "reliable", cfg.Reliable, "cycles", cycles)
	if err := cycler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("cycler stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("main done")
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		slog.Info("config loaded", "path", defaultPath)
		return cfg, nil
	}

	return config.Default(), nil
}
