// Package main implements the entry point for the IoT data bridge.
// The bridge subscribes to gateway telemetry, maps equipment readings to
// canonical objects, resolves target devices and delivers each object
// over the device's transport, logging every outcome.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/PopoGonry/iot-data-bridge/bridge"
	"github.com/PopoGonry/iot-data-bridge/catalog"
	"github.com/PopoGonry/iot-data-bridge/config"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "iotbridge"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("bridge failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s (built %s)\n", appName, Version, BuildTime)
		return nil
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// CLI overrides win over file settings.
	if cliCfg.LogLevel != "" {
		cfg.Logging.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Logging.Format = cliCfg.LogFormat
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		return validateOnly(cfg)
	}

	slog.Info("starting bridge",
		"version", Version,
		"config_path", cliCfg.ConfigPath,
		"nats_url", cfg.NATS.URL,
		"ingress_subject", cfg.Ingress.Subject)

	svc, err := bridge.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return svc.Run(ctx)
}

// validateOnly checks the configuration and both catalogs without
// connecting anywhere.
func validateOnly(cfg config.Config) error {
	mappings, err := catalog.LoadMappingCatalog(cfg.Catalogs.MappingPath)
	if err != nil {
		return fmt.Errorf("mapping catalog: %w", err)
	}
	devices, err := catalog.LoadDeviceCatalog(cfg.Catalogs.DevicePath)
	if err != nil {
		return fmt.Errorf("device catalog: %w", err)
	}

	slog.Info("configuration is valid",
		"mapping_rules", mappings.Len(),
		"objects", devices.Objects())
	return nil
}
