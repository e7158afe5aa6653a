// Package main implements the entry point for the streamfan service:
// an HTTP ingest gateway that batches tracking events and fans them out
// to JetStream destinations selected by a routing key.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/c360/streamfan/config"
	gwhttp "github.com/c360/streamfan/gateway/http"
	"github.com/c360/streamfan/metric"
	"github.com/c360/streamfan/producer"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "streamfan"
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
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := loadConfiguration(cliCfg)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	metrics := metric.NewRegistry()

	registry, err := producer.NewRegistry(cfg,
		producer.WithLogger(logger),
		producer.WithMetrics(metrics),
	)
	if err != nil {
		return fmt.Errorf("build producer registry: %w", err)
	}

	gateway, err := gwhttp.NewGateway(cfg.Gateway, registry,
		gwhttp.WithLogger(logger),
		gwhttp.WithMetrics(metrics),
	)
	if err != nil {
		return fmt.Errorf("build gateway: %w", err)
	}

	return serve(registry, gateway, logger)
}

// serve runs the gateway until SIGINT/SIGTERM, then drains every
// producer exactly once before exiting.
func serve(registry *producer.Registry, gateway *gwhttp.Gateway, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return gateway.Serve(groupCtx)
	})

	<-groupCtx.Done()
	logger.Info("shutdown requested, draining producers")

	serveErr := group.Wait()

	// Synchronous flush: drain every buffer and wait for in-flight
	// sends before the process exits.
	if err := registry.FlushAll(true); err != nil {
		logger.Error("final flush incomplete, messages may be lost", "error", err)
		if serveErr == nil {
			serveErr = err
		}
	}

	logger.Info("shutdown complete")
	return serveErr
}

// loadConfiguration loads the layered configuration; Load validates it.
func loadConfiguration(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	loader.AddLayer(cliCfg.ConfigPath)

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cliCfg.ConfigPath, err)
	}
	return cfg, nil
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting streamfan (event ingest and fan-out)",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}
