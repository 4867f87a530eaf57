// Command pilot is the entry point for the oracle-vs-venue pilot. It loads
// configuration, validates it, wires dependencies, sets up signal handling,
// and runs one of three subcommands:
//
//	pilot run    — start the configured mode (pilot, monitor, report)
//	pilot halt   — publish the kill switch on pilot.control
//	pilot report — print the session summary and exit
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rstover-fo/oraclepilot/internal/app"
	redisbus "github.com/rstover-fo/oraclepilot/internal/bus/redis"
	"github.com/rstover-fo/oraclepilot/internal/config"
	"github.com/rstover-fo/oraclepilot/internal/domain"
)

func main() {
	cmd := "run"
	args := os.Args[1:]
	if len(args) > 0 && args[0][0] != '-' {
		cmd = args[0]
		args = args[1:]
	}

	flags := flag.NewFlagSet(cmd, flag.ExitOnError)
	configPath := flags.String("config", "config.toml", "path to configuration file")
	_ = flags.Parse(args)

	// Bootstrap logger until the config-level one is built.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	switch cmd {
	case "run":
		runMain(cfg, *configPath, logger)
	case "halt":
		haltMain(cfg, logger)
	case "report":
		cfg.Mode = "report"
		runMain(cfg, *configPath, logger)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (valid: run, halt, report)\n", cmd)
		os.Exit(2)
	}
}

// runMain validates the config and runs the application until a signal.
func runMain(cfg *config.Config, configPath string, logger *slog.Logger) {
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("pilot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", configPath),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		// context.Canceled is expected on clean shutdown.
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	}

	logger.Info("pilot stopped")
}

// haltMain publishes the kill switch and exits. Every running agent halts
// new activity when the command lands; in-flight writes finish first.
func haltMain(cfg *config.Config, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := redisbus.New(ctx, redisbus.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		logger.Error("redis connect failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer client.Close()

	bus := redisbus.NewSignalBus(client)
	payload, _ := json.Marshal(domain.ControlCommand{
		Command:  domain.ControlHalt,
		Origin:   "cli",
		IssuedAt: time.Now().UTC(),
	})
	if err := bus.Publish(ctx, domain.ChanControl, payload); err != nil {
		logger.Error("halt publish failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("kill switch published")
}
