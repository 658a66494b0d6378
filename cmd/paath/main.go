// Command paath is the main entry point for the paath recitation server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/MrWong99/paath/internal/app"
	"github.com/MrWong99/paath/internal/config"
	"github.com/MrWong99/paath/internal/observe"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (built-in defaults when empty)")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("paath", version)
		return 0
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	// ── Load configuration ────────────────────────────────────────────────────
	// The watcher callback may fire before the app exists.
	var current atomic.Pointer[app.App]
	var (
		cfg     *config.Config
		watcher *config.Watcher
		err     error
	)
	if *configPath == "" {
		cfg = config.Default()
	} else {
		watcher, err = config.NewWatcher(*configPath, func(old, new *config.Config) {
			if a := current.Load(); a != nil {
				a.ApplyConfig(old, new)
			}
		}, config.WithLogger(logger))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(os.Stderr, "paath: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
			} else {
				fmt.Fprintf(os.Stderr, "paath: %v\n", err)
			}
			return 1
		}
		defer watcher.Stop()
		cfg = watcher.Current()
	}
	level.Set(app.SlogLevel(cfg.Server.LogLevel))

	slog.Info("paath starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel := cfg.Telemetry
	exporter, err := observe.NewTraceExporter(ctx, tel.TraceExporter, tel.OTLPEndpoint, tel.OTLPInsecure, nil)
	if err != nil {
		slog.Error("failed to create trace exporter", "err", err)
		return 1
	}
	providers, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    tel.ServiceName,
		ServiceVersion: version,
		TraceExporter:  exporter,
		SampleRatio:    tel.SampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg,
		app.WithVersion(version),
		app.WithTelemetry(providers),
		app.WithLogger(logger),
		app.WithLevelVar(&level),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	current.Store(application)

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	// Run already shut down on cancel; this covers a serve failure.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.DefaultShutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          paath · startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Listen addr", cfg.Server.ListenAddr)
	reference := cfg.Reference.Path
	if reference == "" {
		reference = "(built-in)"
	}
	printRow("Reference", reference)
	printRow("Strictness", cfg.Aligner.Strictness)
	printRow("Comparer", cfg.Comparer.Primary.Name)
	printRow("Fallbacks", fmt.Sprintf("%d", len(cfg.Comparer.Fallbacks)))
	printRow("Realtime", onOff(cfg.Recitation.Realtime()))
	switch {
	case !cfg.Bus.Enabled:
		printRow("NATS bus", "(disabled)")
	case cfg.Bus.Embedded:
		printRow("NATS bus", "embedded")
	default:
		printRow("NATS bus", cfg.Bus.Servers)
	}
	if cfg.MCP.Enabled {
		printRow("MCP", cfg.MCP.Path)
	} else {
		printRow("MCP", "(disabled)")
	}
	printRow("Tracing", cfg.Telemetry.TraceExporter)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
