// Command chinesetutor talks to an ElevenLabs Chinese tutor agent and keeps the
// vocabulary it teaches for later review.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/chinesetutor/internal/cli"
	"github.com/MrWong99/chinesetutor/internal/config"
	"github.com/MrWong99/chinesetutor/internal/observe"
	"github.com/MrWong99/chinesetutor/pkg/audio"
	"github.com/MrWong99/chinesetutor/pkg/audio/local"
	audiomock "github.com/MrWong99/chinesetutor/pkg/audio/mock"
	"github.com/MrWong99/chinesetutor/pkg/provider/convai"
	"github.com/MrWong99/chinesetutor/pkg/provider/convai/elevenlabs"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: chinesetutor [-config path] [-verbose] <chat|list|review|serve> [flags]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath, config.AllowMissing(), config.WithDotEnv(".env"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "chinesetutor: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.SlogLevel())
	if *verbose {
		level.Set(slog.LevelDebug)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Debug("chinesetutor starting",
		"version", version,
		"config", *configPath,
		"agent_id", config.MaskAgentID(cfg.Agent.AgentID),
		"agent_provider", cfg.Agent.Provider,
		"audio_provider", cfg.Audio.Provider,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := cli.New(cfg, reg,
		cli.WithConfigPath(*configPath),
		cli.WithLogLevel(level),
	)
	return r.Run(ctx, flag.Args(), os.Stdout, os.Stderr)
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the agent transports and audio platforms that
// ship with chinesetutor into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Agent ─────────────────────────────────────────────────────────────────

	reg.RegisterAgent("elevenlabs", func(entry config.AgentConfig) (convai.Provider, error) {
		var opts []elevenlabs.Option
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if entry.APIBaseURL != "" {
			opts = append(opts, elevenlabs.WithAPIBaseURL(entry.APIBaseURL))
		}
		return elevenlabs.New(opts...), nil
	})

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("local", func(config.AudioConfig) (audio.Platform, error) {
		return local.New(), nil
	})

	// The mock platform has no devices; the agent is neither heard nor spoken to.
	reg.RegisterAudio("mock", func(config.AudioConfig) (audio.Platform, error) {
		return &audiomock.Platform{}, nil
	})

	slog.Debug("registered providers", "agent", []string{"elevenlabs"}, "audio", []string{"local", "mock"})
}
