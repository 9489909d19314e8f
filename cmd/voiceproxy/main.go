// Command voiceproxy bridges voice-agent clients to a realtime speech
// provider: it terminates the client websocket protocol on one side and
// speaks the provider's event protocol on the other, translating between
// the two per session.
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

	"github.com/Signal-Meaning/dg-react-agent-sub013/internal/config"
	"github.com/Signal-Meaning/dg-react-agent-sub013/internal/observe"
	"github.com/Signal-Meaning/dg-react-agent-sub013/internal/server"
)

// version is stamped by the build; "dev" otherwise.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = flag.String("config", "", "path to the YAML config file (optional; defaults apply without one)")
		debug      = flag.Bool("debug", false, "force debug logging regardless of config")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "voiceproxy:", err)
		return 1
	}

	level := cfg.Server.LogLevel.Slog()
	if *debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voiceproxy",
		ServiceVersion: version,
	})
	if err != nil {
		log.Error("init metrics provider", slog.Any("error", err))
		return 1
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Error("shutdown metrics provider", slog.Any("error", err))
		}
	}()

	log.Info("starting voiceproxy",
		slog.String("version", version),
		slog.String("listen", cfg.Server.ListenAddr),
		slog.String("path", cfg.Server.Path),
		slog.String("upstream", cfg.Upstream.URL),
		slog.String("model", cfg.Upstream.Model))

	srv := server.New(cfg, observe.DefaultMetrics(), log)
	if err := srv.Run(ctx); err != nil {
		log.Error("server failed", slog.Any("error", err))
		return 1
	}

	log.Info("shutdown complete")
	return 0
}

// loadConfig reads the config file when one is given; otherwise it builds
// the default configuration from the environment. Both paths validate.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg := config.Default()
	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, errors.Join(errors.New("invalid configuration"), err)
	}
	return cfg, nil
}
