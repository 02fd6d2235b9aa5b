// Command chatterflow-server hosts a compiled ChatterLang graph per user
// session behind the streaming HTTP surface.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/chatterflow/chatterflow/engine/bridge"
	_ "github.com/chatterflow/chatterflow/engine/graph"
	_ "github.com/chatterflow/chatterflow/engine/semantic"
	"github.com/chatterflow/chatterflow/engine/server"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := server.FromEnv()
	cfg.Logger = logger

	// SCRIPT_FILE takes precedence over the inline SCRIPT knob.
	if path := os.Getenv("SCRIPT_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Error("read script file", "path", path, "err", err)
			os.Exit(1)
		}
		cfg.Script = string(data)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg server.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(cfg)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}
