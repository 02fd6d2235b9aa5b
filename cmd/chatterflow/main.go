// Command chatterflow compiles and runs a ChatterLang script from a file
// or from the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "github.com/chatterflow/chatterflow/engine/bridge"
	"github.com/chatterflow/chatterflow/engine/chatterlang"
	_ "github.com/chatterflow/chatterflow/engine/graph"
	"github.com/chatterflow/chatterflow/engine/pipe"
	_ "github.com/chatterflow/chatterflow/engine/semantic"
)

func main() {
	var (
		scriptFile = flag.String("file", "", "path to a ChatterLang script")
		script     = flag.String("script", "", "inline ChatterLang script")
		consts     = flag.String("const", "", "extra constants as k1:v1,k2:v2")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	src := *script
	if *scriptFile != "" {
		data, err := os.ReadFile(*scriptFile)
		if err != nil {
			logger.Error("read script", "path", *scriptFile, "err", err)
			os.Exit(1)
		}
		src = string(data)
	}
	if strings.TrimSpace(src) == "" {
		fmt.Fprintln(os.Stderr, "usage: chatterflow -file script.cl | -script '...'")
		os.Exit(2)
	}

	if err := run(src, *consts, logger); err != nil {
		logger.Error("script failed", "err", err)
		os.Exit(1)
	}
}

func run(src, consts string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt := pipe.NewRuntime()
	rt.Log = logger
	for _, entry := range strings.Split(consts, ",") {
		if entry == "" {
			continue
		}
		k, v, ok := strings.Cut(entry, ":")
		if !ok {
			return fmt.Errorf("bad -const entry %q", entry)
		}
		rt.SetConst(strings.TrimSpace(k), strings.TrimSpace(v))
	}

	compiled, err := chatterlang.Compile(src, rt)
	if err != nil {
		return err
	}
	return pipe.Drain(ctx, compiled.Generate(ctx))
}
