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

	"cartpole-pipe-rl/internal/channel"
	"cartpole-pipe-rl/internal/config"
	"cartpole-pipe-rl/internal/controller"
	"cartpole-pipe-rl/internal/logs"
	"cartpole-pipe-rl/internal/protocol"
)

func main() {
	configPath := flag.String("config", os.Getenv("PIPE_CONFIG"), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pipe-controller: %v\n", err)
		os.Exit(2)
	}
	logger, closeLog, err := logs.New(logs.Options{
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		Journal: cfg.Log.Journal,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "pipe-controller: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, cfg, logger)
	stop()
	_ = closeLog()
	os.Exit(code)
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) int {
	obsCodec, actCodec, err := cfg.Codecs()
	if err != nil {
		logger.Error("setup failed", "error", err)
		return 2
	}

	// The controller reads what the environment writes and vice versa.
	backoff := channel.Backoff{Poll: cfg.Retry.BackoffPoll, Initial: cfg.Retry.BackoffInitial, Max: cfg.Retry.BackoffMax}
	in := &channel.Channel{Path: cfg.Pipes.Out, Create: cfg.Pipes.Create, Backoff: backoff, Logger: logger}
	out := in
	if cfg.Pipes.In != cfg.Pipes.Out {
		out = &channel.Channel{Path: cfg.Pipes.In, Create: cfg.Pipes.Create, Backoff: backoff, Logger: logger}
	}
	for _, ch := range []*channel.Channel{in, out} {
		if err := ch.Prepare(ctx); err != nil {
			if ctx.Err() != nil {
				return 0
			}
			logger.Error("setup failed", "kind", protocol.Kind(err), "error", err)
			return 2
		}
	}

	runner := &controller.Runner{
		In:          in,
		Out:         out,
		InCodec:     obsCodec,
		OutCodec:    actCodec,
		Outputs:     cfg.Outputs,
		Stochastic:  cfg.Controller.Stochastic,
		Seed:        cfg.Seed,
		WeightsPath: cfg.Controller.Weights,
		Logger:      logger,
	}

	logger.Info("controller starting", "profile", cfg.Profile, "in", in.Path, "out", out.Path)
	err = runner.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("controller stopped", "episodes", runner.Episodes())
		return 0
	}
	logger.Error("controller failed", "kind", protocol.Kind(err), "error", err)
	return 1
}
