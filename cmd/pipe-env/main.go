package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cartpole-pipe-rl/internal/buffer"
	"cartpole-pipe-rl/internal/cartpole"
	"cartpole-pipe-rl/internal/channel"
	"cartpole-pipe-rl/internal/config"
	"cartpole-pipe-rl/internal/episode"
	"cartpole-pipe-rl/internal/logs"
	"cartpole-pipe-rl/internal/protocol"
	"cartpole-pipe-rl/internal/session"
)

func main() {
	configPath := flag.String("config", os.Getenv("PIPE_CONFIG"), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pipe-env: %v\n", err)
		os.Exit(2)
	}
	logger, closeLog, err := logs.New(logs.Options{
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		Journal: cfg.Log.Journal,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "pipe-env: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, cfg, logger)
	stop()
	_ = closeLog()
	os.Exit(code)
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) int {
	s, history, err := newSession(ctx, cfg, logger)
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		logger.Error("setup failed", "kind", protocol.Kind(err), "error", err)
		return 2
	}

	if cfg.StatsAddr != "" {
		server := &http.Server{
			Addr:              cfg.StatsAddr,
			Handler:           statsHandler(s, history),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("stats listening", "addr", cfg.StatsAddr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("stats server", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("session starting",
		"session", cfg.SessionID,
		"profile", cfg.Profile,
		"mode", cfg.Mode,
		"out", cfg.Pipes.Out,
		"in", cfg.Pipes.In,
		"max_steps", cfg.Episode.MaxSteps,
		"shaping", cfg.Episode.Shaping,
	)
	err = s.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("session stopped", "stats", s.Stats())
		return 0
	}
	logger.Error("session failed", "kind", protocol.Kind(err), "error", err)
	return 1
}

func newSession(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*session.Session, *buffer.Ring, error) {
	obsCodec, actCodec, err := cfg.Codecs()
	if err != nil {
		return nil, nil, err
	}
	mode, err := session.ParseMode(cfg.Mode)
	if err != nil {
		return nil, nil, err
	}

	backoff := channel.Backoff{Poll: cfg.Retry.BackoffPoll, Initial: cfg.Retry.BackoffInitial, Max: cfg.Retry.BackoffMax}
	out := &channel.Channel{Path: cfg.Pipes.Out, Create: cfg.Pipes.Create, Backoff: backoff, Logger: logger}
	in := out
	if cfg.Pipes.In != cfg.Pipes.Out {
		in = &channel.Channel{Path: cfg.Pipes.In, Create: cfg.Pipes.Create, Backoff: backoff, Logger: logger}
	}
	for _, ch := range []*channel.Channel{out, in} {
		if err := ch.Prepare(ctx); err != nil {
			return nil, nil, err
		}
	}

	s := &session.Session{
		ID:               cfg.SessionID,
		Out:              out,
		In:               in,
		OutCodec:         obsCodec,
		InCodec:          actCodec,
		Mode:             mode,
		MaxAbsentFrames:  cfg.Retry.MaxAbsentFrames,
		MaxCorruptFrames: cfg.Retry.MaxCorruptFrames,
		RecordSteps:      cfg.Trajectories.Steps,
		Logger:           logger,
		Initial: protocol.Message{
			Inputs:  make([]float64, cfg.Inputs),
			Outputs: make([]float64, cfg.Outputs),
		},
	}
	if mode == session.ModeEcho {
		return s, nil, nil
	}

	episodeLog, err := episode.NewLog(cfg.Episode.Log)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("recording episodes", "path", episodeLog.Path())
	shaper, err := cfg.Shaper()
	if err != nil {
		return nil, nil, err
	}
	if s.Tracker, err = episode.NewTracker(cfg.Episode.MaxSteps, shaper, episodeLog); err != nil {
		return nil, nil, err
	}
	s.Env = cartpole.NewSim(cfg.Seed)

	var history *buffer.Ring
	if cfg.Trajectories.History > 0 {
		if history, err = buffer.NewRing(cfg.Trajectories.History); err != nil {
			return nil, nil, err
		}
		s.Sinks = append(s.Sinks, history)
	}
	if cfg.Trajectories.Path != "" {
		recorder, err := buffer.NewRecorder(cfg.Trajectories.Path, cfg.Trajectories.Steps)
		if err != nil {
			return nil, nil, err
		}
		s.Sinks = append(s.Sinks, recorder)
	}
	return s, history, nil
}

func statsHandler(s *session.Session, history *buffer.Ring) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		payload := map[string]any{
			"session": s.Stats(),
		}
		if history != nil {
			payload["recent_episodes"] = history.Snapshot()
			payload["history_capacity"] = history.Capacity()
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	})
	return mux
}
