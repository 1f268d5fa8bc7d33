package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"path/filepath"
	"sync/atomic"

	"cartpole-pipe-rl/internal/protocol"
	"github.com/fsnotify/fsnotify"
)

// Transport moves one frame per call in one direction.
type Transport interface {
	Send(ctx context.Context, frame []byte) error
	Receive(ctx context.Context, codec protocol.Codec) (protocol.Message, error)
}

// Runner is the controller side: it waits for an observation, answers
// with two action scores, and repeats.
type Runner struct {
	In       Transport
	Out      Transport
	InCodec  protocol.Codec
	OutCodec protocol.Codec

	Policy *Policy
	// Outputs is the reply arity agreed for the session. When set, a
	// policy with a different number of scores is rejected.
	Outputs int
	// Stochastic samples the action instead of replying raw scores.
	Stochastic bool
	Seed       int64
	// WeightsPath, when set, is reloaded whenever the file changes.
	WeightsPath string

	Logger *slog.Logger

	policy     atomic.Pointer[Policy]
	episodes   int
	steps      int
	bestReward float64
}

// Run answers observations until ctx ends.
func (r *Runner) Run(ctx context.Context) error {
	if r.In == nil || r.Out == nil || r.InCodec == nil || r.OutCodec == nil {
		return errors.New("runner needs transports and codecs")
	}
	policy := r.Policy
	if r.WeightsPath != "" {
		weights, err := LoadWeights(r.WeightsPath)
		if err != nil {
			return fmt.Errorf("loading weights: %w", err)
		}
		if policy, err = NewPolicy(weights); err != nil {
			return err
		}
	}
	if policy == nil {
		outputs := r.Outputs
		if outputs == 0 {
			outputs = 2
		}
		var err error
		if policy, err = NewPolicy(DefaultWeights(outputs)); err != nil {
			return err
		}
	}
	if err := r.checkArity(policy); err != nil {
		return err
	}
	r.policy.Store(policy)
	if r.WeightsPath != "" {
		go r.watchWeights(ctx)
	}
	r.bestReward = math.Inf(-1)

	rng := rand.New(rand.NewSource(r.Seed))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		obs, err := r.In.Receive(ctx, r.InCodec)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, protocol.ErrFraming) || protocol.Corrupt(err):
			// An empty frame tells the environment to resend.
			r.logger().Warn("bad observation, asking for resend", "kind", protocol.Kind(err), "error", err)
			if err := r.Out.Send(ctx, nil); err != nil {
				return err
			}
			continue
		default:
			return err
		}

		r.observe(obs)

		var outputs []float64
		if r.Stochastic {
			outputs = r.policy.Load().Sample(obs.Inputs, rng)
		} else {
			outputs = r.policy.Load().Scores(obs.Inputs)
		}
		frame, err := r.OutCodec.Encode(protocol.Message{Outputs: outputs})
		if err != nil {
			return fmt.Errorf("encoding reply: %w", err)
		}
		if err := r.Out.Send(ctx, frame); err != nil {
			return err
		}
	}
}

func (r *Runner) observe(obs protocol.Message) {
	r.steps++
	if !obs.Done {
		return
	}
	r.episodes++
	if obs.Reward > r.bestReward {
		r.bestReward = obs.Reward
		r.logger().Info("best reward", "reward", obs.Reward, "episode", r.episodes, "step", r.steps)
	}
	r.logger().Info("episode ended", "episode", r.episodes, "reward", obs.Reward)
}

// Episodes returns how many episode ends the runner has seen. It is only
// meaningful once Run has returned.
func (r *Runner) Episodes() int {
	return r.episodes
}

func (r *Runner) watchWeights(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.logger().Warn("weights watch disabled", "error", err)
		return
	}
	defer watcher.Close()

	// Editors replace files, so watch the directory.
	if err := watcher.Add(filepath.Dir(r.WeightsPath)); err != nil {
		r.logger().Warn("weights watch disabled", "error", err)
		return
	}
	want := filepath.Clean(r.WeightsPath)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != want || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			r.reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.logger().Warn("weights watch", "error", err)
		}
	}
}

func (r *Runner) reload() {
	weights, err := LoadWeights(r.WeightsPath)
	if err != nil {
		r.logger().Warn("policy reload failed", "path", r.WeightsPath, "error", err)
		return
	}
	policy, err := NewPolicy(weights)
	if err == nil {
		err = r.checkArity(policy)
	}
	if err != nil {
		r.logger().Warn("policy reload failed", "path", r.WeightsPath, "error", err)
		return
	}
	r.policy.Store(policy)
	r.logger().Info("policy reloaded", "path", r.WeightsPath)
}

func (r *Runner) checkArity(p *Policy) error {
	if r.Outputs > 0 && p.Outputs() != r.Outputs {
		return fmt.Errorf("policy produces %d outputs, session expects %d", p.Outputs(), r.Outputs)
	}
	return nil
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}
