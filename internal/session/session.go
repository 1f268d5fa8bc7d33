package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cartpole-pipe-rl/internal/buffer"
	"cartpole-pipe-rl/internal/channel"
	"cartpole-pipe-rl/internal/episode"
	"cartpole-pipe-rl/internal/protocol"
)

const (
	DefaultMaxAbsentFrames  = 8
	DefaultMaxCorruptFrames = 3
)

var (
	ErrTooManyAbsentFrames  = errors.New("too many consecutive absent frames")
	ErrTooManyCorruptFrames = errors.New("too many consecutive corrupt frames")
	ErrBadAction            = errors.New("reply does not encode an action")
)

func errUnknownMode(s string) error {
	return fmt.Errorf("unknown mode %q: must be 'drive' or 'echo'", s)
}

// Transport moves one frame per call in one direction.
type Transport interface {
	Send(ctx context.Context, frame []byte) error
	Receive(ctx context.Context, codec protocol.Codec) (protocol.Message, error)
}

// Environment is the simulated system being controlled.
type Environment interface {
	Reset() []float64
	Step(action int) ([]float64, float64, bool)
}

// ActionFunc derives a discrete action from the controller outputs.
type ActionFunc func(outputs []float64) (int, error)

// ArgmaxPair picks action 1 when the first score beats the second.
func ArgmaxPair(outputs []float64) (int, error) {
	if len(outputs) < 2 {
		return 0, fmt.Errorf("%w: %d outputs, want 2", ErrBadAction, len(outputs))
	}
	if outputs[0] > outputs[1] {
		return 1, nil
	}
	return 0, nil
}

// TrajectorySink receives every finished episode.
type TrajectorySink interface {
	Record(buffer.Trajectory) error
}

// Stats is a point-in-time view of a running session.
type Stats struct {
	SessionID     string  `json:"session_id"`
	State         string  `json:"state"`
	Cycles        int     `json:"cycles"`
	Episodes      int     `json:"episodes"`
	Step          int     `json:"step"`
	AbsentFrames  int     `json:"absent_frames"`
	CorruptFrames int     `json:"corrupt_frames"`
	LastShaped    float64 `json:"last_shaped_reward"`
}

// Session runs the environment side of the protocol: send the current
// message, wait for the controller's reply, apply it, and repeat. It has
// no terminal state and stops only when ctx ends or a fatal error occurs.
type Session struct {
	ID string

	Out      Transport
	In       Transport
	OutCodec protocol.Codec
	InCodec  protocol.Codec

	Mode    Mode
	Env     Environment
	Tracker *episode.Tracker
	Decide  ActionFunc
	// Initial is the first message in echo mode.
	Initial protocol.Message

	// MaxAbsentFrames and MaxCorruptFrames bound consecutive retries of a
	// cycle. Zero picks the default; negative retries forever.
	MaxAbsentFrames  int
	MaxCorruptFrames int

	Sinks       []TrajectorySink
	RecordSteps bool
	Logger      *slog.Logger

	mu    sync.Mutex
	stats Stats
	traj  buffer.Trajectory
}

// turn is the value threaded through the state machine.
type turn struct {
	out     protocol.Message
	reply   protocol.Message
	obs     []float64
	prev    []float64
	action  int
	reward  float64
	envDone bool
	absent  int
	corrupt int
}

// Run drives the cycle until ctx ends. It returns ctx.Err() on
// cancellation and any other error only when the session cannot go on.
func (s *Session) Run(ctx context.Context) error {
	if err := s.validate(); err != nil {
		return err
	}
	s.setState(Init)

	state := Init
	var t turn
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		next, nt, err := s.transition(ctx, state, t)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return ctx.Err()
			}
			s.logger().Error("session stopped", "state", state, "kind", protocol.Kind(err), "path", pathOf(err), "error", err)
			return err
		}
		state, t = next, nt
		s.setState(state)
	}
}

func (s *Session) validate() error {
	if s.Out == nil || s.In == nil {
		return errors.New("session needs inbound and outbound transports")
	}
	if s.OutCodec == nil || s.InCodec == nil {
		return errors.New("session needs inbound and outbound codecs")
	}
	if s.Mode == "" {
		s.Mode = ModeDrive
	}
	if s.Mode == ModeDrive {
		if s.Env == nil {
			return errors.New("drive mode needs an environment")
		}
		if s.Tracker == nil {
			return errors.New("drive mode needs an episode tracker")
		}
	}
	if s.Decide == nil {
		s.Decide = ArgmaxPair
	}
	if s.MaxAbsentFrames == 0 {
		s.MaxAbsentFrames = DefaultMaxAbsentFrames
	}
	if s.MaxCorruptFrames == 0 {
		s.MaxCorruptFrames = DefaultMaxCorruptFrames
	}
	return nil
}

func (s *Session) transition(ctx context.Context, state State, t turn) (State, turn, error) {
	switch state {
	case Init:
		return s.init(t)
	case SendObservation:
		return s.send(ctx, t)
	case WaitAction:
		return s.wait(ctx, t)
	case ApplyAction:
		return s.apply(t)
	case CheckTermination:
		return s.check(t)
	case Reset:
		return s.reset(t)
	default:
		return state, t, fmt.Errorf("unknown state %d", state)
	}
}

func (s *Session) init(t turn) (State, turn, error) {
	if s.Mode == ModeEcho {
		t.out = s.Initial.Clone()
		t.out.Reward = 0
		return SendObservation, t, nil
	}
	t.obs = s.Env.Reset()
	t.out = protocol.Message{Inputs: t.obs}
	s.beginTrajectory()
	return SendObservation, t, nil
}

func (s *Session) send(ctx context.Context, t turn) (State, turn, error) {
	frame, err := s.OutCodec.Encode(t.out)
	if err != nil {
		return SendObservation, t, fmt.Errorf("encoding message: %w", err)
	}
	if err := s.Out.Send(ctx, frame); err != nil {
		if ctx.Err() != nil || errors.Is(err, protocol.ErrChannelUnavailable) {
			return SendObservation, t, err
		}
		// the reader went away mid-frame; redo the cycle
		return s.retryCorrupt(t, err)
	}
	s.count(func(st *Stats) { st.Cycles++ })
	return WaitAction, t, nil
}

func (s *Session) wait(ctx context.Context, t turn) (State, turn, error) {
	reply, err := s.In.Receive(ctx, s.InCodec)
	switch {
	case err == nil:
		t.reply = reply
		t.absent = 0
		return ApplyAction, t, nil
	case ctx.Err() != nil:
		return WaitAction, t, err
	case errors.Is(err, protocol.ErrFraming):
		t.absent++
		s.count(func(st *Stats) { st.AbsentFrames++ })
		if s.MaxAbsentFrames > 0 && t.absent > s.MaxAbsentFrames {
			return WaitAction, t, fmt.Errorf("%w (%d): %w", ErrTooManyAbsentFrames, t.absent, err)
		}
		s.logger().Warn("no frame this cycle, resending", "kind", protocol.Kind(err), "path", pathOf(err), "attempt", t.absent)
		return SendObservation, t, nil
	case protocol.Corrupt(err):
		return s.retryCorrupt(t, err)
	default:
		return WaitAction, t, err
	}
}

func (s *Session) retryCorrupt(t turn, err error) (State, turn, error) {
	t.corrupt++
	s.count(func(st *Stats) { st.CorruptFrames++ })
	if s.MaxCorruptFrames > 0 && t.corrupt > s.MaxCorruptFrames {
		return SendObservation, t, fmt.Errorf("%w (%d): %w", ErrTooManyCorruptFrames, t.corrupt, err)
	}
	s.logger().Warn("dropping cycle", "kind", protocol.Kind(err), "path", pathOf(err), "attempt", t.corrupt, "error", err)
	return SendObservation, t, nil
}

func (s *Session) apply(t turn) (State, turn, error) {
	if s.Mode == ModeEcho {
		t.out = t.reply.Clone()
		t.out.Reward = 0
		t.out.Done = false
		t.corrupt = 0
		return SendObservation, t, nil
	}

	action, err := s.Decide(t.reply.Outputs)
	if err != nil {
		return s.retryCorrupt(t, err)
	}
	t.corrupt = 0
	t.action = action
	t.prev = t.obs
	t.obs, t.reward, t.envDone = s.Env.Step(action)
	return CheckTermination, t, nil
}

func (s *Session) check(t turn) (State, turn, error) {
	out, err := s.Tracker.Advance(episode.Transition{
		Prev:   t.prev,
		Obs:    t.obs,
		Reward: t.reward,
		Done:   t.envDone,
	})
	if err != nil {
		s.logger().Warn("episode log append failed", "episode", out.Episode, "error", err)
	}

	s.addStep(t, out)
	s.count(func(st *Stats) {
		st.Step = out.Steps
		st.LastShaped = out.Reward
	})
	t.out = protocol.Message{Reward: out.Reward, Inputs: t.obs, Done: out.Done}

	if !out.Done {
		return SendObservation, t, nil
	}
	s.logger().Info("episode finished",
		"episode", out.Episode,
		"steps", out.Steps,
		"shaped_reward", out.Reward,
		"forced", out.Forced,
	)
	s.finishTrajectory(out)
	s.count(func(st *Stats) {
		st.Episodes++
		st.Step = 0
	})
	return Reset, t, nil
}

// reset starts the next episode. The outgoing message keeps the shaped
// reward and end flag of the finished episode alongside the fresh
// observation.
func (s *Session) reset(t turn) (State, turn, error) {
	t.obs = s.Env.Reset()
	t.prev = nil
	t.out = protocol.Message{Reward: t.out.Reward, Inputs: t.obs, Done: true}
	s.beginTrajectory()
	return SendObservation, t, nil
}

func (s *Session) beginTrajectory() {
	s.traj = buffer.Trajectory{
		SessionID: s.ID,
		EpisodeID: s.Tracker.Episode(),
	}
}

func (s *Session) addStep(t turn, out episode.Outcome) {
	s.traj.StepCount = out.Steps
	s.traj.EpisodeReward += t.reward
	if !s.RecordSteps {
		return
	}
	s.traj.Steps = append(s.traj.Steps, buffer.Step{
		Obs:     t.prev,
		Outputs: t.reply.Outputs,
		Action:  t.action,
		Reward:  t.reward,
		Shaped:  out.Reward,
		Done:    out.Done,
	})
}

func (s *Session) finishTrajectory(out episode.Outcome) {
	s.traj.EpisodeID = out.Episode
	s.traj.ShapedReward = out.Reward
	s.traj.Forced = out.Forced
	s.traj.CreatedAtMs = time.Now().UnixMilli()
	for _, sink := range s.Sinks {
		if err := sink.Record(s.traj); err != nil {
			s.logger().Warn("recording trajectory failed", "episode", out.Episode, "error", err)
		}
	}
}

// Stats returns a snapshot; safe to call from other goroutines.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stats
	st.SessionID = s.ID
	return st
}

func (s *Session) count(fn func(*Stats)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(&s.stats)
}

func (s *Session) setState(state State) {
	s.count(func(st *Stats) { st.State = state.String() })
}

func (s *Session) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func pathOf(err error) string {
	var chErr *channel.Error
	if errors.As(err, &chErr) {
		return chErr.Path
	}
	return ""
}
