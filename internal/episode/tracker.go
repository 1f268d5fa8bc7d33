package episode

import (
	"errors"
	"fmt"
)

// RecordWriter receives one record per finished episode.
type RecordWriter interface {
	Append(episode int, reward float64) error
}

// Outcome describes one step after shaping.
type Outcome struct {
	Episode int
	Steps   int
	Reward  float64
	Done    bool
	// Forced is set when the episode hit MaxSteps without the
	// environment ending it.
	Forced bool
}

// Tracker counts steps, caps episode length and shapes rewards.
// It is not safe for concurrent use.
type Tracker struct {
	MaxSteps int
	Shaper   Shaper
	Log      RecordWriter

	steps   int
	episode int
}

func NewTracker(maxSteps int, shaper Shaper, log RecordWriter) (*Tracker, error) {
	if maxSteps <= 0 {
		return nil, errors.New("max steps must be > 0")
	}
	if shaper == nil {
		shaper = TerminationOnly{}
	}
	return &Tracker{
		MaxSteps: maxSteps,
		Shaper:   shaper,
		Log:      log,
		episode:  1,
	}, nil
}

// Episode returns the index of the episode in progress, starting at 1.
func (t *Tracker) Episode() int {
	if t.episode == 0 {
		return 1
	}
	return t.episode
}

// Steps returns the steps taken in the episode in progress.
func (t *Tracker) Steps() int {
	return t.steps
}

// Advance records one applied action. On termination the episode record
// is appended and the counters move to the next episode; a failed append
// is returned but does not stop the rollover.
func (t *Tracker) Advance(tr Transition) (Outcome, error) {
	if t.episode == 0 {
		t.episode = 1
	}
	t.steps++

	forced := !tr.Done && t.steps >= t.MaxSteps
	done := tr.Done || forced

	shaper := t.Shaper
	if shaper == nil {
		shaper = TerminationOnly{}
	}
	reward := shaper.Shape(StepInfo{
		Transition: tr,
		Step:       t.steps,
		MaxSteps:   t.MaxSteps,
		Terminated: done,
	})

	out := Outcome{
		Episode: t.episode,
		Steps:   t.steps,
		Reward:  reward,
		Done:    done,
		Forced:  forced,
	}
	if !done {
		return out, nil
	}

	t.steps = 0
	t.episode++
	if t.Log != nil {
		if err := t.Log.Append(out.Episode, out.Reward); err != nil {
			return out, fmt.Errorf("appending episode %d: %w", out.Episode, err)
		}
	}
	return out, nil
}
