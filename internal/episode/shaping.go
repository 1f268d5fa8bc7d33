package episode

import (
	"fmt"
	"math"
	"strings"
)

// Transition is what the environment reported for one applied action.
type Transition struct {
	Prev   []float64
	Obs    []float64
	Reward float64
	// Done is set when the environment itself ended the episode.
	Done bool
}

// StepInfo is the input of a Shaper.
type StepInfo struct {
	Transition
	Step     int
	MaxSteps int
	// Terminated includes episodes cut off at MaxSteps.
	Terminated bool
}

// Shaper turns a step into the reward reported to the controller.
type Shaper interface {
	Shape(StepInfo) float64
}

type ShaperFunc func(StepInfo) float64

func (f ShaperFunc) Shape(s StepInfo) float64 { return f(s) }

// TerminationOnly is silent during the episode and reports
// (steps - max) / max when it ends: 0 for a full episode, negative for an
// early failure.
type TerminationOnly struct{}

func (TerminationOnly) Shape(s StepInfo) float64 {
	if !s.Terminated || s.MaxSteps <= 0 {
		return 0
	}
	return float64(s.Step-s.MaxSteps) / float64(s.MaxSteps)
}

// Potential rewards moving observation component Index toward zero,
// scaled by Scale, on every step.
type Potential struct {
	Index int
	Scale float64
}

func (p Potential) Shape(s StepInfo) float64 {
	if p.Index < 0 || p.Index >= len(s.Obs) || p.Index >= len(s.Prev) {
		return 0
	}
	return -(math.Abs(s.Obs[p.Index]) - math.Abs(s.Prev[p.Index])) * p.Scale
}

// Raw passes the environment reward through.
type Raw struct{}

func (Raw) Shape(s StepInfo) float64 { return s.Reward }

// ParseShaper builds a shaper by name. index and scale only apply to
// "potential".
func ParseShaper(name string, index int, scale float64) (Shaper, error) {
	switch strings.ToLower(name) {
	case "termination", "":
		return TerminationOnly{}, nil
	case "potential":
		if index < 0 {
			return nil, fmt.Errorf("potential shaping: negative index %d", index)
		}
		return Potential{Index: index, Scale: scale}, nil
	case "raw":
		return Raw{}, nil
	default:
		return nil, fmt.Errorf("unknown shaping policy %q: must be 'termination', 'potential' or 'raw'", name)
	}
}
