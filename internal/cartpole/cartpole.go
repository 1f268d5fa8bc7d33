package cartpole

import (
	"math"
	"math/rand"
)

const (
	gravity        = 9.81
	massCart       = 1.0
	massPole       = 0.1
	length         = 0.5
	totalMass      = massCart + massPole
	poleMassLength = massPole * length
	forceMax       = 10.0
	tau            = 0.02

	xThreshold     = 2.4
	thetaThreshold = 12.0 * math.Pi / 180.0
)

// Observation indices of State.Vector.
const (
	IndexX = iota
	IndexXDot
	IndexTheta
	IndexThetaDot

	ObservationSize
)

type State struct {
	X        float64 `json:"x"`
	XDot     float64 `json:"x_dot"`
	Theta    float64 `json:"theta"`
	ThetaDot float64 `json:"theta_dot"`
}

// Vector flattens the state in observation order.
func (s State) Vector() []float64 {
	return []float64{s.X, s.XDot, s.Theta, s.ThetaDot}
}

// Env only signals failure. Episode length caps are the caller's business.
type Env struct {
	State State
	Steps int
	Rand  *rand.Rand
}

func NewEnv(rng *rand.Rand) *Env {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	env := &Env{Rand: rng}
	env.Reset()
	return env
}

func (e *Env) Reset() State {
	e.State = State{
		X:        e.Rand.Float64()*0.1 - 0.05,
		XDot:     e.Rand.Float64()*0.1 - 0.05,
		Theta:    e.Rand.Float64()*0.1 - 0.05,
		ThetaDot: e.Rand.Float64()*0.1 - 0.05,
	}
	e.Steps = 0
	return e.State
}

// Step applies action (1 pushes right, anything else pushes left) and
// returns the next state, the step reward and whether the pole fell or
// the cart left the track.
func (e *Env) Step(action int) (State, float64, bool) {
	force := forceMax
	if action != 1 {
		force = -forceMax
	}

	x := e.State.X
	xDot := e.State.XDot
	theta := e.State.Theta
	thetaDot := e.State.ThetaDot

	cosTheta := math.Cos(theta)
	sinTheta := math.Sin(theta)

	temp := (force + poleMassLength*thetaDot*thetaDot*sinTheta) / totalMass
	thetaAcc := (gravity*sinTheta - cosTheta*temp) / (length * (4.0/3.0 - massPole*cosTheta*cosTheta/totalMass))
	xAcc := temp - poleMassLength*thetaAcc*cosTheta/totalMass
	x += tau * xDot
	xDot += tau * xAcc
	theta += tau * thetaDot
	thetaDot += tau * thetaAcc

	e.State = State{
		X:        x,
		XDot:     xDot,
		Theta:    theta,
		ThetaDot: thetaDot,
	}
	e.Steps++

	done := Failed(e.State)
	reward := 1.0
	if done {
		reward = 0.0
	}
	return e.State, reward, done
}

// Failed reports whether s is outside the track or angle limits.
func Failed(s State) bool {
	return s.X < -xThreshold || s.X > xThreshold || s.Theta < -thetaThreshold || s.Theta > thetaThreshold
}

// Sim exposes Env through flat observation vectors.
type Sim struct {
	Env *Env
}

func NewSim(seed int64) *Sim {
	return &Sim{Env: NewEnv(rand.New(rand.NewSource(seed)))}
}

func (s *Sim) Reset() []float64 {
	return s.Env.Reset().Vector()
}

func (s *Sim) Step(action int) ([]float64, float64, bool) {
	state, reward, done := s.Env.Step(action)
	return state.Vector(), reward, done
}
