package episode

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

type memLog struct {
	lines []string
	err   error
}

func (m *memLog) Append(episode int, reward float64) error {
	if m.err != nil {
		return m.err
	}
	m.lines = append(m.lines, FormatRecord(episode, reward))
	return nil
}

func run(t *testing.T, tr *Tracker, steps int, failAt int) Outcome {
	t.Helper()
	var out Outcome
	for i := 1; i <= steps; i++ {
		var err error
		out, err = tr.Advance(Transition{Done: i == failAt})
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if out.Done && i != steps {
			t.Fatalf("episode ended early at step %d", i)
		}
	}
	return out
}

func TestFullEpisodeIsForcedAtMaxSteps(t *testing.T) {
	log := &memLog{}
	tr, err := NewTracker(500, TerminationOnly{}, log)
	if err != nil {
		t.Fatal(err)
	}

	out := run(t, tr, 500, 0)
	if !out.Done || !out.Forced {
		t.Fatalf("outcome %+v: want forced termination", out)
	}
	if out.Steps != 500 || out.Episode != 1 {
		t.Errorf("outcome %+v", out)
	}
	if out.Reward != 0.0 {
		t.Errorf("reward: got %v, want 0", out.Reward)
	}
	if len(log.lines) != 1 || log.lines[0] != "1;0.0\n" {
		t.Errorf("log: %q", log.lines)
	}
	if tr.Steps() != 0 || tr.Episode() != 2 {
		t.Errorf("after rollover: steps %d episode %d", tr.Steps(), tr.Episode())
	}
}

func TestEarlyFailure(t *testing.T) {
	log := &memLog{}
	tr, _ := NewTracker(500, TerminationOnly{}, log)

	out := run(t, tr, 137, 137)
	if !out.Done || out.Forced {
		t.Fatalf("outcome %+v: want environment termination", out)
	}
	if out.Reward != -0.726 {
		t.Errorf("reward: got %v, want -0.726", out.Reward)
	}
	if len(log.lines) != 1 || log.lines[0] != "1;-0.726\n" {
		t.Errorf("log: %q", log.lines)
	}
}

func TestEpisodesRollOver(t *testing.T) {
	log := &memLog{}
	tr, _ := NewTracker(10, TerminationOnly{}, log)

	run(t, tr, 3, 3)
	run(t, tr, 10, 0)
	out := run(t, tr, 5, 5)
	if out.Episode != 3 {
		t.Errorf("episode: got %d, want 3", out.Episode)
	}
	want := []string{"1;-0.7\n", "2;0.0\n", "3;-0.5\n"}
	if len(log.lines) != len(want) {
		t.Fatalf("log: %q", log.lines)
	}
	for i := range want {
		if log.lines[i] != want[i] {
			t.Errorf("line %d: got %q, want %q", i, log.lines[i], want[i])
		}
	}
}

func TestTerminationOnlyBounds(t *testing.T) {
	for _, limit := range []int{1, 2, 7, 500} {
		for step := 1; step <= limit; step++ {
			r := TerminationOnly{}.Shape(StepInfo{Step: step, MaxSteps: limit, Terminated: true})
			lo := -float64(limit-1) / float64(limit)
			if r < lo || r > 0 {
				t.Fatalf("max %d step %d: reward %v outside [%v, 0]", limit, step, r, lo)
			}
			if step == limit && r != 0.0 {
				t.Fatalf("max %d: full episode reward %v", limit, r)
			}
		}
		if r := (TerminationOnly{}).Shape(StepInfo{Step: 1, MaxSteps: limit}); r != 0 {
			t.Fatalf("non-terminal reward %v", r)
		}
	}
}

func TestPotentialShaping(t *testing.T) {
	p := Potential{Index: 2, Scale: 100}
	got := p.Shape(StepInfo{Transition: Transition{
		Prev: []float64{0, 0, 0.03, 0},
		Obs:  []float64{0, 0, -0.01, 0},
	}})
	if want := 2.0; got < want-1e-9 || got > want+1e-9 {
		t.Errorf("toward upright: got %v, want %v", got, want)
	}
	if got := p.Shape(StepInfo{Transition: Transition{Obs: []float64{1}}}); got != 0 {
		t.Errorf("short observation: got %v", got)
	}
}

func TestParseShaper(t *testing.T) {
	cases := []struct {
		name string
		want Shaper
	}{
		{"", TerminationOnly{}},
		{"termination", TerminationOnly{}},
		{"Potential", Potential{Index: 2, Scale: 100}},
		{"raw", Raw{}},
	}
	for _, tc := range cases {
		got, err := ParseShaper(tc.name, 2, 100)
		if err != nil {
			t.Errorf("%q: %v", tc.name, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%q: got %#v, want %#v", tc.name, got, tc.want)
		}
	}
	if _, err := ParseShaper("bogus", 0, 0); err == nil {
		t.Error("bogus: expected error")
	}
}

func TestLogFailureStillRollsOver(t *testing.T) {
	boom := errors.New("disk full")
	tr, _ := NewTracker(2, nil, &memLog{err: boom})
	tr.Advance(Transition{})
	out, err := tr.Advance(Transition{})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want disk full", err)
	}
	if !out.Done || tr.Episode() != 2 || tr.Steps() != 0 {
		t.Errorf("tracker did not roll over: %+v episode %d", out, tr.Episode())
	}
}

func TestNewTrackerRejectsZeroMax(t *testing.T) {
	if _, err := NewTracker(0, nil, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "episodes.log")
	log, err := NewLog(path)
	if err != nil {
		t.Fatal(err)
	}
	tr, _ := NewTracker(500, TerminationOnly{}, log)
	run(t, tr, 500, 0)
	run(t, tr, 137, 137)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(data), "1;0.0\n2;-0.726\n"; got != want {
		t.Errorf("log file: got %q, want %q", got, want)
	}
}

func TestFormatReward(t *testing.T) {
	cases := map[float64]string{
		0:       "0.0",
		-0.726:  "-0.726",
		1:       "1.0",
		-0.5:    "-0.5",
		2.5e-05: "2.5e-05",
		1e20:    "1e+20",
	}
	for v, want := range cases {
		if got := FormatReward(v); got != want {
			t.Errorf("FormatReward(%v): got %q, want %q", v, got, want)
		}
	}
}

func TestFormatRewardNegativeZero(t *testing.T) {
	if got := FormatReward(math.Copysign(0, -1)); got != "0.0" {
		t.Errorf("FormatReward(-0): got %q, want %q", got, "0.0")
	}

	// An unchanged angle under potential shaping yields -0.
	shaped := Potential{Index: 0, Scale: 100}.Shape(StepInfo{
		Transition: Transition{Prev: []float64{0.02}, Obs: []float64{0.02}},
	})
	if got := FormatRecord(1, shaped); got != "1;0.0\n" {
		t.Errorf("record: got %q", got)
	}
}
