package controller

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultPolicyPushesTowardLean(t *testing.T) {
	p, err := NewPolicy(DefaultWeights(2))
	if err != nil {
		t.Fatal(err)
	}
	right := p.Scores([]float64{0, 0, 0.05, 0.1})
	if right[0] <= right[1] {
		t.Errorf("pole leaning right: scores %v", right)
	}
	left := p.Scores([]float64{0, 0, -0.05, -0.1})
	if left[0] >= left[1] {
		t.Errorf("pole leaning left: scores %v", left)
	}
}

func TestScoresIgnoreExtraInputs(t *testing.T) {
	p, _ := NewPolicy(PolicyWeights{W: [][]float64{{1}, {2}}, B: []float64{0.5, 0}})
	got := p.Scores([]float64{3, 100, 100})
	if got[0] != 3.5 || got[1] != 6 {
		t.Errorf("scores %v", got)
	}
}

func TestSampleIsOneHot(t *testing.T) {
	p, _ := NewPolicy(DefaultWeights(2))
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		out := p.Sample([]float64{0, 0, 0.01, 0}, rng)
		if out[0]+out[1] != 1 || out[0]*out[1] != 0 {
			t.Fatalf("not one-hot: %v", out)
		}
	}
}

func TestSoftmaxSumsToOne(t *testing.T) {
	probs := softmax([]float64{1000, 999})
	if sum := probs[0] + probs[1]; sum < 0.999999 || sum > 1.000001 {
		t.Errorf("sum %v", sum)
	}
	if probs[0] <= probs[1] {
		t.Errorf("probs %v", probs)
	}
}

func TestNewPolicyValidates(t *testing.T) {
	bad := []PolicyWeights{
		{},
		{W: [][]float64{{1}}, B: []float64{0, 0}},
		{W: [][]float64{{1}, {1, 2}}, B: []float64{0, 0}},
		{W: [][]float64{{1}, {1}, {1}}, B: []float64{0, 0}},
	}
	for i, w := range bad {
		if _, err := NewPolicy(w); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}

func TestLoadWeights(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.json")
	data := `{"weights": {"w": [[1, 2, 3, 4], [4, 3, 2, 1]], "b": [0.1, -0.1]}}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	w, err := LoadWeights(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(w.W) != 2 || w.W[1][0] != 4 || w.B[0] != 0.1 {
		t.Errorf("weights %+v", w)
	}

	if err := os.WriteFile(path, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadWeights(path); err == nil {
		t.Error("truncated file: expected error")
	}
}

func TestReloadSwapsPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.json")
	r := &Runner{WeightsPath: path}
	initial, _ := NewPolicy(DefaultWeights(2))
	r.policy.Store(initial)

	r.reload()
	if r.policy.Load() != initial {
		t.Fatal("policy replaced by a missing file")
	}

	data := `{"weights": {"w": [[0, 0, 0, 0], [0, 0, 0, 0]], "b": [0, 1]}}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	r.reload()
	if got := r.policy.Load().Scores([]float64{0, 0, 1, 0}); got[1] != 1 {
		t.Errorf("reloaded scores %v", got)
	}
}

func TestReloadKeepsPolicyOnArityChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.json")
	r := &Runner{WeightsPath: path, Outputs: 2}
	initial, _ := NewPolicy(DefaultWeights(2))
	r.policy.Store(initial)

	data := `{"weights": {"w": [[0], [0], [0]], "b": [0, 0, 0]}}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	r.reload()
	if r.policy.Load() != initial {
		t.Error("policy replaced by weights with 3 outputs")
	}
}

func TestDefaultWeightsPadRows(t *testing.T) {
	p, err := NewPolicy(DefaultWeights(3))
	if err != nil {
		t.Fatal(err)
	}
	if p.Outputs() != 3 {
		t.Fatalf("outputs %d", p.Outputs())
	}
	if got := p.Scores([]float64{0, 0, 0.1, 0}); got[2] != 0 || got[0] <= got[1] {
		t.Errorf("scores %v", got)
	}
}
