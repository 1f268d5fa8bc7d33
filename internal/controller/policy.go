package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
)

// PolicyWeights is a linear policy over the observation, one row per
// output score. Row 0 scores pushing right, row 1 pushing left.
type PolicyWeights struct {
	W [][]float64 `json:"w"` // shape: [outputs][inputs]
	B []float64   `json:"b"` // shape: [outputs]
}

type Policy struct {
	Weights PolicyWeights
}

// DefaultWeights push toward the side the pole is falling to. Outputs
// beyond the first two get zero rows.
func DefaultWeights(outputs int) PolicyWeights {
	weights := PolicyWeights{
		W: [][]float64{
			{0.0, 0.1, 1.0, 0.5},
			{0.0, -0.1, -1.0, -0.5},
		},
		B: []float64{0, 0},
	}
	for i := 2; i < outputs; i++ {
		weights.W = append(weights.W, make([]float64, len(weights.W[0])))
		weights.B = append(weights.B, 0)
	}
	return weights
}

func NewPolicy(weights PolicyWeights) (*Policy, error) {
	if len(weights.W) < 2 {
		return nil, fmt.Errorf("policy needs at least 2 weight rows, got %d", len(weights.W))
	}
	if len(weights.B) != len(weights.W) {
		return nil, fmt.Errorf("policy has %d weight rows but %d biases", len(weights.W), len(weights.B))
	}
	for _, row := range weights.W[1:] {
		if len(row) != len(weights.W[0]) {
			return nil, errors.New("policy weight rows differ in length")
		}
	}
	return &Policy{Weights: weights}, nil
}

// Outputs is the number of scores the policy produces.
func (p *Policy) Outputs() int {
	return len(p.Weights.W)
}

// LoadWeights reads weights from a JSON file of the form
// {"weights": {"w": [[...], [...]], "b": [...]}}.
func LoadWeights(path string) (PolicyWeights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PolicyWeights{}, err
	}
	var payload policyFile
	if err := json.Unmarshal(data, &payload); err != nil {
		return PolicyWeights{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return payload.Weights, nil
}

type policyFile struct {
	Weights PolicyWeights `json:"weights"`
}

// Scores returns one logit per weight row. Extra observation components
// beyond the weight width are ignored.
func (p *Policy) Scores(state []float64) []float64 {
	logits := make([]float64, len(p.Weights.W))
	for i := range logits {
		logits[i] = p.Weights.B[i]
		for j := 0; j < len(state) && j < len(p.Weights.W[i]); j++ {
			logits[i] += p.Weights.W[i][j] * state[j]
		}
	}
	return logits
}

// Sample draws an action index from the softmax of the scores and returns
// a one-hot score vector for it.
func (p *Policy) Sample(state []float64, rng *rand.Rand) []float64 {
	probs := softmax(p.Scores(state))
	choice := sampleCategorical(probs, rng)
	out := make([]float64, len(probs))
	out[choice] = 1
	return out
}

func softmax(logits []float64) []float64 {
	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}
	values := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		values[i] = math.Exp(v - maxLogit)
		sum += values[i]
	}
	for i := range values {
		values[i] /= sum
	}
	return values
}

func sampleCategorical(probs []float64, rng *rand.Rand) int {
	threshold := rng.Float64()
	var cumulativeProb float64
	for i, prob := range probs {
		cumulativeProb += prob
		if threshold <= cumulativeProb {
			return i
		}
	}
	return len(probs) - 1
}
