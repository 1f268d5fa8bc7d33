package buffer

type Step struct {
	Obs     []float64 `json:"obs"`
	Outputs []float64 `json:"outputs"`
	Action  int       `json:"action"`
	Reward  float64   `json:"reward"`
	Shaped  float64   `json:"shaped"`
	Done    bool      `json:"done"`
}

type Trajectory struct {
	SessionID     string  `json:"session_id"`
	EpisodeID     int     `json:"episode_id"`
	Steps         []Step  `json:"steps,omitempty"`
	StepCount     int     `json:"step_count"`
	EpisodeReward float64 `json:"episode_reward"`
	ShapedReward  float64 `json:"shaped_reward"`
	Forced        bool    `json:"forced"`
	CreatedAtMs   int64   `json:"created_at_ms"`
}

// Summary returns t without its per-step data.
func (t Trajectory) Summary() Trajectory {
	t.Steps = nil
	return t
}
