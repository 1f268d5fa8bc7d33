package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"cartpole-pipe-rl/internal/episode"
	"cartpole-pipe-rl/internal/protocol"
	"cartpole-pipe-rl/internal/session"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type Pipes struct {
	// Out carries environment -> controller, In the replies. The binary
	// profile uses one path for both unless In is set.
	Out    string `yaml:"out"`
	In     string `yaml:"in"`
	Create bool   `yaml:"create"`
}

type Episode struct {
	MaxSteps       int     `yaml:"max_steps"`
	Shaping        string  `yaml:"shaping"`
	PotentialIndex int     `yaml:"potential_index"`
	PotentialScale float64 `yaml:"potential_scale"`
	Log            string  `yaml:"log"`
}

type Trajectories struct {
	Path    string `yaml:"path"`
	Steps   bool   `yaml:"steps"`
	History int    `yaml:"history"`
}

type Retry struct {
	MaxAbsentFrames  int           `yaml:"max_absent_frames"`
	MaxCorruptFrames int           `yaml:"max_corrupt_frames"`
	BackoffPoll      time.Duration `yaml:"backoff_poll"`
	BackoffInitial   time.Duration `yaml:"backoff_initial"`
	BackoffMax       time.Duration `yaml:"backoff_max"`
}

type Log struct {
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Journal bool   `yaml:"journal"`
}

type Controller struct {
	Weights    string `yaml:"weights"`
	Stochastic bool   `yaml:"stochastic"`
}

type Config struct {
	SessionID    string       `yaml:"session_id"`
	Profile      string       `yaml:"profile"`
	Mode         string       `yaml:"mode"`
	Inputs       int          `yaml:"inputs"`
	Outputs      int          `yaml:"outputs"`
	TextDoneFlag bool         `yaml:"text_done_flag"`
	Seed         int64        `yaml:"seed"`
	StatsAddr    string       `yaml:"stats_addr"`
	Pipes        Pipes        `yaml:"pipes"`
	Episode      Episode      `yaml:"episode"`
	Trajectories Trajectories `yaml:"trajectories"`
	Retry        Retry        `yaml:"retry"`
	Log          Log          `yaml:"log"`
	Controller   Controller   `yaml:"controller"`
}

// Default returns the calibration setup: cart-pole with 4 inputs and 2
// outputs over a single binary pipe named "fifo".
func Default() *Config {
	return &Config{
		Profile:      string(protocol.ProfileBinary),
		Mode:         string(session.ModeDrive),
		Inputs:       4,
		Outputs:      2,
		TextDoneFlag: true,
		Seed:         time.Now().UnixNano(),
		Pipes: Pipes{
			Out:    "fifo",
			Create: true,
		},
		Episode: Episode{
			MaxSteps:       500,
			Shaping:        "termination",
			PotentialIndex: 2,
			PotentialScale: 100,
			Log:            "episodes.log",
		},
		Trajectories: Trajectories{History: 32},
		Retry: Retry{
			MaxAbsentFrames:  session.DefaultMaxAbsentFrames,
			MaxCorruptFrames: session.DefaultMaxCorruptFrames,
			BackoffPoll:      time.Millisecond,
			BackoffInitial:   50 * time.Millisecond,
			BackoffMax:       2 * time.Second,
		},
		Log: Log{Level: "info"},
	}
}

// Load layers defaults, the YAML file at path (skipped when empty) and
// PIPE_* environment variables, then validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if cfg.Pipes.In == "" {
		cfg.Pipes.In = cfg.Pipes.Out
		if cfg.Profile == string(protocol.ProfileText) {
			cfg.Pipes.In = cfg.Pipes.Out + "_in"
		}
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func (c *Config) applyEnv() error {
	c.SessionID = getenv("PIPE_SESSION_ID", c.SessionID)
	c.Profile = getenv("PIPE_PROFILE", c.Profile)
	c.Mode = getenv("PIPE_MODE", c.Mode)
	c.Pipes.Out = getenv("PIPE_OUT", c.Pipes.Out)
	c.Pipes.In = getenv("PIPE_IN", c.Pipes.In)
	c.Episode.Shaping = getenv("PIPE_SHAPING", c.Episode.Shaping)
	c.Episode.Log = getenv("PIPE_EPISODE_LOG", c.Episode.Log)
	c.Trajectories.Path = getenv("PIPE_TRAJECTORIES", c.Trajectories.Path)
	c.StatsAddr = getenv("PIPE_STATS_ADDR", c.StatsAddr)
	c.Log.Level = getenv("PIPE_LOG_LEVEL", c.Log.Level)
	c.Log.File = getenv("PIPE_LOG_FILE", c.Log.File)
	c.Controller.Weights = getenv("PIPE_WEIGHTS", c.Controller.Weights)

	var err error
	if c.Pipes.Create, err = getenvBool("PIPE_CREATE", c.Pipes.Create); err != nil {
		return err
	}
	if c.Episode.MaxSteps, err = getenvInt("PIPE_MAX_STEPS", c.Episode.MaxSteps); err != nil {
		return err
	}
	if c.Inputs, err = getenvInt("PIPE_INPUTS", c.Inputs); err != nil {
		return err
	}
	if c.Outputs, err = getenvInt("PIPE_OUTPUTS", c.Outputs); err != nil {
		return err
	}
	if c.Seed, err = getenvInt64("PIPE_SEED", c.Seed); err != nil {
		return err
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := protocol.ParseProfile(c.Profile); err != nil {
		return err
	}
	if _, err := session.ParseMode(c.Mode); err != nil {
		return err
	}
	if c.Mode == string(session.ModeEcho) && c.Profile != string(protocol.ProfileBinary) {
		return errors.New("echo mode needs the binary profile")
	}
	if c.Pipes.Out == "" {
		return errors.New("pipes.out is required")
	}
	if c.Profile == string(protocol.ProfileText) && c.Pipes.In == c.Pipes.Out {
		return errors.New("text profile needs distinct pipes.in and pipes.out")
	}
	if c.Inputs <= 0 {
		return errors.New("inputs must be > 0")
	}
	if c.Outputs < 2 {
		return errors.New("outputs must be >= 2")
	}
	if c.Episode.MaxSteps <= 0 {
		return errors.New("episode.max_steps must be > 0")
	}
	shaper, err := c.Shaper()
	if err != nil {
		return err
	}
	if p, ok := shaper.(episode.Potential); ok && p.Index >= c.Inputs {
		return fmt.Errorf("episode.potential_index %d out of range for %d inputs", p.Index, c.Inputs)
	}
	if c.Trajectories.History < 0 {
		return errors.New("trajectories.history must not be negative")
	}
	return nil
}

func (c *Config) Shaper() (episode.Shaper, error) {
	return episode.ParseShaper(c.Episode.Shaping, c.Episode.PotentialIndex, c.Episode.PotentialScale)
}

// ObservationLayout is the text layout of environment -> controller lines.
func (c *Config) ObservationLayout() protocol.Layout {
	return protocol.Layout{Inputs: c.Inputs, Reward: true, Done: c.TextDoneFlag}
}

// ActionLayout is the text layout of controller -> environment lines.
func (c *Config) ActionLayout() protocol.Layout {
	return protocol.Layout{Outputs: c.Outputs}
}

// Codecs returns the observation and action codecs.
func (c *Config) Codecs() (obs, act protocol.Codec, err error) {
	profile, err := protocol.ParseProfile(c.Profile)
	if err != nil {
		return nil, nil, err
	}
	if obs, err = protocol.NewCodec(profile, c.ObservationLayout()); err != nil {
		return nil, nil, err
	}
	if act, err = protocol.NewCodec(profile, c.ActionLayout()); err != nil {
		return nil, nil, err
	}
	return obs, act, nil
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q: %w", key, value, err)
	}
	return parsed, nil
}

func getenvInt64(key string, fallback int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q: %w", key, value, err)
	}
	return parsed, nil
}

func getenvBool(key string, fallback bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("parsing %s=%q: %w", key, value, err)
	}
	return parsed, nil
}
