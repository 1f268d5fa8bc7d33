package buffer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Recorder appends one JSON line per finished trajectory.
// Like the episode log it opens the file only while writing.
type Recorder struct {
	path      string
	withSteps bool
}

func NewRecorder(path string, withSteps bool) (*Recorder, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating trajectory dir %q: %w", dir, err)
		}
	}
	return &Recorder{path: path, withSteps: withSteps}, nil
}

func (r *Recorder) Record(t Trajectory) error {
	if !r.withSteps {
		t = t.Summary()
	}
	line, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshalling trajectory: %w", err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening trajectory file %q: %w", r.path, err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("writing trajectory: %w", err)
	}
	return nil
}
