package episode

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Log appends "{episode};{reward}" lines to a plain text file. The file is
// only held open while a record is written, so other tools can tail it.
type Log struct {
	path string
}

func NewLog(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating log dir %q: %w", dir, err)
		}
	}
	return &Log{path: path}, nil
}

// Path is the file records are appended to.
func (l *Log) Path() string {
	return l.path
}

func (l *Log) Append(episode int, reward float64) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening episode log %q: %w", l.path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(FormatRecord(episode, reward)); err != nil {
		return fmt.Errorf("writing episode record: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing episode log: %w", err)
	}
	return nil
}

// FormatRecord renders one log line, newline included.
func FormatRecord(episode int, reward float64) string {
	return strconv.Itoa(episode) + ";" + FormatReward(reward) + "\n"
}

// FormatReward renders the shortest decimal that round-trips, always with
// a decimal point or exponent: 0 -> "0.0", -0.726 -> "-0.726". Negative
// zero is written as "0.0".
func FormatReward(v float64) string {
	if v == 0 {
		return "0.0"
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	abs := math.Abs(v)
	var s string
	if abs >= 1e-4 && abs < 1e16 {
		s = strconv.FormatFloat(v, 'f', -1, 64)
	} else {
		s = strconv.FormatFloat(v, 'e', -1, 64)
	}
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}
