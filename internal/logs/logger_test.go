package logs

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewFansOutToFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "run", "env.log")
	logger, closeLog, err := New(Options{Level: "debug", File: path, Writer: &buf})
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("frame absent", "path", "fifo", "kind", "framing")
	if err := closeLog(); err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(buf.String(), "frame absent") || !strings.Contains(buf.String(), "kind=framing") {
		t.Errorf("terminal output: %q", buf.String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &rec); err != nil {
		t.Fatalf("file record %q: %v", data, err)
	}
	if rec["msg"] != "frame absent" || rec["path"] != "fifo" {
		t.Errorf("file record: %v", rec)
	}
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New(Options{Level: "warn", Writer: &buf})
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("quiet")
	logger.Warn("loud")
	if strings.Contains(buf.String(), "quiet") || !strings.Contains(buf.String(), "loud") {
		t.Errorf("output: %q", buf.String())
	}
}

func TestBadLevel(t *testing.T) {
	if _, _, err := New(Options{Level: "chatty"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestToJournalKey(t *testing.T) {
	if got := toJournalKey("shaped_reward.v2"); got != "SHAPED_REWARD_V2" {
		t.Errorf("got %q", got)
	}
}
