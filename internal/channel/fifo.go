package channel

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"cartpole-pipe-rl/internal/protocol"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/sys/unix"
)

// Ensure makes sure path is a named pipe. A missing path is created when
// create is set; otherwise it is reported as unavailable.
func Ensure(path string, create bool) error {
	info, err := os.Stat(path)
	switch {
	case err == nil:
		if info.Mode()&fs.ModeNamedPipe == 0 {
			return fmt.Errorf("%w: %s is not a named pipe", protocol.ErrChannelUnavailable, path)
		}
		return nil
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %v", protocol.ErrChannelUnavailable, err)
	case !create:
		return fmt.Errorf("%w: %s: %w", protocol.ErrChannelUnavailable, path, fs.ErrNotExist)
	}

	if err := unix.Mkfifo(path, 0o666); err != nil && !errors.Is(err, unix.EEXIST) {
		return fmt.Errorf("%w: mkfifo %s: %v", protocol.ErrChannelUnavailable, path, err)
	}
	return nil
}

// WaitForPath blocks until path exists or ctx is done.
func WaitForPath(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("%w: watching %s: %v", protocol.ErrChannelUnavailable, dir, err)
	}
	// The path may have appeared before the watch was in place.
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	want := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			if filepath.Clean(ev.Name) == want && ev.Has(fsnotify.Create) {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}
}
