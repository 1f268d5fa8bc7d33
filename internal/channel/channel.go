package channel

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"cartpole-pipe-rl/internal/protocol"
	"golang.org/x/sys/unix"
)

// Channel is one named pipe endpoint. Every Send and Receive opens the
// pipe, moves exactly one frame and closes it again; the open/close pair
// is both the frame boundary and the turn handoff between processes.
type Channel struct {
	Path string
	// Create makes the pipe with mkfifo when it does not exist. Without it
	// the channel waits for the counterpart to create the path.
	Create  bool
	Backoff Backoff
	Logger  *slog.Logger
}

// Error records the operation and path of a failed channel call.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string { return e.Op + " " + e.Path + ": " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// Prepare ensures the pipe path exists, creating or waiting for it.
func (c *Channel) Prepare(ctx context.Context) error {
	err := Ensure(c.Path, c.Create)
	if err == nil {
		return nil
	}
	if c.Create || !errors.Is(err, fs.ErrNotExist) {
		return &Error{Op: "prepare", Path: c.Path, Err: err}
	}
	c.logger().Info("waiting for pipe", "path", c.Path)
	if err := WaitForPath(ctx, c.Path); err != nil {
		return &Error{Op: "prepare", Path: c.Path, Err: err}
	}
	return Ensure(c.Path, false)
}

// Send writes frame to the pipe. It waits, with backoff, until a reader
// is attached, then blocks until the frame is written.
func (c *Channel) Send(ctx context.Context, frame []byte) error {
	f, err := c.openWrite(ctx)
	if err != nil {
		return &Error{Op: "open for write", Path: c.Path, Err: err}
	}
	stop := context.AfterFunc(ctx, func() {
		_ = f.SetWriteDeadline(time.Now())
	})
	_, err = f.Write(frame)
	stop()
	closeErr := f.Close()

	if err != nil {
		if ctx.Err() != nil && errors.Is(err, os.ErrDeadlineExceeded) {
			err = ctx.Err()
		}
		return &Error{Op: "write", Path: c.Path, Err: err}
	}
	if closeErr != nil {
		return &Error{Op: "close", Path: c.Path, Err: closeErr}
	}
	return nil
}

// Receive blocks until a writer opens the pipe, decodes one frame with
// codec and closes the pipe. A missing frame comes back as
// protocol.ErrFraming.
func (c *Channel) Receive(ctx context.Context, codec protocol.Codec) (protocol.Message, error) {
	f, err := c.openRead(ctx)
	if err != nil {
		return protocol.Message{}, &Error{Op: "open for read", Path: c.Path, Err: err}
	}
	defer f.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = f.SetReadDeadline(time.Now())
	})
	defer stop()

	msg, err := codec.Decode(f)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, os.ErrDeadlineExceeded) {
			err = ctx.Err()
		}
		return protocol.Message{}, &Error{Op: "read", Path: c.Path, Err: err}
	}
	return msg, nil
}

// openWrite opens without blocking so an absent reader shows up as ENXIO
// and can be retried instead of hanging in open(2).
func (c *Channel) openWrite(ctx context.Context) (*os.File, error) {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(c.Path, os.O_WRONLY|unix.O_NONBLOCK, 0)
		if err == nil {
			return f, nil
		}

		switch {
		case errors.Is(err, unix.ENXIO):
			c.logger().Debug("no reader on pipe", "path", c.Path, "attempt", attempt+1)
		case errors.Is(err, fs.ErrNotExist):
			if err := c.Prepare(ctx); err != nil {
				return nil, err
			}
			continue
		default:
			return nil, fmt.Errorf("%w: %w", protocol.ErrChannelUnavailable, err)
		}

		if err := sleep(ctx, c.Backoff.Delay(attempt)); err != nil {
			return nil, err
		}
	}
}

type openResult struct {
	f   *os.File
	err error
}

// openRead blocks in open(2) until a writer shows up. If ctx ends first,
// the pending open is released by briefly opening the write side.
func (c *Channel) openRead(ctx context.Context) (*os.File, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		done := make(chan openResult, 1)
		go func() {
			f, err := os.OpenFile(c.Path, os.O_RDONLY, 0)
			done <- openResult{f, err}
		}()

		var res openResult
		select {
		case res = <-done:
		case <-ctx.Done():
			c.release(done)
			return nil, ctx.Err()
		}

		if res.err == nil {
			return res.f, nil
		}
		if !errors.Is(res.err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", protocol.ErrChannelUnavailable, res.err)
		}
		if err := c.Prepare(ctx); err != nil {
			return nil, err
		}
	}
}

func (c *Channel) release(done <-chan openResult) {
	for {
		if w, err := os.OpenFile(c.Path, os.O_WRONLY|unix.O_NONBLOCK, 0); err == nil {
			w.Close()
		}
		select {
		case res := <-done:
			if res.f != nil {
				res.f.Close()
			}
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (c *Channel) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
