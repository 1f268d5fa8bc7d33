package channel

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cartpole-pipe-rl/internal/protocol"
)

var fastBackoff = Backoff{Initial: time.Millisecond, Max: 5 * time.Millisecond}

func newPipe(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fifo")
	if err := Ensure(path, true); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	return path
}

func TestEnsureCreatesNamedPipe(t *testing.T) {
	path := newPipe(t)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode()&fs.ModeNamedPipe == 0 {
		t.Errorf("mode %v is not a named pipe", info.Mode())
	}
	if err := Ensure(path, true); err != nil {
		t.Errorf("second ensure: %v", err)
	}
}

func TestEnsureErrors(t *testing.T) {
	dir := t.TempDir()
	regular := filepath.Join(dir, "plain")
	if err := os.WriteFile(regular, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Ensure(regular, true); !errors.Is(err, protocol.ErrChannelUnavailable) {
		t.Errorf("regular file: got %v, want ErrChannelUnavailable", err)
	}
	err := Ensure(filepath.Join(dir, "missing"), false)
	if !errors.Is(err, protocol.ErrChannelUnavailable) || !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("missing: got %v", err)
	}
}

func TestSendReceive(t *testing.T) {
	path := newPipe(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	want := protocol.Message{Reward: 11, Inputs: []float64{1, 1, 1, 1}, Outputs: []float64{1, 1}}
	frame, _ := protocol.BinaryCodec{}.Encode(want)

	sender := &Channel{Path: path, Backoff: fastBackoff}
	errc := make(chan error, 1)
	go func() { errc <- sender.Send(ctx, frame) }()

	receiver := &Channel{Path: path, Backoff: fastBackoff}
	got, err := receiver.Receive(ctx, protocol.BinaryCodec{})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("send: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestSendWaitsForReader(t *testing.T) {
	path := newPipe(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	codec := protocol.TextCodec{Layout: protocol.Layout{Outputs: 2}}
	frame, _ := codec.Encode(protocol.Message{Outputs: []float64{0.25, 0.75}})

	errc := make(chan error, 1)
	go func() { errc <- (&Channel{Path: path, Backoff: fastBackoff}).Send(ctx, frame) }()

	time.Sleep(50 * time.Millisecond)
	select {
	case err := <-errc:
		t.Fatalf("send returned before a reader attached: %v", err)
	default:
	}

	got, err := (&Channel{Path: path}).Receive(ctx, codec)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.Outputs[0] != 0.25 || got.Outputs[1] != 0.75 {
		t.Errorf("got %v", got.Outputs)
	}
}

func TestReceiveAbsentFrame(t *testing.T) {
	path := newPipe(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch := &Channel{Path: path, Backoff: fastBackoff}
	go func() { _ = ch.Send(ctx, []byte("#junk")) }()

	_, err := ch.Receive(ctx, protocol.BinaryCodec{})
	if !errors.Is(err, protocol.ErrFraming) {
		t.Fatalf("got %v, want ErrFraming", err)
	}
	var chErr *Error
	if !errors.As(err, &chErr) || chErr.Path != path || chErr.Op != "read" {
		t.Errorf("error does not carry op and path: %#v", err)
	}
}

func TestReceiveCancelled(t *testing.T) {
	path := newPipe(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := (&Channel{Path: path}).Receive(ctx, protocol.BinaryCodec{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want deadline exceeded", err)
	}
}

func TestSendCancelled(t *testing.T) {
	path := newPipe(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := (&Channel{Path: path, Backoff: fastBackoff}).Send(ctx, protocol.EncodeFrame(nil))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want deadline exceeded", err)
	}
}

func TestHalfDuplexSinglePath(t *testing.T) {
	path := newPipe(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const cycles = 5
	codec := protocol.BinaryCodec{}
	env := &Channel{Path: path, Backoff: fastBackoff}
	ctrl := &Channel{Path: path, Backoff: fastBackoff}

	errc := make(chan error, 1)
	go func() {
		for i := 0; i < cycles; i++ {
			obs, err := ctrl.Receive(ctx, codec)
			if err != nil {
				errc <- err
				return
			}
			reply, _ := codec.Encode(protocol.Message{Outputs: []float64{obs.Inputs[0] * 2, 0}})
			if err := ctrl.Send(ctx, reply); err != nil {
				errc <- err
				return
			}
		}
		errc <- nil
	}()

	for i := 0; i < cycles; i++ {
		frame, _ := codec.Encode(protocol.Message{Inputs: []float64{float64(i + 1)}})
		if err := env.Send(ctx, frame); err != nil {
			t.Fatalf("cycle %d send: %v", i, err)
		}
		reply, err := env.Receive(ctx, codec)
		if err != nil {
			t.Fatalf("cycle %d receive: %v", i, err)
		}
		if want := float64(2 * (i + 1)); reply.Outputs[0] != want {
			t.Errorf("cycle %d: got %v, want %v", i, reply.Outputs[0], want)
		}
	}
	if err := <-errc; err != nil {
		t.Fatalf("controller: %v", err)
	}
}

func TestPrepareWaitsForCounterpart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "late")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = Ensure(path, true)
	}()

	if err := (&Channel{Path: path}).Prepare(ctx); err != nil {
		t.Fatalf("prepare: %v", err)
	}
}

func TestWaitForPathCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := WaitForPath(ctx, filepath.Join(t.TempDir(), "never"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want deadline exceeded", err)
	}
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Initial: 10 * time.Millisecond, Max: 40 * time.Millisecond}
	for attempt := 0; attempt < 10; attempt++ {
		d := b.Delay(attempt)
		if d <= 0 || d > b.Max {
			t.Errorf("attempt %d: delay %v out of range", attempt, d)
		}
	}
	if d := b.Delay(5); d < b.Max/2 {
		t.Errorf("capped delay %v below half of max", d)
	}
}

func TestBackoffPollsFirst(t *testing.T) {
	b := Backoff{Initial: 50 * time.Millisecond, Max: 2 * time.Second}
	if d := b.Delay(0); d != DefaultBackoff.Poll {
		t.Errorf("first delay %v, want %v", d, DefaultBackoff.Poll)
	}
	b.Poll = 3 * time.Millisecond
	if d := b.Delay(0); d != b.Poll {
		t.Errorf("first delay %v, want %v", d, b.Poll)
	}
	if d := b.Delay(1); d < b.Initial/2 || d > b.Initial {
		t.Errorf("second delay %v outside [%v, %v]", d, b.Initial/2, b.Initial)
	}
}
