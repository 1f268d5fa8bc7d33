package channel

import (
	"context"
	"math/rand"
	"time"
)

// Backoff is the delay between open attempts: one short Poll, then an
// exponential delay with jitter from Initial up to Max.
type Backoff struct {
	// Poll is the first wait. On a shared pipe the counterpart is usually
	// a few syscalls away from opening its end.
	Poll    time.Duration
	Initial time.Duration
	Max     time.Duration
}

var DefaultBackoff = Backoff{Poll: time.Millisecond, Initial: 50 * time.Millisecond, Max: 2 * time.Second}

// Delay returns the wait before retry number attempt (starting at 0).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt == 0 {
		if b.Poll > 0 {
			return b.Poll
		}
		return DefaultBackoff.Poll
	}
	attempt--

	initial, limit := b.Initial, b.Max
	if initial <= 0 {
		initial = DefaultBackoff.Initial
	}
	if limit < initial {
		limit = initial
	}
	d := initial
	for i := 0; i < attempt && d < limit; i++ {
		d *= 2
	}
	if d > limit {
		d = limit
	}
	if half := int64(d / 2); half > 0 {
		d = d/2 + time.Duration(rand.Int63n(half+1))
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
