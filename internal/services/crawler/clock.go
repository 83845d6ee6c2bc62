package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrPollTimeout is returned when a polled condition never held
var ErrPollTimeout = errors.New("condition not met before timeout")

// Clock abstracts time so bounded waits can be driven by a fake in tests
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

// NewRealClock returns a Clock backed by the time package
func NewRealClock() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// PollUntil evaluates cond every interval until it returns true, cond errors,
// or timeout/interval polls have been spent. At least one poll always happens.
func PollUntil(ctx context.Context, clock Clock, interval, timeout time.Duration, cond func(ctx context.Context) (bool, error)) error {
	polls := pollCount(interval, timeout)

	for i := 0; i < polls; i++ {
		ok, err := cond(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if i < polls-1 {
			if err := clock.Sleep(ctx, interval); err != nil {
				return err
			}
		}
	}

	return fmt.Errorf("%w (%d polls, interval %v)", ErrPollTimeout, polls, interval)
}

func pollCount(interval, timeout time.Duration) int {
	if interval <= 0 || timeout <= 0 {
		return 1
	}
	n := int(timeout / interval)
	if timeout%interval != 0 {
		n++
	}
	if n < 1 {
		n = 1
	}
	return n
}
