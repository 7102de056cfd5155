package timeutil

import (
	"context"
	"iter"
	"time"
)

// Sleep blocks for duration or until ctx is done. Non positive durations
// return immediately without arming a timer.
func Sleep(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IterTick yields once per period until ctx is done or the consumer stops.
func IterTick(ctx context.Context, period time.Duration) iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		ticker := time.NewTicker(period)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				if !yield(t) {
					return
				}
			}
		}
	}
}

// Millis converts a millisecond count as given on the command line.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
