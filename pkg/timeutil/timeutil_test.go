package timeutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSleep(t *testing.T) {
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, Sleep(ctx, 0))
	require.NoError(t, Sleep(ctx, 20*time.Millisecond))
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.ErrorIs(t, Sleep(cancelled, time.Hour), context.Canceled)
	require.ErrorIs(t, Sleep(cancelled, 0), context.Canceled)
}

func TestIterTickStops(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	n := 0
	for range IterTick(ctx, 5*time.Millisecond) {
		n++
		if n == 3 {
			break
		}
	}
	require.Equal(t, 3, n)
}

func TestMillis(t *testing.T) {
	require.Equal(t, 250*time.Millisecond, Millis(250))
}
