package syncblock

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBarrier(t *testing.T) {
	const n = 4
	b, err := NewMemory(n)
	require.NoError(t, err)
	b.SetPollInterval(time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		mu      sync.Mutex
		started []int
		wg      sync.WaitGroup
	)
	for ordinal := 1; ordinal <= n; ordinal++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, b.Attach(ordinal))
			assert.NoError(t, b.WaitReady(ctx, ordinal))

			mu.Lock()
			started = append(started, ordinal)
			mu.Unlock()
			assert.NoError(t, b.MarkDone(ordinal))
		}()
	}

	require.NoError(t, b.WaitAllAttached(ctx))

	// nobody may start before the release
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	require.Empty(t, started)
	mu.Unlock()
	for _, s := range b.States() {
		require.Equal(t, Attached, s)
	}

	b.ReleaseAll()
	require.NoError(t, b.WaitAllDone(ctx))
	wg.Wait()

	require.Len(t, started, n)
	require.Equal(t, []State{Done, Done, Done, Done}, b.States())
}

func TestAttachTwiceFails(t *testing.T) {
	b, err := NewMemory(2)
	require.NoError(t, err)

	require.NoError(t, b.Attach(1))
	require.ErrorContains(t, b.Attach(1), "already attached")
	require.Error(t, b.Attach(0))
	require.Error(t, b.Attach(3))
}

func TestWaitHonorsContext(t *testing.T) {
	b, err := NewMemory(2)
	require.NoError(t, err)
	b.SetPollInterval(time.Millisecond)
	require.NoError(t, b.Attach(1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, b.WaitAllAttached(ctx), context.DeadlineExceeded)
	require.ErrorIs(t, b.WaitReady(ctx, 1), context.DeadlineExceeded)
}

func TestFileBlockShared(t *testing.T) {
	if !Shared() {
		t.Skip("file backed blocks not supported")
	}

	dir := t.TempDir()
	owner, err := Create(dir, "block", 3)
	require.NoError(t, err)

	peer, err := Open(owner.Path())
	require.NoError(t, err)
	require.Equal(t, 3, peer.Workers())

	require.NoError(t, peer.Attach(2))
	require.Equal(t, Attached, owner.State(2))

	owner.ReleaseAll()
	require.Equal(t, Ready, peer.State(2))
	require.Equal(t, Idle, peer.State(1))

	require.NoError(t, peer.Close())
	_, err = os.Stat(owner.Path())
	require.NoError(t, err)

	require.NoError(t, owner.Close())
	_, err = os.Stat(owner.Path())
	require.True(t, os.IsNotExist(err))
}

func TestOpenRejectsGarbage(t *testing.T) {
	if !Shared() {
		t.Skip("file backed blocks not supported")
	}

	path := t.TempDir() + "/garbage"
	require.NoError(t, os.WriteFile(path, make([]byte, 64), 0o600))
	_, err := Open(path)
	require.ErrorContains(t, err, "not a synchronization block")
}
