package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeper_ReapsExpiredLocks(t *testing.T) {
	clock := newFakeClock()
	m := NewMem().(*memManager)
	m.now = clock.Now

	ctx := context.Background()
	_, err := m.Acquire(ctx, "envs/prod", "alice", time.Minute)
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	sweeper := NewSweeper(m, 10*time.Millisecond)
	sweeper.Start()
	defer sweeper.Stop()

	// Inspect already treats the expired entry as absent; the sweeper must
	// actually delete it from the backend.
	assert.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.entries) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestSweeper_StopTerminates(t *testing.T) {
	sweeper := NewSweeper(NewMem(), 10*time.Millisecond)
	sweeper.Start()

	done := make(chan struct{})
	go func() {
		sweeper.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
