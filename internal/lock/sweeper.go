package lock

import (
	"context"
	"time"

	"github.com/stately-io/stately/internal/logging"
)

// DefaultSweepInterval is how often the sweeper reaps expired lock entries
// when no interval is configured.
const DefaultSweepInterval = time.Minute

// Sweeper periodically removes expired lock entries. It is optional: every
// manager also treats expired entries as absent on the next Acquire, so the
// sweeper only bounds how long dead entries linger in the backend.
type Sweeper struct {
	mgr      Manager
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

func NewSweeper(mgr Manager, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		mgr:      mgr,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop. Call Stop to terminate it.
func (s *Sweeper) Start() {
	go s.run()
}

// Stop terminates the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Sweeper) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.interval)
			reaped, err := s.mgr.SweepExpired(ctx)
			cancel()
			if err != nil {
				logging.Warn("lock sweep failed", "error", err)
				continue
			}
			if reaped > 0 {
				logging.Info("reaped expired locks", "count", reaped)
			}
		}
	}
}
