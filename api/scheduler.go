/*
scheduler.go - Expired session sweeper

PURPOSE:
  Periodically deletes bearer sessions older than SessionTTL so stale
  tokens stop authenticating.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Sweeps immediately on start
  - Logs how many sessions were removed

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 hour)
  - SessionTTL:    Session lifetime (default: 30 days)
  - Enabled:       Whether the sweeper is active (default: true)

USAGE:
  sweeper := NewSessionSweeper(store)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - store/sqlite/sqlite.go: DeleteSessionsBefore
  - remote/monitor.go: Same ticker loop on the client side
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/quotebook/auth"
)

// SessionPruner deletes sessions created before a cutoff.
type SessionPruner interface {
	DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SessionSweeper expires old sessions on a timer.
type SessionSweeper struct {
	Store         SessionPruner
	CheckInterval time.Duration
	SessionTTL    time.Duration
	Enabled       bool

	now    func() time.Time
	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSessionSweeper creates a new sweeper.
func NewSessionSweeper(store SessionPruner) *SessionSweeper {
	return &SessionSweeper{
		Store:         store,
		CheckInterval: 1 * time.Hour,
		SessionTTL:    auth.DefaultSessionTTL,
		Enabled:       true,
		now:           time.Now,
		stop:          make(chan bool),
	}
}

// Start begins the sweeper.
func (ss *SessionSweeper) Start() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if !ss.Enabled {
		log.Println("[Sweeper] Disabled, not starting")
		return
	}

	ss.ticker = time.NewTicker(ss.CheckInterval)
	ss.wg.Add(1)

	go ss.run()

	log.Printf("[Sweeper] Started with check interval: %v", ss.CheckInterval)
}

// Stop stops the sweeper.
func (ss *SessionSweeper) Stop() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.ticker != nil {
		ss.ticker.Stop()
		close(ss.stop)
		ss.wg.Wait()
		ss.ticker = nil
		log.Println("[Sweeper] Stopped")
	}
}

func (ss *SessionSweeper) run() {
	defer ss.wg.Done()

	// Run immediately on start
	ss.Sweep(context.Background())

	for {
		select {
		case <-ss.ticker.C:
			ss.Sweep(context.Background())
		case <-ss.stop:
			return
		}
	}
}

// Sweep deletes expired sessions once.
func (ss *SessionSweeper) Sweep(ctx context.Context) int64 {
	cutoff := ss.now().Add(-ss.SessionTTL)
	n, err := ss.Store.DeleteSessionsBefore(ctx, cutoff)
	if err != nil {
		log.Printf("[Sweeper] Error deleting sessions: %v", err)
		return 0
	}
	if n > 0 {
		log.Printf("[Sweeper] Removed %d expired session(s)", n)
	}
	return n
}
