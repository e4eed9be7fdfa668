/*
monitor.go - Connectivity monitor

PURPOSE:
  Periodically probes the server health endpoint and reports whether the
  remote store is reachable. Implements quote.Connectivity.

DESIGN:
  - Runs a background goroutine with a configurable probe interval
  - Probes once immediately on Start
  - Subscribers are only called on transitions (offline <-> online)
  - Starts offline until the first successful probe

USAGE:
  mon := remote.NewMonitor(client, 30*time.Second)
  mon.Start()
  defer mon.Stop()
  syncer.Watch(ctx, uid, mon)

SEE ALSO:
  - quote/sync.go: Syncer.Watch reacts to online transitions
*/
package remote

import (
	"context"
	"log"
	"sync"
	"time"
)

// DefaultProbeInterval is how often Monitor probes by default.
const DefaultProbeInterval = 30 * time.Second

// Prober checks reachability. *Client implements it.
type Prober interface {
	Health(ctx context.Context) error
}

// Monitor tracks reachability of the remote store.
type Monitor struct {
	Prober        Prober
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration

	mu      sync.Mutex
	online  bool
	subs    map[int]func(bool)
	nextSub int

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewMonitor creates a monitor. A zero interval uses DefaultProbeInterval.
func NewMonitor(p Prober, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &Monitor{
		Prober:        p,
		ProbeInterval: interval,
		ProbeTimeout:  5 * time.Second,
		subs:          make(map[int]func(bool)),
	}
}

// Start begins probing in the background.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ticker != nil {
		return
	}
	m.ticker = time.NewTicker(m.ProbeInterval)
	m.stop = make(chan struct{})
	m.wg.Add(1)

	go m.run(m.ticker, m.stop)

	log.Printf("[Monitor] Started with probe interval: %v", m.ProbeInterval)
}

// Stop halts probing and waits for the goroutine to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.ticker == nil {
		m.mu.Unlock()
		return
	}
	m.ticker.Stop()
	close(m.stop)
	m.ticker = nil
	m.mu.Unlock()

	m.wg.Wait()
	log.Println("[Monitor] Stopped")
}

func (m *Monitor) run(ticker *time.Ticker, stop chan struct{}) {
	defer m.wg.Done()

	// Probe immediately on start
	m.Check(context.Background())

	for {
		select {
		case <-ticker.C:
			m.Check(context.Background())
		case <-stop:
			return
		}
	}
}

// Check probes once and updates the state. Returns the new state.
func (m *Monitor) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.ProbeTimeout)
	defer cancel()

	err := m.Prober.Health(ctx)
	if err != nil {
		log.Printf("[Monitor] Probe failed: %v", err)
	}
	m.Set(err == nil)
	return err == nil
}

// Set records the reachability state and notifies on change.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	fns := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	if online {
		log.Println("[Monitor] Connection restored")
	} else {
		log.Println("[Monitor] Connection lost")
	}
	for _, fn := range fns {
		fn(online)
	}
}

// Online implements quote.Connectivity.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe implements quote.Connectivity.
func (m *Monitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}
