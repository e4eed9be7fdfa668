/*
sync.go - Offline outbox drain

PURPOSE:
  When connectivity returns, push every queued quote to the remote store.

ALGORITHM (CheckOfflineQueue):
  1. Read the user's outbox entries. None -> return immediately, no
     network call. Entries queued by another user on this device wait
     for that user.
  2. For each entry, upsert users/{uid}/orcamentos/{id}.
  3. Partition into synced / failed. Failures are logged, not returned.
  4. Rewrite the outbox once, after the full pass, keeping the failures.

  Progress is not persisted mid-pass. A crash re-sends already-synced
  entries on the next run, which is harmless because Set is an upsert.

TRIGGERS (Watch):
  - Once at start, if online
  - On every offline -> online transition
  Passes never overlap; a trigger arriving mid-pass waits for it.

SEE ALSO:
  - outbox.go: Entry storage
  - remote/monitor.go: Connectivity transitions
*/
package quote

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// SyncResult reports one pass.
type SyncResult struct {
	Synced    int
	Failed    int
	SyncedIDs []string
}

// Syncer drains the outbox into the remote store.
type Syncer struct {
	outbox *Outbox
	remote RemoteStore
	cache  *Cache

	// OnSynced is called after a pass that synced at least one quote.
	OnSynced func(SyncResult)

	mu sync.Mutex
}

// NewSyncer wires a Syncer. cache may be nil; when set, the user's quote
// collection is invalidated after a pass that wrote anything.
func NewSyncer(outbox *Outbox, remote RemoteStore, cache *Cache) *Syncer {
	return &Syncer{outbox: outbox, remote: remote, cache: cache}
}

// CheckOfflineQueue runs one drain pass for userID.
func (s *Syncer) CheckOfflineQueue(ctx context.Context, userID string) (SyncResult, error) {
	if userID == "" {
		return SyncResult{}, ErrNotSignedIn
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.outbox.EntriesFor(userID)
	if len(entries) == 0 {
		return SyncResult{}, nil
	}

	log.Printf("[Sync] Draining %d offline quote(s)", len(entries))

	collection := QuotesCollection(userID)
	synced := make(map[string][]byte, len(entries))
	var result SyncResult

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			result.Failed += len(entries) - result.Synced - result.Failed
			break
		}
		data, err := Encode(e.Quote)
		if err != nil {
			log.Printf("[Sync] Encoding %s failed: %v", e.ID, err)
			result.Failed++
			continue
		}
		if err := s.remote.Set(ctx, collection, e.ID, data); err != nil {
			log.Printf("[Sync] Quote %s not synced: %v", e.ID, err)
			result.Failed++
			continue
		}
		synced[e.ID] = data
		result.Synced++
		result.SyncedIDs = append(result.SyncedIDs, e.ID)
	}

	if err := s.outbox.settle(synced); err != nil {
		return result, fmt.Errorf("rewriting outbox: %w", err)
	}

	if result.Synced > 0 {
		if s.cache != nil {
			s.cache.InvalidateCollection(collection)
		}
		log.Printf("[Sync] %d quote(s) synced, %d pending", result.Synced, result.Failed)
		if s.OnSynced != nil {
			s.OnSynced(result)
		}
	}
	return result, nil
}

// Watch drains the outbox now (if online) and again on every reconnect.
// The returned func stops watching.
func (s *Syncer) Watch(ctx context.Context, userID string, conn Connectivity) (unsubscribe func()) {
	run := func() {
		if _, err := s.CheckOfflineQueue(ctx, userID); err != nil {
			log.Printf("[Sync] Offline queue check failed: %v", err)
		}
	}

	if conn.Online() {
		run()
	}

	return conn.Subscribe(func(online bool) {
		if !online {
			return
		}
		log.Println("[Sync] Connection restored, checking offline data")
		run()
	})
}

// WatchAuth re-targets Watch whenever the signed-in user changes. Signing
// out stops draining until the next sign-in.
func (s *Syncer) WatchAuth(ctx context.Context, auth AuthSubscriber, conn Connectivity) (unsubscribe func()) {
	var (
		mu   sync.Mutex
		stop func()
	)
	unsubAuth := auth.Subscribe(func(userID string) {
		mu.Lock()
		defer mu.Unlock()
		if stop != nil {
			stop()
			stop = nil
		}
		if userID != "" {
			stop = s.Watch(ctx, userID, conn)
		}
	})
	return func() {
		unsubAuth()
		mu.Lock()
		defer mu.Unlock()
		if stop != nil {
			stop()
			stop = nil
		}
	}
}
