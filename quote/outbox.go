package quote

import (
	"bytes"
	"encoding/json"
	"sync"
)

// =============================================================================
// OUTBOX - Quotes waiting for a remote write
// =============================================================================

// OutboxEntry is a complete quote snapshot; it references no mutable state.
// Owner is the user whose collection the entry drains into.
type OutboxEntry struct {
	Quote
	PendingSave bool   `json:"pendingSave"`
	Owner       string `json:"userId,omitempty"`
}

// MarshalJSON keeps the entry fields next to the quote's own encoding.
func (e OutboxEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		quoteFields
		CreatedAt   string `json:"dataCriacao"`
		PendingSave bool   `json:"pendingSave"`
		Owner       string `json:"userId,omitempty"`
	}{quoteFields(e.Quote), FormatTimestamp(e.CreatedAt), e.PendingSave, e.Owner})
}

// BelongsTo reports whether userID may drain or read the entry. Entries
// written before owners were recorded belong to whoever signs in.
func (e OutboxEntry) BelongsTo(userID string) bool {
	return e.Owner == "" || e.Owner == userID
}

// Outbox stores entries under KeyOutbox as one JSON array. Every mutation
// rewrites the whole array in a single Storage write.
type Outbox struct {
	storage Storage
	mu      sync.Mutex
}

func NewOutbox(s Storage) *Outbox {
	return &Outbox{storage: s}
}

// Entries returns the queued entries. Malformed data reads as empty.
func (o *Outbox) Entries() []OutboxEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.entriesLocked()
}

func (o *Outbox) entriesLocked() []OutboxEntry {
	var entries []OutboxEntry
	if !readJSON(o.storage, KeyOutbox, &entries) {
		return nil
	}
	for i := range entries {
		entries[i].Recalculate()
	}
	return entries
}

// Len is the number of queued entries.
func (o *Outbox) Len() int {
	return len(o.Entries())
}

// Add queues a snapshot of q for owner. A quote already queued is
// replaced so the latest edit wins.
func (o *Outbox) Add(owner string, q Quote) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	snapshot := q.Clone()
	snapshot.Recalculate()
	entry := OutboxEntry{Quote: snapshot, PendingSave: true, Owner: owner}

	entries := o.entriesLocked()
	for i := range entries {
		if entries[i].ID == q.ID {
			entries[i] = entry
			return writeJSON(o.storage, KeyOutbox, entries)
		}
	}
	return writeJSON(o.storage, KeyOutbox, append(entries, entry))
}

// Find returns the queued entry for id.
func (o *Outbox) Find(id string) (OutboxEntry, bool) {
	for _, e := range o.Entries() {
		if e.ID == id {
			return e, true
		}
	}
	return OutboxEntry{}, false
}

// EntriesFor returns the entries userID may see.
func (o *Outbox) EntriesFor(userID string) []OutboxEntry {
	var mine []OutboxEntry
	for _, e := range o.Entries() {
		if e.BelongsTo(userID) {
			mine = append(mine, e)
		}
	}
	return mine
}

// Contains reports whether id is queued.
func (o *Outbox) Contains(id string) bool {
	_, ok := o.Find(id)
	return ok
}

// Remove drops id from the queue. Returns false if it was not queued.
func (o *Outbox) Remove(id string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	entries := o.entriesLocked()
	kept := entries[:0]
	for _, e := range entries {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(entries) {
		return false, nil
	}
	return true, o.replaceLocked(kept)
}

// Replace overwrites the queue in one write.
func (o *Outbox) Replace(entries []OutboxEntry) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.replaceLocked(entries)
}

func (o *Outbox) replaceLocked(entries []OutboxEntry) error {
	if entries == nil {
		entries = []OutboxEntry{}
	}
	return writeJSON(o.storage, KeyOutbox, entries)
}

// Truncate keeps only the first max entries. The dropped entries never
// reached the remote store; callers must opt in.
func (o *Outbox) Truncate(max int) (dropped int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	entries := o.entriesLocked()
	if len(entries) <= max {
		return 0, nil
	}
	return len(entries) - max, o.replaceLocked(entries[:max])
}

// settle removes the entries a sync pass confirmed, in one write. An entry
// re-queued with different content while the pass was running is kept.
func (o *Outbox) settle(synced map[string][]byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	entries := o.entriesLocked()
	kept := make([]OutboxEntry, 0, len(entries))
	for _, e := range entries {
		sent, ok := synced[e.ID]
		if ok {
			if current, err := Encode(e.Quote); err == nil && bytes.Equal(current, sent) {
				continue
			}
		}
		kept = append(kept, e)
	}
	return o.replaceLocked(kept)
}
