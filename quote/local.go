package quote

import (
	"encoding/json"
	"log"
	"sync"
)

// =============================================================================
// LOCAL JSON HELPERS - Storage is opaque; callers own serialization
// =============================================================================

// readJSON decodes key into v. Missing keys, read failures and malformed
// JSON all report false; malformed data is logged and treated as absent.
func readJSON(s Storage, key string, v any) bool {
	raw, ok, err := s.Get(key)
	if err != nil {
		log.Printf("[Local] read %s failed: %v", key, err)
		return false
	}
	if !ok || raw == "" {
		return false
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		log.Printf("[Local] malformed JSON under %s, ignoring: %v", key, err)
		return false
	}
	return true
}

func writeJSON(s Storage, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Set(key, string(b))
}

// =============================================================================
// LOCAL QUOTE LIST
// =============================================================================

// LocalQuotes is the device-local list of every quote the user saved,
// synced or not. It is the read fallback when the remote is unreachable.
type LocalQuotes struct {
	storage Storage
	mu      sync.Mutex
}

func NewLocalQuotes(s Storage) *LocalQuotes {
	return &LocalQuotes{storage: s}
}

// All returns the stored quotes, normalizing each entry. Entries that
// fail to decode are skipped.
func (l *LocalQuotes) All() []Quote {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allLocked()
}

func (l *LocalQuotes) allLocked() []Quote {
	var raw []json.RawMessage
	if !readJSON(l.storage, KeyQuotes, &raw) {
		return nil
	}
	quotes := make([]Quote, 0, len(raw))
	for _, r := range raw {
		q, err := Normalize(r, "")
		if err != nil {
			log.Printf("[Local] skipping malformed quote: %v", err)
			continue
		}
		quotes = append(quotes, q)
	}
	return quotes
}

// Find returns the quote with the given id.
func (l *LocalQuotes) Find(id string) (Quote, bool) {
	for _, q := range l.All() {
		if q.ID == id {
			return q, true
		}
	}
	return Quote{}, false
}

// Upsert replaces the quote with the same id, or appends it.
func (l *LocalQuotes) Upsert(q Quote) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	quotes := l.allLocked()
	replaced := false
	for i := range quotes {
		if quotes[i].ID == q.ID {
			quotes[i] = q
			replaced = true
			break
		}
	}
	if !replaced {
		quotes = append(quotes, q)
	}
	return writeJSON(l.storage, KeyQuotes, quotes)
}

// Remove drops the quote with the given id. Returns false if absent.
func (l *LocalQuotes) Remove(id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	quotes := l.allLocked()
	kept := quotes[:0]
	for _, q := range quotes {
		if q.ID != id {
			kept = append(kept, q)
		}
	}
	if len(kept) == len(quotes) {
		return false, nil
	}
	return true, writeJSON(l.storage, KeyQuotes, kept)
}

// SetStatus updates one quote's status. Returns false if absent.
func (l *LocalQuotes) SetStatus(id string, status Status) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	quotes := l.allLocked()
	for i := range quotes {
		if quotes[i].ID == id {
			quotes[i].Status = status
			return true, writeJSON(l.storage, KeyQuotes, quotes)
		}
	}
	return false, nil
}

// Clear empties the list.
func (l *LocalQuotes) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return writeJSON(l.storage, KeyQuotes, []Quote{})
}
