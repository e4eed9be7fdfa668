package quote

import (
	"encoding/json"
	"log"
	"strings"
	"time"
)

// CachedMaxAge is how long "cached_*" keys survive housekeeping.
const CachedMaxAge = 7 * 24 * time.Hour

// PruneResult reports what housekeeping removed.
type PruneResult struct {
	CachedRemoved []string
}

// Prune drops stale "cached_*" keys. Unparseable cached values are left
// alone. The outbox is never touched: its entries are only removed once
// the remote store has confirmed them.
func Prune(s Storage, now time.Time) (PruneResult, error) {
	var res PruneResult

	keys, err := s.Keys()
	if err != nil {
		return res, err
	}

	cutoff := now.Add(-CachedMaxAge).UnixMilli()
	for _, key := range keys {
		if !strings.HasPrefix(key, cachedKeyPrefix) {
			continue
		}
		raw, ok, err := s.Get(key)
		if err != nil || !ok {
			continue
		}
		var item struct {
			Timestamp int64 `json:"timestamp"`
		}
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			continue
		}
		if item.Timestamp != 0 && item.Timestamp < cutoff {
			if err := s.Remove(key); err != nil {
				log.Printf("[Prune] removing %s failed: %v", key, err)
				continue
			}
			log.Printf("[Prune] stale cache removed: %s", key)
			res.CachedRemoved = append(res.CachedRemoved, key)
		}
	}

	return res, nil
}
