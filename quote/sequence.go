package quote

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
)

// =============================================================================
// SEQUENCE - Human-readable YEAR/NNN numbers, one counter per year
// =============================================================================

// Sequence hands out quote numbers from a per-year counter in Storage.
//
// Calls are serialized within one process. Two processes (or devices)
// sharing the same user can still hand out the same number: there is no
// compare-and-swap on Storage.
type Sequence struct {
	storage Storage
	mu      sync.Mutex
}

func NewSequence(s Storage) *Sequence {
	return &Sequence{storage: s}
}

// Next increments the counter for year and returns the formatted number.
// A missing or malformed counter starts from zero.
func (s *Sequence) Next(year int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := CounterKey(year)
	current := 0

	raw, ok, err := s.storage.Get(key)
	if err != nil {
		return "", fmt.Errorf("reading counter %s: %w", key, err)
	}
	if ok {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			log.Printf("[Sequence] malformed counter %s=%q, restarting at 0", key, raw)
		} else {
			current = n
		}
	}

	next := current + 1
	if err := s.storage.Set(key, strconv.Itoa(next)); err != nil {
		return "", fmt.Errorf("writing counter %s: %w", key, err)
	}
	return FormatNumber(year, next), nil
}

// Current returns the last number handed out for year (0 if none).
func (s *Sequence) Current(year int) int {
	raw, ok, err := s.storage.Get(CounterKey(year))
	if err != nil || !ok {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return n
}

func CounterKey(year int) string {
	return counterKeyPrefix + strconv.Itoa(year)
}

// FormatNumber renders "2025/007". Counters past 999 keep all digits.
func FormatNumber(year, n int) string {
	return fmt.Sprintf("%04d/%03d", year, n)
}

// ParseNumber splits "2025/007" into (2025, 7).
func ParseNumber(s string) (year, n int, err error) {
	y, c, ok := strings.Cut(s, "/")
	if !ok {
		return 0, 0, fmt.Errorf("quote number %q: missing separator", s)
	}
	if year, err = strconv.Atoi(y); err != nil || len(y) != 4 {
		return 0, 0, fmt.Errorf("quote number %q: bad year", s)
	}
	if n, err = strconv.Atoi(c); err != nil || n < 1 {
		return 0, 0, fmt.Errorf("quote number %q: bad counter", s)
	}
	return year, n, nil
}
