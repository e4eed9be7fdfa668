// Package store provides in-memory Storage and RemoteStore implementations.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/warp/quotebook/quote"
)

// =============================================================================
// MEMORY - In-memory local key-value store (for testing/dev)
// =============================================================================

type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *Memory) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *Memory) Keys() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// =============================================================================
// DOCUMENTS - In-memory remote document store with failure injection
// =============================================================================

// Documents is a RemoteStore held in memory. It can be switched offline
// and told to reject specific document ids, which is how tests simulate
// connectivity loss and partial sync failures.
type Documents struct {
	mu          sync.RWMutex
	collections map[string]map[string]json.RawMessage

	offline bool
	failIDs map[string]bool

	reads  int
	writes int
}

func NewDocuments() *Documents {
	return &Documents{
		collections: make(map[string]map[string]json.RawMessage),
		failIDs:     make(map[string]bool),
	}
}

// SetOffline makes every call fail with quote.ErrRemoteUnavailable.
func (d *Documents) SetOffline(offline bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.offline = offline
}

// FailWrites makes writes to the given ids fail until cleared.
func (d *Documents) FailWrites(ids ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		d.failIDs[id] = true
	}
}

// ClearFailures undoes FailWrites.
func (d *Documents) ClearFailures() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failIDs = make(map[string]bool)
}

// Reads counts Get and Query calls that reached the store.
func (d *Documents) Reads() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.reads
}

// Writes counts Set, Update and Delete calls that reached the store.
func (d *Documents) Writes() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.writes
}

// Count returns the number of documents in collection.
func (d *Documents) Count(collection string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.collections[collection])
}

func (d *Documents) unavailable() error {
	return fmt.Errorf("memory documents offline: %w", quote.ErrRemoteUnavailable)
}

func (d *Documents) Get(_ context.Context, collection, id string) (quote.Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.offline {
		return quote.Document{}, d.unavailable()
	}
	d.reads++

	data, ok := d.collections[collection][id]
	if !ok {
		return quote.Document{}, &quote.DocumentNotFoundError{Collection: collection, ID: id}
	}
	return quote.Document{ID: id, Data: cloneRaw(data)}, nil
}

func (d *Documents) Query(_ context.Context, collection string, q quote.Query) ([]quote.Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.offline {
		return nil, d.unavailable()
	}
	d.reads++

	docs := make([]quote.Document, 0, len(d.collections[collection]))
	for id, data := range d.collections[collection] {
		docs = append(docs, quote.Document{ID: id, Data: cloneRaw(data)})
	}
	return ApplyQuery(docs, q)
}

func (d *Documents) Set(_ context.Context, collection, id string, data json.RawMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.offline {
		return d.unavailable()
	}
	if d.failIDs[id] {
		return fmt.Errorf("write %s rejected: %w", id, quote.ErrRemoteUnavailable)
	}
	d.writes++

	if !json.Valid(data) {
		return fmt.Errorf("document %s/%s: invalid JSON", collection, id)
	}
	if d.collections[collection] == nil {
		d.collections[collection] = make(map[string]json.RawMessage)
	}
	d.collections[collection][id] = cloneRaw(data)
	return nil
}

func (d *Documents) Update(_ context.Context, collection, id string, fields map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.offline {
		return d.unavailable()
	}
	if d.failIDs[id] {
		return fmt.Errorf("update %s rejected: %w", id, quote.ErrRemoteUnavailable)
	}
	d.writes++

	data, ok := d.collections[collection][id]
	if !ok {
		return &quote.DocumentNotFoundError{Collection: collection, ID: id}
	}
	merged, err := MergeFields(data, fields)
	if err != nil {
		return err
	}
	d.collections[collection][id] = merged
	return nil
}

// Delete is idempotent: removing a missing document succeeds.
func (d *Documents) Delete(_ context.Context, collection, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.offline {
		return d.unavailable()
	}
	if d.failIDs[id] {
		return fmt.Errorf("delete %s rejected: %w", id, quote.ErrRemoteUnavailable)
	}
	d.writes++
	delete(d.collections[collection], id)
	return nil
}

// =============================================================================
// QUERY EVALUATION - Shared by in-process document stores
// =============================================================================

// ApplyQuery filters, sorts and limits docs in memory.
func ApplyQuery(docs []quote.Document, q quote.Query) ([]quote.Document, error) {
	type row struct {
		doc    quote.Document
		fields map[string]any
	}

	rows := make([]row, 0, len(docs))
	for _, doc := range docs {
		var fields map[string]any
		if err := json.Unmarshal(doc.Data, &fields); err != nil {
			return nil, fmt.Errorf("document %s: %w", doc.ID, err)
		}
		if matches(fields, q.Where) {
			rows = append(rows, row{doc: doc, fields: fields})
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range q.OrderBy {
			c := compareValues(rows[i].fields[o.Field], rows[j].fields[o.Field])
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return rows[i].doc.ID < rows[j].doc.ID
	})

	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}

	out := make([]quote.Document, len(rows))
	for i, r := range rows {
		out[i] = r.doc
	}
	return out, nil
}

func matches(fields map[string]any, where []quote.Filter) bool {
	for _, f := range where {
		if !equalValues(fields[f.Field], f.Value) {
			return false
		}
	}
	return true
}

// equalValues compares through JSON so 1 and 1.0 (or a Status and its
// string) are equal.
func equalValues(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	var na, nb any
	_ = json.Unmarshal(ja, &na)
	_ = json.Unmarshal(jb, &nb)
	return fmt.Sprint(na) == fmt.Sprint(nb)
}

// compareValues orders nil < numbers < strings; RFC3339 timestamps sort
// correctly as strings.
func compareValues(a, b any) int {
	rank := func(v any) int {
		switch v.(type) {
		case nil:
			return 0
		case float64:
			return 1
		case string:
			return 2
		default:
			return 3
		}
	}
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch x := a.(type) {
	case float64:
		y := b.(float64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case string:
		return strings.Compare(x, b.(string))
	case nil:
		return 0
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// MergeFields sets top-level fields on a JSON object.
func MergeFields(data json.RawMessage, fields map[string]any) (json.RawMessage, error) {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("merging fields: %w", err)
	}
	if obj == nil {
		obj = make(map[string]any)
	}
	for k, v := range fields {
		obj[k] = v
	}
	return json.Marshal(obj)
}

func cloneRaw(r json.RawMessage) json.RawMessage {
	return append(json.RawMessage(nil), r...)
}
