/*
store.go - Persistence and environment interfaces for the quote core

PURPOSE:
  Defines the seams between the core logic and everything ambient: the
  local key-value store, the remote document store, the identity
  provider and the connectivity signal. The core never imports concrete
  implementations; they are injected.

KEY INTERFACES:
  Storage:      Local key-value store. Opaque strings in, strings out.
  RemoteStore:  Hierarchical document store with queries.
  Identity:     "Current user id, or none."
  Connectivity: Online flag plus a subscription to transitions.

CONSISTENCY:
  Storage has no multi-key transactions. A caller writing the quote list
  and the counter performs two independent writes.
  RemoteStore.Set is an idempotent upsert by document id; the outbox drain
  relies on that to re-send safely after a partial pass.

IMPLEMENTATIONS:
  - quote/store/memory.go: In-memory Storage and RemoteStore for tests
  - store/sqlite/sqlite.go: SQLite-backed Storage and document store
  - remote/client.go:       HTTP RemoteStore against the api package

SEE ALSO:
  - cache.go: Read-through cache over RemoteStore
  - sync.go:  Outbox drain using RemoteStore.Set
*/
package quote

import (
	"context"
	"encoding/json"
	"strings"
)

// =============================================================================
// LOCAL STORAGE
// =============================================================================

// Storage is a synchronous key-value store scoped to one user's device.
type Storage interface {
	// Get returns the value and whether the key exists.
	Get(key string) (string, bool, error)

	// Set writes value under key, replacing any previous value.
	Set(key, value string) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(key string) error

	// Keys lists every stored key.
	Keys() ([]string, error)
}

// Local storage keys.
const (
	KeyQuotes       = "orcamentos"
	KeyOutbox       = "offline_orcamentos"
	KeyNeedsRefresh = "dashboard_needs_refresh"
	KeyLastClient   = "lastCliente"
	KeyCompany      = "empresa"
	KeySession      = "session"

	counterKeyPrefix = "orcamento_contador_"
	cachedKeyPrefix  = "cached_"
)

// =============================================================================
// REMOTE DOCUMENT STORE
// =============================================================================

// Document is a stored JSON object and its id.
type Document struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// Filter is an equality constraint on a top-level field.
type Filter struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

// Order sorts a collection query by a top-level field.
type Order struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// Query constrains a collection read. Zero Limit means unlimited.
type Query struct {
	Where   []Filter `json:"where,omitempty"`
	OrderBy []Order  `json:"orderBy,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

// Key serializes the constraints for use in cache keys.
func (q Query) Key() string {
	b, err := json.Marshal(q)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// RemoteStore is a hierarchical collection/document database.
// Collections are slash-separated paths such as "users/u1/orcamentos".
type RemoteStore interface {
	// Get fetches one document. Missing documents return ErrNotFound.
	Get(ctx context.Context, collection, id string) (Document, error)

	// Query reads a collection with filters, ordering and a limit.
	Query(ctx context.Context, collection string, q Query) ([]Document, error)

	// Set creates or replaces the document (idempotent upsert).
	Set(ctx context.Context, collection, id string, data json.RawMessage) error

	// Update merges fields into an existing document.
	Update(ctx context.Context, collection, id string, fields map[string]any) error

	// Delete removes a document.
	Delete(ctx context.Context, collection, id string) error
}

// Remote collection paths.
const (
	usersCollection  = "users"
	quotesCollection = "orcamentos"

	// LegacyQuotesCollection is the flat top-level collection older
	// clients wrote to. Delete and status updates fall back to it.
	LegacyQuotesCollection = quotesCollection

	// OwnerField names the user id stamped into legacy documents.
	OwnerField = "userId"
)

// QuotesCollection returns the per-user quotes sub-collection path.
func QuotesCollection(userID string) string {
	return strings.Join([]string{usersCollection, userID, quotesCollection}, "/")
}

// =============================================================================
// IDENTITY AND CONNECTIVITY
// =============================================================================

// Identity exposes the authenticated user, if any.
type Identity interface {
	CurrentUser() (userID string, ok bool)
}

// AuthSubscriber notifies on sign-in/sign-out. userID is "" on sign-out.
type AuthSubscriber interface {
	Subscribe(fn func(userID string)) (unsubscribe func())
}

// Connectivity reports whether the remote store is believed reachable and
// notifies on transitions.
type Connectivity interface {
	Online() bool
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// AlwaysOnline is a Connectivity that never changes. Useful when the
// caller has no better signal; failed writes still reach the outbox.
type AlwaysOnline struct{}

func (AlwaysOnline) Online() bool { return true }
func (AlwaysOnline) Subscribe(func(bool)) (unsubscribe func()) { return func() {} }

// StaticIdentity is an Identity fixed to one user.
type StaticIdentity string

func (s StaticIdentity) CurrentUser() (string, bool) { return string(s), s != "" }
