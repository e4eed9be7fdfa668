/*
service.go - Save, list, detail, status and delete flows

PURPOSE:
  Applies the offline-tolerant persistence policy on top of the injected
  stores. Every user-facing operation goes through Service.

SAVE FLOW:
  1. Validate (no I/O on failure)
  2. Require a signed-in user
  3. Assign a YEAR/NNN number once; an existing quote keeps its number
  4. Write the local list (synchronous)
  5. Try the remote upsert; on failure queue a snapshot in the outbox

READ FLOW:
  List/Get go through the read-through cache. Remote failures fall back
  to the local list (and, for Get, the outbox) before reporting not found.

DELETE / STATUS:
  Remote and local changes are attempted independently; failure in one
  never blocks the other. Remote attempts the per-user path first and the
  flat legacy collection second. Delete always tries the remote, even for
  a queued quote: it may have been synced before it was edited offline.
  A document that is already gone counts as deleted.

OWNERSHIP:
  Outbox entries carry the user that queued them. Reads and drains only
  see the signed-in user's entries.

ERROR POLICY:
  - Validation errors are returned before any I/O
  - Local store errors are logged; the operation continues
  - Remote errors on save are reported in SaveResult, never lost edits

SEE ALSO:
  - cache.go, outbox.go, sequence.go, sync.go
*/
package quote

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
)

// DefaultListLimit matches the dashboard's "last 10 quotes" view.
const DefaultListLimit = 10

// Service is the entry point for quote operations.
type Service struct {
	local    *LocalQuotes
	storage  Storage
	remote   RemoteStore
	cache    *Cache
	sequence *Sequence
	outbox   *Outbox
	identity Identity
	conn     Connectivity
	syncer   *Syncer
	now      func() time.Time
}

// Deps are the capabilities a Service needs.
type Deps struct {
	Storage      Storage
	Remote       RemoteStore
	Identity     Identity
	Connectivity Connectivity // nil means AlwaysOnline
	Cache        *Cache       // nil builds one with DefaultCacheTTL
	Now          func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		local:    NewLocalQuotes(d.Storage),
		storage:  d.Storage,
		remote:   d.Remote,
		cache:    d.Cache,
		sequence: NewSequence(d.Storage),
		outbox:   NewOutbox(d.Storage),
		identity: d.Identity,
		conn:     d.Connectivity,
		now:      d.Now,
	}
	if s.conn == nil {
		s.conn = AlwaysOnline{}
	}
	if s.cache == nil {
		s.cache = NewCache(d.Remote)
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.syncer = NewSyncer(s.outbox, s.remote, s.cache)
	return s
}

func (s *Service) Outbox() *Outbox { return s.outbox }
func (s *Service) Cache() *Cache { return s.cache }
func (s *Service) Sequence() *Sequence { return s.sequence }
func (s *Service) Local() *LocalQuotes { return s.local }

// Syncer returns the service's Syncer. There is one per Service so drain
// passes never overlap.
func (s *Service) Syncer() *Syncer { return s.syncer }

func (s *Service) userID() (string, error) {
	if s.identity == nil {
		return "", ErrNotSignedIn
	}
	uid, ok := s.identity.CurrentUser()
	if !ok || uid == "" {
		return "", ErrNotSignedIn
	}
	return uid, nil
}

// =============================================================================
// SAVE
// =============================================================================

// SaveResult describes where a saved quote ended up.
type SaveResult struct {
	Quote Quote

	// Queued is true when the remote write did not happen and the quote
	// waits in the outbox.
	Queued bool

	// RemoteErr is the remote failure that caused queuing, if any.
	RemoteErr error
}

// Save validates, numbers and persists q. On success q is updated in
// place with its id, number and total. A remote failure is not an error:
// the quote is queued and SaveResult.Queued is set.
func (s *Service) Save(ctx context.Context, q *Quote) (SaveResult, error) {
	if err := Validate(*q); err != nil {
		return SaveResult{}, err
	}
	uid, err := s.userID()
	if err != nil {
		return SaveResult{}, err
	}

	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = s.now()
	}
	if q.Status == "" {
		q.Status = StatusPending
	}
	for i := range q.Items {
		if q.Items[i].ID == "" {
			q.Items[i].ID = uuid.NewString()
		}
	}

	if existing, ok := s.local.Find(q.ID); ok && existing.Number != "" {
		q.Number = existing.Number
	} else if e, ok := s.outbox.Find(q.ID); ok && e.Number != "" {
		q.Number = e.Number
	}
	if q.Number == "" {
		number, err := s.sequence.Next(q.CreatedAt.Year())
		if err != nil {
			return SaveResult{}, err
		}
		q.Number = number
	}
	q.Recalculate()

	if err := s.local.Upsert(*q); err != nil {
		log.Printf("[Save] local write for %s failed: %v", q.ID, err)
	}
	s.MarkNeedsRefresh()

	result := SaveResult{Quote: q.Clone()}

	if !s.conn.Online() {
		result.RemoteErr = ErrRemoteUnavailable
		return s.queue(uid, result)
	}

	data, err := Encode(*q)
	if err != nil {
		return SaveResult{}, fmt.Errorf("encoding quote: %w", err)
	}
	collection := QuotesCollection(uid)
	if err := s.remote.Set(ctx, collection, q.ID, data); err != nil {
		log.Printf("[Save] remote write for %s failed, queuing: %v", q.ID, err)
		result.RemoteErr = err
		return s.queue(uid, result)
	}

	// An earlier offline copy is now superseded.
	if _, err := s.outbox.Remove(q.ID); err != nil {
		log.Printf("[Save] clearing outbox entry %s failed: %v", q.ID, err)
	}
	s.cache.InvalidateCollection(collection)
	return result, nil
}

func (s *Service) queue(uid string, result SaveResult) (SaveResult, error) {
	if err := s.outbox.Add(uid, result.Quote); err != nil {
		return result, fmt.Errorf("queuing quote offline: %w", errors.Join(err, result.RemoteErr))
	}
	result.Queued = true
	return result, nil
}

// =============================================================================
// READ
// =============================================================================

// ListOptions tunes List.
type ListOptions struct {
	Limit int // 0 means DefaultListLimit

	// Fresh bypasses the cache for this read.
	Fresh bool
}

// ListResult carries the quotes and where they came from.
type ListResult struct {
	Quotes []Quote

	// Offline is true when the remote could not be read and the result
	// was built from the local list and the outbox.
	Offline bool
	Err     error
}

// List returns the most recent quotes, newest first.
func (s *Service) List(ctx context.Context, opts ListOptions) (ListResult, error) {
	uid, err := s.userID()
	if err != nil {
		return ListResult{}, err
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	collection := QuotesCollection(uid)
	if opts.Fresh || s.ConsumeNeedsRefresh() {
		s.cache.InvalidateCollection(collection)
	}

	q := Query{
		OrderBy: []Order{{Field: "dataCriacao", Desc: true}},
		Limit:   limit,
	}
	docs, err := s.cache.Query(ctx, collection, q)
	if err != nil {
		log.Printf("[List] remote read failed, using local data: %v", err)
		return ListResult{Quotes: s.localRecent(uid, limit), Offline: true, Err: err}, nil
	}

	quotes := make([]Quote, 0, len(docs))
	for _, d := range docs {
		qt, err := NormalizeDocument(d)
		if err != nil {
			log.Printf("[List] skipping malformed document %s: %v", d.ID, err)
			continue
		}
		quotes = append(quotes, qt)
	}
	return ListResult{Quotes: quotes}, nil
}

// localRecent merges the local list and the outbox, newest first.
func (s *Service) localRecent(uid string, limit int) []Quote {
	seen := make(map[string]bool)
	var quotes []Quote
	for _, q := range s.local.All() {
		seen[q.ID] = true
		quotes = append(quotes, q)
	}
	for _, e := range s.outbox.EntriesFor(uid) {
		if !seen[e.ID] {
			quotes = append(quotes, e.Quote)
		}
	}
	sort.SliceStable(quotes, func(i, j int) bool {
		return quotes[i].CreatedAt.After(quotes[j].CreatedAt)
	})
	if len(quotes) > limit {
		quotes = quotes[:limit]
	}
	return quotes
}

// Get returns one quote. The remote is consulted through the cache; on
// failure the local list and then the outbox are tried.
func (s *Service) Get(ctx context.Context, id string) (Quote, error) {
	uid, err := s.userID()
	if err != nil {
		return Quote{}, err
	}

	doc, remoteErr := s.cache.Document(ctx, QuotesCollection(uid), id)
	if remoteErr == nil {
		return NormalizeDocument(doc)
	}

	if q, ok := s.local.Find(id); ok {
		return q, nil
	}
	if e, ok := s.outbox.Find(id); ok && e.BelongsTo(uid) {
		return e.Quote, nil
	}
	if IsNotFound(remoteErr) {
		return Quote{}, remoteErr
	}
	return Quote{}, fmt.Errorf("%w: %s (remote: %v)", ErrNotFound, id, remoteErr)
}

// FindByNumber looks a quote up by its YEAR/NNN number. Remote first,
// then the local list and the outbox.
func (s *Service) FindByNumber(ctx context.Context, number string) (Quote, error) {
	uid, err := s.userID()
	if err != nil {
		return Quote{}, err
	}

	q := Query{
		Where: []Filter{{Field: "numeroOrcamento", Value: number}},
		Limit: 1,
	}
	docs, remoteErr := s.cache.Query(ctx, QuotesCollection(uid), q)
	if remoteErr == nil && len(docs) > 0 {
		return NormalizeDocument(docs[0])
	}

	for _, lq := range s.local.All() {
		if lq.Number == number {
			return lq, nil
		}
	}
	for _, e := range s.outbox.EntriesFor(uid) {
		if e.Number == number {
			return e.Quote, nil
		}
	}
	return Quote{}, fmt.Errorf("%w: quote %s", ErrNotFound, number)
}

// =============================================================================
// STATUS
// =============================================================================

// ChangeResult reports which stores accepted a status change or delete.
type ChangeResult struct {
	Remote    bool
	Local     bool
	RemoteErr error
	LocalErr  error
}

// Err is non-nil only when neither store accepted the change.
func (r ChangeResult) Err() error {
	if r.Remote || r.Local {
		return nil
	}
	return errors.Join(r.RemoteErr, r.LocalErr)
}

// UpdateStatus changes a quote's status remotely and locally.
func (s *Service) UpdateStatus(ctx context.Context, id string, status Status) (ChangeResult, error) {
	if !status.Valid() {
		return ChangeResult{}, &ValidationError{Fields: []FieldError{{Field: "status", Message: "unknown status " + string(status)}}}
	}
	uid, err := s.userID()
	if err != nil {
		return ChangeResult{}, err
	}

	var res ChangeResult
	fields := map[string]any{"status": status}

	if e, queued := s.outbox.Find(id); queued && e.BelongsTo(uid) {
		// Not remote yet: the drain will carry the new status.
		e.Status = status
		if err := s.outbox.Add(uid, e.Quote); err != nil {
			res.RemoteErr = err
		} else {
			res.Remote = true
		}
	} else {
		res.RemoteErr = s.withLegacyFallback(ctx, uid, id, func(collection string) error {
			return s.remote.Update(ctx, collection, id, fields)
		})
		res.Remote = res.RemoteErr == nil
	}

	found, err := s.local.SetStatus(id, status)
	switch {
	case err != nil:
		log.Printf("[Status] local update for %s failed: %v", id, err)
		res.LocalErr = err
	case !found:
		res.LocalErr = fmt.Errorf("%w: %s not in local list", ErrNotFound, id)
	default:
		res.Local = true
	}

	s.cache.InvalidateCollection(QuotesCollection(uid))
	s.MarkNeedsRefresh()
	return res, res.Err()
}

// =============================================================================
// DELETE
// =============================================================================

// Delete removes a quote from the remote store, the local list and the
// outbox. Each removal is attempted regardless of the others.
func (s *Service) Delete(ctx context.Context, id string) (ChangeResult, error) {
	uid, err := s.userID()
	if err != nil {
		return ChangeResult{}, err
	}

	var res ChangeResult

	if e, ok := s.outbox.Find(id); ok && e.BelongsTo(uid) {
		if _, err := s.outbox.Remove(id); err != nil {
			log.Printf("[Delete] outbox removal for %s failed: %v", id, err)
		}
	}

	res.RemoteErr = s.withLegacyFallback(ctx, uid, id, func(collection string) error {
		if err := s.remote.Delete(ctx, collection, id); err != nil && !IsNotFound(err) {
			return err
		}
		return nil
	})
	res.Remote = res.RemoteErr == nil
	if res.RemoteErr != nil {
		log.Printf("[Delete] remote delete for %s failed: %v", id, res.RemoteErr)
	}

	removed, err := s.local.Remove(id)
	switch {
	case err != nil:
		log.Printf("[Delete] local removal for %s failed: %v", id, err)
		res.LocalErr = err
	case removed:
		res.Local = true
	default:
		res.LocalErr = fmt.Errorf("%w: %s not in local list", ErrNotFound, id)
		// Absent locally is as good as removed when the remote took it.
		res.Local = res.Remote
	}

	s.cache.InvalidateCollection(QuotesCollection(uid))
	s.MarkNeedsRefresh()
	return res, res.Err()
}

// withLegacyFallback runs op on the per-user collection and, if that
// fails, on the flat legacy collection.
func (s *Service) withLegacyFallback(ctx context.Context, uid, id string, op func(collection string) error) error {
	primary := op(QuotesCollection(uid))
	if primary == nil {
		return nil
	}
	log.Printf("[Remote] %s on user collection failed, trying legacy path: %v", id, primary)
	if err := op(LegacyQuotesCollection); err != nil {
		return errors.Join(primary, err)
	}
	return nil
}

// =============================================================================
// LOCAL PREFERENCES
// =============================================================================

// MarkNeedsRefresh tells the next List to bypass the cache.
func (s *Service) MarkNeedsRefresh() {
	if err := s.storage.Set(KeyNeedsRefresh, "true"); err != nil {
		log.Printf("[Local] setting refresh flag failed: %v", err)
	}
}

// ConsumeNeedsRefresh reports and clears the refresh flag.
func (s *Service) ConsumeNeedsRefresh() bool {
	v, ok, err := s.storage.Get(KeyNeedsRefresh)
	if err != nil || !ok || v != "true" {
		return false
	}
	if err := s.storage.Remove(KeyNeedsRefresh); err != nil {
		log.Printf("[Local] clearing refresh flag failed: %v", err)
	}
	return true
}

// RememberClient stores the last-used client snapshot.
func (s *Service) RememberClient(c Client) error {
	return writeJSON(s.storage, KeyLastClient, c)
}

// LastClient returns the last-used client snapshot.
func (s *Service) LastClient() (Client, bool) {
	var c Client
	ok := readJSON(s.storage, KeyLastClient, &c)
	return c, ok
}

// SetCompany stores the company snapshot used for new quotes.
func (s *Service) SetCompany(c Company) error {
	return writeJSON(s.storage, KeyCompany, c)
}

// Company returns the stored company snapshot.
func (s *Service) Company() (Company, bool) {
	var c Company
	ok := readJSON(s.storage, KeyCompany, &c)
	return c, ok
}
