package quote_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/quotebook/auth"
	"github.com/warp/quotebook/quote"
	"github.com/warp/quotebook/quote/store"
	"github.com/warp/quotebook/remote"
)

func queueQuotes(t *testing.T, outbox *quote.Outbox, names ...string) []string {
	t.Helper()
	var ids []string
	for _, name := range names {
		q := newQuote(name, march10, item("Pintura", 1, 10))
		require.NoError(t, outbox.Add(testUser, *q))
		ids = append(ids, q.ID)
	}
	return ids
}

// =============================================================================
// OUTBOX
// =============================================================================

func TestOutbox_AddReplacesSameID(t *testing.T) {
	outbox := quote.NewOutbox(store.NewMemory())

	q := newQuote("Ana", march10, item("Pintura", 1, 10))
	require.NoError(t, outbox.Add(testUser, *q))
	q.AddItem(item("Verniz", 2, 5))
	require.NoError(t, outbox.Add(testUser, *q))

	entries := outbox.Entries()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].PendingSave)
	assert.Len(t, entries[0].Items, 2)
	assert.True(t, entries[0].Total.Equal(quote.NewMoney(20)))
}

func TestOutbox_SnapshotIsIndependent(t *testing.T) {
	outbox := quote.NewOutbox(store.NewMemory())

	q := newQuote("Ana", march10, item("Pintura", 1, 10))
	require.NoError(t, outbox.Add(testUser, *q))
	q.Items[0].Description = "changed"

	e, ok := outbox.Find(q.ID)
	require.True(t, ok)
	assert.Equal(t, "Pintura", e.Items[0].Description)
}

func TestOutbox_MalformedReadsEmpty(t *testing.T) {
	mem := store.NewMemory()
	require.NoError(t, mem.Set(quote.KeyOutbox, "{not json"))

	outbox := quote.NewOutbox(mem)
	assert.Empty(t, outbox.Entries())

	ids := queueQuotes(t, outbox, "Ana")
	assert.True(t, outbox.Contains(ids[0]))
}

func TestOutbox_RemoveAndTruncate(t *testing.T) {
	outbox := quote.NewOutbox(store.NewMemory())
	ids := queueQuotes(t, outbox, "A", "B", "C", "D")

	removed, err := outbox.Remove(ids[1])
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = outbox.Remove("missing")
	require.NoError(t, err)
	assert.False(t, removed)

	dropped, err := outbox.Truncate(2)
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)

	entries := outbox.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, ids[0], entries[0].ID)
	assert.Equal(t, ids[2], entries[1].ID)
}

// =============================================================================
// SYNC
// =============================================================================

func TestSyncer_EmptyOutboxMakesNoCalls(t *testing.T) {
	docs := store.NewDocuments()
	syncer := quote.NewSyncer(quote.NewOutbox(store.NewMemory()), docs, nil)

	res, err := syncer.CheckOfflineQueue(context.Background(), testUser)
	require.NoError(t, err)
	assert.Equal(t, quote.SyncResult{}, res)
	assert.Equal(t, 0, docs.Writes())
}

func TestSyncer_RequiresUser(t *testing.T) {
	syncer := quote.NewSyncer(quote.NewOutbox(store.NewMemory()), store.NewDocuments(), nil)

	_, err := syncer.CheckOfflineQueue(context.Background(), "")
	assert.ErrorIs(t, err, quote.ErrNotSignedIn)
}

func TestSyncer_PartialFailureKeepsFailed(t *testing.T) {
	// GIVEN: Three queued quotes, one of which the remote rejects
	// WHEN: The outbox drains
	// THEN: Two are synced and removed; the rejected one stays queued
	//       and goes through on the next pass

	docs := store.NewDocuments()
	outbox := quote.NewOutbox(store.NewMemory())
	ids := queueQuotes(t, outbox, "Ana", "Bruno", "Carla")
	docs.FailWrites(ids[1])

	var notified []quote.SyncResult
	syncer := quote.NewSyncer(outbox, docs, nil)
	syncer.OnSynced = func(r quote.SyncResult) { notified = append(notified, r) }
	ctx := context.Background()

	res, err := syncer.CheckOfflineQueue(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Synced)
	assert.Equal(t, 1, res.Failed)
	assert.ElementsMatch(t, []string{ids[0], ids[2]}, res.SyncedIDs)

	entries := outbox.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, ids[1], entries[0].ID)
	assert.Equal(t, 2, docs.Count(quote.QuotesCollection(testUser)))

	docs.ClearFailures()
	res, err = syncer.CheckOfflineQueue(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.Equal(t, 0, outbox.Len())
	assert.Len(t, notified, 2)
}

func TestSyncer_ReSendIsIdempotent(t *testing.T) {
	// GIVEN: A quote already on the remote but still queued (crash mid-pass)
	// WHEN: The outbox drains
	// THEN: The remote holds exactly one copy

	docs := store.NewDocuments()
	outbox := quote.NewOutbox(store.NewMemory())
	ids := queueQuotes(t, outbox, "Ana")
	syncer := quote.NewSyncer(outbox, docs, nil)
	ctx := context.Background()

	_, err := syncer.CheckOfflineQueue(ctx, testUser)
	require.NoError(t, err)
	e := newQuote("Ana", march10, item("Pintura", 1, 10))
	e.ID = ids[0]
	require.NoError(t, outbox.Add(testUser, *e))

	_, err = syncer.CheckOfflineQueue(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 1, docs.Count(quote.QuotesCollection(testUser)))
	assert.Equal(t, 0, outbox.Len())
}

func TestSyncer_InvalidatesCache(t *testing.T) {
	docs := store.NewDocuments()
	outbox := quote.NewOutbox(store.NewMemory())
	cache := quote.NewCache(docs)
	ctx := context.Background()

	_, err := cache.Query(ctx, quote.QuotesCollection(testUser), quote.Query{})
	require.NoError(t, err)
	require.Equal(t, 1, cache.Len())

	queueQuotes(t, outbox, "Ana")
	_, err = quote.NewSyncer(outbox, docs, cache).CheckOfflineQueue(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 0, cache.Len())
}

func TestSyncer_WatchAuth(t *testing.T) {
	// GIVEN: Queued quotes and a signed-out device that is online
	// WHEN: Their owner signs in
	// THEN: The outbox drains into that user's collection

	mem := store.NewMemory()
	docs := store.NewDocuments()
	outbox := quote.NewOutbox(mem)
	queueQuotes(t, outbox, "Ana", "Bruno")

	conn := remote.NewMonitor(nil, 0)
	conn.Set(true)
	state := auth.NewState(mem)
	syncer := quote.NewSyncer(outbox, docs, nil)

	stop := syncer.WatchAuth(context.Background(), state, conn)
	defer stop()
	assert.Equal(t, 2, outbox.Len(), "nothing drains while signed out")

	require.NoError(t, state.SignIn(auth.Session{Token: "t", UserID: testUser}))
	assert.Equal(t, 0, outbox.Len())
	assert.Equal(t, 2, docs.Count(quote.QuotesCollection(testUser)))
}

func TestSyncer_OtherUsersEntriesStayQueued(t *testing.T) {
	// GIVEN: One quote queued by u1, one by u2 and one from before owners
	//        were recorded
	// WHEN: u2 signs in and the outbox drains
	// THEN: u2 gets its own and the unowned quote; u1's stays queued
	//       until u1 signs in

	mem := store.NewMemory()
	docs := store.NewDocuments()
	outbox := quote.NewOutbox(mem)
	ctx := context.Background()

	mine := newQuote("Ana", march10, item("Pintura", 1, 10))
	theirs := newQuote("Bruno", march10, item("Verniz", 1, 5))
	unowned := newQuote("Carla", march10, item("Reboco", 1, 20))
	require.NoError(t, outbox.Add(testUser, *mine))
	require.NoError(t, outbox.Add("u2", *theirs))
	require.NoError(t, outbox.Add("", *unowned))

	syncer := quote.NewSyncer(outbox, docs, nil)
	res, err := syncer.CheckOfflineQueue(ctx, "u2")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{theirs.ID, unowned.ID}, res.SyncedIDs)
	assert.Equal(t, 2, docs.Count(quote.QuotesCollection("u2")))
	assert.Equal(t, 0, docs.Count(quote.QuotesCollection(testUser)))

	entries := outbox.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, mine.ID, entries[0].ID)
	assert.Equal(t, testUser, entries[0].Owner)
	assert.Empty(t, outbox.EntriesFor("u2"))

	_, err = syncer.CheckOfflineQueue(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 0, outbox.Len())
	assert.Equal(t, 1, docs.Count(quote.QuotesCollection(testUser)))
}

func TestOutbox_OwnerSurvivesRoundTrip(t *testing.T) {
	mem := store.NewMemory()
	q := newQuote("Ana", march10, item("Pintura", 1, 10))
	require.NoError(t, quote.NewOutbox(mem).Add("u2", *q))

	raw, ok, err := mem.Get(quote.KeyOutbox)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, raw, `"pendingSave":true`)
	assert.Contains(t, raw, `"userId":"u2"`)

	e, found := quote.NewOutbox(mem).Find(q.ID)
	require.True(t, found)
	assert.Equal(t, "u2", e.Owner)
	assert.True(t, e.PendingSave)
	assert.True(t, e.CreatedAt.Equal(q.CreatedAt))
	assert.True(t, e.BelongsTo("u2"))
	assert.False(t, e.BelongsTo(testUser))
}
