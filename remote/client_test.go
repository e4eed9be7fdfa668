package remote_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/quotebook/api"
	"github.com/warp/quotebook/auth"
	"github.com/warp/quotebook/quote"
	"github.com/warp/quotebook/quote/store"
	"github.com/warp/quotebook/remote"
	"github.com/warp/quotebook/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// flakyServer serves the real API but answers 503 while down is set.
type flakyServer struct {
	*httptest.Server
	down atomic.Bool
}

func newFlakyServer(t *testing.T) *flakyServer {
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	router := api.NewRouter(api.NewHandler(db.Documents(), auth.NewService(db)))
	fs := &flakyServer{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fs.down.Load() {
			http.Error(w, `{"error":"maintenance"}`, http.StatusServiceUnavailable)
			return
		}
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(fs.Close)
	return fs
}

// signedInClient registers email and returns a client carrying its token.
func signedInClient(t *testing.T, baseURL, email string) (*remote.Client, *auth.State) {
	t.Helper()
	state := auth.NewState(store.NewMemory())

	sess, err := remote.NewClient(baseURL, nil, time.Second).SignUp(context.Background(), email, "secret123")
	require.NoError(t, err)
	require.NoError(t, state.SignIn(sess))

	return remote.NewClient(baseURL, state, time.Second), state
}

// =============================================================================
// DOCUMENTS
// =============================================================================

func TestClient_DocumentRoundTrip(t *testing.T) {
	srv := newFlakyServer(t)
	client, state := signedInClient(t, srv.URL, "ana@example.com")
	uid, _ := state.CurrentUser()
	collection := quote.QuotesCollection(uid)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, collection, "q1", json.RawMessage(`{"status":"Pendente","valor":100}`)))
	require.NoError(t, client.Set(ctx, collection, "q2", json.RawMessage(`{"status":"Enviado","valor":50}`)))

	doc, err := client.Get(ctx, collection, "q1")
	require.NoError(t, err)
	assert.Equal(t, "q1", doc.ID)
	assert.JSONEq(t, `{"status":"Pendente","valor":100}`, string(doc.Data))

	docs, err := client.Query(ctx, collection, quote.Query{
		Where: []quote.Filter{{Field: "status", Value: quote.StatusSent}},
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "q2", docs[0].ID)

	require.NoError(t, client.Update(ctx, collection, "q1", map[string]any{"status": quote.StatusApproved}))
	doc, err = client.Get(ctx, collection, "q1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"Aprovado","valor":100}`, string(doc.Data))

	require.NoError(t, client.Delete(ctx, collection, "q1"))
	_, err = client.Get(ctx, collection, "q1")
	var nf *quote.DocumentNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "q1", nf.ID)
}

func TestClient_ErrorMapping(t *testing.T) {
	// GIVEN: A signed-in client
	// THEN: 404, 403, 401, 400 and 503 map onto the core sentinels

	srv := newFlakyServer(t)
	client, state := signedInClient(t, srv.URL, "ana@example.com")
	uid, _ := state.CurrentUser()
	ctx := context.Background()

	err := client.Update(ctx, quote.QuotesCollection(uid), "missing", map[string]any{"status": "Enviado"})
	assert.True(t, quote.IsNotFound(err))

	_, err = client.Query(ctx, quote.QuotesCollection("someone-else"), quote.Query{})
	assert.ErrorIs(t, err, quote.ErrUnauthorized)

	anon := remote.NewClient(srv.URL, nil, time.Second)
	_, err = anon.Query(ctx, quote.QuotesCollection(uid), quote.Query{})
	assert.ErrorIs(t, err, quote.ErrUnauthorized)

	_, err = client.Query(ctx, quote.QuotesCollection(uid), quote.Query{OrderBy: []quote.Order{{Field: "a-b"}}})
	assert.ErrorIs(t, err, quote.ErrValidation)

	srv.down.Store(true)
	_, err = client.Get(ctx, quote.QuotesCollection(uid), "q1")
	assert.ErrorIs(t, err, quote.ErrRemoteUnavailable)
	assert.True(t, quote.IsRetryable(err))
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	client := remote.NewClient(base, nil, 200*time.Millisecond)
	err := client.Health(context.Background())
	assert.ErrorIs(t, err, quote.ErrRemoteUnavailable)
}

func TestClient_Auth(t *testing.T) {
	srv := newFlakyServer(t)
	ctx := context.Background()
	client := remote.NewClient(srv.URL, nil, time.Second)

	_, err := client.SignUp(ctx, "ana@example.com", "secret123")
	require.NoError(t, err)

	_, err = client.SignIn(ctx, "ana@example.com", "nope-nope")
	assert.ErrorIs(t, err, quote.ErrUnauthorized)

	_, err = client.SignUp(ctx, "ana@example.com", "secret123")
	var se *remote.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusConflict, se.Status)

	_, err = client.SignUp(ctx, "bad", "1")
	var vErr *quote.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.True(t, vErr.Has("email"))
}

// =============================================================================
// END TO END
// =============================================================================

func TestService_OverHTTP_OfflineThenReconnect(t *testing.T) {
	// GIVEN: The CLI stack (memory KV, HTTP remote, health monitor)
	// WHEN: The server goes down, a quote is saved, the server comes back
	//       and the monitor notices
	// THEN: The quote lands on the server with valor 100 and the outbox
	//       is empty

	srv := newFlakyServer(t)
	client, state := signedInClient(t, srv.URL, "ana@example.com")
	uid, _ := state.CurrentUser()
	ctx := context.Background()

	mon := remote.NewMonitor(client, time.Hour)
	require.True(t, mon.Check(ctx))

	svc := quote.NewService(quote.Deps{
		Storage:      store.NewMemory(),
		Remote:       client,
		Identity:     state,
		Connectivity: mon,
	})
	stop := svc.Syncer().Watch(ctx, uid, mon)
	defer stop()

	srv.down.Store(true)
	require.False(t, mon.Check(ctx))

	q := quote.New(quote.Client{Name: "Ana"}, quote.Company{Name: "Warp"}, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))
	q.AddItem(quote.NewLineItem("Pintura", 2, quote.NewMoney(50)))
	res, err := svc.Save(ctx, q)
	require.NoError(t, err)
	require.True(t, res.Queued)
	require.Equal(t, 1, svc.Outbox().Len())

	srv.down.Store(false)
	require.True(t, mon.Check(ctx))

	assert.Equal(t, 0, svc.Outbox().Len())
	doc, err := client.Get(ctx, quote.QuotesCollection(uid), q.ID)
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(doc.Data, &fields))
	assert.Equal(t, 100.0, fields["valor"])
	assert.Equal(t, "2025/001", fields["numeroOrcamento"])
}

// =============================================================================
// QUERY ENCODING
// =============================================================================

func TestEncodeDecodeQuery(t *testing.T) {
	q := quote.Query{
		Where: []quote.Filter{
			{Field: "status", Value: "Pendente"},
			{Field: "valor", Value: 100.0},
		},
		OrderBy: []quote.Order{{Field: "dataCriacao", Desc: true}},
		Limit:   10,
	}

	v, err := remote.EncodeQuery(q)
	require.NoError(t, err)
	assert.Equal(t, []string{`status:"Pendente"`, `valor:100`}, v["where"])
	assert.Equal(t, "desc", v.Get("direction"))

	back, err := remote.DecodeQuery(v)
	require.NoError(t, err)
	assert.Equal(t, q, back)
}

func TestEncodeQuery_OneOrderOnly(t *testing.T) {
	_, err := remote.EncodeQuery(quote.Query{OrderBy: []quote.Order{{Field: "a"}, {Field: "b"}}})
	assert.Error(t, err)
}

func TestDecodeQuery_Rejects(t *testing.T) {
	for _, raw := range []string{"where=novalue", "limit=-1", "limit=x", "orderBy=a&direction=up"} {
		v, err := url.ParseQuery(raw)
		require.NoError(t, err)
		_, err = remote.DecodeQuery(v)
		assert.ErrorIs(t, err, quote.ErrValidation, raw)
	}

	v, _ := url.ParseQuery("where=cliente:Ana")
	q, err := remote.DecodeQuery(v)
	require.NoError(t, err)
	assert.Equal(t, "Ana", q.Where[0].Value, "non-JSON values read as strings")
}
