package cli_test

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/quotebook/api"
	"github.com/warp/quotebook/auth"
	"github.com/warp/quotebook/cli"
	"github.com/warp/quotebook/config"
	"github.com/warp/quotebook/quote"
	"github.com/warp/quotebook/quote/store"
	"github.com/warp/quotebook/remote"
	"github.com/warp/quotebook/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fakeProber struct {
	fail atomic.Bool
}

func (p *fakeProber) Health(context.Context) error {
	if p.fail.Load() {
		return errors.New("connection refused")
	}
	return nil
}

// harness runs commands against shared in-memory stores; every command
// gets a fresh App over the same data, like separate CLI invocations.
type harness struct {
	t      *testing.T
	local  *store.Memory
	docs   *store.Documents
	prober *fakeProber
}

func newHarness(t *testing.T, signedIn bool) *harness {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	h := &harness{
		t:      t,
		local:  store.NewMemory(),
		docs:   store.NewDocuments(),
		prober: &fakeProber{},
	}
	if signedIn {
		require.NoError(t, auth.NewState(h.local).SignIn(auth.Session{Token: "tok", UserID: "u1", Email: "ana@example.com"}))
	}
	return h
}

func (h *harness) open(cfg config.Config) (*cli.App, error) {
	return cli.NewApp(cfg, h.local, auth.NewState(h.local), h.docs, h.prober), nil
}

func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	var out bytes.Buffer
	cmd := cli.NewRootCommand(h.open)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	out, err := h.run(args...)
	require.NoError(h.t, err, out)
	return out
}

func (h *harness) onlyLocalQuote() quote.Quote {
	h.t.Helper()
	all := quote.NewLocalQuotes(h.local).All()
	require.Len(h.t, all, 1)
	return all[0]
}

func (h *harness) remoteCount() int {
	return h.docs.Count(quote.QuotesCollection("u1"))
}

// =============================================================================
// QUOTE COMMANDS
// =============================================================================

func TestCLI_QuoteLifecycle(t *testing.T) {
	// GIVEN: A signed-in user with the server reachable
	// WHEN: Creating, listing, updating, sharing, exporting and deleting
	// THEN: Each command acts on the same quote by its YEAR/NNN number

	h := newHarness(t, true)

	out := h.mustRun("new", "--client", "Ana", "--phone", "21972625476", "--email", "ana@example.com",
		"--item", "Pintura|2|50", "--notes", "Entrada de 50%")
	assert.Contains(t, out, "R$ 100,00")
	assert.NotContains(t, out, "Saved offline")
	assert.Equal(t, 1, h.remoteCount())

	q := h.onlyLocalQuote()
	_, n, err := quote.ParseNumber(q.Number)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	out = h.mustRun("list")
	assert.Contains(t, out, q.Number)
	assert.Contains(t, out, "Ana")

	out = h.mustRun("show", q.ID[:8])
	assert.Contains(t, out, "Entrada de 50%")

	out = h.mustRun("status", q.Number, "approved")
	assert.Contains(t, out, "set to")
	doc, err := h.docs.Get(context.Background(), quote.QuotesCollection("u1"), q.ID)
	require.NoError(t, err)
	got, err := quote.NormalizeDocument(doc)
	require.NoError(t, err)
	assert.Equal(t, quote.StatusApproved, got.Status)

	out = h.mustRun("share", q.Number, "--via", "email")
	assert.Contains(t, out, "https://mail.google.com/mail/")
	out = h.mustRun("share", q.Number)
	assert.Contains(t, out, "https://wa.me/5521972625476")

	dir := t.TempDir()
	out = h.mustRun("export", q.Number, "--dir", dir)
	assert.Contains(t, out, "Exported")
	files, err := filepath.Glob(filepath.Join(dir, "orcamento_*.pdf"))
	require.NoError(t, err)
	assert.Len(t, files, 1)

	h.mustRun("delete", q.Number)
	assert.Equal(t, 0, h.remoteCount())
	assert.Empty(t, quote.NewLocalQuotes(h.local).All())
}

func TestCLI_OfflineSaveThenSync(t *testing.T) {
	// GIVEN: The server is unreachable
	// WHEN: A quote is created, then the next command runs online
	// THEN: The quote is queued, then drained on connect

	h := newHarness(t, true)
	h.prober.fail.Store(true)

	out := h.mustRun("new", "--client", "Ana", "--item", "Pintura|2|50")
	assert.Contains(t, out, "Saved offline")
	assert.Contains(t, out, "Pending sync")
	assert.Equal(t, 1, quote.NewOutbox(h.local).Len())

	out = h.mustRun("sync")
	assert.Contains(t, out, "Server unreachable; 1 quote(s) still queued")

	h.prober.fail.Store(false)
	out = h.mustRun("sync")
	assert.Contains(t, out, "1 offline quote(s) synced")
	assert.Contains(t, out, "Nothing to sync.")
	assert.Equal(t, 0, quote.NewOutbox(h.local).Len())
	assert.Equal(t, 1, h.remoteCount())
}

func TestCLI_ListOffline(t *testing.T) {
	h := newHarness(t, true)
	h.mustRun("new", "--client", "Ana", "--item", "Pintura|1|10")

	h.docs.SetOffline(true)
	out := h.mustRun("list", "--fresh")
	assert.Contains(t, out, "Ana")
	assert.Contains(t, out, "Offline: showing local data")
}

func TestCLI_NewWithLastClientAndCompany(t *testing.T) {
	h := newHarness(t, true)

	out := h.mustRun("company", "--name", "Warp Reformas", "--cnpj", "12.345.678/0001-90")
	assert.Contains(t, out, "Warp Reformas")

	h.mustRun("new", "--client", "Ana", "--phone", "21972625476", "--item", "Pintura|1|10")
	h.mustRun("new", "--last", "--item", "Verniz|1|5")

	quotes := quote.NewLocalQuotes(h.local).All()
	require.Len(t, quotes, 2)
	assert.Equal(t, "Ana", quotes[1].Client.Name)
	assert.Equal(t, "21972625476", quotes[1].Client.Phone)
	assert.Equal(t, "Warp Reformas", quotes[1].Company.Name)
	assert.Equal(t, "12.345.678/0001-90", quotes[1].Company.TaxID)
}

func TestCLI_Errors(t *testing.T) {
	h := newHarness(t, false)

	_, err := h.run("new", "--client", "Ana", "--item", "Pintura|1|10")
	assert.ErrorIs(t, err, quote.ErrNotSignedIn)

	h = newHarness(t, true)
	_, err = h.run("new", "--client", "Ana")
	assert.ErrorIs(t, err, quote.ErrValidation)

	_, err = h.run("new", "--client", "Ana", "--item", "Pintura|dois|10")
	assert.Error(t, err)

	_, err = h.run("show", "2025/404")
	assert.ErrorIs(t, err, quote.ErrNotFound)

	_, err = h.run("status", "2025/001", "Arquivado")
	assert.ErrorIs(t, err, quote.ErrValidation)
}

func TestCLI_PruneAndConfig(t *testing.T) {
	h := newHarness(t, true)
	require.NoError(t, h.local.Set("cached_old", `{"timestamp":1}`))

	out := h.mustRun("prune")
	assert.Contains(t, out, "Removed 1 cached entries")

	out = h.mustRun("config")
	assert.Contains(t, out, "using defaults")

	h.mustRun("config", "init")
	out = h.mustRun("config")
	assert.Contains(t, out, "Status: loaded")

	_, err := h.run("config", "init")
	assert.Error(t, err)
}

func TestCLI_PruneKeepsQueuedQuotesUnlessCapped(t *testing.T) {
	// GIVEN: Three quotes saved while the server is unreachable
	// WHEN: Pruning, then pruning with --cap-outbox 1
	// THEN: Plain prune keeps the queue; the cap drops the rest and says so

	h := newHarness(t, true)
	h.prober.fail.Store(true)
	for _, name := range []string{"Ana", "Bruno", "Carla"} {
		h.mustRun("new", "--client", name, "--item", "Pintura|1|10")
	}
	require.Equal(t, 3, quote.NewOutbox(h.local).Len())

	out := h.mustRun("prune")
	assert.Contains(t, out, "Removed 0 cached entries")
	assert.NotContains(t, out, "Dropped")
	assert.Equal(t, 3, quote.NewOutbox(h.local).Len())

	out = h.mustRun("prune", "--cap-outbox", "1")
	assert.Contains(t, out, "Dropped 2 unsynced quote(s)")
	entries := quote.NewOutbox(h.local).Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "Ana", entries[0].Client.Name)
}

// =============================================================================
// AGAINST A REAL SERVER
// =============================================================================

func TestCLI_SignupLoginAgainstServer(t *testing.T) {
	// GIVEN: A running document server
	// WHEN: Signing up, creating a quote, logging out and back in
	// THEN: The quote is stored under the new account on the server

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	srv := httptest.NewServer(api.NewRouter(api.NewHandler(db.Documents(), auth.NewService(db))))
	t.Cleanup(srv.Close)

	local := store.NewMemory()
	open := func(cfg config.Config) (*cli.App, error) {
		state := auth.NewState(local)
		client := remote.NewClient(srv.URL, state, time.Second)
		return cli.NewApp(cfg, local, state, client, client), nil
	}
	run := func(args ...string) string {
		var out bytes.Buffer
		cmd := cli.NewRootCommand(open)
		cmd.SetOut(&out)
		cmd.SetErr(&out)
		cmd.SetArgs(args)
		require.NoError(t, cmd.Execute(), out.String())
		return out.String()
	}

	out := run("signup", "--email", "ana@example.com", "--password", "secret123")
	assert.Contains(t, out, "Signed up as ana@example.com")

	run("new", "--client", "Dona Maria", "--item", "Reboco|3|20")
	uid, ok := auth.NewState(local).CurrentUser()
	require.True(t, ok)
	n, err := db.Documents().CountDocuments(context.Background(), quote.QuotesCollection(uid))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	out = run("logout")
	assert.Contains(t, out, "Signed out")
	_, ok = auth.NewState(local).CurrentUser()
	assert.False(t, ok)

	t.Setenv(cli.PasswordEnv, "secret123")
	out = run("login", "--email", "ana@example.com")
	assert.Contains(t, out, "Signed in as ana@example.com")

	out = run("list")
	assert.Contains(t, out, "Dona Maria")
}
