package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/warp/quotebook/auth"
	"github.com/warp/quotebook/config"
	"github.com/warp/quotebook/quote"
	"github.com/warp/quotebook/remote"
	"github.com/warp/quotebook/store/sqlite"
)

// App wires the quote core to the local database and the server.
type App struct {
	Config  config.Config
	Local   quote.Storage
	Auth    *auth.State
	Client  *remote.Client
	Monitor *remote.Monitor
	Service *quote.Service
	Out     io.Writer

	closers []func() error
}

// Open builds an App from cfg: local SQLite under the data dir, HTTP
// client to the configured server.
func Open(cfg config.Config) (*App, error) {
	dir := config.DataDir(cfg)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	store, err := sqlite.New(config.DatabasePath(cfg))
	if err != nil {
		return nil, err
	}

	state := auth.NewState(store)
	client := remote.NewClient(config.ServerURL(cfg), state, cfg.Remote.Timeout.Duration)

	app := NewApp(cfg, store, state, client, client)
	app.closers = append(app.closers, store.Close)
	return app, nil
}

// NewApp assembles an App from explicit parts. prober drives the
// connectivity monitor; with an HTTP remote it is the same *remote.Client.
func NewApp(cfg config.Config, local quote.Storage, state *auth.State, remoteStore quote.RemoteStore, prober remote.Prober) *App {
	mon := remote.NewMonitor(prober, cfg.Remote.ProbeInterval.Duration)
	cache := quote.NewCache(remoteStore, quote.WithDefaultTTL(cfg.Cache.TTL.Duration))
	svc := quote.NewService(quote.Deps{
		Storage:      local,
		Remote:       remoteStore,
		Identity:     state,
		Connectivity: mon,
		Cache:        cache,
	})

	app := &App{
		Config:  cfg,
		Local:   local,
		Auth:    state,
		Monitor: mon,
		Service: svc,
		Out:     os.Stdout,
	}
	if c, ok := remoteStore.(*remote.Client); ok {
		app.Client = c
	}
	return app
}

// Connect probes the server once and, when signed in and reachable,
// drains the offline outbox. The returned func stops watching.
func (a *App) Connect(ctx context.Context) func() {
	a.Monitor.Check(ctx)

	uid, ok := a.Auth.CurrentUser()
	if !ok {
		return func() {}
	}
	syncer := a.Service.Syncer()
	syncer.OnSynced = func(r quote.SyncResult) {
		fmt.Fprintf(a.Out, "  %d offline quote(s) synced\n", r.Synced)
	}
	return syncer.Watch(ctx, uid, a.Monitor)
}

// Close releases the local database.
func (a *App) Close() error {
	a.Monitor.Stop()
	var first error
	for _, c := range a.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Resolve finds a quote by full id, YEAR/NNN number or id prefix.
func (a *App) Resolve(ctx context.Context, ref string) (quote.Quote, bool, error) {
	if _, _, err := quote.ParseNumber(ref); err == nil {
		q, err := a.Service.FindByNumber(ctx, ref)
		return q, a.Service.Outbox().Contains(q.ID), err
	}

	q, err := a.Service.Get(ctx, ref)
	if err == nil {
		return q, a.Service.Outbox().Contains(q.ID), nil
	}
	if !quote.IsNotFound(err) {
		return quote.Quote{}, false, err
	}

	res, listErr := a.Service.List(ctx, quote.ListOptions{Limit: 100})
	if listErr != nil {
		log.Printf("[CLI] listing for prefix match failed: %v", listErr)
	}
	candidates := append(res.Quotes, a.Service.Local().All()...)
	uid, _ := a.Auth.CurrentUser()
	for _, e := range a.Service.Outbox().EntriesFor(uid) {
		candidates = append(candidates, e.Quote)
	}
	for _, c := range candidates {
		if strings.HasPrefix(c.ID, ref) {
			return c, a.Service.Outbox().Contains(c.ID), nil
		}
	}
	return quote.Quote{}, false, err
}
