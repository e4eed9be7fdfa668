package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/quotebook/config"
	"github.com/warp/quotebook/pdf"
	"github.com/warp/quotebook/quote"
)

// PasswordEnv supplies the password for signup/login non-interactively.
const PasswordEnv = "QUOTEBOOK_PASSWORD"

// Opener builds the App a command runs against.
type Opener func(cfg config.Config) (*App, error)

type rootOptions struct {
	open    Opener
	loadCfg func() (config.Config, error)
	timeout time.Duration
}

// Execute is the main entry point called from main.go.
func Execute() {
	if err := NewRootCommand(Open).Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRootCommand builds the command tree.
func NewRootCommand(open Opener) *cobra.Command {
	opts := &rootOptions{open: open, loadCfg: config.Load}

	root := &cobra.Command{
		Use:           "quotebook",
		Short:         "Offline-tolerant quote book",
		Long:          "Create, list and share quotes (orçamentos). Works offline; queued quotes sync when the server is reachable.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Overall command timeout")

	root.AddCommand(
		newSignupCmd(opts),
		newLoginCmd(opts),
		newLogoutCmd(opts),
		newNewCmd(opts),
		newListCmd(opts),
		newShowCmd(opts),
		newStatusCmd(opts),
		newDeleteCmd(opts),
		newSyncCmd(opts),
		newExportCmd(opts),
		newShareCmd(opts),
		newCompanyCmd(opts),
		newConfigCmd(opts),
		newPruneCmd(opts),
	)
	return root
}

// run opens the App, connects, runs fn and closes.
func (o *rootOptions) run(cmd *cobra.Command, fn func(ctx context.Context, app *App) error) error {
	cfg, err := o.loadCfg()
	if err != nil {
		return err
	}
	app, err := o.open(cfg)
	if err != nil {
		return err
	}
	defer app.Close()
	app.Out = cmd.OutOrStdout()

	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()

	stop := app.Connect(ctx)
	defer stop()

	return fn(ctx, app)
}

// =============================================================================
// AUTH
// =============================================================================

func newSignupCmd(o *rootOptions) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account on the server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, func(ctx context.Context, app *App) error {
				if app.Client == nil {
					return errors.New("no server configured")
				}
				pw, err := readPassword(cmd, password)
				if err != nil {
					return err
				}
				sess, err := app.Client.SignUp(ctx, email, pw)
				if err != nil {
					return err
				}
				if err := app.Auth.SignIn(sess); err != nil {
					return err
				}
				fmt.Fprintf(app.Out, "  Signed up as %s\n", sess.Email)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "E-mail address")
	cmd.Flags().StringVar(&password, "password", "", "Password (or $"+PasswordEnv+", or stdin)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newLoginCmd(o *rootOptions) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, func(ctx context.Context, app *App) error {
				if app.Client == nil {
					return errors.New("no server configured")
				}
				pw, err := readPassword(cmd, password)
				if err != nil {
					return err
				}
				sess, err := app.Client.SignIn(ctx, email, pw)
				if err != nil {
					return err
				}
				if err := app.Auth.SignIn(sess); err != nil {
					return err
				}
				fmt.Fprintf(app.Out, "  Signed in as %s\n", sess.Email)

				// Quotes queued before sign-in go out now.
				stop := app.Connect(ctx)
				stop()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "E-mail address")
	cmd.Flags().StringVar(&password, "password", "", "Password (or $"+PasswordEnv+", or stdin)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newLogoutCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, func(ctx context.Context, app *App) error {
				if app.Client != nil && app.Monitor.Online() {
					if err := app.Client.SignOut(ctx); err != nil {
						fmt.Fprintf(app.Out, "  Server sign-out failed: %v\n", err)
					}
				}
				if err := app.Auth.SignOut(); err != nil {
					return err
				}
				fmt.Fprintln(app.Out, "  Signed out")
				return nil
			})
		},
	}
}

func readPassword(cmd *cobra.Command, flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if env := os.Getenv(PasswordEnv); env != "" {
		return env, nil
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// =============================================================================
// QUOTES
// =============================================================================

func newNewCmd(o *rootOptions) *cobra.Command {
	var (
		client   quote.Client
		items    []string
		notes    string
		status   string
		lastUsed bool
	)
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create a quote",
		Example: `  quotebook new --client "Ana" --phone 21972625476 --item "Pintura|2|50"
  quotebook new --last --item "Reparo elétrico|1|R$ 1.234,50|Quadro de luz"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, func(ctx context.Context, app *App) error {
				c := client
				if lastUsed {
					if last, ok := app.Service.LastClient(); ok {
						c = mergeClient(last, client)
					}
				}

				company, ok := app.Service.Company()
				if !ok {
					company = app.Config.Company.Quote()
				}

				q := quote.New(c, company, time.Now())
				q.Notes = notes
				st, err := quote.ParseStatus(status)
				if err != nil {
					return err
				}
				q.Status = st

				for _, raw := range items {
					it, err := ParseItem(raw)
					if err != nil {
						return err
					}
					q.AddItem(it)
				}

				res, err := app.Service.Save(ctx, q)
				if err != nil {
					return err
				}
				if err := app.Service.RememberClient(c); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "  Could not remember client: %v\n", err)
				}

				fmt.Fprint(app.Out, RenderQuote(res.Quote, res.Queued))
				if res.Queued {
					fmt.Fprintln(app.Out, warnStyle.Render("  Saved offline; it will sync when the server is reachable."))
				}
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&client.Name, "client", "", "Client name")
	f.StringVar(&client.Phone, "phone", "", "Client phone")
	f.StringVar(&client.Email, "email", "", "Client e-mail")
	f.StringVar(&client.WhatsApp, "whatsapp", "", "Client WhatsApp number")
	f.StringArrayVar(&items, "item", nil, `Line item "descricao|quantidade|preco[|detalhes]" (repeatable)`)
	f.StringVar(&notes, "notes", "", "Observações")
	f.StringVar(&status, "status", "", "Initial status (default Pendente)")
	f.BoolVar(&lastUsed, "last", false, "Start from the last-used client")
	return cmd
}

// ParseItem reads "descricao|quantidade|preco[|detalhes]".
func ParseItem(raw string) (quote.LineItem, error) {
	parts := strings.Split(raw, "|")
	if len(parts) < 3 || len(parts) > 4 {
		return quote.LineItem{}, fmt.Errorf("item %q: expected descricao|quantidade|preco[|detalhes]", raw)
	}
	qty, err := strconv.ParseFloat(strings.Replace(strings.TrimSpace(parts[1]), ",", ".", 1), 64)
	if err != nil {
		return quote.LineItem{}, fmt.Errorf("item %q: invalid quantity: %w", raw, err)
	}
	price, err := quote.ParseBRL(parts[2])
	if err != nil {
		return quote.LineItem{}, fmt.Errorf("item %q: %w", raw, err)
	}
	it := quote.NewLineItem(strings.TrimSpace(parts[0]), qty, price)
	if len(parts) == 4 {
		it.Detail = strings.TrimSpace(parts[3])
	}
	return it, nil
}

func mergeClient(base, override quote.Client) quote.Client {
	if override.Name != "" {
		base.Name = override.Name
	}
	if override.Phone != "" {
		base.Phone = override.Phone
	}
	if override.Email != "" {
		base.Email = override.Email
	}
	if override.WhatsApp != "" {
		base.WhatsApp = override.WhatsApp
	}
	return base
}

func newListCmd(o *rootOptions) *cobra.Command {
	var (
		limit int
		fresh bool
	)
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the most recent quotes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, func(ctx context.Context, app *App) error {
				if limit <= 0 {
					limit = app.Config.General.ListLimit
				}
				res, err := app.Service.List(ctx, quote.ListOptions{Limit: limit, Fresh: fresh})
				if err != nil {
					return err
				}
				fmt.Fprint(app.Out, RenderQuoteList(res.Quotes, res.Offline))
				if n := app.Service.Outbox().Len(); n > 0 {
					fmt.Fprintln(app.Out, warnStyle.Render(fmt.Sprintf("  %d quote(s) waiting to sync", n)))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Number of quotes (default from config)")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "Bypass the cache")
	return cmd
}

func newShowCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id|number>",
		Short: "Show a quote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, func(ctx context.Context, app *App) error {
				q, queued, err := app.Resolve(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprint(app.Out, RenderQuote(q, queued))
				return nil
			})
		},
	}
}

func newStatusCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id|number> <Pendente|Enviado|Aprovado|Recusado>",
		Short: "Change a quote's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := quote.ParseStatus(args[1])
			if err != nil {
				return err
			}
			return o.run(cmd, func(ctx context.Context, app *App) error {
				q, _, err := app.Resolve(ctx, args[0])
				if err != nil {
					return err
				}
				res, err := app.Service.UpdateStatus(ctx, q.ID, st)
				reportChange(app.Out, "Status of "+q.Number+" set to "+RenderStatus(st), res)
				return err
			})
		},
	}
}

func newDeleteCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id|number>",
		Aliases: []string{"rm"},
		Short:   "Delete a quote",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, func(ctx context.Context, app *App) error {
				q, _, err := app.Resolve(ctx, args[0])
				if err != nil {
					return err
				}
				res, err := app.Service.Delete(ctx, q.ID)
				reportChange(app.Out, "Deleted "+q.Number, res)
				return err
			})
		},
	}
}

func reportChange(w io.Writer, msg string, res quote.ChangeResult) {
	if res.Err() != nil {
		return
	}
	fmt.Fprintf(w, "  %s\n", msg)
	if !res.Remote {
		fmt.Fprintln(w, warnStyle.Render("  Server not updated: "+errString(res.RemoteErr)))
	}
	if !res.Local {
		fmt.Fprintln(w, mutedStyle.Render("  Local copy not updated: "+errString(res.LocalErr)))
	}
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

// =============================================================================
// SYNC / EXPORT / SHARE
// =============================================================================

func newSyncCmd(o *rootOptions) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push offline quotes to the server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if watch {
				return o.watch(cmd)
			}
			return o.run(cmd, func(ctx context.Context, app *App) error {
				uid, ok := app.Auth.CurrentUser()
				if !ok {
					return quote.ErrNotSignedIn
				}
				if !app.Monitor.Online() {
					fmt.Fprintf(app.Out, "  Server unreachable; %d quote(s) still queued\n", app.Service.Outbox().Len())
					return nil
				}
				res, err := app.Service.Syncer().CheckOfflineQueue(ctx, uid)
				if err != nil {
					return err
				}
				fmt.Fprint(app.Out, RenderSyncResult(res, time.Now()))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "Keep running and sync on every reconnect")
	return cmd
}

// watch runs until interrupted, draining the outbox on every reconnect
// and following sign-in changes.
func (o *rootOptions) watch(cmd *cobra.Command) error {
	cfg, err := o.loadCfg()
	if err != nil {
		return err
	}
	app, err := o.open(cfg)
	if err != nil {
		return err
	}
	defer app.Close()
	app.Out = cmd.OutOrStdout()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	syncer := app.Service.Syncer()
	syncer.OnSynced = func(r quote.SyncResult) {
		fmt.Fprint(app.Out, RenderSyncResult(r, time.Now()))
	}
	unsubscribe := syncer.WatchAuth(ctx, app.Auth, app.Monitor)
	defer unsubscribe()

	app.Monitor.Start()
	fmt.Fprintln(app.Out, "  Watching for connectivity changes (Ctrl+C to stop)")
	<-ctx.Done()
	return nil
}

func newExportCmd(o *rootOptions) *cobra.Command {
	var (
		dir   string
		dated bool
	)
	cmd := &cobra.Command{
		Use:   "export <id|number>",
		Short: "Export a quote as PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, func(ctx context.Context, app *App) error {
				q, _, err := app.Resolve(ctx, args[0])
				if err != nil {
					return err
				}
				path, err := pdf.Export(dir, q, pdf.Options{Dated: dated})
				if err != nil {
					return err
				}
				fmt.Fprintf(app.Out, "  Exported %s\n", path)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "Output directory")
	cmd.Flags().BoolVar(&dated, "dated", false, "Include client name and date in the file name")
	return cmd
}

func newShareCmd(o *rootOptions) *cobra.Command {
	var via string
	cmd := &cobra.Command{
		Use:   "share <id|number>",
		Short: "Print a WhatsApp or e-mail link for a quote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, func(ctx context.Context, app *App) error {
				q, _, err := app.Resolve(ctx, args[0])
				if err != nil {
					return err
				}
				var link string
				switch via {
				case "whatsapp", "wa":
					link, err = quote.WhatsAppLink(q)
				case "email", "mail":
					link, err = quote.EmailLink(q)
				default:
					return fmt.Errorf("unknown channel %q (use whatsapp or email)", via)
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(app.Out, link)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&via, "via", "whatsapp", "Channel: whatsapp or email")
	return cmd
}

// =============================================================================
// SETTINGS
// =============================================================================

func newCompanyCmd(o *rootOptions) *cobra.Command {
	var c quote.Company
	cmd := &cobra.Command{
		Use:   "company",
		Short: "Show or set the company printed on new quotes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, func(_ context.Context, app *App) error {
				current, ok := app.Service.Company()
				if !ok {
					current = app.Config.Company.Quote()
				}
				if merged, changed := mergeCompany(current, c, cmd); changed {
					current = merged
					if err := app.Service.SetCompany(current); err != nil {
						return err
					}
				}

				fmt.Fprintln(app.Out, "  "+headerStyle.Render("Empresa"))
				fmt.Fprintf(app.Out, "    Nome:     %s\n", current.Name)
				fmt.Fprintf(app.Out, "    CNPJ:     %s\n", current.TaxID)
				fmt.Fprintf(app.Out, "    Telefone: %s\n", quote.FormatPhone(current.Phone))
				fmt.Fprintf(app.Out, "    Email:    %s\n", current.Email)
				fmt.Fprintf(app.Out, "    Endereço: %s\n", current.Address)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&c.Name, "name", "", "Company name")
	f.StringVar(&c.TaxID, "cnpj", "", "CNPJ")
	f.StringVar(&c.Phone, "phone", "", "Phone")
	f.StringVar(&c.Email, "email", "", "E-mail")
	f.StringVar(&c.Address, "address", "", "Address")
	return cmd
}

func mergeCompany(base, set quote.Company, cmd *cobra.Command) (quote.Company, bool) {
	f := cmd.Flags()
	fields := []struct {
		flag string
		dst  *string
		src  string
	}{
		{"name", &base.Name, set.Name},
		{"cnpj", &base.TaxID, set.TaxID},
		{"phone", &base.Phone, set.Phone},
		{"email", &base.Email, set.Email},
		{"address", &base.Address, set.Address},
	}
	changed := false
	for _, fl := range fields {
		if f.Changed(fl.flag) {
			*fl.dst = fl.src
			changed = true
		}
	}
	return base, changed
}

func newConfigCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := o.loadCfg()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()

			fmt.Fprintf(w, "  Config file: %s\n", config.Path())
			if config.Exists() {
				fmt.Fprintln(w, "  Status: loaded")
			} else {
				fmt.Fprintln(w, "  Status: using defaults (no config file)")
			}
			fmt.Fprintln(w)

			fmt.Fprintln(w, "  [General]")
			fmt.Fprintf(w, "    Data directory: %s\n", config.DataDir(cfg))
			fmt.Fprintf(w, "    List limit:     %d\n", cfg.General.ListLimit)
			fmt.Fprintln(w)

			fmt.Fprintln(w, "  [Remote]")
			fmt.Fprintf(w, "    Server:         %s\n", config.ServerURL(cfg))
			fmt.Fprintf(w, "    Timeout:        %s\n", cfg.Remote.Timeout.Duration)
			fmt.Fprintf(w, "    Probe interval: %s\n", cfg.Remote.ProbeInterval.Duration)
			fmt.Fprintln(w)

			fmt.Fprintln(w, "  [Cache]")
			fmt.Fprintf(w, "    TTL: %s\n", cfg.Cache.TTL.Duration)
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if config.Exists() {
				return fmt.Errorf("%s already exists", config.Path())
			}
			if err := config.Save(config.DefaultConfig()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "  Wrote %s\n", config.Path())
			return nil
		},
	})
	return cmd
}

func newPruneCmd(o *rootOptions) *cobra.Command {
	var capOutbox int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Drop stale cached data",
		Long: "Drop cached entries older than a week. With --cap-outbox N the offline queue is\n" +
			"also cut to its first N quotes; the dropped quotes never reached the server and are lost.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, func(_ context.Context, app *App) error {
				res, err := quote.Prune(app.Local, time.Now())
				if err != nil {
					return err
				}
				fmt.Fprintf(app.Out, "  Removed %d cached entries\n", len(res.CachedRemoved))

				if capOutbox <= 0 {
					return nil
				}
				dropped, err := app.Service.Outbox().Truncate(capOutbox)
				if err != nil {
					return err
				}
				if dropped > 0 {
					fmt.Fprintln(app.Out, warnStyle.Render(fmt.Sprintf("  Dropped %d unsynced quote(s) from the offline queue", dropped)))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&capOutbox, "cap-outbox", 0, "Keep only the first N queued quotes, discarding the rest unsynced")
	return cmd
}
