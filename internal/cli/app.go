package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/clocksync/internal/auth"
	"github.com/roach88/clocksync/internal/clocksync"
	"github.com/roach88/clocksync/internal/config"
	"github.com/roach88/clocksync/internal/geo"
	"github.com/roach88/clocksync/internal/prefs"
	"github.com/roach88/clocksync/internal/queue"
	"github.com/roach88/clocksync/internal/remote"
)

// stateKey is the preference holding the last known view state.
const stateKey = "view_state"

// app is everything a clock command needs, built from configuration.
type app struct {
	opts   *RootOptions
	cfg    config.Config
	out    *OutputFormatter
	logger *slog.Logger
	store  *prefs.SQLiteStore
	queue  *queue.Queue
	tokens auth.TokenSource
	client *remote.HTTPClient
	sync   *clocksync.Synchronizer
}

func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Loader{EnvFile: opts.EnvFile, LookupEnv: opts.LookupEnv}.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

func newLogger(w io.Writer, cfg config.Config, verbose bool) *slog.Logger {
	level := cfg.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openApp loads config, opens the queue database and wires the client and
// synchronizer. The caller must Close the app.
func openApp(opts *RootOptions, cmd *cobra.Command, clientOpts ...remote.ClientOption) (*app, error) {
	out := opts.formatter(cmd)
	cfg, err := loadConfig(opts)
	if err != nil {
		_ = out.Error(CodeConfig, err.Error(), nil)
		return nil, err
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg, opts.Verbose)

	logger.Debug("opening queue database", "path", cfg.DBPath)
	store, err := prefs.Open(cfg.DBPath)
	if err != nil {
		_ = out.Error(CodeStorage, err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, "failed to open queue database", err)
	}

	var tokens auth.TokenSource = auth.StaticTokenSource(cfg.Token)
	if cfg.TokenFile != "" {
		tokens = auth.NewFileTokenSource(cfg.TokenFile)
	}

	base := []remote.ClientOption{
		remote.WithTimeout(cfg.RequestTimeout),
		remote.WithTokenSource(tokens),
		remote.WithLogger(logger),
	}
	if opts.Clock != nil {
		base = append(base, remote.WithClock(opts.Clock))
	}
	client, err := remote.NewHTTPClient(cfg.APIURL, append(base, clientOpts...)...)
	if err != nil {
		_ = store.Close()
		_ = out.Error(CodeConfig, err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, "invalid api_url", err)
	}

	var provider geo.Provider = geo.NoopProvider{}
	if loc := cfg.Location.ScanLocation(); loc != nil {
		provider = geo.StaticProvider{Location: *loc}
	}

	q := queue.New(store)
	syncOpts := []clocksync.Option{
		clocksync.WithGeoProvider(provider),
		clocksync.WithGeoTimeout(cfg.GeoTimeout),
		clocksync.WithNotifier(newWriterNotifier(out.GetErrWriter())),
		clocksync.WithLogger(logger),
	}
	if opts.Clock != nil {
		syncOpts = append(syncOpts, clocksync.WithClock(opts.Clock))
	}
	if opts.IDs != nil {
		syncOpts = append(syncOpts, clocksync.WithIDGenerator(opts.IDs))
	}

	a := &app{
		opts:   opts,
		cfg:    cfg,
		out:    out,
		logger: logger,
		store:  store,
		queue:  q,
		tokens: tokens,
		client: client,
		sync:   clocksync.New(client, q, syncOpts...),
	}
	a.sync.Subscribe(a.saveState)
	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// start restores the last saved view, then replays the queue and loads the
// server's view. When the server is unreachable the restored view, minus
// whatever the drain delivered, stays in place and fresh is false.
func (a *app) start(ctx context.Context) (fresh bool, err error) {
	if err := a.restoreState(ctx); err != nil {
		return false, err
	}
	if err := a.sync.Start(ctx); err != nil {
		var rerr *remote.Error
		if !errors.As(err, &rerr) {
			return false, err
		}
		a.logger.Debug("server unavailable, using saved state", "error", err)
		return false, nil
	}
	return true, nil
}

func (a *app) restoreState(ctx context.Context) error {
	raw, ok, err := a.store.Get(ctx, stateKey)
	if err != nil {
		return fmt.Errorf("restore state: %w", err)
	}
	var st clocksync.State
	if ok {
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			a.logger.Warn("discarding unreadable saved state", "error", err)
			st = clocksync.State{}
		}
	}
	// The queue is authoritative for the unconfirmed count.
	st.Unconfirmed, err = a.queue.Len(ctx)
	if err != nil {
		return fmt.Errorf("restore state: %w", err)
	}
	a.sync.Seed(st)
	return nil
}

func (a *app) saveState(st clocksync.State) {
	encoded, err := json.Marshal(st)
	if err != nil {
		a.logger.Warn("encode state", "error", err)
		return
	}
	if err := a.store.Set(context.Background(), stateKey, string(encoded)); err != nil {
		a.logger.Warn("save state", "error", err)
	}
}
