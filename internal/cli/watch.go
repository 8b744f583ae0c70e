package cli

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/clocksync/internal/netwatch"
	"github.com/roach88/clocksync/internal/remote"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	NoInput bool
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run as a kiosk: read scans from stdin and sync on reconnect",
		Long: `Run until interrupted. Each line read from stdin is treated as one
scanned code, which suits barcode scanners in keyboard mode. The service is
probed periodically; queued scans are replayed whenever it becomes
reachable again.

Example:
  clocksync watch
  clocksync watch --no-input   # only keep the queue in sync`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.NoInput, "no-input", false, "do not read scans from stdin")
	return cmd
}

func runWatch(ctx context.Context, opts *WatchOptions, cmd *cobra.Command) error {
	var watcher *netwatch.Watcher
	offline := func() bool { return watcher != nil && watcher.Offline() }

	a, err := openApp(opts.RootOptions, cmd, remote.WithOfflineCheck(offline))
	if err != nil {
		return err
	}
	defer a.Close()

	watcher = netwatch.New(a.client,
		netwatch.WithInterval(a.cfg.ProbeInterval),
		netwatch.WithLogger(a.logger),
	)
	if err := a.restoreState(ctx); err != nil {
		return a.out.Fail(ExitCommandError, "failed to load state", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	transitions := watcher.Subscribe()
	errc := make(chan error, 2)
	go func() { errc <- watcher.Run(ctx) }()
	go func() { errc <- a.sync.RunTriggers(ctx, transitions) }()

	a.logger.Info("watching", "api_url", a.cfg.APIURL, "probe_interval", a.cfg.ProbeInterval)

	if opts.NoInput {
		<-ctx.Done()
	} else {
		readScans(ctx, a, cmd.InOrStdin())
	}

	cancel()
	for range 2 {
		if err := <-errc; err != nil && !errors.Is(err, context.Canceled) {
			return a.out.Fail(ExitCommandError, "watch stopped", err)
		}
	}
	return nil
}

// readScans captures one code per input line until EOF or ctx is done.
func readScans(ctx context.Context, a *app, r io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			code := strings.TrimSpace(line)
			if code == "" {
				continue
			}
			captureLine(ctx, a, code)
		}
	}
}

func captureLine(ctx context.Context, a *app, code string) {
	outcome, err := a.sync.Capture(ctx, code)
	if err != nil {
		_ = a.out.Error(ErrorCode(err), "scan not recorded: "+err.Error(), nil)
		return
	}
	_ = a.reportCapture(outcome)
}
