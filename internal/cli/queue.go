package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/clocksync/internal/queue"
	"github.com/roach88/clocksync/internal/scan"
)

// queueEntry is one row of queue list output. Error is set for entries that
// cannot be decoded.
type queueEntry struct {
	Key        string         `json:"key"`
	Code       string         `json:"code,omitempty"`
	CapturedAt *time.Time     `json:"capturedAt,omitempty"`
	Location   *scan.Location `json:"location,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect or edit the offline scan queue",
	}
	cmd.AddCommand(newQueueListCommand(rootOpts))
	cmd.AddCommand(newQueueDropCommand(rootOpts))
	cmd.AddCommand(newQueueClearCommand(rootOpts))
	return cmd
}

func newQueueListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List queued scans in replay order",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			keys, err := a.queue.ListPending(ctx)
			if err != nil {
				return a.out.Fail(ExitCommandError, "failed to read queue", err)
			}

			entries := make([]queueEntry, 0, len(keys))
			for _, key := range keys {
				entry := queueEntry{Key: key}
				event, err := a.queue.Load(ctx, key)
				if err != nil {
					entry.Error = err.Error()
				} else {
					captured := event.CapturedAt
					entry.Code = event.CodeValue
					entry.CapturedAt = &captured
					entry.Location = event.Location
				}
				entries = append(entries, entry)
			}

			var b strings.Builder
			if len(entries) == 0 {
				b.WriteString("Queue is empty\n")
			} else {
				tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tCODE\tCAPTURED")
				for _, e := range entries {
					if e.Error != "" {
						fmt.Fprintf(tw, "%s\t<corrupt>\t\n", queue.IDFromKey(e.Key))
						continue
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\n", queue.IDFromKey(e.Key), e.Code, clockTime(*e.CapturedAt, rootOpts.location()))
				}
				_ = tw.Flush()
			}
			return a.out.Result(entries, b.String())
		},
	}
}

func newQueueDropCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drop <id>",
		Short: "Remove one queued scan",
		Long: `Remove a queued scan by event id or full key. Use this to unblock a
sync that keeps stopping at a scan the server rejects.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			key := args[0]
			if !strings.HasPrefix(key, queue.KeyPrefix) {
				key = queue.Key(key)
			}
			ctx := cmd.Context()
			if _, ok, err := a.store.Get(ctx, key); err != nil {
				return a.out.Fail(ExitCommandError, "failed to read queue", err)
			} else if !ok {
				_ = a.out.Error(CodeUsage, "no queued scan "+queue.IDFromKey(key), nil)
				return NewExitError(ExitFailure, "no queued scan "+queue.IDFromKey(key))
			}
			if err := a.queue.Remove(ctx, key); err != nil {
				return a.out.Fail(ExitCommandError, "failed to drop scan", err)
			}
			return a.out.Result(map[string]string{"dropped": key}, "Dropped "+queue.IDFromKey(key)+"\n")
		},
	}
}

func newQueueClearCommand(rootOpts *RootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:           "clear",
		Short:         "Discard every queued scan",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				msg := "refusing to discard queued scans without --yes"
				_ = rootOpts.formatter(cmd).Error(CodeUsage, msg, nil)
				return NewExitError(ExitCommandError, msg)
			}
			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.queue.Clear(cmd.Context())
			if err != nil {
				return a.out.Fail(ExitCommandError, "failed to clear queue", err)
			}
			return a.out.Result(map[string]int{"cleared": n}, fmt.Sprintf("Discarded %d queued %s\n", n, plural(n, "scan", "scans")))
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm discarding unsynchronized scans")
	return cmd
}
