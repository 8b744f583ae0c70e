package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/clocksync/internal/clocksync"
)

// syncOutput is the JSON payload of the sync command.
type syncOutput struct {
	Result    clocksync.SyncResult `json:"result"`
	Pending   int                  `json:"pending"`
	Delivered int                  `json:"delivered"`
	FailedKey string               `json:"failedKey,omitempty"`
	Cause     string               `json:"cause,omitempty"`
	Remaining int                  `json:"remaining"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay queued offline scans",
		Long: `Deliver queued scans to the service in capture order.

The replay stops at the first scan that cannot be delivered; it and every
later scan stay queued. Exits 1 when scans remain.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(rootOpts, cmd)
		},
	}
}

func runSync(opts *RootOptions, cmd *cobra.Command) error {
	a, err := openApp(opts, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if err := a.restoreState(ctx); err != nil {
		return a.out.Fail(ExitCommandError, "failed to load state", err)
	}

	report, err := a.sync.Sync(ctx, true)
	if err != nil {
		return a.out.Fail(ExitCommandError, "failed to read queue", err)
	}
	if report.RefreshErr != nil {
		a.logger.Warn("refresh after sync failed", "error", report.RefreshErr)
	}

	data := syncOutput{
		Result:    report.Result,
		Pending:   report.Pending,
		Delivered: report.Delivered,
		FailedKey: report.FailedKey,
		Remaining: report.Pending - report.Delivered,
	}
	if report.Cause != nil {
		data.Cause = report.Cause.Error()
	}

	var text string
	switch report.Result {
	case clocksync.SyncIdle:
		text = "Nothing to sync\n"
	case clocksync.SyncDrained:
		text = fmt.Sprintf("Delivered %d %s\n", report.Delivered, plural(report.Delivered, "scan", "scans"))
	case clocksync.SyncAborted:
		text = fmt.Sprintf("Delivered %d of %d; stopped at %s: %v\n",
			report.Delivered, report.Pending, report.FailedKey, report.Cause)
	case clocksync.SyncSkipped:
		text = "Another sync is in progress\n"
	}
	if err := a.out.Result(data, text); err != nil {
		return err
	}

	if report.Result == clocksync.SyncAborted {
		return WrapExitError(ExitFailure, "sync stopped", report.Cause)
	}
	return nil
}
