package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/clocksync/internal/clocksync"
	"github.com/roach88/clocksync/internal/remote"
)

// scanOutput is the JSON payload of the scan command.
type scanOutput struct {
	Outcome clocksync.OutcomeKind `json:"outcome"`
	Queued  bool                  `json:"queued"`
	EventID string                `json:"eventId"`
	Session *remote.Session       `json:"session"`
	Pending int                   `json:"pending"`
}

// NewScanCommand creates the scan command.
func NewScanCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scan <code>",
		Short: "Record a scanned task or location code",
		Long: `Submit a scanned QR code. The server decides whether it clocks in,
switches task or clocks out.

When the service is unreachable the scan is queued and the result shown is
a local guess until the queue is synchronized.

Example:
  clocksync scan TASK-42`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(rootOpts, cmd, args[0])
		},
	}
}

func runScan(opts *RootOptions, cmd *cobra.Command, code string) error {
	a, err := openApp(opts, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if _, err := a.start(ctx); err != nil {
		return a.out.Fail(ExitCommandError, "failed to load state", err)
	}

	outcome, err := a.sync.Capture(ctx, code)
	if err != nil {
		return a.out.Fail(ExitFailure, "scan not recorded", err)
	}

	return a.reportCapture(outcome)
}

func (a *app) reportCapture(outcome clocksync.Outcome) error {
	st := a.sync.State()
	data := scanOutput{
		Outcome: outcome.Kind,
		Queued:  outcome.Queued,
		EventID: outcome.Event.ID,
		Session: outcome.Session,
		Pending: st.Unconfirmed,
	}
	return a.out.Result(data, describeOutcome(outcome, st.Unconfirmed, a.opts.location()))
}

func describeOutcome(o clocksync.Outcome, pending int, loc *time.Location) string {
	var b strings.Builder
	switch {
	case o.Kind == clocksync.OutcomeStopped && o.Queued:
		fmt.Fprintf(&b, "Clock-out recorded offline at %s\n", clockTime(o.Event.CapturedAt, loc))
	case o.Kind == clocksync.OutcomeStopped:
		fmt.Fprintf(&b, "Clocked out at %s\n", clockTime(o.Event.CapturedAt, loc))
	case o.Kind == clocksync.OutcomeStartedOptimistic:
		fmt.Fprintf(&b, "Clock-in recorded offline at %s\n", clockTime(o.Event.CapturedAt, loc))
	default:
		fmt.Fprintf(&b, "Clocked in%s since %s\n", onTask(o.Session), clockTime(o.Session.StartedAt, loc))
	}
	if o.Queued {
		fmt.Fprintf(&b, "%d %s waiting to sync\n", pending, plural(pending, "scan", "scans"))
	}
	return b.String()
}

func onTask(s *remote.Session) string {
	if name := s.TaskName(); name != "" {
		return " on " + name
	}
	return ""
}

func clockTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02 15:04")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
