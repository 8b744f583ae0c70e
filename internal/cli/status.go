package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/clocksync/internal/auth"
	"github.com/roach88/clocksync/internal/remote"
)

// statusOutput is the JSON payload of the status command.
type statusOutput struct {
	Online         bool            `json:"online"`
	Session        *remote.Session `json:"session"`
	Tasks          int             `json:"tasks"`
	Pending        int             `json:"pending"`
	RefreshedAt    *time.Time      `json:"refreshedAt,omitempty"`
	TokenExpiresAt *time.Time      `json:"tokenExpiresAt,omitempty"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current clock state",
		Long: `Show whether you are clocked in, on which task, and how many scans
are waiting to sync. Falls back to the last known state when offline.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
	a, err := openApp(opts, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	fresh, err := a.start(ctx)
	if err != nil {
		return a.out.Fail(ExitCommandError, "failed to load state", err)
	}

	st := a.sync.State()
	data := statusOutput{
		Online:  fresh,
		Session: st.Session,
		Tasks:   len(st.Tasks),
		Pending: st.Unconfirmed,
	}
	if !st.RefreshedAt.IsZero() {
		refreshed := st.RefreshedAt
		data.RefreshedAt = &refreshed
	}
	if exp, ok := tokenExpiry(ctx, a.tokens); ok {
		data.TokenExpiresAt = &exp
	}

	loc := opts.location()
	var b strings.Builder
	if !fresh {
		b.WriteString("Offline: showing last known state\n")
	}
	switch {
	case st.Session == nil:
		b.WriteString("Clocked out\n")
	case st.Session.Optimistic:
		fmt.Fprintf(&b, "Clocked in%s since %s (unconfirmed)\n", onTask(st.Session), clockTime(st.Session.StartedAt, loc))
	default:
		fmt.Fprintf(&b, "Clocked in%s since %s\n", onTask(st.Session), clockTime(st.Session.StartedAt, loc))
	}
	fmt.Fprintf(&b, "Pending scans: %d\n", st.Unconfirmed)
	fmt.Fprintf(&b, "Assigned tasks: %d\n", len(st.Tasks))
	if data.RefreshedAt != nil {
		fmt.Fprintf(&b, "Last refreshed: %s\n", clockTime(*data.RefreshedAt, loc))
	}
	if data.TokenExpiresAt != nil {
		fmt.Fprintf(&b, "Token expires: %s\n", clockTime(*data.TokenExpiresAt, loc))
	}
	return a.out.Result(data, b.String())
}

func tokenExpiry(ctx context.Context, ts auth.TokenSource) (time.Time, bool) {
	token, err := ts.Token(ctx)
	if err != nil {
		return time.Time{}, false
	}
	return auth.ExpiresAt(token)
}
