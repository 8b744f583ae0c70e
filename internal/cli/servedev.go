package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/clocksync/internal/auth"
	"github.com/roach88/clocksync/internal/config"
	"github.com/roach88/clocksync/internal/devserver"
	"github.com/roach88/clocksync/internal/remote"
)

// ServeDevOptions holds flags for the serve-dev command.
type ServeDevOptions struct {
	*RootOptions
	Addr     string
	Secret   string
	Employee string
	TTL      time.Duration
}

// demoTasks are offered by the development server.
var demoTasks = []remote.Task{
	{ID: "t1", Name: "Install", Code: "TASK-42"},
	{ID: "t2", Name: "Paint", Code: "TASK-43"},
	{ID: "t3", Name: "Inspect", Code: "TASK-44"},
}

// demoLocations are the site codes the development server accepts.
var demoLocations = []string{"LOC-1", "LOC-7"}

// NewServeDevCommand creates the serve-dev command.
func NewServeDevCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeDevOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve-dev",
		Short: "Run an in-memory development server",
		Long: `Serve the time-tracking API from memory and print a bearer token for
one employee. Point api_url at this server to try the client locally.

Task codes: TASK-42 (Install), TASK-43 (Paint), TASK-44 (Inspect).
Location codes: LOC-1, LOC-7.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServeDev(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&opts.Secret, "secret", "", "token signing secret (default $CLOCKSYNC_DEV_SECRET or a fixed dev value)")
	cmd.Flags().StringVar(&opts.Employee, "employee", "emp-1", "employee id to issue a token for")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}

func runServeDev(opts *ServeDevOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	logger := newLogger(cmd.ErrOrStderr(), config.Default(), opts.Verbose)

	secret := opts.Secret
	if secret == "" {
		secret = os.Getenv(config.EnvPrefix + "DEV_SECRET")
	}
	if secret == "" {
		secret = "clocksync-dev-secret"
	}

	issuer := auth.NewIssuer([]byte(secret), opts.TTL, nil)
	token, err := issuer.Issue(opts.Employee)
	if err != nil {
		return out.Fail(ExitCommandError, "failed to issue token", err)
	}

	data := map[string]string{"addr": opts.Addr, "employee": opts.Employee, "token": token}
	text := fmt.Sprintf("Listening on http://%s\nEmployee %s token:\n%s\n", opts.Addr, opts.Employee, token)
	if err := out.Result(data, text); err != nil {
		return err
	}

	srv := devserver.New(issuer,
		devserver.WithTasks(demoTasks...),
		devserver.WithLocationCodes(demoLocations...),
		devserver.WithLogger(logger),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := srv.ListenAndServe(ctx, opts.Addr); err != nil {
		return out.Fail(ExitCommandError, "server failed", err)
	}
	return nil
}
