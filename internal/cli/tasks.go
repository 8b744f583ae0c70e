package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/clocksync/internal/remote"
)

// NewTasksCommand creates the tasks command.
func NewTasksCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "tasks",
		Short:         "List assigned tasks",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTasks(rootOpts, cmd)
		},
	}
}

func runTasks(opts *RootOptions, cmd *cobra.Command) error {
	a, err := openApp(opts, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	fresh, err := a.start(cmd.Context())
	if err != nil {
		return a.out.Fail(ExitCommandError, "failed to load state", err)
	}

	st := a.sync.State()
	var b strings.Builder
	if !fresh {
		b.WriteString("Offline: showing last known tasks\n")
	}
	if len(st.Tasks) == 0 {
		b.WriteString("No tasks assigned\n")
	} else {
		tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tCODE\tACTIVE")
		for _, t := range st.Tasks {
			active := ""
			if st.Session.TaskName() == t.Name {
				active = "*"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.ID, t.Name, t.Code, active)
		}
		_ = tw.Flush()
	}
	tasks := st.Tasks
	if tasks == nil {
		tasks = []remote.Task{}
	}
	return a.out.Result(tasks, b.String())
}

// NewSwitchTaskCommand creates the switch-task command.
func NewSwitchTaskCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "switch-task <task-id>",
		Short: "Move the open session to another task",
		Long: `Close the open session and start a new one on the given task.

Switching needs the service; it is never queued.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSwitchTask(rootOpts, cmd, args[0])
		},
	}
}

func runSwitchTask(opts *RootOptions, cmd *cobra.Command, taskID string) error {
	a, err := openApp(opts, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if _, err := a.start(ctx); err != nil {
		return a.out.Fail(ExitCommandError, "failed to load state", err)
	}

	session, err := a.sync.SwitchTask(ctx, taskID)
	if err != nil {
		return a.out.Fail(ExitFailure, "task not switched", err)
	}

	var text string
	if session == nil {
		text = "Clocked out\n"
	} else {
		text = fmt.Sprintf("Clocked in%s since %s\n", onTask(session), clockTime(session.StartedAt, opts.location()))
	}
	return a.out.Result(session, text)
}
