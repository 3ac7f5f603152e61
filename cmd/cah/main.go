package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cahq/orchestrator/internal/cherrors"
	"github.com/cahq/orchestrator/internal/config"
)

type appContextKey struct{}

func appFromContext(ctx context.Context) *app {
	a, _ := ctx.Value(appContextKey{}).(*app)
	return a
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cah",
		Short:         "Task orchestrator: submit and drive multi-step AI workflows",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	config.BindCommonFlags(root.PersistentFlags())

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// "daemon run" re-execs as a detached subprocess; it still needs
		// the full app, so no command is exempted from wiring here.
		cfg, err := config.New(root.PersistentFlags())
		if err != nil {
			return err
		}
		a, err := buildApp(cfg)
		if err != nil {
			return err
		}
		cmd.SetContext(context.WithValue(cmd.Context(), appContextKey{}, a))

		if cmd.Name() != "run" {
			a.runOrphanScan(cmd)
		}
		return nil
	}

	root.AddCommand(
		newSubmitCmd(),
		newListCmd(),
		newShowCmd(),
		newLogsCmd(),
		newStatsCmd(),
		newResumeCmd(),
		newPauseCmd(),
		newStopCmd(),
		newDeleteCmd(),
		newCompleteCmd(),
		newRejectCmd(),
		newInjectNodeCmd(),
		newMsgCmd(),
		newDaemonCmd(),
	)

	return root
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "cah: "+err.Error())
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps an error to the CLI's exit code vocabulary: a
// *cherrors.Error carries its own Kind; anything else (flag parsing,
// unexpected panics recovered upstream) is a generic failure.
func exitCodeFor(err error) int {
	var ce *cherrors.Error
	if cherrorsAs(err, &ce) {
		return ce.Kind.ExitCode()
	}
	return 1
}

func cherrorsAs(err error, target **cherrors.Error) bool {
	for err != nil {
		if ce, ok := err.(*cherrors.Error); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
