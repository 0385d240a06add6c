// Package main provides the almighty-push CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/njaremko/almighty-push/internal/config"
	"github.com/njaremko/almighty-push/internal/engine"
	"github.com/njaremko/almighty-push/internal/execx"
	"github.com/njaremko/almighty-push/internal/github"
	"github.com/njaremko/almighty-push/internal/jj"
	"github.com/njaremko/almighty-push/internal/state"
	"github.com/njaremko/almighty-push/internal/ui"
)

var rootCmd = &cobra.Command{
	Use:   "almighty-push",
	Short: "Push the current jj stack to GitHub as stacked pull requests",
	Long: `Almighty Push pushes every revision in the current stack above the base
branch and keeps one ordered pull request per revision, closing requests
whose revisions were squashed, abandoned, or rebased away.`,
	Example: `  almighty-push                    # push stack and create/update PRs
  almighty-push --dry-run          # show what would be done
  almighty-push --no-pr            # only push branches
  almighty-push --delete-branches  # also delete orphaned branches`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runPush,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Report state/stack inconsistencies without changing anything",
	RunE:  runCheck,
}

var (
	dryRun          bool
	noPR            bool
	noCloseOrphaned bool
	deleteBranches  bool
	verbose         bool
)

func init() {
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without doing it")
	rootCmd.Flags().BoolVar(&noPR, "no-pr", false, "only push branches, don't create or update PRs")
	rootCmd.Flags().BoolVar(&noCloseOrphaned, "no-close-orphaned", false, "don't close PRs for squashed or removed commits")
	rootCmd.Flags().BoolVar(&deleteBranches, "delete-branches", false, "delete remote branches when closing orphaned PRs")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(checkCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "interrupted")
		} else {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func newEngine(opts engine.Options) (*engine.Engine, error) {
	cfg, err := config.Load(".")
	if err != nil {
		return nil, err
	}

	out := ui.New(os.Stdout, os.Stderr, verbose)
	runner := &execx.Local{
		Trace: func(cmdline string) { out.Verbosef("+ %s", cmdline) },
	}

	jjc := jj.NewClient(runner, cfg, out)
	ghc := github.NewClient(runner, cfg, out)
	store := state.NewStore(cfg.StateFile)

	return engine.New(cfg, jjc, ghc, store, out, opts), nil
}

func runPush(cmd *cobra.Command, args []string) error {
	eng, err := newEngine(engine.Options{
		DryRun:          dryRun,
		NoPR:            noPR,
		NoOrphanCleanup: noCloseOrphaned,
		DeleteBranches:  deleteBranches,
	})
	if err != nil {
		return err
	}
	return eng.Run(cmd.Context())
}

func runCheck(cmd *cobra.Command, args []string) error {
	eng, err := newEngine(engine.Options{})
	if err != nil {
		return err
	}
	return eng.Check(cmd.Context())
}
