// Command pvtx is the CLI front end for the engine: discover the catalog,
// list what was found, and run a test case, suite or plan.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/iverson-lu/pvtx/internal/discovery"
	"github.com/iverson-lu/pvtx/internal/engine"
	"github.com/iverson-lu/pvtx/internal/identity"
	"github.com/iverson-lu/pvtx/internal/runstate"
	"github.com/iverson-lu/pvtx/internal/scheduler"
)

var (
	configPath string
	eng        *engine.Engine
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pvtx",
		Short:         "Run PC-validation test cases, suites and plans",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			var err error
			eng, err = engine.Bootstrap(configPath, nil)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if eng == nil {
				return nil
			}
			// Sync fails with EINVAL when stderr is a terminal or pipe; that
			// is not a failure of the command that just ran.
			_ = eng.Logger.Sync()
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "pvtx.yaml", "path to the engine configuration file")

	root.AddCommand(discoverCmd(), listCmd(), runCaseCmd(), runSuiteCmd(), runPlanCmd())
	return root
}

func discoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Re-scan the configured roots and report what was found",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := eng.Rediscover()
			if err != nil {
				return err
			}
			printCatalogSummary(eng.Catalog(), report.Errors)

			if !eng.Config.Watch {
				return nil
			}

			fmt.Println("watching for changes; press Ctrl+C to stop")
			ctx, cancel := signalContext()
			defer cancel()
			for err := range eng.WatchAndRediscover(ctx) {
				fmt.Fprintln(os.Stderr, err)
			}
			printCatalogSummary(eng.Catalog(), nil)
			return nil
		},
	}
}

func printCatalogSummary(cat *discovery.Catalog, issues []error) {
	fmt.Printf("cases: %d  suites: %d  plans: %d  issues: %d\n", len(cat.Cases), len(cat.Suites), len(cat.Plans), len(issues))
	for _, e := range issues {
		fmt.Fprintln(os.Stderr, e)
	}
}

func listCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List discovered test cases, suites and plans",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat := eng.Catalog()
			var ids []identity.Identity
			switch kind {
			case "", "cases":
				for id := range cat.Cases {
					ids = append(ids, id)
				}
			case "suites":
				for id := range cat.Suites {
					ids = append(ids, id)
				}
			case "plans":
				for id := range cat.Plans {
					ids = append(ids, id)
				}
			default:
				return fmt.Errorf("unknown --kind %q: want cases, suites or plans", kind)
			}
			sort.Slice(ids, func(i, j int) bool { return identity.Less(ids[i], ids[j]) })
			for _, id := range ids {
				fmt.Println(id.String())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "cases", "cases, suites or plans")
	return cmd
}

func runCaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-case <id@version>",
		Short: "Run a single test case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAndReport(cmd, scheduler.RunRequest{TestCase: args[0]})
		},
	}
}

func runSuiteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-suite <id@version>",
		Short: "Run a suite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAndReport(cmd, scheduler.RunRequest{Suite: args[0]})
		},
	}
}

func runPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-plan <id@version>",
		Short: "Run a plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAndReport(cmd, scheduler.RunRequest{Plan: args[0]})
		},
	}
}

func runAndReport(cmd *cobra.Command, req scheduler.RunRequest) error {
	ctx, cancel := signalContext()
	defer cancel()

	res, err := eng.Run(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("run %s finished: %s\n", res.RunID, res.Status)
	if res.Status != runstate.Passed {
		return fmt.Errorf("run %s did not pass (status %s)", res.RunID, res.Status)
	}
	return nil
}

// signalContext cancels on SIGINT/SIGTERM so an in-flight run can mark its
// remaining nodes aborted instead of being killed mid-write.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()
	return ctx, cancel
}
