// Command mcheck explores the executions of a bundled test program
// under the C11 relaxed-atomics memory model.
//
// Exit codes: 0 if every execution was feasible and bug-free, 1 if a
// bug was found, 2 on usage errors.
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/androm3da/model-checker/checker"
	"github.com/androm3da/model-checker/internal/model/config"
)

const (
	exitOK    = 0
	exitBugs  = 1
	exitUsage = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		params     = config.Default()
		configPath string
		foundBugs  bool
	)

	root := &cobra.Command{
		Use:           "mcheck",
		Short:         "stateless model checker for C11 relaxed atomics",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	runCmd := &cobra.Command{
		Use:   "run <program>",
		Short: "explore all executions of a bundled test program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				// Flags set explicitly win over the config file.
				base := loaded
				applyFlagOverrides(cmd, &base, params)
				params = base
			}
			if err := params.Validate(); err != nil {
				return errors.Wrap(err, "invalid parameters")
			}

			b := findBuiltin(args[0])
			if b == nil {
				return errors.Errorf("unknown program %q (try: mcheck list)", args[0])
			}

			c := checker.New(params, b.Prog)
			res := c.Run()
			printResults(res)
			foundBugs = !res.BugFree()
			return nil
		},
	}
	runCmd.Flags().IntVar(&params.MaxReads, "maxreads", params.MaxReads,
		"max consecutive stale-read selections before infeasibility")
	runCmd.Flags().Uint64Var(&params.MaxFutureDelay, "maxfuturedelay", params.MaxFutureDelay,
		"promise expiration horizon in sequence numbers")
	runCmd.Flags().IntVar(&params.MaxFutureValues, "maxfuturevalues", params.MaxFutureValues,
		"cap on distinct future values sent to one read")
	runCmd.Flags().Uint64Var(&params.ExpireSlop, "expireslop", params.ExpireSlop,
		"minimum gain required to extend a promise expiration")
	runCmd.Flags().UintVar(&params.FairWindow, "fairwindow", params.FairWindow,
		"fairness window size (0 disables)")
	runCmd.Flags().UintVar(&params.EnabledCount, "enabledcount", params.EnabledCount,
		"decisions a thread may starve before being forced")
	runCmd.Flags().Uint64Var(&params.Bound, "bound", params.Bound,
		"maximum sequence number per execution (0 = unbounded)")
	runCmd.Flags().IntVar(&params.Verbose, "verbose", params.Verbose,
		"report level: 0 silent, 1 counts, 2 full trace")
	runCmd.Flags().StringVar(&configPath, "config", "",
		"yaml file with run parameters")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list bundled test programs",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			for _, name := range builtinNames() {
				b := findBuiltin(name)
				fmt.Printf("%-10s %s\n", b.Name, b.Description)
			}
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "print checker version",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			info := checker.GetInfo()
			fmt.Printf("mcheck %s (%s)\n", info.Version, info.Algorithm)
		},
	}

	root.AddCommand(runCmd, listCmd, versionCmd)

	if err := root.Execute(); err != nil {
		log.Error(err)
		return exitUsage
	}
	if foundBugs {
		return exitBugs
	}
	return exitOK
}

// applyFlagOverrides copies explicitly set flag values over a loaded
// config so the precedence is defaults < file < flags.
func applyFlagOverrides(cmd *cobra.Command, dst *config.Params, flagVals config.Params) {
	if cmd.Flags().Changed("maxreads") {
		dst.MaxReads = flagVals.MaxReads
	}
	if cmd.Flags().Changed("maxfuturedelay") {
		dst.MaxFutureDelay = flagVals.MaxFutureDelay
	}
	if cmd.Flags().Changed("maxfuturevalues") {
		dst.MaxFutureValues = flagVals.MaxFutureValues
	}
	if cmd.Flags().Changed("expireslop") {
		dst.ExpireSlop = flagVals.ExpireSlop
	}
	if cmd.Flags().Changed("fairwindow") {
		dst.FairWindow = flagVals.FairWindow
	}
	if cmd.Flags().Changed("enabledcount") {
		dst.EnabledCount = flagVals.EnabledCount
	}
	if cmd.Flags().Changed("bound") {
		dst.Bound = flagVals.Bound
	}
	if cmd.Flags().Changed("verbose") {
		dst.Verbose = flagVals.Verbose
	}
}

// printResults writes the human summary to stdout.
func printResults(res checker.Results) {
	s := res.Stats
	fmt.Printf("executions: %d total, %d complete, %d infeasible, %d buggy\n",
		s.NumTotal, s.NumComplete, s.NumInfeasible, s.NumBuggy)
	if res.BugFree() {
		fmt.Println("no bugs found")
		return
	}
	fmt.Println("first buggy execution:")
	for _, line := range res.Trace {
		fmt.Println("  " + line)
	}
	for _, b := range res.Bugs {
		fmt.Printf("  %s\n", b)
	}
}
