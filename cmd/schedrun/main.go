// Package main is the entry point for the schedrun CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"schedrun/internal/app"
	logx "schedrun/pkg/logx"
)

// Set by release ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	config   string
	logLevel string
}

func rootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "schedrun",
		Short:         "Run cron-style scheduled tasks with sub-minute repeats and cross-server locks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.config, "config", "c", "./schedrun.yaml", "path to config file (yaml or json)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override logging.level")

	root.AddCommand(
		runCmd(g),
		finishCmd(g),
		interruptCmd(g),
		listCmd(g),
		workCmd(g),
		downCmd(g),
		upCmd(g),
		checkCmd(g),
		versionCmd(),
	)
	return root
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// withApp opens the app for one command and closes it afterwards.
func withApp(g *globalFlags, fn func(ctx context.Context, a *app.App) error) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := app.New(app.Options{ConfigPath: g.config, LogLevel: g.logLevel, Callbacks: callbacks()})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func runCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the tasks due this minute (invoke from cron every minute)",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withApp(g, func(ctx context.Context, a *app.App) error {
				_, err := a.RunOnce(ctx)
				return err
			})
		},
	}
}

func finishCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "finish <mutex> [exit-code]",
		Short: "Record the exit of a background task (called by its wrapper)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(_ *cobra.Command, args []string) error {
			mutex, code, err := parseFinishArgs(args)
			if err != nil {
				return err
			}
			// The wrapper ignores our status; failures are only logged.
			err = withApp(g, func(ctx context.Context, a *app.App) error {
				if _, err := a.Finish(ctx, mutex, code); err != nil {
					a.Logger().Warn("finish: schedule unavailable: " + err.Error())
				}
				return nil
			})
			if err != nil {
				logx.NewConsole(g.logLevel).Warn("finish: app unavailable", logx.String("mutex", mutex), logx.Err(err))
			}
			return nil
		},
	}
}

func parseFinishArgs(args []string) (string, int, error) {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return "", 0, fmt.Errorf("mutex name is required")
	}
	code := 0
	if len(args) > 1 {
		n, err := strconv.Atoi(strings.TrimSpace(args[1]))
		if err != nil {
			return "", 0, fmt.Errorf("exit code %q: %w", args[1], err)
		}
		code = n
	}
	return strings.TrimSpace(args[0]), code, nil
}

func interruptCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "interrupt",
		Short: "Stop running passes at their next sub-minute repeat check",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withApp(g, func(ctx context.Context, a *app.App) error {
				return a.Interrupt(ctx)
			})
		},
	}
}

func listCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured tasks with their next due time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(g, func(_ context.Context, a *app.App) error {
				return a.List(cmd.OutOrStdout())
			})
		},
	}
}

func workCmd(g *globalFlags) *cobra.Command {
	var opts app.WorkOptions
	cmd := &cobra.Command{
		Use:   "work",
		Short: "Stay in the foreground and run a pass every minute",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withApp(g, func(ctx context.Context, a *app.App) error {
				return a.Work(ctx, opts)
			})
		},
	}
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address")
	cmd.Flags().DurationVar(&opts.DrainTimeout, "drain-timeout", 0, "how long shutdown waits for running passes (default 90s)")
	return cmd
}

func downCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Enter maintenance mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(g, func(ctx context.Context, a *app.App) error {
				if err := a.Down(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Maintenance mode enabled.")
				return nil
			})
		},
	}
}

func upCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Leave maintenance mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(g, func(ctx context.Context, a *app.App) error {
				if err := a.Up(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Maintenance mode disabled.")
				return nil
			})
		},
	}
}

func checkCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config and every task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(g, func(_ context.Context, a *app.App) error {
				cfg := a.Config()
				if _, err := app.BuildSchedule(cfg, callbacks()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Configuration OK (%d tasks)\n", len(cfg.Tasks))
				return nil
			})
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "schedrun %s (commit: %s)\n", version, commit)
		},
	}
}
