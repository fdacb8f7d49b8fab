package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var (
		message     string
		logLevel    string
		logFormat   string
		prefsPath   string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "run <worker-id>",
		Short: "Run the agent loop for one session",
		Long: "Runs one turn of the agent loop. With --message the text is appended as a new\n" +
			"user message first; without it the session is resumed, which is a no-op when\n" +
			"nothing is left unanswered.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := buildRuntime(ctx, runtimeOptions{
				logLevel:    logLevel,
				logFormat:   logFormat,
				prefsPath:   prefsPath,
				metricsAddr: metricsAddr,
			})
			if err != nil {
				return err
			}
			return rt.handleRun(ctx, args[0], message)
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "user message to append before running the turn")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	cmd.Flags().StringVar(&logFormat, "log-format", "json", "log format: json or text")
	cmd.Flags().StringVar(&prefsPath, "preferences", "", "path to the preferences YAML file")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (disabled when empty)")
	return cmd
}

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect sessions",
	}
	cmd.AddCommand(newSessionsListCmd(), newSessionsCostCmd())
	return cmd
}

func newSessionsListCmd() *cobra.Command {
	var limit int32
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := buildRuntime(cmd.Context(), runtimeOptions{logFormat: "text"})
			if err != nil {
				return err
			}
			list, err := rt.sessions.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "WORKER ID\tSTATUS\tTITLE\tCOST\tUPDATED")
			for _, session := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t$%.4f\t%s\n",
					session.WorkerID, session.AgentStatus, session.Title, session.Cost,
					time.UnixMilli(session.UpdatedAt).Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
	cmd.Flags().Int32Var(&limit, "limit", 50, "maximum sessions to list")
	return cmd
}

func newSessionsCostCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cost <worker-id>",
		Short: "Print the accumulated LLM cost of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(cmd.Context(), runtimeOptions{logFormat: "text"})
			if err != nil {
				return err
			}
			usage, err := rt.ledger.List(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			cost, err := rt.ledger.SessionCost(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tINPUT\tOUTPUT\tCACHE READ\tCACHE WRITE")
			for _, item := range usage {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", item.ModelID,
					formatCount(item.InputTokens), formatCount(item.OutputTokens),
					formatCount(item.CacheReadInputTokens), formatCount(item.CacheWriteInputTokens))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Total: $%.4f\n", cost)
			return nil
		},
	}
}

func formatCount(n int64) string {
	return strconv.FormatInt(n, 10)
}
