package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbnorth/tattle/internal/heartbeat"
	"github.com/tbnorth/tattle/internal/monitor"
	sfactory "github.com/tbnorth/tattle/internal/store/factory"
	"github.com/tbnorth/tattle/pkg/client"
)

// apiFlags are shared by every client subcommand.
type apiFlags struct {
	URL     string
	Timeout time.Duration
}

func (f *apiFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.URL, "api", "http://localhost:8111/api", "daemon API base URL")
	cmd.Flags().DurationVar(&f.Timeout, "timeout", 10*time.Second, "API request timeout")
}

func (f *apiFlags) client() *client.Client {
	return client.New(client.Config{BaseURL: f.URL, Timeout: f.Timeout})
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func newReportCmd() *cobra.Command {
	var f apiFlags
	var status, message string
	cmd := &cobra.Command{
		Use:   "report <tag>",
		Short: "Submit a heartbeat for a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, err := f.client().Report(cmd.Context(), args[0], status, message)
			if err != nil {
				return err
			}
			printJSON(entry)
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringVarP(&status, "status", "s", "", "status (OK, FAIL, DISABLE, ENABLE, DEFER, ...); empty = INFO")
	cmd.Flags().StringVarP(&message, "message", "m", "", "free-text message; DEFER expects TTL hours here")
	return cmd
}

func newRegisterCmd() *cobra.Command {
	var f apiFlags
	cmd := &cobra.Command{
		Use:   "register <tag> <interval> [description...]",
		Short: "Register or update a process's expected reporting interval",
		Long: "Interval is plain seconds or compound shorthand like 1d2h30m.\n" +
			"End the description with '!' to escalate overdue failures to HARD;\n" +
			"prefix it with DEFUNCT: to retire the process from status output.",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			desc := strings.Join(args[2:], " ")
			p, err := f.client().Register(cmd.Context(), args[0], args[1], desc)
			if err != nil {
				return err
			}
			printJSON(p)
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newStatusCmd() *cobra.Command {
	var f apiFlags
	var all, asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show derived health for every process",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := f.client().Statuses(cmd.Context(), all)
			if err != nil {
				return err
			}
			if asJSON {
				printJSON(statuses)
				return nil
			}
			printStatusTable(statuses)
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include disabled processes")
	cmd.Flags().BoolVar(&asJSON, "json", false, "raw JSON output")
	return cmd
}

func printStatusTable(statuses []heartbeat.RenderedStatus) {
	w := os.Stdout
	for _, st := range statuses {
		seen := "NEVER"
		spare := heartbeat.FormatInterval(st.Interval)
		if st.LastSeen != nil {
			seen = st.LastSeen.Format("02 15:04:05")
			spare = heartbeat.FormatDelta(st.Delta)
			if st.Overdue {
				spare = "overdue " + spare
			}
		}
		_, _ = fmt.Fprintf(w, "%-20s %-8s %-12s %-14s %s\n",
			st.Tag, st.Level, seen, spare, st.Message)
	}
}

func newSeverityCmd() *cobra.Command {
	var f apiFlags
	cmd := &cobra.Command{
		Use:   "severity",
		Short: "Reduce all statuses to one worst-case level (clear/mixed/bad)",
		RunE: func(cmd *cobra.Command, args []string) error {
			sev, err := f.client().Severity(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(sev)
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newShowCmd() *cobra.Command {
	var f apiFlags
	var n int
	cmd := &cobra.Command{
		Use:   "show <tag>",
		Short: "Show the most recent raw log entries for one process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := f.client().Show(cmd.Context(), args[0], n)
			if err != nil {
				return err
			}
			printJSON(entries)
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().IntVarP(&n, "limit", "n", 20, "entries to show")
	return cmd
}

func newArchiveCmd() *cobra.Command {
	var f apiFlags
	var db string
	var keep int
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Move old log rows to the archive table and reclaim space",
		RunE: func(cmd *cobra.Command, args []string) error {
			if db != "" {
				return withLocalMonitor(cmd.Context(), db, func(ctx context.Context, m *monitor.Monitor) error {
					res, err := m.Archive(ctx, keep)
					if err != nil {
						return err
					}
					printJSON(res)
					return nil
				})
			}
			res, err := f.client().Archive(cmd.Context(), keep)
			if err != nil {
				return err
			}
			printJSON(res)
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&db, "db", "", "operate directly on this DSN instead of the daemon API")
	cmd.Flags().IntVarP(&keep, "keep", "k", 20, "live log rows to keep per process")
	return cmd
}

func newInitCmd() *cobra.Command {
	var f apiFlags
	var db string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Reconcile the database schema and report every decision",
		RunE: func(cmd *cobra.Command, args []string) error {
			if db != "" {
				return withLocalMonitor(cmd.Context(), db, func(ctx context.Context, m *monitor.Monitor) error {
					changes, err := m.InitSchema(ctx)
					for _, c := range changes {
						fmt.Println(c.String())
					}
					return err
				})
			}
			changes, err := f.client().Init(cmd.Context())
			if err != nil {
				return err
			}
			for _, c := range changes {
				fmt.Println(c)
			}
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&db, "db", "", "operate directly on this DSN instead of the daemon API")
	return cmd
}

// withLocalMonitor runs administrative operations straight against the store,
// for hosts where no daemon is running.
func withLocalMonitor(ctx context.Context, dsn string, fn func(context.Context, *monitor.Monitor) error) error {
	st, err := sfactory.NewFromDSN(dsn)
	if err != nil {
		return fmt.Errorf("open store %s: %w", dsn, err)
	}
	m := monitor.New(st, monitor.Options{})
	defer func() { _ = m.Close() }()
	return fn(ctx, m)
}
