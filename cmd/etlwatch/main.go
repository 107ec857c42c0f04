package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/splax/etlwatch/internal/domain"
	"github.com/splax/etlwatch/internal/service/analytics"
	"github.com/splax/etlwatch/internal/service/source"
	apiclient "github.com/splax/etlwatch/pkg/api/client"
)

var buildVersion = "dev"

func main() {
	cmd := &cli.Command{
		Name:    "etlwatch",
		Usage:   "Inspect ETL execution reports from the etlwatch API",
		Version: buildVersion,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "api",
				Usage:   "API base URL",
				Value:   "http://localhost:4000",
				Sources: cli.EnvVars("ETLWATCH_API"),
			},
			&cli.StringFlag{
				Name:    "unit",
				Aliases: []string{"u"},
				Usage:   "Business unit (ClientRepo, ChartNav, EDS, HIM, Uncategorized)",
			},
			&cli.StringFlag{
				Name:    "source",
				Aliases: []string{"s"},
				Usage:   "Catalog source name (default source when empty)",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print raw JSON instead of a table",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 30 * time.Second,
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "metrics",
				Usage:  "Show totals and success rate for the window",
				Flags:  []cli.Flag{daysFlag()},
				Action: runMetrics,
			},
			{
				Name:   "trends",
				Usage:  "Show daily succeeded and failed counts",
				Flags:  []cli.Flag{daysFlag()},
				Action: runTrends,
			},
			{
				Name:   "errors",
				Usage:  "List recent error messages from failed runs",
				Flags:  []cli.Flag{daysFlag(), countFlag(20)},
				Action: runErrors,
			},
			{
				Name:   "executions",
				Usage:  "List recent runs",
				Flags:  []cli.Flag{daysFlag(), countFlag(20), &cli.BoolFlag{Name: "last", Usage: "Ignore the window and list the newest runs"}},
				Action: runExecutions,
			},
			{
				Name:   "current",
				Usage:  "List runs that are still in flight",
				Action: runCurrent,
			},
			{
				Name:   "performance",
				Usage:  "Show per-pipeline statistics",
				Flags:  []cli.Flag{daysFlag()},
				Action: runPerformance,
			},
			{
				Name:   "failures",
				Usage:  "Show pipelines with failed runs",
				Flags:  []cli.Flag{daysFlag()},
				Action: runFailures,
			},
			{
				Name:   "timeline",
				Usage:  "Show runs started in the trailing hours",
				Flags:  []cli.Flag{&cli.IntFlag{Name: "hours", Usage: "Trailing hours", Value: 24}},
				Action: runTimeline,
			},
			{
				Name:   "dashboard",
				Usage:  "Fetch every report and print a summary",
				Action: runDashboard,
			},
			{
				Name:  "sources",
				Usage: "List or test catalog sources",
				Commands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List configured sources",
						Action: runSourcesList,
					},
					{
						Name:  "test",
						Usage: "Test a configured source, a DSN, or a server",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "dsn", Usage: "Connection string to test; the API must allow ad hoc tests"},
							&cli.StringFlag{Name: "host", Usage: "Server host"},
							&cli.IntFlag{Name: "port", Usage: "Server port"},
							&cli.StringFlag{Name: "database", Usage: "Database name"},
							&cli.StringFlag{Name: "user", Usage: "User name"},
							&cli.StringFlag{Name: "password", Usage: "Password (prompted when --user is set and this is empty)"},
						},
						Action: runSourcesTest,
					},
				},
			},
			{
				Name:  "units",
				Usage: "List business units",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					c, err := newClient(cmd)
					if err != nil {
						return err
					}
					units, err := c.BusinessUnits(ctx)
					if err != nil {
						return err
					}
					for _, unit := range units {
						fmt.Println(unit)
					}
					return nil
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func daysFlag() cli.Flag {
	return &cli.IntFlag{Name: "days", Aliases: []string{"d"}, Usage: "Window in days", Value: 30}
}

func countFlag(value int) cli.Flag {
	return &cli.IntFlag{Name: "count", Aliases: []string{"n"}, Usage: "Maximum rows", Value: int64(value)}
}

func newClient(cmd *cli.Command) (*apiclient.Client, error) {
	return apiclient.New(cmd.String("api"))
}

func queryFrom(cmd *cli.Command) apiclient.Query {
	return apiclient.Query{
		Unit:   cmd.String("unit"),
		Source: cmd.String("source"),
		Days:   int(cmd.Int("days")),
		Hours:  int(cmd.Int("hours")),
		Count:  int(cmd.Int("count")),
	}
}

// fetch runs one report call under the --timeout flag and prints it either
// as JSON or through render.
func fetch[T any](ctx context.Context, cmd *cli.Command, call func(*apiclient.Client, context.Context, apiclient.Query) (T, error), render func(io.Writer, T)) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
	defer cancel()
	result, err := call(c, ctx, queryFrom(cmd))
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	render(tw, result)
	return tw.Flush()
}

func runMetrics(ctx context.Context, cmd *cli.Command) error {
	return fetch(ctx, cmd, (*apiclient.Client).Metrics, func(w io.Writer, m domain.ExecutionMetrics) {
		fmt.Fprintf(w, "Total\t%d\n", m.TotalExecutions)
		fmt.Fprintf(w, "Succeeded\t%d\n", m.SuccessfulExecutions)
		fmt.Fprintf(w, "Failed\t%d\n", m.FailedExecutions)
		fmt.Fprintf(w, "Success rate\t%.2f%%\n", m.SuccessRate)
		fmt.Fprintf(w, "Avg duration\t%s\n", seconds(m.AvgDurationSeconds))
	})
}

func runTrends(ctx context.Context, cmd *cli.Command) error {
	return fetch(ctx, cmd, (*apiclient.Client).Trends, func(w io.Writer, trends []domain.ExecutionTrend) {
		fmt.Fprintln(w, "DATE\tSUCCEEDED\tFAILED\tAVG")
		for _, t := range trends {
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", t.Date, t.Succeeded, t.Failed, seconds(t.AvgDurationSeconds))
		}
	})
}

func runErrors(ctx context.Context, cmd *cli.Command) error {
	width := messageWidth()
	return fetch(ctx, cmd, (*apiclient.Client).Errors, func(w io.Writer, errs []domain.ErrorLog) {
		fmt.Fprintln(w, "TIME\tEXECUTION\tPIPELINE\tCODE\tMESSAGE")
		for _, e := range errs {
			fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%s\n", stamp(e.ErrorTime), e.ExecutionID, e.PipelineName, e.ErrorCode, truncate(e.Message, width))
		}
	})
}

func runExecutions(ctx context.Context, cmd *cli.Command) error {
	call := (*apiclient.Client).Executions
	if cmd.Bool("last") {
		call = (*apiclient.Client).LastExecuted
	}
	return fetch(ctx, cmd, call, func(w io.Writer, runs []domain.ExecutionSummary) {
		fmt.Fprintln(w, "EXECUTION\tPIPELINE\tUNIT\tSTATUS\tSTARTED\tDURATION")
		for _, r := range runs {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", r.ExecutionID, r.PipelineName, r.BusinessUnit, r.Status, stamp(r.StartTime), seconds(r.DurationSeconds))
		}
	})
}

func runCurrent(ctx context.Context, cmd *cli.Command) error {
	return fetch(ctx, cmd, (*apiclient.Client).Current, func(w io.Writer, runs []domain.CurrentExecution) {
		fmt.Fprintln(w, "EXECUTION\tPIPELINE\tSTATUS\tELAPSED\tBY\t")
		for _, r := range runs {
			flag := ""
			if r.IsLongRunning {
				flag = "LONG"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", r.ExecutionID, r.PipelineName, r.StatusLabel, seconds(r.ElapsedSeconds), r.ExecutedBy, flag)
		}
	})
}

func runPerformance(ctx context.Context, cmd *cli.Command) error {
	return fetch(ctx, cmd, (*apiclient.Client).Performance, func(w io.Writer, stats []domain.PackagePerformance) {
		fmt.Fprintln(w, "PIPELINE\tRUNS\tOK\tFAILED\tRATE\tAVG\tMIN\tMAX\tLAST")
		for _, s := range stats {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.2f%%\t%s\t%s\t%s\t%s\n", s.PipelineName, s.TotalExecutions, s.SuccessfulExecutions, s.FailedExecutions,
				s.SuccessRate, seconds(s.AvgDurationSeconds), seconds(s.MinDurationSeconds), seconds(s.MaxDurationSeconds), s.LastExecutionStatus)
		}
	})
}

func runFailures(ctx context.Context, cmd *cli.Command) error {
	width := messageWidth()
	return fetch(ctx, cmd, (*apiclient.Client).Failures, func(w io.Writer, patterns []domain.FailurePattern) {
		fmt.Fprintln(w, "PIPELINE\tFAILURES\tRATE\tLAST FAILURE\tERROR")
		for _, p := range patterns {
			last := "-"
			if p.LastFailureTime != nil {
				last = stamp(*p.LastFailureTime)
			}
			fmt.Fprintf(w, "%s\t%d\t%.2f%%\t%s\t%s\n", p.PipelineName, p.FailureCount, p.FailureRate, last, truncate(p.RepresentativeError, width))
		}
	})
}

func runTimeline(ctx context.Context, cmd *cli.Command) error {
	return fetch(ctx, cmd, (*apiclient.Client).Timeline, func(w io.Writer, entries []domain.TimelineEntry) {
		fmt.Fprintln(w, "EXECUTION\tPIPELINE\tSTATUS\tSTARTED\tMINUTES")
		for _, e := range entries {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\n", e.ExecutionID, e.PipelineName, e.Status, stamp(e.StartTime), e.DurationMinutes)
		}
	})
}

func runDashboard(ctx context.Context, cmd *cli.Command) error {
	return fetch(ctx, cmd, (*apiclient.Client).Dashboard, func(w io.Writer, board analytics.Dashboard) {
		m := board.Metrics
		fmt.Fprintf(w, "Runs\t%d (%d ok, %d failed, %.2f%%)\n", m.TotalExecutions, m.SuccessfulExecutions, m.FailedExecutions, m.SuccessRate)
		fmt.Fprintf(w, "In flight\t%d\n", len(board.CurrentExecutions))
		long := 0
		for _, c := range board.CurrentExecutions {
			if c.IsLongRunning {
				long++
			}
		}
		fmt.Fprintf(w, "Long running\t%d\n", long)
		fmt.Fprintf(w, "Failing pipelines\t%d\n", len(board.FailurePatterns))
		fmt.Fprintf(w, "Recent errors\t%d\n", len(board.RecentErrors))
		for report, msg := range board.Errors {
			fmt.Fprintf(w, "! %s\t%s\n", report, msg)
		}
	})
}

func runSourcesList(ctx context.Context, cmd *cli.Command) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	names, err := c.Sources(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func runSourcesTest(ctx context.Context, cmd *cli.Command) error {
	input := source.TestInput{
		Source: cmd.String("source"),
		DSN:    cmd.String("dsn"),
		Server: source.ServerInput{
			Host:     cmd.String("host"),
			Port:     int(cmd.Int("port")),
			Database: cmd.String("database"),
			Username: cmd.String("user"),
			Password: cmd.String("password"),
		},
	}
	if input.Server.Host != "" && input.Server.Username != "" && input.Server.Password == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Print("Password: ")
		secret, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Print("\n")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		input.Server.Password = string(secret)
	}
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
	defer cancel()
	if err := c.TestSource(ctx, input); err != nil {
		return err
	}
	fmt.Println("connection ok")
	return nil
}

// messageWidth leaves room for the fixed columns of a table row.
func messageWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 120
	}
	if width < 80 {
		return 40
	}
	return width - 60
}

func truncate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if max <= 3 || len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func seconds(secs int64) string {
	if secs <= 0 {
		return "0s"
	}
	return (time.Duration(secs) * time.Second).String()
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
