package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/spf13/pflag"
	_ "go.uber.org/automaxprocs"

	"github.com/danielpatrickdp/evalboard/go-controller/internal/evaluation"
	"github.com/danielpatrickdp/evalboard/go-controller/internal/logging"
	"github.com/danielpatrickdp/evalboard/go-controller/internal/report"
	"github.com/danielpatrickdp/evalboard/go-controller/internal/store"
)

// #region main

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	dbPath     string
	collection string
	last       int
	status     string
	runs       int
	jsonOut    bool
}

func run(args []string, stdout, stderr io.Writer) int {
	var o options
	fs := pflag.NewFlagSet("inspect", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.dbPath, "db", "", "path to evalboard.db")
	fs.StringVar(&o.collection, "collection", "evaluations", "collection to inspect")
	fs.IntVar(&o.last, "last", 20, "show N most recent records, 0 for all")
	fs.StringVar(&o.status, "status", "", "only show records with this status")
	fs.IntVar(&o.runs, "runs", 5, "show N most recent runs")
	fs.BoolVar(&o.jsonOut, "json", false, "output as JSON instead of table")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if o.dbPath == "" {
		fmt.Fprintln(stderr, "usage: inspect --db path/to/evalboard.db [--collection C] [--last N] [--status S] [--runs N] [--json]")
		return 2
	}

	// opening a missing path would create an empty database
	if _, err := os.Stat(o.dbPath); err != nil {
		fmt.Fprintf(stderr, "open db: %v\n", err)
		return 1
	}

	ctx := context.Background()
	s, err := store.Open(ctx, o.dbPath, store.Options{})
	if err != nil {
		fmt.Fprintf(stderr, "open db: %v\n", err)
		return 1
	}
	defer s.Close()

	if err := inspect(ctx, s, o, stdout); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// #endregion main

// #region inspect

type output struct {
	Summary summaryJSON        `json:"summary"`
	Records []report.Row       `json:"records"`
	Runs    []logging.RunEntry `json:"runs"`
}

type summaryJSON struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
	Best     *report.Row    `json:"best,omitempty"`
}

func inspect(ctx context.Context, s *store.Store, o options, w io.Writer) error {
	c := s.Collection(o.collection)
	records, err := c.GetAll(ctx)
	if err != nil {
		return err
	}
	stats, err := c.Stats(ctx)
	if err != nil {
		return err
	}
	journal, err := logging.NewJournal(ctx, s.DB())
	if err != nil {
		return err
	}
	runs, err := journal.RecentRuns(ctx, o.runs)
	if err != nil {
		return err
	}

	summary := report.Summarize(records)
	summary.ByStatus = stats
	shown := report.Filter(records, evaluation.Status(o.status))
	if o.last > 0 && len(shown) > o.last {
		shown = shown[len(shown)-o.last:]
	}
	rows := report.Rows(shown)

	if o.jsonOut {
		out := output{
			Summary: summaryJSON{Total: summary.Total, ByStatus: map[string]int{}},
			Records: rows,
			Runs:    runs,
		}
		for st, n := range summary.ByStatus {
			out.Summary.ByStatus[string(st)] = n
		}
		if summary.Best != nil {
			out.Summary.Best = &report.Rows([]evaluation.Record{*summary.Best})[0]
		}
		return printJSON(w, out)
	}

	printSummary(w, summary)
	if len(rows) == 0 {
		fmt.Fprintln(w, "no records found")
	} else {
		printRecordTable(w, rows)
	}
	if len(runs) > 0 {
		fmt.Fprintln(w)
		printRunTable(w, runs)
	}
	return nil
}

// #endregion inspect

// #region printers

func printSummary(w io.Writer, s report.Summary) {
	statuses := make([]string, 0, len(s.ByStatus))
	for st := range s.ByStatus {
		statuses = append(statuses, string(st))
	}
	sort.Strings(statuses)

	fmt.Fprintf(w, "%d records", s.Total)
	for _, st := range statuses {
		fmt.Fprintf(w, "  %s=%d", st, s.ByStatus[evaluation.Status(st)])
	}
	fmt.Fprintln(w)
	if s.Best != nil {
		acc, _ := s.Best.Accuracy()
		fmt.Fprintf(w, "best: %s (%.2f%%)\n", s.Best.Model, acc*100)
	}
	fmt.Fprintln(w)
}

func printRecordTable(w io.Writer, rows []report.Row) {
	fmt.Fprintf(w, "%-16s  %-12s  %-26s  %-10s  %-9s  %8s\n",
		"Architecture", "Dataset", "Loss", "Optimizer", "Status", "Accuracy")
	fmt.Fprintf(w, "%-16s+-%-12s+-%-26s+-%-10s+-%-9s+-%8s\n",
		"----------------", "------------", "--------------------------", "----------", "---------", "--------")
	for _, r := range rows {
		fmt.Fprintf(w, "%-16s  %-12s  %-26s  %-10s  %-9s  %8s\n",
			r.Architecture, r.Dataset, r.Loss, r.Optimizer, r.Status, r.Accuracy)
	}
}

func printRunTable(w io.Writer, runs []logging.RunEntry) {
	fmt.Fprintf(w, "%-8s  %-9s  %-10s  %9s  %9s  %7s  %9s  %s\n",
		"Run", "Mode", "Outcome", "Progress", "Evaluated", "Skipped", "Transient", "Finished")
	for _, r := range runs {
		id := r.RunID
		if len(id) > 8 {
			id = id[:8]
		}
		fmt.Fprintf(w, "%-8s  %-9s  %-10s  %9s  %9d  %7d  %9d  %s (%s)\n",
			id, r.Mode, r.Outcome, fmt.Sprintf("%d/%d", r.Current, r.Total),
			r.Evaluated, r.Skipped, r.Transient,
			r.FinishedAt.Format(time.RFC3339), r.Duration().Round(time.Millisecond))
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// #endregion printers
