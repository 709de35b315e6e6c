package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/manash/seedgraph/internal/graph"
	"github.com/manash/seedgraph/internal/session"
)

var (
	flagLimit   int
	flagSync    bool
	flagFormat  string
	flagGroup   string
	flagOffline bool
)

func newHistoryCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List generated images from the local mirror",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(app)
		},
	}
	cmd.Flags().IntVarP(&flagLimit, "limit", "l", 20, "number of images to list (0 for all)")
	cmd.Flags().BoolVar(&flagSync, "sync", false, "fetch the server's run log first")
	return cmd
}

func runHistory(app *App) error {
	ctx := context.Background()
	e, err := app.open()
	if err != nil {
		return err
	}
	defer e.Close()

	if flagSync {
		records, src, err := session.LoadHistory(ctx, e.backend, e.store, e.log)
		if err != nil {
			return err
		}
		fmt.Fprintf(app.Out, "Synced %d record(s) from %s\n", len(records), src)
	}

	records, err := e.store.ListRecords(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(app.Out, "No history yet (try --sync)")
		return nil
	}

	times, err := e.store.RecordTimes(ctx)
	if err != nil {
		return err
	}

	start := 0
	if flagLimit > 0 && len(records) > flagLimit {
		start = len(records) - flagLimit
	}
	for i := start; i < len(records); i++ {
		rec := records[i]
		age := "-"
		if t, ok := times[rec.URL]; ok {
			age = humanize.Time(t)
		}
		chain := ""
		if c := rec.DisplayChain(); c != "" {
			chain = " [" + c + "]"
		}
		fmt.Fprintf(app.Out, "%4d  %-16s %s  seed %d%s  %q\n", i+1, age, rec.URL, rec.Seed, chain, truncate(rec.Prompt, 40))
	}
	fmt.Fprintf(app.Out, "%s image(s)\n", humanize.Comma(int64(len(records))))
	return nil
}

func newSessionsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recent generation sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessions(app)
		},
	}
	cmd.Flags().IntVarP(&flagLimit, "limit", "l", 20, "number of sessions to list (0 for all)")
	return cmd
}

func runSessions(app *App) error {
	ctx := context.Background()
	e, err := app.open()
	if err != nil {
		return err
	}
	defer e.Close()

	rows, err := e.store.ListSessions(ctx, flagLimit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(app.Out, "No sessions yet")
		return nil
	}

	for _, row := range rows {
		fmt.Fprintf(app.Out, "%s  %-9s %d image(s)  %d steps  %s  %q\n",
			shortID(row.ID), row.State, row.OutputCount, row.TotalSteps, humanize.Time(row.StartedAt), truncate(row.Prompt, 40))
		if row.Error != "" {
			fmt.Fprintf(app.Out, "          error: %s\n", row.Error)
		}
	}
	return nil
}

func newGraphCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the provenance graph",
		Long: `Rebuild the provenance graph from history and print it.

Formats:
  tree  indented forest, one root per origin image
  dot   graphviz source, clustered by prompt
  json  node-link document for force-directed renderers`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraph(app)
		},
	}
	cmd.Flags().StringVarP(&flagFormat, "format", "f", "tree", "output format: tree, dot or json")
	cmd.Flags().StringVarP(&flagGroup, "group", "g", "", "only show images with this prompt")
	cmd.Flags().BoolVar(&flagOffline, "offline", false, "use the local mirror without contacting the server")
	return cmd
}

func runGraph(app *App) error {
	format := strings.ToLower(flagFormat)
	switch format {
	case "tree", "dot", "json":
	default:
		return fmt.Errorf("invalid format %q: must be one of tree, dot, json", flagFormat)
	}

	ctx := context.Background()
	e, err := app.open()
	if err != nil {
		return err
	}
	defer e.Close()

	g, err := app.historyGraph(ctx, e, flagOffline)
	if err != nil {
		return err
	}

	snap := g.Snapshot(graph.ByPrompt)
	if flagGroup != "" {
		snap = snap.Filter(flagGroup)
	}

	switch format {
	case "dot":
		return graph.WriteDOT(app.Out, snap)
	case "json":
		data, err := snap.JSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(app.Out, string(data))
		return nil
	default:
		return graph.WriteTree(app.Out, snap)
	}
}

func newDBCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Inspect the local database",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "info",
		Short: "Show database location and statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInfo(app)
		},
	})
	return cmd
}

func runDBInfo(app *App) error {
	cfg, err := app.Config.Load()
	if err != nil {
		return err
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		if dbPath, err = session.DefaultDBPath(); err != nil {
			return err
		}
	}

	fmt.Fprintf(app.Out, "Database location: %s\n", dbPath)
	info, err := os.Stat(dbPath)
	if os.IsNotExist(err) {
		fmt.Fprintln(app.Out, "Database does not exist yet")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "Database size: %s\n", humanize.Bytes(uint64(info.Size())))

	store, err := app.OpenStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	records, err := store.CountRecords(ctx)
	if err != nil {
		return err
	}
	sessions, err := store.ListSessions(ctx, 0)
	if err != nil {
		return err
	}

	fmt.Fprintln(app.Out, "Statistics:")
	fmt.Fprintf(app.Out, "  Images:   %s\n", humanize.Comma(int64(records)))
	fmt.Fprintf(app.Out, "  Sessions: %s\n", humanize.Comma(int64(len(sessions))))
	if len(sessions) > 0 {
		last := sessions[0].StartedAt
		fmt.Fprintf(app.Out, "  Last session: %s (%s)\n", session.FormatTimestamp(last.Local()), humanize.Time(last))
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
