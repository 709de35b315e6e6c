package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/manash/seedgraph/internal/batch"
	"github.com/manash/seedgraph/internal/image"
	"github.com/manash/seedgraph/internal/session"
	"github.com/manash/seedgraph/pkg/models"
)

var (
	flagStopOnError bool
	flagDelayMs     int
)

func newBatchCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <file>",
		Short: "Submit prompts from a file, one session at a time",
		Long: `Read prompts from a .txt (one per line), .json or .yaml file and submit
them in order. Every result is added to the same provenance graph, so later
items can vary images produced by earlier ones.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, args, app)
		},
	}
	cmd.Flags().BoolVar(&flagStopOnError, "stop-on-error", false, "stop at the first failed item")
	cmd.Flags().IntVar(&flagDelayMs, "delay", 0, "pause between items in milliseconds")
	addOutputFlags(cmd)
	return cmd
}

// interruptibleRunner submits through the controller while listening for
// interrupts, so Ctrl-C cancels only the running item.
type interruptibleRunner struct {
	ctrl   *session.Controller
	notify func() (<-chan os.Signal, func())
}

func (r *interruptibleRunner) Submit(ctx context.Context, req *models.Request) (*session.Result, error) {
	signals, stop := r.notify()
	defer stop()
	return r.ctrl.SubmitInterruptible(ctx, req, signals)
}

func runBatch(cmd *cobra.Command, args []string, app *App) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	items, err := batch.ParseFile(args[0])
	if err != nil {
		return err
	}

	e, err := app.open()
	if err != nil {
		return err
	}
	defer e.Close()

	g, err := app.historyGraph(ctx, e, false)
	if err != nil {
		e.log.Warn("starting without history", "error", err)
		g = nil
	}
	ctrl := app.controller(ctx, e, g, flagShow)

	var saver *image.Saver
	if flagSave {
		if saver, err = app.saver(e, flagOutputDir); err != nil {
			return err
		}
	}

	fmt.Fprintf(app.Out, "Processing %d prompt(s)...\n", len(items))
	proc := batch.NewProcessor(&interruptibleRunner{ctrl: ctrl, notify: app.Notify}, saver, app.Out, app.Err)
	results, err := proc.Process(ctx, items, &batch.Options{
		Defaults:    formRequest(ctx, e),
		StopOnError: flagStopOnError,
		DelayMs:     flagDelayMs,
	})
	proc.PrintSummary(results)
	return err
}
