package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/manash/seedgraph/internal/graph"
	"github.com/manash/seedgraph/internal/repl"
)

func newREPLCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "repl",
		Short:   "Start interactive mode",
		Aliases: []string{"interactive", "i"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runREPL(cmd, app)
		},
	}
	cmd.Flags().StringVarP(&flagOutputDir, "output-dir", "o", "", "directory for the save command")
	return cmd
}

func runREPL(cmd *cobra.Command, app *App) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	e, err := app.open()
	if err != nil {
		return err
	}
	defer e.Close()

	saver, err := app.saver(e, flagOutputDir)
	if err != nil {
		return err
	}

	g := graph.New(graph.WithLogger(e.log))
	r := repl.New(&repl.Config{
		In:         app.In,
		Out:        app.Out,
		Err:        app.Err,
		Backend:    e.backend,
		Controller: app.controller(ctx, e, g, true),
		Store:      e.store,
		Displayer:  app.displayer(e),
		Saver:      saver,
		Notify:     app.Notify,
		Logger:     e.log,
	})

	if err := r.Preload(ctx); err != nil {
		fmt.Fprintf(app.Err, "Warning: history unavailable: %v\n", err)
	}
	return r.Run(ctx)
}
