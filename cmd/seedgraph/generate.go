package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/manash/seedgraph/internal/image"
	"github.com/manash/seedgraph/internal/session"
	"github.com/manash/seedgraph/pkg/models"
)

var (
	flagSteps           int
	flagCfgScale        float64
	flagSampler         string
	flagWidth           int
	flagHeight          int
	flagSeed            int64
	flagIterations      int
	flagStrength        float64
	flagInitImage       string
	flagVariationAmount float64
	flagWithVariations  string
	flagSave            bool
	flagShow            bool
	flagOutputDir       string
	flagAmount          float64
)

func newGenerateCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Generate images and add them to the provenance graph",
		Long: `Submit a request to the dream server and stream its progress.

Parameters not given as flags come from the saved form (see "seedgraph form"),
and the submitted values are saved back to it. Ctrl-C asks the server to cancel
the running job.`,
		Aliases: []string{"gen"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, args, app)
		},
	}

	f := cmd.Flags()
	f.IntVar(&flagSteps, "steps", 50, "sampling steps")
	f.Float64Var(&flagCfgScale, "cfg-scale", 7.5, "classifier-free guidance scale")
	f.StringVar(&flagSampler, "sampler", "k_lms", "sampler name")
	f.IntVar(&flagWidth, "width", 512, "image width (multiple of 64)")
	f.IntVar(&flagHeight, "height", 512, "image height (multiple of 64)")
	f.Int64Var(&flagSeed, "seed", models.RandomSeed, "seed (-1 for random)")
	f.IntVarP(&flagIterations, "iterations", "n", 1, "number of images")
	f.Float64Var(&flagStrength, "strength", 0.75, "seed image strength")
	f.StringVarP(&flagInitImage, "init-image", "i", "", "seed image file")
	f.Float64Var(&flagVariationAmount, "variation-amount", 0, "variation strength (0 for none)")
	f.StringVar(&flagWithVariations, "with-variations", "", "variation chain, e.g. 42:0.3,99:0.1")
	addOutputFlags(cmd)

	return cmd
}

func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&flagSave, "save", "s", false, "download results to the output directory")
	cmd.Flags().BoolVarP(&flagShow, "show", "S", false, "display results inline (kitty terminals)")
	cmd.Flags().StringVarP(&flagOutputDir, "output-dir", "o", "", "output directory for --save")
}

// formRequest starts from the saved form, falling back to defaults when the
// form is empty or unreadable.
func formRequest(ctx context.Context, e *env) *models.Request {
	req := models.NewRequest("")
	values, err := e.store.FormValues(ctx)
	if err != nil {
		e.log.Warn("failed to read form", "error", err)
		return req
	}
	if err := req.ApplyForm(values); err != nil {
		e.log.Warn("ignoring saved form", "error", err)
		return models.NewRequest("")
	}
	return req
}

// applyFlags overrides request fields with the flags the user set.
func applyFlags(cmd *cobra.Command, req *models.Request) {
	f := cmd.Flags()
	if f.Changed("steps") {
		req.Steps = flagSteps
	}
	if f.Changed("cfg-scale") {
		req.CfgScale = flagCfgScale
	}
	if f.Changed("sampler") {
		req.SamplerName = flagSampler
	}
	if f.Changed("width") {
		req.Width = flagWidth
	}
	if f.Changed("height") {
		req.Height = flagHeight
	}
	if f.Changed("seed") {
		req.Seed = flagSeed
	}
	if f.Changed("iterations") {
		req.Iterations = flagIterations
	}
	if f.Changed("strength") {
		req.Strength = flagStrength
	}
	if f.Changed("variation-amount") {
		req.VariationAmount = flagVariationAmount
	}
	if f.Changed("with-variations") {
		req.WithVariations = flagWithVariations
	}
}

func saveForm(ctx context.Context, e *env, req *models.Request) {
	for k, v := range req.FormValues() {
		if err := e.store.SetFormValue(ctx, k, v); err != nil {
			e.log.Warn("failed to save form", "field", k, "error", err)
			return
		}
	}
}

func runGenerate(cmd *cobra.Command, args []string, app *App) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	e, err := app.open()
	if err != nil {
		return err
	}
	defer e.Close()

	req := formRequest(ctx, e)
	applyFlags(cmd, req)
	if len(args) > 0 {
		req.Prompt = strings.Join(args, " ")
	}
	if req.Prompt == "" {
		return fmt.Errorf("prompt required: pass one or set it with 'seedgraph form set prompt ...'")
	}

	if flagInitImage != "" {
		dataURL, name, err := image.EncodeDataURL(flagInitImage)
		if err != nil {
			return fmt.Errorf("seed image: %w", err)
		}
		req.InitImage = dataURL
		req.InitImageName = name
	}

	if err := req.Validate(models.DefaultSamplers()); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	saveForm(ctx, e, req)

	fmt.Fprintf(app.Out, "Generating %d image(s) with %s, %d steps...\n", req.Iterations, req.SamplerName, req.TotalSteps())
	return app.submit(ctx, e, req)
}

// submit runs one session against a graph preloaded with history and reports
// the outcome.
func (app *App) submit(ctx context.Context, e *env, req *models.Request) error {
	g, err := app.historyGraph(ctx, e, false)
	if err != nil {
		e.log.Warn("starting without history", "error", err)
		g = nil
	}
	ctrl := app.controller(ctx, e, g, flagShow)

	signals, stop := app.Notify()
	res, err := ctrl.SubmitInterruptible(ctx, req, signals)
	stop()
	if err != nil {
		if errors.Is(err, session.ErrTransport) {
			return fmt.Errorf("%w (is the dream server running?)", err)
		}
		return err
	}

	fmt.Fprintf(app.Out, "%d image(s), %d new edge(s)\n", len(res.Outputs), len(res.Edges))

	if flagSave && len(res.Outputs) > 0 {
		saver, err := app.saver(e, flagOutputDir)
		if err != nil {
			return err
		}
		refs := make([]string, len(res.Outputs))
		for i, out := range res.Outputs {
			refs[i] = out.URL
		}
		saved, err := saver.SaveAll(ctx, refs)
		for _, s := range saved {
			fmt.Fprintf(app.Out, "Saved: %s (%s)\n", s.Path, s.Size())
		}
		if err != nil {
			return err
		}
	}

	switch res.State {
	case session.StateCanceled:
		fmt.Fprintln(app.Out, "Canceled")
		return nil
	case session.StateFailed:
		if res.Alert != nil {
			return res.Alert
		}
		return errors.New("generation failed")
	}
	fmt.Fprintln(app.Out, "Done!")
	return nil
}

func newVariationCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "variation <url>",
		Short: "Generate a variation of an existing image",
		Long: `Rebuild the request that produced an image, keeping its base seed and
variation chain, and submit it with a variation amount so the server derives a
new image from it.`,
		Aliases: []string{"var"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVariation(cmd, args, app)
		},
	}
	cmd.Flags().Float64VarP(&flagAmount, "amount", "a", 0.2, "variation strength in (0,1]")
	addOutputFlags(cmd)
	return cmd
}

func runVariation(cmd *cobra.Command, args []string, app *App) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if flagAmount <= 0 || flagAmount > 1 {
		return fmt.Errorf("--amount must be in (0,1], got %v", flagAmount)
	}

	e, err := app.open()
	if err != nil {
		return err
	}
	defer e.Close()

	rec, err := findRecord(ctx, e, args[0])
	if err != nil {
		return err
	}

	req := rec.VariationRequest(flagAmount)
	fmt.Fprintf(app.Out, "Variation of %s: seed %d, chain %q, amount %.2f\n",
		rec.URL, req.Seed, req.WithVariations, flagAmount)
	return app.submit(ctx, e, req)
}

// findRecord looks url up in the local mirror, syncing from the server once
// when it is not there yet.
func findRecord(ctx context.Context, e *env, url string) (models.GenerationRecord, error) {
	if rec, err := e.store.GetRecord(ctx, url); err == nil {
		return rec, nil
	}
	if _, _, err := session.LoadHistory(ctx, e.backend, e.store, e.log); err != nil {
		return models.GenerationRecord{}, err
	}
	rec, err := e.store.GetRecord(ctx, url)
	if err != nil {
		return models.GenerationRecord{}, fmt.Errorf("unknown image: %s", url)
	}
	return rec, nil
}

func newCancelCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Ask the server to cancel its running job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := app.open()
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.backend.Cancel(context.Background()); err != nil {
				return err
			}
			fmt.Fprintln(app.Out, "Cancel requested")
			return nil
		},
	}
}
