package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/manash/seedgraph/internal/image"
	"github.com/manash/seedgraph/internal/session"
	"github.com/manash/seedgraph/pkg/models"
)

// Runner runs one generation session. *session.Controller implements it.
type Runner interface {
	Submit(ctx context.Context, req *models.Request) (*session.Result, error)
}

type Result struct {
	Index    int
	Prompt   string
	State    session.State
	Outputs  []string
	Edges    int
	Paths    []string
	Error    error
	Duration time.Duration
}

type Options struct {
	// Defaults is the base request each item is applied to.
	Defaults    *models.Request
	StopOnError bool
	DelayMs     int
}

// Processor submits batch items one after another. Sessions never overlap,
// and every result lands in the runner's graph, so later items can build on
// earlier ones.
type Processor struct {
	runner Runner
	saver  *image.Saver
	out    io.Writer
	err    io.Writer
}

// NewProcessor builds a processor. saver may be nil to leave images on the
// server.
func NewProcessor(runner Runner, saver *image.Saver, out, errOut io.Writer) *Processor {
	return &Processor{
		runner: runner,
		saver:  saver,
		out:    out,
		err:    errOut,
	}
}

func (p *Processor) Process(ctx context.Context, items []Item, opts *Options) ([]Result, error) {
	if opts == nil {
		opts = &Options{}
	}
	results := make([]Result, 0, len(items))
	total := len(items)

	for i, item := range items {
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		default:
		}

		result := p.processItem(ctx, item, opts, i+1, total)
		results = append(results, result)

		if result.Error != nil && opts.StopOnError {
			return results, fmt.Errorf("stopped at item %d: %w", i+1, result.Error)
		}

		if opts.DelayMs > 0 && i < len(items)-1 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(time.Duration(opts.DelayMs) * time.Millisecond):
			}
		}
	}

	return results, nil
}

func (p *Processor) processItem(ctx context.Context, item Item, opts *Options, current, total int) Result {
	start := time.Now()
	result := Result{
		Index:  item.Index,
		Prompt: item.Prompt,
	}
	fail := func(err error) Result {
		result.Error = err
		result.Duration = time.Since(start)
		fmt.Fprintf(p.err, "       Error: %v\n", err)
		return result
	}

	fmt.Fprintf(p.out, "[%d/%d] Generating: %q...\n", current, total, truncate(item.Prompt, 50))

	req := item.Request(opts.Defaults)
	if item.SeedImage != "" {
		dataURL, name, err := image.EncodeDataURL(item.SeedImage)
		if err != nil {
			return fail(fmt.Errorf("seed image: %w", err))
		}
		req.InitImage = dataURL
		req.InitImageName = name
	}

	res, err := p.runner.Submit(ctx, req)
	if res != nil {
		result.State = res.State
		result.Edges = len(res.Edges)
		for _, out := range res.Outputs {
			result.Outputs = append(result.Outputs, out.URL)
		}
	}
	if err != nil {
		return fail(fmt.Errorf("generation failed: %w", err))
	}
	if res.Alert != nil {
		return fail(res.Alert)
	}
	if res.State == session.StateCanceled {
		return fail(errors.New("generation canceled"))
	}

	if p.saver != nil {
		for k, ref := range result.Outputs {
			saved, err := p.saver.Save(ctx, ref, generateFilename(item.Index, k, item.Prompt, ref))
			if err != nil {
				return fail(fmt.Errorf("save failed: %w", err))
			}
			result.Paths = append(result.Paths, saved.Path)
			fmt.Fprintf(p.out, "       Saved: %s (%s)\n", saved.Path, saved.Size())
		}
	} else {
		for _, ref := range result.Outputs {
			fmt.Fprintf(p.out, "       Image: %s\n", ref)
		}
	}

	result.Duration = time.Since(start)
	return result
}

// generateFilename names the k-th output of a batch item, keeping the
// server's file extension.
func generateFilename(index, k int, prompt, ref string) string {
	ext := "png"
	if i := strings.LastIndexByte(ref, '.'); i >= 0 && i < len(ref)-1 && !strings.ContainsAny(ref[i:], "/\\") {
		ext = strings.ToLower(ref[i+1:])
	}
	name := fmt.Sprintf("%03d-%s", index, sanitizePrompt(prompt))
	if k > 0 {
		name = fmt.Sprintf("%s-%d", name, k+1)
	}
	return name + "." + ext
}

var windowsReservedNames = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
	"com1": true, "com2": true, "com3": true, "com4": true,
	"com5": true, "com6": true, "com7": true, "com8": true, "com9": true,
	"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true,
	"lpt5": true, "lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
}

var nonWord = regexp.MustCompile(`[^a-zA-Z0-9\s-]`)

func sanitizePrompt(prompt string) string {
	sanitized := nonWord.ReplaceAllString(prompt, "")
	sanitized = strings.ToLower(sanitized)
	sanitized = strings.Join(strings.Fields(sanitized), "-")
	sanitized = strings.TrimLeft(sanitized, "-")

	if len(sanitized) > 50 {
		sanitized = sanitized[:50]
	}
	sanitized = strings.TrimSuffix(sanitized, "-")

	if sanitized == "" {
		sanitized = "image"
	}

	if windowsReservedNames[sanitized] {
		sanitized = sanitized + "-img"
	}

	return sanitized
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func (p *Processor) PrintSummary(results []Result) {
	var successful, failed, images, edges int
	var failures []Result

	for _, r := range results {
		images += len(r.Outputs)
		edges += r.Edges
		if r.Error != nil {
			failed++
			failures = append(failures, r)
		} else {
			successful++
		}
	}

	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, "Summary:")
	fmt.Fprintf(p.out, "  Successful: %d/%d prompts\n", successful, len(results))
	if failed > 0 {
		fmt.Fprintf(p.out, "  Failed: %d (see errors below)\n", failed)
	}
	fmt.Fprintf(p.out, "  Images: %d, new graph edges: %d\n", images, edges)

	if len(failures) > 0 {
		fmt.Fprintln(p.out)
		fmt.Fprintln(p.out, "Errors:")
		for _, e := range failures {
			fmt.Fprintf(p.out, "  [%d] %q: %v\n", e.Index, truncate(e.Prompt, 40), e.Error)
		}
	}
}
