package repl

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/manash/seedgraph/internal/graph"
	"github.com/manash/seedgraph/internal/image"
	"github.com/manash/seedgraph/internal/session"
	"github.com/manash/seedgraph/pkg/models"
)

const defaultVariationAmount = 0.2

type Command interface {
	Name() string
	Aliases() []string
	Description() string
	Usage() string
	Execute(ctx context.Context, r *REPL, args []string) error
}

func allCommands() []Command {
	return []Command{
		&GenerateCommand{},
		&VariationCommand{},
		&RestoreCommand{},
		&CancelCommand{},
		&HistoryCommand{},
		&SyncCommand{},
		&GraphCommand{},
		&LineageCommand{},
		&SeedCommand{},
		&FormCommand{},
		&ShowCommand{},
		&SaveCommand{},
		&HelpCommand{},
		&QuitCommand{},
	}
}

func (r *REPL) registerCommands() {
	for _, cmd := range allCommands() {
		r.commands[cmd.Name()] = cmd
		for _, alias := range cmd.Aliases() {
			r.commands[alias] = cmd
		}
	}
}

// runSession submits req, reports the outcome and remembers the last image.
func (r *REPL) runSession(ctx context.Context, req *models.Request) error {
	var res *session.Result
	var err error
	if r.notify != nil {
		signals, stop := r.notify()
		res, err = r.ctrl.SubmitInterruptible(ctx, req, signals)
		stop()
	} else {
		res, err = r.ctrl.Submit(ctx, req)
	}
	if err != nil {
		return fmt.Errorf("generation failed: %w", err)
	}

	if n := len(res.Outputs); n > 0 {
		r.current = res.Outputs[n-1].URL
		r.lastOutputs = r.lastOutputs[:0]
		for _, out := range res.Outputs {
			r.lastOutputs = append(r.lastOutputs, out.URL)
		}
	}
	if res.Alert != nil {
		fmt.Fprintf(r.err, "Alert: %v\n", res.Alert)
	}
	fmt.Fprintf(r.out, "%s: %d image(s), %d new edge(s)\n", res.State, len(res.Outputs), len(res.Edges))
	return nil
}

// saveForm persists the request's form values when a store is configured.
func (r *REPL) saveForm(ctx context.Context, req *models.Request) {
	if r.store == nil {
		return
	}
	for k, v := range req.FormValues() {
		if err := r.store.SetFormValue(ctx, k, v); err != nil {
			r.log.Warn("failed to persist form", "field", k, "error", err)
			return
		}
	}
}

// formRequest builds a request from the persisted form.
func (r *REPL) formRequest(ctx context.Context) *models.Request {
	req := models.NewRequest("")
	if r.store == nil {
		return req
	}
	values, err := r.store.FormValues(ctx)
	if err != nil {
		r.log.Warn("failed to read form", "error", err)
		return req
	}
	if err := req.ApplyForm(values); err != nil {
		r.log.Warn("ignoring stored form", "error", err)
		return models.NewRequest("")
	}
	return req
}

// record finds a record by url in the graph, then in the local mirror.
func (r *REPL) record(ctx context.Context, url string) (models.GenerationRecord, error) {
	if url == "" {
		return models.GenerationRecord{}, fmt.Errorf("no current image - give a url or generate first")
	}
	if n, ok := r.graph().Node(url); ok {
		return n.Record, nil
	}
	if r.store != nil {
		if rec, err := r.store.GetRecord(ctx, url); err == nil {
			return rec, nil
		}
	}
	return models.GenerationRecord{}, fmt.Errorf("unknown image: %s", url)
}

// GenerateCommand submits the form, optionally with a new prompt
type GenerateCommand struct{}

func (c *GenerateCommand) Name() string        { return "generate" }
func (c *GenerateCommand) Aliases() []string   { return []string{"gen", "g"} }
func (c *GenerateCommand) Description() string { return "Generate images from a prompt and the saved form" }
func (c *GenerateCommand) Usage() string       { return "generate [-i seed-image] [prompt]" }

func (c *GenerateCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	req := r.formRequest(ctx)

	if len(args) >= 2 && args[0] == "-i" {
		dataURL, name, err := image.EncodeDataURL(args[1])
		if err != nil {
			return fmt.Errorf("seed image: %w", err)
		}
		req.InitImage = dataURL
		req.InitImageName = name
		args = args[2:]
	}

	if len(args) > 0 {
		req.Prompt = strings.Join(args, " ")
	}
	if req.Prompt == "" {
		return fmt.Errorf("usage: %s", c.Usage())
	}

	r.saveForm(ctx, req)
	fmt.Fprintf(r.out, "Generating %q (%d steps, %s)...\n", truncate(req.Prompt, 50), req.TotalSteps(), req.SamplerName)
	return r.runSession(ctx, req)
}

// VariationCommand derives a new image from an existing one
type VariationCommand struct{}

func (c *VariationCommand) Name() string        { return "variation" }
func (c *VariationCommand) Aliases() []string   { return []string{"var", "v"} }
func (c *VariationCommand) Description() string { return "Generate a variation of an image" }
func (c *VariationCommand) Usage() string       { return "variation [url] [amount]" }

func (c *VariationCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	url := r.current
	amount := defaultVariationAmount

	for _, arg := range args {
		if v, err := strconv.ParseFloat(arg, 64); err == nil {
			amount = v
			continue
		}
		url = arg
	}
	if amount <= 0 || amount > 1 {
		return fmt.Errorf("amount must be in (0,1], got %v", amount)
	}

	rec, err := r.record(ctx, url)
	if err != nil {
		return err
	}

	req := rec.VariationRequest(amount)
	fmt.Fprintf(r.out, "Variation of %s (seed %d, chain %q, amount %.2f)...\n",
		rec.URL, req.Seed, req.WithVariations, amount)
	return r.runSession(ctx, req)
}

// RestoreCommand loads an image's parameters into the form
type RestoreCommand struct{}

func (c *RestoreCommand) Name() string        { return "restore" }
func (c *RestoreCommand) Aliases() []string   { return []string{"r"} }
func (c *RestoreCommand) Description() string { return "Copy an image's parameters into the form" }
func (c *RestoreCommand) Usage() string       { return "restore [url]" }

func (c *RestoreCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	url := r.current
	if len(args) > 0 {
		url = args[0]
	}
	rec, err := r.record(ctx, url)
	if err != nil {
		return err
	}
	if r.store == nil {
		return fmt.Errorf("form state needs a local store")
	}

	req := rec.RestoreRequest()
	if err := r.store.ResetForm(ctx); err != nil {
		return err
	}
	r.saveForm(ctx, req)
	r.current = rec.URL

	fmt.Fprintf(r.out, "Restored %s: seed %d, chain %q, %d steps, %s, cfg %.1f\n",
		rec.URL, req.Seed, req.WithVariations, req.Steps, req.SamplerName, req.CfgScale)
	return nil
}

// CancelCommand asks the server to stop its current job
type CancelCommand struct{}

func (c *CancelCommand) Name() string        { return "cancel" }
func (c *CancelCommand) Aliases() []string   { return []string{"stop"} }
func (c *CancelCommand) Description() string { return "Ask the server to cancel the running job" }
func (c *CancelCommand) Usage() string       { return "cancel" }

func (c *CancelCommand) Execute(ctx context.Context, r *REPL, _ []string) error {
	r.ctrl.Cancel(ctx)
	fmt.Fprintln(r.out, "Cancel requested")
	return nil
}

// HistoryCommand lists known images
type HistoryCommand struct{}

func (c *HistoryCommand) Name() string        { return "history" }
func (c *HistoryCommand) Aliases() []string   { return []string{"h", "hist"} }
func (c *HistoryCommand) Description() string { return "List recent images" }
func (c *HistoryCommand) Usage() string       { return "history [count]" }

func (c *HistoryCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	limit := 20
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("usage: %s", c.Usage())
		}
		limit = n
	}

	nodes := r.graph().Nodes()
	if len(nodes) == 0 {
		fmt.Fprintln(r.out, "No history yet")
		return nil
	}
	if len(nodes) > limit {
		nodes = nodes[len(nodes)-limit:]
	}

	var times map[string]time.Time
	if r.store != nil {
		times, _ = r.store.RecordTimes(ctx)
	}

	for _, n := range nodes {
		marker := "  "
		if n.ID() == r.current {
			marker = "> "
		}
		age := ""
		if t, ok := times[n.ID()]; ok {
			age = humanize.Time(t) + " "
		}
		fmt.Fprintf(r.out, "%s[%d] %s%s seed %d %q\n", marker, n.Order()+1, age, n.ID(), n.Record.Seed,
			truncate(n.Record.Prompt, 40))
	}
	return nil
}

// SyncCommand reloads the graph from the server's run log
type SyncCommand struct{}

func (c *SyncCommand) Name() string        { return "sync" }
func (c *SyncCommand) Aliases() []string   { return []string{"reload"} }
func (c *SyncCommand) Description() string { return "Rebuild the graph from the server history" }
func (c *SyncCommand) Usage() string       { return "sync" }

func (c *SyncCommand) Execute(ctx context.Context, r *REPL, _ []string) error {
	return r.Preload(ctx)
}

// GraphCommand prints the provenance graph
type GraphCommand struct{}

func (c *GraphCommand) Name() string        { return "graph" }
func (c *GraphCommand) Aliases() []string   { return []string{"tree"} }
func (c *GraphCommand) Description() string { return "Print the provenance graph (tree, dot or json)" }
func (c *GraphCommand) Usage() string       { return "graph [tree|dot|json|groups|roots] [prompt]" }

func (c *GraphCommand) Execute(_ context.Context, r *REPL, args []string) error {
	format := "tree"
	if len(args) > 0 {
		format = strings.ToLower(args[0])
		args = args[1:]
	}

	snap := r.graph().Snapshot(graph.ByPrompt)
	if len(args) > 0 {
		snap = snap.Filter(strings.Join(args, " "))
	}

	switch format {
	case "tree":
		return graph.WriteTree(r.out, snap)
	case "dot":
		return graph.WriteDOT(r.out, snap)
	case "json":
		data, err := snap.JSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(r.out, string(data))
		return nil
	case "groups":
		for _, g := range snap.Groups() {
			fmt.Fprintln(r.out, g)
		}
		return nil
	case "roots":
		for _, n := range r.graph().Roots() {
			fmt.Fprintf(r.out, "%s (seed %d, %d derived)\n", n.ID(), n.Record.Seed, len(r.graph().Children(n.ID())))
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q: use tree, dot, json, groups or roots", format)
	}
}

// LineageCommand walks an image back to its origin
type LineageCommand struct{}

func (c *LineageCommand) Name() string        { return "lineage" }
func (c *LineageCommand) Aliases() []string   { return []string{"ancestors"} }
func (c *LineageCommand) Description() string { return "Show the ancestry of an image" }
func (c *LineageCommand) Usage() string       { return "lineage [url]" }

func (c *LineageCommand) Execute(_ context.Context, r *REPL, args []string) error {
	url := r.current
	if len(args) > 0 {
		url = args[0]
	}
	path := r.graph().Lineage(url)
	if len(path) == 0 {
		return fmt.Errorf("unknown image: %s", url)
	}
	for i, n := range path {
		fmt.Fprintf(r.out, "%s%s (seed %d)\n", strings.Repeat("  ", i), n.ID(), n.Record.Seed)
	}
	for _, e := range r.graph().Children(url) {
		fmt.Fprintf(r.out, "derived: %s (weight %.2f)\n", e.Target, e.Weight)
	}
	return nil
}

// SeedCommand shows which images carry a seed
type SeedCommand struct{}

func (c *SeedCommand) Name() string        { return "seed" }
func (c *SeedCommand) Aliases() []string   { return []string{"carriers"} }
func (c *SeedCommand) Description() string { return "Show the images carrying a seed and its owner" }
func (c *SeedCommand) Usage() string       { return "seed <n>" }

func (c *SeedCommand) Execute(_ context.Context, r *REPL, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s", c.Usage())
	}
	seed, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid seed %q", args[0])
	}

	owner := r.graph().Owner(seed)
	if owner == nil {
		fmt.Fprintf(r.out, "No image carries seed %d\n", seed)
		return nil
	}
	for _, n := range r.graph().Carriers(seed) {
		marker := "  "
		if n == owner {
			marker = "* "
		}
		fmt.Fprintf(r.out, "%s[%d] %s\n", marker, n.Order()+1, n.ID())
	}
	return nil
}

// FormCommand manages the persisted form
type FormCommand struct{}

func (c *FormCommand) Name() string        { return "form" }
func (c *FormCommand) Aliases() []string   { return []string{"f"} }
func (c *FormCommand) Description() string { return "Show or edit the saved form (show, set, get, reset)" }
func (c *FormCommand) Usage() string       { return "form <show|set|get|reset> [field] [value]" }

func (c *FormCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if r.store == nil {
		return fmt.Errorf("form state needs a local store")
	}
	if len(args) == 0 {
		args = []string{"show"}
	}

	switch strings.ToLower(args[0]) {
	case "show", "ls":
		values, err := r.store.FormValues(ctx)
		if err != nil {
			return err
		}
		if len(values) == 0 {
			fmt.Fprintln(r.out, "Form is empty")
			return nil
		}
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(r.out, "%-17s %s\n", k, values[k])
		}
		return nil
	case "set":
		if len(args) < 3 {
			return fmt.Errorf("usage: form set <field> <value>")
		}
		field, value := args[1], strings.Join(args[2:], " ")
		if err := models.NewRequest("").SetField(field, value); err != nil {
			return fmt.Errorf("%w (fields: %s)", err, strings.Join(models.FormFields(), ", "))
		}
		return r.store.SetFormValue(ctx, field, value)
	case "get":
		if len(args) < 2 {
			return fmt.Errorf("usage: form get <field>")
		}
		if !models.IsFormField(args[1]) {
			return fmt.Errorf("%w: %s", models.ErrUnknownFormField, args[1])
		}
		value, err := r.store.GetFormValue(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Fprintln(r.out, value)
		return nil
	case "reset", "clear":
		if err := r.store.ResetForm(ctx); err != nil {
			return err
		}
		fmt.Fprintln(r.out, "Form cleared")
		return nil
	default:
		return fmt.Errorf("unknown form command: %s", args[0])
	}
}

// ShowCommand displays an image inline
type ShowCommand struct{}

func (c *ShowCommand) Name() string        { return "show" }
func (c *ShowCommand) Aliases() []string   { return []string{"display", "view"} }
func (c *ShowCommand) Description() string { return "Display an image" }
func (c *ShowCommand) Usage() string       { return "show [url|all]" }

func (c *ShowCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	url := r.current
	if len(args) > 0 {
		url = args[0]
	}
	if url == "all" {
		if len(r.lastOutputs) == 0 {
			return fmt.Errorf("no images from the last generation")
		}
		if r.displayer == nil {
			for _, ref := range r.lastOutputs {
				full, err := r.backend.ResolveURL(ref)
				if err != nil {
					return err
				}
				fmt.Fprintln(r.out, full)
			}
			return nil
		}
		return r.displayer.ShowAll(ctx, r.lastOutputs)
	}
	if url == "" {
		return fmt.Errorf("no current image to display")
	}
	if r.displayer == nil {
		full, err := r.backend.ResolveURL(url)
		if err != nil {
			return err
		}
		fmt.Fprintln(r.out, full)
		return nil
	}
	r.current = url
	return r.displayer.Show(ctx, url)
}

// SaveCommand downloads an image to the output directory
type SaveCommand struct{}

func (c *SaveCommand) Name() string        { return "save" }
func (c *SaveCommand) Aliases() []string   { return []string{"s"} }
func (c *SaveCommand) Description() string { return "Download an image to the output directory" }
func (c *SaveCommand) Usage() string       { return "save [url] [filename]" }

func (c *SaveCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	url, name := r.current, ""
	switch len(args) {
	case 0:
	case 1:
		if _, ok := r.graph().Node(args[0]); ok {
			url = args[0]
		} else {
			name = args[0]
		}
	default:
		url, name = args[0], args[1]
	}
	if url == "" {
		return fmt.Errorf("no current image to save")
	}

	saved, err := r.saver.Save(ctx, url, name)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Saved: %s (%s)\n", saved.Path, saved.Size())
	return nil
}

// HelpCommand shows available commands
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Aliases() []string   { return []string{"?"} }
func (c *HelpCommand) Description() string { return "Show available commands" }
func (c *HelpCommand) Usage() string       { return "help" }

func (c *HelpCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	fmt.Fprintln(r.out, "Available commands:")
	fmt.Fprintln(r.out)

	for _, cmd := range allCommands() {
		aliases := ""
		if len(cmd.Aliases()) > 0 {
			aliases = fmt.Sprintf(" (%s)", strings.Join(cmd.Aliases(), ", "))
		}
		fmt.Fprintf(r.out, "  %-24s%s\n", cmd.Name()+aliases, cmd.Description())
		fmt.Fprintf(r.out, "  %24sUsage: %s\n", "", cmd.Usage())
	}

	return nil
}

// QuitCommand exits the REPL
type QuitCommand struct{}

func (c *QuitCommand) Name() string        { return "quit" }
func (c *QuitCommand) Aliases() []string   { return []string{"exit", "q"} }
func (c *QuitCommand) Description() string { return "Exit interactive mode" }
func (c *QuitCommand) Usage() string       { return "quit" }

func (c *QuitCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	fmt.Fprintln(r.out, "Goodbye!")
	r.Stop()
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
