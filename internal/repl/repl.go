package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/manash/seedgraph/internal/display"
	"github.com/manash/seedgraph/internal/graph"
	"github.com/manash/seedgraph/internal/image"
	"github.com/manash/seedgraph/internal/logging"
	"github.com/manash/seedgraph/internal/provider"
	"github.com/manash/seedgraph/internal/session"
)

type REPL struct {
	in        io.Reader
	out       io.Writer
	err       io.Writer
	backend   provider.Backend
	ctrl      *session.Controller
	store     *session.Store
	displayer *display.Displayer
	saver     *image.Saver
	notify    func() (<-chan os.Signal, func())
	log       *logging.Logger
	commands  map[string]Command
	running   bool

	// current is the url of the image the last command produced or selected.
	current     string
	lastOutputs []string
}

type Config struct {
	In         io.Reader
	Out        io.Writer
	Err        io.Writer
	Backend    provider.Backend
	Controller *session.Controller
	// Store is optional; without it form state and local history are
	// unavailable.
	Store *session.Store
	// Displayer is optional; nil disables inline images.
	Displayer *display.Displayer
	Saver     *image.Saver
	// Notify, when set, subscribes to interrupts for the length of one
	// generation; the first interrupt cancels it.
	Notify func() (<-chan os.Signal, func())
	Logger *logging.Logger
}

func New(cfg *Config) *REPL {
	log := cfg.Logger
	if log == nil {
		log = logging.Nop()
	}
	r := &REPL{
		in:        cfg.In,
		out:       cfg.Out,
		err:       cfg.Err,
		backend:   cfg.Backend,
		ctrl:      cfg.Controller,
		store:     cfg.Store,
		displayer: cfg.Displayer,
		saver:     cfg.Saver,
		notify:    cfg.Notify,
		log:       log,
		commands:  make(map[string]Command),
	}
	r.registerCommands()
	return r
}

func (r *REPL) graph() *graph.Builder {
	return r.ctrl.Graph()
}

// Preload replays the server's run log into a fresh graph, mirroring it into
// the local store when there is one. If the server is unreachable the local
// mirror is used instead.
func (r *REPL) Preload(ctx context.Context) error {
	records, src, err := session.LoadHistory(ctx, r.backend, r.store, r.log)
	if err != nil {
		return err
	}

	g := r.graph()
	g.Reset()
	edges := g.Load(records)
	fmt.Fprintf(r.out, "Loaded %d image(s), %d edge(s) from %s\n", g.Len(), len(edges), src)
	return nil
}

func (r *REPL) Run(ctx context.Context) error {
	r.running = true
	r.printWelcome()

	scanner := bufio.NewScanner(r.in)
	for r.running {
		r.printPrompt()
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if err := r.execute(ctx, line); err != nil {
			fmt.Fprintf(r.err, "Error: %v\n", err)
		}
	}

	return scanner.Err()
}

func (r *REPL) execute(ctx context.Context, line string) error {
	parts := parseCommand(line)
	if len(parts) == 0 {
		return nil
	}

	cmdName := strings.ToLower(parts[0])
	args := parts[1:]

	cmd, ok := r.commands[cmdName]
	if !ok {
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", cmdName)
	}

	return cmd.Execute(ctx, r, args)
}

func (r *REPL) Stop() {
	r.running = false
}

func (r *REPL) printWelcome() {
	fmt.Fprintln(r.out, "seedgraph interactive mode")
	fmt.Fprintln(r.out, "Type 'help' for available commands, 'quit' to exit.")
	fmt.Fprintln(r.out)
}

func (r *REPL) printPrompt() {
	if r.current != "" {
		fmt.Fprintf(r.out, "seedgraph [%d] (%s)> ", r.graph().Len(), truncate(r.current, 30))
	} else {
		fmt.Fprintf(r.out, "seedgraph [%d]> ", r.graph().Len())
	}
}

func parseCommand(line string) []string {
	var parts []string
	var current strings.Builder
	inQuotes := false
	quoteChar := rune(0)

	for _, ch := range line {
		switch {
		case ch == '"' || ch == '\'':
			if inQuotes && ch == quoteChar {
				inQuotes = false
				quoteChar = 0
			} else if !inQuotes {
				inQuotes = true
				quoteChar = ch
			} else {
				current.WriteRune(ch)
			}
		case ch == ' ' && !inQuotes:
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(ch)
		}
	}

	if current.Len() > 0 {
		parts = append(parts, current.String())
	}

	return parts
}
