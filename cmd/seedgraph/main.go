package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/manash/seedgraph/internal/config"
	"github.com/manash/seedgraph/internal/display"
	"github.com/manash/seedgraph/internal/graph"
	"github.com/manash/seedgraph/internal/image"
	"github.com/manash/seedgraph/internal/logging"
	"github.com/manash/seedgraph/internal/provider"
	"github.com/manash/seedgraph/internal/provider/dream"
	"github.com/manash/seedgraph/internal/session"
)

var (
	version = "dev"
	commit  = "none"
)

var (
	flagURL     string
	flagVerbose bool
	flagLogMode string
)

type App struct {
	In         io.Reader
	Out        io.Writer
	Err        io.Writer
	Config     *config.Store
	NewBackend func(cfg *provider.Config) (provider.Backend, error)
	OpenStore  func(path string) (*session.Store, error)
	NewLogger  func(mode string, verbose bool) (*logging.Logger, error)
	// Notify subscribes to interrupts; the returned func unsubscribes.
	Notify     func() (<-chan os.Signal, func())
	IsTerminal func(w io.Writer) bool
}

func DefaultApp() (*App, error) {
	cfgStore, err := config.NewStore()
	if err != nil {
		return nil, err
	}
	return &App{
		In:     os.Stdin,
		Out:    os.Stdout,
		Err:    os.Stderr,
		Config: cfgStore,
		NewBackend: func(cfg *provider.Config) (provider.Backend, error) {
			return dream.New(cfg)
		},
		OpenStore:  session.NewStoreWithPath,
		NewLogger:  logging.New,
		Notify:     notifyInterrupt,
		IsTerminal: display.IsTerminal,
	}, nil
}

func notifyInterrupt() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	return ch, func() { signal.Stop(ch) }
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	app, err := DefaultApp()
	if err != nil {
		return err
	}
	return newRootCmd(app).Execute()
}

func newRootCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seedgraph",
		Short: "Drive a dream server and track image provenance",
		Long: `seedgraph submits generation requests to a dream web server, streams
progress and results, and reconstructs which image was derived from which.

Examples:
  seedgraph generate "a lighthouse at dusk"
  seedgraph variation outputs/img-samples/000012.42.png --amount 0.3
  seedgraph graph --format dot | dot -Tsvg > provenance.svg
  seedgraph repl`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flagURL, "url", "", "dream server URL (defaults to "+config.EnvServerURL+", then config, then "+config.DefaultServerURL+")")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "log requests and debug diagnostics")
	cmd.PersistentFlags().StringVar(&flagLogMode, "log", "", "log format: dev or prod")

	cmd.AddCommand(
		newGenerateCmd(app),
		newVariationCmd(app),
		newCancelCmd(app),
		newHistoryCmd(app),
		newSessionsCmd(app),
		newGraphCmd(app),
		newBatchCmd(app),
		newFormCmd(app),
		newConfigCmd(app),
		newDBCmd(app),
		newREPLCmd(app),
	)
	cmd.SetOut(app.Out)
	cmd.SetErr(app.Err)
	cmd.SetIn(app.In)

	return cmd
}

// env is everything a command needs once config has been resolved.
type env struct {
	cfg     *config.Config
	log     *logging.Logger
	backend provider.Backend
	store   *session.Store
}

func (e *env) Close() {
	if e.store != nil {
		e.store.Close()
	}
	e.log.Sync()
}

// open resolves config and builds the logger, backend and local store.
func (app *App) open() (*env, error) {
	cfg, err := app.Config.Load()
	if err != nil {
		return nil, err
	}

	mode := flagLogMode
	if mode == "" {
		mode = cfg.LogModeOrDefault()
	}
	verbose := flagVerbose || cfg.Verbose

	log, err := app.NewLogger(mode, verbose)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	serverURL, source := config.ResolveServerURL(flagURL, cfg)
	log.Debug("server resolved", "url", serverURL, "source", source)

	backend, err := app.NewBackend(&provider.Config{
		BaseURL:    serverURL,
		TimeoutSec: cfg.TimeoutSec,
		Verbose:    verbose,
		Logger:     log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	dbPath := cfg.DBPath
	if dbPath == "" {
		if dbPath, err = session.DefaultDBPath(); err != nil {
			return nil, err
		}
	}
	store, err := app.OpenStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	return &env{cfg: cfg, log: log, backend: backend, store: store}, nil
}

// outputDir picks the save directory: flag, then config, then the default.
func (e *env) outputDir(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if e.cfg.OutputDir != "" {
		return e.cfg.OutputDir, nil
	}
	return session.DefaultImageDir()
}

// displayer returns an inline image displayer when out is a kitty-capable
// terminal, nil otherwise.
func (app *App) displayer(e *env) *display.Displayer {
	if !app.IsTerminal(app.Out) || !display.IsTerminalSupported() {
		return nil
	}
	return display.New(app.Out, e.backend)
}

// controller builds a session controller reporting to the terminal and
// growing g, which should already hold history.
func (app *App) controller(ctx context.Context, e *env, g *graph.Builder, show bool) *session.Controller {
	var disp *display.Displayer
	if show {
		disp = app.displayer(e)
	}
	view := display.NewSessionView(ctx, app.Out, disp, e.log)
	return session.NewController(e.backend, g,
		session.WithStore(e.store),
		session.WithObserver(view),
		session.WithControllerLogger(e.log),
	)
}

// historyGraph loads history into a new graph. offline skips the server.
func (app *App) historyGraph(ctx context.Context, e *env, offline bool) (*graph.Builder, error) {
	g := graph.New(graph.WithLogger(e.log))
	if offline {
		records, err := e.store.ListRecords(ctx)
		if err != nil {
			return nil, err
		}
		g.Load(records)
		return g, nil
	}

	records, src, err := session.LoadHistory(ctx, e.backend, e.store, e.log)
	if err != nil {
		return nil, err
	}
	e.log.Debug("history loaded", "records", len(records), "source", src.String())
	g.Load(records)
	return g, nil
}

func (app *App) saver(e *env, dir string) (*image.Saver, error) {
	out, err := e.outputDir(dir)
	if err != nil {
		return nil, err
	}
	return image.NewSaver(e.backend, out), nil
}
