package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/manash/seedgraph/internal/config"
	"github.com/manash/seedgraph/internal/session"
	"github.com/manash/seedgraph/pkg/models"
)

func newFormCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "form",
		Short: "Manage the saved generation form",
		Long: `The form holds the parameters "generate" starts from. Fields:
  ` + strings.Join(models.FormFields(), ", "),
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print every saved field",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(app, func(ctx context.Context, store *session.Store) error {
					values, err := store.FormValues(ctx)
					if err != nil {
						return err
					}
					if len(values) == 0 {
						fmt.Fprintln(app.Out, "Form is empty")
						return nil
					}
					keys := make([]string, 0, len(values))
					for k := range values {
						keys = append(keys, k)
					}
					sort.Strings(keys)
					for _, k := range keys {
						fmt.Fprintf(app.Out, "%-17s %s\n", k, values[k])
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "set <field> <value>",
			Short: "Save one field",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				field, value := args[0], strings.Join(args[1:], " ")
				if err := models.NewRequest("").SetField(field, value); err != nil {
					return err
				}
				return withStore(app, func(ctx context.Context, store *session.Store) error {
					return store.SetFormValue(ctx, field, value)
				})
			},
		},
		&cobra.Command{
			Use:   "get <field>",
			Short: "Print one saved field",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if !models.IsFormField(args[0]) {
					return fmt.Errorf("%w: %s", models.ErrUnknownFormField, args[0])
				}
				return withStore(app, func(ctx context.Context, store *session.Store) error {
					value, err := store.GetFormValue(ctx, args[0])
					if err != nil {
						return err
					}
					fmt.Fprintln(app.Out, value)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Clear the form",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(app, func(ctx context.Context, store *session.Store) error {
					if err := store.ResetForm(ctx); err != nil {
						return err
					}
					fmt.Fprintln(app.Out, "Form cleared")
					return nil
				})
			},
		},
	)
	return cmd
}

// withStore opens only the local store, for commands that never reach the
// server.
func withStore(app *App, fn func(ctx context.Context, store *session.Store) error) error {
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
	store, err := app.OpenStore(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open local store: %w", err)
	}
	defer store.Close()
	return fn(context.Background(), store)
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change settings",
		Long: `Settings live in config.yaml in the platform config directory (override
with ` + config.EnvConfigDir + `). Keys: ` + strings.Join(config.Keys(), ", "),
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective settings",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigShow(app)
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Change one setting",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := app.Config.Set(args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(app.Out, "%s = %s\n", args[0], args[1])
				return nil
			},
		},
		&cobra.Command{
			Use:   "get <key>",
			Short: "Print one setting",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				value, err := app.Config.Get(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(app.Out, value)
				return nil
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file location",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				fmt.Fprintln(app.Out, app.Config.Path())
				return nil
			},
		},
	)
	return cmd
}

func runConfigShow(app *App) error {
	cfg, err := app.Config.Load()
	if err != nil {
		return err
	}

	serverURL, source := config.ResolveServerURL(flagURL, cfg)
	fmt.Fprintf(app.Out, "Config file: %s\n", app.Config.Path())
	fmt.Fprintf(app.Out, "server_url:  %s (%s)\n", serverURL, source)
	fmt.Fprintf(app.Out, "log_mode:    %s\n", cfg.LogModeOrDefault())
	fmt.Fprintf(app.Out, "verbose:     %t\n", cfg.Verbose)

	timeout := "default"
	if cfg.TimeoutSec > 0 {
		timeout = fmt.Sprintf("%ds", cfg.TimeoutSec)
	}
	fmt.Fprintf(app.Out, "timeout_sec: %s\n", timeout)

	for _, kv := range []struct {
		key, value string
		fallback   func() (string, error)
	}{
		{"db_path", cfg.DBPath, session.DefaultDBPath},
		{"output_dir", cfg.OutputDir, session.DefaultImageDir},
	} {
		value := kv.value
		if value == "" {
			v, err := kv.fallback()
			if err != nil {
				return err
			}
			value = v + " (default)"
		}
		fmt.Fprintf(app.Out, "%-12s %s\n", kv.key+":", value)
	}
	return nil
}
