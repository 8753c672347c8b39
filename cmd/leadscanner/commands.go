package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"LeadScanner/internal/app"
	"LeadScanner/internal/config"
	"LeadScanner/internal/domain"
	"LeadScanner/internal/logging"
)

// configFile overrides LEADSCANNER_CONFIG when set.
var configFile string

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "leadscanner",
		Short:         "Collect home-buyer leads from Reddit and route them to operators",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (default $LEADSCANNER_CONFIG)")

	keywords := &cobra.Command{
		Use:   "keywords",
		Short: "Manage the keyword lists",
	}
	keywords.AddCommand(newKeywordsImportCommand(), newKeywordsListCommand())

	root.AddCommand(newServeCommand(), newRunCommand(), keywords)
	return root
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the operator HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return withApp(ctx, func(a *app.Application, _ *slog.Logger) error {
				return a.Serve(ctx)
			})
		},
	}
}

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Execute one pipeline run and print its result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return withApp(ctx, func(a *app.Application, _ *slog.Logger) error {
				res := a.RunOnce(ctx)
				if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if res.Failed() {
					return fmt.Errorf("run %s failed: %s", res.RunID, res.Error)
				}
				return nil
			})
		},
	}
}

func newKeywordsImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Upsert keywords from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.Application, _ *slog.Logger) error {
				stats, err := a.ImportKeywords(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d primary, %d secondary, %d disabled\n",
					stats.Primary, stats.Secondary, stats.Disabled)
				return nil
			})
		},
	}
}

func newKeywordsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print every stored keyword",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app.Application, _ *slog.Logger) error {
				kws, err := a.Keywords(cmd.Context())
				if err != nil {
					return err
				}
				renderKeywords(cmd.OutOrStdout(), kws)
				return nil
			})
		},
	}
}

func withApp(ctx context.Context, fn func(*app.Application, *slog.Logger) error) error {
	if configFile != "" {
		if err := os.Setenv("LEADSCANNER_CONFIG", configFile); err != nil {
			return err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("close application", "error", err)
		}
	}()
	return fn(a, logger)
}

func renderKeywords(w io.Writer, kws []domain.Keyword) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Term", "Category", "Tenant", "Enabled"})
	for _, kw := range kws {
		t.AppendRow(table.Row{kw.Term, kw.Category, kw.TenantID, kw.Enabled})
	}
	t.AppendFooter(table.Row{"", "", "Total", len(kws)})
	t.Render()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
