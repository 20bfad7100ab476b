// Command hyperjs serves JavaScript request handlers over HTTP.
//
// Subcommands:
//
//	serve   load every handler and serve HTTP until interrupted
//	routes  print the route table
//	check   load every handler into a scratch worker and report failures
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/cryguy/hyperjs/internal/app"
	"github.com/cryguy/hyperjs/internal/config"
	"github.com/cryguy/hyperjs/internal/engine"
	"github.com/cryguy/hyperjs/internal/routes"
)

const stopTimeout = 15 * time.Second

func main() {
	var configPath string
	root := &cobra.Command{
		Use:           "hyperjs",
		Short:         "Run JavaScript handlers behind an HTTP server",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("HYPERJS_CONFIG"),
		"path to a TOML config file (env HYPERJS_CONFIG)")

	root.AddCommand(
		serveCmd(&configPath),
		routesCmd(&configPath),
		checkCmd(&configPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "hyperjs:", err)
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Load the handlers and serve HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a := fx.New(app.Module(app.Options{ConfigPath: *configPath}))
			if err := a.Err(); err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				return err
			}

			var code int
			select {
			case <-ctx.Done():
			case sig := <-a.Wait():
				code = sig.ExitCode
			}

			stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			if err := a.Stop(stopCtx); err != nil {
				return err
			}
			if code != 0 {
				return fmt.Errorf("exited with code %d", code)
			}
			return nil
		},
	}
}

func routesCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Print the route table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			sources, err := routes.Discover(cfg.Handlers.Dir)
			if err != nil {
				return err
			}
			table, err := routes.Build(sources, zap.NewNop())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "METHOD\tPATH\tHANDLER")
			for _, rt := range table.Routes() {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", rt.Method, rt.Path, rt.Handler)
			}
			for _, name := range table.Unrouted() {
				fmt.Fprintf(tw, "-\t-\t%s\n", name)
			}
			for _, c := range table.Conflicts() {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s %s from %s replaced by %s\n", c.Method, c.Path, c.Replaced, c.By)
			}
			return tw.Flush()
		},
	}
}

func checkCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Load every handler and report the ones that fail",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			rep, err := app.Check(cmd.Context(), cfg, zap.NewNop())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "engine: %s\n", engine.Name)
			for _, r := range rep.Results {
				if r.Err != nil {
					fmt.Fprintf(out, "FAIL  %s: %v\n", r.Source.File, r.Err)
					continue
				}
				fmt.Fprintf(out, "ok    %s\n", r.Source.File)
			}
			if n := rep.Failed(); n > 0 {
				return errors.New(pluralize(n, "handler") + " failed to load")
			}
			return nil
		},
	}
}

func pluralize(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return fmt.Sprintf("%d %ss", n, word)
}
