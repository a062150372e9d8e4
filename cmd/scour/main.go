package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/scourhq/scour/config"
	"github.com/scourhq/scour/internal/server"
	"github.com/scourhq/scour/internal/store"
	"github.com/scourhq/scour/internal/workflow"
)

func main() {
	var cfgPath string

	root := &cobra.Command{Use: "scour", Short: "Search aggregation service"}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file")

	var serveAddr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if serveAddr != "" {
				cfg.Server.Address = serveAddr
			}
			return runServe(cfg)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")

	var migDir string
	var direction string
	var steps int
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			return store.Migrate(migDir, cfg.Storage.Postgres.DSN(), direction, steps)
		},
	}
	migrate.Flags().StringVar(&migDir, "dir", "file://migrations", "migrations source")
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")

	var subQuestions []string
	search := &cobra.Command{
		Use:   "search [query]",
		Short: "Run one query end to end and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			return runSearch(cfg, strings.Join(args, " "), subQuestions)
		},
	}
	search.Flags().StringArrayVar(&subQuestions, "sub", nil, "sub-question to retrieve passages for (repeatable)")

	root.AddCommand(serve, migrate, search)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.reaper != nil {
		go a.reaper.Start(ctx)
	}

	e := server.New(server.Options{
		Driver:      a.driver,
		Events:      a.memory,
		Coordinator: a.coordinator,
		Registry:    a.registry,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := e.Start(cfg.Server.Address); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	a.logger.Printf("listening on %s", cfg.Server.Address)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case s := <-sig:
		a.logger.Printf("received %s, shutting down", s)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return e.Shutdown(shutdownCtx)
}

// runSearch executes a single run synchronously. A review suspension is
// resolved by accepting the suggested selection, so the command never hangs
// waiting for input.
func runSearch(cfg *config.Config, query string, subQuestions []string) error {
	ctx := context.Background()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	runID, err := a.driver.CreateRun(ctx, workflow.RunRequest{Query: query, SubQuestions: subQuestions})
	if err != nil {
		return err
	}
	if err := a.driver.Execute(ctx, runID); err != nil {
		return err
	}

	run, err := a.driver.Status(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status == store.StatusSuspended {
		if err := a.driver.Resume(ctx, runID, "", json.RawMessage(`{}`)); err != nil {
			return err
		}
		if run, err = a.driver.Status(ctx, runID); err != nil {
			return err
		}
	}
	if run.Status != store.StatusCompleted {
		return fmt.Errorf("run %s finished %s: %s", runID, run.Status, run.Error)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(json.RawMessage(run.Result))
}
