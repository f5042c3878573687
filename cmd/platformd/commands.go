package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"platformd/backend/internal/httpapi/handlers"
	"platformd/backend/internal/httpapi/router"
	"platformd/backend/internal/reconcile"
)

func newServeCommand() *cobra.Command {
	var noReconcile bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the background reconciler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(!noReconcile)
		},
	}
	cmd.Flags().BoolVar(&noReconcile, "no-reconcile", false, "Do not poll active platforms in the background")
	return cmd
}

func serve(withReconcile bool) error {
	a, err := bootstrap(true)
	if err != nil {
		return err
	}
	defer a.close()

	events := handlers.NewEventsHandler(a.log)
	a.ctrl.OnStateChange(events.Publish)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var scheduler *reconcile.Scheduler
	if withReconcile {
		scheduler = reconcile.New(a.registry, a.ctrl, reconcile.Options{
			Interval:        a.cfg.ReconcileInterval,
			Workers:         a.cfg.ReconcileWorkers,
			ShutdownTimeout: a.cfg.ShutdownTimeout,
			Logger:          a.log,
		})
		scheduler.Start(ctx)
	}

	srv := &http.Server{
		Addr: fmt.Sprintf("%s:%d", a.cfg.Host, a.cfg.Port),
		Handler: router.New(router.Deps{
			DB:       a.db,
			Config:   a.cfg,
			Registry: a.registry,
			Ctrl:     a.ctrl,
			Codec:    a.codec,
			Resolver: a.resolver,
			Events:   events,
			Logger:   a.log,
		}),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		a.log.Info("server starting", "address", srv.Addr, "reconcile", withReconcile)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server stopped: %w", err)
		}
	case <-ctx.Done():
	}

	a.log.Info("shutting down server")
	if scheduler != nil {
		if err := scheduler.Stop(); err != nil {
			a.log.Warn("reconciler did not stop in time", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server forced to shutdown", "error", err)
		return err
	}
	a.log.Info("server exited gracefully")
	return nil
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(true)
			if err != nil {
				return err
			}
			defer a.close()
			a.log.Info("migration completed", "kinds", len(a.registry.Kinds()))
			return nil
		},
	}
}

func newReconcileCommand() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Poll active platforms without serving the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(false)
			if err != nil {
				return err
			}
			defer a.close()

			scheduler := reconcile.New(a.registry, a.ctrl, reconcile.Options{
				Interval:        a.cfg.ReconcileInterval,
				Workers:         a.cfg.ReconcileWorkers,
				ShutdownTimeout: a.cfg.ShutdownTimeout,
				Logger:          a.log,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if once {
				sum := scheduler.RunOnce(ctx)
				a.log.Info("reconcile pass finished", "polled", sum.Polled, "skipped", sum.Skipped, "failed", sum.Failed)
				if sum.Failed > 0 {
					return fmt.Errorf("%d platform poll(s) failed", sum.Failed)
				}
				return nil
			}

			scheduler.Start(ctx)
			<-ctx.Done()
			return scheduler.Stop()
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Run a single pass and exit")
	return cmd
}
