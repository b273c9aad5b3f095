package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nyealovey/WhaleFall-sub003/pkg/handlers"
	"github.com/nyealovey/WhaleFall-sub003/pkg/middleware"
	"github.com/nyealovey/WhaleFall-sub003/pkg/services"
)

func newServeCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled syncs and aggregation, and serve health and metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cmd, version)
			if err != nil {
				return err
			}
			defer a.close()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	scheduler := services.NewScheduler(a.loc, a.logger)
	if err := a.registerJobs(scheduler); err != nil {
		return err
	}

	checks := map[string]handlers.Pinger{"database": a.db.Pool}
	if a.redis != nil {
		checks["redis"] = handlers.PingFunc(func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		})
	}

	mux := http.NewServeMux()
	handlers.NewHealthHandler(a.cfg.Version, a.cfg.Env, checks, a.logger).RegisterRoutes(mux)
	if a.cfg.Metrics.Enabled {
		mux.Handle("GET "+a.cfg.Metrics.Path, promhttp.Handler())
	}

	server := &http.Server{
		Addr:              a.cfg.Metrics.BindAddr,
		Handler:           middleware.RequestLogger(a.logger.Named("http"), "/healthz", "/readyz", a.cfg.Metrics.Path)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("Starting HTTP server", zap.String("addr", server.Addr), zap.String("version", a.cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	scheduler.Start(a.scope(ctx))

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("Shutting down")
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("http server failed: %w", err)
		}
	}

	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	return runErr
}

// registerJobs adds the batch sync and the daily aggregation. An empty
// schedule disables the job.
func (a *app) registerJobs(s *services.Scheduler) error {
	if a.cfg.Sync.Schedule != "" {
		if err := s.Add(services.Job{
			Name:     "account-sync",
			Schedule: a.cfg.Sync.Schedule,
			Run: func(ctx context.Context) error {
				summary, err := a.batch.SyncInstances(ctx, nil)
				if err != nil {
					return err
				}
				if summary.Failed > 0 {
					return fmt.Errorf("%d of %d instance syncs failed", summary.Failed, summary.Total)
				}
				return nil
			},
		}); err != nil {
			return err
		}
	}

	if a.cfg.Aggregation.Schedule != "" {
		if err := s.Add(services.Job{
			Name:     "daily-aggregation",
			Schedule: a.cfg.Aggregation.Schedule,
			Run: func(ctx context.Context) error {
				if _, err := a.aggregation.Aggregate(ctx, services.Today(a.loc)); err != nil {
					return err
				}
				_, err := a.classification.RefreshAutoAssignments(ctx)
				return err
			},
		}); err != nil {
			return err
		}
	}
	return nil
}
