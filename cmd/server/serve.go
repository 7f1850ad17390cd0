package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/warp/tenant-ledger/api"
)

func serveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			handler := api.NewHandler(a.store,
				api.WithCommitTimeout(a.cnf.CommitTimeout()),
				api.WithCORSOrigins(a.cnf.Server.CORSOrigins),
			)
			router := api.NewRouter(handler)

			scheduler := api.NewPortfolioScheduler(a.store)
			scheduler.CheckInterval = a.cnf.MetricsRefresh()
			scheduler.Start()
			defer scheduler.Stop()

			server := &http.Server{
				Addr:         ":" + a.cnf.Server.Port,
				Handler:      router,
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 15 * time.Second + a.cnf.CommitTimeout(),
				IdleTimeout:  60 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logrus.WithFields(logrus.Fields{
					"port": a.cnf.Server.Port,
					"db":   a.cnf.DataSource.Path,
				}).Info("server starting")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err := <-errCh:
				if err != nil {
					return err
				}
			case <-quit:
			}

			logrus.Info("shutting down server")

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return err
			}

			logrus.Info("server stopped")
			return nil
		},
	}
}
