package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fabfab/docspine/internal/ingest"
	"github.com/fabfab/docspine/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP query and ingest API",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		runIngest := func(ctx context.Context) (ingest.Result, error) {
			return ingest.Run(ctx, a.ingestOptions(), a.ingestDeps())
		}
		srv := server.New(a.cfg, a.retriever, a.refiner, a.files, runIngest, a.log)

		httpServer := &http.Server{
			Addr:    a.cfg.Address,
			Handler: srv,
		}

		a.log.Infow("starting server",
			"addr", a.cfg.Address,
			"data_dir", a.cfg.DataDir,
			"backend", a.cfg.Retrieval.Backend,
			"embedding_model", a.embedder.ModelID(),
		)

		errCh := make(chan error, 1)
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case <-quit:
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			a.log.Errorw("graceful shutdown failed", "err", err)
			return httpServer.Close()
		}

		a.log.Info("server stopped")
		return nil
	},
}
