package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"tidbyt.dev/transit/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Tracks vehicles and serves the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  serve,
}

var listenAddr string

func init() {
	serveCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "Listen address (default from TRANSIT_LISTEN_ADDR, or :8080)")
	rootCmd.AddCommand(serveCmd)
}

func serve(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := a.cfg.ListenAddr
	if listenAddr != "" {
		addr = listenAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The reload loop retries, so a failed first load isn't fatal.
	err = a.engine.Load(ctx)
	if err != nil {
		a.logger.Error("initial load", "error", err)
	}

	srv := server.New(a.engine, a.metrics, a.logger, a.cfg.CORSOrigins)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.engine.Run(gctx, a.cfg.RefreshInterval)
	})
	g.Go(func() error {
		return srv.ListenAndServe(gctx, addr)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
