package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xhad/docqa/server"
)

func serveCMD(flags *rootFlags) *cobra.Command {
	var addr string

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := server.New(a.pipeline, server.Config{
				MaxUploadMB: cfg.Server.MaxUploadMB,
				Streaming:   cfg.UI.Streaming,
			}, log)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start(cfg.Server.Addr) }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			log.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")

	return serve
}
