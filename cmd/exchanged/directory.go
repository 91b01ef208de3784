package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/AceTheNinja/bfx-challenge/transport/web"
)

func directoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "directory",
		Short: "Run the peer directory service",
		RunE:  runDirectory,
	}

	cmd.Flags().String("listen", "127.0.0.1:30001", "address to serve the directory on")
	cmd.Flags().Duration("ttl", 3*time.Second, "registration time-to-live; peers re-announce to stay resolvable")

	return cmd
}

func runDirectory(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	directory := web.NewDirectory(viper.GetDuration("ttl"))
	server := &http.Server{
		Addr:    viper.GetString("listen"),
		Handler: directory.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	cmd.Printf("directory listening on %s\n", server.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
